package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSBus carries envelopes over a core NATS subject. Callbacks of one
// subscription run sequentially, which keeps per-publisher order.
type NATSBus struct {
	nc      *nats.Conn
	subject string
	sub     *nats.Subscription
}

// ConnectNATS dials NATS with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
}

// NewNATSBus returns a bus on subject.
func NewNATSBus(nc *nats.Conn, subject string) *NATSBus {
	return &NATSBus{nc: nc, subject: subject}
}

func (b *NATSBus) Name() string { return "nats" }

func (b *NATSBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, data)
}

func (b *NATSBus) Subscribe(ctx context.Context, handler Handler) error {
	logger := log.With().Str("module", "fanout").Str("driver", "nats").Str("subject", b.subject).Logger()
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed envelope")
			return
		}
		handler(env)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", b.subject, err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}
	b.sub = sub
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	logger.Info().Msg("fan-out subscribed")
	return nil
}

func (b *NATSBus) Close() error {
	if b.sub == nil {
		return nil
	}
	if err := b.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return err
	}
	return nil
}
