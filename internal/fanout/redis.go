package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBus carries envelopes over a Redis pub/sub channel.
type RedisBus struct {
	client  *redis.Client
	channel string
	sub     *redis.PubSub
}

// NewRedisBus returns a bus on channel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	return &RedisBus{client: client, channel: channel}
}

func (b *RedisBus) Name() string { return "redis" }

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	// wait for the subscribe confirmation so no publish after Start is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}
	b.sub = sub

	logger := log.With().Str("module", "fanout").Str("driver", "redis").Str("channel", b.channel).Logger()
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logger.Warn().Err(err).Msg("dropping malformed envelope")
					continue
				}
				handler(env)
			}
		}
	}()
	logger.Info().Msg("fan-out subscribed")
	return nil
}

func (b *RedisBus) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Close()
}
