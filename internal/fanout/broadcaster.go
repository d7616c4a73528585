package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"space-chat/internal/models"
	"space-chat/internal/observability"
)

// Local is the node's session registry as seen by the broadcaster.
type Local interface {
	DeliverRoom(roomID int, payload []byte) (delivered, dropped int)
	DeliverUser(userID int, payload []byte) int
	DeliverAll(payload []byte) int
	UnsubscribeUser(userID, roomID int) []string
}

// Broadcaster publishes events on the bus and applies received envelopes to
// local sessions. Local sessions are reached through the bus too, so every
// node sees one room's events in the same order.
type Broadcaster struct {
	nodeID string
	local  Local
	bus    Bus
	seq    *sequencer
	logger zerolog.Logger
}

// NewBroadcaster wires a registry to a bus.
func NewBroadcaster(nodeID string, local Local, bus Bus) *Broadcaster {
	return &Broadcaster{
		nodeID: nodeID,
		local:  local,
		bus:    bus,
		logger: log.With().Str("module", "fanout").Str("driver", bus.Name()).Logger(),
	}
}

// WithReorderWindow makes new_message envelopes of one room apply in seq
// order even when publishers on several nodes race. A zero window disables it.
// It must be called before Start.
func (b *Broadcaster) WithReorderWindow(window time.Duration) *Broadcaster {
	if window > 0 {
		b.seq = newSequencer(window, b.deliverRoom)
	} else {
		b.seq = nil
	}
	return b
}

// Start subscribes to the bus. It returns once envelopes are being received.
func (b *Broadcaster) Start(ctx context.Context) error {
	return b.bus.Subscribe(ctx, b.apply)
}

// ToRoom delivers ev to every session subscribed to roomID.
func (b *Broadcaster) ToRoom(ctx context.Context, roomID int, ev models.Event) error {
	env := Envelope{Kind: KindRoom, RoomID: roomID}
	if msg, ok := ev.Data.(models.NewMessagePayload); ok && ev.Type == models.EventNewMessage {
		env.Seq = msg.Seq
	}
	return b.publish(ctx, env, ev)
}

// ToUser delivers ev to every session of userID.
func (b *Broadcaster) ToUser(ctx context.Context, userID int, ev models.Event) error {
	return b.publish(ctx, Envelope{Kind: KindUser, UserID: userID}, ev)
}

// Evict unsubscribes every session of userID from roomID and then delivers ev to them.
func (b *Broadcaster) Evict(ctx context.Context, roomID, userID int, ev models.Event) error {
	return b.publish(ctx, Envelope{Kind: KindEvict, RoomID: roomID, UserID: userID}, ev)
}

// ToAll delivers ev to every live session.
func (b *Broadcaster) ToAll(ctx context.Context, ev models.Event) error {
	return b.publish(ctx, Envelope{Kind: KindAll}, ev)
}

func (b *Broadcaster) publish(ctx context.Context, env Envelope, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	env.Origin = b.nodeID
	env.Payload = payload
	if err := b.bus.Publish(ctx, env); err != nil {
		observability.IncFanoutPublishError(b.bus.Name())
		b.logger.Warn().Err(err).Str("kind", string(env.Kind)).Str("event", ev.Type).Msg("fan-out publish failed, delivering locally only")
		b.apply(env)
		return fmt.Errorf("fanout publish: %w", err)
	}
	return nil
}

func (b *Broadcaster) apply(env Envelope) {
	switch env.Kind {
	case KindRoom:
		if b.seq != nil && env.Seq > 0 {
			b.seq.push(env)
			return
		}
		b.deliverRoom(env)
	case KindUser:
		b.local.DeliverUser(env.UserID, env.Payload)
	case KindEvict:
		b.local.UnsubscribeUser(env.UserID, env.RoomID)
		if len(env.Payload) > 0 {
			b.local.DeliverUser(env.UserID, env.Payload)
		}
	case KindAll:
		b.local.DeliverAll(env.Payload)
	default:
		b.logger.Warn().Str("kind", string(env.Kind)).Str("origin", env.Origin).Msg("unknown envelope kind")
	}
}

func (b *Broadcaster) deliverRoom(env Envelope) {
	b.local.DeliverRoom(env.RoomID, env.Payload)
}
