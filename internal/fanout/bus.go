// Package fanout propagates room broadcasts, user notifications and
// evictions to every node that holds live sessions.
package fanout

import (
	"context"
	"encoding/json"
	"sync"
)

// Kind selects how a node applies an envelope to its local sessions.
type Kind string

const (
	KindRoom  Kind = "room"
	KindUser  Kind = "user"
	KindEvict Kind = "evict"
	KindAll   Kind = "all"
)

// Envelope is the unit carried on the bus. Payload is an encoded server event.
// Seq is the room sequence of a new_message, zero for every other event.
type Envelope struct {
	Origin  string          `json:"origin"`
	Kind    Kind            `json:"kind"`
	RoomID  int             `json:"room_id,omitempty"`
	UserID  int             `json:"user_id,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler applies an envelope on this node.
type Handler func(Envelope)

// Bus is a pub/sub transport. Every node, the publisher included, receives
// each envelope, in publish order per publisher.
type Bus interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers handler and returns once the subscription is live.
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

// LocalBus is the single-process bus. Publish applies the envelope inline.
type LocalBus struct {
	mu      sync.RWMutex
	handler Handler
}

// NewLocalBus returns a LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Name() string { return "local" }

func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h != nil {
		h(env)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.handler = nil
	b.mu.Unlock()
	return nil
}
