package mocks

import (
	"encoding/json"
	"errors"
	"sync"
)

var ErrRecorderClosed = errors.New("recorder closed")

// RecordedEvent is a delivered server frame with its data left encoded.
type RecordedEvent struct {
	Type   string          `json:"type"`
	RoomID int             `json:"room_id"`
	Data   json.RawMessage `json:"data"`
}

// OutboundRecorder is an in-memory live connection that keeps every frame.
type OutboundRecorder struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	code   int
	fail   error
}

func NewOutboundRecorder() *OutboundRecorder {
	return &OutboundRecorder{}
}

// FailWith makes every later Send return err.
func (r *OutboundRecorder) FailWith(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

func (r *OutboundRecorder) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	if r.fail != nil {
		return r.fail
	}
	r.frames = append(r.frames, append([]byte(nil), payload...))
	return nil
}

func (r *OutboundRecorder) Close(code int, reason string) {
	r.mu.Lock()
	r.closed = true
	r.code = code
	r.mu.Unlock()
}

func (r *OutboundRecorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *OutboundRecorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEvent, 0, len(r.frames))
	for _, f := range r.frames {
		var ev RecordedEvent
		if err := json.Unmarshal(f, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

// Types returns the event types in delivery order.
func (r *OutboundRecorder) Types() []string {
	events := r.Events()
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

// OfType returns the delivered events of one type.
func (r *OutboundRecorder) OfType(eventType string) []RecordedEvent {
	var out []RecordedEvent
	for _, ev := range r.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *OutboundRecorder) Reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}
