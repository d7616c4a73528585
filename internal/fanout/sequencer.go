package fanout

import (
	"sync"
	"time"
)

const maxPendingPerRoom = 256

// sequencer releases seq-tagged room envelopes in seq order. An envelope
// ahead of the expected seq is held until the gap fills, the window passes
// or too many are pending; then the gap is skipped. Late envelopes are
// released at once since nothing can be reordered against them.
type sequencer struct {
	mu      sync.Mutex
	window  time.Duration
	rooms   map[int]*roomQueue
	release func(Envelope)
}

type roomQueue struct {
	next    int64
	pending map[int64]Envelope
	timer   *time.Timer
}

func newSequencer(window time.Duration, release func(Envelope)) *sequencer {
	return &sequencer{window: window, rooms: make(map[int]*roomQueue), release: release}
}

// push is called for envelopes with Seq > 0. Release runs under the lock so
// a gap skipped by the timer never interleaves with a push.
func (s *sequencer) push(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.rooms[env.RoomID]
	if !ok {
		q = &roomQueue{next: env.Seq, pending: make(map[int64]Envelope)}
		s.rooms[env.RoomID] = q
	}
	switch {
	case env.Seq < q.next:
		s.release(env)
	case env.Seq == q.next:
		s.release(env)
		q.next++
		s.drain(q)
	default:
		q.pending[env.Seq] = env
		if len(q.pending) > maxPendingPerRoom {
			s.skipGap(q)
		}
	}
	s.arm(env.RoomID, q)
}

func (s *sequencer) drain(q *roomQueue) {
	for {
		env, ok := q.pending[q.next]
		if !ok {
			return
		}
		delete(q.pending, q.next)
		s.release(env)
		q.next++
	}
}

// skipGap moves next to the lowest pending seq and drains from there.
func (s *sequencer) skipGap(q *roomQueue) {
	if len(q.pending) == 0 {
		return
	}
	lowest := int64(-1)
	for seq := range q.pending {
		if lowest < 0 || seq < lowest {
			lowest = seq
		}
	}
	q.next = lowest
	s.drain(q)
}

func (s *sequencer) arm(roomID int, q *roomQueue) {
	if len(q.pending) == 0 {
		if q.timer != nil {
			q.timer.Stop()
			q.timer = nil
		}
		return
	}
	if q.timer != nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(s.window, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if q.timer != t {
			return
		}
		q.timer = nil
		s.skipGap(q)
		s.arm(roomID, q)
	})
	q.timer = t
}
