package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"space-chat/internal/models"
)

type released struct {
	mu   sync.Mutex
	seqs []int64
}

func (r *released) add(env Envelope) {
	r.mu.Lock()
	r.seqs = append(r.seqs, env.Seq)
	r.mu.Unlock()
}

func (r *released) get() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.seqs...)
}

func TestSequencerReordersWithinWindow(t *testing.T) {
	out := &released{}
	s := newSequencer(time.Minute, out.add)

	s.push(Envelope{RoomID: 1, Seq: 10})
	s.push(Envelope{RoomID: 1, Seq: 12})
	s.push(Envelope{RoomID: 2, Seq: 3})
	assert.Equal(t, []int64{10, 3}, out.get())

	s.push(Envelope{RoomID: 1, Seq: 11})
	assert.Equal(t, []int64{10, 3, 11, 12}, out.get())

	// late arrivals are not held back
	s.push(Envelope{RoomID: 1, Seq: 9})
	assert.Equal(t, []int64{10, 3, 11, 12, 9}, out.get())
}

func TestSequencerSkipsGapAfterWindow(t *testing.T) {
	out := &released{}
	s := newSequencer(50*time.Millisecond, out.add)

	s.push(Envelope{RoomID: 1, Seq: 1})
	s.push(Envelope{RoomID: 1, Seq: 4})
	s.push(Envelope{RoomID: 1, Seq: 3})
	assert.Equal(t, []int64{1}, out.get())

	assert.Eventually(t, func() bool {
		return len(out.get()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 3, 4}, out.get())

	s.push(Envelope{RoomID: 1, Seq: 5})
	assert.Equal(t, []int64{1, 3, 4, 5}, out.get())
}

func TestSequencerBoundsPending(t *testing.T) {
	out := &released{}
	s := newSequencer(time.Minute, out.add)

	s.push(Envelope{RoomID: 1, Seq: 1})
	for seq := int64(3); seq <= maxPendingPerRoom+3; seq++ {
		s.push(Envelope{RoomID: 1, Seq: seq})
	}
	got := out.get()
	require.Len(t, got, maxPendingPerRoom+2)
	assert.Equal(t, int64(3), got[1])
}

type seqLocal struct {
	fakeLocal
	out released
}

func (l *seqLocal) DeliverRoom(roomID int, payload []byte) (int, int) {
	var ev struct {
		Data models.Message `json:"data"`
	}
	_ = json.Unmarshal(payload, &ev)
	l.out.add(Envelope{RoomID: roomID, Seq: ev.Data.Seq})
	return 1, 0
}

func TestBroadcasterOrdersRoomMessagesBySeq(t *testing.T) {
	ctx := context.Background()
	local := &seqLocal{}
	b := NewBroadcaster("node-a", local, NewLocalBus()).WithReorderWindow(time.Minute)
	require.NoError(t, b.Start(ctx))

	send := func(seq int64) {
		require.NoError(t, b.ToRoom(ctx, 7, models.Event{
			Type:   models.EventNewMessage,
			RoomID: 7,
			Data:   models.NewMessagePayload{Message: models.Message{ID: int(seq), RoomID: 7, Seq: seq}},
		}))
	}
	send(1)
	send(3)
	send(2)
	require.NoError(t, b.ToRoom(ctx, 7, models.Event{Type: models.EventUserJoined, RoomID: 7}))

	// unsequenced events pass straight through
	assert.Equal(t, []int64{1, 2, 3, 0}, local.out.get())
}
