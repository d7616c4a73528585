package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"space-chat/internal/models"
)

type fakeLocal struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeLocal) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func eventType(payload []byte) string {
	var ev models.Event
	_ = json.Unmarshal(payload, &ev)
	return ev.Type
}

func (f *fakeLocal) DeliverRoom(roomID int, payload []byte) (int, int) {
	f.record("room %d %s", roomID, eventType(payload))
	return 1, 0
}

func (f *fakeLocal) DeliverUser(userID int, payload []byte) int {
	f.record("user %d %s", userID, eventType(payload))
	return 1
}

func (f *fakeLocal) DeliverAll(payload []byte) int {
	f.record("all %s", eventType(payload))
	return 1
}

func (f *fakeLocal) UnsubscribeUser(userID, roomID int) []string {
	f.record("unsubscribe %d %d", userID, roomID)
	return nil
}

func (f *fakeLocal) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type failingBus struct{ LocalBus }

func (b *failingBus) Name() string { return "failing" }

func (b *failingBus) Publish(ctx context.Context, env Envelope) error {
	return errors.New("broker down")
}

func TestBroadcasterLocalBusDeliversInOrder(t *testing.T) {
	local := &fakeLocal{}
	b := NewBroadcaster("node-a", local, NewLocalBus())
	require.NoError(t, b.Start(context.Background()))
	ctx := context.Background()

	require.NoError(t, b.ToRoom(ctx, 3, models.Event{Type: models.EventNewMessage, RoomID: 3}))
	require.NoError(t, b.ToUser(ctx, 8, models.Event{Type: models.EventRoleAssigned}))
	require.NoError(t, b.Evict(ctx, 3, 8, models.Event{Type: models.EventUserKicked, RoomID: 3}))
	require.NoError(t, b.ToAll(ctx, models.Event{Type: models.EventUserStatusChanged}))

	assert.Equal(t, []string{
		"room 3 new_message",
		"user 8 role_assigned",
		"unsubscribe 8 3",
		"user 8 user_kicked",
		"all user_status_changed",
	}, local.Calls())
}

func TestBroadcasterFallsBackLocallyWhenPublishFails(t *testing.T) {
	local := &fakeLocal{}
	b := NewBroadcaster("node-a", local, &failingBus{})

	err := b.ToRoom(context.Background(), 1, models.Event{Type: models.EventNewMessage})
	assert.Error(t, err)
	assert.Equal(t, []string{"room 1 new_message"}, local.Calls())
}

func TestBroadcasterAppliesRemoteEnvelopes(t *testing.T) {
	bus := NewLocalBus()
	nodeA, nodeB := &fakeLocal{}, &fakeLocal{}
	a := NewBroadcaster("a", nodeA, bus)
	require.NoError(t, a.Start(context.Background()))

	// a second node only needs to apply what arrives on the bus
	remote := NewBroadcaster("b", nodeB, bus)
	payload, err := json.Marshal(models.Event{Type: models.EventUserBanned})
	require.NoError(t, err)
	remote.apply(Envelope{Origin: "a", Kind: KindEvict, RoomID: 4, UserID: 2, Payload: payload})

	assert.Equal(t, []string{"unsubscribe 2 4", "user 2 user_banned"}, nodeB.Calls())
	assert.Empty(t, nodeA.Calls())
}
