package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"space-chat/internal/apperrors"
	"space-chat/internal/fanout"
	"space-chat/internal/membership"
	"space-chat/internal/memstore"
	"space-chat/internal/mocks"
	"space-chat/internal/models"
	"space-chat/internal/permissions"
	"space-chat/internal/ratelimit"
	"space-chat/internal/repositories"
	"space-chat/internal/roomlock"
	"space-chat/internal/ws"
)

const (
	owner = 1
	alice = 2
	bob   = 3
)

var (
	aliceID = models.Identity{UserID: alice, Username: "alice"}
	bobID   = models.Identity{UserID: bob, Username: "bob"}
)

type harness struct {
	store   *memstore.Store
	reg     *ws.Registry
	members *membership.Service
	svc     *Service
	space   models.Space
}

type option func(*Stores, **ratelimit.Limiter)

func withMessages(repo repositories.MessageRepository) option {
	return func(s *Stores, _ **ratelimit.Limiter) { s.Messages = repo }
}

func withLimiter(l *ratelimit.Limiter) option {
	return func(_ *Stores, rl **ratelimit.Limiter) { *rl = l }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	reg := ws.NewRegistry()
	bc := fanout.NewBroadcaster("test", reg, fanout.NewLocalBus())
	require.NoError(t, bc.Start(ctx))

	perms := permissions.NewEvaluator(store, store)
	locks := roomlock.New()
	stores := Stores{Rooms: store, Spaces: store, Messages: store, Reactions: store}
	var limiter *ratelimit.Limiter
	for _, opt := range opts {
		opt(&stores, &limiter)
	}

	space, err := store.CreateSpace(ctx, repositories.NewSpace{AdminID: owner, Name: "space", Roles: permissions.Presets()})
	require.NoError(t, err)
	return &harness{
		store:   store,
		reg:     reg,
		members: membership.NewService(store, store, store, perms, reg, bc, locks),
		svc:     NewService(stores, perms, bc, locks, limiter, 0),
		space:   space,
	}
}

// join registers a live session for userID and joins the space room with it.
func (h *harness) join(t *testing.T, userID int) *mocks.OutboundRecorder {
	t.Helper()
	connID := uuid.NewString()
	rec := mocks.NewOutboundRecorder()
	_, err := h.reg.Register(connID, models.Identity{UserID: userID}, rec)
	require.NoError(t, err)
	_, err = h.members.Join(context.Background(), userID, h.space.RoomID, connID)
	require.NoError(t, err)
	rec.Reset()
	return rec
}

func (h *harness) assignRole(t *testing.T, userID int, name string) {
	t.Helper()
	ctx := context.Background()
	roles, err := h.store.ListRoles(ctx, h.space.ID)
	require.NoError(t, err)
	for _, r := range roles {
		if r.Name == name {
			require.NoError(t, h.store.AssignRole(ctx, userID, h.space.ID, r.ID))
			return
		}
	}
	t.Fatalf("role %q not found", name)
}

func messageIDs(t *testing.T, rec *mocks.OutboundRecorder) []int {
	t.Helper()
	var ids []int
	for _, ev := range rec.OfType(models.EventNewMessage) {
		var p models.NewMessagePayload
		require.NoError(t, json.Unmarshal(ev.Data, &p))
		ids = append(ids, p.ID)
	}
	return ids
}

func TestSendBroadcastsToSubscribers(t *testing.T) {
	h := newHarness(t)
	ownerRec := h.join(t, owner)
	aliceRec := h.join(t, alice)

	msg, err := h.svc.Send(context.Background(), aliceID, h.space.RoomID, "hello", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, models.MessageText, msg.Type)

	for _, rec := range []*mocks.OutboundRecorder{ownerRec, aliceRec} {
		events := rec.OfType(models.EventNewMessage)
		require.Len(t, events, 1)
		assert.Equal(t, h.space.RoomID, events[0].RoomID)

		var p models.NewMessagePayload
		require.NoError(t, json.Unmarshal(events[0].Data, &p))
		assert.Equal(t, "hello", p.Content)
		assert.Equal(t, "alice", p.Author.Username)
	}
}

func TestSendRejectsBadInputBeforeAnyWrite(t *testing.T) {
	h := newHarness(t)
	h.join(t, alice)
	ctx := context.Background()

	cases := []struct {
		name, content, msgType string
	}{
		{"empty", "", models.MessageText},
		{"blank", "   \n", models.MessageText},
		{"too long", strings.Repeat("я", DefaultMaxLength+1), models.MessageText},
		{"unknown type", "hi", "hologram"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Send(ctx, aliceID, h.space.RoomID, tc.content, tc.msgType)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}

	_, err := h.svc.Send(ctx, aliceID, h.space.RoomID, strings.Repeat("я", DefaultMaxLength), models.MessageText)
	assert.NoError(t, err)
	msgs, err := h.store.ListMessages(ctx, h.space.RoomID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestKickedUserCannotSend(t *testing.T) {
	h := newHarness(t)
	h.join(t, alice)
	ctx := context.Background()

	_, err := h.members.Kick(ctx, alice, h.space.RoomID, owner)
	require.NoError(t, err)

	_, err = h.svc.Send(ctx, aliceID, h.space.RoomID, "still here?", models.MessageText)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	msgs, err := h.store.ListMessages(ctx, h.space.RoomID, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestBanVetoesActiveMember(t *testing.T) {
	h := newHarness(t)
	h.join(t, alice)
	ctx := context.Background()

	// a ban row without eviction, as left behind by a concurrent writer
	_, err := h.store.BanUser(ctx, models.Ban{UserID: alice, SpaceID: h.space.ID, BannedBy: owner}, 0)
	require.NoError(t, err)

	_, err = h.svc.Send(ctx, aliceID, h.space.RoomID, "hi", models.MessageText)
	assert.ErrorIs(t, err, apperrors.ErrBanned)
}

func TestSendRequiresCapabilityForType(t *testing.T) {
	h := newHarness(t)
	h.join(t, alice)
	ctx := context.Background()

	_, err := h.svc.Send(ctx, aliceID, h.space.RoomID, "https://img", models.MessageImage)
	require.NoError(t, err)

	h.assignRole(t, alice, "Restricted")
	_, err = h.svc.Send(ctx, aliceID, h.space.RoomID, "hi", models.MessageText)
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestPersistFailureAbortsBroadcast(t *testing.T) {
	repo := &mocks.MessageRepositoryMock{}
	repo.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	h := newHarness(t, withMessages(repo))
	ownerRec := h.join(t, owner)
	h.join(t, alice)

	_, err := h.svc.Send(context.Background(), aliceID, h.space.RoomID, "hello", models.MessageText)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Equal(t, "temporarily unavailable, retry later", apperrors.PublicMessage(err))
	assert.Empty(t, ownerRec.OfType(models.EventNewMessage))
	repo.AssertExpectations(t)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, withLimiter(ratelimit.New(2, time.Minute)))
	h.join(t, alice)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.svc.Send(ctx, aliceID, h.space.RoomID, "hi", models.MessageText)
		require.NoError(t, err)
	}
	_, err := h.svc.Send(ctx, aliceID, h.space.RoomID, "hi", models.MessageText)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestRejectedAttemptsDoNotSpendRateLimit(t *testing.T) {
	h := newHarness(t, withLimiter(ratelimit.New(2, time.Minute)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.svc.Send(ctx, bobID, h.space.RoomID, "let me in", models.MessageText)
		require.ErrorIs(t, err, apperrors.ErrNotParticipant)
	}

	h.join(t, bob)
	for i := 0; i < 2; i++ {
		_, err := h.svc.Send(ctx, bobID, h.space.RoomID, "hi", models.MessageText)
		require.NoError(t, err)
	}
	_, err := h.svc.Send(ctx, bobID, h.space.RoomID, "hi", models.MessageText)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestConcurrentSendsShareOneOrder(t *testing.T) {
	h := newHarness(t)
	first := h.join(t, owner)
	second := h.join(t, owner)
	h.join(t, alice)
	h.join(t, bob)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, author := range []models.Identity{aliceID, bobID} {
		wg.Add(1)
		go func(id models.Identity) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := h.svc.Send(ctx, id, h.space.RoomID, fmt.Sprintf("%s %d", id.Username, i), models.MessageText)
				assert.NoError(t, err)
			}
		}(author)
	}
	wg.Wait()

	a, b := messageIDs(t, first), messageIDs(t, second)
	require.Len(t, a, 50)
	assert.Equal(t, a, b)

	stored, err := h.store.ListMessages(ctx, h.space.RoomID, 100, 0)
	require.NoError(t, err)
	persisted := make([]int, len(stored))
	for i, m := range stored {
		persisted[i] = m.ID
	}
	assert.Equal(t, persisted, a)
}

func TestReactToggle(t *testing.T) {
	h := newHarness(t)
	ownerRec := h.join(t, owner)
	h.join(t, alice)
	ctx := context.Background()
	msg, err := h.svc.Send(ctx, aliceID, h.space.RoomID, "vote", models.MessageText)
	require.NoError(t, err)

	counts, err := h.svc.React(ctx, aliceID, msg.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, []models.ReactionCount{{Reaction: "👍", Count: 1}}, counts)

	counts, err = h.svc.React(ctx, aliceID, msg.ID, "👍")
	require.NoError(t, err)
	assert.Empty(t, counts)
	assert.Len(t, ownerRec.OfType(models.EventReactionUpdated), 2)

	_, err = h.svc.React(ctx, aliceID, msg.ID, " ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = h.svc.React(ctx, aliceID, 4242, "👍")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = h.svc.React(ctx, bobID, msg.ID, "👍")
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
}

func TestEditOwnMessageOnly(t *testing.T) {
	h := newHarness(t)
	ownerRec := h.join(t, owner)
	h.join(t, alice)
	h.join(t, bob)
	ctx := context.Background()
	msg, err := h.svc.Send(ctx, aliceID, h.space.RoomID, "typo", models.MessageText)
	require.NoError(t, err)

	_, err = h.svc.Edit(ctx, bobID, msg.ID, "hijack")
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	edited, err := h.svc.Edit(ctx, aliceID, msg.ID, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	assert.NotNil(t, edited.EditedAt)
	assert.Len(t, ownerRec.OfType(models.EventMessageEdited), 1)
}

func TestDeletePermissions(t *testing.T) {
	h := newHarness(t)
	ownerRec := h.join(t, owner)
	h.join(t, alice)
	h.join(t, bob)
	ctx := context.Background()
	first, err := h.svc.Send(ctx, aliceID, h.space.RoomID, "one", models.MessageText)
	require.NoError(t, err)
	second, err := h.svc.Send(ctx, aliceID, h.space.RoomID, "two", models.MessageText)
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.Delete(ctx, bobID, first.ID), apperrors.ErrPermissionDenied)
	require.NoError(t, h.svc.Delete(ctx, aliceID, first.ID))

	h.assignRole(t, bob, "Moderator")
	require.NoError(t, h.svc.Delete(ctx, bobID, second.ID))
	assert.Len(t, ownerRec.OfType(models.EventMessageDeleted), 2)

	assert.ErrorIs(t, h.svc.Delete(ctx, aliceID, first.ID), apperrors.ErrNotFound)
	_, err = h.svc.React(ctx, aliceID, second.ID, "👍")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	msgs, err := h.svc.History(ctx, alice, h.space.RoomID, "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHistory(t *testing.T) {
	h := newHarness(t)
	h.join(t, alice)
	ctx := context.Background()
	for _, text := range []string{"alpha", "beta", "gamma"} {
		_, err := h.svc.Send(ctx, aliceID, h.space.RoomID, text, models.MessageText)
		require.NoError(t, err)
	}

	msgs, err := h.svc.History(ctx, alice, h.space.RoomID, "", 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "beta", msgs[0].Content)
	assert.Equal(t, "gamma", msgs[1].Content)

	msgs, err = h.svc.History(ctx, alice, h.space.RoomID, "AMM", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "gamma", msgs[0].Content)

	_, err = h.svc.History(ctx, alice, h.space.RoomID, "", MaxPageSize+1, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = h.svc.History(ctx, alice, h.space.RoomID, "", 10, -1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = h.svc.History(ctx, bob, h.space.RoomID, "", 10, 0)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
}

func TestPrivateRoomSkipsSpaceGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room, err := h.members.OpenPrivateRoom(ctx, alice, bob)
	require.NoError(t, err)

	_, err = h.svc.Send(ctx, aliceID, room.ID, "psst", models.MessageText)
	require.NoError(t, err)
	_, err = h.svc.Send(ctx, models.Identity{UserID: owner}, room.ID, "me too", models.MessageText)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	msg, err := h.svc.Send(ctx, bobID, room.ID, "hi", models.MessageText)
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.Delete(ctx, aliceID, msg.ID), apperrors.ErrPermissionDenied)
}
