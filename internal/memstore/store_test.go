package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"space-chat/internal/apperrors"
	"space-chat/internal/models"
	"space-chat/internal/repositories"
)

func seededSpace(t *testing.T, s *Store) models.Space {
	t.Helper()
	space, err := s.CreateSpace(context.Background(), repositories.NewSpace{
		AdminID: 1,
		Name:    "s",
		Roles: []models.Role{
			{Name: "Owner", Priority: 100, IsSystem: true},
			{Name: "Member", Priority: 10, IsSystem: true, IsDefault: true},
		},
	})
	require.NoError(t, err)
	return space
}

func TestCreateSpaceSeedsAdmin(t *testing.T) {
	s := New()
	space := seededSpace(t, s)
	ctx := context.Background()

	active, err := s.IsActiveMember(ctx, space.RoomID, 1)
	require.NoError(t, err)
	assert.True(t, active)

	role, err := s.GetAssignedRole(ctx, 1, space.ID)
	require.NoError(t, err)
	assert.Equal(t, "Owner", role.Name)

	def, err := s.GetDefaultRole(ctx, space.ID)
	require.NoError(t, err)
	assert.Equal(t, "Member", def.Name)

	room, err := s.GetRoom(ctx, space.RoomID)
	require.NoError(t, err)
	require.NotNil(t, room.SpaceID)
	assert.Equal(t, space.ID, *room.SpaceID)
}

func TestListActiveMatchesParticipants(t *testing.T) {
	s := New()
	space := seededSpace(t, s)
	ctx := context.Background()
	room := space.RoomID

	for _, u := range []int{2, 3, 4} {
		_, changed, err := s.ActivateParticipant(ctx, room, u)
		require.NoError(t, err)
		assert.True(t, changed)
	}
	_, changed, err := s.ActivateParticipant(ctx, room, 2)
	require.NoError(t, err)
	assert.False(t, changed)

	ok, err := s.DeactivateParticipant(ctx, room, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeactivateParticipant(ctx, room, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := s.ListActive(ctx, room)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 4}, ids)

	p, err := s.GetParticipant(ctx, room, 3)
	require.NoError(t, err)
	assert.False(t, p.Active)
}

func TestPrivateRoomIsUniquePerPair(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.CreateOrGetPrivateRoom(ctx, 5, 9)
	require.NoError(t, err)
	b, err := s.CreateOrGetPrivateRoom(ctx, 9, 5)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, models.RoomPrivate, a.Kind)
	assert.True(t, a.IsPrivateMember(5))
	assert.False(t, a.IsPrivateMember(6))

	_, err = s.CreateOrGetPrivateRoom(ctx, 5, 5)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestMessagesSequencedAndPaged(t *testing.T) {
	s := New()
	space := seededSpace(t, s)
	ctx := context.Background()

	var last models.Message
	for i := 1; i <= 5; i++ {
		msg, err := s.CreateMessage(ctx, models.Message{RoomID: space.RoomID, UserID: 1, Content: fmt.Sprintf("hello %d", i), Type: models.MessageText})
		require.NoError(t, err)
		assert.Equal(t, int64(i), msg.Seq)
		last = msg
	}
	require.NoError(t, s.MarkMessageDeleted(ctx, last.ID))

	page, err := s.ListMessages(ctx, space.RoomID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "hello 3", page[0].Content)
	assert.Equal(t, "hello 4", page[1].Content)

	page, err = s.ListMessages(ctx, space.RoomID, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	found, err := s.SearchMessages(ctx, space.RoomID, "HELLO 2", 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(2), found[0].Seq)

	_, err = s.UpdateMessageContent(ctx, last.ID, "edited")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConcurrentSeqIsTotal(t *testing.T) {
	s := New()
	space := seededSpace(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateMessage(ctx, models.Message{RoomID: space.RoomID, UserID: 1, Content: "x", Type: models.MessageText})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	page, err := s.ListMessages(ctx, space.RoomID, 100, 0)
	require.NoError(t, err)
	require.Len(t, page, 50)
	for i, m := range page {
		assert.Equal(t, int64(i+1), m.Seq)
	}
}

func TestToggleReaction(t *testing.T) {
	s := New()
	space := seededSpace(t, s)
	ctx := context.Background()
	msg, err := s.CreateMessage(ctx, models.Message{RoomID: space.RoomID, UserID: 1, Content: "hi", Type: models.MessageText})
	require.NoError(t, err)

	got, err := s.ToggleReaction(ctx, msg.ID, 1, "👍")
	require.NoError(t, err)
	assert.Equal(t, "👍", got)
	_, err = s.ToggleReaction(ctx, msg.ID, 2, "👍")
	require.NoError(t, err)

	got, err = s.ToggleReaction(ctx, msg.ID, 1, "🎉")
	require.NoError(t, err)
	assert.Equal(t, "🎉", got)

	counts, err := s.CountReactions(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.ReactionCount{{Reaction: "🎉", Count: 1}, {Reaction: "👍", Count: 1}}, counts)

	got, err = s.ToggleReaction(ctx, msg.ID, 1, "🎉")
	require.NoError(t, err)
	assert.Equal(t, "", got)
	counts, err = s.CountReactions(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.ReactionCount{{Reaction: "👍", Count: 1}}, counts)
}

func TestOneRolePerSpace(t *testing.T) {
	s := New()
	space := seededSpace(t, s)
	ctx := context.Background()
	helper, err := s.CreateRole(ctx, models.Role{SpaceID: space.ID, Name: "Helper", Priority: 20})
	require.NoError(t, err)
	def, err := s.GetDefaultRole(ctx, space.ID)
	require.NoError(t, err)

	require.NoError(t, s.AssignRoleIfAbsent(ctx, 7, space.ID, def.ID))
	require.NoError(t, s.AssignRole(ctx, 7, space.ID, helper.ID))
	require.NoError(t, s.AssignRoleIfAbsent(ctx, 7, space.ID, def.ID))

	assigned := s.Assignments(7)
	require.Len(t, assigned, 1)
	assert.Equal(t, helper.ID, assigned[0].RoleID)

	require.NoError(t, s.DeleteRole(ctx, helper.ID))
	assert.Empty(t, s.Assignments(7))
}

func TestBansByExpiry(t *testing.T) {
	s := New()
	space := seededSpace(t, s)
	ctx := context.Background()
	_, _, err := s.ActivateParticipant(ctx, space.RoomID, 3)
	require.NoError(t, err)

	ban, err := s.BanUser(ctx, models.Ban{UserID: 3, SpaceID: space.ID, BannedBy: 1}, space.RoomID)
	require.NoError(t, err)
	assert.NotZero(t, ban.ID)

	active, err := s.IsActiveMember(ctx, space.RoomID, 3)
	require.NoError(t, err)
	assert.False(t, active)

	_, err = s.ActiveBan(ctx, 3, space.ID, s.now())
	assert.NoError(t, err)

	n, err := s.DeleteBans(ctx, 3, space.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.ActiveBan(ctx, 3, space.ID, s.now())
	assert.ErrorIs(t, err, repositories.ErrBanNotFound)
}

func TestListSpacesForUser(t *testing.T) {
	s := New()
	space := seededSpace(t, s)
	ctx := context.Background()

	spaces, err := s.ListSpacesForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, spaces, 1)
	assert.Equal(t, space.ID, spaces[0].ID)

	spaces, err = s.ListSpacesForUser(ctx, 99)
	require.NoError(t, err)
	assert.NotNil(t, spaces)
	assert.Empty(t, spaces)
}
