package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"space-chat/internal/apperrors"
	"space-chat/internal/memstore"
	"space-chat/internal/models"
	"space-chat/internal/repositories"
)

const (
	owner = 1
	alice = 2
)

func newSpace(t *testing.T) (*memstore.Store, *Evaluator, models.Space) {
	t.Helper()
	store := memstore.New()
	space, err := store.CreateSpace(context.Background(), repositories.NewSpace{AdminID: owner, Name: "s", Roles: Presets()})
	require.NoError(t, err)
	return store, NewEvaluator(store, store), space
}

func roleByName(t *testing.T, store *memstore.Store, spaceID int, name string) models.Role {
	t.Helper()
	roles, err := store.ListRoles(context.Background(), spaceID)
	require.NoError(t, err)
	for _, r := range roles {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("role %q not found", name)
	return models.Role{}
}

func TestSpaceAdminTierBeforeRoles(t *testing.T) {
	store, ev, space := newSpace(t)
	restricted := roleByName(t, store, space.ID, "Restricted")
	require.NoError(t, store.AssignRole(context.Background(), owner, space.ID, restricted.ID))

	d, err := ev.Evaluate(context.Background(), owner, space, models.PermBanMembers)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonSpaceAdmin, d.Reason)
}

func TestDefaultRoleAssignedLazily(t *testing.T) {
	store, ev, space := newSpace(t)
	assert.Empty(t, store.Assignments(alice))

	auth, err := ev.Authority(context.Background(), alice, space)
	require.NoError(t, err)
	assert.Equal(t, "Member", auth.Role.Name)
	assert.Equal(t, MemberPriority, auth.Priority())
	require.Len(t, store.Assignments(alice), 1)

	_, err = ev.Authority(context.Background(), alice, space)
	require.NoError(t, err)
	assert.Len(t, store.Assignments(alice), 1)
}

func TestStandingDoesNotAssign(t *testing.T) {
	store, ev, space := newSpace(t)
	auth, err := ev.Standing(context.Background(), alice, space)
	require.NoError(t, err)
	assert.Equal(t, MemberPriority, auth.Role.Priority)
	assert.Empty(t, store.Assignments(alice))
}

func TestEvaluateMissingPermission(t *testing.T) {
	_, ev, space := newSpace(t)
	d, err := ev.Evaluate(context.Background(), alice, space, models.PermKickMembers)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonMissing, d.Reason)
	assert.ErrorIs(t, d.Err(), apperrors.ErrPermissionDenied)
}

func TestAdminCapabilityGrantsEverything(t *testing.T) {
	auth := Authority{Role: models.Role{Permissions: models.PermissionSet{models.PermAdmin}}}
	d := auth.Allows(models.PermDeleteAnyMessages)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAdminCapability, d.Reason)
}

func TestCanModerateIsStrict(t *testing.T) {
	mod := models.Role{Priority: ModeratorPriority}
	assert.True(t, CanModerate(mod, models.Role{Priority: MemberPriority}))
	assert.False(t, CanModerate(mod, models.Role{Priority: ModeratorPriority}))
	assert.False(t, CanModerate(mod, models.Role{Priority: AdminPriority}))
}

func TestCanModerateUserProtectsSpaceAdmin(t *testing.T) {
	actor := Authority{Role: models.Role{Priority: OwnerPriority, Permissions: models.PermissionSet{models.PermAdmin}}}
	d := actor.CanModerateUser(Authority{IsSpaceAdmin: true})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonProtectedTarget, d.Reason)

	admin := Authority{IsSpaceAdmin: true}
	assert.True(t, admin.CanModerateUser(actor).Allowed)
}

func TestSystemRoleGuards(t *testing.T) {
	member := models.Role{Name: "Member", Priority: MemberPriority, IsSystem: true}
	admin := Authority{IsSpaceAdmin: true}
	highRole := Authority{Role: models.Role{Priority: AdminPriority, Permissions: models.PermissionSet{models.PermManageRoles}}}

	assert.True(t, admin.CanManageRole(member).Allowed)
	assert.Equal(t, ReasonSystemRole, highRole.CanManageRole(member).Reason)
	assert.Equal(t, ReasonSystemRole, admin.CanDeleteRole(member).Reason)

	custom := models.Role{Name: "Helper", Priority: 20}
	assert.True(t, highRole.CanDeleteRole(custom).Allowed)
	assert.Equal(t, ReasonPriority, highRole.CanManageRole(models.Role{Priority: AdminPriority}).Reason)
}

func TestGateBanVeto(t *testing.T) {
	store, ev, space := newSpace(t)
	ctx := context.Background()
	_, err := store.BanUser(ctx, models.Ban{UserID: alice, SpaceID: space.ID, BannedBy: owner}, space.RoomID)
	require.NoError(t, err)

	_, err = ev.Gate(ctx, alice, space, models.PermSendMessages)
	assert.ErrorIs(t, err, apperrors.ErrBanned)

	_, err = ev.Gate(ctx, owner, space, "")
	assert.NoError(t, err)
}

func TestBanExpiry(t *testing.T) {
	store, ev, space := newSpace(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ev.WithClock(func() time.Time { return now })

	until := now.Add(time.Hour)
	_, err := store.BanUser(ctx, models.Ban{UserID: alice, SpaceID: space.ID, BannedBy: owner, Until: &until}, space.RoomID)
	require.NoError(t, err)

	banned, err := ev.BanInEffect(ctx, alice, space.ID)
	require.NoError(t, err)
	assert.True(t, banned)

	now = now.Add(2 * time.Hour)
	banned, err = ev.BanInEffect(ctx, alice, space.ID)
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestForMessageType(t *testing.T) {
	cases := map[string]models.Permission{
		models.MessageText:    models.PermSendMessages,
		models.MessageImage:   models.PermSendMedia,
		models.MessageVideo:   models.PermSendMedia,
		models.MessageAudio:   models.PermSendMedia,
		models.MessageSticker: models.PermSendStickers,
		models.MessageFile:    models.PermSendFiles,
	}
	for msgType, want := range cases {
		got, ok := ForMessageType(msgType)
		assert.True(t, ok, msgType)
		assert.Equal(t, want, got, msgType)
	}
	_, ok := ForMessageType("hologram")
	assert.False(t, ok)
}

func TestPresets(t *testing.T) {
	presets := Presets()
	require.Len(t, presets, 5)
	assert.Equal(t, "Owner", presets[0].Name)
	assert.Len(t, presets[0].Permissions, len(models.Catalogue))

	defaults := 0
	for _, r := range presets {
		if r.IsDefault {
			defaults++
			assert.Equal(t, "Member", r.Name)
			assert.True(t, r.IsSystem)
		}
	}
	assert.Equal(t, 1, defaults)
}
