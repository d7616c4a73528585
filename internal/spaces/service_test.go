package spaces

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"space-chat/internal/apperrors"
	"space-chat/internal/memstore"
	"space-chat/internal/mocks"
	"space-chat/internal/models"
	"space-chat/internal/repositories"
	"space-chat/internal/telemetry"
)

func TestCreateSeedsPresets(t *testing.T) {
	store := memstore.New()
	publisher := &mocks.PublisherMock{}
	publisher.On("Publish", mock.Anything, "audit.log", mock.AnythingOfType("telemetry.AuditEnvelope")).Return(nil)
	svc := NewService(store, telemetry.NewAuditEmitter(publisher, "audit.log", "space-chat", "test"))
	ctx := context.Background()

	space, err := svc.Create(ctx, 7, "  Book club ", "weekly")
	require.NoError(t, err)
	assert.Equal(t, "Book club", space.Name)
	assert.Equal(t, 7, space.AdminID)

	roles, err := store.ListRoles(ctx, space.ID)
	require.NoError(t, err)
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"Owner", "Admin", "Moderator", "Member", "Restricted"}, names)

	role, err := store.GetAssignedRole(ctx, 7, space.ID)
	require.NoError(t, err)
	assert.Equal(t, "Owner", role.Name)

	mine, err := svc.ListForUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	got, err := svc.Get(ctx, space.ID)
	require.NoError(t, err)
	assert.Equal(t, space.RoomID, got.RoomID)
	publisher.AssertExpectations(t)
}

func TestCreateValidatesName(t *testing.T) {
	svc := NewService(memstore.New(), nil)
	_, err := svc.Create(context.Background(), 1, "   ", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = svc.Create(context.Background(), 1, strings.Repeat("x", maxNameLength+1), "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCreateStoreFailureIsRetryable(t *testing.T) {
	repo := &mocks.SpaceRepositoryMock{}
	repo.On("CreateSpace", mock.Anything, mock.AnythingOfType("repositories.NewSpace")).Return(nil, errors.New("deadlock detected"))

	_, err := NewService(repo, nil).Create(context.Background(), 1, "x", "")
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	repo.AssertExpectations(t)
}

func TestGetUnknown(t *testing.T) {
	repo := &mocks.SpaceRepositoryMock{}
	repo.On("GetSpace", mock.Anything, 9).Return(models.Space{}, repositories.ErrSpaceNotFound)

	_, err := NewService(repo, nil).Get(context.Background(), 9)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
