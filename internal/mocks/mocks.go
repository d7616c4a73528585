package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"space-chat/internal/models"
	"space-chat/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, roomID int, limit, offset int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit, offset)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) SearchMessages(ctx context.Context, roomID int, query string, limit, offset int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, query, limit, offset)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateMessageContent(ctx context.Context, messageID int, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkMessageDeleted(ctx context.Context, messageID int) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

type SpaceRepositoryMock struct {
	mock.Mock
}

func (m *SpaceRepositoryMock) CreateSpace(ctx context.Context, in repositories.NewSpace) (models.Space, error) {
	args := m.Called(ctx, in)
	var space models.Space
	if val := args.Get(0); val != nil {
		space = val.(models.Space)
	}
	return space, args.Error(1)
}

func (m *SpaceRepositoryMock) GetSpace(ctx context.Context, spaceID int) (models.Space, error) {
	args := m.Called(ctx, spaceID)
	var space models.Space
	if val := args.Get(0); val != nil {
		space = val.(models.Space)
	}
	return space, args.Error(1)
}

func (m *SpaceRepositoryMock) ListSpacesForUser(ctx context.Context, userID int) ([]models.Space, error) {
	args := m.Called(ctx, userID)
	var spaces []models.Space
	if val := args.Get(0); val != nil {
		spaces = val.([]models.Space)
	}
	return spaces, args.Error(1)
}

type BanRepositoryMock struct {
	mock.Mock
}

func (m *BanRepositoryMock) BanUser(ctx context.Context, ban models.Ban, roomID int) (models.Ban, error) {
	args := m.Called(ctx, ban, roomID)
	var out models.Ban
	if val := args.Get(0); val != nil {
		out = val.(models.Ban)
	}
	return out, args.Error(1)
}

func (m *BanRepositoryMock) ActiveBan(ctx context.Context, userID, spaceID int, now time.Time) (models.Ban, error) {
	args := m.Called(ctx, userID, spaceID, now)
	var ban models.Ban
	if val := args.Get(0); val != nil {
		ban = val.(models.Ban)
	}
	return ban, args.Error(1)
}

func (m *BanRepositoryMock) DeleteBans(ctx context.Context, userID, spaceID int) (int64, error) {
	args := m.Called(ctx, userID, spaceID)
	return args.Get(0).(int64), args.Error(1)
}

type ValidatorMock struct {
	mock.Mock
}

func (m *ValidatorMock) Validate(ctx context.Context, token string) (models.Identity, error) {
	args := m.Called(ctx, token)
	var id models.Identity
	if val := args.Get(0); val != nil {
		id = val.(models.Identity)
	}
	return id, args.Error(1)
}

// NotifierMock records fan-out calls.
type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) ToRoom(ctx context.Context, roomID int, ev models.Event) error {
	args := m.Called(ctx, roomID, ev)
	return args.Error(0)
}

func (m *NotifierMock) ToUser(ctx context.Context, userID int, ev models.Event) error {
	args := m.Called(ctx, userID, ev)
	return args.Error(0)
}

func (m *NotifierMock) Evict(ctx context.Context, roomID, userID int, ev models.Event) error {
	args := m.Called(ctx, roomID, userID, ev)
	return args.Error(0)
}

func (m *NotifierMock) ToAll(ctx context.Context, ev models.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}
