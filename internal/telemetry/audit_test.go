package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"space-chat/internal/observability"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *publisherMock) Close() error { return nil }

func TestRecordBuildsEnvelope(t *testing.T) {
	publisher := &publisherMock{}
	var got AuditEnvelope
	publisher.On("Publish", mock.Anything, "audit.chat", mock.AnythingOfType("telemetry.AuditEnvelope")).
		Run(func(args mock.Arguments) { got = args.Get(2).(AuditEnvelope) }).
		Return(nil).Once()

	emitter := NewAuditEmitter(publisher, "audit.chat", "space-chat", "test")
	ctx := observability.ContextWithRequestID(context.Background(), "req-1")
	emitter.Record(ctx, Record{
		ActorID:      7,
		AuditPayload: AuditPayload{Text: "ban by 7", Action: "ban", SpaceID: 3, Outcome: "ok"},
	})

	publisher.AssertExpectations(t)
	assert.Equal(t, 1, got.SchemaVersion)
	assert.Equal(t, "audit_log", got.EventType)
	assert.Equal(t, "space-chat", got.Service)
	assert.Equal(t, "req-1", got.RequestID)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "7", *got.UserID)
	assert.Equal(t, "INFO", got.Payload.Level)
	assert.Equal(t, 3, got.Payload.SpaceID)
	assert.NotEmpty(t, got.OccurredAt)
}

func TestRecordAnonymousActor(t *testing.T) {
	publisher := &publisherMock{}
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env AuditEnvelope) bool {
		return env.UserID == nil && env.Payload.Level == "ERROR"
	})).Return(errors.New("broker down")).Once()

	emitter := NewAuditEmitter(publisher, "audit.chat", "space-chat", "test")
	emitter.Record(context.Background(), Record{AuditPayload: AuditPayload{Level: "ERROR", Action: "kick"}})
	publisher.AssertExpectations(t)
}

func TestRecordNilEmitter(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Record(context.Background(), Record{ActorID: 1})
	})
	assert.NotPanics(t, func() {
		NewAuditEmitter(nil, "audit.chat", "space-chat", "test").Record(context.Background(), Record{})
	})
}
