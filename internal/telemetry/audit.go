package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"space-chat/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter publishes audit records for space administration and
// moderation. A nil emitter or publisher drops records silently.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      zerolog.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level   string         `json:"level"`
	Text    string         `json:"text"`
	Action  string         `json:"action,omitempty"`
	SpaceID int            `json:"space_id,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Record is one audited action taken by ActorID. ActorID 0 means anonymous.
type Record struct {
	ActorID int
	AuditPayload
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      log.With().Str("module", "audit").Logger(),
	}
}

// Record publishes rec, taking the request id from ctx.
func (e *AuditEmitter) Record(ctx context.Context, rec Record) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Level == "" {
		rec.Level = "INFO"
	}
	var actor *string
	if rec.ActorID != 0 {
		id := strconv.Itoa(rec.ActorID)
		actor = &id
	}
	requestID := observability.RequestIDFromContext(ctx)

	e.logger.Debug().Str("level", rec.Level).Str("action", rec.Action).Int("space_id", rec.SpaceID).
		Str("outcome", rec.Outcome).Str("request_id", requestID).Msg("audit emit")
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        actor,
		Payload:       rec.AuditPayload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		observability.IncAMQPPublishError()
		e.logger.Warn().Err(err).Str("action", rec.Action).Msg("audit publish failed")
	}
}
