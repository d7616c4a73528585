// Package pipeline validates, persists and broadcasts room messages and reactions.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"space-chat/internal/apperrors"
	"space-chat/internal/models"
	"space-chat/internal/observability"
	"space-chat/internal/permissions"
	"space-chat/internal/ratelimit"
	"space-chat/internal/repositories"
	"space-chat/internal/roomlock"
)

const (
	DefaultMaxLength  = 5000
	MaxReactionLength = 32
	DefaultPageSize   = 50
	MaxPageSize       = 100
)

var tracer = otel.Tracer("space-chat/pipeline")

// Notifier fans room events out to every node.
type Notifier interface {
	ToRoom(ctx context.Context, roomID int, ev models.Event) error
}

// Stores groups the repositories the pipeline reads and writes.
type Stores struct {
	Rooms     repositories.RoomRepository
	Spaces    repositories.SpaceRepository
	Messages  repositories.MessageRepository
	Reactions repositories.ReactionRepository
}

// Service is the message pipeline. Accepted writes to one room are persisted
// and broadcast under that room's lock, so persist order equals broadcast order.
type Service struct {
	stores    Stores
	perms     *permissions.Evaluator
	notify    Notifier
	locks     *roomlock.Locker
	limiter   *ratelimit.Limiter
	maxLength int
	logger    zerolog.Logger
}

// NewService constructs a Service. maxLength <= 0 selects DefaultMaxLength.
func NewService(stores Stores, perms *permissions.Evaluator, notify Notifier, locks *roomlock.Locker, limiter *ratelimit.Limiter, maxLength int) *Service {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Service{
		stores:    stores,
		perms:     perms,
		notify:    notify,
		locks:     locks,
		limiter:   limiter,
		maxLength: maxLength,
		logger:    log.With().Str("module", "pipeline").Logger(),
	}
}

// Send validates and persists a message, then broadcasts new_message to the room.
func (s *Service) Send(ctx context.Context, author models.Identity, roomID int, content, msgType string) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "pipeline.send", trace.WithAttributes(
		attribute.Int("room_id", roomID),
		attribute.Int("user_id", author.UserID),
	))
	defer span.End()

	msg, err := s.send(ctx, author, roomID, content, msgType)
	s.observe(span, "send", err)
	return msg, err
}

func (s *Service) send(ctx context.Context, author models.Identity, roomID int, content, msgType string) (models.Message, error) {
	if msgType == "" {
		msgType = models.MessageText
	}
	perm, ok := permissions.ForMessageType(msgType)
	if !ok {
		return models.Message{}, fmt.Errorf("%w: unsupported message type %q", apperrors.ErrInvalidInput, msgType)
	}
	if err := s.validateContent(content); err != nil {
		return models.Message{}, err
	}
	unlock := s.locks.Lock(roomID)
	defer unlock()

	if _, err := s.authorize(ctx, author.UserID, roomID, perm); err != nil {
		return models.Message{}, err
	}
	// only authorized attempts count against the window
	if !s.limiter.Allow(author.UserID) {
		return models.Message{}, apperrors.ErrRateLimited
	}

	msg, err := s.stores.Messages.CreateMessage(ctx, models.Message{
		RoomID:  roomID,
		UserID:  author.UserID,
		Content: content,
		Type:    msgType,
	})
	if err != nil {
		return models.Message{}, apperrors.Store("persist message", err)
	}
	observability.IncMessageAccepted(msgType)

	s.emit(ctx, roomID, models.Event{
		Type:   models.EventNewMessage,
		RoomID: roomID,
		Data:   models.NewMessagePayload{Message: msg, Author: author},
	})
	return msg, nil
}

// React toggles the user's reaction on a message and broadcasts the new counts.
func (s *Service) React(ctx context.Context, user models.Identity, messageID int, reaction string) ([]models.ReactionCount, error) {
	ctx, span := tracer.Start(ctx, "pipeline.react", trace.WithAttributes(
		attribute.Int("message_id", messageID),
		attribute.Int("user_id", user.UserID),
	))
	defer span.End()

	counts, err := s.react(ctx, user, messageID, reaction)
	s.observe(span, "react", err)
	return counts, err
}

func (s *Service) react(ctx context.Context, user models.Identity, messageID int, reaction string) ([]models.ReactionCount, error) {
	reaction = strings.TrimSpace(reaction)
	if reaction == "" || utf8.RuneCountInString(reaction) > MaxReactionLength {
		return nil, fmt.Errorf("%w: reaction must be 1-%d characters", apperrors.ErrInvalidInput, MaxReactionLength)
	}
	msg, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(msg.RoomID)
	defer unlock()

	if _, err := s.authorize(ctx, user.UserID, msg.RoomID, models.PermAddReactions); err != nil {
		return nil, err
	}
	if !s.limiter.Allow(user.UserID) {
		return nil, apperrors.ErrRateLimited
	}
	if _, err := s.stores.Reactions.ToggleReaction(ctx, messageID, user.UserID, reaction); err != nil {
		return nil, apperrors.Store("toggle reaction", err)
	}
	counts, err := s.stores.Reactions.CountReactions(ctx, messageID)
	if err != nil {
		return nil, apperrors.Store("count reactions", err)
	}

	s.emit(ctx, msg.RoomID, models.Event{
		Type:   models.EventReactionUpdated,
		RoomID: msg.RoomID,
		Data:   models.ReactionPayload{MessageID: messageID, UserID: user.UserID, Reactions: counts},
	})
	return counts, nil
}

// Edit replaces the content of the caller's own message.
func (s *Service) Edit(ctx context.Context, user models.Identity, messageID int, content string) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "pipeline.edit", trace.WithAttributes(attribute.Int("message_id", messageID)))
	defer span.End()

	msg, err := s.edit(ctx, user, messageID, content)
	s.observe(span, "edit", err)
	return msg, err
}

func (s *Service) edit(ctx context.Context, user models.Identity, messageID int, content string) (models.Message, error) {
	if err := s.validateContent(content); err != nil {
		return models.Message{}, err
	}
	msg, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.UserID != user.UserID {
		return models.Message{}, fmt.Errorf("%w: only the author can edit a message", apperrors.ErrPermissionDenied)
	}

	unlock := s.locks.Lock(msg.RoomID)
	defer unlock()

	if _, err := s.authorize(ctx, user.UserID, msg.RoomID, models.PermEditOwnMessages); err != nil {
		return models.Message{}, err
	}
	updated, err := s.stores.Messages.UpdateMessageContent(ctx, messageID, content)
	if err != nil {
		return models.Message{}, apperrors.Store("update message", err)
	}

	s.emit(ctx, msg.RoomID, models.Event{
		Type:   models.EventMessageEdited,
		RoomID: msg.RoomID,
		Data:   models.NewMessagePayload{Message: updated, Author: user},
	})
	return updated, nil
}

// Delete tombstones a message. Authors need delete_own_messages, anyone
// else delete_any_messages.
func (s *Service) Delete(ctx context.Context, user models.Identity, messageID int) error {
	ctx, span := tracer.Start(ctx, "pipeline.delete", trace.WithAttributes(attribute.Int("message_id", messageID)))
	defer span.End()

	err := s.delete(ctx, user, messageID)
	s.observe(span, "delete", err)
	return err
}

func (s *Service) delete(ctx context.Context, user models.Identity, messageID int) error {
	msg, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(msg.RoomID)
	defer unlock()

	perm := models.PermDeleteOwnMessages
	if msg.UserID != user.UserID {
		perm = models.PermDeleteAnyMessages
	}
	auth, err := s.authorize(ctx, user.UserID, msg.RoomID, perm)
	if err != nil {
		return err
	}
	if auth == nil && msg.UserID != user.UserID {
		return fmt.Errorf("%w: only the author can delete a private message", apperrors.ErrPermissionDenied)
	}
	if err := s.stores.Messages.MarkMessageDeleted(ctx, messageID); err != nil {
		return apperrors.Store("delete message", err)
	}

	s.emit(ctx, msg.RoomID, models.Event{
		Type:   models.EventMessageDeleted,
		RoomID: msg.RoomID,
		Data:   models.MessageDeletedPayload{MessageID: messageID, ActorID: user.UserID},
	})
	return nil
}

// History returns a page of live messages, optionally filtered by query, to an active member.
func (s *Service) History(ctx context.Context, userID, roomID int, query string, limit, offset int) ([]models.Message, error) {
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 1 || limit > MaxPageSize || offset < 0 {
		return nil, fmt.Errorf("%w: limit must be 1-%d and offset >= 0", apperrors.ErrInvalidInput, MaxPageSize)
	}
	if _, err := s.stores.Rooms.GetRoom(ctx, roomID); err != nil {
		return nil, apperrors.Store("load room", err)
	}
	active, err := s.stores.Rooms.IsActiveMember(ctx, roomID, userID)
	if err != nil {
		return nil, apperrors.Store("membership lookup", err)
	}
	if !active {
		return nil, apperrors.ErrNotParticipant
	}

	var msgs []models.Message
	if q := strings.TrimSpace(query); q != "" {
		msgs, err = s.stores.Messages.SearchMessages(ctx, roomID, q, limit, offset)
	} else {
		msgs, err = s.stores.Messages.ListMessages(ctx, roomID, limit, offset)
	}
	if err != nil {
		return nil, apperrors.Store("list messages", err)
	}
	return msgs, nil
}

// RoomOf returns the room of a live message.
func (s *Service) RoomOf(ctx context.Context, messageID int) (int, error) {
	msg, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return 0, err
	}
	return msg.RoomID, nil
}

// authorize checks active membership, then for space rooms the ban veto and
// perm. It returns nil authority for private rooms.
func (s *Service) authorize(ctx context.Context, userID, roomID int, perm models.Permission) (*permissions.Authority, error) {
	room, err := s.stores.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, apperrors.Store("load room", err)
	}
	active, err := s.stores.Rooms.IsActiveMember(ctx, roomID, userID)
	if err != nil {
		return nil, apperrors.Store("membership lookup", err)
	}
	if !active {
		return nil, apperrors.ErrNotParticipant
	}
	if room.Kind != models.RoomGroup || room.SpaceID == nil {
		return nil, nil
	}

	space, err := s.stores.Spaces.GetSpace(ctx, *room.SpaceID)
	if err != nil {
		return nil, apperrors.Store("load space", err)
	}
	auth, err := s.perms.Gate(ctx, userID, space, perm)
	if err != nil {
		return nil, apperrors.Store("authorize", err)
	}
	return &auth, nil
}

func (s *Service) liveMessage(ctx context.Context, messageID int) (models.Message, error) {
	msg, err := s.stores.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, apperrors.Store("load message", err)
	}
	if msg.IsDeleted {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (s *Service) validateContent(content string) error {
	n := utf8.RuneCountInString(content)
	if strings.TrimSpace(content) == "" || n > s.maxLength {
		return fmt.Errorf("%w: content must be 1-%d characters", apperrors.ErrInvalidInput, s.maxLength)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, roomID int, ev models.Event) {
	if err := s.notify.ToRoom(ctx, roomID, ev); err != nil {
		s.logger.Warn().Err(err).Int("room_id", roomID).Str("event", ev.Type).Msg("broadcast failed")
	}
}

func (s *Service) observe(span trace.Span, op string, err error) {
	if err == nil {
		return
	}
	code := apperrors.Code(err)
	observability.IncPipelineRejected(op, code)
	span.SetStatus(codes.Error, code)
	if code == "internal" || code == "unavailable" {
		span.RecordError(err)
		s.logger.Error().Err(err).Str("op", op).Msg("pipeline failure")
	}
}
