package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"space-chat/internal/apperrors"
	"space-chat/internal/auth"
	"space-chat/internal/middleware"
	"space-chat/internal/models"
	"space-chat/internal/observability"
	"space-chat/internal/presence"
)

const (
	wsKind          = "space"
	wsEventsRouting = "ws_events.spaces"
	cleanupTimeout  = 5 * time.Second
)

// Client frame types.
const (
	FrameJoinRoom      = "join_room"
	FrameLeaveRoom     = "leave_room"
	FrameSendMessage   = "send_message"
	FrameReact         = "react"
	FrameEditMessage   = "edit_message"
	FrameDeleteMessage = "delete_message"
	FramePing          = "ping"
)

// Members is the membership store as used by the websocket path.
type Members interface {
	Join(ctx context.Context, userID, roomID int, connID string) (models.Participant, error)
	Leave(ctx context.Context, userID, roomID int) error
}

// Messages is the message pipeline as used by the websocket path.
type Messages interface {
	Send(ctx context.Context, author models.Identity, roomID int, content, msgType string) (models.Message, error)
	React(ctx context.Context, user models.Identity, messageID int, reaction string) ([]models.ReactionCount, error)
	Edit(ctx context.Context, user models.Identity, messageID int, content string) (models.Message, error)
	Delete(ctx context.Context, user models.Identity, messageID int) error
}

// StatusNotifier broadcasts presence changes to every node.
type StatusNotifier interface {
	ToAll(ctx context.Context, ev models.Event) error
}

// Handler upgrades authenticated requests and serves the real-time protocol.
type Handler struct {
	validator auth.Validator
	registry  *Registry
	members   Members
	messages  Messages
	presence  presence.Tracker
	status    StatusNotifier
	cfg       ConnectionConfig
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(validator auth.Validator, registry *Registry, members Members, messages Messages,
	tracker presence.Tracker, status StatusNotifier, cfg ConnectionConfig) *Handler {
	return &Handler{
		validator: validator,
		registry:  registry,
		members:   members,
		messages:  messages,
		presence:  tracker,
		status:    status,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.With().Str("module", "ws").Logger(),
	}
}

// Handle authenticates the request, upgrades it and blocks until the connection ends.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("space-chat/ws").Start(c.Request.Context(), "ws.handshake")

	token := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		token, _ = middleware.BearerToken(header)
	}
	id, err := h.validator.Validate(ctx, token)
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.logger.Debug().Err(err).Int("user_id", id.UserID).Msg("upgrade failed")
		return
	}
	info := newConnInfo(ctx, c.Request, id.UserID)
	span.End()

	h.serve(ctx, NewConnection(conn, h.cfg), id, info)
}

func (h *Handler) serve(ctx context.Context, conn *Connection, id models.Identity, info ConnInfo) {
	if _, err := h.registry.Register(info.ConnID, id, conn); err != nil {
		h.logger.Error().Err(err).Str("conn_id", info.ConnID).Msg("register failed")
		conn.Start()
		conn.Close(websocket.CloseInternalServerErr, "register failed")
		return
	}
	conn.Start()
	h.connected(ctx, id, info)

	logger := h.logger.With().Str("conn_id", info.ConnID).Int("user_id", id.UserID).Logger()
	logger.Info().Msg("ws connected")

	err := conn.ReadLoop(func(raw []byte) {
		if reply := h.dispatch(ctx, info.ConnID, id, raw); reply != nil {
			h.reply(info.ConnID, *reply)
		}
	}, func() {
		if err := h.presence.Touch(ctx, id.UserID, info.ConnID); err != nil {
			logger.Debug().Err(err).Msg("presence touch failed")
		}
	})

	reason := conn.CloseReason()
	if reason == "" && err != nil {
		reason = err.Error()
	}
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && conn.CloseReason() == "" {
		observability.IncWSEvent(wsKind, "ws_error")
		h.publishLifecycle(ctx, "ws_error", info, reason)
	}
	conn.Close(websocket.CloseNormalClosure, "")

	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	h.disconnected(cleanup, id, info, reason)
	logger.Info().Str("reason", reason).Dur("duration", time.Since(info.ConnectedAt)).Msg("ws disconnected")
}

func (h *Handler) connected(ctx context.Context, id models.Identity, info ConnInfo) {
	observability.IncWSActive(wsKind)
	observability.IncWSEvent(wsKind, "ws_connect")
	h.publishLifecycle(ctx, "ws_connect", info, "")

	first, err := h.presence.Connect(ctx, id.UserID, info.ConnID)
	if err != nil {
		h.logger.Warn().Err(err).Int("user_id", id.UserID).Msg("presence connect failed")
		return
	}
	if first {
		h.announce(ctx, id.UserID, "online")
	}
}

// disconnected drops the session's subscriptions. Participant rows stay active.
func (h *Handler) disconnected(ctx context.Context, id models.Identity, info ConnInfo, reason string) {
	h.registry.Unregister(info.ConnID)
	observability.DecWSActive(wsKind)
	observability.IncWSEvent(wsKind, "ws_disconnect")
	h.publishLifecycle(ctx, "ws_disconnect", info, reason)

	last, err := h.presence.Disconnect(ctx, id.UserID, info.ConnID)
	if err != nil {
		h.logger.Warn().Err(err).Int("user_id", id.UserID).Msg("presence disconnect failed")
		return
	}
	if last {
		h.announce(ctx, id.UserID, "offline")
	}
}

func (h *Handler) announce(ctx context.Context, userID int, status string) {
	ev := models.Event{
		Type: models.EventUserStatusChanged,
		Data: models.StatusPayload{UserID: userID, Status: status},
	}
	if err := h.status.ToAll(ctx, ev); err != nil {
		h.logger.Warn().Err(err).Int("user_id", userID).Str("status", status).Msg("status broadcast failed")
	}
}

// dispatch runs one client frame and returns the direct reply, if any.
// Broadcast effects reach this session through its subscriptions.
func (h *Handler) dispatch(ctx context.Context, connID string, id models.Identity, raw []byte) *models.Event {
	var frame models.ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return errorEvent(fmt.Errorf("%w: malformed frame", apperrors.ErrInvalidInput), "", 0)
	}
	observability.IncWSEvent(wsKind, frame.Type)
	d := frame.Data

	var err error
	switch frame.Type {
	case FrameJoinRoom:
		var p models.Participant
		p, err = h.members.Join(ctx, id.UserID, d.RoomID, connID)
		if err == nil {
			return &models.Event{Type: models.EventJoinedRoom, RoomID: d.RoomID, Data: p}
		}
	case FrameLeaveRoom:
		err = h.members.Leave(ctx, id.UserID, d.RoomID)
	case FrameSendMessage:
		_, err = h.messages.Send(ctx, id, d.RoomID, d.Content, d.Type)
	case FrameReact:
		_, err = h.messages.React(ctx, id, d.MessageID, d.Reaction)
	case FrameEditMessage:
		_, err = h.messages.Edit(ctx, id, d.MessageID, d.Content)
	case FrameDeleteMessage:
		err = h.messages.Delete(ctx, id, d.MessageID)
	case FramePing:
		if terr := h.presence.Touch(ctx, id.UserID, connID); terr != nil {
			h.logger.Debug().Err(terr).Str("conn_id", connID).Msg("presence touch failed")
		}
		return &models.Event{Type: models.EventPong}
	default:
		err = fmt.Errorf("%w: unknown event type %q", apperrors.ErrInvalidInput, frame.Type)
	}
	if err != nil {
		if !apperrors.Classified(err) {
			h.logger.Error().Err(err).Str("conn_id", connID).Str("frame", frame.Type).Msg("frame failed")
		}
		return errorEvent(err, frame.RequestID, d.RoomID)
	}
	return nil
}

func errorEvent(err error, requestID string, roomID int) *models.Event {
	return &models.Event{
		Type:   models.EventError,
		RoomID: roomID,
		Data: models.ErrorPayload{
			Code:      apperrors.Code(err),
			Message:   apperrors.PublicMessage(err),
			RequestID: requestID,
		},
	}
}

func (h *Handler) reply(connID string, ev models.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Type).Msg("encode reply")
		return
	}
	if err := h.registry.DeliverConn(connID, payload); err != nil {
		h.logger.Debug().Err(err).Str("conn_id", connID).Str("event", ev.Type).Msg("reply dropped")
	}
}

func (h *Handler) publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	duration := int64(0)
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, wsEventsRouting, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        wsKind,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
