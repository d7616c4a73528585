package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"space-chat/internal/middleware"
	"space-chat/internal/models"
	"space-chat/internal/repositories"
)

// MessageService is the message pipeline.
type MessageService interface {
	Send(ctx context.Context, author models.Identity, roomID int, content, msgType string) (models.Message, error)
	React(ctx context.Context, user models.Identity, messageID int, reaction string) ([]models.ReactionCount, error)
	Edit(ctx context.Context, user models.Identity, messageID int, content string) (models.Message, error)
	Delete(ctx context.Context, user models.Identity, messageID int) error
	History(ctx context.Context, userID, roomID int, query string, limit, offset int) ([]models.Message, error)
	RoomOf(ctx context.Context, messageID int) (int, error)
}

// RoomHandler serves private rooms and the message endpoints.
type RoomHandler struct {
	members  MemberService
	messages MessageService
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(members MemberService, messages MessageService) *RoomHandler {
	return &RoomHandler{members: members, messages: messages}
}

// OpenPrivateRoom creates or returns the private room between the caller and a peer.
func (h *RoomHandler) OpenPrivateRoom(c *gin.Context) {
	var req struct {
		PeerID int `json:"peer_id" binding:"required"`
	}
	if !bindJSON(c, &req, false) {
		return
	}

	room, err := h.members.OpenPrivateRoom(c.Request.Context(), c.GetInt(middleware.UserIDKey), req.PeerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// ListMessages returns a page of history, or search results when q is set.
func (h *RoomHandler) ListMessages(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}

	msgs, err := h.messages.History(c.Request.Context(), c.GetInt(middleware.UserIDKey), roomID, c.Query("q"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage sends a message through the pipeline.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
		Type    string `json:"type"`
	}
	if !bindJSON(c, &req, false) {
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), middleware.Identity(c), roomID, req.Content, req.Type)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// EditMessage replaces the content of the caller's message.
func (h *RoomHandler) EditMessage(c *gin.Context) {
	messageID, ok := h.messageInRoom(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if !bindJSON(c, &req, false) {
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), middleware.Identity(c), messageID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage tombstones a message.
func (h *RoomHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := h.messageInRoom(c)
	if !ok {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), middleware.Identity(c), messageID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// React toggles the caller's reaction on a message.
func (h *RoomHandler) React(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	var req struct {
		Reaction string `json:"reaction" binding:"required"`
	}
	if !bindJSON(c, &req, false) {
		return
	}

	counts, err := h.messages.React(c.Request.Context(), middleware.Identity(c), messageID, req.Reaction)
	if err != nil {
		respondError(c, err)
		return
	}
	if counts == nil {
		counts = []models.ReactionCount{}
	}
	c.JSON(http.StatusOK, gin.H{"message_id": messageID, "reactions": counts})
}

// messageInRoom resolves :message_id and checks that it lives in :room_id.
func (h *RoomHandler) messageInRoom(c *gin.Context) (int, bool) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return 0, false
	}
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return 0, false
	}
	actual, err := h.messages.RoomOf(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return 0, false
	}
	if actual != roomID {
		respondError(c, repositories.ErrMessageNotFound)
		return 0, false
	}
	return messageID, true
}
