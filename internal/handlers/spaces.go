package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"space-chat/internal/apperrors"
	"space-chat/internal/middleware"
	"space-chat/internal/models"
	"space-chat/internal/moderation"
)

// SpaceService is the space lifecycle.
type SpaceService interface {
	Create(ctx context.Context, creatorID int, name, description string) (models.Space, error)
	Get(ctx context.Context, spaceID int) (models.Space, error)
	ListForUser(ctx context.Context, userID int) ([]models.Space, error)
}

// MemberService is the room membership store.
type MemberService interface {
	Join(ctx context.Context, userID, roomID int, connID string) (models.Participant, error)
	Leave(ctx context.Context, userID, roomID int) error
	ListActive(ctx context.Context, roomID int) ([]int, error)
	IsActiveMember(ctx context.Context, userID, roomID int) (bool, error)
	OpenPrivateRoom(ctx context.Context, userID, peerID int) (models.Room, error)
}

// ModerationService runs moderation and role management.
type ModerationService interface {
	Kick(ctx context.Context, actorID, targetID, spaceID int) error
	Ban(ctx context.Context, actorID, targetID, spaceID int, reason string, until *time.Time) (models.Ban, error)
	Unban(ctx context.Context, actorID, targetID, spaceID int) error
	AssignRole(ctx context.Context, actorID, targetID, spaceID, roleID int) (models.Role, error)
	ListRoles(ctx context.Context, spaceID int) ([]models.Role, error)
	CreateRole(ctx context.Context, actorID, spaceID int, in moderation.RoleInput) (models.Role, error)
	UpdateRole(ctx context.Context, actorID, spaceID, roleID int, patch moderation.RolePatch) (models.Role, error)
	DeleteRole(ctx context.Context, actorID, spaceID, roleID int) error
}

// SpaceHandler serves the space, membership and moderation endpoints.
type SpaceHandler struct {
	spaces     SpaceService
	members    MemberService
	moderation ModerationService
}

// NewSpaceHandler builds a SpaceHandler.
func NewSpaceHandler(spaces SpaceService, members MemberService, moderation ModerationService) *SpaceHandler {
	return &SpaceHandler{spaces: spaces, members: members, moderation: moderation}
}

// CreateSpace creates a space owned by the caller.
func (h *SpaceHandler) CreateSpace(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if !bindJSON(c, &req, false) {
		return
	}

	space, err := h.spaces.Create(c.Request.Context(), c.GetInt(middleware.UserIDKey), req.Name, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, space)
}

// ListSpaces returns the spaces the caller is an active member of.
func (h *SpaceHandler) ListSpaces(c *gin.Context) {
	spaces, err := h.spaces.ListForUser(c.Request.Context(), c.GetInt(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	if spaces == nil {
		spaces = []models.Space{}
	}
	c.JSON(http.StatusOK, gin.H{"spaces": spaces})
}

// GetSpace returns one space.
func (h *SpaceHandler) GetSpace(c *gin.Context) {
	spaceID, ok := pathID(c, "space_id")
	if !ok {
		return
	}
	space, err := h.spaces.Get(c.Request.Context(), spaceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, space)
}

// Join makes the caller an active participant of the space room.
func (h *SpaceHandler) Join(c *gin.Context) {
	space, ok := h.loadSpace(c)
	if !ok {
		return
	}
	p, err := h.members.Join(c.Request.Context(), c.GetInt(middleware.UserIDKey), space.RoomID, "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Leave makes the caller inactive in the space room.
func (h *SpaceHandler) Leave(c *gin.Context) {
	space, ok := h.loadSpace(c)
	if !ok {
		return
	}
	if err := h.members.Leave(c.Request.Context(), c.GetInt(middleware.UserIDKey), space.RoomID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Participants lists the active members of the space room. Only active
// members may read it.
func (h *SpaceHandler) Participants(c *gin.Context) {
	space, ok := h.loadSpace(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	active, err := h.members.IsActiveMember(ctx, c.GetInt(middleware.UserIDKey), space.RoomID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !active {
		respondError(c, apperrors.ErrNotParticipant)
		return
	}
	ids, err := h.members.ListActive(ctx, space.RoomID)
	if err != nil {
		respondError(c, err)
		return
	}
	if ids == nil {
		ids = []int{}
	}
	c.JSON(http.StatusOK, gin.H{"user_ids": ids})
}

// Kick removes a user from the space room.
func (h *SpaceHandler) Kick(c *gin.Context) {
	spaceID, targetID, ok := spaceAndUser(c)
	if !ok {
		return
	}
	if err := h.moderation.Kick(c.Request.Context(), c.GetInt(middleware.UserIDKey), targetID, spaceID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Ban bans a user from the space, permanently when until is omitted.
func (h *SpaceHandler) Ban(c *gin.Context) {
	spaceID, targetID, ok := spaceAndUser(c)
	if !ok {
		return
	}
	var req struct {
		Reason string     `json:"reason"`
		Until  *time.Time `json:"until"`
	}
	if !bindJSON(c, &req, true) {
		return
	}

	ban, err := h.moderation.Ban(c.Request.Context(), c.GetInt(middleware.UserIDKey), targetID, spaceID, req.Reason, req.Until)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ban)
}

// Unban lifts a user's bans in the space.
func (h *SpaceHandler) Unban(c *gin.Context) {
	spaceID, targetID, ok := spaceAndUser(c)
	if !ok {
		return
	}
	if err := h.moderation.Unban(c.Request.Context(), c.GetInt(middleware.UserIDKey), targetID, spaceID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListRoles returns the roles of the space.
func (h *SpaceHandler) ListRoles(c *gin.Context) {
	spaceID, ok := pathID(c, "space_id")
	if !ok {
		return
	}
	roles, err := h.moderation.ListRoles(c.Request.Context(), spaceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

// CreateRole adds a custom role to the space.
func (h *SpaceHandler) CreateRole(c *gin.Context) {
	spaceID, ok := pathID(c, "space_id")
	if !ok {
		return
	}
	var req struct {
		Name        string   `json:"name" binding:"required"`
		Permissions []string `json:"permissions"`
		Priority    int      `json:"priority"`
		Color       string   `json:"color"`
	}
	if !bindJSON(c, &req, false) {
		return
	}
	perms, err := models.ParsePermissions(req.Permissions)
	if err != nil {
		respondError(c, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err))
		return
	}

	role, err := h.moderation.CreateRole(c.Request.Context(), c.GetInt(middleware.UserIDKey), spaceID, moderation.RoleInput{
		Name:        req.Name,
		Permissions: perms,
		Priority:    req.Priority,
		Color:       req.Color,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

// UpdateRole patches a role.
func (h *SpaceHandler) UpdateRole(c *gin.Context) {
	spaceID, ok := pathID(c, "space_id")
	if !ok {
		return
	}
	roleID, ok := pathID(c, "role_id")
	if !ok {
		return
	}
	var req struct {
		Name        *string   `json:"name"`
		Permissions *[]string `json:"permissions"`
		Priority    *int      `json:"priority"`
		Color       *string   `json:"color"`
	}
	if !bindJSON(c, &req, false) {
		return
	}
	patch := moderation.RolePatch{Name: req.Name, Priority: req.Priority, Color: req.Color}
	if req.Permissions != nil {
		perms, err := models.ParsePermissions(*req.Permissions)
		if err != nil {
			respondError(c, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err))
			return
		}
		patch.Permissions = &perms
	}

	role, err := h.moderation.UpdateRole(c.Request.Context(), c.GetInt(middleware.UserIDKey), spaceID, roleID, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

// DeleteRole removes a custom role.
func (h *SpaceHandler) DeleteRole(c *gin.Context) {
	spaceID, ok := pathID(c, "space_id")
	if !ok {
		return
	}
	roleID, ok := pathID(c, "role_id")
	if !ok {
		return
	}
	if err := h.moderation.DeleteRole(c.Request.Context(), c.GetInt(middleware.UserIDKey), spaceID, roleID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AssignRole gives a user a role in the space.
func (h *SpaceHandler) AssignRole(c *gin.Context) {
	spaceID, targetID, ok := spaceAndUser(c)
	if !ok {
		return
	}
	roleID, ok := pathID(c, "role_id")
	if !ok {
		return
	}
	role, err := h.moderation.AssignRole(c.Request.Context(), c.GetInt(middleware.UserIDKey), targetID, spaceID, roleID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func (h *SpaceHandler) loadSpace(c *gin.Context) (models.Space, bool) {
	spaceID, ok := pathID(c, "space_id")
	if !ok {
		return models.Space{}, false
	}
	space, err := h.spaces.Get(c.Request.Context(), spaceID)
	if err != nil {
		respondError(c, err)
		return models.Space{}, false
	}
	return space, true
}

func spaceAndUser(c *gin.Context) (int, int, bool) {
	spaceID, ok := pathID(c, "space_id")
	if !ok {
		return 0, 0, false
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return 0, 0, false
	}
	return spaceID, userID, true
}
