// Package spaces creates and looks up spaces.
package spaces

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"space-chat/internal/apperrors"
	"space-chat/internal/models"
	"space-chat/internal/permissions"
	"space-chat/internal/repositories"
	"space-chat/internal/telemetry"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 1000
)

// Service manages the space lifecycle.
type Service struct {
	spaces repositories.SpaceRepository
	audit  *telemetry.AuditEmitter
}

// NewService constructs a Service. audit may be nil.
func NewService(spaces repositories.SpaceRepository, audit *telemetry.AuditEmitter) *Service {
	return &Service{spaces: spaces, audit: audit}
}

// Create makes a space owned by creatorID, seeded with the preset roles.
// The creator becomes the space admin, an active participant and the Owner.
func (s *Service) Create(ctx context.Context, creatorID int, name, description string) (models.Space, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if n := utf8.RuneCountInString(name); n == 0 || n > maxNameLength {
		return models.Space{}, fmt.Errorf("%w: name must be 1-%d characters", apperrors.ErrInvalidInput, maxNameLength)
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return models.Space{}, fmt.Errorf("%w: description is longer than %d characters", apperrors.ErrInvalidInput, maxDescriptionLength)
	}

	space, err := s.spaces.CreateSpace(ctx, repositories.NewSpace{
		AdminID:     creatorID,
		Name:        name,
		Description: description,
		Roles:       permissions.Presets(),
	})
	if err != nil {
		return models.Space{}, apperrors.Store("create space", err)
	}

	log.Info().Str("module", "spaces").Int("space_id", space.ID).Int("room_id", space.RoomID).
		Int("user_id", creatorID).Msg("space created")
	s.audit.Record(ctx, telemetry.Record{
		ActorID: creatorID,
		AuditPayload: telemetry.AuditPayload{
			Text:    "Space created",
			Action:  "create_space",
			SpaceID: space.ID,
			Outcome: "ok",
			Fields:  map[string]any{"room_id": space.RoomID},
		},
	})
	return space, nil
}

// Get returns a space by id.
func (s *Service) Get(ctx context.Context, spaceID int) (models.Space, error) {
	space, err := s.spaces.GetSpace(ctx, spaceID)
	if err != nil {
		return models.Space{}, apperrors.Store("load space", err)
	}
	return space, nil
}

// ListForUser returns the spaces in which userID is an active participant.
func (s *Service) ListForUser(ctx context.Context, userID int) ([]models.Space, error) {
	spaces, err := s.spaces.ListSpacesForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Store("list spaces", err)
	}
	return spaces, nil
}
