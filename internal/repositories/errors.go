package repositories

import (
	"fmt"

	"space-chat/internal/apperrors"
)

var (
	ErrSpaceNotFound       = fmt.Errorf("space %w", apperrors.ErrNotFound)
	ErrRoomNotFound        = fmt.Errorf("room %w", apperrors.ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", apperrors.ErrNotFound)
	ErrRoleNotFound        = fmt.Errorf("role %w", apperrors.ErrNotFound)
	ErrAssignmentNotFound  = fmt.Errorf("role assignment %w", apperrors.ErrNotFound)
	ErrBanNotFound         = fmt.Errorf("ban %w", apperrors.ErrNotFound)
	ErrMessageNotFound     = fmt.Errorf("message %w", apperrors.ErrNotFound)
)
