// Package moderation implements kick, ban, unban and role management on top
// of the membership store and the permission model.
package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"space-chat/internal/apperrors"
	"space-chat/internal/membership"
	"space-chat/internal/models"
	"space-chat/internal/observability"
	"space-chat/internal/permissions"
	"space-chat/internal/repositories"
	"space-chat/internal/telemetry"
)

const (
	maxRoleName  = 64
	maxBanReason = 512
)

var tracer = otel.Tracer("space-chat/moderation")

// Notifier delivers role changes to the affected user and the space room.
type Notifier interface {
	ToRoom(ctx context.Context, roomID int, ev models.Event) error
	ToUser(ctx context.Context, userID int, ev models.Event) error
}

// Service runs moderation actions. Durable writes happen first; live
// notifications follow only once the write committed.
type Service struct {
	spaces  repositories.SpaceRepository
	roles   repositories.RoleRepository
	bans    repositories.BanRepository
	members *membership.Service
	perms   *permissions.Evaluator
	notify  Notifier
	audit   *telemetry.AuditEmitter
	logger  zerolog.Logger
}

// NewService constructs a Service. audit may be nil.
func NewService(spaces repositories.SpaceRepository, roles repositories.RoleRepository, bans repositories.BanRepository,
	members *membership.Service, perms *permissions.Evaluator, notify Notifier, audit *telemetry.AuditEmitter) *Service {
	return &Service{
		spaces:  spaces,
		roles:   roles,
		bans:    bans,
		members: members,
		perms:   perms,
		notify:  notify,
		audit:   audit,
		logger:  log.With().Str("module", "moderation").Logger(),
	}
}

// RoleInput describes a new role.
type RoleInput struct {
	Name        string
	Permissions models.PermissionSet
	Priority    int
	Color       string
}

// RolePatch carries the fields of a role update; nil fields are left as they are.
type RolePatch struct {
	Name        *string
	Permissions *models.PermissionSet
	Priority    *int
	Color       *string
}

// Kick removes target from the space room. The target keeps their role and may rejoin.
func (s *Service) Kick(ctx context.Context, actorID, targetID, spaceID int) error {
	ctx, span := s.start(ctx, "moderation.kick", actorID, spaceID)
	defer span.End()

	err := s.kick(ctx, actorID, targetID, spaceID)
	s.finish(ctx, span, "kick", actorID, spaceID, err, map[string]any{"target_id": targetID})
	return err
}

func (s *Service) kick(ctx context.Context, actorID, targetID, spaceID int) error {
	space, err := s.authorizeAgainst(ctx, actorID, targetID, spaceID, models.PermKickMembers)
	if err != nil {
		return err
	}
	changed, err := s.members.Kick(ctx, targetID, space.RoomID, actorID)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w: user %d is not in the space", apperrors.ErrNotParticipant, targetID)
	}
	return nil
}

// Ban records a ban and evicts target from the space room. A nil until is permanent.
func (s *Service) Ban(ctx context.Context, actorID, targetID, spaceID int, reason string, until *time.Time) (models.Ban, error) {
	ctx, span := s.start(ctx, "moderation.ban", actorID, spaceID)
	defer span.End()

	ban, err := s.ban(ctx, actorID, targetID, spaceID, reason, until)
	fields := map[string]any{"target_id": targetID, "permanent": until == nil}
	if until != nil {
		fields["until"] = until.UTC().Format(time.RFC3339)
	}
	s.finish(ctx, span, "ban", actorID, spaceID, err, fields)
	return ban, err
}

func (s *Service) ban(ctx context.Context, actorID, targetID, spaceID int, reason string, until *time.Time) (models.Ban, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxBanReason {
		return models.Ban{}, fmt.Errorf("%w: reason is longer than %d characters", apperrors.ErrInvalidInput, maxBanReason)
	}
	space, err := s.authorizeAgainst(ctx, actorID, targetID, spaceID, models.PermBanMembers)
	if err != nil {
		return models.Ban{}, err
	}
	return s.members.Ban(ctx, models.Ban{
		UserID:   targetID,
		SpaceID:  space.ID,
		BannedBy: actorID,
		Reason:   reason,
		Until:    until,
	}, space.RoomID)
}

// Unban lifts every ban of target in the space. It does not rejoin them.
func (s *Service) Unban(ctx context.Context, actorID, targetID, spaceID int) error {
	ctx, span := s.start(ctx, "moderation.unban", actorID, spaceID)
	defer span.End()

	err := s.unban(ctx, actorID, targetID, spaceID)
	s.finish(ctx, span, "unban", actorID, spaceID, err, map[string]any{"target_id": targetID})
	return err
}

func (s *Service) unban(ctx context.Context, actorID, targetID, spaceID int) error {
	if _, err := s.authorizeAgainst(ctx, actorID, targetID, spaceID, models.PermBanMembers); err != nil {
		return err
	}
	n, err := s.bans.DeleteBans(ctx, targetID, spaceID)
	if err != nil {
		return apperrors.Store("delete bans", err)
	}
	if n == 0 {
		return repositories.ErrBanNotFound
	}
	return nil
}

// AssignRole replaces target's role in the space. The actor must outrank both
// the role and the target's current standing.
func (s *Service) AssignRole(ctx context.Context, actorID, targetID, spaceID, roleID int) (models.Role, error) {
	ctx, span := s.start(ctx, "moderation.assign_role", actorID, spaceID)
	defer span.End()

	role, err := s.assignRole(ctx, actorID, targetID, spaceID, roleID)
	s.finish(ctx, span, "assign_role", actorID, spaceID, err, map[string]any{"target_id": targetID, "role_id": roleID})
	return role, err
}

func (s *Service) assignRole(ctx context.Context, actorID, targetID, spaceID, roleID int) (models.Role, error) {
	space, actor, err := s.actor(ctx, actorID, spaceID)
	if err != nil {
		return models.Role{}, err
	}
	role, err := s.spaceRole(ctx, space.ID, roleID)
	if err != nil {
		return models.Role{}, err
	}
	if err := actor.Allows(models.PermManageRoles).Err(); err != nil {
		return models.Role{}, err
	}
	if !actor.Outranks(role) {
		return models.Role{}, fmt.Errorf("%w: %s", apperrors.ErrPermissionDenied, permissions.ReasonPriority)
	}
	target, err := s.perms.Standing(ctx, targetID, space)
	if err != nil {
		return models.Role{}, apperrors.Store("resolve target", err)
	}
	if err := actor.CanModerateUser(target).Err(); err != nil {
		return models.Role{}, err
	}

	if err := s.roles.AssignRole(ctx, targetID, space.ID, role.ID); err != nil {
		return models.Role{}, apperrors.Store("assign role", err)
	}

	ev := models.Event{
		Type:   models.EventRoleAssigned,
		RoomID: space.RoomID,
		Data:   models.RoleAssignedPayload{SpaceID: space.ID, UserID: targetID, ActorID: actorID, Role: role},
	}
	if err := s.notify.ToUser(ctx, targetID, ev); err != nil {
		s.logger.Warn().Err(err).Int("user_id", targetID).Msg("role notification failed")
	}
	if err := s.notify.ToRoom(ctx, space.RoomID, ev); err != nil {
		s.logger.Warn().Err(err).Int("room_id", space.RoomID).Msg("role notification failed")
	}
	return role, nil
}

// ListRoles returns the roles of a space, highest priority first.
func (s *Service) ListRoles(ctx context.Context, spaceID int) ([]models.Role, error) {
	if _, err := s.space(ctx, spaceID); err != nil {
		return nil, err
	}
	roles, err := s.roles.ListRoles(ctx, spaceID)
	if err != nil {
		return nil, apperrors.Store("list roles", err)
	}
	return roles, nil
}

// CreateRole adds a non-system role below the actor's own priority.
func (s *Service) CreateRole(ctx context.Context, actorID, spaceID int, in RoleInput) (models.Role, error) {
	ctx, span := s.start(ctx, "moderation.create_role", actorID, spaceID)
	defer span.End()

	role, err := s.createRole(ctx, actorID, spaceID, in)
	s.finish(ctx, span, "create_role", actorID, spaceID, err, map[string]any{"name": in.Name, "priority": in.Priority})
	return role, err
}

func (s *Service) createRole(ctx context.Context, actorID, spaceID int, in RoleInput) (models.Role, error) {
	role := models.Role{
		SpaceID:     spaceID,
		Name:        strings.TrimSpace(in.Name),
		Permissions: in.Permissions,
		Priority:    in.Priority,
		Color:       in.Color,
	}
	if err := validateRole(role); err != nil {
		return models.Role{}, err
	}
	_, actor, err := s.actor(ctx, actorID, spaceID)
	if err != nil {
		return models.Role{}, err
	}
	if err := actor.CanManageRole(role).Err(); err != nil {
		return models.Role{}, err
	}
	created, err := s.roles.CreateRole(ctx, role)
	if err != nil {
		return models.Role{}, apperrors.Store("create role", err)
	}
	return created, nil
}

// UpdateRole edits a role. The actor must outrank the role both before and after the change.
func (s *Service) UpdateRole(ctx context.Context, actorID, spaceID, roleID int, patch RolePatch) (models.Role, error) {
	ctx, span := s.start(ctx, "moderation.update_role", actorID, spaceID)
	defer span.End()

	role, err := s.updateRole(ctx, actorID, spaceID, roleID, patch)
	s.finish(ctx, span, "update_role", actorID, spaceID, err, map[string]any{"role_id": roleID})
	return role, err
}

func (s *Service) updateRole(ctx context.Context, actorID, spaceID, roleID int, patch RolePatch) (models.Role, error) {
	_, actor, err := s.actor(ctx, actorID, spaceID)
	if err != nil {
		return models.Role{}, err
	}
	current, err := s.spaceRole(ctx, spaceID, roleID)
	if err != nil {
		return models.Role{}, err
	}
	if err := actor.CanManageRole(current).Err(); err != nil {
		return models.Role{}, err
	}

	next := current
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Permissions != nil {
		next.Permissions = *patch.Permissions
	}
	if patch.Priority != nil {
		next.Priority = *patch.Priority
	}
	if patch.Color != nil {
		next.Color = *patch.Color
	}
	if err := validateRole(next); err != nil {
		return models.Role{}, err
	}
	if err := actor.CanManageRole(next).Err(); err != nil {
		return models.Role{}, err
	}

	updated, err := s.roles.UpdateRole(ctx, next)
	if err != nil {
		return models.Role{}, apperrors.Store("update role", err)
	}
	return updated, nil
}

// DeleteRole removes a non-system role and its assignments. Affected users
// fall back to the default role on their next check.
func (s *Service) DeleteRole(ctx context.Context, actorID, spaceID, roleID int) error {
	ctx, span := s.start(ctx, "moderation.delete_role", actorID, spaceID)
	defer span.End()

	err := s.deleteRole(ctx, actorID, spaceID, roleID)
	s.finish(ctx, span, "delete_role", actorID, spaceID, err, map[string]any{"role_id": roleID})
	return err
}

func (s *Service) deleteRole(ctx context.Context, actorID, spaceID, roleID int) error {
	_, actor, err := s.actor(ctx, actorID, spaceID)
	if err != nil {
		return err
	}
	role, err := s.spaceRole(ctx, spaceID, roleID)
	if err != nil {
		return err
	}
	if err := actor.CanDeleteRole(role).Err(); err != nil {
		return err
	}
	if err := s.roles.DeleteRole(ctx, role.ID); err != nil {
		return apperrors.Store("delete role", err)
	}
	return nil
}

// authorizeAgainst checks that actor holds perm and may act on target.
func (s *Service) authorizeAgainst(ctx context.Context, actorID, targetID, spaceID int, perm models.Permission) (models.Space, error) {
	space, actor, err := s.actor(ctx, actorID, spaceID)
	if err != nil {
		return models.Space{}, err
	}
	if err := actor.Allows(perm).Err(); err != nil {
		return models.Space{}, err
	}
	target, err := s.perms.Standing(ctx, targetID, space)
	if err != nil {
		return models.Space{}, apperrors.Store("resolve target", err)
	}
	if err := actor.CanModerateUser(target).Err(); err != nil {
		return models.Space{}, err
	}
	return space, nil
}

func (s *Service) actor(ctx context.Context, actorID, spaceID int) (models.Space, permissions.Authority, error) {
	space, err := s.space(ctx, spaceID)
	if err != nil {
		return models.Space{}, permissions.Authority{}, err
	}
	auth, err := s.perms.Standing(ctx, actorID, space)
	if err != nil {
		return models.Space{}, permissions.Authority{}, apperrors.Store("resolve actor", err)
	}
	return space, auth, nil
}

func (s *Service) space(ctx context.Context, spaceID int) (models.Space, error) {
	space, err := s.spaces.GetSpace(ctx, spaceID)
	if err != nil {
		return models.Space{}, apperrors.Store("load space", err)
	}
	return space, nil
}

func (s *Service) spaceRole(ctx context.Context, spaceID, roleID int) (models.Role, error) {
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return models.Role{}, apperrors.Store("load role", err)
	}
	if role.SpaceID != spaceID {
		return models.Role{}, repositories.ErrRoleNotFound
	}
	return role, nil
}

func validateRole(role models.Role) error {
	n := utf8.RuneCountInString(role.Name)
	if n == 0 || n > maxRoleName {
		return fmt.Errorf("%w: role name must be 1-%d characters", apperrors.ErrInvalidInput, maxRoleName)
	}
	if role.Priority < 0 {
		return fmt.Errorf("%w: priority must not be negative", apperrors.ErrInvalidInput)
	}
	return nil
}

func (s *Service) start(ctx context.Context, name string, actorID, spaceID int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int("actor_id", actorID),
		attribute.Int("space_id", spaceID),
	))
}

func (s *Service) finish(ctx context.Context, span trace.Span, action string, actorID, spaceID int, err error, fields map[string]any) {
	outcome := "ok"
	level := "INFO"
	if err != nil {
		outcome = apperrors.Code(err)
		level = "WARN"
		span.SetStatus(codes.Error, outcome)
		if !apperrors.Classified(err) || outcome == "unavailable" {
			span.RecordError(err)
			level = "ERROR"
			s.logger.Error().Err(err).Str("action", action).Int("space_id", spaceID).Msg("moderation failure")
		}
	}
	observability.IncModerationAction(action, outcome)

	s.audit.Record(ctx, telemetry.Record{
		ActorID: actorID,
		AuditPayload: telemetry.AuditPayload{
			Level:   level,
			Text:    fmt.Sprintf("%s by %d in space %d: %s", action, actorID, spaceID, outcome),
			Action:  action,
			SpaceID: spaceID,
			Outcome: outcome,
			Fields:  fields,
		},
	})
}
