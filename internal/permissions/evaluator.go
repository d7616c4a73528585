package permissions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"space-chat/internal/apperrors"
	"space-chat/internal/models"
	"space-chat/internal/repositories"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonSpaceAdmin      Reason = "space_admin"
	ReasonGranted         Reason = "granted"
	ReasonAdminCapability Reason = "admin_capability"
	ReasonMissing         Reason = "missing_permission"
	ReasonPriority        Reason = "insufficient_priority"
	ReasonSystemRole      Reason = "system_role"
	ReasonProtectedTarget Reason = "protected_target"
	ReasonBanned          Reason = "banned"
)

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow(r Reason) Decision { return Decision{Allowed: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Allowed: false, Reason: r} }

// Err converts a denial into the matching sentinel error. It returns nil when allowed.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonBanned:
		return apperrors.ErrBanned
	default:
		return fmt.Errorf("%w: %s", apperrors.ErrPermissionDenied, d.Reason)
	}
}

// Authority is a user's resolved standing in one space.
type Authority struct {
	UserID       int
	SpaceID      int
	IsSpaceAdmin bool
	Role         models.Role
}

// Priority is the role priority, or the maximum for the space admin.
func (a Authority) Priority() int {
	if a.IsSpaceAdmin {
		return math.MaxInt
	}
	return a.Role.Priority
}

// Allows evaluates a single capability. The admin tier is checked before roles.
func (a Authority) Allows(p models.Permission) Decision {
	if a.IsSpaceAdmin {
		return allow(ReasonSpaceAdmin)
	}
	if a.Role.Permissions.Has(p) {
		return allow(ReasonGranted)
	}
	if a.Role.Permissions.Has(models.PermAdmin) {
		return allow(ReasonAdminCapability)
	}
	return deny(ReasonMissing)
}

// Outranks reports whether a holds strictly more authority than role.
func (a Authority) Outranks(role models.Role) bool {
	return a.Priority() > role.Priority
}

// CanModerateUser checks whether a may act on target. The space admin is never a valid target.
func (a Authority) CanModerateUser(target Authority) Decision {
	if target.IsSpaceAdmin {
		return deny(ReasonProtectedTarget)
	}
	if a.Priority() <= target.Priority() {
		return deny(ReasonPriority)
	}
	return allow(ReasonGranted)
}

// CanManageRole checks creating or editing role. System roles are editable by the space admin only.
func (a Authority) CanManageRole(role models.Role) Decision {
	if role.IsSystem && !a.IsSpaceAdmin {
		return deny(ReasonSystemRole)
	}
	if d := a.Allows(models.PermManageRoles); !d.Allowed {
		return d
	}
	if !a.Outranks(role) {
		return deny(ReasonPriority)
	}
	return allow(ReasonGranted)
}

// CanDeleteRole checks deleting role. System roles are never deletable.
func (a Authority) CanDeleteRole(role models.Role) Decision {
	if role.IsSystem {
		return deny(ReasonSystemRole)
	}
	return a.CanManageRole(role)
}

// CanModerate is true iff actor.Priority > target.Priority.
func CanModerate(actor, target models.Role) bool {
	return actor.Priority > target.Priority
}

// RoleStore is the role data the evaluator reads.
type RoleStore interface {
	GetAssignedRole(ctx context.Context, userID, spaceID int) (models.Role, error)
	GetDefaultRole(ctx context.Context, spaceID int) (models.Role, error)
	AssignRoleIfAbsent(ctx context.Context, userID, spaceID, roleID int) error
}

// BanStore is the ban data the evaluator reads.
type BanStore interface {
	ActiveBan(ctx context.Context, userID, spaceID int, now time.Time) (models.Ban, error)
}

// Evaluator resolves authorities and bans against the store.
type Evaluator struct {
	roles RoleStore
	bans  BanStore
	now   func() time.Time
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(roles RoleStore, bans BanStore) *Evaluator {
	return &Evaluator{roles: roles, bans: bans, now: time.Now}
}

// WithClock replaces the clock used for ban expiry.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Now returns the evaluator's current time.
func (e *Evaluator) Now() time.Time {
	return e.now()
}

// Authority resolves the user's role in space, lazily assigning the default role.
func (e *Evaluator) Authority(ctx context.Context, userID int, space models.Space) (Authority, error) {
	if space.IsAdmin(userID) {
		return Authority{UserID: userID, SpaceID: space.ID, IsSpaceAdmin: true}, nil
	}
	role, err := e.roles.GetAssignedRole(ctx, userID, space.ID)
	if errors.Is(err, repositories.ErrAssignmentNotFound) {
		def, derr := e.roles.GetDefaultRole(ctx, space.ID)
		if derr != nil {
			return Authority{}, fmt.Errorf("default role: %w", derr)
		}
		if err = e.roles.AssignRoleIfAbsent(ctx, userID, space.ID, def.ID); err != nil {
			return Authority{}, fmt.Errorf("assign default role: %w", err)
		}
		// re-read: a concurrent assignment may have won
		role, err = e.roles.GetAssignedRole(ctx, userID, space.ID)
	}
	if err != nil {
		return Authority{}, fmt.Errorf("resolve role: %w", err)
	}
	return Authority{UserID: userID, SpaceID: space.ID, Role: role}, nil
}

// Standing resolves the user's authority without assigning anything. A user
// with no assignment stands at the default role.
func (e *Evaluator) Standing(ctx context.Context, userID int, space models.Space) (Authority, error) {
	if space.IsAdmin(userID) {
		return Authority{UserID: userID, SpaceID: space.ID, IsSpaceAdmin: true}, nil
	}
	role, err := e.roles.GetAssignedRole(ctx, userID, space.ID)
	if errors.Is(err, repositories.ErrAssignmentNotFound) {
		role, err = e.roles.GetDefaultRole(ctx, space.ID)
	}
	if err != nil {
		return Authority{}, fmt.Errorf("resolve role: %w", err)
	}
	return Authority{UserID: userID, SpaceID: space.ID, Role: role}, nil
}

// Evaluate answers whether userID holds p in space.
func (e *Evaluator) Evaluate(ctx context.Context, userID int, space models.Space, p models.Permission) (Decision, error) {
	auth, err := e.Authority(ctx, userID, space)
	if err != nil {
		return Decision{}, err
	}
	return auth.Allows(p), nil
}

// BanInEffect reports whether userID is currently banned in spaceID.
func (e *Evaluator) BanInEffect(ctx context.Context, userID, spaceID int) (bool, error) {
	now := e.now()
	ban, err := e.bans.ActiveBan(ctx, userID, spaceID, now)
	if errors.Is(err, repositories.ErrBanNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ban lookup: %w", err)
	}
	return ban.InEffect(now), nil
}

// Gate applies the ban veto and then the capability check. It is used for
// join, send and react, which an in-effect ban blocks regardless of role.
func (e *Evaluator) Gate(ctx context.Context, userID int, space models.Space, p models.Permission) (Authority, error) {
	banned, err := e.BanInEffect(ctx, userID, space.ID)
	if err != nil {
		return Authority{}, err
	}
	if banned {
		return Authority{}, deny(ReasonBanned).Err()
	}
	auth, err := e.Authority(ctx, userID, space)
	if err != nil {
		return Authority{}, err
	}
	if p == "" {
		return auth, nil
	}
	return auth, auth.Allows(p).Err()
}
