package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"space-chat/internal/models"
)

// RoleRepository abstracts roles and the one-role-per-space assignments.
type RoleRepository interface {
	ListRoles(ctx context.Context, spaceID int) ([]models.Role, error)
	GetRole(ctx context.Context, roleID int) (models.Role, error)
	GetDefaultRole(ctx context.Context, spaceID int) (models.Role, error)
	CreateRole(ctx context.Context, role models.Role) (models.Role, error)
	UpdateRole(ctx context.Context, role models.Role) (models.Role, error)
	DeleteRole(ctx context.Context, roleID int) error
	GetAssignedRole(ctx context.Context, userID, spaceID int) (models.Role, error)
	AssignRole(ctx context.Context, userID, spaceID, roleID int) error
	AssignRoleIfAbsent(ctx context.Context, userID, spaceID, roleID int) error
}

// RoleRepo is a sqlx implementation of RoleRepository.
type RoleRepo struct {
	db *sqlx.DB
}

// NewRoleRepo constructs a RoleRepo.
func NewRoleRepo(db *sqlx.DB) *RoleRepo {
	return &RoleRepo{db: db}
}

const roleColumns = `id, space_id, name, permissions, priority, is_system, is_default, color, created_at`

// ListRoles returns the roles of a space, highest priority first.
func (r *RoleRepo) ListRoles(ctx context.Context, spaceID int) ([]models.Role, error) {
	roles := []models.Role{}
	err := r.db.SelectContext(ctx, &roles, `SELECT `+roleColumns+` FROM roles WHERE space_id=$1 ORDER BY priority DESC, id ASC`, spaceID)
	return roles, err
}

// GetRole fetches a role by id.
func (r *RoleRepo) GetRole(ctx context.Context, roleID int) (models.Role, error) {
	var role models.Role
	err := r.db.GetContext(ctx, &role, `SELECT `+roleColumns+` FROM roles WHERE id=$1`, roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Role{}, ErrRoleNotFound
	}
	return role, err
}

// GetDefaultRole fetches the role assigned lazily to members without one.
func (r *RoleRepo) GetDefaultRole(ctx context.Context, spaceID int) (models.Role, error) {
	var role models.Role
	err := r.db.GetContext(ctx, &role, `SELECT `+roleColumns+` FROM roles WHERE space_id=$1 AND is_default = TRUE ORDER BY id ASC LIMIT 1`, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Role{}, ErrRoleNotFound
	}
	return role, err
}

// CreateRole inserts a custom role.
func (r *RoleRepo) CreateRole(ctx context.Context, role models.Role) (models.Role, error) {
	var created models.Role
	err := r.db.GetContext(ctx, &created, `INSERT INTO roles (space_id, name, permissions, priority, is_system, is_default, color)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+roleColumns,
		role.SpaceID, role.Name, role.Permissions, role.Priority, role.IsSystem, role.IsDefault, role.Color)
	return created, err
}

// UpdateRole stores the editable attributes of a role.
func (r *RoleRepo) UpdateRole(ctx context.Context, role models.Role) (models.Role, error) {
	var updated models.Role
	err := r.db.GetContext(ctx, &updated, `UPDATE roles SET name=$2, permissions=$3, priority=$4, color=$5 WHERE id=$1 RETURNING `+roleColumns,
		role.ID, role.Name, role.Permissions, role.Priority, role.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Role{}, ErrRoleNotFound
	}
	return updated, err
}

// DeleteRole removes a role and its assignments.
func (r *RoleRepo) DeleteRole(ctx context.Context, roleID int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id=$1`, roleID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id=$1`, roleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = ErrRoleNotFound
		return err
	}
	return tx.Commit()
}

// GetAssignedRole returns the user's role in a space.
func (r *RoleRepo) GetAssignedRole(ctx context.Context, userID, spaceID int) (models.Role, error) {
	var role models.Role
	err := r.db.GetContext(ctx, &role, `SELECT r.id, r.space_id, r.name, r.permissions, r.priority, r.is_system, r.is_default, r.color, r.created_at
        FROM user_roles ur
        INNER JOIN roles r ON r.id = ur.role_id
        WHERE ur.user_id=$1 AND ur.space_id=$2`, userID, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Role{}, ErrAssignmentNotFound
	}
	return role, err
}

// AssignRole supersedes any previous assignment of the user in the space.
func (r *RoleRepo) AssignRole(ctx context.Context, userID, spaceID, roleID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_roles (user_id, space_id, role_id) VALUES ($1, $2, $3)
        ON CONFLICT (user_id, space_id) DO UPDATE SET role_id = EXCLUDED.role_id, assigned_at = NOW()`, userID, spaceID, roleID)
	return err
}

// AssignRoleIfAbsent assigns roleID only when the user has no role in the space.
func (r *RoleRepo) AssignRoleIfAbsent(ctx context.Context, userID, spaceID, roleID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_roles (user_id, space_id, role_id) VALUES ($1, $2, $3)
        ON CONFLICT (user_id, space_id) DO NOTHING`, userID, spaceID, roleID)
	return err
}
