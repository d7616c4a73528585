package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"space-chat/internal/models"
)

// NewSpace describes a space to create. Roles[0] is assigned to the admin.
type NewSpace struct {
	AdminID     int
	Name        string
	Description string
	Roles       []models.Role
}

// SpaceRepository abstracts space persistence.
type SpaceRepository interface {
	CreateSpace(ctx context.Context, in NewSpace) (models.Space, error)
	GetSpace(ctx context.Context, spaceID int) (models.Space, error)
	ListSpacesForUser(ctx context.Context, userID int) ([]models.Space, error)
}

// SpaceRepo is a sqlx implementation of SpaceRepository.
type SpaceRepo struct {
	db *sqlx.DB
}

// NewSpaceRepo constructs a SpaceRepo.
func NewSpaceRepo(db *sqlx.DB) *SpaceRepo {
	return &SpaceRepo{db: db}
}

const spaceColumns = `id, name, description, admin_id, room_id, created_at`

// CreateSpace creates the space, its group room, the seeded roles and the
// admin's participant row and role assignment in one transaction.
func (r *SpaceRepo) CreateSpace(ctx context.Context, in NewSpace) (models.Space, error) {
	if len(in.Roles) == 0 {
		return models.Space{}, errors.New("space needs at least one role")
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Space{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var roomID int
	if err = tx.GetContext(ctx, &roomID, `INSERT INTO rooms (kind) VALUES ($1) RETURNING id`, models.RoomGroup); err != nil {
		return models.Space{}, err
	}

	var space models.Space
	if err = tx.GetContext(ctx, &space, `INSERT INTO spaces (name, description, admin_id, room_id) VALUES ($1, $2, $3, $4) RETURNING `+spaceColumns,
		in.Name, in.Description, in.AdminID, roomID); err != nil {
		return models.Space{}, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE rooms SET space_id=$1 WHERE id=$2`, space.ID, roomID); err != nil {
		return models.Space{}, err
	}

	roleIDs := make([]int, len(in.Roles))
	for i, role := range in.Roles {
		if err = tx.GetContext(ctx, &roleIDs[i], `INSERT INTO roles (space_id, name, permissions, priority, is_system, is_default, color) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			space.ID, role.Name, role.Permissions, role.Priority, role.IsSystem, role.IsDefault, role.Color); err != nil {
			return models.Space{}, err
		}
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO participants (room_id, user_id, active) VALUES ($1, $2, TRUE)`, roomID, in.AdminID); err != nil {
		return models.Space{}, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO user_roles (user_id, space_id, role_id) VALUES ($1, $2, $3)`, in.AdminID, space.ID, roleIDs[0]); err != nil {
		return models.Space{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Space{}, err
	}
	return space, nil
}

// GetSpace fetches a single space.
func (r *SpaceRepo) GetSpace(ctx context.Context, spaceID int) (models.Space, error) {
	var space models.Space
	err := r.db.GetContext(ctx, &space, `SELECT `+spaceColumns+` FROM spaces WHERE id=$1`, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Space{}, ErrSpaceNotFound
	}
	return space, err
}

// ListSpacesForUser returns spaces whose room the user is an active member of.
func (r *SpaceRepo) ListSpacesForUser(ctx context.Context, userID int) ([]models.Space, error) {
	var spaces []models.Space
	err := r.db.SelectContext(ctx, &spaces, `SELECT s.id, s.name, s.description, s.admin_id, s.room_id, s.created_at
        FROM spaces s
        INNER JOIN participants p ON p.room_id = s.room_id
        WHERE p.user_id=$1 AND p.active = TRUE
        ORDER BY s.created_at DESC`, userID)
	return spaces, err
}
