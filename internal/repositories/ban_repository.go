package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"space-chat/internal/models"
)

// BanRepository abstracts bans.
type BanRepository interface {
	BanUser(ctx context.Context, ban models.Ban, roomID int) (models.Ban, error)
	ActiveBan(ctx context.Context, userID, spaceID int, now time.Time) (models.Ban, error)
	DeleteBans(ctx context.Context, userID, spaceID int) (int64, error)
}

// BanRepo is a sqlx implementation of BanRepository.
type BanRepo struct {
	db *sqlx.DB
}

// NewBanRepo constructs a BanRepo.
func NewBanRepo(db *sqlx.DB) *BanRepo {
	return &BanRepo{db: db}
}

const banColumns = `id, user_id, space_id, banned_by, reason, until, created_at`

// BanUser records the ban and deactivates the user's participant row in the
// space room atomically.
func (r *BanRepo) BanUser(ctx context.Context, ban models.Ban, roomID int) (models.Ban, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Ban{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var created models.Ban
	if err = tx.GetContext(ctx, &created, `INSERT INTO bans (user_id, space_id, banned_by, reason, until) VALUES ($1, $2, $3, $4, $5) RETURNING `+banColumns,
		ban.UserID, ban.SpaceID, ban.BannedBy, ban.Reason, ban.Until); err != nil {
		return models.Ban{}, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE participants SET active = FALSE WHERE room_id=$1 AND user_id=$2`, roomID, ban.UserID); err != nil {
		return models.Ban{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Ban{}, err
	}
	return created, nil
}

// ActiveBan returns a ban that is in effect at now: no expiry, or expiry after now.
func (r *BanRepo) ActiveBan(ctx context.Context, userID, spaceID int, now time.Time) (models.Ban, error) {
	var ban models.Ban
	err := r.db.GetContext(ctx, &ban, `SELECT `+banColumns+` FROM bans
        WHERE user_id=$1 AND space_id=$2 AND (until IS NULL OR until > $3)
        ORDER BY until DESC NULLS FIRST LIMIT 1`, userID, spaceID, now)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ban{}, ErrBanNotFound
	}
	return ban, err
}

// DeleteBans lifts every ban of the user in the space.
func (r *BanRepo) DeleteBans(ctx context.Context, userID, spaceID int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bans WHERE user_id=$1 AND space_id=$2`, userID, spaceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
