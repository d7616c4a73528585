package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"space-chat/internal/apperrors"
	"space-chat/internal/models"
)

// RoomRepository abstracts rooms and the durable participant table.
type RoomRepository interface {
	GetRoom(ctx context.Context, roomID int) (models.Room, error)
	CreateOrGetPrivateRoom(ctx context.Context, userID int, peerID int) (models.Room, error)
	GetParticipant(ctx context.Context, roomID int, userID int) (models.Participant, error)
	ActivateParticipant(ctx context.Context, roomID int, userID int) (models.Participant, bool, error)
	DeactivateParticipant(ctx context.Context, roomID int, userID int) (bool, error)
	ListActive(ctx context.Context, roomID int) ([]int, error)
	IsActiveMember(ctx context.Context, roomID int, userID int) (bool, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, kind, space_id, user1_id, user2_id, last_seq, created_at`

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// CreateOrGetPrivateRoom returns the private room between two users, creating
// it if needed, and activates both participant rows.
func (r *RoomRepo) CreateOrGetPrivateRoom(ctx context.Context, userID int, peerID int) (models.Room, error) {
	if userID == peerID {
		return models.Room{}, fmt.Errorf("%w: cannot open a private room with yourself", apperrors.ErrInvalidInput)
	}
	pair := []int{userID, peerID}
	sort.Ints(pair)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var room models.Room
	if _, err = tx.ExecContext(ctx, `INSERT INTO rooms (kind, user1_id, user2_id) VALUES ($1, $2, $3) ON CONFLICT (user1_id, user2_id) DO NOTHING`,
		models.RoomPrivate, pair[0], pair[1]); err != nil {
		return models.Room{}, err
	}
	if err = tx.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE kind=$1 AND user1_id=$2 AND user2_id=$3`,
		models.RoomPrivate, pair[0], pair[1]); err != nil {
		return models.Room{}, err
	}
	for _, id := range pair {
		if _, err = tx.ExecContext(ctx, `INSERT INTO participants (room_id, user_id, active) VALUES ($1, $2, TRUE)
            ON CONFLICT (room_id, user_id) DO UPDATE SET active = TRUE`, room.ID, id); err != nil {
			return models.Room{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetParticipant fetches the participant row regardless of its active flag.
func (r *RoomRepo) GetParticipant(ctx context.Context, roomID int, userID int) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p, `SELECT room_id, user_id, active, joined_at FROM participants WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, err
}

// ActivateParticipant creates or reactivates the row. The bool reports
// whether the row was not active before.
func (r *RoomRepo) ActivateParticipant(ctx context.Context, roomID int, userID int) (models.Participant, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Participant{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var wasActive bool
	err = tx.GetContext(ctx, &wasActive, `SELECT active FROM participants WHERE room_id=$1 AND user_id=$2 FOR UPDATE`, roomID, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return models.Participant{}, false, err
	}

	var p models.Participant
	if err = tx.GetContext(ctx, &p, `INSERT INTO participants (room_id, user_id, active) VALUES ($1, $2, TRUE)
        ON CONFLICT (room_id, user_id) DO UPDATE
        SET active = TRUE, joined_at = CASE WHEN participants.active THEN participants.joined_at ELSE NOW() END
        RETURNING room_id, user_id, active, joined_at`, roomID, userID); err != nil {
		return models.Participant{}, false, err
	}

	if err = tx.Commit(); err != nil {
		return models.Participant{}, false, err
	}
	return p, !wasActive, nil
}

// DeactivateParticipant sets active=false. The bool reports whether an active row changed.
func (r *RoomRepo) DeactivateParticipant(ctx context.Context, roomID int, userID int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE participants SET active = FALSE WHERE room_id=$1 AND user_id=$2 AND active = TRUE`, roomID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListActive returns the ids of active participants ordered by join time.
func (r *RoomRepo) ListActive(ctx context.Context, roomID int) ([]int, error) {
	ids := []int{}
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM participants WHERE room_id=$1 AND active = TRUE ORDER BY joined_at ASC, user_id ASC`, roomID)
	return ids, err
}

// IsActiveMember checks for an active participant row.
func (r *RoomRepo) IsActiveMember(ctx context.Context, roomID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM participants WHERE room_id=$1 AND user_id=$2 AND active = TRUE)`, roomID, userID)
	return exists, err
}
