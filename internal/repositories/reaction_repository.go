package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"space-chat/internal/models"
)

// ReactionRepository abstracts message reactions.
type ReactionRepository interface {
	ToggleReaction(ctx context.Context, messageID, userID int, reaction string) (string, error)
	CountReactions(ctx context.Context, messageID int) ([]models.ReactionCount, error)
}

// ReactionRepo is a sqlx implementation of ReactionRepository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs a ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// ToggleReaction removes the user's reaction if it matches, replaces it if it
// differs, or adds it. It returns the user's reaction afterwards, "" if removed.
func (r *ReactionRepo) ToggleReaction(ctx context.Context, messageID, userID int, reaction string) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var current string
	err = tx.GetContext(ctx, &current, `SELECT reaction FROM reactions WHERE message_id=$1 AND user_id=$2 FOR UPDATE`, messageID, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `INSERT INTO reactions (message_id, user_id, reaction) VALUES ($1, $2, $3)`, messageID, userID, reaction)
		current = reaction
	case err != nil:
		return "", err
	case current == reaction:
		_, err = tx.ExecContext(ctx, `DELETE FROM reactions WHERE message_id=$1 AND user_id=$2`, messageID, userID)
		current = ""
	default:
		_, err = tx.ExecContext(ctx, `UPDATE reactions SET reaction=$3, created_at=NOW() WHERE message_id=$1 AND user_id=$2`, messageID, userID, reaction)
		current = reaction
	}
	if err != nil {
		return "", err
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return current, nil
}

// CountReactions aggregates the reactions of a message, most used first.
func (r *ReactionRepo) CountReactions(ctx context.Context, messageID int) ([]models.ReactionCount, error) {
	counts := []models.ReactionCount{}
	err := r.db.SelectContext(ctx, &counts, `SELECT reaction, COUNT(*) AS count FROM reactions WHERE message_id=$1 GROUP BY reaction ORDER BY count DESC, reaction ASC`, messageID)
	return counts, err
}
