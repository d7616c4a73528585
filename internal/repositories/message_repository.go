package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"space-chat/internal/models"
)

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListMessages(ctx context.Context, roomID int, limit, offset int) ([]models.Message, error)
	SearchMessages(ctx context.Context, roomID int, query string, limit, offset int) ([]models.Message, error)
	UpdateMessageContent(ctx context.Context, messageID int, content string) (models.Message, error)
	MarkMessageDeleted(ctx context.Context, messageID int) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_id, user_id, seq, content, type, is_deleted, edited_at, created_at`

// CreateMessage allocates the next room sequence number and stores the
// message in the same transaction.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var seq int64
	err = tx.GetContext(ctx, &seq, `UPDATE rooms SET last_seq = last_seq + 1 WHERE id=$1 RETURNING last_seq`, msg.RoomID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrRoomNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	var created models.Message
	if err = tx.GetContext(ctx, &created, `INSERT INTO messages (room_id, user_id, seq, content, type) VALUES ($1, $2, $3, $4, $5) RETURNING `+messageColumns,
		msg.RoomID, msg.UserID, seq, msg.Content, msg.Type); err != nil {
		return models.Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return created, nil
}

// GetMessage retrieves a single message, tombstoned or not.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessages returns a page of the most recent non-deleted messages in
// chronological order. Offset counts back from the newest message.
func (r *MessageRepo) ListMessages(ctx context.Context, roomID int, limit, offset int) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM (
            SELECT `+messageColumns+` FROM messages
            WHERE room_id=$1 AND is_deleted = FALSE
            ORDER BY seq DESC LIMIT $2 OFFSET $3
        ) page ORDER BY seq ASC`, roomID, limit, offset)
	return msgs, err
}

// SearchMessages is ListMessages filtered by a case-insensitive substring.
func (r *MessageRepo) SearchMessages(ctx context.Context, roomID int, query string, limit, offset int) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM (
            SELECT `+messageColumns+` FROM messages
            WHERE room_id=$1 AND is_deleted = FALSE AND content ILIKE $2 ESCAPE '\'
            ORDER BY seq DESC LIMIT $3 OFFSET $4
        ) page ORDER BY seq ASC`, roomID, "%"+escapeLike(query)+"%", limit, offset)
	return msgs, err
}

// UpdateMessageContent edits a live message.
func (r *MessageRepo) UpdateMessageContent(ctx context.Context, messageID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET content=$2, edited_at=NOW() WHERE id=$1 AND is_deleted = FALSE RETURNING `+messageColumns, messageID, content)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkMessageDeleted sets the tombstone flag.
func (r *MessageRepo) MarkMessageDeleted(ctx context.Context, messageID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_deleted = TRUE WHERE id=$1 AND is_deleted = FALSE`, messageID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
