package models

import "time"

// Message types accepted by the pipeline.
const (
	MessageText    = "text"
	MessageImage   = "image"
	MessageVideo   = "video"
	MessageAudio   = "audio"
	MessageSticker = "sticker"
	MessageFile    = "file"
)

// Message is an append-only chat message. Deletion only sets IsDeleted.
type Message struct {
	ID        int        `db:"id" json:"id"`
	RoomID    int        `db:"room_id" json:"room_id"`
	UserID    int        `db:"user_id" json:"user_id"`
	Seq       int64      `db:"seq" json:"seq"`
	Content   string     `db:"content" json:"content"`
	Type      string     `db:"type" json:"type"`
	IsDeleted bool       `db:"is_deleted" json:"is_deleted"`
	EditedAt  *time.Time `db:"edited_at" json:"edited_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Reaction is one user's reaction to a message. A user holds at most one per message.
type Reaction struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Reaction  string    `db:"reaction" json:"reaction"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReactionCount aggregates reactions of one kind on a message.
type ReactionCount struct {
	Reaction string `db:"reaction" json:"reaction"`
	Count    int    `db:"count" json:"count"`
}

// Identity is the authenticated caller, taken from the bearer token.
type Identity struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
}
