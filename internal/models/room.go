package models

import "time"

// RoomKind distinguishes private conversations from space rooms.
type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// Room is a conversation holding messages and participants.
// Group rooms carry SpaceID, private rooms carry the ordered user pair.
type Room struct {
	ID        int       `db:"id" json:"id"`
	Kind      RoomKind  `db:"kind" json:"kind"`
	SpaceID   *int      `db:"space_id" json:"space_id,omitempty"`
	User1ID   *int      `db:"user1_id" json:"user1_id,omitempty"`
	User2ID   *int      `db:"user2_id" json:"user2_id,omitempty"`
	LastSeq   int64     `db:"last_seq" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsPrivateMember reports whether userID is one of the two users of a private room.
func (r Room) IsPrivateMember(userID int) bool {
	if r.Kind != RoomPrivate {
		return false
	}
	return (r.User1ID != nil && *r.User1ID == userID) || (r.User2ID != nil && *r.User2ID == userID)
}

// Participant is the soft membership record of a user in a room.
type Participant struct {
	RoomID   int       `db:"room_id" json:"room_id"`
	UserID   int       `db:"user_id" json:"user_id"`
	Active   bool      `db:"active" json:"active"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}
