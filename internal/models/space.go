package models

import "time"

// Space is a community bound to exactly one group room.
type Space struct {
	ID          int       `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	AdminID     int       `db:"admin_id" json:"admin_id"`
	RoomID      int       `db:"room_id" json:"room_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// IsAdmin reports whether userID is the space's originating admin.
func (s Space) IsAdmin(userID int) bool {
	return s.AdminID == userID
}

// Ban restricts a user in a space, optionally until a point in time.
type Ban struct {
	ID        int        `db:"id" json:"id"`
	UserID    int        `db:"user_id" json:"user_id"`
	SpaceID   int        `db:"space_id" json:"space_id"`
	BannedBy  int        `db:"banned_by" json:"banned_by"`
	Reason    string     `db:"reason" json:"reason"`
	Until     *time.Time `db:"until" json:"until,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// InEffect is true when the ban has no expiry or expires after now.
func (b Ban) InEffect(now time.Time) bool {
	return b.Until == nil || b.Until.After(now)
}
