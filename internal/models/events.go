package models

// Server event types sent over the websocket.
const (
	EventNewMessage        = "new_message"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventUserKicked        = "user_kicked"
	EventUserBanned        = "user_banned"
	EventRoleAssigned      = "role_assigned"
	EventReactionUpdated   = "reaction_updated"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventUserStatusChanged = "user_status_changed"
	EventJoinedRoom        = "joined_room"
	EventPong              = "pong"
	EventError             = "error"
)

// Event is a server-to-client frame.
type Event struct {
	Type   string `json:"type"`
	RoomID int    `json:"room_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// NewMessagePayload is the data of new_message and message_edited.
type NewMessagePayload struct {
	Message
	Author Identity `json:"author"`
}

// MembershipPayload is the data of user_joined, user_left, user_kicked and user_banned.
type MembershipPayload struct {
	RoomID  int    `json:"room_id"`
	UserID  int    `json:"user_id"`
	ActorID int    `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// RoleAssignedPayload is the data of role_assigned.
type RoleAssignedPayload struct {
	SpaceID int  `json:"space_id"`
	UserID  int  `json:"user_id"`
	ActorID int  `json:"actor_id"`
	Role    Role `json:"role"`
}

// ReactionPayload is the data of reaction_updated.
type ReactionPayload struct {
	MessageID int             `json:"message_id"`
	UserID    int             `json:"user_id"`
	Reactions []ReactionCount `json:"reactions"`
}

// MessageDeletedPayload is the data of message_deleted.
type MessageDeletedPayload struct {
	MessageID int `json:"message_id"`
	ActorID   int `json:"actor_id"`
}

// StatusPayload is the data of user_status_changed.
type StatusPayload struct {
	UserID int    `json:"user_id"`
	Status string `json:"status"`
}

// ErrorPayload is the data of error.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ClientFrame is a client-to-server frame.
type ClientFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      ClientFrameData `json:"data"`
}

// ClientFrameData carries the union of client frame fields.
type ClientFrameData struct {
	RoomID    int    `json:"room_id"`
	MessageID int    `json:"message_id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Reaction  string `json:"reaction"`
}
