package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"space-chat/internal/models"
	"space-chat/internal/observability"
)

var (
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrUnknownConnection   = errors.New("connection not registered")
)

// Session is one live connection of an authenticated user.
type Session struct {
	ConnID      string
	Identity    models.Identity
	ConnectedAt time.Time

	out   Outbound
	rooms map[int]struct{}
}

// Registry maps live connections to identities and room subscriptions.
// A user may hold several sessions; each receives every broadcast.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	users    map[int]map[string]*Session
	rooms    map[int]map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		users:    make(map[int]map[string]*Session),
		rooms:    make(map[int]map[string]*Session),
	}
}

// Register adds a session for an already validated identity. first is true
// when this is the user's only session on this node.
func (r *Registry) Register(connID string, id models.Identity, out Outbound) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[connID]; ok {
		return false, ErrDuplicateConnection
	}
	s := &Session{ConnID: connID, Identity: id, ConnectedAt: time.Now(), out: out, rooms: make(map[int]struct{})}
	r.sessions[connID] = s
	byUser, ok := r.users[id.UserID]
	if !ok {
		byUser = make(map[string]*Session)
		r.users[id.UserID] = byUser
	}
	byUser[connID] = s
	return len(byUser) == 1, nil
}

// Unregister drops the session and all its subscriptions. Participant rows
// are left alone. last is true when the user has no session left on this node.
func (r *Registry) Unregister(connID string) (rooms []int, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return nil, false, false
	}
	delete(r.sessions, connID)
	for roomID := range s.rooms {
		rooms = append(rooms, roomID)
		r.dropFromRoomLocked(roomID, connID)
	}
	byUser := r.users[s.Identity.UserID]
	delete(byUser, connID)
	if len(byUser) == 0 {
		delete(r.users, s.Identity.UserID)
		last = true
	}
	return rooms, last, true
}

// Subscribe adds the session to a room's fan-out set.
func (r *Registry) Subscribe(connID string, roomID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if !ok {
		return ErrUnknownConnection
	}
	s.rooms[roomID] = struct{}{}
	subs, ok := r.rooms[roomID]
	if !ok {
		subs = make(map[string]*Session)
		r.rooms[roomID] = subs
	}
	subs[connID] = s
	return nil
}

// Unsubscribe removes the session from a room.
func (r *Registry) Unsubscribe(connID string, roomID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[connID]; ok {
		delete(s.rooms, roomID)
	}
	r.dropFromRoomLocked(roomID, connID)
}

// UnsubscribeUser removes every session of userID from a room and returns
// the affected connection ids.
func (r *Registry) UnsubscribeUser(userID, roomID int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected []string
	for connID, s := range r.users[userID] {
		if _, ok := s.rooms[roomID]; !ok {
			continue
		}
		delete(s.rooms, roomID)
		r.dropFromRoomLocked(roomID, connID)
		affected = append(affected, connID)
	}
	return affected
}

func (r *Registry) dropFromRoomLocked(roomID int, connID string) {
	subs, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(r.rooms, roomID)
	}
}

// SessionsFor returns the connection ids subscribed to a room.
func (r *Registry) SessionsFor(roomID int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms[roomID]))
	for connID := range r.rooms[roomID] {
		ids = append(ids, connID)
	}
	return ids
}

// Rooms returns the rooms a session is subscribed to.
func (r *Registry) Rooms(connID string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return nil
	}
	rooms := make([]int, 0, len(s.rooms))
	for roomID := range s.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func snapshot(m map[string]*Session) []*Session {
	out := make([]*Session, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

// deliver enqueues payload on every target. A failing session never stops
// delivery to the rest.
func deliver(targets []*Session, payload []byte) (delivered, dropped int) {
	for _, s := range targets {
		if err := s.out.Send(payload); err != nil {
			dropped++
			observability.IncDeliveryDropped()
			log.Warn().Str("module", "ws").Str("conn_id", s.ConnID).Int("user_id", s.Identity.UserID).Err(err).Msg("dropping delivery")
			continue
		}
		delivered++
	}
	return delivered, dropped
}

// DeliverRoom sends payload to every session subscribed to roomID.
func (r *Registry) DeliverRoom(roomID int, payload []byte) (delivered, dropped int) {
	r.mu.RLock()
	targets := snapshot(r.rooms[roomID])
	r.mu.RUnlock()
	return deliver(targets, payload)
}

// DeliverUser sends payload to every session of userID.
func (r *Registry) DeliverUser(userID int, payload []byte) int {
	r.mu.RLock()
	targets := snapshot(r.users[userID])
	r.mu.RUnlock()
	n, _ := deliver(targets, payload)
	return n
}

// DeliverAll sends payload to every live session.
func (r *Registry) DeliverAll(payload []byte) int {
	r.mu.RLock()
	targets := snapshot(r.sessions)
	r.mu.RUnlock()
	n, _ := deliver(targets, payload)
	return n
}

// DeliverConn sends payload to one session.
func (r *Registry) DeliverConn(connID string, payload []byte) error {
	r.mu.RLock()
	s, ok := r.sessions[connID]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return s.out.Send(payload)
}

// CloseAll closes every live connection, used on shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	targets := snapshot(r.sessions)
	r.mu.RUnlock()
	for _, s := range targets {
		s.out.Close(code, reason)
	}
}
