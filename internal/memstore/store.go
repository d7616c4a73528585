// Package memstore is an in-memory implementation of every repository,
// used by tests and by `serve` with db.driver=memory.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"space-chat/internal/apperrors"
	"space-chat/internal/models"
	"space-chat/internal/repositories"
)

type participantKey struct{ room, user int }
type assignmentKey struct{ user, space int }
type reactionKey struct{ message, user int }

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	nextID       int
	spaces       map[int]models.Space
	rooms        map[int]models.Room
	privatePairs map[[2]int]int // ordered user pair -> room id
	participants map[participantKey]models.Participant
	roles        map[int]models.Role
	assignments  map[assignmentKey]models.RoleAssignment
	bans         map[int]models.Ban
	messages     map[int]models.Message
	reactions    map[reactionKey]models.Reaction

	now func() time.Time
}

var (
	_ repositories.SpaceRepository    = (*Store)(nil)
	_ repositories.RoomRepository     = (*Store)(nil)
	_ repositories.RoleRepository     = (*Store)(nil)
	_ repositories.BanRepository      = (*Store)(nil)
	_ repositories.MessageRepository  = (*Store)(nil)
	_ repositories.ReactionRepository = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		spaces:       make(map[int]models.Space),
		rooms:        make(map[int]models.Room),
		privatePairs: make(map[[2]int]int),
		participants: make(map[participantKey]models.Participant),
		roles:        make(map[int]models.Role),
		assignments:  make(map[assignmentKey]models.RoleAssignment),
		bans:         make(map[int]models.Ban),
		messages:     make(map[int]models.Message),
		reactions:    make(map[reactionKey]models.Reaction),
		now:          time.Now,
	}
}

func (s *Store) id() int {
	s.nextID++
	return s.nextID
}

// CreateSpace implements repositories.SpaceRepository.
func (s *Store) CreateSpace(ctx context.Context, in repositories.NewSpace) (models.Space, error) {
	if len(in.Roles) == 0 {
		return models.Space{}, errors.New("space needs at least one role")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	space := models.Space{
		ID:          s.id(),
		Name:        in.Name,
		Description: in.Description,
		AdminID:     in.AdminID,
		CreatedAt:   now,
	}
	spaceID := space.ID
	room := models.Room{ID: s.id(), Kind: models.RoomGroup, SpaceID: &spaceID, CreatedAt: now}
	space.RoomID = room.ID
	s.spaces[space.ID] = space
	s.rooms[room.ID] = room

	var ownerRole int
	for i, role := range in.Roles {
		role.ID = s.id()
		role.SpaceID = space.ID
		role.CreatedAt = now
		s.roles[role.ID] = role
		if i == 0 {
			ownerRole = role.ID
		}
	}
	s.participants[participantKey{room.ID, in.AdminID}] = models.Participant{RoomID: room.ID, UserID: in.AdminID, Active: true, JoinedAt: now}
	s.assignments[assignmentKey{in.AdminID, space.ID}] = models.RoleAssignment{UserID: in.AdminID, SpaceID: space.ID, RoleID: ownerRole, AssignedAt: now}
	return space, nil
}

// GetSpace implements repositories.SpaceRepository.
func (s *Store) GetSpace(ctx context.Context, spaceID int) (models.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	space, ok := s.spaces[spaceID]
	if !ok {
		return models.Space{}, repositories.ErrSpaceNotFound
	}
	return space, nil
}

// ListSpacesForUser implements repositories.SpaceRepository.
func (s *Store) ListSpacesForUser(ctx context.Context, userID int) ([]models.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Space{}
	for _, space := range s.spaces {
		if p, ok := s.participants[participantKey{space.RoomID, userID}]; ok && p.Active {
			out = append(out, space)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// GetRoom implements repositories.RoomRepository.
func (s *Store) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return models.Room{}, repositories.ErrRoomNotFound
	}
	return room, nil
}

// CreateOrGetPrivateRoom implements repositories.RoomRepository.
func (s *Store) CreateOrGetPrivateRoom(ctx context.Context, userID int, peerID int) (models.Room, error) {
	if userID == peerID {
		return models.Room{}, fmt.Errorf("%w: cannot open a private room with yourself", apperrors.ErrInvalidInput)
	}
	pair := [2]int{userID, peerID}
	if pair[0] > pair[1] {
		pair[0], pair[1] = pair[1], pair[0]
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	roomID, ok := s.privatePairs[pair]
	if !ok {
		u1, u2 := pair[0], pair[1]
		room := models.Room{ID: s.id(), Kind: models.RoomPrivate, User1ID: &u1, User2ID: &u2, CreatedAt: now}
		s.rooms[room.ID] = room
		s.privatePairs[pair] = room.ID
		roomID = room.ID
	}
	for _, id := range pair {
		k := participantKey{roomID, id}
		p, ok := s.participants[k]
		if !ok {
			p = models.Participant{RoomID: roomID, UserID: id, JoinedAt: now}
		}
		p.Active = true
		s.participants[k] = p
	}
	return s.rooms[roomID], nil
}

// GetParticipant implements repositories.RoomRepository.
func (s *Store) GetParticipant(ctx context.Context, roomID int, userID int) (models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantKey{roomID, userID}]
	if !ok {
		return models.Participant{}, repositories.ErrParticipantNotFound
	}
	return p, nil
}

// ActivateParticipant implements repositories.RoomRepository.
func (s *Store) ActivateParticipant(ctx context.Context, roomID int, userID int) (models.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return models.Participant{}, false, repositories.ErrRoomNotFound
	}
	k := participantKey{roomID, userID}
	p, ok := s.participants[k]
	if ok && p.Active {
		return p, false, nil
	}
	p = models.Participant{RoomID: roomID, UserID: userID, Active: true, JoinedAt: s.now()}
	s.participants[k] = p
	return p, true, nil
}

// DeactivateParticipant implements repositories.RoomRepository.
func (s *Store) DeactivateParticipant(ctx context.Context, roomID int, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateLocked(roomID, userID), nil
}

func (s *Store) deactivateLocked(roomID, userID int) bool {
	k := participantKey{roomID, userID}
	p, ok := s.participants[k]
	if !ok || !p.Active {
		return false
	}
	p.Active = false
	s.participants[k] = p
	return true
}

// ListActive implements repositories.RoomRepository.
func (s *Store) ListActive(ctx context.Context, roomID int) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []models.Participant
	for k, p := range s.participants {
		if k.room == roomID && p.Active {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].JoinedAt.Equal(rows[j].JoinedAt) {
			return rows[i].JoinedAt.Before(rows[j].JoinedAt)
		}
		return rows[i].UserID < rows[j].UserID
	})
	ids := make([]int, 0, len(rows))
	for _, p := range rows {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

// IsActiveMember implements repositories.RoomRepository.
func (s *Store) IsActiveMember(ctx context.Context, roomID int, userID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantKey{roomID, userID}]
	return ok && p.Active, nil
}
