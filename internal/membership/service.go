// Package membership owns room membership: the durable participant rows and
// the live subscriptions that mirror them.
package membership

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"space-chat/internal/apperrors"
	"space-chat/internal/models"
	"space-chat/internal/permissions"
	"space-chat/internal/repositories"
	"space-chat/internal/roomlock"
)

// Subscriptions is the node-local live subscription table.
type Subscriptions interface {
	Subscribe(connID string, roomID int) error
	Unsubscribe(connID string, roomID int)
}

// Notifier fans events out to sessions on every node.
type Notifier interface {
	ToRoom(ctx context.Context, roomID int, ev models.Event) error
	Evict(ctx context.Context, roomID, userID int, ev models.Event) error
}

// Service implements join, leave, kick and ban eviction. Every mutation of a
// room runs under that room's lock.
type Service struct {
	rooms  repositories.RoomRepository
	spaces repositories.SpaceRepository
	bans   repositories.BanRepository
	perms  *permissions.Evaluator
	subs   Subscriptions
	notify Notifier
	locks  *roomlock.Locker
	logger zerolog.Logger
}

// NewService constructs a Service.
func NewService(rooms repositories.RoomRepository, spaces repositories.SpaceRepository, bans repositories.BanRepository,
	perms *permissions.Evaluator, subs Subscriptions, notify Notifier, locks *roomlock.Locker) *Service {
	return &Service{
		rooms:  rooms,
		spaces: spaces,
		bans:   bans,
		perms:  perms,
		subs:   subs,
		notify: notify,
		locks:  locks,
		logger: log.With().Str("module", "membership").Logger(),
	}
}

// Join creates or reactivates the participant row after the ban check. With
// a non-empty connID the live session is subscribed as well.
func (s *Service) Join(ctx context.Context, userID, roomID int, connID string) (models.Participant, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return models.Participant{}, apperrors.Store("load room", err)
	}
	if err := s.admit(ctx, room, userID); err != nil {
		return models.Participant{}, err
	}

	// subscribe first: a failed subscribe must not leave an active row
	if connID != "" {
		if err := s.subs.Subscribe(connID, roomID); err != nil {
			return models.Participant{}, err
		}
	}
	p, changed, err := s.rooms.ActivateParticipant(ctx, roomID, userID)
	if err != nil {
		if connID != "" {
			s.subs.Unsubscribe(connID, roomID)
		}
		return models.Participant{}, apperrors.Store("activate participant", err)
	}
	if changed {
		s.emit(ctx, roomID, models.Event{
			Type:   models.EventUserJoined,
			RoomID: roomID,
			Data:   models.MembershipPayload{RoomID: roomID, UserID: userID},
		})
	}

	if connID != "" {
		// a kick committed on another node right after activation must not
		// leave a live subscription behind
		active, err := s.rooms.IsActiveMember(ctx, roomID, userID)
		if err != nil {
			s.logger.Warn().Err(err).Int("room_id", roomID).Int("user_id", userID).Msg("membership re-check failed")
		} else if !active {
			s.subs.Unsubscribe(connID, roomID)
			return models.Participant{}, apperrors.ErrNotParticipant
		}
	}

	s.logger.Debug().Int("room_id", roomID).Int("user_id", userID).Str("conn_id", connID).Bool("changed", changed).Msg("join")
	return p, nil
}

func (s *Service) admit(ctx context.Context, room models.Room, userID int) error {
	switch room.Kind {
	case models.RoomPrivate:
		if !room.IsPrivateMember(userID) {
			return fmt.Errorf("%w: private room", apperrors.ErrPermissionDenied)
		}
		return nil
	case models.RoomGroup:
		if room.SpaceID == nil {
			return fmt.Errorf("room %d has no space", room.ID)
		}
		space, err := s.spaces.GetSpace(ctx, *room.SpaceID)
		if err != nil {
			return apperrors.Store("load space", err)
		}
		// resolving the authority assigns the default role to first-time joiners
		_, err = s.perms.Gate(ctx, userID, space, "")
		return apperrors.Store("admit", err)
	}
	return fmt.Errorf("unknown room kind %q", room.Kind)
}

// Leave deactivates the participant and unsubscribes every session of the user.
func (s *Service) Leave(ctx context.Context, userID, roomID int) error {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	changed, err := s.rooms.DeactivateParticipant(ctx, roomID, userID)
	if err != nil {
		return apperrors.Store("deactivate participant", err)
	}
	if !changed {
		return apperrors.ErrNotParticipant
	}
	ev := models.Event{
		Type:   models.EventUserLeft,
		RoomID: roomID,
		Data:   models.MembershipPayload{RoomID: roomID, UserID: userID},
	}
	s.evict(ctx, roomID, userID, ev)
	s.emit(ctx, roomID, ev)
	return nil
}

// Kick deactivates the participant without touching bans. The bool reports
// whether the user was an active member.
func (s *Service) Kick(ctx context.Context, userID, roomID, actorID int) (bool, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	changed, err := s.rooms.DeactivateParticipant(ctx, roomID, userID)
	if err != nil {
		return false, apperrors.Store("deactivate participant", err)
	}
	if !changed {
		return false, nil
	}
	ev := models.Event{
		Type:   models.EventUserKicked,
		RoomID: roomID,
		Data:   models.MembershipPayload{RoomID: roomID, UserID: userID, ActorID: actorID},
	}
	s.evict(ctx, roomID, userID, ev)
	s.emit(ctx, roomID, ev)
	return true, nil
}

// Ban stores the ban, deactivates the participant in one write and evicts
// the user's live sessions from the room.
func (s *Service) Ban(ctx context.Context, ban models.Ban, roomID int) (models.Ban, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	created, err := s.bans.BanUser(ctx, ban, roomID)
	if err != nil {
		return models.Ban{}, apperrors.Store("ban user", err)
	}
	ev := models.Event{
		Type:   models.EventUserBanned,
		RoomID: roomID,
		Data:   models.MembershipPayload{RoomID: roomID, UserID: ban.UserID, ActorID: ban.BannedBy, Reason: ban.Reason},
	}
	s.evict(ctx, roomID, ban.UserID, ev)
	s.emit(ctx, roomID, ev)
	return created, nil
}

// ListActive returns the active participants of a room.
func (s *Service) ListActive(ctx context.Context, roomID int) ([]int, error) {
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, apperrors.Store("load room", err)
	}
	ids, err := s.rooms.ListActive(ctx, roomID)
	if err != nil {
		return nil, apperrors.Store("list participants", err)
	}
	return ids, nil
}

// IsActiveMember reports whether userID may currently act in roomID.
func (s *Service) IsActiveMember(ctx context.Context, userID, roomID int) (bool, error) {
	ok, err := s.rooms.IsActiveMember(ctx, roomID, userID)
	if err != nil {
		return false, apperrors.Store("membership lookup", err)
	}
	return ok, nil
}

// OpenPrivateRoom returns the private room between two users, creating it on first use.
func (s *Service) OpenPrivateRoom(ctx context.Context, userID, peerID int) (models.Room, error) {
	if peerID <= 0 {
		return models.Room{}, fmt.Errorf("%w: peer_id is required", apperrors.ErrInvalidInput)
	}
	room, err := s.rooms.CreateOrGetPrivateRoom(ctx, userID, peerID)
	if err != nil {
		return models.Room{}, apperrors.Store("open private room", err)
	}
	return room, nil
}

func (s *Service) evict(ctx context.Context, roomID, userID int, ev models.Event) {
	if err := s.notify.Evict(ctx, roomID, userID, ev); err != nil {
		s.logger.Warn().Err(err).Int("room_id", roomID).Int("user_id", userID).Msg("evict notification failed")
	}
}

func (s *Service) emit(ctx context.Context, roomID int, ev models.Event) {
	if err := s.notify.ToRoom(ctx, roomID, ev); err != nil {
		s.logger.Warn().Err(err).Int("room_id", roomID).Str("event", ev.Type).Msg("room notification failed")
	}
}
