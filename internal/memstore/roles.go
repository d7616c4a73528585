package memstore

import (
	"context"
	"sort"
	"time"

	"space-chat/internal/models"
	"space-chat/internal/repositories"
)

// ListRoles implements repositories.RoleRepository.
func (s *Store) ListRoles(ctx context.Context, spaceID int) ([]models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := []models.Role{}
	for _, r := range s.roles {
		if r.SpaceID == spaceID {
			roles = append(roles, r)
		}
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].ID < roles[j].ID
	})
	return roles, nil
}

// GetRole implements repositories.RoleRepository.
func (s *Store) GetRole(ctx context.Context, roleID int) (models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return models.Role{}, repositories.ErrRoleNotFound
	}
	return r, nil
}

// GetDefaultRole implements repositories.RoleRepository.
func (s *Store) GetDefaultRole(ctx context.Context, spaceID int) (models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found models.Role
	for _, r := range s.roles {
		if r.SpaceID == spaceID && r.IsDefault && (found.ID == 0 || r.ID < found.ID) {
			found = r
		}
	}
	if found.ID == 0 {
		return models.Role{}, repositories.ErrRoleNotFound
	}
	return found, nil
}

// CreateRole implements repositories.RoleRepository.
func (s *Store) CreateRole(ctx context.Context, role models.Role) (models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[role.SpaceID]; !ok {
		return models.Role{}, repositories.ErrSpaceNotFound
	}
	role.ID = s.id()
	role.CreatedAt = s.now()
	s.roles[role.ID] = role
	return role, nil
}

// UpdateRole implements repositories.RoleRepository.
func (s *Store) UpdateRole(ctx context.Context, role models.Role) (models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.roles[role.ID]
	if !ok {
		return models.Role{}, repositories.ErrRoleNotFound
	}
	cur.Name = role.Name
	cur.Permissions = role.Permissions
	cur.Priority = role.Priority
	cur.Color = role.Color
	s.roles[cur.ID] = cur
	return cur, nil
}

// DeleteRole implements repositories.RoleRepository.
func (s *Store) DeleteRole(ctx context.Context, roleID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return repositories.ErrRoleNotFound
	}
	for k, a := range s.assignments {
		if a.RoleID == roleID {
			delete(s.assignments, k)
		}
	}
	delete(s.roles, roleID)
	return nil
}

// GetAssignedRole implements repositories.RoleRepository.
func (s *Store) GetAssignedRole(ctx context.Context, userID, spaceID int) (models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[assignmentKey{userID, spaceID}]
	if !ok {
		return models.Role{}, repositories.ErrAssignmentNotFound
	}
	r, ok := s.roles[a.RoleID]
	if !ok {
		return models.Role{}, repositories.ErrAssignmentNotFound
	}
	return r, nil
}

// AssignRole implements repositories.RoleRepository.
func (s *Store) AssignRole(ctx context.Context, userID, spaceID, roleID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return repositories.ErrRoleNotFound
	}
	s.assignments[assignmentKey{userID, spaceID}] = models.RoleAssignment{UserID: userID, SpaceID: spaceID, RoleID: roleID, AssignedAt: s.now()}
	return nil
}

// AssignRoleIfAbsent implements repositories.RoleRepository.
func (s *Store) AssignRoleIfAbsent(ctx context.Context, userID, spaceID, roleID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := assignmentKey{userID, spaceID}
	if _, ok := s.assignments[k]; ok {
		return nil
	}
	if _, ok := s.roles[roleID]; !ok {
		return repositories.ErrRoleNotFound
	}
	s.assignments[k] = models.RoleAssignment{UserID: userID, SpaceID: spaceID, RoleID: roleID, AssignedAt: s.now()}
	return nil
}

// Assignments returns every role assignment of a user. Tests use it to
// check the one-role-per-space invariant.
func (s *Store) Assignments(userID int) []models.RoleAssignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RoleAssignment
	for k, a := range s.assignments {
		if k.user == userID {
			out = append(out, a)
		}
	}
	return out
}

// BanUser implements repositories.BanRepository.
func (s *Store) BanUser(ctx context.Context, ban models.Ban, roomID int) (models.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ban.ID = s.id()
	ban.CreatedAt = s.now()
	s.bans[ban.ID] = ban
	s.deactivateLocked(roomID, ban.UserID)
	return ban, nil
}

// ActiveBan implements repositories.BanRepository.
func (s *Store) ActiveBan(ctx context.Context, userID, spaceID int, now time.Time) (models.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bans {
		if b.UserID == userID && b.SpaceID == spaceID && b.InEffect(now) {
			return b, nil
		}
	}
	return models.Ban{}, repositories.ErrBanNotFound
}

// DeleteBans implements repositories.BanRepository.
func (s *Store) DeleteBans(ctx context.Context, userID, spaceID int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, b := range s.bans {
		if b.UserID == userID && b.SpaceID == spaceID {
			delete(s.bans, id)
			n++
		}
	}
	return n, nil
}
