package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Permission is a named capability granted by a role.
type Permission string

const (
	PermChangeInfo        Permission = "change_info"
	PermDeleteSpace       Permission = "delete_space"
	PermAddMembers        Permission = "add_members"
	PermBanMembers        Permission = "ban_members"
	PermKickMembers       Permission = "kick_members"
	PermRestrictMembers   Permission = "restrict_members"
	PermManageRoles       Permission = "manage_roles"
	PermSendMessages      Permission = "send_messages"
	PermSendMedia         Permission = "send_media"
	PermSendStickers      Permission = "send_stickers"
	PermSendFiles         Permission = "send_files"
	PermEditOwnMessages   Permission = "edit_own_messages"
	PermDeleteOwnMessages Permission = "delete_own_messages"
	PermDeleteAnyMessages Permission = "delete_any_messages"
	PermPinMessages       Permission = "pin_messages"
	PermAddReactions      Permission = "add_reactions"
	PermMentionAll        Permission = "mention_all"
	PermCreateInvites     Permission = "create_invites"

	// PermAdmin grants every other capability.
	PermAdmin Permission = "admin"
)

// Catalogue lists every known capability in canonical order.
var Catalogue = []Permission{
	PermChangeInfo, PermDeleteSpace, PermAddMembers, PermBanMembers, PermKickMembers,
	PermRestrictMembers, PermManageRoles, PermSendMessages, PermSendMedia, PermSendStickers,
	PermSendFiles, PermEditOwnMessages, PermDeleteOwnMessages, PermDeleteAnyMessages,
	PermPinMessages, PermAddReactions, PermMentionAll, PermCreateInvites, PermAdmin,
}

var catalogueIndex = func() map[Permission]int {
	idx := make(map[Permission]int, len(Catalogue))
	for i, p := range Catalogue {
		idx[p] = i
	}
	return idx
}()

// PermissionSet is an ordered, duplicate-free set of capabilities.
// It is stored as a TEXT[] column.
type PermissionSet []Permission

// ParsePermissions validates names and returns them in canonical order.
func ParsePermissions(names []string) (PermissionSet, error) {
	present := make([]bool, len(Catalogue))
	for _, n := range names {
		i, ok := catalogueIndex[Permission(n)]
		if !ok {
			return nil, fmt.Errorf("unknown permission %q", n)
		}
		present[i] = true
	}
	set := PermissionSet{}
	for i, ok := range present {
		if ok {
			set = append(set, Catalogue[i])
		}
	}
	return set, nil
}

// Has reports whether the set grants p directly.
func (s PermissionSet) Has(p Permission) bool {
	for _, have := range s {
		if have == p {
			return true
		}
	}
	return false
}

// Strings returns the set as plain names.
func (s PermissionSet) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = string(p)
	}
	return out
}

// Value implements driver.Valuer.
func (s PermissionSet) Value() (driver.Value, error) {
	return pq.StringArray(s.Strings()).Value()
}

// Scan implements sql.Scanner.
func (s *PermissionSet) Scan(src any) error {
	var raw pq.StringArray
	if err := raw.Scan(src); err != nil {
		return err
	}
	set, err := ParsePermissions(raw)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// Role is a space-scoped bundle of permissions. Higher priority means more authority.
type Role struct {
	ID          int           `db:"id" json:"id"`
	SpaceID     int           `db:"space_id" json:"space_id"`
	Name        string        `db:"name" json:"name"`
	Permissions PermissionSet `db:"permissions" json:"permissions"`
	Priority    int           `db:"priority" json:"priority"`
	IsSystem    bool          `db:"is_system" json:"is_system"`
	IsDefault   bool          `db:"is_default" json:"is_default"`
	Color       string        `db:"color" json:"color"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// RoleAssignment links a user to their single role in a space.
type RoleAssignment struct {
	UserID     int       `db:"user_id" json:"user_id"`
	SpaceID    int       `db:"space_id" json:"space_id"`
	RoleID     int       `db:"role_id" json:"role_id"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
}
