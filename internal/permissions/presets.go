package permissions

import "space-chat/internal/models"

// Preset priorities.
const (
	OwnerPriority      = 100
	AdminPriority      = 80
	ModeratorPriority  = 60
	MemberPriority     = 10
	RestrictedPriority = 5
)

// Presets returns the roles seeded into every new space. The first entry
// is assigned to the space creator; the entry with IsDefault is assigned
// lazily to everyone else.
func Presets() []models.Role {
	owner := make(models.PermissionSet, len(models.Catalogue))
	copy(owner, models.Catalogue)

	return []models.Role{
		{
			Name:        "Owner",
			Permissions: owner,
			Priority:    OwnerPriority,
			IsSystem:    true,
			Color:       "#FF0000",
		},
		{
			Name: "Admin",
			Permissions: models.PermissionSet{
				models.PermChangeInfo, models.PermAddMembers, models.PermBanMembers,
				models.PermKickMembers, models.PermRestrictMembers, models.PermSendMessages,
				models.PermSendMedia, models.PermSendStickers, models.PermSendFiles,
				models.PermEditOwnMessages, models.PermDeleteOwnMessages, models.PermDeleteAnyMessages,
				models.PermPinMessages, models.PermAddReactions, models.PermCreateInvites,
			},
			Priority: AdminPriority,
			Color:    "#FFA500",
		},
		{
			Name: "Moderator",
			Permissions: models.PermissionSet{
				models.PermKickMembers, models.PermRestrictMembers, models.PermSendMessages,
				models.PermSendMedia, models.PermSendStickers, models.PermSendFiles,
				models.PermEditOwnMessages, models.PermDeleteOwnMessages, models.PermDeleteAnyMessages,
				models.PermPinMessages, models.PermAddReactions,
			},
			Priority: ModeratorPriority,
			Color:    "#00FF00",
		},
		{
			Name: "Member",
			Permissions: models.PermissionSet{
				models.PermSendMessages, models.PermSendMedia, models.PermSendStickers,
				models.PermSendFiles, models.PermEditOwnMessages, models.PermDeleteOwnMessages,
				models.PermAddReactions,
			},
			Priority:  MemberPriority,
			IsSystem:  true,
			IsDefault: true,
			Color:     "#0000FF",
		},
		{
			Name:        "Restricted",
			Permissions: models.PermissionSet{},
			Priority:    RestrictedPriority,
			Color:       "#808080",
		},
	}
}

// ForMessageType returns the capability needed to send a message of the given type.
func ForMessageType(msgType string) (models.Permission, bool) {
	switch msgType {
	case models.MessageText:
		return models.PermSendMessages, true
	case models.MessageImage, models.MessageVideo, models.MessageAudio:
		return models.PermSendMedia, true
	case models.MessageSticker:
		return models.PermSendStickers, true
	case models.MessageFile:
		return models.PermSendFiles, true
	}
	return "", false
}
