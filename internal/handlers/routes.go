package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the REST API on group. The group must already run
// the auth middleware.
func RegisterRoutes(group gin.IRoutes, spaces *SpaceHandler, rooms *RoomHandler) {
	group.POST("/spaces", spaces.CreateSpace)
	group.GET("/spaces", spaces.ListSpaces)
	group.GET("/spaces/:space_id", spaces.GetSpace)
	group.POST("/spaces/:space_id/join", spaces.Join)
	group.POST("/spaces/:space_id/leave", spaces.Leave)
	group.GET("/spaces/:space_id/participants", spaces.Participants)
	group.POST("/spaces/:space_id/kick/:user_id", spaces.Kick)
	group.POST("/spaces/:space_id/ban/:user_id", spaces.Ban)
	group.DELETE("/spaces/:space_id/ban/:user_id", spaces.Unban)
	group.GET("/spaces/:space_id/roles", spaces.ListRoles)
	group.POST("/spaces/:space_id/roles", spaces.CreateRole)
	group.PATCH("/spaces/:space_id/roles/:role_id", spaces.UpdateRole)
	group.DELETE("/spaces/:space_id/roles/:role_id", spaces.DeleteRole)
	group.POST("/spaces/:space_id/assign-role/:user_id/:role_id", spaces.AssignRole)

	group.POST("/rooms/private", rooms.OpenPrivateRoom)
	group.GET("/rooms/:room_id/messages", rooms.ListMessages)
	group.POST("/rooms/:room_id/messages", rooms.PostMessage)
	group.PATCH("/rooms/:room_id/messages/:message_id", rooms.EditMessage)
	group.DELETE("/rooms/:room_id/messages/:message_id", rooms.DeleteMessage)
	group.POST("/messages/:message_id/reactions", rooms.React)
}
