package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"space-chat/internal/apperrors"
	"space-chat/internal/observability"
	"space-chat/internal/telemetry"
)

// SessionInspector reports live websocket sessions on this node.
type SessionInspector interface {
	Count() int
	Rooms(connID string) []int
}

// PresenceChecker answers whether a user has a live session on any node.
type PresenceChecker interface {
	Online(ctx context.Context, userID int) (bool, error)
}

// LockCounter reports how many room locks are held or awaited.
type LockCounter interface {
	Len() int
}

// DebugDeps are the components the debug routes inspect.
type DebugDeps struct {
	Audit    *telemetry.AuditEmitter
	Sessions SessionInspector
	Presence PresenceChecker
	Locks    LockCounter
	NodeID   string
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, deps DebugDeps, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if deps.Audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		ctx := observability.ContextWithRequestID(c.Request.Context(), requestIDFromContext(c))
		deps.Audit.Record(ctx, telemetry.Record{
			ActorID: actorFromContext(c),
			AuditPayload: telemetry.AuditPayload{
				Text:   "audit test",
				Action: "debug_audit_test",
				Fields: map[string]any{"node_id": deps.NodeID},
			},
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node_id":    deps.NodeID,
			"sessions":   deps.Sessions.Count(),
			"room_locks": deps.Locks.Len(),
		})
	})

	router.GET("/debug/sessions/:conn_id", func(c *gin.Context) {
		rooms := deps.Sessions.Rooms(c.Param("conn_id"))
		if rooms == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conn_id": c.Param("conn_id"), "rooms": rooms})
	})

	router.GET("/debug/presence/:user_id", func(c *gin.Context) {
		userID, ok := pathID(c, "user_id")
		if !ok {
			return
		}
		online, err := deps.Presence.Online(c.Request.Context(), userID)
		if err != nil {
			respondError(c, apperrors.Store("presence lookup", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": online})
	})
}
