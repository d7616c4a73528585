package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"space-chat/internal/middleware"
	"space-chat/internal/observability"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// actorFromContext returns the authenticated user, falling back to the
// X-User-ID header on routes mounted outside the auth group.
func actorFromContext(c *gin.Context) int {
	if userID := c.GetInt(middleware.UserIDKey); userID != 0 {
		return userID
	}
	id, err := strconv.Atoi(c.GetHeader("X-User-ID"))
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// RequestID assigns every request an id, echoes it back and makes it
// visible to the services through the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := requestIDFromContext(c)
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(observability.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}
