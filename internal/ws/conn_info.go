package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"space-chat/internal/observability"
)

// ConnInfo is the transport metadata of a live session, used for ws lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// newConnInfo describes a connection being upgraded from r. Each
// connection gets a fresh id even when a user reconnects from the same device.
func newConnInfo(ctx context.Context, r *http.Request, userID int) ConnInfo {
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(r),
		IP:          observability.IPFromRequest(r),
		RequestID:   observability.RequestIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		info.TraceID = sc.TraceID().String()
	}
	return info
}
