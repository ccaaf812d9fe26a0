package ws

import (
	"context"
	"time"

	"chatsync/internal/events"
	"chatsync/internal/observability"
)

// ConnInfo describes one accepted socket. UserID is the identity verified at
// the handshake and is empty for anonymous connections.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// publishLifecycle reports ws_connect, ws_disconnect and ws_error to the
// event sink.
func (i ConnInfo) publishLifecycle(ctx context.Context, pub events.Publisher, event, reason string) {
	observability.IncWSEvent("lifecycle", event)
	if pub == nil {
		return
	}
	var duration int64
	if event != "ws_connect" {
		duration = time.Since(i.ConnectedAt).Milliseconds()
	}
	payload := map[string]any{
		"ws": map[string]any{
			"event":       event,
			"conn_id":     i.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]any{
			"user_id":   i.UserID,
			"device_id": i.DeviceID,
			"ip":        i.IP,
		},
	}
	env := events.NewEnvelope(ctx, "ws_events", event, payload)
	if env.RequestID == "" {
		env.RequestID = i.RequestID
	}
	_ = pub.Publish(context.WithoutCancel(ctx), "ws_events.connections", env)
}
