package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"chatsync/internal/observability"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Handler upgrades /ws requests and hands the socket to the hub.
type Handler struct {
	hub      *Hub
	tokens   TokenVerifier
	tokenOf  func(*http.Request) string
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler. tokenOf extracts the raw token from the
// handshake request.
func NewHandler(hub *Hub, tokens TokenVerifier, tokenOf func(*http.Request) string) *Handler {
	return &Handler{
		hub:     hub,
		tokens:  tokens,
		tokenOf: tokenOf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates the handshake, upgrades the connection and serves it
// until it closes.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chatsync/ws").Start(c.Request.Context(), "ws.handshake")
	traceID := span.SpanContext().TraceID()

	var userID string
	if token := h.tokenOf(c.Request); token != "" {
		id, err := h.tokens.Verify(token)
		if err != nil {
			span.End()
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}
		userID = id
	} else if !h.hub.opts.AllowAnonymousJoin {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	span.End()
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromContext(ctx),
		TraceID:     traceIDString(traceID),
		ConnectedAt: time.Now(),
	}
	h.hub.Attach(ctx, conn, info)
}

func traceIDString(id trace.TraceID) string {
	if !id.IsValid() {
		return ""
	}
	return id.String()
}
