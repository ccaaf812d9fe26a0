package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "debug.audit_test", actorID(c), "audit test", map[string]string{
			"request_id": requestIDFromContext(c),
		})
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "ok"})
	})
}
