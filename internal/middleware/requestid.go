package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatsync/internal/observability"
)

const RequestIDHeader = "X-Request-ID"

// RequestID propagates or assigns a request id, echoes it in the response
// and stores it on the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set("request_id", requestID)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}
