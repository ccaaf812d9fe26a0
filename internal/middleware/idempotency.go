package middleware

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatsync/internal/cache"
	"chatsync/internal/logging"
)

const IdempotencyHeader = "Idempotency-Key"

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated Idempotency-Key
// from the same user. Only successful responses are kept; a failed attempt
// releases the key so it can be retried.
func Idempotency(store cache.IdempotencyStore, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > 128 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": "idempotency key is too long"})
			return
		}
		key = c.GetString("userID") + ":" + c.Request.Method + ":" + c.FullPath() + ":" + key
		ctx := c.Request.Context()

		if replay(c, store, key) {
			return
		}
		reserved, err := store.Reserve(ctx, key, ttl)
		if err != nil {
			logging.Warn().Err(err).Msg("idempotency store unavailable")
			c.Next()
			return
		}
		if !reserved {
			if replay(c, store, key) {
				return
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"success": false, "message": "a request with this idempotency key is in progress"})
			return
		}

		rec := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		status := rec.Status()
		if status >= 200 && status < 300 {
			resp := cache.StoredResponse{Status: status, ContentType: rec.Header().Get("Content-Type"), Body: rec.body.Bytes()}
			if err := store.Save(saveCtx, key, resp, ttl); err != nil {
				logging.Warn().Err(err).Msg("save idempotent response")
			}
			return
		}
		if err := store.Release(saveCtx, key); err != nil {
			logging.Warn().Err(err).Msg("release idempotency key")
		}
	}
}

func replay(c *gin.Context, store cache.IdempotencyStore, key string) bool {
	resp, ok, err := store.Load(c.Request.Context(), key)
	if err != nil || !ok {
		return false
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(resp.Status, resp.ContentType, resp.Body)
	c.Abort()
	return true
}
