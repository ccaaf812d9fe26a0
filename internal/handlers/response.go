package handlers

import (
	"github.com/gin-gonic/gin"

	"chatsync/internal/apperr"
	"chatsync/internal/logging"
)

func respond(c *gin.Context, status int, message string, data any) {
	body := gin.H{"success": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

// fail writes the failure envelope for err. Internal errors are logged and
// their detail is not exposed.
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal || kind == apperr.Transient || kind == apperr.UploadFailed {
		logging.Error().Err(err).
			Str("route", c.FullPath()).
			Str("request_id", requestIDFromContext(c)).
			Msg("request failed")
	}
	_ = c.Error(err)
	c.JSON(apperr.HTTPStatus(kind), gin.H{
		"success":    false,
		"message":    apperr.Message(err),
		"error_kind": kind,
	})
}

func badRequest(c *gin.Context, msg string) {
	fail(c, apperr.New(apperr.InvalidArgument, msg))
}
