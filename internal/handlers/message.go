package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chatsync/internal/messaging"
	"chatsync/internal/models"
)

// MessageService is the part of the messaging core behind the message routes.
type MessageService interface {
	List(ctx context.Context, actorID, chatID string, page, limit int) (models.Page, error)
	Send(ctx context.Context, in messaging.SendInput) (models.Message, error)
	SendAttachment(ctx context.Context, in messaging.AttachmentInput) (models.Message, error)
	Edit(ctx context.Context, actorID, messageID, content string) (models.Message, error)
	Delete(ctx context.Context, actorID, messageID string) error
	ToggleLike(ctx context.Context, actorID, messageID string) ([]string, error)
	SetLiked(ctx context.Context, actorID, messageID string, liked bool) ([]string, error)
	MarkRead(ctx context.Context, actorID, messageID string) ([]models.Receipt, error)
}

type MessageHandler struct {
	messages       MessageService
	maxUploadBytes int64
}

func NewMessageHandler(messages MessageService, maxUploadBytes int64) *MessageHandler {
	return &MessageHandler{messages: messages, maxUploadBytes: maxUploadBytes}
}

// ListMessages returns one page of history, oldest first.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		badRequest(c, "page must be a number")
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, "limit must be a number")
		return
	}

	result, err := h.messages.List(c.Request.Context(), actorID(c), c.Param("chatId"), page, limit)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "messages fetched", result)
}

type sendRequest struct {
	ChatID     string             `json:"chat_id" binding:"required"`
	Kind       models.MessageKind `json:"kind"`
	Content    string             `json:"content"`
	Attachment *models.Attachment `json:"attachment"`
	ReplyTo    string             `json:"reply_to"`
	ClientID   string             `json:"client_id"`
}

// SendMessage stores a message and returns the canonical record.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "chat_id is required")
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), messaging.SendInput{
		ActorID:    actorID(c),
		ChatID:     req.ChatID,
		Kind:       req.Kind,
		Content:    req.Content,
		Attachment: req.Attachment,
		ReplyToID:  req.ReplyTo,
		ClientID:   req.ClientID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "message sent", msg)
}

// UploadMessage accepts a multipart file and sends it as an attachment
// message.
func (h *MessageHandler) UploadMessage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(c, "file is too large")
			return
		}
		badRequest(c, "file is required")
		return
	}
	if header.Size > h.maxUploadBytes {
		badRequest(c, "file is too large")
		return
	}
	f, err := header.Open()
	if err != nil {
		badRequest(c, "could not read file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		badRequest(c, "could not read file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	msg, err := h.messages.SendAttachment(c.Request.Context(), messaging.AttachmentInput{
		ActorID:     actorID(c),
		ChatID:      c.PostForm("chat_id"),
		Data:        data,
		ContentType: contentType,
		FileName:    header.Filename,
		ReplyToID:   c.PostForm("reply_to"),
		ClientID:    c.PostForm("client_id"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "file sent", msg)
}

func (h *MessageHandler) EditMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "content is required")
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), actorID(c), c.Param("id"), req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "message updated", msg)
}

func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("id")
	if err := h.messages.Delete(c.Request.Context(), actorID(c), messageID); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "message deleted", gin.H{"message_id": messageID})
}

// ToggleLike flips the caller's like. Clients that retry should use SetLike.
func (h *MessageHandler) ToggleLike(c *gin.Context) {
	likes, err := h.messages.ToggleLike(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "like toggled", gin.H{"message_id": c.Param("id"), "likes": likes})
}

func (h *MessageHandler) SetLike(c *gin.Context) {
	var req struct {
		Liked *bool `json:"liked" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "liked is required")
		return
	}

	likes, err := h.messages.SetLiked(c.Request.Context(), actorID(c), c.Param("id"), *req.Liked)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "like updated", gin.H{"message_id": c.Param("id"), "likes": likes})
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	readBy, err := h.messages.MarkRead(c.Request.Context(), actorID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "message read", gin.H{"message_id": c.Param("id"), "read_by": readBy})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
