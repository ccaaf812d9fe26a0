package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/models"
)

// ChatService is the part of the messaging core behind the chat routes.
type ChatService interface {
	ListChats(ctx context.Context, actorID string) ([]models.Chat, error)
	GetChat(ctx context.Context, actorID, chatID string) (models.Chat, error)
	AccessDirect(ctx context.Context, actorID, otherID string) (models.Chat, bool, error)
	CreateGroup(ctx context.Context, actorID, name string, userIDs []string) (models.Chat, error)
}

// ChatHandler manages direct and group chat endpoints.
type ChatHandler struct {
	chats ChatService
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chats ChatService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

// ListChats returns the chats visible to the authenticated user.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chats.ListChats(c.Request.Context(), actorID(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "chats fetched", chats)
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.chats.GetChat(c.Request.Context(), actorID(c), c.Param("chatId"))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "chat fetched", chat)
}

// AccessChat creates or returns the direct chat with another user.
func (h *ChatHandler) AccessChat(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id is required")
		return
	}

	chat, created, err := h.chats.AccessDirect(c.Request.Context(), actorID(c), req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	if created {
		respond(c, http.StatusCreated, "chat created", chat)
		return
	}
	respond(c, http.StatusOK, "chat fetched", chat)
}

// CreateGroup creates a named group with the caller as admin.
func (h *ChatHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name    string   `json:"name" binding:"required,max=100"`
		UserIDs []string `json:"user_ids" binding:"required,min=2,dive,required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name and at least two user_ids are required")
		return
	}

	chat, err := h.chats.CreateGroup(c.Request.Context(), actorID(c), req.Name, req.UserIDs)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "group created", chat)
}
