package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chatsync/internal/apperr"
	"chatsync/internal/models"
	"chatsync/internal/repositories"
)

// OnlineLister reports the users with at least one live connection.
type OnlineLister interface {
	Online() []string
	IsOnline(userID string) bool
}

type UserReader interface {
	Get(ctx context.Context, userID string) (models.User, error)
	Search(ctx context.Context, actorID, query string, limit int) ([]models.User, error)
}

type userResult struct {
	models.User
	Online bool `json:"online"`
}

type UserHandler struct {
	users    UserReader
	presence OnlineLister
}

func NewUserHandler(users UserReader, presence OnlineLister) *UserHandler {
	return &UserHandler{users: users, presence: presence}
}

func (h *UserHandler) OnlineUsers(c *gin.Context) {
	respond(c, http.StatusOK, "online users fetched", gin.H{"user_ids": h.presence.Online()})
}

// SearchUsers lists other users whose name or email contains ?search=.
func (h *UserHandler) SearchUsers(c *gin.Context) {
	query := strings.TrimSpace(c.Query("search"))
	users, err := h.users.Search(c.Request.Context(), actorID(c), query, repositories.SearchLimit)
	if err != nil {
		fail(c, apperr.FromStore("search users", err))
		return
	}
	out := make([]userResult, 0, len(users))
	for _, u := range users {
		out = append(out, userResult{User: u, Online: h.presence.IsOnline(u.ID)})
	}
	respond(c, http.StatusOK, "users fetched", gin.H{"users": out})
}

// GetUser returns a profile with its live presence.
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repositories.ErrUserNotFound) {
		fail(c, apperr.New(apperr.NotFound, "user not found"))
		return
	}
	if repositories.IsMalformedInput(err) {
		fail(c, apperr.New(apperr.InvalidArgument, "malformed user id"))
		return
	}
	if err != nil {
		fail(c, apperr.FromStore("load user", err))
		return
	}
	respond(c, http.StatusOK, "user fetched", gin.H{
		"user":   user,
		"online": h.presence.IsOnline(user.ID),
	})
}
