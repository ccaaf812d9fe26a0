package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"chatsync/internal/apperr"
	"chatsync/internal/models"
)

// SendRequest is the body of a send call. ClientID carries the temporary id
// so the server can deduplicate retries and echo it back.
type SendRequest struct {
	ChatID     string             `json:"chat_id"`
	Kind       models.MessageKind `json:"kind,omitempty"`
	Content    string             `json:"content"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	ReplyTo    string             `json:"reply_to,omitempty"`
	ClientID   string             `json:"client_id,omitempty"`
}

// API is the server surface a Session needs.
type API interface {
	History(ctx context.Context, chatID string, page, limit int) (models.Page, error)
	Send(ctx context.Context, req SendRequest) (models.Message, error)
	Edit(ctx context.Context, messageID, content string) (models.Message, error)
	Delete(ctx context.Context, messageID string) error
	SetLiked(ctx context.Context, messageID string, liked bool) ([]string, error)
	MarkRead(ctx context.Context, messageID string) ([]models.Receipt, error)
}

// HTTPClient talks to the REST surface with a bearer token.
type HTTPClient struct {
	base  string
	token string
	http  *http.Client
}

var _ API = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, token string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{base: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	ErrorKind apperr.Kind     `json:"error_kind"`
}

func (c *HTTPClient) History(ctx context.Context, chatID string, page, limit int) (models.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var out models.Page
	err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(chatID)+"?"+q.Encode(), nil, &out)
	return out, err
}

func (c *HTTPClient) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPost, "/api/messages", req, &out)
	return out, err
}

func (c *HTTPClient) Edit(ctx context.Context, messageID, content string) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPut, "/api/messages/"+url.PathEscape(messageID), map[string]string{"content": content}, &out)
	return out, err
}

func (c *HTTPClient) Delete(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *HTTPClient) SetLiked(ctx context.Context, messageID string, liked bool) ([]string, error) {
	var out struct {
		Likes []string `json:"likes"`
	}
	err := c.do(ctx, http.MethodPut, "/api/messages/"+url.PathEscape(messageID)+"/like", map[string]bool{"liked": liked}, &out)
	return out.Likes, err
}

func (c *HTTPClient) MarkRead(ctx context.Context, messageID string) ([]models.Receipt, error) {
	var out struct {
		ReadBy []models.Receipt `json:"read_by"`
	}
	err := c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(messageID)+"/read", nil, &out)
	return out.ReadBy, err
}

func (c *HTTPClient) ListChats(ctx context.Context) ([]models.Chat, error) {
	var out []models.Chat
	err := c.do(ctx, http.MethodGet, "/api/chats", nil, &out)
	return out, err
}

// AccessDirect opens (or creates) the direct chat with userID.
func (c *HTTPClient) AccessDirect(ctx context.Context, userID string) (models.Chat, error) {
	var out models.Chat
	err := c.do(ctx, http.MethodPost, "/api/chats", map[string]string{"user_id": userID}, &out)
	return out, err
}

// do performs one call and decodes the envelope. Failures come back as
// *apperr.Error with the server's kind; transport faults are Transient.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.InvalidArgument, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return apperr.Wrap(apperr.Transient, "read response", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperr.Wrap(kindForStatus(resp.StatusCode), fmt.Sprintf("unexpected response (%d)", resp.StatusCode), err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		kind := env.ErrorKind
		if kind == "" {
			kind = kindForStatus(resp.StatusCode)
		}
		return apperr.New(kind, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperr.Wrap(apperr.Internal, "decode response", err)
	}
	return nil
}

func kindForStatus(status int) apperr.Kind {
	switch {
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return apperr.AccessDenied
	case status == http.StatusNotFound:
		return apperr.NotFound
	case status == http.StatusTooManyRequests || status >= 500:
		return apperr.Transient
	case status >= 400:
		return apperr.InvalidArgument
	}
	return apperr.Internal
}

// IsNotFound reports whether err means the target no longer exists.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, apperr.New(apperr.NotFound, ""))
}
