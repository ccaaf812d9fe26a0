package ws

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chatsync/internal/models"
	"chatsync/internal/observability"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 * 1024
)

// Conn is the part of *websocket.Conn the pumps use.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one live connection.
type Client struct {
	id      string
	hub     *Hub
	conn    Conn
	send    chan []byte
	info    ConnInfo
	limiter *rate.Limiter

	// owned by the hub loop
	userID string
	rooms  map[string]struct{}
}

// readState is what the read goroutine knows about its own connection.
type readState struct {
	userID string
	rooms  map[string]struct{}
}

// Attach registers conn with the hub and serves it until it closes. The
// write side runs in its own goroutine; Attach returns when reading stops.
func (h *Hub) Attach(ctx context.Context, conn Conn, info ConnInfo) {
	c := &Client{
		id:      info.ConnID,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, h.opts.SendBuffer),
		info:    info,
		limiter: rate.NewLimiter(rate.Limit(h.opts.InboundRate), h.opts.InboundBurst),
		rooms:   make(map[string]struct{}),
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	info.publishLifecycle(ctx, h.events, "ws_connect", "")
	go c.writePump()
	reason := c.readPump(ctx)
	info.publishLifecycle(ctx, h.events, "ws_disconnect", reason)
}

// readPump decodes inbound frames until the connection fails and returns
// the close reason.
func (c *Client) readPump(ctx context.Context) string {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err.Error()
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	st := readState{rooms: make(map[string]struct{})}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.info.publishLifecycle(ctx, c.hub.events, "ws_error", err.Error())
			}
			return err.Error()
		}
		if !c.limiter.Allow() {
			observability.IncWSDropped()
			c.reject("", "rate limit exceeded")
			continue
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			c.reject("", "malformed frame")
			continue
		}
		observability.IncWSEvent("in", f.Event)
		if err := c.handle(ctx, &st, f); err != nil {
			c.reject(f.Event, err.Error())
		}
	}
}

func (c *Client) handle(ctx context.Context, st *readState, f Frame) error {
	switch f.Event {
	case models.EventJoin:
		var p models.JoinPayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		userID, err := c.resolveIdentity(strings.TrimSpace(p.UserID))
		if err != nil {
			return err
		}
		st.userID = userID
		c.hub.submit(op{kind: opJoin, client: c, userID: userID})

	case models.EventJoinChat:
		chatID, err := chatIDOf(f.Data)
		if err != nil {
			return err
		}
		if st.userID == "" {
			return errors.New("join before subscribing to chats")
		}
		if err := c.authorizeRoom(ctx, chatID, st.userID); err != nil {
			return err
		}
		st.rooms[chatID] = struct{}{}
		c.hub.submit(op{kind: opJoinRoom, client: c, chatID: chatID})

	case models.EventLeaveChat:
		chatID, err := chatIDOf(f.Data)
		if err != nil {
			return err
		}
		delete(st.rooms, chatID)
		c.hub.submit(op{kind: opLeaveRoom, client: c, chatID: chatID})

	default:
		name, ok := relayed[f.Event]
		if !ok {
			return errors.New("unknown event")
		}
		chatID, err := chatIDOf(f.Data)
		if err != nil {
			return err
		}
		if _, ok := st.rooms[chatID]; c.hub.opts.VerifyRoomMembership && !ok {
			return errors.New("join the chat first")
		}
		if st.userID == "" {
			return errors.New("join before sending")
		}
		data, err := json.Marshal(Frame{Event: name, From: st.userID, Data: f.Data})
		if err != nil {
			return err
		}
		c.hub.submit(op{kind: opRelay, client: c, chatID: chatID, data: data})
	}
	return nil
}

// resolveIdentity binds the socket to its handshake identity. A declared id
// is only trusted for anonymous sockets when that mode is enabled.
func (c *Client) resolveIdentity(declared string) (string, error) {
	if c.info.UserID != "" {
		if declared != "" && declared != c.info.UserID {
			return "", errors.New("user id does not match the authenticated session")
		}
		return c.info.UserID, nil
	}
	if !c.hub.opts.AllowAnonymousJoin {
		return "", errors.New("authentication required")
	}
	if declared == "" {
		return "", errors.New("user id is required")
	}
	return declared, nil
}

func (c *Client) authorizeRoom(ctx context.Context, chatID, userID string) error {
	if !c.hub.opts.VerifyRoomMembership || c.hub.rooms == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.hub.opts.StoreTimeout)
	defer cancel()
	ok, err := c.hub.rooms.IsMember(ctx, chatID, userID)
	if err != nil {
		return errors.New("could not verify chat membership")
	}
	if !ok {
		return errors.New("you are not a member of this chat")
	}
	return nil
}

func (c *Client) reject(event, msg string) {
	c.hub.submit(op{kind: opDirect, client: c, data: errorFrame(event, msg)})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New("malformed data")
	}
	return nil
}

func chatIDOf(data json.RawMessage) (string, error) {
	var p struct {
		ChatID string `json:"chat_id"`
	}
	if err := decode(data, &p); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.ChatID) == "" {
		return "", errors.New("chat_id is required")
	}
	return p.ChatID, nil
}
