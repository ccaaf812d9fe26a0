package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/events"
	"chatsync/internal/logging"
	"chatsync/internal/models"
	"chatsync/internal/observability"
	"chatsync/internal/presence"
)

// RoomAuthorizer checks chat membership before a connection joins a room.
type RoomAuthorizer interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

// LastSeenStore persists when a user's last connection went away.
type LastSeenStore interface {
	SetLastSeen(ctx context.Context, userID string, at time.Time) error
}

type Options struct {
	SendBuffer int
	// AllowAnonymousJoin trusts the user id declared in join when the
	// socket carries no verified identity.
	AllowAnonymousJoin   bool
	VerifyRoomMembership bool
	InboundRate          float64
	InboundBurst         int
	StoreTimeout         time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.InboundRate <= 0 {
		o.InboundRate = 20
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = 40
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	return o
}

type opKind int

const (
	opJoin opKind = iota
	opJoinRoom
	opLeaveRoom
	opRelay
	opEmit
	opDirect
)

type op struct {
	kind    opKind
	client  *Client
	userID  string
	chatID  string
	userIDs []string
	data    []byte
}

// Hub owns every room and connection. All room state is touched only by
// the goroutine running Serve; other goroutines talk to it through channels.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	ops        chan op
	done       chan struct{}
	stopOnce   sync.Once

	presence *presence.Registry
	rooms    RoomAuthorizer
	lastSeen LastSeenStore
	events   events.Publisher
	opts     Options
	now      func() time.Time
	log      zerolog.Logger
	wg       sync.WaitGroup

	clients   map[*Client]struct{}
	userRooms map[string]map[*Client]struct{}
	chatRooms map[string]map[*Client]struct{}
}

// NewHub wires a hub to the presence registry. rooms, lastSeen and pub may
// be nil.
func NewHub(registry *presence.Registry, rooms RoomAuthorizer, lastSeen LastSeenStore, pub events.Publisher, opts Options) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ops:        make(chan op, 256),
		done:       make(chan struct{}),
		presence:   registry,
		rooms:      rooms,
		lastSeen:   lastSeen,
		events:     pub,
		opts:       opts.withDefaults(),
		now:        time.Now,
		log:        logging.Component("ws"),
		clients:    make(map[*Client]struct{}),
		userRooms:  make(map[string]map[*Client]struct{}),
		chatRooms:  make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) String() string { return "ws-hub" }

// Serve runs the event loop until ctx is done. Connection lifecycle is
// drained before room operations so state is consistent when a frame is
// applied.
func (h *Hub) Serve(ctx context.Context) error {
	h.log.Info().Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.register:
			h.addClient(c)
			continue
		case c := <-h.unregister:
			h.removeClient(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case o := <-h.ops:
			h.apply(o)
		}
	}
}

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.done }

// EmitToUsers delivers event to every connection of the given users.
func (h *Hub) EmitToUsers(userIDs []string, event string, payload any) {
	if len(userIDs) == 0 {
		return
	}
	data, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	h.submit(op{kind: opEmit, userIDs: userIDs, data: data})
}

// OnlineUsers returns the current online set.
func (h *Hub) OnlineUsers() []string { return h.presence.Online() }

func (h *Hub) submit(o op) bool {
	select {
	case h.ops <- o:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) apply(o op) {
	switch o.kind {
	case opJoin:
		h.join(o.client, o.userID)
	case opJoinRoom:
		h.joinRoom(o.client, o.chatID)
	case opLeaveRoom:
		h.leaveRoom(o.client, o.chatID)
	case opRelay:
		for c := range h.chatRooms[o.chatID] {
			if c != o.client {
				h.deliver(c, o.data)
			}
		}
	case opEmit:
		seen := make(map[string]struct{}, len(o.userIDs))
		for _, id := range o.userIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			for c := range h.userRooms[id] {
				h.deliver(c, o.data)
			}
		}
	case opDirect:
		h.deliver(o.client, o.data)
	}
}

func (h *Hub) addClient(c *Client) {
	h.clients[c] = struct{}{}
	observability.IncWSActive()
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for chatID := range c.rooms {
		h.removeFrom(h.chatRooms, chatID, c)
	}
	c.rooms = nil
	if c.userID != "" {
		h.unbind(c)
	}
	close(c.send)
	observability.DecWSActive()
}

func (h *Hub) join(c *Client, userID string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	if c.userID != "" && c.userID != userID {
		h.unbind(c)
	}
	first, err := h.presence.Add(c.id, userID)
	if err != nil {
		h.deliver(c, errorFrame(models.EventJoin, "server is shutting down"))
		return
	}
	c.userID = userID
	h.addTo(h.userRooms, userID, c)
	observability.SetOnlineUsers(h.presence.Count())

	if first {
		if data, err := encodeFrame(models.EventUserOnline, models.UserOnlinePayload{UserID: userID}); err == nil {
			h.broadcast(data, c)
		}
	}
	h.broadcastOnline()
	h.log.Debug().Str("user_id", userID).Str("conn_id", c.id).Bool("first", first).Msg("joined")
}

// unbind detaches c from its user. When it was the user's last connection
// the user goes offline.
func (h *Hub) unbind(c *Client) {
	userID := c.userID
	h.removeFrom(h.userRooms, userID, c)
	c.userID = ""
	if _, last := h.presence.Remove(c.id); !last {
		return
	}
	observability.SetOnlineUsers(h.presence.Count())
	at := h.now().UTC()
	if data, err := encodeFrame(models.EventUserOffline, models.UserOfflinePayload{UserID: userID, LastSeen: at}); err == nil {
		h.broadcast(data, c)
	}
	h.broadcastOnline()
	h.persistLastSeen(userID, at)
}

func (h *Hub) joinRoom(c *Client, chatID string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.addTo(h.chatRooms, chatID, c)
	c.rooms[chatID] = struct{}{}
}

func (h *Hub) leaveRoom(c *Client, chatID string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.removeFrom(h.chatRooms, chatID, c)
	delete(c.rooms, chatID)
}

func (h *Hub) broadcastOnline() {
	data, err := encodeFrame(models.EventOnlineUsers, models.OnlineUsersPayload{UserIDs: h.presence.Online()})
	if err != nil {
		return
	}
	h.broadcast(data, nil)
}

func (h *Hub) broadcast(data []byte, except *Client) {
	for c := range h.clients {
		if c != except {
			h.deliver(c, data)
		}
	}
}

// deliver queues data without blocking the loop. A client whose buffer is
// full is disconnected.
func (h *Hub) deliver(c *Client, data []byte) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		observability.IncWSDropped()
		h.log.Warn().Str("conn_id", c.id).Msg("send buffer full, dropping connection")
		_ = c.conn.Close()
	}
}

func (h *Hub) persistLastSeen(userID string, at time.Time) {
	if h.lastSeen == nil {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.StoreTimeout)
		defer cancel()
		if err := h.lastSeen.SetLastSeen(ctx, userID, at); err != nil {
			h.log.Warn().Err(err).Str("user_id", userID).Msg("persist last seen")
		}
	}()
}

// shutdown treats every connection as disconnected.
func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		at := h.now().UTC()
		for _, userID := range h.presence.Shutdown() {
			h.persistLastSeen(userID, at)
		}
		for c := range h.clients {
			close(c.send)
			observability.DecWSActive()
		}
		h.clients = make(map[*Client]struct{})
		h.userRooms = make(map[string]map[*Client]struct{})
		h.chatRooms = make(map[string]map[*Client]struct{})
		observability.SetOnlineUsers(0)
		h.wg.Wait()
		h.log.Info().Msg("hub stopped")
	})
}

func (h *Hub) addTo(rooms map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := rooms[key]
	if !ok {
		set = make(map[*Client]struct{})
		rooms[key] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) removeFrom(rooms map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := rooms[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(rooms, key)
	}
}
