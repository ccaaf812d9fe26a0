package reconcile

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"chatsync/internal/models"
)

const (
	DefaultCachedChats    = 50
	DefaultCachedMessages = 100
)

// Cache keeps the latest confirmed messages of recently used chats. Chats
// are evicted least recently used first; within a chat only the newest
// perChat messages are kept. Optimistic entries are never cached.
type Cache struct {
	mu      sync.Mutex
	chats   *lru.Cache[string, *ring]
	perChat int
}

func NewCache(chats, perChat int) (*Cache, error) {
	if chats <= 0 {
		chats = DefaultCachedChats
	}
	if perChat <= 0 {
		perChat = DefaultCachedMessages
	}
	c, err := lru.New[string, *ring](chats)
	if err != nil {
		return nil, err
	}
	return &Cache{chats: c, perChat: perChat}, nil
}

// Store replaces the cached messages of s's chat with its confirmed entries.
func (c *Cache) Store(s State) {
	if s.chatID == "" {
		return
	}
	r := newRing(c.perChat)
	for _, m := range s.Messages() {
		r.put(m)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats.Add(s.chatID, r)
}

// Put records or updates a single confirmed message.
func (c *Cache) Put(m models.Message) {
	if m.ChatID == "" || m.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.chats.Get(m.ChatID)
	if !ok {
		r = newRing(c.perChat)
		c.chats.Add(m.ChatID, r)
	}
	r.put(m)
}

// Update replaces a message that is already cached. Messages outside the
// cached window are ignored so an edit to an old message cannot push out a
// recent one.
func (c *Cache) Update(m models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.chats.Peek(m.ChatID); ok {
		r.update(m)
	}
}

// Drop forgets one message, after a delete.
func (c *Cache) Drop(chatID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.chats.Peek(chatID); ok {
		r.drop(messageID)
	}
}

// Load rebuilds a State from the cached messages of chatID.
func (c *Cache) Load(chatID string) (State, bool) {
	c.mu.Lock()
	r, ok := c.chats.Get(chatID)
	var msgs []models.Message
	if ok {
		msgs = r.list()
	}
	c.mu.Unlock()
	if !ok {
		return State{}, false
	}
	return Reduce(NewState(chatID), HistoryLoaded{Messages: msgs}), true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chats.Len()
}

// ring is a fixed-size buffer of messages ordered by arrival, overwriting
// the oldest when full.
type ring struct {
	buf  []models.Message
	head int
	size int
	pos  map[string]int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]models.Message, capacity), pos: make(map[string]int, capacity)}
}

func (r *ring) put(m models.Message) {
	m.ClientID = ""
	if i, ok := r.pos[m.ID]; ok {
		r.buf[i] = m
		return
	}
	slot := (r.head + r.size) % len(r.buf)
	if r.size == len(r.buf) {
		delete(r.pos, r.buf[r.head].ID)
		slot = r.head
		r.head = (r.head + 1) % len(r.buf)
	} else {
		r.size++
	}
	r.buf[slot] = m
	r.pos[m.ID] = slot
}

func (r *ring) update(m models.Message) bool {
	i, ok := r.pos[m.ID]
	if !ok {
		return false
	}
	m.ClientID = ""
	r.buf[i] = m
	return true
}

func (r *ring) drop(id string) {
	if _, ok := r.pos[id]; !ok {
		return
	}
	kept := r.list()
	r.head, r.size = 0, 0
	r.pos = make(map[string]int, len(r.buf))
	for _, m := range kept {
		if m.ID != id {
			r.put(m)
		}
	}
}

func (r *ring) list() []models.Message {
	out := make([]models.Message, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
