// Package presence tracks which users have live connections.
package presence

import (
	"errors"
	"sort"
	"sync"
)

var ErrClosed = errors.New("presence registry is shut down")

// Registry maps connection ids to user ids. A user is online while at least
// one connection is bound to them. Writes come from the hub loop only; the
// lock lets HTTP handlers read the online set concurrently.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]string
	users  map[string]map[string]struct{}
	closed bool
}

// NewRegistry returns a registry ready for Init.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Init()
	return r
}

// Init clears all state and accepts bindings again.
func (r *Registry) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = make(map[string]string)
	r.users = make(map[string]map[string]struct{})
	r.closed = false
}

// Add binds connID to userID and reports whether this made the user online.
// Re-adding an existing binding is a no-op.
func (r *Registry) Add(connID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrClosed
	}
	if prev, ok := r.conns[connID]; ok {
		if prev == userID {
			return false, nil
		}
		r.unbindLocked(connID, prev)
	}

	r.conns[connID] = userID
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}
	return len(set) == 1, nil
}

// Remove unbinds connID and reports the user and whether they went offline.
func (r *Registry) Remove(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return userID, r.unbindLocked(connID, userID)
}

func (r *Registry) unbindLocked(connID, userID string) bool {
	delete(r.conns, connID)
	set := r.users[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// UserOf resolves the user bound to a connection.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.conns[connID]
	return userID, ok
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Online returns the online user ids in sorted order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Shutdown treats every connection as disconnected, returns the users that
// were online and rejects further bindings until Init.
func (r *Registry) Shutdown() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Strings(out)
	r.conns = make(map[string]string)
	r.users = make(map[string]map[string]struct{})
	r.closed = true
	return out
}
