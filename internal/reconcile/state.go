package reconcile

import (
	"time"

	"chatsync/internal/models"
)

// State is one chat's message list ordered oldest first. It is immutable:
// Reduce returns a new State and leaves its input untouched.
type State struct {
	chatID  string
	order   []string
	entries map[string]Entry
	seen    map[string]struct{}
	alias   map[string]string
	// removed by an optimistic delete the server has not answered yet
	pending map[string]struct{}
}

func NewState(chatID string) State {
	return State{
		chatID:  chatID,
		entries: map[string]Entry{},
		seen:    map[string]struct{}{},
		alias:   map[string]string{},
		pending: map[string]struct{}{},
	}
}

func (s State) ChatID() string { return s.chatID }

func (s State) Len() int { return len(s.order) }

// Entries returns the list in display order.
func (s State) Entries() []Entry {
	out := make([]Entry, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.entries[k])
	}
	return out
}

// Messages returns the confirmed records in display order.
func (s State) Messages() []models.Message {
	out := make([]models.Message, 0, len(s.order))
	for _, k := range s.order {
		if c, ok := s.entries[k].(Confirmed); ok {
			out = append(out, c.Message)
		}
	}
	return out
}

// Get looks an entry up by canonical or temporary id.
func (s State) Get(id string) (Entry, bool) {
	e, ok := s.entries[s.Resolve(id)]
	return e, ok
}

// Resolve maps a temporary id to its canonical id once confirmed.
func (s State) Resolve(id string) string {
	if canonical, ok := s.alias[id]; ok {
		return canonical
	}
	return id
}

// Seen reports whether a canonical id has ever been merged, including
// messages deleted since.
func (s State) Seen(id string) bool {
	_, ok := s.seen[id]
	return ok
}

func (s State) indexOf(key string) int {
	for i, k := range s.order {
		if k == key {
			return i
		}
	}
	return -1
}

func (s State) clone() State {
	n := State{
		chatID:  s.chatID,
		order:   append([]string(nil), s.order...),
		entries: make(map[string]Entry, len(s.entries)+1),
		seen:    make(map[string]struct{}, len(s.seen)+1),
		alias:   make(map[string]string, len(s.alias)+1),
		pending: make(map[string]struct{}, len(s.pending)+1),
	}
	for k, v := range s.entries {
		n.entries[k] = v
	}
	for k := range s.seen {
		n.seen[k] = struct{}{}
	}
	for k, v := range s.alias {
		n.alias[k] = v
	}
	for k := range s.pending {
		n.pending[k] = struct{}{}
	}
	return n
}

// insert places e after every entry that is not newer than it, so equal
// timestamps keep arrival order.
func (s *State) insert(e Entry) {
	at := e.Time()
	i := len(s.order)
	for i > 0 && s.entries[s.order[i-1]].Time().After(at) {
		i--
	}
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = e.Key()
	s.entries[e.Key()] = e
}

func (s *State) remove(key string) {
	if i := s.indexOf(key); i >= 0 {
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
	delete(s.entries, key)
}

// Action is one input to Reduce.
type Action interface{ isAction() }

type (
	// LocalSent adds an optimistic message at the end of the list.
	LocalSent struct {
		TempID string
		Draft  Draft
		At     time.Time
	}
	// SendConfirmed swaps the optimistic entry for the canonical record in
	// place.
	SendConfirmed struct {
		TempID  string
		Message models.Message
	}
	SendFailed struct {
		TempID string
		Err    string
	}
	// Resend moves a failed entry back to sending.
	Resend struct {
		TempID string
	}
	// Received merges a broadcast or any other single server record.
	Received struct {
		Message models.Message
	}
	// HistoryLoaded merges a page of older messages.
	HistoryLoaded struct {
		Messages []models.Message
	}
	Edited struct {
		MessageID string
		Content   string
	}
	// Deleted removes a message. An optimistic delete can still be undone
	// with Restore; a server delete is final.
	Deleted struct {
		MessageID  string
		Optimistic bool
	}
	Liked struct {
		MessageID string
		Likes     []string
	}
	ReadUpdated struct {
		MessageID string
		ReadBy    []models.Receipt
	}
	DeliveredUpdated struct {
		MessageID   string
		DeliveredTo []models.Receipt
	}
	// Restore reverts one optimistic change using the entry as it was
	// before the change. Only what the change touched is put back, and a
	// message the server deleted in the meantime stays deleted.
	Restore struct {
		Entry  Entry
		Change Change
		// UserID is whose like a ChangeLike reverts.
		UserID string
	}
)

// Change names the optimistic mutation a Restore undoes.
type Change int

const (
	ChangeEdit Change = iota + 1
	ChangeLike
	ChangeDelete
)

func (LocalSent) isAction()        {}
func (SendConfirmed) isAction()    {}
func (SendFailed) isAction()       {}
func (Resend) isAction()           {}
func (Received) isAction()         {}
func (HistoryLoaded) isAction()    {}
func (Edited) isAction()           {}
func (Deleted) isAction()          {}
func (Liked) isAction()            {}
func (ReadUpdated) isAction()      {}
func (DeliveredUpdated) isAction() {}
func (Restore) isAction()          {}

// Reduce applies a to s. Unknown ids and repeated actions leave the state
// unchanged, so any action can be replayed safely.
func Reduce(s State, a Action) State {
	if s.entries == nil {
		s = NewState(s.chatID)
	}
	switch a := a.(type) {
	case LocalSent:
		if a.TempID == "" {
			return s
		}
		if _, exists := s.entries[a.TempID]; exists {
			return s
		}
		if _, done := s.alias[a.TempID]; done {
			return s
		}
		n := s.clone()
		n.order = append(n.order, a.TempID)
		n.entries[a.TempID] = Local{TempID: a.TempID, Draft: a.Draft, State: StatusSending, At: a.At}
		return n

	case SendConfirmed:
		return s.confirm(a.TempID, a.Message)

	case SendFailed:
		return s.updateLocal(a.TempID, func(l Local) (Local, bool) {
			if l.State != StatusSending {
				return l, false
			}
			l.State, l.Err = StatusFailed, a.Err
			return l, true
		})

	case Resend:
		return s.updateLocal(a.TempID, func(l Local) (Local, bool) {
			if l.State != StatusFailed {
				return l, false
			}
			l.State, l.Err = StatusSending, ""
			return l, true
		})

	case Received:
		return s.receive(a.Message)

	case HistoryLoaded:
		for _, m := range a.Messages {
			s = s.receive(m)
		}
		return s

	case Edited:
		return s.updateConfirmed(a.MessageID, func(m models.Message) models.Message {
			m.Content, m.Edited = a.Content, true
			return m
		})

	case Deleted:
		key := s.Resolve(a.MessageID)
		if key == "" {
			return s
		}
		_, present := s.entries[key]
		_, pending := s.pending[key]
		if a.Optimistic {
			if !present {
				return s
			}
			n := s.clone()
			n.remove(key)
			n.pending[key] = struct{}{}
			return n
		}
		if !present && !pending && s.Seen(key) {
			return s
		}
		n := s.clone()
		n.remove(key)
		delete(n.pending, key)
		n.seen[key] = struct{}{}
		return n

	case Liked:
		return s.updateConfirmed(a.MessageID, func(m models.Message) models.Message {
			m.Likes = append([]string{}, a.Likes...)
			return m
		})

	case ReadUpdated:
		return s.updateConfirmed(a.MessageID, func(m models.Message) models.Message {
			m.ReadBy = append([]models.Receipt{}, a.ReadBy...)
			return m
		})

	case DeliveredUpdated:
		return s.updateConfirmed(a.MessageID, func(m models.Message) models.Message {
			m.DeliveredTo = append([]models.Receipt{}, a.DeliveredTo...)
			return m
		})

	case Restore:
		return s.restore(a)
	}
	return s
}

func (s State) restore(a Restore) State {
	if a.Entry == nil || a.Entry.Key() == "" {
		return s
	}
	key := a.Entry.Key()
	switch a.Change {
	case ChangeDelete:
		if _, ok := s.pending[key]; !ok {
			return s
		}
		n := s.clone()
		delete(n.pending, key)
		if _, present := n.entries[key]; !present {
			n.insert(a.Entry)
		}
		return n
	case ChangeEdit:
		before, ok := a.Entry.(Confirmed)
		if !ok {
			return s
		}
		return s.updateConfirmed(key, func(m models.Message) models.Message {
			m.Content, m.Edited = before.Message.Content, before.Message.Edited
			return m
		})
	case ChangeLike:
		before, ok := a.Entry.(Confirmed)
		if !ok || a.UserID == "" {
			return s
		}
		return s.updateConfirmed(key, func(m models.Message) models.Message {
			m.Likes = withLike(m.Likes, a.UserID, before.Message.LikedBy(a.UserID))
			return m
		})
	}
	return s
}

// receive merges a server record. A record echoing the client id of a
// pending local entry confirms it in place; a record already seen is a no-op.
func (s State) receive(m models.Message) State {
	if m.ID == "" || (s.chatID != "" && m.ChatID != "" && m.ChatID != s.chatID) {
		return s
	}
	if m.ClientID != "" {
		if _, ok := s.entries[m.ClientID].(Local); ok {
			return s.confirm(m.ClientID, m)
		}
	}
	if s.Seen(m.ID) {
		return s
	}
	n := s.clone()
	n.seen[m.ID] = struct{}{}
	n.insert(Confirmed{Message: m})
	return n
}

func (s State) confirm(tempID string, m models.Message) State {
	if m.ID == "" {
		return s
	}
	local, isLocal := s.entries[tempID].(Local)
	if !isLocal {
		if _, done := s.alias[tempID]; done {
			return s
		}
		return s.receive(withoutClientID(m))
	}

	n := s.clone()
	n.alias[tempID] = m.ID
	if n.Seen(m.ID) {
		// the broadcast got here first
		n.remove(local.TempID)
		return n
	}
	n.seen[m.ID] = struct{}{}
	i := n.indexOf(tempID)
	n.order[i] = m.ID
	delete(n.entries, tempID)
	n.entries[m.ID] = Confirmed{Message: m}
	return n
}

func (s State) updateLocal(tempID string, fn func(Local) (Local, bool)) State {
	l, ok := s.entries[tempID].(Local)
	if !ok {
		return s
	}
	l, changed := fn(l)
	if !changed {
		return s
	}
	n := s.clone()
	n.entries[tempID] = l
	return n
}

func (s State) updateConfirmed(id string, fn func(models.Message) models.Message) State {
	key := s.Resolve(id)
	c, ok := s.entries[key].(Confirmed)
	if !ok {
		return s
	}
	n := s.clone()
	n.entries[key] = Confirmed{Message: fn(c.Message)}
	return n
}

func withoutClientID(m models.Message) models.Message {
	m.ClientID = ""
	return m
}
