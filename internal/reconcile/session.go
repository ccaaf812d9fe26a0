package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"chatsync/internal/apperr"
	"chatsync/internal/models"
)

const defaultPageSize = 20

// Session drives one open chat for one user: it issues API calls, applies
// optimistic changes and merges live frames into a single State.
type Session struct {
	api      API
	cache    *Cache
	chatID   string
	userID   string
	pageSize int
	onChange func(State)
	newID    func() string
	now      func() time.Time

	mu      sync.Mutex
	state   State
	page    int
	hasMore bool
}

type SessionOption func(*Session)

// WithCache restores from and writes through to c.
func WithCache(c *Cache) SessionOption { return func(s *Session) { s.cache = c } }

// OnChange is called with the new state after every change, outside the lock.
func OnChange(fn func(State)) SessionOption { return func(s *Session) { s.onChange = fn } }

func WithPageSize(n int) SessionOption { return func(s *Session) { s.pageSize = n } }

func NewSession(api API, chatID, userID string, opts ...SessionOption) *Session {
	s := &Session{
		api:      api,
		chatID:   chatID,
		userID:   userID,
		pageSize: defaultPageSize,
		newID:    uuid.NewString,
		now:      time.Now,
		state:    NewState(chatID),
		hasMore:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func (s *Session) dispatch(actions ...Action) State {
	s.mu.Lock()
	for _, a := range actions {
		s.state = Reduce(s.state, a)
	}
	st := s.state
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(st)
	}
	return st
}

// Open shows any cached messages, then fetches the newest page.
func (s *Session) Open(ctx context.Context) error {
	if s.cache != nil {
		if cached, ok := s.cache.Load(s.chatID); ok {
			s.dispatch(HistoryLoaded{Messages: cached.Messages()})
		}
	}
	page, err := s.api.History(ctx, s.chatID, 1, s.pageSize)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.page, s.hasMore = 1, page.HasMore
	s.mu.Unlock()
	st := s.dispatch(HistoryLoaded{Messages: page.Messages})
	s.store(st)
	return nil
}

// LoadOlder fetches the next older page and returns how many new messages
// it merged.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	if !s.hasMore {
		s.mu.Unlock()
		return 0, nil
	}
	next := s.page + 1
	before := s.state.Len()
	s.mu.Unlock()

	page, err := s.api.History(ctx, s.chatID, next, s.pageSize)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	if next > s.page {
		s.page, s.hasMore = next, page.HasMore
	}
	s.mu.Unlock()
	st := s.dispatch(HistoryLoaded{Messages: page.Messages})
	return st.Len() - before, nil
}

// Send shows content immediately and confirms it in place. On failure the
// entry stays in the list marked failed and the error is returned.
func (s *Session) Send(ctx context.Context, content string) (string, error) {
	tempID := s.newID()
	draft := Draft{ChatID: s.chatID, Kind: models.KindText, Content: content}
	s.dispatch(LocalSent{TempID: tempID, Draft: draft, At: s.now()})
	return tempID, s.deliver(ctx, tempID, draft)
}

// Resend retries a failed entry with the same temporary id.
func (s *Session) Resend(ctx context.Context, tempID string) error {
	e, ok := s.State().Get(tempID)
	l, isLocal := e.(Local)
	if !ok || !isLocal || l.State != StatusFailed {
		return apperr.New(apperr.InvalidArgument, "nothing to resend")
	}
	s.dispatch(Resend{TempID: tempID})
	return s.deliver(ctx, tempID, l.Draft)
}

func (s *Session) deliver(ctx context.Context, tempID string, d Draft) error {
	req := SendRequest{ChatID: d.ChatID, Kind: d.Kind, Content: d.Content, Attachment: d.Attachment, ClientID: tempID}
	if d.ReplyToID != nil {
		req.ReplyTo = *d.ReplyToID
	}
	msg, err := s.api.Send(ctx, req)
	if err != nil {
		s.dispatch(SendFailed{TempID: tempID, Err: apperr.Message(err)})
		return err
	}
	s.dispatch(SendConfirmed{TempID: tempID, Message: msg})
	if s.cache != nil {
		s.cache.Put(msg)
	}
	return nil
}

// Edit applies the new content at once and reverts if the server refuses.
func (s *Session) Edit(ctx context.Context, messageID, content string) error {
	snapshot, err := s.confirmed(messageID)
	if err != nil {
		return err
	}
	s.dispatch(Edited{MessageID: snapshot.Key(), Content: content})
	msg, err := s.api.Edit(ctx, snapshot.Key(), content)
	if err != nil {
		s.dispatch(Restore{Entry: snapshot, Change: ChangeEdit})
		return err
	}
	st := s.dispatch(Edited{MessageID: msg.ID, Content: msg.Content})
	s.refresh(st, msg.ID)
	return nil
}

// Delete removes the message at once. A NotFound answer means it is already
// gone and counts as success; any other failure puts it back.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	st := s.State()
	e, ok := st.Get(messageID)
	if !ok {
		return apperr.New(apperr.NotFound, "message not found")
	}
	if l, isLocal := e.(Local); isLocal {
		if l.State == StatusSending {
			return apperr.New(apperr.InvalidArgument, "message is still sending")
		}
		s.dispatch(Deleted{MessageID: l.TempID})
		return nil
	}
	s.dispatch(Deleted{MessageID: e.Key(), Optimistic: true})
	if err := s.api.Delete(ctx, e.Key()); err != nil && !IsNotFound(err) {
		s.dispatch(Restore{Entry: e, Change: ChangeDelete})
		return err
	}
	s.dispatch(Deleted{MessageID: e.Key()})
	if s.cache != nil {
		s.cache.Drop(s.chatID, e.Key())
	}
	return nil
}

// ToggleLike flips the user's like. The request sends the target value so a
// retried call cannot flip it twice.
func (s *Session) ToggleLike(ctx context.Context, messageID string) error {
	snapshot, err := s.confirmed(messageID)
	if err != nil {
		return err
	}
	msg := snapshot.Message
	liked := !msg.LikedBy(s.userID)
	s.dispatch(Liked{MessageID: msg.ID, Likes: withLike(msg.Likes, s.userID, liked)})

	likes, err := s.api.SetLiked(ctx, msg.ID, liked)
	if err != nil {
		s.dispatch(Restore{Entry: snapshot, Change: ChangeLike, UserID: s.userID})
		return err
	}
	st := s.dispatch(Liked{MessageID: msg.ID, Likes: likes})
	s.refresh(st, msg.ID)
	return nil
}

// MarkRead acknowledges a peer's message. Own messages are skipped.
func (s *Session) MarkRead(ctx context.Context, messageID string) error {
	snapshot, err := s.confirmed(messageID)
	if err != nil {
		return err
	}
	if snapshot.Message.SenderID == s.userID || snapshot.Message.ReadByUser(s.userID) {
		return nil
	}
	readBy, err := s.api.MarkRead(ctx, snapshot.Message.ID)
	if err != nil {
		return err
	}
	s.dispatch(ReadUpdated{MessageID: snapshot.Message.ID, ReadBy: readBy})
	return nil
}

// Apply merges one live frame. Only the events the server emits for stored
// changes are applied; relayed peer frames and frames for other chats are
// ignored and reported as not handled.
func (s *Session) Apply(event string, data json.RawMessage) (bool, error) {
	var action Action
	var chatID string
	switch event {
	case models.EventMessageCreated:
		var p models.MessageCreatedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		chatID, action = p.Message.ChatID, Received{Message: p.Message}
	case models.EventMessageEdited:
		var p models.MessageEditedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		chatID, action = p.ChatID, Edited{MessageID: p.MessageID, Content: p.Content}
	case models.EventMessageDeleted:
		var p models.MessageDeletedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		chatID, action = p.ChatID, Deleted{MessageID: p.MessageID}
		if s.cache != nil {
			s.cache.Drop(p.ChatID, p.MessageID)
		}
	case models.EventMessageLiked:
		var p models.MessageLikedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		chatID, action = p.ChatID, Liked{MessageID: p.MessageID, Likes: p.Likes}
	case models.EventMessageRead:
		var p models.MessageReadPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		chatID, action = p.ChatID, ReadUpdated{MessageID: p.MessageID, ReadBy: p.ReadBy}
	case models.EventMessageDelivered:
		var p models.MessageDeliveredPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return false, err
		}
		chatID, action = p.ChatID, DeliveredUpdated{MessageID: p.MessageID, DeliveredTo: p.DeliveredTo}
	default:
		return false, nil
	}
	if chatID != s.chatID {
		return false, nil
	}
	s.dispatch(action)
	if r, ok := action.(Received); ok {
		s.put(r.Message)
	}
	return true, nil
}

func (s *Session) confirmed(messageID string) (Confirmed, error) {
	e, ok := s.State().Get(messageID)
	if !ok {
		return Confirmed{}, apperr.New(apperr.NotFound, "message not found")
	}
	c, ok := e.(Confirmed)
	if !ok {
		return Confirmed{}, apperr.New(apperr.InvalidArgument, "message is not confirmed yet")
	}
	return c, nil
}

// refresh writes the current record of id through to the cache if it is
// already cached there.
func (s *Session) refresh(st State, id string) {
	if s.cache == nil {
		return
	}
	if e, ok := st.Get(id); ok {
		if c, ok := e.(Confirmed); ok {
			s.cache.Update(c.Message)
		}
	}
}

func (s *Session) put(m models.Message) {
	if s.cache != nil {
		s.cache.Put(m)
	}
}

func (s *Session) store(st State) {
	if s.cache != nil {
		s.cache.Store(st)
	}
}

func withLike(likes []string, userID string, liked bool) []string {
	out := make([]string, 0, len(likes)+1)
	for _, id := range likes {
		if id != userID {
			out = append(out, id)
		}
	}
	if liked {
		out = append(out, userID)
	}
	return out
}
