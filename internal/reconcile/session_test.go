package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/apperr"
	"chatsync/internal/mocks"
	"chatsync/internal/models"
	"chatsync/internal/reconcile"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func message(id, sender string, minute int) models.Message {
	return models.Message{
		ID:        id,
		ChatID:    "c1",
		SenderID:  sender,
		Kind:      models.KindText,
		Content:   "text " + id,
		CreatedAt: t0.Add(time.Duration(minute) * time.Minute),
	}
}

func openSession(t *testing.T, api *mocks.APIMock, msgs ...models.Message) *reconcile.Session {
	t.Helper()
	api.On("History", mock.Anything, "c1", 1, 20).Return(models.Page{Messages: msgs, Page: 1, Limit: 20}, nil).Once()
	s := reconcile.NewSession(api, "c1", "alice")
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { api.AssertExpectations(t) })
	return s
}

func ids(s reconcile.State) []string {
	var out []string
	for _, e := range s.Entries() {
		out = append(out, e.Key())
	}
	return out
}

func TestSessionSendScenario(t *testing.T) {
	api := &mocks.APIMock{}
	var observed []reconcile.Status
	api.On("History", mock.Anything, "c1", 1, 20).Return(models.Page{Messages: []models.Message{message("m1", "bob", 1)}}, nil).Once()
	s := reconcile.NewSession(api, "c1", "alice", reconcile.OnChange(func(st reconcile.State) {
		entries := st.Entries()
		observed = append(observed, entries[len(entries)-1].Status())
	}))
	require.NoError(t, s.Open(context.Background()))

	canonical := message("m2", "alice", 2)
	api.On("Send", mock.Anything, mock.MatchedBy(func(req reconcile.SendRequest) bool {
		return req.ChatID == "c1" && req.Content == "hi" && req.ClientID != ""
	})).Return(canonical, nil).Once()

	tempID, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	st := s.State()
	assert.Equal(t, []string{"m1", "m2"}, ids(st))
	assert.Equal(t, "m2", st.Resolve(tempID))
	assert.Contains(t, observed, reconcile.StatusSending)
	assert.Equal(t, reconcile.StatusSent, observed[len(observed)-1])
	api.AssertExpectations(t)
}

func TestSessionSendFailureMarksFailed(t *testing.T) {
	api := &mocks.APIMock{}
	s := openSession(t, api)

	api.On("Send", mock.Anything, mock.Anything).Return(nil, apperr.New(apperr.Transient, "server unavailable")).Once()
	tempID, err := s.Send(context.Background(), "hello")
	require.Error(t, err)

	e, ok := s.State().Get(tempID)
	require.True(t, ok)
	local := e.(reconcile.Local)
	assert.Equal(t, reconcile.StatusFailed, local.State)
	assert.Equal(t, "hello", local.Draft.Content)

	canonical := message("m5", "alice", 5)
	canonical.ClientID = tempID
	api.On("Send", mock.Anything, mock.MatchedBy(func(req reconcile.SendRequest) bool {
		return req.ClientID == tempID
	})).Return(canonical, nil).Once()
	require.NoError(t, s.Resend(context.Background(), tempID))
	assert.Equal(t, []string{"m5"}, ids(s.State()))
}

func TestSessionEditRevertsOnFailure(t *testing.T) {
	api := &mocks.APIMock{}
	s := openSession(t, api, message("m1", "alice", 1))

	api.On("Edit", mock.Anything, "m1", "changed").Return(nil, apperr.New(apperr.InvalidArgument, "only text messages can be edited")).Once()
	err := s.Edit(context.Background(), "m1", "changed")
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	e, _ := s.State().Get("m1")
	assert.Equal(t, "text m1", e.(reconcile.Confirmed).Message.Content)
}

func TestSessionEditAppliesServerRecord(t *testing.T) {
	api := &mocks.APIMock{}
	s := openSession(t, api, message("m1", "alice", 1))

	updated := message("m1", "alice", 1)
	updated.Content, updated.Edited = "changed", true
	api.On("Edit", mock.Anything, "m1", "changed").Return(updated, nil).Once()
	require.NoError(t, s.Edit(context.Background(), "m1", "changed"))

	e, _ := s.State().Get("m1")
	assert.True(t, e.(reconcile.Confirmed).Message.Edited)
}

func TestSessionDelete(t *testing.T) {
	t.Run("not found counts as success", func(t *testing.T) {
		api := &mocks.APIMock{}
		s := openSession(t, api, message("m1", "alice", 1))
		api.On("Delete", mock.Anything, "m1").Return(apperr.New(apperr.NotFound, "message not found")).Once()

		require.NoError(t, s.Delete(context.Background(), "m1"))
		assert.Equal(t, 0, s.State().Len())
	})

	t.Run("denied restores position", func(t *testing.T) {
		api := &mocks.APIMock{}
		s := openSession(t, api, message("m1", "bob", 1), message("m2", "bob", 2), message("m3", "bob", 3))
		api.On("Delete", mock.Anything, "m2").Return(apperr.New(apperr.AccessDenied, "only the sender can delete a message")).Once()

		err := s.Delete(context.Background(), "m2")
		assert.Equal(t, apperr.AccessDenied, apperr.KindOf(err))
		assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.State()))
	})
}

func TestSessionToggleLikeUsesSetLiked(t *testing.T) {
	api := &mocks.APIMock{}
	s := openSession(t, api, message("m1", "bob", 1))

	api.On("SetLiked", mock.Anything, "m1", true).Return([]string{"alice"}, nil).Once()
	require.NoError(t, s.ToggleLike(context.Background(), "m1"))
	e, _ := s.State().Get("m1")
	assert.Equal(t, []string{"alice"}, e.(reconcile.Confirmed).Message.Likes)

	api.On("SetLiked", mock.Anything, "m1", false).Return(nil, apperr.New(apperr.Transient, "timeout")).Once()
	require.Error(t, s.ToggleLike(context.Background(), "m1"))
	e, _ = s.State().Get("m1")
	assert.Equal(t, []string{"alice"}, e.(reconcile.Confirmed).Message.Likes, "reverted to the pre-action value")
}

func TestSessionFailedLikeDoesNotResurrectDeletedMessage(t *testing.T) {
	api := &mocks.APIMock{}
	s := openSession(t, api, message("m1", "bob", 1), message("m2", "bob", 2))

	deleted, err := json.Marshal(models.MessageDeletedPayload{MessageID: "m1", ChatID: "c1"})
	require.NoError(t, err)
	api.On("SetLiked", mock.Anything, "m1", true).Run(func(mock.Arguments) {
		_, _ = s.Apply(models.EventMessageDeleted, deleted)
	}).Return(nil, apperr.New(apperr.Transient, "timeout")).Once()

	require.Error(t, s.ToggleLike(context.Background(), "m1"))
	assert.Equal(t, []string{"m2"}, ids(s.State()))
}

func TestSessionMarkReadSkipsOwnMessages(t *testing.T) {
	api := &mocks.APIMock{}
	s := openSession(t, api, message("m1", "alice", 1), message("m2", "bob", 2))

	require.NoError(t, s.MarkRead(context.Background(), "m1"))

	receipts := []models.Receipt{{UserID: "alice", At: t0}}
	api.On("MarkRead", mock.Anything, "m2").Return(receipts, nil).Once()
	require.NoError(t, s.MarkRead(context.Background(), "m2"))
	require.NoError(t, s.MarkRead(context.Background(), "m2"))

	e, _ := s.State().Get("m2")
	assert.Equal(t, receipts, e.(reconcile.Confirmed).Message.ReadBy)
}

func TestSessionLoadOlder(t *testing.T) {
	api := &mocks.APIMock{}
	api.On("History", mock.Anything, "c1", 1, 20).Return(models.Page{Messages: []models.Message{message("m3", "bob", 3)}, HasMore: true}, nil).Once()
	s := reconcile.NewSession(api, "c1", "alice")
	require.NoError(t, s.Open(context.Background()))

	api.On("History", mock.Anything, "c1", 2, 20).Return(models.Page{Messages: []models.Message{message("m1", "bob", 1), message("m2", "bob", 2)}}, nil).Once()
	added, err := s.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.False(t, s.HasMore())

	added, err = s.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.State()))
	api.AssertExpectations(t)
}

func TestSessionApplyFrames(t *testing.T) {
	api := &mocks.APIMock{}
	s := openSession(t, api, message("m1", "alice", 1))

	raw := func(v any) json.RawMessage {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return data
	}

	handled, err := s.Apply(models.EventMessageCreated, raw(models.MessageCreatedPayload{Message: message("m2", "bob", 2)}))
	require.NoError(t, err)
	assert.True(t, handled)
	_, _ = s.Apply(models.EventMessageCreated, raw(models.MessageCreatedPayload{Message: message("m2", "bob", 2)}))
	assert.Equal(t, []string{"m1", "m2"}, ids(s.State()))

	_, _ = s.Apply(models.EventMessageLiked, raw(models.MessageLikedPayload{MessageID: "m1", ChatID: "c1", Likes: []string{"bob"}}))
	_, _ = s.Apply(models.EventMessageEdited, raw(models.MessageEditedPayload{MessageID: "m2", ChatID: "c1", Content: "fixed", Edited: true}))
	_, _ = s.Apply(models.EventMessageDeleted, raw(models.MessageDeletedPayload{MessageID: "m1", ChatID: "c1"}))

	assert.Equal(t, []string{"m2"}, ids(s.State()))
	e, _ := s.State().Get("m2")
	assert.Equal(t, "fixed", e.(reconcile.Confirmed).Message.Content)

	handled, err = s.Apply(models.EventMessageDeleted, raw(models.MessageDeletedPayload{MessageID: "m2", ChatID: "c2"}))
	require.NoError(t, err)
	assert.False(t, handled, "frames for other chats are ignored")

	handled, _ = s.Apply(models.EventUserTyping, raw(models.TypingPayload{ChatID: "c1"}))
	assert.False(t, handled)

	for _, relayed := range []string{models.EventPeerEdited, models.EventPeerDeleted, models.EventReceiveMessage, models.EventSendMessage} {
		handled, _ = s.Apply(relayed, raw(models.MessageDeletedPayload{MessageID: "m2", ChatID: "c1"}))
		assert.False(t, handled, relayed)
	}
	assert.Equal(t, []string{"m2"}, ids(s.State()))
}

func TestSessionRestoresFromCache(t *testing.T) {
	cache, err := reconcile.NewCache(0, 0)
	require.NoError(t, err)

	api := &mocks.APIMock{}
	api.On("History", mock.Anything, "c1", 1, 20).Return(models.Page{Messages: []models.Message{message("m1", "bob", 1)}}, nil).Once()
	first := reconcile.NewSession(api, "c1", "alice", reconcile.WithCache(cache))
	require.NoError(t, first.Open(context.Background()))

	api.On("History", mock.Anything, "c1", 1, 20).Return(nil, apperr.New(apperr.Transient, "offline")).Once()
	second := reconcile.NewSession(api, "c1", "alice", reconcile.WithCache(cache))
	require.Error(t, second.Open(context.Background()))
	assert.Equal(t, []string{"m1"}, ids(second.State()), "cached messages are shown while offline")
	api.AssertExpectations(t)
}
