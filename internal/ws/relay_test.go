package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/mocks"
	"chatsync/internal/models"
	"chatsync/internal/reconcile"
)

func TestRelayedEchoesDoNotRewritePeerState(t *testing.T) {
	th := startHub(t, Options{VerifyRoomMembership: true}, memberSet{"c1/alice": true, "c1/bob": true})

	alice := th.connect("alice")
	bob := th.connect("bob")
	for _, c := range []*fakeConn{alice, bob} {
		c.sendFrame(t, models.EventJoin, models.JoinPayload{})
		c.sendFrame(t, models.EventJoinChat, models.JoinChatPayload{ChatID: "c1"})
	}
	alice.settle(t)
	bob.settle(t)

	own := models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Kind: models.KindText, Content: "original", CreatedAt: time.Now()}
	api := &mocks.APIMock{}
	api.On("History", mock.Anything, "c1", 1, 20).Return(models.Page{Messages: []models.Message{own}}, nil).Once()
	session := reconcile.NewSession(api, "c1", "alice")
	require.NoError(t, session.Open(context.Background()))

	bob.sendFrame(t, models.EventMessageEdited, models.MessageEditedPayload{MessageID: "m1", ChatID: "c1", Content: "rewritten", Edited: true})
	bob.sendFrame(t, models.EventMessageDeleted, models.MessageDeletedPayload{MessageID: "m1", ChatID: "c1"})

	for _, event := range []string{models.EventPeerEdited, models.EventPeerDeleted} {
		fr := alice.waitFor(t, event)
		assert.Equal(t, "bob", fr.From)
		handled, err := session.Apply(fr.Event, fr.Data)
		require.NoError(t, err)
		assert.False(t, handled)
	}

	e, ok := session.State().Get("m1")
	require.True(t, ok, "message is still listed")
	assert.Equal(t, "original", e.(reconcile.Confirmed).Message.Content)

	// the stored change arrives through the server's own event
	th.hub.EmitToUsers([]string{"alice"}, models.EventMessageEdited, models.MessageEditedPayload{MessageID: "m1", ChatID: "c1", Content: "fixed", Edited: true})
	fr := alice.waitFor(t, models.EventMessageEdited)
	handled, err := session.Apply(fr.Event, fr.Data)
	require.NoError(t, err)
	assert.True(t, handled)
	e, _ = session.State().Get("m1")
	assert.Equal(t, "fixed", e.(reconcile.Confirmed).Message.Content)
	api.AssertExpectations(t)
}
