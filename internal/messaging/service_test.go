package messaging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/apperr"
	"chatsync/internal/mocks"
	"chatsync/internal/models"
	"chatsync/internal/repositories"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	chats    *mocks.ChatRepositoryMock
	messages *mocks.MessageRepositoryMock
	users    *mocks.UserRepositoryMock
	emitter  *mocks.EmitterMock
	store    *mocks.AttachmentStoreMock
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		chats:    new(mocks.ChatRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		users:    new(mocks.UserRepositoryMock),
		emitter:  new(mocks.EmitterMock),
		store:    new(mocks.AttachmentStoreMock),
	}
	f.svc = NewService(f.chats, f.messages, f.users, Deps{Attachments: f.store, Emitter: f.emitter}, Options{})
	f.svc.now = func() time.Time { return fixedNow }
	f.svc.newID = func() string { return "m-new" }
	t.Cleanup(func() {
		f.chats.AssertExpectations(t)
		f.messages.AssertExpectations(t)
		f.users.AssertExpectations(t)
		f.emitter.AssertExpectations(t)
		f.store.AssertExpectations(t)
	})
	return f
}

func groupChat() models.Chat {
	return models.Chat{ID: "c1", Kind: models.ChatGroup, Name: "team", MemberIDs: []string{"alice", "bob", "carol"}}
}

func TestSendTextFansOutToOthers(t *testing.T) {
	f := newFixture(t)
	created := models.Message{ID: "m-new", ChatID: "c1", SenderID: "alice", Kind: models.KindText, Content: "hi", CreatedAt: fixedNow}

	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()
	f.messages.On("Create", mock.Anything, mock.MatchedBy(func(m repositories.NewMessage) bool {
		return m.ID == "m-new" && m.ChatID == "c1" && m.SenderID == "alice" && m.Kind == models.KindText && m.Content == "hi"
	})).Return(nil).Once()
	f.messages.On("AddDeliveries", mock.Anything, "m-new", []string{"bob", "carol"}, fixedNow).Return(nil).Once()
	f.chats.On("SetLatestMessage", mock.Anything, "c1", "m-new", fixedNow).Return(nil).Once()
	f.messages.On("Get", mock.Anything, "m-new").Return(created, nil).Once()
	f.emitter.On("EmitToUsers", []string{"bob", "carol"}, models.EventMessageCreated, models.MessageCreatedPayload{Message: created}).Once()

	msg, err := f.svc.Send(context.Background(), SendInput{ActorID: "alice", ChatID: "c1", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, created, msg)
}

func TestSendRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()

	_, err := f.svc.Send(context.Background(), SendInput{ActorID: "mallory", ChatID: "c1", Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.AccessDenied, apperr.KindOf(err))
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSendMissingChat(t *testing.T) {
	f := newFixture(t)
	f.chats.On("GetChat", mock.Anything, "nope").Return(nil, repositories.ErrChatNotFound).Once()

	_, err := f.svc.Send(context.Background(), SendInput{ActorID: "alice", ChatID: "nope", Content: "hi"})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestSendValidation(t *testing.T) {
	cases := []struct {
		name string
		in   SendInput
	}{
		{"empty text", SendInput{ActorID: "alice", ChatID: "c1", Content: "   "}},
		{"missing chat", SendInput{ActorID: "alice", Content: "hi"}},
		{"image without attachment", SendInput{ActorID: "alice", ChatID: "c1", Kind: models.KindImage}},
		{"unknown kind", SendInput{ActorID: "alice", ChatID: "c1", Kind: "sticker", Content: "x"}},
		{"text with attachment", SendInput{ActorID: "alice", ChatID: "c1", Content: "x", Attachment: &models.Attachment{URL: "u"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Send(context.Background(), tc.in)
			assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
		})
	}
}

func TestSendReplaysClientID(t *testing.T) {
	f := newFixture(t)
	earlier := models.Message{ID: "m-1", ChatID: "c1", SenderID: "alice", Kind: models.KindText, Content: "hi", ClientID: "tmp-1"}

	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()
	f.messages.On("FindByClientID", mock.Anything, "alice", "tmp-1").Return(earlier, nil).Once()

	msg, err := f.svc.Send(context.Background(), SendInput{ActorID: "alice", ChatID: "c1", Content: "hi", ClientID: "tmp-1"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.ID)
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSendReplyMustBeInSameChat(t *testing.T) {
	f := newFixture(t)
	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()
	f.messages.On("Get", mock.Anything, "m-other").Return(models.Message{ID: "m-other", ChatID: "c2"}, nil).Once()

	_, err := f.svc.Send(context.Background(), SendInput{ActorID: "alice", ChatID: "c1", Content: "re", ReplyToID: "m-other"})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
}

func TestSendSurvivesReceiptFailure(t *testing.T) {
	f := newFixture(t)
	created := models.Message{ID: "m-new", ChatID: "c1", SenderID: "alice", Kind: models.KindText, Content: "hi"}

	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()
	f.messages.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	f.messages.On("AddDeliveries", mock.Anything, "m-new", mock.Anything, fixedNow).Return(assert.AnError).Once()
	f.chats.On("SetLatestMessage", mock.Anything, "c1", "m-new", fixedNow).Return(assert.AnError).Once()
	f.messages.On("Get", mock.Anything, "m-new").Return(created, nil).Once()
	f.emitter.On("EmitToUsers", mock.Anything, models.EventMessageCreated, mock.Anything).Once()

	msg, err := f.svc.Send(context.Background(), SendInput{ActorID: "alice", ChatID: "c1", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "m-new", msg.ID)
}

func TestSendAttachmentUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()
	f.store.On("Upload", mock.Anything, "alice", []byte("png"), "image/png", "cat.png").Return(nil, assert.AnError).Once()

	_, err := f.svc.SendAttachment(context.Background(), AttachmentInput{
		ActorID: "alice", ChatID: "c1", Data: []byte("png"), ContentType: "image/png", FileName: "../../cat.png",
	})
	assert.Equal(t, apperr.UploadFailed, apperr.KindOf(err))
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSendAttachmentCleansUpWhenPersistFails(t *testing.T) {
	f := newFixture(t)
	att := models.Attachment{URL: "http://blob/chat/attachments/x.pdf", FileName: "doc.pdf"}

	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()
	f.store.On("Upload", mock.Anything, "alice", []byte("pdf"), "application/pdf", "doc.pdf").Return(att, nil).Once()
	f.messages.On("Create", mock.Anything, mock.MatchedBy(func(m repositories.NewMessage) bool {
		return m.Kind == models.KindFile && m.Attachment != nil && m.Attachment.URL == att.URL
	})).Return(assert.AnError).Once()
	f.store.On("Delete", mock.Anything, att.URL).Return(nil).Once()

	_, err := f.svc.SendAttachment(context.Background(), AttachmentInput{
		ActorID: "alice", ChatID: "c1", Data: []byte("pdf"), ContentType: "application/pdf", FileName: "doc.pdf",
	})
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
}

func TestSendAttachmentNonMemberUploadsNothing(t *testing.T) {
	f := newFixture(t)
	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()

	_, err := f.svc.SendAttachment(context.Background(), AttachmentInput{
		ActorID: "mallory", ChatID: "c1", Data: []byte("x"), ContentType: "image/png", FileName: "x.png",
	})
	assert.Equal(t, apperr.AccessDenied, apperr.KindOf(err))
	f.store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestKindFromMIME(t *testing.T) {
	assert.Equal(t, models.KindImage, KindFromMIME("image/jpeg"))
	assert.Equal(t, models.KindVoice, KindFromMIME("audio/ogg"))
	assert.Equal(t, models.KindFile, KindFromMIME("application/zip"))
	assert.Equal(t, models.KindFile, KindFromMIME(""))
}

func TestEditOnlySenderAndText(t *testing.T) {
	f := newFixture(t)
	f.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Kind: models.KindText}, nil).Twice()
	f.messages.On("Get", mock.Anything, "m2").Return(models.Message{ID: "m2", ChatID: "c1", SenderID: "alice", Kind: models.KindImage}, nil).Once()

	_, err := f.svc.Edit(context.Background(), "bob", "m1", "changed")
	assert.Equal(t, apperr.AccessDenied, apperr.KindOf(err))

	_, err = f.svc.Edit(context.Background(), "alice", "m2", "caption")
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	_, err = f.svc.Edit(context.Background(), "alice", "m1", "")
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
	f.messages.AssertNotCalled(t, "UpdateContent", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditNotifiesOthers(t *testing.T) {
	f := newFixture(t)
	f.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Kind: models.KindText, Content: "old"}, nil).Once()
	f.messages.On("UpdateContent", mock.Anything, "m1", "new").Return(nil).Once()
	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()
	f.emitter.On("EmitToUsers", []string{"bob", "carol"}, models.EventMessageEdited,
		models.MessageEditedPayload{MessageID: "m1", ChatID: "c1", Content: "new", Edited: true}).Once()

	msg, err := f.svc.Edit(context.Background(), "alice", "m1", "new")
	require.NoError(t, err)
	assert.Equal(t, "new", msg.Content)
	assert.True(t, msg.Edited)
}

func TestDeleteBySenderRefreshesLatest(t *testing.T) {
	f := newFixture(t)
	latest := "m1"
	chat := groupChat()
	chat.LatestMessageID = &latest
	att := &models.Attachment{URL: "http://blob/chat/attachments/alice/2025/03/a.png"}

	f.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Kind: models.KindImage, Attachment: att}, nil).Once()
	f.chats.On("GetChat", mock.Anything, "c1").Return(chat, nil).Once()
	f.messages.On("Delete", mock.Anything, "m1").Return(nil).Once()
	f.store.On("Owner", att.URL).Return("alice", true).Once()
	f.store.On("Delete", mock.Anything, att.URL).Return(assert.AnError).Once()
	f.chats.On("RefreshLatestMessage", mock.Anything, "c1").Return(nil).Once()
	f.emitter.On("EmitToUsers", []string{"bob", "carol"}, models.EventMessageDeleted,
		models.MessageDeletedPayload{MessageID: "m1", ChatID: "c1"}).Once()

	require.NoError(t, f.svc.Delete(context.Background(), "alice", "m1"))
}

func TestSendRejectsAnotherUsersUpload(t *testing.T) {
	f := newFixture(t)
	url := "http://blob/chat/attachments/alice/2025/03/alice-photo.png"
	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()
	f.store.On("Owner", url).Return("alice", true).Once()

	_, err := f.svc.Send(context.Background(), SendInput{
		ActorID: "bob", ChatID: "c1", Kind: models.KindImage, Attachment: &models.Attachment{URL: url},
	})
	assert.Equal(t, apperr.AccessDenied, apperr.KindOf(err))
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDeleteLeavesObjectsTheSenderDidNotUpload(t *testing.T) {
	cases := map[string]struct {
		url   string
		owner string
		ok    bool
	}{
		"another user's upload": {url: "http://blob/chat/attachments/alice/2025/03/alice-photo.png", owner: "alice", ok: true},
		"external url":          {url: "https://example.com/cat.png", ok: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			msg := models.Message{ID: "m1", ChatID: "c1", SenderID: "bob", Kind: models.KindImage, Attachment: &models.Attachment{URL: tc.url}}
			f.messages.On("Get", mock.Anything, "m1").Return(msg, nil).Once()
			f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()
			f.messages.On("Delete", mock.Anything, "m1").Return(nil).Once()
			f.store.On("Owner", tc.url).Return(tc.owner, tc.ok).Once()
			f.emitter.On("EmitToUsers", []string{"alice", "carol"}, models.EventMessageDeleted, mock.Anything).Once()

			require.NoError(t, f.svc.Delete(context.Background(), "bob", "m1"))
			f.store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
		})
	}
}

func TestDeleteByOtherDenied(t *testing.T) {
	f := newFixture(t)
	f.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice"}, nil).Once()

	err := f.svc.Delete(context.Background(), "bob", "m1")
	assert.Equal(t, apperr.AccessDenied, apperr.KindOf(err))
	f.messages.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestDeleteMissingMessage(t *testing.T) {
	f := newFixture(t)
	f.messages.On("Get", mock.Anything, "gone").Return(nil, repositories.ErrMessageNotFound).Once()

	err := f.svc.Delete(context.Background(), "alice", "gone")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestToggleLikeTwice(t *testing.T) {
	f := newFixture(t)
	f.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice"}, nil).Twice()
	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Twice()
	f.messages.On("ToggleLike", mock.Anything, "m1", "bob").Return([]string{"bob"}, nil).Once()
	f.messages.On("ToggleLike", mock.Anything, "m1", "bob").Return([]string{}, nil).Once()
	f.emitter.On("EmitToUsers", []string{"alice", "carol"}, models.EventMessageLiked, mock.Anything).Twice()

	likes, err := f.svc.ToggleLike(context.Background(), "bob", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, likes)

	likes, err = f.svc.ToggleLike(context.Background(), "bob", "m1")
	require.NoError(t, err)
	assert.Empty(t, likes)
}

func TestSetLikedRequiresMembership(t *testing.T) {
	f := newFixture(t)
	f.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice"}, nil).Once()
	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()

	_, err := f.svc.SetLiked(context.Background(), "mallory", "m1", true)
	assert.Equal(t, apperr.AccessDenied, apperr.KindOf(err))
}

func TestMarkReadOnce(t *testing.T) {
	f := newFixture(t)
	receipts := []models.Receipt{{UserID: "bob", At: fixedNow}}

	f.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice"}, nil).Twice()
	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Twice()
	f.messages.On("AddRead", mock.Anything, "m1", "bob", fixedNow).Return(true, receipts, nil).Once()
	f.messages.On("AddRead", mock.Anything, "m1", "bob", fixedNow).Return(false, receipts, nil).Once()
	f.emitter.On("EmitToUsers", []string{"alice", "carol"}, models.EventMessageRead,
		models.MessageReadPayload{MessageID: "m1", ChatID: "c1", UserID: "bob", ReadBy: receipts}).Once()

	readBy, err := f.svc.MarkRead(context.Background(), "bob", "m1")
	require.NoError(t, err)
	assert.Len(t, readBy, 1)

	readBy, err = f.svc.MarkRead(context.Background(), "bob", "m1")
	require.NoError(t, err)
	assert.Len(t, readBy, 1)
}

func TestMarkReadBySenderIsNoop(t *testing.T) {
	f := newFixture(t)
	f.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice"}, nil).Once()

	readBy, err := f.svc.MarkRead(context.Background(), "alice", "m1")
	require.NoError(t, err)
	assert.Empty(t, readBy)
	f.messages.AssertNotCalled(t, "AddRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// history returns n messages newest first, as ListPage does.
func history(n int) []models.Message {
	out := make([]models.Message, 0, n)
	for i := n; i >= 1; i-- {
		out = append(out, models.Message{ID: fmt.Sprintf("m%02d", i), ChatID: "c1", CreatedAt: fixedNow.Add(time.Duration(i) * time.Minute)})
	}
	return out
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	all := history(45)

	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Times(3)
	f.messages.On("ListPage", mock.Anything, "c1", 0, 21).Return(append([]models.Message(nil), all[0:21]...), nil).Once()
	f.messages.On("ListPage", mock.Anything, "c1", 20, 21).Return(append([]models.Message(nil), all[20:41]...), nil).Once()
	f.messages.On("ListPage", mock.Anything, "c1", 40, 21).Return(append([]models.Message(nil), all[40:45]...), nil).Once()

	p1, err := f.svc.List(context.Background(), "bob", "c1", 1, 20)
	require.NoError(t, err)
	require.Len(t, p1.Messages, 20)
	assert.True(t, p1.HasMore)
	assert.Equal(t, "m26", p1.Messages[0].ID)
	assert.Equal(t, "m45", p1.Messages[19].ID)

	p2, err := f.svc.List(context.Background(), "bob", "c1", 2, 20)
	require.NoError(t, err)
	require.Len(t, p2.Messages, 20)
	assert.True(t, p2.HasMore)
	assert.Equal(t, "m06", p2.Messages[0].ID)

	p3, err := f.svc.List(context.Background(), "bob", "c1", 3, 20)
	require.NoError(t, err)
	require.Len(t, p3.Messages, 5)
	assert.False(t, p3.HasMore)
	assert.Equal(t, "m01", p3.Messages[0].ID)
}

func TestListClampsLimitAndReturnsEmptySlice(t *testing.T) {
	f := newFixture(t)
	f.chats.On("GetChat", mock.Anything, "c1").Return(groupChat(), nil).Once()
	f.messages.On("ListPage", mock.Anything, "c1", 0, 101).Return(nil, nil).Once()

	page, err := f.svc.List(context.Background(), "bob", "c1", 0, 5000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.Limit)
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
}

func TestAccessDirect(t *testing.T) {
	f := newFixture(t)
	chat := models.Chat{ID: "d1", Kind: models.ChatDirect, MemberIDs: []string{"alice", "bob"}}

	f.users.On("Get", mock.Anything, "bob").Return(models.User{ID: "bob"}, nil).Twice()
	f.chats.On("FindOrCreateDirect", mock.Anything, "alice", "bob").Return(chat, true, nil).Once()
	f.chats.On("FindOrCreateDirect", mock.Anything, "alice", "bob").Return(chat, false, nil).Once()

	first, created, err := f.svc.AccessDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.AccessDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestAccessDirectRejectsSelfAndUnknown(t *testing.T) {
	f := newFixture(t)
	f.users.On("Get", mock.Anything, "ghost").Return(nil, repositories.ErrUserNotFound).Once()

	_, _, err := f.svc.AccessDirect(context.Background(), "alice", "alice")
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	_, _, err = f.svc.AccessDirect(context.Background(), "alice", "ghost")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestCreateGroupNeedsTwoInvitees(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateGroup(context.Background(), "alice", "team", []string{"bob", "bob", "alice"})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	_, err = f.svc.CreateGroup(context.Background(), "alice", " ", []string{"bob", "carol"})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
}

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	f.users.On("CountExisting", mock.Anything, []string{"bob", "carol"}).Return(2, nil).Once()
	f.chats.On("CreateGroup", mock.Anything, "team", "alice", []string{"alice", "bob", "carol"}).Return(groupChat(), nil).Once()

	chat, err := f.svc.CreateGroup(context.Background(), "alice", " team ", []string{"bob", "carol", "bob"})
	require.NoError(t, err)
	assert.Equal(t, "c1", chat.ID)
}

func TestCreateGroupUnknownUser(t *testing.T) {
	f := newFixture(t)
	f.users.On("CountExisting", mock.Anything, []string{"bob", "ghost"}).Return(1, nil).Once()

	_, err := f.svc.CreateGroup(context.Background(), "alice", "team", []string{"bob", "ghost"})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestListChatsAttachesLatest(t *testing.T) {
	f := newFixture(t)
	latest := "m9"
	withLatest := groupChat()
	withLatest.LatestMessageID = &latest
	empty := models.Chat{ID: "d1", Kind: models.ChatDirect, MemberIDs: []string{"alice", "bob"}}

	f.chats.On("ListForUser", mock.Anything, "alice").Return([]models.Chat{withLatest, empty}, nil).Once()
	f.messages.On("GetMany", mock.Anything, []string{"m9"}).Return([]models.Message{{ID: "m9", Content: "last"}}, nil).Once()

	chats, err := f.svc.ListChats(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	require.NotNil(t, chats[0].LatestMessage)
	assert.Equal(t, "last", chats[0].LatestMessage.Content)
	assert.Nil(t, chats[1].LatestMessage)
}

func TestStoreErrorsAreTransient(t *testing.T) {
	f := newFixture(t)
	f.chats.On("ListForUser", mock.Anything, "alice").Return(nil, context.DeadlineExceeded).Once()

	_, err := f.svc.ListChats(context.Background(), "alice")
	assert.Equal(t, apperr.Transient, apperr.KindOf(err))
	assert.True(t, apperr.Retryable(err))
}

func TestMalformedIDsAreInvalidArgument(t *testing.T) {
	f := newFixture(t)
	malformed := &pq.Error{Code: "22P02", Message: "invalid input syntax for type uuid"}
	f.messages.On("Get", mock.Anything, "not-a-uuid").Return(nil, malformed).Once()
	f.chats.On("GetChat", mock.Anything, "bad").Return(nil, malformed).Once()

	_, err := f.svc.Edit(context.Background(), "alice", "not-a-uuid", "x")
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
	assert.Equal(t, 400, apperr.HTTPStatus(apperr.KindOf(err)))

	_, err = f.svc.List(context.Background(), "alice", "bad", 1, 20)
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	// other driver errors stay internal
	assert.Equal(t, apperr.Internal, apperr.KindOf(storeErr("x", &pq.Error{Code: "23503"})))
}
