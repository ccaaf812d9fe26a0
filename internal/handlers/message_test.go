package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/models"
	"chatsync/internal/repositories"
)

func setupMessageRouter(handler *MessageHandler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(asUser(userID))
	r.GET("/messages/:chatId", handler.ListMessages)
	r.POST("/messages", handler.SendMessage)
	r.POST("/messages/upload", handler.UploadMessage)
	r.PUT("/messages/:id", handler.EditMessage)
	r.DELETE("/messages/:id", handler.DeleteMessage)
	r.POST("/messages/:id/like", handler.ToggleLike)
	r.PUT("/messages/:id/like", handler.SetLike)
	r.POST("/messages/:id/read", handler.MarkRead)
	return r
}

func directChat() models.Chat {
	return models.Chat{ID: "c1", Kind: models.ChatDirect, MemberIDs: []string{"alice", "bob"}}
}

func TestSendMessageSuccess(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "alice")
	created := models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Kind: models.KindText, Content: "hi", ClientID: "tmp-1"}

	repos.chats.On("GetChat", mock.Anything, "c1").Return(directChat(), nil).Once()
	repos.messages.On("FindByClientID", mock.Anything, "alice", "tmp-1").Return(nil, repositories.ErrMessageNotFound).Once()
	repos.messages.On("Create", mock.Anything, mock.MatchedBy(func(m repositories.NewMessage) bool {
		return m.Content == "hi" && m.ClientID == "tmp-1"
	})).Return(nil).Once()
	repos.messages.On("AddDeliveries", mock.Anything, mock.Anything, []string{"bob"}, mock.Anything).Return(nil).Once()
	repos.chats.On("SetLatestMessage", mock.Anything, "c1", mock.Anything, mock.Anything).Return(nil).Once()
	repos.messages.On("Get", mock.Anything, mock.Anything).Return(created, nil).Once()
	repos.emitter.On("EmitToUsers", []string{"bob"}, models.EventMessageCreated, mock.Anything).Once()

	body := bytes.NewBufferString(`{"chat_id":"c1","content":"hi","client_id":"tmp-1"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", body))

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &msg))
	assert.Equal(t, "m1", msg.ID)
	repos.assertExpectations(t)
}

func TestSendMessageEmptyText(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "alice")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(`{"chat_id":"c1","content":"  "}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	repos.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestListMessagesPaging(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "bob")

	repos.chats.On("GetChat", mock.Anything, "c1").Return(directChat(), nil).Once()
	repos.messages.On("ListPage", mock.Anything, "c1", 10, 11).Return([]models.Message{{ID: "m2"}, {ID: "m1"}}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/c1?page=2&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var page models.Page
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &page))
	assert.Equal(t, 2, page.Page)
	assert.False(t, page.HasMore)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m1", page.Messages[0].ID)
	repos.assertExpectations(t)
}

func TestListMessagesBadPage(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "bob")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/c1?page=abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEditImageRejected(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "alice")

	repos.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Kind: models.KindImage}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/messages/m1", bytes.NewBufferString(`{"content":"caption"}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	repos.messages.AssertNotCalled(t, "UpdateContent", mock.Anything, mock.Anything, mock.Anything)
}

func TestMalformedIDsAreBadRequests(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "alice")
	malformed := &pq.Error{Code: "22P02"}
	repos.messages.On("Get", mock.Anything, "not-a-uuid").Return(nil, malformed).Once()
	repos.chats.On("GetChat", mock.Anything, "bad").Return(nil, malformed).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/messages/not-a-uuid", bytes.NewBufferString(`{"content":"x"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/bad", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	repos.assertExpectations(t)
}

func TestDeleteByOtherUserForbidden(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "bob")

	repos.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/messages/m1", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	repos.messages.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestSetLikeRequiresBody(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "bob")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/messages/m1/like", bytes.NewBufferString(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetLikeFalse(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "bob")

	repos.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice"}, nil).Once()
	repos.chats.On("GetChat", mock.Anything, "c1").Return(directChat(), nil).Once()
	repos.messages.On("SetLike", mock.Anything, "m1", "bob", false).Return([]string{}, nil).Once()
	repos.emitter.On("EmitToUsers", []string{"alice"}, models.EventMessageLiked, mock.Anything).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/messages/m1/like", bytes.NewBufferString(`{"liked":false}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	repos.assertExpectations(t)
}

func TestMarkReadByNonMember(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "mallory")

	repos.messages.On("Get", mock.Anything, "m1").Return(models.Message{ID: "m1", ChatID: "c1", SenderID: "alice"}, nil).Once()
	repos.chats.On("GetChat", mock.Anything, "c1").Return(directChat(), nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages/m1/read", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func multipartBody(t *testing.T, fields map[string]string, fileName, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileName != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestUploadMessage(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "alice")
	att := models.Attachment{URL: "http://blob/chat/attachments/cat.png", FileName: "cat.png"}
	created := models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Kind: models.KindImage, Attachment: &att}

	repos.chats.On("GetChat", mock.Anything, "c1").Return(directChat(), nil).Once()
	repos.store.On("Upload", mock.Anything, "alice", []byte("png-bytes"), "image/png", "cat.png").Return(att, nil).Once()
	repos.messages.On("Create", mock.Anything, mock.MatchedBy(func(m repositories.NewMessage) bool {
		return m.Kind == models.KindImage && m.Attachment != nil && m.Attachment.URL == att.URL
	})).Return(nil).Once()
	repos.messages.On("AddDeliveries", mock.Anything, mock.Anything, []string{"bob"}, mock.Anything).Return(nil).Once()
	repos.chats.On("SetLatestMessage", mock.Anything, "c1", mock.Anything, mock.Anything).Return(nil).Once()
	repos.messages.On("Get", mock.Anything, mock.Anything).Return(created, nil).Once()
	repos.emitter.On("EmitToUsers", []string{"bob"}, models.EventMessageCreated, mock.Anything).Once()

	body, ct := multipartBody(t, map[string]string{"chat_id": "c1"}, "cat.png", "image/png", []byte("png-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/messages/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	repos.assertExpectations(t)
}

func TestUploadMessageTooLarge(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 4), "alice")

	body, ct := multipartBody(t, map[string]string{"chat_id": "c1"}, "big.bin", "application/octet-stream", []byte("0123456789"))
	req := httptest.NewRequest(http.MethodPost, "/messages/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	repos.store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadMessageStoreFailure(t *testing.T) {
	repos := newRepoSet()
	router := setupMessageRouter(NewMessageHandler(repos.svc, 1<<20), "alice")

	repos.chats.On("GetChat", mock.Anything, "c1").Return(directChat(), nil).Once()
	repos.store.On("Upload", mock.Anything, mock.Anything, mock.Anything, "audio/ogg", "note.ogg").Return(nil, assert.AnError).Once()

	body, ct := multipartBody(t, map[string]string{"chat_id": "c1"}, "note.ogg", "audio/ogg", []byte("ogg"))
	req := httptest.NewRequest(http.MethodPost, "/messages/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upload_failed", decodeEnvelope(t, rec).ErrorKind)
	repos.assertExpectations(t)
}
