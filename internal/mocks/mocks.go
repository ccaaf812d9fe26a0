package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chatsync/internal/models"
	"chatsync/internal/repositories"
)

var (
	_ repositories.ChatRepository    = (*ChatRepositoryMock)(nil)
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
	_ repositories.UserRepository    = (*UserRepositoryMock)(nil)
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) IsMember(ctx context.Context, chatID string, userID string) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatRepositoryMock) FindOrCreateDirect(ctx context.Context, userID string, otherID string) (models.Chat, bool, error) {
	args := m.Called(ctx, userID, otherID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Bool(1), args.Error(2)
}

func (m *ChatRepositoryMock) CreateGroup(ctx context.Context, name string, adminID string, memberIDs []string) (models.Chat, error) {
	args := m.Called(ctx, name, adminID, memberIDs)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) ListForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	args := m.Called(ctx, userID)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list, args.Error(1)
}

func (m *ChatRepositoryMock) SetLatestMessage(ctx context.Context, chatID string, messageID string, at time.Time) error {
	args := m.Called(ctx, chatID, messageID, at)
	return args.Error(0)
}

func (m *ChatRepositoryMock) RefreshLatestMessage(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, msg repositories.NewMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepositoryMock) AddDeliveries(ctx context.Context, messageID string, userIDs []string, at time.Time) error {
	args := m.Called(ctx, messageID, userIDs, at)
	return args.Error(0)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMany(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	args := m.Called(ctx, messageIDs)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) FindByClientID(ctx context.Context, senderID string, clientID string) (models.Message, error) {
	args := m.Called(ctx, senderID, clientID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListPage(ctx context.Context, chatID string, offset int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, offset, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateContent(ctx context.Context, messageID string, content string) error {
	args := m.Called(ctx, messageID, content)
	return args.Error(0)
}

func (m *MessageRepositoryMock) Delete(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ToggleLike(ctx context.Context, messageID string, userID string) ([]string, error) {
	args := m.Called(ctx, messageID, userID)
	var likes []string
	if val := args.Get(0); val != nil {
		likes = val.([]string)
	}
	return likes, args.Error(1)
}

func (m *MessageRepositoryMock) SetLike(ctx context.Context, messageID string, userID string, liked bool) ([]string, error) {
	args := m.Called(ctx, messageID, userID, liked)
	var likes []string
	if val := args.Get(0); val != nil {
		likes = val.([]string)
	}
	return likes, args.Error(1)
}

func (m *MessageRepositoryMock) AddRead(ctx context.Context, messageID string, userID string, at time.Time) (bool, []models.Receipt, error) {
	args := m.Called(ctx, messageID, userID, at)
	var receipts []models.Receipt
	if val := args.Get(1); val != nil {
		receipts = val.([]models.Receipt)
	}
	return args.Bool(0), receipts, args.Error(2)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) Get(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) CountExisting(ctx context.Context, userIDs []string) (int, error) {
	args := m.Called(ctx, userIDs)
	return args.Int(0), args.Error(1)
}

func (m *UserRepositoryMock) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

func (m *UserRepositoryMock) Search(ctx context.Context, actorID string, query string, limit int) ([]models.User, error) {
	args := m.Called(ctx, actorID, query, limit)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

// EmitterMock records live fan-out.
type EmitterMock struct {
	mock.Mock
}

func (m *EmitterMock) EmitToUsers(userIDs []string, event string, payload any) {
	m.Called(userIDs, event, payload)
}

type AttachmentStoreMock struct {
	mock.Mock
}

func (m *AttachmentStoreMock) Upload(ctx context.Context, ownerID string, data []byte, contentType string, fileName string) (models.Attachment, error) {
	args := m.Called(ctx, ownerID, data, contentType, fileName)
	var att models.Attachment
	if val := args.Get(0); val != nil {
		att = val.(models.Attachment)
	}
	return att, args.Error(1)
}

func (m *AttachmentStoreMock) Delete(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *AttachmentStoreMock) Owner(url string) (string, bool) {
	args := m.Called(url)
	return args.String(0), args.Bool(1)
}
