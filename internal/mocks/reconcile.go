package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chatsync/internal/models"
	"chatsync/internal/reconcile"
)

var _ reconcile.API = (*APIMock)(nil)

type APIMock struct {
	mock.Mock
}

func (m *APIMock) History(ctx context.Context, chatID string, page, limit int) (models.Page, error) {
	args := m.Called(ctx, chatID, page, limit)
	var p models.Page
	if val := args.Get(0); val != nil {
		p = val.(models.Page)
	}
	return p, args.Error(1)
}

func (m *APIMock) Send(ctx context.Context, req reconcile.SendRequest) (models.Message, error) {
	args := m.Called(ctx, req)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *APIMock) Edit(ctx context.Context, messageID, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *APIMock) Delete(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *APIMock) SetLiked(ctx context.Context, messageID string, liked bool) ([]string, error) {
	args := m.Called(ctx, messageID, liked)
	var likes []string
	if val := args.Get(0); val != nil {
		likes = val.([]string)
	}
	return likes, args.Error(1)
}

func (m *APIMock) MarkRead(ctx context.Context, messageID string) ([]models.Receipt, error) {
	args := m.Called(ctx, messageID)
	var receipts []models.Receipt
	if val := args.Get(0); val != nil {
		receipts = val.([]models.Receipt)
	}
	return receipts, args.Error(1)
}
