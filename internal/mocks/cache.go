package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chatsync/internal/cache"
)

var (
	_ cache.Limiter          = (*LimiterMock)(nil)
	_ cache.IdempotencyStore = (*IdempotencyStoreMock)(nil)
)

type LimiterMock struct {
	mock.Mock
}

func (m *LimiterMock) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Get(1).(int64), args.Error(2)
}

type IdempotencyStoreMock struct {
	mock.Mock
}

func (m *IdempotencyStoreMock) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *IdempotencyStoreMock) Load(ctx context.Context, key string) (cache.StoredResponse, bool, error) {
	args := m.Called(ctx, key)
	var resp cache.StoredResponse
	if val := args.Get(0); val != nil {
		resp = val.(cache.StoredResponse)
	}
	return resp, args.Bool(1), args.Error(2)
}

func (m *IdempotencyStoreMock) Save(ctx context.Context, key string, resp cache.StoredResponse, ttl time.Duration) error {
	args := m.Called(ctx, key, resp, ttl)
	return args.Error(0)
}

func (m *IdempotencyStoreMock) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
