package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/config"
)

func TestNewWithoutAddrIsDisabled(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNilClientFallsBackToNoop(t *testing.T) {
	ctx := context.Background()

	ok, _, err := NewLimiter(nil).Allow(ctx, "u1", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	store := NewIdempotencyStore(nil)
	reserved, err := store.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, reserved)

	_, found, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}
