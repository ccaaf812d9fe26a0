// Package cache holds the redis-backed helpers: sliding-window rate limits
// and idempotent replay of mutating requests.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"chatsync/internal/config"
)

var ErrDisabled = errors.New("redis is not configured")

// Client wraps the redis connection.
type Client struct {
	R *redis.Client
}

// New dials redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, ErrDisabled
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{R: rdb}, nil
}

func (c *Client) Close() error { return c.R.Close() }

// Limiter counts hits per key inside a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type redisLimiter struct{ r *redis.Client }

func NewLimiter(c *Client) Limiter {
	if c == nil {
		return noopLimiter{}
	}
	return &redisLimiter{r: c.R}
}

func (l *redisLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	k := "rl:" + key
	pipe := l.r.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	n := incr.Val()
	return n <= limit, n, nil
}

type noopLimiter struct{}

func (noopLimiter) Allow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return true, 0, nil
}

// StoredResponse is a completed response kept for replay.
type StoredResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore reserves request keys and remembers their responses.
type IdempotencyStore interface {
	// Reserve claims key; false means another request already holds or completed it.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Load(ctx context.Context, key string) (StoredResponse, bool, error)
	Save(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

const pendingMarker = "pending"

type redisIdempotency struct{ r *redis.Client }

func NewIdempotencyStore(c *Client) IdempotencyStore {
	if c == nil {
		return noopIdempotency{}
	}
	return &redisIdempotency{r: c.R}
}

func (s *redisIdempotency) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.r.SetNX(ctx, "idem:"+key, pendingMarker, ttl).Result()
}

func (s *redisIdempotency) Load(ctx context.Context, key string) (StoredResponse, bool, error) {
	raw, err := s.r.Get(ctx, "idem:"+key).Result()
	if errors.Is(err, redis.Nil) || raw == pendingMarker {
		return StoredResponse{}, false, nil
	}
	if err != nil {
		return StoredResponse{}, false, err
	}
	var resp StoredResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return StoredResponse{}, false, err
	}
	return resp, true, nil
}

func (s *redisIdempotency) Save(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.r.Set(ctx, "idem:"+key, raw, ttl).Err()
}

func (s *redisIdempotency) Release(ctx context.Context, key string) error {
	return s.r.Del(ctx, "idem:"+key).Err()
}

type noopIdempotency struct{}

func (noopIdempotency) Reserve(context.Context, string, time.Duration) (bool, error) { return true, nil }

func (noopIdempotency) Load(context.Context, string) (StoredResponse, bool, error) {
	return StoredResponse{}, false, nil
}

func (noopIdempotency) Save(context.Context, string, StoredResponse, time.Duration) error { return nil }

func (noopIdempotency) Release(context.Context, string) error { return nil }
