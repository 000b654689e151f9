// Package redisstore provides a redis backed tahan.TokenStore, so several
// processes can share one session.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ambiyansyah-risyal/tahan"
)

// DefaultKey is used when no key is configured.
const DefaultKey = "tahan:token"

// RedisStore keeps the token as JSON under a single key. The key expires
// together with the token.
type RedisStore struct {
	rdb redis.Cmdable
	key string
	now func() time.Time
}

var _ tahan.TokenStore = (*RedisStore)(nil)

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(s *RedisStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithNow replaces the time source used to compute key expiry.
func WithNow(now func() time.Time) Option {
	return func(s *RedisStore) {
		s.now = now
	}
}

// New creates a store on top of rdb.
func New(rdb redis.Cmdable, opts ...Option) *RedisStore {
	s := &RedisStore{rdb: rdb, key: DefaultKey, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the redis key holding the token.
func (s *RedisStore) Key() string {
	return s.key
}

// Load returns the stored token, or (nil, nil) when the key is absent or
// has expired.
func (s *RedisStore) Load(ctx context.Context) (*tahan.Token, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var token tahan.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return &token, nil
}

// Save stores token with a TTL running until its expiry. A token that has
// no expiry is stored without a TTL; one already expired clears the key.
func (s *RedisStore) Save(ctx context.Context, token *tahan.Token) error {
	if token == nil {
		return s.Clear(ctx)
	}

	var ttl time.Duration
	if !token.ExpiresAt.IsZero() {
		ttl = token.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.Clear(ctx)
		}
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}

// Clear deletes the key. A missing key is not an error.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	return nil
}
