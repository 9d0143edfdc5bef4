package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore keeps authorization states in Redis so any replica can
// complete a sign-in started on another.
type RedisStateStore struct {
	rdb    redis.Cmdable
	prefix string
	now    func() time.Time
}

// RedisStateOption configures a RedisStateStore.
type RedisStateOption func(*RedisStateStore)

// WithStatePrefix sets the key prefix (default "fetchfloww:oauth_state").
func WithStatePrefix(prefix string) RedisStateOption {
	return func(s *RedisStateStore) { s.prefix = strings.Trim(prefix, ":") }
}

// NewRedisStateStore wraps a go-redis client.
func NewRedisStateStore(rdb redis.Cmdable, opts ...RedisStateOption) *RedisStateStore {
	s := &RedisStateStore{
		rdb:    rdb,
		prefix: "fetchfloww:oauth_state",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStateStore) key(state string) string {
	return s.prefix + ":" + state
}

// Save implements StateStore. The key expires with the state.
func (s *RedisStateStore) Save(ctx context.Context, state *AuthorizationState) error {
	ttl := state.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrStateExpired
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode authorization state: %w", err)
	}

	if err := s.rdb.Set(ctx, s.key(state.State), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save authorization state: %w", err)
	}
	return nil
}

// Consume implements StateStore with GETDEL, so concurrent callbacks for
// the same state cannot both succeed.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (*AuthorizationState, error) {
	payload, err := s.rdb.GetDel(ctx, s.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization state: %w", err)
	}

	var st AuthorizationState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("failed to decode authorization state: %w", err)
	}
	if st.Expired(s.now()) {
		return nil, ErrStateExpired
	}
	return &st, nil
}
