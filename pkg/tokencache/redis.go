package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces keys written by RedisStore.
const DefaultRedisPrefix = "graphauth:token:"

// RedisStore shares cache entries between processes through Redis. Values
// are stored as JSON.
//
// Deduplication of concurrent acquisitions stays per Cache instance: two
// processes missing the same key at the same time both acquire, and the
// last write wins.
type RedisStore[V any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
	ttl    time.Duration
}

// WithPrefix replaces DefaultRedisPrefix.
func WithPrefix(prefix string) RedisOption {
	return func(o *redisOptions) { o.prefix = prefix }
}

// WithTTL expires stored values after d. Entries hold refresh tokens, so d
// should cover the refresh token lifetime; zero keeps values forever.
func WithTTL(d time.Duration) RedisOption {
	return func(o *redisOptions) { o.ttl = d }
}

// NewRedisStore wraps client.
func NewRedisStore[V any](client redis.UniversalClient, opts ...RedisOption) *RedisStore[V] {
	o := redisOptions{prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[V]{client: client, prefix: o.prefix, ttl: o.ttl}
}

func (s *RedisStore[V]) key(id string) string { return s.prefix + id }

func (s *RedisStore[V]) Store(ctx context.Context, id string, v V) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("tokencache: marshal entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore[V]) Get(ctx context.Context, id string) (V, bool, error) {
	var zero V
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("%w: get: %w", ErrStoreUnavailable, err)
	}
	return decode[V](raw)
}

func (s *RedisStore[V]) Evict(ctx context.Context, id string) (V, bool, error) {
	var zero V
	raw, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("%w: getdel: %w", ErrStoreUnavailable, err)
	}
	return decode[V](raw)
}

func decode[V any](raw []byte) (V, bool, error) {
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("tokencache: decode entry: %w", err)
	}
	return v, true, nil
}
