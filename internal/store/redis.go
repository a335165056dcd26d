// ABOUTME: Redis backend storing the JSON state document under a namespaced key
// ABOUTME: A single SET replaces the document; an absent key loads as the empty state

package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/agentstate/internal/state"
)

// DefaultRedisKeyPrefix namespaces keys written by RedisStorage.
const DefaultRedisKeyPrefix = "agentstate:"

// RedisStorage persists the JSON document in one Redis string key.
type RedisStorage struct {
	guard
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisStorage creates a Redis backend. The document lives at keyPrefix+"state";
// a positive ttl expires it after the last save.
func NewRedisStorage(redisOpts *redis.Options, keyPrefix string, ttl time.Duration, opts ...Option) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	o := buildOptions(opts)
	r := &RedisStorage{
		rdb: redis.NewClient(redisOpts),
		key: keyPrefix + "state",
		ttl: ttl,
	}
	r.guard.init("redis", r, o.logger.With("addr", redisOpts.Addr, "key", r.key))
	return r
}

// Key returns the Redis key holding the document.
func (r *RedisStorage) Key() string {
	return r.key
}

// Ping verifies Redis connectivity.
func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return ioError("pinging redis", err)
	}
	return nil
}

func (r *RedisStorage) load(ctx context.Context) (*state.AgentState, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return state.New(), nil
	}
	if err != nil {
		return nil, ioError("reading "+r.key, err)
	}
	st, err := state.Decode(data)
	if err != nil {
		return nil, corruptError(r.key, err)
	}
	return st, nil
}

func (r *RedisStorage) save(ctx context.Context, st *state.AgentState) (int64, error) {
	data, err := state.Encode(st)
	if err != nil {
		return 0, err
	}
	if err := r.rdb.Set(ctx, r.key, data, r.ttl).Err(); err != nil {
		return 0, ioError("writing "+r.key, err)
	}
	return 0, nil
}

func (r *RedisStorage) clear(ctx context.Context) (int64, error) {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return 0, ioError("deleting "+r.key, err)
	}
	return 0, nil
}

// Close closes the Redis connection pool.
func (r *RedisStorage) Close() error {
	return r.markClosed(r.rdb.Close)
}
