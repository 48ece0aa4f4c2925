package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds each Redis round trip so a stalled connection degrades to
// a cache miss instead of blocking a request handler.
const opTimeout = 5 * time.Second

// redisBackend stores entries in Redis. Entries survive process restarts and
// are shared between instances pointed at the same database.
type redisBackend struct {
	client *redis.Client
}

// newRedisBackend dials Redis and verifies the connection with a ping
// before returning.
func newRedisBackend(ctx context.Context, opts Options) (*redisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &redisBackend{client: client}, nil
}

func (r *redisBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (r *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.client.Del(ctx, key).Err()
}

func (r *redisBackend) Exists(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := r.client.Exists(ctx, key).Result()
	return err == nil && n > 0
}

func (r *redisBackend) Keys(ctx context.Context, pattern string) []string {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil
	}
	return keys
}

func (r *redisBackend) Flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.client.FlushDB(ctx).Err()
}

func (r *redisBackend) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing %q: %w", key, err)
	}
	return n, nil
}

func (r *redisBackend) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	return err == nil && ok
}

func (r *redisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Join(errRedisDown, err)
	}
	return nil
}

var errRedisDown = errors.New("redis unreachable")

func (r *redisBackend) Name() string { return "redis" }

func (r *redisBackend) Close() error { return r.client.Close() }
