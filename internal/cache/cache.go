// Package cache provides the key/value cache used for lineup payloads, EPG
// fragments, session snapshots, logos and other short-lived derived data.
// A memory backend is always available; when Redis is configured the store
// dials it in the background and swaps over once the connection is healthy,
// so startup never blocks on an unreachable Redis.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Backend is implemented by the memory and Redis stores. Values are opaque
// byte slices; serialization happens in the Store facade.
type Backend interface {
	// Get returns the value for key, or false when absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Removing an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) bool
	// Keys returns all keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) []string
	// Flush removes every key.
	Flush(ctx context.Context) error
	// Increment adds delta to the integer stored at key, creating it at
	// delta when absent, and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	// Expire resets the ttl of an existing key. Returns false when absent.
	Expire(ctx context.Context, key string, ttl time.Duration) bool
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Name identifies the backend ("memory" or "redis").
	Name() string
	// Close releases backend resources.
	Close() error
}

// Options configure a Store. The zero value is a bare memory cache.
type Options struct {
	// Engine selects the backend: "memory" (default) or "redis".
	Engine string
	// KeyPrefix is prepended to every key, so one Redis database can be
	// shared across instances.
	KeyPrefix string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RetryInterval is the cadence for Redis connection attempts.
	// Defaults to 30 seconds.
	RetryInterval time.Duration
}

// Health describes the state of the active backend.
type Health struct {
	Backend string `json:"backend"`
	Healthy bool   `json:"healthy"`
	Keys    int    `json:"keys"`
	Error   string `json:"error,omitempty"`
}

// Store fronts the active backend. All methods are safe for concurrent use
// and never surface backend errors to callers: a failed read degrades to a
// miss, a failed write is logged and dropped. The backend pointer is guarded
// by an RWMutex so the memory-to-Redis swap cannot lose an issued operation.
type Store struct {
	mu      sync.RWMutex
	backend Backend

	prefix string
	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Store backed by memory. With Engine "redis" a background
// goroutine keeps dialing Redis and promotes it once reachable, so startup
// never blocks on an unreachable cache.
func New(opts Options) *Store {
	s := &Store{
		backend: newMemoryBackend(),
		prefix:  opts.KeyPrefix,
		logger:  slog.Default().With(slog.String("component", "cache")),
	}
	if opts.Engine == "redis" {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.connectRedis(ctx, opts)
	}
	return s
}

// connectRedis retries the Redis connection until it succeeds or the store
// is closed. On success the backend is swapped atomically and the memory
// backend is discarded; cached entries are not migrated, they repopulate on
// demand.
func (s *Store) connectRedis(ctx context.Context, opts Options) {
	defer s.wg.Done()

	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	for {
		backend, err := newRedisBackend(ctx, opts)
		if err == nil {
			s.mu.Lock()
			old := s.backend
			s.backend = backend
			s.mu.Unlock()
			_ = old.Close()
			s.logger.Info("Cache backend switched to redis")
			return
		}
		s.logger.Warn("Redis unavailable, serving from memory",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", interval))

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (s *Store) current() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

func (s *Store) key(key string) string { return s.prefix + key }

// Get unmarshals the value stored at key into dest and reports whether the
// key was found. dest must be a pointer.
func (s *Store) Get(ctx context.Context, key string, dest any) bool {
	raw, ok := s.current().Get(ctx, s.key(key))
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.Warn("Cache entry is not valid JSON, evicting",
			slog.String("key", key),
			slog.String("error", err.Error()))
		_ = s.current().Delete(ctx, s.key(key))
		return false
	}
	return true
}

// GetBytes returns the raw bytes stored at key.
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, bool) {
	return s.current().Get(ctx, s.key(key))
}

// Set serializes value to JSON and stores it under key. A zero ttl means no
// expiry. Failures are logged, never returned.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("Cache value not serializable",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return
	}
	s.SetBytes(ctx, key, raw, ttl)
}

// SetBytes stores raw bytes under key without serialization.
func (s *Store) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := s.current().Set(ctx, s.key(key), value, ttl); err != nil {
		s.logger.Warn("Cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

// Delete removes key from the cache.
func (s *Store) Delete(ctx context.Context, key string) {
	if err := s.current().Delete(ctx, s.key(key)); err != nil {
		s.logger.Warn("Cache delete failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

// Exists reports whether key is present and unexpired.
func (s *Store) Exists(ctx context.Context, key string) bool {
	return s.current().Exists(ctx, s.key(key))
}

// Keys returns all keys matching the glob pattern, e.g. "session:*". The
// configured prefix is invisible to callers.
func (s *Store) Keys(ctx context.Context, pattern string) []string {
	raw := s.current().Keys(ctx, s.key(pattern))
	if s.prefix == "" {
		return raw
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, s.prefix))
	}
	return keys
}

// Flush removes every cached entry. With a key prefix only this instance's
// entries are removed, so a shared Redis database stays intact.
func (s *Store) Flush(ctx context.Context) {
	backend := s.current()
	if s.prefix == "" {
		if err := backend.Flush(ctx); err != nil {
			s.logger.Warn("Cache flush failed", slog.String("error", err.Error()))
		}
		return
	}
	for _, k := range backend.Keys(ctx, s.prefix+"*") {
		if err := backend.Delete(ctx, k); err != nil {
			s.logger.Warn("Cache flush failed",
				slog.String("key", k),
				slog.String("error", err.Error()))
		}
	}
}

// Increment adds delta to the counter at key and returns the new value.
// Returns 0 when the stored value is not an integer.
func (s *Store) Increment(ctx context.Context, key string, delta int64) int64 {
	n, err := s.current().Increment(ctx, s.key(key), delta)
	if err != nil {
		s.logger.Warn("Cache increment failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return 0
	}
	return n
}

// Expire resets the ttl of an existing key. Returns false when the key is
// absent.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	return s.current().Expire(ctx, s.key(key), ttl)
}

// Health pings the active backend and reports its state.
func (s *Store) Health(ctx context.Context) Health {
	backend := s.current()
	h := Health{
		Backend: backend.Name(),
		Keys:    len(backend.Keys(ctx, s.key("*"))),
	}
	if err := backend.Ping(ctx); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Healthy = true
	return h
}

// Close stops the background connector and releases the active backend.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return s.current().Close()
}
