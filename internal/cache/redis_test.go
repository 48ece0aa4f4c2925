package cache

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	backend, err := newRedisBackend(context.Background(), Options{RedisAddr: mr.Addr()})
	require.NoError(t, err)

	s := &Store{backend: backend, logger: slog.Default()}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisRoundTrip(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	want := lineupEntry{GuideNumber: "42", GuideName: "Sports"}
	s.Set(ctx, StreamKey("s1"), want, 0)

	var got lineupEntry
	require.True(t, s.Get(ctx, StreamKey("s1"), &got))
	assert.Equal(t, want, got)
}

func TestRedisTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	s.Set(ctx, SessionKey("x"), "v", TTLSession)
	require.True(t, s.Exists(ctx, SessionKey("x")))

	// miniredis expires keys on FastForward rather than wall clock.
	mr.FastForward(TTLSession + time.Second)
	assert.False(t, s.Exists(ctx, SessionKey("x")))
}

func TestRedisKeysAndFlush(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	s.Set(ctx, EPGKey("one"), 1, 0)
	s.Set(ctx, EPGKey("two"), 2, 0)
	s.Set(ctx, LineupKey, 3, 0)

	keys := s.Keys(ctx, "epg:*")
	sort.Strings(keys)
	assert.Equal(t, []string{"epg:one", "epg:two"}, keys)

	s.Flush(ctx)
	assert.Empty(t, s.Keys(ctx, "*"))
}

func TestRedisIncrementAndExpire(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	assert.Equal(t, int64(3), s.Increment(ctx, "n", 3))
	assert.Equal(t, int64(10), s.Increment(ctx, "n", 7))

	require.True(t, s.Expire(ctx, "n", time.Minute))
	mr.FastForward(2 * time.Minute)
	assert.False(t, s.Exists(ctx, "n"))

	assert.False(t, s.Expire(ctx, "absent", time.Minute))
}

func TestRedisHealth(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	h := s.Health(ctx)
	assert.Equal(t, "redis", h.Backend)
	assert.True(t, h.Healthy)

	mr.Close()
	h = s.Health(ctx)
	assert.False(t, h.Healthy)
	assert.NotEmpty(t, h.Error)
}

func TestBackgroundConnectorPromotesRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	s := New(Options{Engine: "redis", RedisAddr: mr.Addr(), RetryInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = s.Close() })

	require.Eventually(t, func() bool {
		return s.current().Name() == "redis"
	}, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	s.Set(ctx, "after-swap", "value", 0)
	var got string
	require.True(t, s.Get(ctx, "after-swap", &got))
	assert.Equal(t, "value", got)
}

func TestBackgroundConnectorServesMemoryWhileDown(t *testing.T) {
	// Port 1 is never a Redis server; the store must stay on memory and
	// keep serving.
	s := New(Options{Engine: "redis", RedisAddr: "127.0.0.1:1", RetryInterval: time.Hour})
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	s.Set(ctx, "k", 1, 0)
	assert.True(t, s.Exists(ctx, "k"))
	assert.Equal(t, "memory", s.Health(ctx).Backend)
}

func TestKeyPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)

	backend, err := newRedisBackend(context.Background(), Options{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	s := &Store{backend: backend, prefix: "plexbridge:", logger: slog.Default()}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	s.Set(ctx, SessionKey("a"), 1, 0)

	// The stored key carries the prefix; the caller never sees it.
	require.True(t, mr.Exists("plexbridge:session:a"))
	assert.Equal(t, []string{"session:a"}, s.Keys(ctx, "session:*"))

	// Foreign keys in the same database survive a flush.
	require.NoError(t, mr.Set("other-app:key", "keep"))
	s.Flush(ctx)
	assert.False(t, mr.Exists("plexbridge:session:a"))
	assert.True(t, mr.Exists("other-app:key"))
}
