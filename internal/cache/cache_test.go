package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
}

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	s := New(Options{})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	want := lineupEntry{GuideNumber: "100", GuideName: "News One"}
	s.Set(ctx, LineupKey, want, 0)

	var got lineupEntry
	require.True(t, s.Get(ctx, LineupKey, &got))
	assert.Equal(t, want, got)
}

func TestStoreMissOnAbsentKey(t *testing.T) {
	s := newMemoryStore(t)

	var got lineupEntry
	assert.False(t, s.Get(context.Background(), "nope", &got))
}

func TestStoreTTLExpiry(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	s.Set(ctx, SessionKey("abc"), "payload", 20*time.Millisecond)
	require.True(t, s.Exists(ctx, SessionKey("abc")))

	assert.Eventually(t, func() bool {
		return !s.Exists(ctx, SessionKey("abc"))
	}, time.Second, 10*time.Millisecond)
}

func TestStoreOverwriteResetsExpiry(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", "short-lived", 20*time.Millisecond)
	s.Set(ctx, "k", "durable", 0)

	time.Sleep(60 * time.Millisecond)

	var got string
	require.True(t, s.Get(ctx, "k", &got), "overwrite must cancel the old expiry timer")
	assert.Equal(t, "durable", got)
}

func TestStoreDelete(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", 1, 0)
	s.Delete(ctx, "k")
	assert.False(t, s.Exists(ctx, "k"))

	// Deleting a missing key is a no-op.
	s.Delete(ctx, "k")
}

func TestStoreKeysGlob(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	s.Set(ctx, SessionKey("a"), 1, 0)
	s.Set(ctx, SessionKey("b"), 2, 0)
	s.Set(ctx, EPGKey("c1"), 3, 0)

	keys := s.Keys(ctx, "session:*")
	sort.Strings(keys)
	assert.Equal(t, []string{"session:a", "session:b"}, keys)

	assert.Len(t, s.Keys(ctx, "*"), 3)
	assert.Empty(t, s.Keys(ctx, "logo:*"))
}

func TestStoreFlush(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	s.Set(ctx, "a", 1, 0)
	s.Set(ctx, "b", 2, time.Minute)
	s.Flush(ctx)

	assert.Empty(t, s.Keys(ctx, "*"))
}

func TestStoreIncrement(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	assert.Equal(t, int64(1), s.Increment(ctx, "hits", 1))
	assert.Equal(t, int64(5), s.Increment(ctx, "hits", 4))
	assert.Equal(t, int64(3), s.Increment(ctx, "hits", -2))

	// Non-integer values cannot be incremented.
	s.Set(ctx, "name", "text", 0)
	assert.Equal(t, int64(0), s.Increment(ctx, "name", 1))
}

func TestStoreExpire(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	s.Set(ctx, "k", 1, 0)
	require.True(t, s.Expire(ctx, "k", 20*time.Millisecond))
	assert.Eventually(t, func() bool {
		return !s.Exists(ctx, "k")
	}, time.Second, 10*time.Millisecond)

	assert.False(t, s.Expire(ctx, "absent", time.Minute))
}

func TestStoreCorruptEntryEvicted(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	s.SetBytes(ctx, "bad", []byte("{not json"), 0)

	var got map[string]any
	assert.False(t, s.Get(ctx, "bad", &got))
	assert.False(t, s.Exists(ctx, "bad"), "corrupt entry should be evicted on read")
}

func TestStoreHealthMemory(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	s.Set(ctx, "a", 1, 0)
	h := s.Health(ctx)
	assert.Equal(t, "memory", h.Backend)
	assert.True(t, h.Healthy)
	assert.Equal(t, 1, h.Keys)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				s.Set(ctx, SessionKey("shared"), n, time.Minute)
				var got int
				s.Get(ctx, SessionKey("shared"), &got)
				s.Increment(ctx, "counter", 1)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, int64(800), s.Increment(ctx, "counter", 0))
}
