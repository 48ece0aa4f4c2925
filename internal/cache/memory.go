package cache

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"
)

// memoryItem is a stored value with an optional expiry timer. The timer
// fires exactly once and removes the item; overwriting or expiring the key
// stops the old timer first so a stale timer can never delete a fresh value.
type memoryItem struct {
	value []byte
	timer *time.Timer
}

// memoryBackend is the default in-process backend: a mutex-guarded map with
// per-key expiry timers.
type memoryBackend struct {
	mu    sync.Mutex
	items map[string]*memoryItem
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{items: make(map[string]*memoryItem)}
}

func (m *memoryBackend) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return nil, false
	}
	return item.value, true
}

func (m *memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.items[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	item := &memoryItem{value: value}
	if ttl > 0 {
		item.timer = time.AfterFunc(ttl, func() { m.evict(key, item) })
	}
	m.items[key] = item
	return nil
}

// evict removes key only if it still maps to the item the timer was armed
// for, so a Set that raced with the timer wins.
func (m *memoryBackend) evict(key string, item *memoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.items[key]; ok && current == item {
		delete(m.items, key)
	}
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[key]; ok {
		if item.timer != nil {
			item.timer.Stop()
		}
		delete(m.items, key)
	}
	return nil
}

func (m *memoryBackend) Exists(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}

func (m *memoryBackend) Keys(_ context.Context, pattern string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys
}

func (m *memoryBackend) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.timer != nil {
			item.timer.Stop()
		}
	}
	m.items = make(map[string]*memoryItem)
	return nil
}

func (m *memoryBackend) Increment(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	item, ok := m.items[key]
	if ok {
		n, err := strconv.ParseInt(string(item.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not an integer: %w", key, err)
		}
		current = n
	} else {
		item = &memoryItem{}
		m.items[key] = item
	}
	current += delta
	item.value = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

func (m *memoryBackend) Expire(_ context.Context, key string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok {
		return false
	}
	if item.timer != nil {
		item.timer.Stop()
		item.timer = nil
	}
	if ttl > 0 {
		item.timer = time.AfterFunc(ttl, func() { m.evict(key, item) })
	}
	return true
}

func (m *memoryBackend) Ping(_ context.Context) error { return nil }

func (m *memoryBackend) Name() string { return "memory" }

func (m *memoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.timer != nil {
			item.timer.Stop()
		}
	}
	m.items = make(map[string]*memoryItem)
	return nil
}
