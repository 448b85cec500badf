package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryCache is the in-process CacheBackend. Expired entries are hidden on
// read and removed by a periodic sweep, which also trims the map back to
// maxSize by evicting the entries closest to expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	maxSize int

	stop     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryCache starts a cache holding about maxSize entries, swept every
// sweepEvery. maxSize <= 0 disables the size bound.
func NewMemoryCache(maxSize int, sweepEvery time.Duration) *MemoryCache {
	m := &MemoryCache{
		entries: make(map[string]memoryEntry),
		maxSize: maxSize,
		stop:    make(chan struct{}),
	}
	go m.sweep(sweepEvery)
	return m
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.SetMultiple(ctx, map[string][]byte{key: value}, ttl)
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	now := time.Now()
	found := make(map[string][]byte, len(keys))

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range keys {
		if e, ok := m.entries[k]; ok && !now.After(e.expires) {
			found[k] = e.value
		}
	}
	return found, nil
}

func (m *MemoryCache) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	expires := time.Now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range items {
		m.entries[k] = memoryEntry{value: v, expires: expires}
	}
	return nil
}

// Close stops the sweeper. It is safe to call more than once.
func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryCache) cleanup() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, k)
		}
	}

	excess := len(m.entries) - m.maxSize
	if m.maxSize <= 0 || excess <= 0 {
		return
	}
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return m.entries[a].expires.Compare(m.entries[b].expires)
	})
	for _, k := range keys[:excess] {
		delete(m.entries, k)
	}
}
