package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-threads/internal/types"
)

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache("redis://"+mr.Addr(), "test:")
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc, mr
}

func backends(t *testing.T) map[string]CacheBackend {
	mc := NewMemoryCache(100, time.Minute)
	t.Cleanup(func() { mc.Close() })
	rc, _ := newRedis(t)
	return map[string]CacheBackend{"memory": mc, "redis": rc}
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Set(ctx, "k1", []byte("v1"), time.Minute))
			require.NoError(t, b.SetMultiple(ctx, map[string][]byte{"k2": []byte("v2"), "k3": []byte("v3")}, time.Minute))

			v, found, err := b.Get(ctx, "k1")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "v1", string(v))

			many, err := b.GetMultiple(ctx, []string{"k2", "k3", "missing"})
			require.NoError(t, err)
			assert.Len(t, many, 2)
			assert.Equal(t, "v3", string(many["k3"]))

			require.NoError(t, b.Delete(ctx, "k1"))
			_, found, err = b.Get(ctx, "k1")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache(10, time.Minute)
	defer mc.Close()
	ctx := context.Background()

	mc.Set(ctx, "short", []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, found, _ := mc.Get(ctx, "short")
	assert.False(t, found)
}

func TestMemoryCacheCleanupEnforcesMaxSize(t *testing.T) {
	mc := NewMemoryCache(2, time.Hour)
	defer mc.Close()
	ctx := context.Background()

	mc.Set(ctx, "a", []byte("a"), time.Minute)
	mc.Set(ctx, "b", []byte("b"), 2*time.Minute)
	mc.Set(ctx, "c", []byte("c"), 3*time.Minute)
	mc.cleanup()

	_, found, _ := mc.Get(ctx, "a")
	assert.False(t, found, "soonest-to-expire entry is evicted")
	_, found, _ = mc.Get(ctx, "c")
	assert.True(t, found)
}

func TestMemoryCacheCloseTwice(t *testing.T) {
	mc := NewMemoryCache(1, time.Minute)
	assert.NoError(t, mc.Close())
	assert.NoError(t, mc.Close())
}

func TestRedisCacheTTL(t *testing.T) {
	rc, mr := newRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("test:k"))
	mr.FastForward(2 * time.Minute)
	_, found, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpenFallsBackToMemory(t *testing.T) {
	b, kind := Open("", nil)
	defer b.Close()
	assert.Equal(t, BackendMemory, kind)

	b2, kind := Open("redis://127.0.0.1:1/0", nil)
	defer b2.Close()
	assert.Equal(t, BackendMemory, kind)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	b, kind := Open("redis://"+mr.Addr(), nil)
	defer b.Close()
	assert.Equal(t, BackendRedis, kind)
}

func testEvent(id string, createdAt int64) types.Event {
	return types.Event{ID: id, PubKey: "pk", CreatedAt: createdAt, Kind: 1, Tags: [][]string{{"e", "root"}}, Content: id}
}

func TestEventStore(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewEventStore(b, DefaultCacheConfig())
			store.Put(ctx, testEvent("a", 1), testEvent("b", 2))
			store.Put(ctx, testEvent("a", 1))

			evt, ok := store.Get(ctx, "a")
			require.True(t, ok)
			assert.Equal(t, int64(1), evt.CreatedAt)
			assert.Equal(t, [][]string{{"e", "root"}}, evt.Tags)

			_, ok = store.Get(ctx, "zzz")
			assert.False(t, ok)

			many := store.GetMany(ctx, []string{"a", "b", "c"})
			assert.Len(t, many, 2)
			assert.Equal(t, "b", many["b"].Content)
		})
	}
}

func TestThreadStore(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewThreadStore(b, DefaultCacheConfig())
			_, ok := store.Get(ctx, "root")
			assert.False(t, ok)

			store.Set(ctx, "root", []types.Event{testEvent("x", 5)})
			events, ok := store.Get(ctx, "root")
			require.True(t, ok)
			require.Len(t, events, 1)
			assert.Equal(t, "x", events[0].ID)

			store.Delete(ctx, "root")
			_, ok = store.Get(ctx, "root")
			assert.False(t, ok)
		})
	}
}

func TestRelayListStoreNegativeEntries(t *testing.T) {
	ctx := context.Background()
	rc, mr := newRedis(t)
	store := NewRelayListStore(rc, DefaultCacheConfig())

	store.Set(ctx, "alice", &types.RelayList{Read: []string{"wss://r"}, Write: []string{}})
	store.Set(ctx, "bob", nil)

	rl, notFound, ok := store.Get(ctx, "alice")
	require.True(t, ok)
	assert.False(t, notFound)
	assert.Equal(t, []string{"wss://r"}, rl.Read)

	rl, notFound, ok = store.Get(ctx, "bob")
	require.True(t, ok)
	assert.True(t, notFound)
	assert.Nil(t, rl)

	// not-found entries expire sooner
	mr.FastForward(6 * time.Minute)
	_, _, ok = store.Get(ctx, "bob")
	assert.False(t, ok)
	_, _, ok = store.Get(ctx, "alice")
	assert.True(t, ok)
}

func TestCacheConfigFromEnv(t *testing.T) {
	t.Setenv("CACHE_THREAD_TTL", "30s")
	t.Setenv("CACHE_EVENT_TTL", "bogus")
	t.Setenv("CACHE_RELAYLIST_TTL", "-1m")

	cfg := CacheConfigFromEnv()
	def := DefaultCacheConfig()
	assert.Equal(t, 30*time.Second, cfg.ThreadTTL)
	assert.Equal(t, def.EventTTL, cfg.EventTTL)
	assert.Equal(t, def.RelayListTTL, cfg.RelayListTTL)
	assert.Equal(t, def.RelayListNotFoundTTL, cfg.RelayListNotFoundTTL)
}
