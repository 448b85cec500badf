package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"nostr-threads/internal/metrics"
	"nostr-threads/internal/types"
	"nostr-threads/internal/util"
)

// EventStore provides typed access to individual events keyed by id.
// Events are immutable, so writes are idempotent.
type EventStore struct {
	backend CacheBackend
	config  CacheConfig
}

func NewEventStore(backend CacheBackend, config CacheConfig) *EventStore {
	return &EventStore{backend: backend, config: config}
}

func eventKey(id string) string { return "event:" + id }

// loadJSON reads and decodes key, counting a hit or miss for store.
// Decode failures count as misses.
func loadJSON[T any](ctx context.Context, backend CacheBackend, store, key string) (T, bool) {
	var v T
	data, found, err := backend.Get(ctx, key)
	if err == nil && found && json.Unmarshal(data, &v) == nil {
		metrics.CacheHit(store)
		return v, true
	}
	metrics.CacheMiss(store)
	return v, false
}

// Get returns the cached event for id.
func (s *EventStore) Get(ctx context.Context, id string) (*types.Event, bool) {
	evt, ok := loadJSON[types.Event](ctx, s.backend, "events", eventKey(id))
	if !ok {
		return nil, false
	}
	return &evt, true
}

// GetMany returns the cached subset of ids.
func (s *EventStore) GetMany(ctx context.Context, ids []string) map[string]types.Event {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.backend.GetMultiple(ctx, util.MapSlice(ids, eventKey))
	if err != nil {
		slog.Debug("event cache read failed", "error", err)
		return nil
	}

	result := make(map[string]types.Event, len(found))
	for _, data := range found {
		var evt types.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		result[evt.ID] = evt
	}
	return result
}

// Put writes events through to the backend.
func (s *EventStore) Put(ctx context.Context, events ...types.Event) {
	if len(events) == 0 {
		return
	}
	items := make(map[string][]byte, len(events))
	for _, evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		items[eventKey(evt.ID)] = data
	}
	if err := s.backend.SetMultiple(ctx, items, s.config.EventTTL); err != nil {
		slog.Debug("event cache write failed", "error", err, "count", len(items))
	}
}

// ThreadStore keeps the event set last observed for a thread root.
type ThreadStore struct {
	backend CacheBackend
	config  CacheConfig
}

func NewThreadStore(backend CacheBackend, config CacheConfig) *ThreadStore {
	return &ThreadStore{backend: backend, config: config}
}

func threadKey(rootID string) string { return "thread:" + rootID }

// Get returns the cached events for rootID.
func (s *ThreadStore) Get(ctx context.Context, rootID string) ([]types.Event, bool) {
	cached, ok := loadJSON[types.CachedThread](ctx, s.backend, "threads", threadKey(rootID))
	if !ok || cached.RootID != rootID {
		return nil, false
	}
	return cached.Events, true
}

// Set replaces the cached event set for rootID.
func (s *ThreadStore) Set(ctx context.Context, rootID string, events []types.Event) {
	data, err := json.Marshal(types.CachedThread{
		RootID:   rootID,
		Events:   events,
		CachedAt: time.Now().Unix(),
	})
	if err != nil {
		return
	}
	if err := s.backend.Set(ctx, threadKey(rootID), data, s.config.ThreadTTL); err != nil {
		slog.Debug("thread cache write failed", "error", err, "root", rootID)
	}
}

// Delete drops the cached thread.
func (s *ThreadStore) Delete(ctx context.Context, rootID string) {
	s.backend.Delete(ctx, threadKey(rootID))
}

// RelayListStore provides typed access to NIP-65 relay lists.
type RelayListStore struct {
	backend CacheBackend
	config  CacheConfig
}

func NewRelayListStore(backend CacheBackend, config CacheConfig) *RelayListStore {
	return &RelayListStore{backend: backend, config: config}
}

func relayListKey(pubkey string) string { return "relaylist:" + pubkey }

// Get returns (relayList, notFound, inCache). When inCache and notFound are
// both true the author is known to have no relay list.
func (s *RelayListStore) Get(ctx context.Context, pubkey string) (*types.RelayList, bool, bool) {
	cached, ok := loadJSON[types.CachedRelayList](ctx, s.backend, "relaylists", relayListKey(pubkey))
	if !ok {
		return nil, false, false
	}
	return cached.RelayList, cached.NotFound, true
}

// Set stores a relay list; nil records a negative entry with a shorter TTL.
func (s *RelayListStore) Set(ctx context.Context, pubkey string, relayList *types.RelayList) {
	data, err := json.Marshal(types.CachedRelayList{
		RelayList: relayList,
		FetchedAt: time.Now().Unix(),
		NotFound:  relayList == nil,
	})
	if err != nil {
		return
	}

	ttl := s.config.RelayListTTL
	if relayList == nil {
		ttl = s.config.RelayListNotFoundTTL
	}
	s.backend.Set(ctx, relayListKey(pubkey), data, ttl)
}
