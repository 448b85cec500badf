package relay

import (
	"log/slog"
	"sync"
	"time"
)

// Batcher collects lookups over a short window and resolves them with one
// call to batchFn. Overlapping key sets from concurrent callers are merged,
// so three callers asking for [a,b], [b,c] and [a] cost a single relay query.
type Batcher[V any] struct {
	name     string
	batchFn  func(keys []string) map[string]V
	window   time.Duration
	maxBatch int

	mu      sync.Mutex
	pending map[string][]*batchWaiter[V]
	timer   *time.Timer
	armed   bool
}

type batchWaiter[V any] struct {
	keys   []string
	result chan map[string]V
}

// NewBatcher creates a batcher. maxBatch of 0 means no cap; reaching the cap
// flushes immediately instead of waiting for the window.
func NewBatcher[V any](name string, batchFn func(keys []string) map[string]V, window time.Duration, maxBatch int) *Batcher[V] {
	return &Batcher[V]{
		name:     name,
		batchFn:  batchFn,
		window:   window,
		maxBatch: maxBatch,
		pending:  make(map[string][]*batchWaiter[V]),
	}
}

// Get resolves a single key.
func (b *Batcher[V]) Get(key string) (V, bool) {
	v, ok := b.GetMultiple([]string{key})[key]
	return v, ok
}

// GetMultiple resolves keys, sharing the relay round trip with whatever else
// is pending. Keys batchFn did not answer are absent from the result.
func (b *Batcher[V]) GetMultiple(keys []string) map[string]V {
	if len(keys) == 0 {
		return nil
	}

	waiter := &batchWaiter[V]{
		keys:   keys,
		result: make(chan map[string]V, 1),
	}

	b.mu.Lock()
	for _, key := range keys {
		b.pending[key] = append(b.pending[key], waiter)
	}
	if !b.armed {
		b.armed = true
		b.timer = time.AfterFunc(b.window, b.flush)
	}
	full := b.maxBatch > 0 && len(b.pending) >= b.maxBatch
	if full {
		b.timer.Stop()
	}
	b.mu.Unlock()

	if full {
		b.flush()
	}
	return <-waiter.result
}

// flush runs batchFn over every pending key and hands each waiter its subset.
func (b *Batcher[V]) flush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string][]*batchWaiter[V])
	b.armed = false
	b.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	keys := make([]string, 0, len(pending))
	waiters := make(map[*batchWaiter[V]]struct{})
	for key, ws := range pending {
		keys = append(keys, key)
		for _, w := range ws {
			waiters[w] = struct{}{}
		}
	}

	slog.Debug("batcher: executing batch", "name", b.name, "keys", len(keys), "waiters", len(waiters))
	results := b.batchFn(keys)

	for w := range waiters {
		out := make(map[string]V, len(w.keys))
		for _, key := range w.keys {
			if v, ok := results[key]; ok {
				out[key] = v
			}
		}
		w.result <- out
	}
}

// Pending reports how many keys and callers are waiting for the next flush.
func (b *Batcher[V]) Pending() (keys int, waiters int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[*batchWaiter[V]]struct{})
	for _, ws := range b.pending {
		for _, w := range ws {
			seen[w] = struct{}{}
		}
	}
	return len(b.pending), len(seen)
}
