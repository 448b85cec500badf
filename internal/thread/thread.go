package thread

import (
	"context"
	"errors"
	"sync"

	"nostr-threads/internal/metrics"
	"nostr-threads/internal/types"
)

// ErrSuperseded is returned when a newer Open on the same Session replaced
// the thread a call was working for. Fetched events still reach the cache.
var ErrSuperseded = errors.New("thread: superseded by a newer reconstruction")

type frontierAt struct {
	ids   []string
	depth int
}

// Thread is the result of a reconstruction. Accessors return copies and are
// safe to call while FetchMore runs.
type Thread struct {
	engine     *Engine
	rootID     string
	authorHint string
	hintedID   string
	maxDepth   int
	pageSize   int
	narrow     []string
	refresh    bool

	session *Session
	gen     uint64

	fetchMu sync.Mutex // one FetchMore at a time

	mu            sync.RWMutex
	root          *types.Event
	hinted        *types.Event
	tree          Tree
	directReplies []types.Event
	relays        []string
	stage         Stage
	expanded      map[string]bool
	pending       []frontierAt
	resume        []Cursor
	hasMore       bool
	degraded      bool
	notFound      bool
}

// RootID returns the hex id of the thread root.
func (t *Thread) RootID() string { return t.rootID }

// Root returns the root event, or nil when it was never seen.
func (t *Thread) Root() *types.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root == nil {
		return nil
	}
	root := *t.root
	return &root
}

// Hinted returns the out-of-band event passed as a hint, if it was found.
func (t *Thread) Hinted() *types.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.hinted == nil {
		return nil
	}
	h := *t.hinted
	return &h
}

// DirectReplies returns the root's children, sorted by (created_at, id).
func (t *Thread) DirectReplies() []types.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]types.Event(nil), t.directReplies...)
}

// Tree returns a snapshot of the parent-to-children map.
func (t *Thread) Tree() Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Clone()
}

// Events returns the root (if known) and every event in the tree.
func (t *Thread) Events() []types.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var rootSet []types.Event
	if t.root != nil {
		rootSet = []types.Event{*t.root}
	}
	return Merge(rootSet, t.tree.Events())
}

// HasMore reports whether depth or page caps left parts unfetched.
func (t *Thread) HasMore() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hasMore
}

// NotFound reports that every relay set came back empty and the root was
// never seen.
func (t *Thread) NotFound() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.notFound
}

// Degraded reports that relay failures may have left the thread partial.
func (t *Thread) Degraded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.degraded
}

// Stage returns the escalation stage the first level was answered at.
func (t *Thread) Stage() Stage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stage
}

// Relays returns the relay set deeper levels were fetched from.
func (t *Thread) Relays() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.relays...)
}

// MaxDepth returns the traversal depth budget of this thread.
func (t *Thread) MaxDepth() int { return t.maxDepth }

// Flatten projects the thread into navigation order.
func (t *Thread) Flatten(opts FlattenOptions) FlatList {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Flatten(t.root, t.directReplies, t.tree, opts)
}

// FetchMore continues where the last pass stopped: it resumes capped
// pagination and expands the pending frontier up to another MaxDepth
// levels. The new events are merged into the tree without dropping any
// existing branch.
func (t *Thread) FetchMore(ctx context.Context) error {
	t.fetchMu.Lock()
	defer t.fetchMu.Unlock()

	t.mu.RLock()
	if !t.hasMore {
		t.mu.RUnlock()
		return nil
	}
	relays := append([]string(nil), t.relays...)
	resume := append([]Cursor(nil), t.resume...)
	pending := append([]frontierAt(nil), t.pending...)
	expanded := make(map[string]bool, len(t.expanded))
	for id := range t.expanded {
		expanded[id] = true
	}
	t.mu.RUnlock()

	e := t.engine
	planner := e.planner(t.pageSize)
	var fetched [][]types.Event
	var nextResume []Cursor
	var nextPending []frontierAt
	degraded := false

	walk := func(ids []string, depth int) {
		w := planner.Traverse(ctx, relays, ids, depth, depth+t.maxDepth, expanded)
		fetched = append(fetched, w.Events)
		nextResume = append(nextResume, w.Resume...)
		if len(w.Pending) > 0 {
			nextPending = append(nextPending, frontierAt{ids: w.Pending, depth: w.PendingDepth})
		}
		degraded = degraded || w.Degraded
	}

	for _, c := range resume {
		level := planner.ResumeLevel(ctx, relays, c)
		if level.Err != nil {
			degraded = true
		}
		fetched = append(fetched, level.Events)
		nextResume = append(nextResume, level.Resume...)

		parents := make(map[string]bool, len(c.IDs))
		for _, id := range c.IDs {
			parents[id] = true
		}
		var children []string
		for i := range level.Events {
			if parent, _ := e.resolver.Resolve(&level.Events[i]); parents[parent] {
				children = append(children, level.Events[i].ID)
			}
		}
		walk(children, c.Depth+1)
	}
	for _, f := range pending {
		walk(f.ids, f.depth)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	fresh := Merge(fetched...)
	if e.events != nil {
		e.events.Put(ctx, fresh...)
	}
	if t.session != nil && !t.session.isCurrent(t.gen) {
		metrics.ReconstructionsTotal.WithLabelValues("superseded").Inc()
		return ErrSuperseded
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree = MergeTrees(t.tree, Build(fresh, e.resolver))
	t.directReplies = DirectReplies(t.rootID, t.tree.Children(t.rootID), t.hinted, e.resolver)
	t.expanded = expanded
	t.resume = nextResume
	t.pending = nextPending
	t.hasMore = len(t.pending) > 0 || len(t.resume) > 0
	t.degraded = t.degraded || degraded
	if e.threads != nil {
		e.threads.Set(ctx, t.rootID, t.tree.Events())
	}
	return nil
}

// Session tracks the thread currently on screen. Opening a new root bumps a
// generation counter; work started for an older generation finishes but its
// results are discarded.
type Session struct {
	engine *Engine

	mu      sync.Mutex
	gen     uint64
	current *Thread
}

// NewSession creates a session over engine.
func NewSession(engine *Engine) *Session {
	return &Session{engine: engine}
}

// Open reconstructs ref and makes it the current thread. If another Open or
// Close happens first, the result is dropped and ErrSuperseded returned.
func (s *Session) Open(ctx context.Context, ref string, opts Options) (*Thread, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	t, err := s.engine.ReconstructThread(ctx, ref, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		metrics.ReconstructionsTotal.WithLabelValues("superseded").Inc()
		return nil, ErrSuperseded
	}
	t.session = s
	t.gen = gen
	s.current = t
	return t, nil
}

// Current returns the thread from the latest Open, or nil.
func (s *Session) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close abandons the current thread.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.current = nil
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}
