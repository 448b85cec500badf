package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"nostr-threads/internal/cache"
	"nostr-threads/internal/config"
	"nostr-threads/internal/metrics"
	"nostr-threads/internal/nips"
	"nostr-threads/internal/nostr"
	"nostr-threads/internal/relay"
	"nostr-threads/internal/types"
	"nostr-threads/internal/util"
)

// ErrInvalidRootID is returned for a root reference that is not a 64-char hex
// id, note1 or nevent1.
var ErrInvalidRootID = errors.New("thread: invalid root id")

// Discoverer resolves authors to the relays they read from.
type Discoverer interface {
	ReadRelays(ctx context.Context, authors []string, candidates []string) ([]string, error)
}

// Deps are the collaborators an Engine is built from. Only Transport is required.
type Deps struct {
	Transport relay.Transport
	Events    *cache.EventStore
	Threads   *cache.ThreadStore
	Discovery Discoverer
	Validator nostr.Validator
	Config    *config.EngineConfig
	Logger    *slog.Logger
}

// Engine reconstructs threads. It is safe for concurrent use.
type Engine struct {
	transport relay.Transport
	events    *cache.EventStore
	threads   *cache.ThreadStore
	discovery Discoverer
	validator nostr.Validator
	resolver  nostr.ParentResolver
	cfg       *config.EngineConfig
	escalator *Escalator
	logger    *slog.Logger

	lookups singleflight.Group
}

// NewEngine wires an engine from deps.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Transport == nil {
		return nil, errors.New("thread: transport is required")
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	fallback, err := nostr.ParseFallback(cfg.PositionalFallback)
	if err != nil {
		return nil, fmt.Errorf("thread: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validator := deps.Validator
	if validator == nil {
		validator = nostr.SchnorrValidator{}
	}

	return &Engine{
		transport: deps.Transport,
		events:    deps.Events,
		threads:   deps.Threads,
		discovery: deps.Discovery,
		validator: validator,
		resolver:  nostr.ParentResolver{Fallback: fallback},
		cfg:       cfg,
		escalator: NewEscalator(cfg.MaxAttempts, cfg.RetryBackoff.Std(), logger),
		logger:    logger,
	}, nil
}

// Options tune one reconstruction. Zero values use the engine's configuration.
type Options struct {
	MaxDepth int
	PageSize int
	// HintedEventID is an event known out of band (hex, note1 or nevent1).
	HintedEventID string
	// Relays form the NARROW set; nevent relay hints are added to it.
	Relays []string
	// Refresh discards the cached thread snapshot before fetching.
	Refresh bool
}

// Resolver returns the parent resolver the engine builds trees with.
func (e *Engine) Resolver() nostr.ParentResolver {
	return e.resolver
}

func (e *Engine) planner(pageSize int) *Planner {
	if pageSize <= 0 {
		pageSize = e.cfg.PageLimit
	}
	return NewPlanner(e.transport, e.validator, e.resolver, PlannerConfig{
		PageLimit:    pageSize,
		MaxPages:     e.cfg.MaxPages,
		MaxFilterIDs: e.cfg.MaxFilterIDs,
	}, e.logger)
}

// ReconstructThread fetches the thread rooted at ref. Relay failures never
// fail the call; they show up as Degraded or NotFound on the result. The
// error is non-nil only for an invalid reference or a cancelled context.
func (e *Engine) ReconstructThread(ctx context.Context, ref string, opts Options) (*Thread, error) {
	root, err := nips.ParseEventRef(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRootID, err)
	}

	t := &Thread{
		engine:     e,
		rootID:     root.ID,
		authorHint: root.Author,
		maxDepth:   opts.MaxDepth,
		pageSize:   opts.PageSize,
		narrow:     e.narrowRelays(opts.Relays, root.RelayHints),
		refresh:    opts.Refresh,
		expanded:   make(map[string]bool),
	}
	if t.maxDepth <= 0 {
		t.maxDepth = e.cfg.MaxDepth
	}
	if opts.HintedEventID != "" {
		hint, err := nips.ParseEventRef(opts.HintedEventID)
		if err != nil {
			e.logger.Warn("ignoring invalid hinted event", "hint", opts.HintedEventID, "error", err)
		} else {
			t.hintedID = hint.ID
			t.narrow = util.UniqueStrings(t.narrow, hint.RelayHints)
		}
	}

	log := e.logger.With("root", nostr.ShortID(t.rootID))
	if err := e.load(ctx, t, log); err != nil {
		metrics.ReconstructionsTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	switch {
	case t.notFound:
		metrics.ReconstructionsTotal.WithLabelValues("not_found").Inc()
	case t.degraded:
		metrics.ReconstructionsTotal.WithLabelValues("degraded").Inc()
	default:
		metrics.ReconstructionsTotal.WithLabelValues("ok").Inc()
	}
	log.Info("thread reconstructed",
		"stage", t.stage.String(),
		"replies", len(t.directReplies),
		"nodes", t.tree.Size(),
		"has_more", t.hasMore,
		"not_found", t.notFound,
		"degraded", t.degraded)
	return t, nil
}

func (e *Engine) narrowRelays(caller []string, hints []string) []string {
	var relays []string
	for _, r := range append(append([]string(nil), caller...), hints...) {
		if u := nostr.NormalizeRelayURL(r); u != "" {
			relays = append(relays, u)
		}
	}
	relays = util.UniqueStrings(relays)
	if len(relays) == 0 {
		relays = append([]string(nil), e.cfg.Relays.Default...)
	}
	return relays
}

// load runs one full reconstruction pass and fills t.
func (e *Engine) load(ctx context.Context, t *Thread, log *slog.Logger) error {
	planner := e.planner(t.pageSize)

	var root *types.Event
	var known []types.Event
	if e.events != nil {
		found := e.events.GetMany(ctx, util.UniqueStrings([]string{t.rootID, t.hintedID}))
		if evt, ok := found[t.rootID]; ok {
			root = &evt
		}
		if evt, ok := found[t.hintedID]; ok && t.hintedID != t.rootID {
			known = append(known, evt)
		}
	}

	var cached []types.Event
	if e.threads != nil {
		if t.refresh {
			e.threads.Delete(ctx, t.rootID)
		} else {
			cached, _ = e.threads.Get(ctx, t.rootID)
		}
	}

	// Level 1 runs under escalation; the root lookup rides along until found.
	var hints []string
	var levelHasMore, degraded bool
	var resume []Cursor
	attempt := func(ctx context.Context, relays []string) ([]types.Event, error) {
		var found []types.Event
		var errs []error

		if root == nil {
			r, err := e.lookupEvent(ctx, relays, t.rootID)
			if err != nil {
				errs = append(errs, err)
			}
			if r != nil {
				root = r
				found = append(found, *r)
				hints = util.UniqueStrings(hints, nostr.RelayHints(r))
			}
		}

		level := planner.FetchLevel(ctx, relays, []string{t.rootID})
		metrics.LevelsFetchedTotal.Inc()
		if level.Err != nil {
			errs = append(errs, level.Err)
		}
		levelHasMore = level.HasMore
		resume = level.Resume
		for i := range level.Events {
			hints = util.UniqueStrings(hints, nostr.RelayHints(&level.Events[i]))
		}
		found = append(found, level.Events...)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(errs) > 0 {
			err := errors.Join(errs...)
			if len(found) == 0 && relay.IsTransportError(err) {
				return nil, &relay.TransportError{Relays: relays, Err: err}
			}
			degraded = true
		}
		return found, nil
	}

	stageRelays := func(ctx context.Context, stage Stage, current []string) []string {
		switch stage {
		case StageNarrow:
			return t.narrow
		case StageWider:
			return e.widerRelays(ctx, t, root, hints, current, log)
		case StageWidest:
			return e.cfg.Relays.Fallback
		}
		return nil
	}

	esc, err := e.escalator.Run(ctx, stageRelays, attempt)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	relays := esc.Relays
	if len(relays) == 0 {
		relays = t.narrow
	}
	switch {
	case errors.Is(err, ErrNotFound):
		log.Debug("no relay set returned the thread", "relays", len(relays))
	case err != nil:
		log.Warn("thread fetch degraded", "stage", esc.Stage.String(), "error", err)
		degraded = true
	}

	var level1 []types.Event
	for _, evt := range esc.Events {
		if evt.ID != t.rootID {
			level1 = append(level1, evt)
		}
	}

	// Deeper levels use the relay set that answered.
	t.expanded[t.rootID] = true
	var frontier []string
	for i := range level1 {
		if parent, _ := e.resolver.Resolve(&level1[i]); parent == t.rootID {
			frontier = append(frontier, level1[i].ID)
		}
	}
	walk := planner.Traverse(ctx, relays, frontier, 1, t.maxDepth, t.expanded)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	fresh := Merge(level1, walk.Events)
	var hinted *types.Event
	if t.hintedID != "" && t.hintedID != t.rootID {
		hinted = e.findHinted(ctx, relays, t.hintedID, fresh, append(known, cached...), log)
	}

	if e.events != nil {
		e.events.Put(ctx, fresh...)
	}

	tree := MergeTrees(Build(cached, e.resolver), Build(fresh, e.resolver))
	if e.threads != nil && (len(fresh) > 0 || len(cached) > 0) {
		e.threads.Set(ctx, t.rootID, tree.Events())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = root
	t.hinted = hinted
	t.tree = tree
	t.directReplies = DirectReplies(t.rootID, tree.Children(t.rootID), hinted, e.resolver)
	t.relays = relays
	t.stage = esc.Stage
	if len(walk.Pending) > 0 {
		t.pending = []frontierAt{{ids: walk.Pending, depth: walk.PendingDepth}}
	}
	t.resume = append(resumeAt(resume, 0), walk.Resume...)
	t.hasMore = levelHasMore || walk.HasMore || len(t.resume) > 0
	t.degraded = degraded || walk.Degraded
	t.notFound = esc.Stage == StageFailed && root == nil && len(cached) == 0
	return nil
}

// widerRelays collects the WIDER stage's additions: relay lists of the root
// author (or the nevent author hint) plus relay hints seen in reference tags.
func (e *Engine) widerRelays(ctx context.Context, t *Thread, root *types.Event, hints, current []string, log *slog.Logger) []string {
	added := append([]string(nil), hints...)

	var authors []string
	if root != nil {
		authors = append(authors, root.PubKey)
	}
	if t.authorHint != "" {
		authors = append(authors, t.authorHint)
	}
	if e.discovery != nil && len(authors) > 0 {
		discovered, err := e.discovery.ReadRelays(ctx, authors, current)
		if err != nil {
			log.Debug("relay discovery failed", "error", err)
		}
		added = append(added, discovered...)
	}
	return added
}

// findHinted returns the hinted event from the fetched set, the caches or,
// failing those, the relays.
func (e *Engine) findHinted(ctx context.Context, relays []string, id string, fetched, cached []types.Event, log *slog.Logger) *types.Event {
	for _, set := range [][]types.Event{fetched, cached} {
		for i := range set {
			if set[i].ID == id {
				evt := set[i]
				return &evt
			}
		}
	}
	evt, err := e.lookupEvent(ctx, relays, id)
	if err != nil {
		log.Debug("hinted event lookup failed", "event_id", nostr.ShortID(id), "error", err)
	}
	return evt
}

// lookupEvent reads an event through the per-event cache, fetching it by id
// on a miss. Concurrent lookups of the same id share one query.
func (e *Engine) lookupEvent(ctx context.Context, relays []string, id string) (*types.Event, error) {
	if e.events != nil {
		if evt, ok := e.events.Get(ctx, id); ok {
			return evt, nil
		}
	}

	key := id + "@" + strings.Join(util.SortedCopy(relays), ",")
	v, err, _ := e.lookups.Do(key, func() (interface{}, error) {
		events, err := e.transport.Query(ctx, relays, types.Filter{IDs: []string{id}, Limit: 1})
		if err != nil {
			return nil, err
		}
		for i := range events {
			evt := events[i]
			if evt.ID != id {
				continue
			}
			if !e.validator.Valid(&evt) {
				metrics.MalformedEventsTotal.Inc()
				continue
			}
			if e.events != nil {
				e.events.Put(ctx, evt)
			}
			return &evt, nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	evt, _ := v.(*types.Event)
	return evt, nil
}

func resumeAt(cursors []Cursor, depth int) []Cursor {
	for i := range cursors {
		cursors[i].Depth = depth
	}
	return cursors
}
