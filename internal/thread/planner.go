package thread

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"nostr-threads/internal/metrics"
	"nostr-threads/internal/nostr"
	"nostr-threads/internal/relay"
	"nostr-threads/internal/types"
	"nostr-threads/internal/util"
)

// chunkConcurrency bounds how many frontier chunks are in flight per level.
const chunkConcurrency = 4

// Planner issues the paginated, level-by-level reply queries.
type Planner struct {
	transport    relay.Transport
	validator    nostr.Validator
	resolver     nostr.ParentResolver
	pageLimit    int
	maxPages     int
	maxFilterIDs int
	logger       *slog.Logger
}

// PlannerConfig bounds the planner's queries.
type PlannerConfig struct {
	PageLimit    int // events per page; a full page means more may exist
	MaxPages     int // pages per frontier chunk before giving up with HasMore
	MaxFilterIDs int // frontier ids per #e filter
}

// NewPlanner creates a planner over transport. A nil validator accepts any
// well-shaped event.
func NewPlanner(transport relay.Transport, validator nostr.Validator, resolver nostr.ParentResolver, cfg PlannerConfig, logger *slog.Logger) *Planner {
	if validator == nil {
		validator = nostr.ShapeValidator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.MaxFilterIDs <= 0 {
		cfg.MaxFilterIDs = 100
	}
	return &Planner{
		transport:    transport,
		validator:    validator,
		resolver:     resolver,
		pageLimit:    cfg.PageLimit,
		maxPages:     cfg.MaxPages,
		maxFilterIDs: cfg.MaxFilterIDs,
		logger:       logger,
	}
}

// Cursor marks where paging of a frontier chunk stopped at the page cap.
type Cursor struct {
	IDs   []string
	Until int64
	// Depth is the depth of the nodes in IDs; their children sit one below.
	Depth int
}

// LevelResult is the outcome of one frontier fetch.
type LevelResult struct {
	Events []types.Event
	// HasMore is set when a chunk stopped at the page cap with a full page.
	HasMore bool
	// Resume holds a cursor per capped chunk.
	Resume []Cursor
	// Err joins the transport errors of failed pages. Events fetched before
	// a failure are still returned.
	Err error
}

// FetchLevel returns every text note referencing any id in frontier, sorted by
// (created_at, id). Each chunk of the frontier is paged backwards in time
// until a short page, a page with nothing new, a stuck cursor or the page cap.
func (p *Planner) FetchLevel(ctx context.Context, relays []string, frontier []string) LevelResult {
	frontier = util.UniqueStrings(frontier)
	if len(frontier) == 0 {
		return LevelResult{}
	}

	chunks := util.Chunk(frontier, p.maxFilterIDs)
	results := make([]LevelResult, len(chunks))

	var g errgroup.Group
	g.SetLimit(chunkConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			results[i] = p.fetchChunk(ctx, relays, chunk, nil)
			return nil
		})
	}
	g.Wait()

	var out LevelResult
	sources := make([][]types.Event, len(results))
	var errs []error
	for i, r := range results {
		sources[i] = r.Events
		out.HasMore = out.HasMore || r.HasMore
		out.Resume = append(out.Resume, r.Resume...)
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	out.Events = Merge(sources...)
	out.Err = errors.Join(errs...)
	return out
}

// ResumeLevel continues paging a capped chunk from its cursor.
func (p *Planner) ResumeLevel(ctx context.Context, relays []string, c Cursor) LevelResult {
	until := c.Until
	res := p.fetchChunk(ctx, relays, c.IDs, &until)
	for i := range res.Resume {
		res.Resume[i].Depth = c.Depth
	}
	return res
}

func (p *Planner) fetchChunk(ctx context.Context, relays []string, ids []string, until *int64) LevelResult {
	var res LevelResult
	seen := make(map[string]struct{})

	for page := 1; ; page++ {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}

		filter := types.Filter{
			Kinds: []int{types.KindTextNote},
			ETags: ids,
			Until: until,
			Limit: p.pageLimit,
		}
		batch, err := p.transport.Query(ctx, relays, filter)
		metrics.PagesFetchedTotal.Inc()
		if err != nil {
			p.logger.Debug("page query failed", "page", page, "targets", len(ids), "error", err)
			res.Err = err
			break
		}

		novel := 0
		for i := range batch {
			evt := &batch[i]
			if _, dup := seen[evt.ID]; dup {
				continue
			}
			if !p.validator.Valid(evt) {
				metrics.MalformedEventsTotal.Inc()
				continue
			}
			seen[evt.ID] = struct{}{}
			res.Events = append(res.Events, *evt)
			novel++
		}

		p.logger.Debug("page fetched", "page", page, "targets", len(ids), "count", len(batch), "novel", novel)

		// a short union means every relay answered with less than a full page
		if len(batch) < p.pageLimit {
			break
		}
		next := pageCursor(batch, p.pageLimit)
		if next < 0 || (until != nil && next >= *until) {
			p.logger.Debug("pagination cursor stuck", "page", page, "until", next)
			break
		}
		if page >= p.maxPages {
			res.HasMore = true
			res.Resume = []Cursor{{IDs: ids, Until: next}}
			break
		}
		until = &next
	}

	sortEvents(res.Events)
	return res
}

// pageCursor returns the until for the next page: one second before the
// oldest of the newest limit events. The batch may be a union of several
// relays' pages, each up to limit long.
func pageCursor(batch []types.Event, limit int) int64 {
	stamps := make([]int64, len(batch))
	for i := range batch {
		stamps[i] = batch[i].CreatedAt
	}
	slices.Sort(stamps)
	slices.Reverse(stamps)
	return stamps[min(limit, len(stamps))-1] - 1
}

// TraverseResult is the outcome of a breadth-first walk below a frontier.
type TraverseResult struct {
	// Events holds every valid event fetched, including ones whose parent
	// lies outside the walked frontiers; the tree builder places them.
	Events []types.Event
	// Pending is the unexpanded frontier left when the depth budget ran out.
	Pending []string
	// PendingDepth is the depth of the nodes in Pending.
	PendingDepth int
	// Resume lists chunks whose paging stopped at the page cap.
	Resume   []Cursor
	HasMore  bool
	Degraded bool
	Levels   int
}

// Traverse expands frontier, whose nodes sit at depth, one level at a time
// until the frontier empties or the next level would exceed maxDepth.
// expanded lists ids that already had their children fetched and is updated
// in place. Transport errors never abort the walk; they mark it Degraded.
func (p *Planner) Traverse(ctx context.Context, relays []string, frontier []string, depth, maxDepth int, expanded map[string]bool) TraverseResult {
	var res TraverseResult
	var levels [][]types.Event

	frontier = p.unexpanded(frontier, expanded)
	for len(frontier) > 0 && depth < maxDepth {
		if ctx.Err() != nil {
			res.Degraded = true
			break
		}

		level := p.FetchLevel(ctx, relays, frontier)
		metrics.LevelsFetchedTotal.Inc()
		if level.Err != nil {
			res.Degraded = true
		}
		res.HasMore = res.HasMore || level.HasMore
		for _, c := range level.Resume {
			c.Depth = depth
			res.Resume = append(res.Resume, c)
		}

		inFrontier := make(map[string]bool, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = true
			expanded[id] = true
		}

		var next []string
		for i := range level.Events {
			evt := &level.Events[i]
			parent, src := p.resolver.Resolve(evt)
			if src == nostr.SourcePositional {
				metrics.PositionalFallbackTotal.Inc()
				p.logger.Debug("positional fallback used", "event_id", nostr.ShortID(evt.ID), "parent", nostr.ShortID(parent))
			}
			if inFrontier[parent] && !expanded[evt.ID] {
				next = append(next, evt.ID)
			}
		}

		levels = append(levels, level.Events)

		res.Levels++
		depth++
		frontier = p.unexpanded(next, expanded)
		p.logger.Debug("level expanded", "depth", depth, "count", len(level.Events), "frontier", len(frontier))
	}

	if len(frontier) > 0 {
		res.Pending = frontier
		res.PendingDepth = depth
		res.HasMore = true
	}
	res.Events = Merge(levels...)
	return res
}

func (p *Planner) unexpanded(ids []string, expanded map[string]bool) []string {
	return util.FilterSlice(util.UniqueStrings(ids), func(id string) bool {
		return !expanded[id]
	})
}
