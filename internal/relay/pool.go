package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"nostr-threads/internal/metrics"
	"nostr-threads/internal/types"
	"nostr-threads/internal/util"
)

// DefaultQueryTimeout bounds a single relay's REQ→EOSE exchange.
const DefaultQueryTimeout = 20 * time.Second

const reapInterval = time.Minute

var (
	errRelayClosed  = errors.New("subscription closed by relay")
	errRelayTimeout = errors.New("no EOSE before timeout")
	errUnsafeRelay  = errors.New("relay URL blocked: unsafe destination")
)

// Pool keeps one websocket per relay and implements Transport on top of it.
type Pool struct {
	mu          sync.RWMutex
	connections map[string]*relayConn

	dialer       *websocket.Dialer
	queryTimeout time.Duration
	idleTimeout  time.Duration
	logger       *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueryTimeout sets the per-relay upper bound for one query.
func WithQueryTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.queryTimeout = d
		}
	}
}

// WithLogger sets the pool's logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPool creates a pool and starts reaping idle connections.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		connections:  make(map[string]*relayConn),
		dialer:       websocket.DefaultDialer,
		queryTimeout: DefaultQueryTimeout,
		idleTimeout:  2 * time.Minute,
		logger:       slog.Default(),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.reapLoop()
	return p
}

// Query sends the filter to every relay in parallel, each bounded by the
// pool's query timeout, and returns the deduplicated union sorted by
// (created_at, id). Only when every relay fails is a TransportError returned.
func (p *Pool) Query(ctx context.Context, relays []string, filter types.Filter) ([]types.Event, error) {
	relays = util.UniqueStrings(relays)
	if len(relays) == 0 {
		return nil, &TransportError{Err: ErrNoRelays}
	}

	perRelay := make([][]types.Event, len(relays))
	errs := make([]error, len(relays))
	var g errgroup.Group
	for i, url := range relays {
		g.Go(func() error {
			perRelay[i], errs[i] = p.queryRelay(ctx, url, filter)
			return nil
		})
	}
	g.Wait()

	var failed []string
	var failures []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, relays[i])
			failures = append(failures, fmt.Errorf("%s: %w", relays[i], err))
		}
	}
	if len(failed) == len(relays) {
		sort.Strings(failed)
		return nil, &TransportError{Relays: failed, Err: errors.Join(failures...)}
	}

	events := mergeRelayResults(perRelay)
	if len(failed) > 0 {
		p.logger.Debug("partial relay failure", "failed", len(failed), "relays", len(relays), "events", len(events))
	}
	return events, nil
}

// mergeRelayResults dedupes by id, unioning RelaysSeen, and sorts ascending.
func mergeRelayResults(perRelay [][]types.Event) []types.Event {
	index := make(map[string]int)
	var events []types.Event
	for _, batch := range perRelay {
		for _, evt := range batch {
			if i, ok := index[evt.ID]; ok {
				events[i].RelaysSeen = util.UniqueStrings(events[i].RelaysSeen, evt.RelaysSeen)
				continue
			}
			index[evt.ID] = len(events)
			events = append(events, evt)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return types.Less(&events[i], &events[j])
	})
	return events
}

// queryRelay runs one REQ on one relay and collects events until EOSE.
// Events that arrived before a timeout or CLOSED still count.
func (p *Pool) queryRelay(ctx context.Context, relayURL string, filter types.Filter) (events []types.Event, err error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	outcome := "ok"
	defer func() {
		metrics.RelayQueriesTotal.WithLabelValues(relayURL, outcome).Inc()
		metrics.RelayQueryDuration.Observe(time.Since(start).Seconds())
	}()

	rc, sub, err := p.subscribe(ctx, relayURL, filter)
	if err != nil {
		outcome = "failed"
		p.logger.Debug("relay subscribe failed", "relay", relayURL, "error", err)
		return nil, err
	}
	defer rc.close(sub)

	drain := func() {
		for {
			select {
			case evt := <-sub.events:
				events = append(events, evt)
			default:
				return
			}
		}
	}
	settle := func(cause error) ([]types.Event, error) {
		drain()
		if len(events) > 0 {
			outcome = "partial"
			return events, nil
		}
		outcome = "failed"
		return nil, cause
	}

	for {
		select {
		case evt := <-sub.events:
			events = append(events, evt)
		case <-sub.eose:
			drain()
			return events, nil
		case <-sub.done:
			return settle(errRelayClosed)
		case <-ctx.Done():
			cause := ctx.Err()
			if errors.Is(cause, context.DeadlineExceeded) {
				cause = errRelayTimeout
			}
			return settle(cause)
		}
	}
}

// subscribe opens a REQ on relayURL, redialing once if the pooled
// connection died between lookup and send.
func (p *Pool) subscribe(ctx context.Context, relayURL string, filter types.Filter) (*relayConn, *subscription, error) {
	sub := newSubscription("thread-"+uuid.NewString()[:8], max(filter.Limit+16, 100))
	req := filter.ToREQ()

	for attempt := 0; attempt < 2; attempt++ {
		rc, err := p.conn(ctx, relayURL)
		if err != nil {
			return nil, nil, err
		}
		err = rc.open(sub, req)
		if err == nil {
			return rc, sub, nil
		}
		if !errors.Is(err, errConnClosed) {
			return nil, nil, err
		}
		p.forget(relayURL, rc)
	}
	return nil, nil, errConnClosed
}

func (p *Pool) conn(ctx context.Context, relayURL string) (*relayConn, error) {
	if !isRelayURLSafe(relayURL) {
		return nil, errUnsafeRelay
	}

	p.mu.RLock()
	rc := p.connections[relayURL]
	p.mu.RUnlock()
	if rc != nil && !rc.isClosed() {
		return rc, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if rc = p.connections[relayURL]; rc != nil && !rc.isClosed() {
		return rc, nil
	}

	p.logger.Debug("dialing relay", "relay", relayURL)
	rc, err := dialRelay(ctx, p.dialer, relayURL, p.logger)
	if err != nil {
		return nil, err
	}
	p.connections[relayURL] = rc
	return rc, nil
}

func (p *Pool) forget(relayURL string, rc *relayConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connections[relayURL] == rc {
		delete(p.connections, relayURL)
	}
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.reap(now)
		}
	}
}

// reap drops dead connections and closes ones idle past idleTimeout.
func (p *Pool) reap(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, rc := range p.connections {
		switch {
		case rc.isClosed():
		case rc.idle(now, p.idleTimeout):
			p.logger.Debug("closing idle relay connection", "relay", url)
			rc.shutdown()
		default:
			continue
		}
		delete(p.connections, url)
	}
}

// ActiveConnections returns the number of pooled connections.
func (p *Pool) ActiveConnections() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

// Close shuts every connection and stops the reaper.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	conns := p.connections
	p.connections = make(map[string]*relayConn)
	p.mu.Unlock()

	for _, rc := range conns {
		rc.shutdown()
	}
}
