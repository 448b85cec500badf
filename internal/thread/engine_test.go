package thread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-threads/internal/cache"
	"nostr-threads/internal/config"
	"nostr-threads/internal/nips"
	"nostr-threads/internal/nostr"
	"nostr-threads/internal/types"
)

const (
	widerRelay    = "wss://wider.example.com"
	fallbackRelay = "wss://fallback.example.com"
)

type harness struct {
	net       *fakeNetwork
	discovery *fakeDiscovery
	events    *cache.EventStore
	threads   *cache.ThreadStore
	cfg       *config.EngineConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := cache.NewMemoryCache(1000, time.Minute)
	t.Cleanup(func() { backend.Close() })

	cfg := config.Default()
	cfg.Relays.Default = []string{testRelay}
	cfg.Relays.Fallback = []string{fallbackRelay}
	cfg.RetryBackoff = 0

	return &harness{
		net:       newFakeNetwork(),
		discovery: &fakeDiscovery{},
		events:    cache.NewEventStore(backend, cache.DefaultCacheConfig()),
		threads:   cache.NewThreadStore(backend, cache.DefaultCacheConfig()),
		cfg:       cfg,
	}
}

func (h *harness) engine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Deps{
		Transport: h.net,
		Events:    h.events,
		Threads:   h.threads,
		Discovery: h.discovery,
		Validator: nostr.ShapeValidator{},
		Config:    h.cfg,
	})
	require.NoError(t, err)
	return e
}

func scenarioEvents() []types.Event {
	return []types.Event{
		note("R", 100),
		note("A", 200, replyTo("R")),
		note("B", 150, replyTo("R")),
		note("A1", 300, rootTag("R"), replyTo("A")),
	}
}

func TestReconstructThreadScenario(t *testing.T) {
	h := newHarness(t)
	h.net.add(testRelay, scenarioEvents()...)

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{})
	require.NoError(t, err)

	require.NotNil(t, th.Root())
	assert.Equal(t, "R", th.Root().Content)
	assert.Equal(t, []string{"B", "A"}, names(th.DirectReplies()))
	assert.Equal(t, []string{"A1"}, names(th.Tree().Children(hexID("A"))))
	assert.Equal(t, []string{"R", "B", "A", "A1"}, flatNames(th.Flatten(FlattenOptions{IncludeNested: true, MaxDepth: -1})))
	assert.Equal(t, StageNarrow, th.Stage())
	assert.False(t, th.NotFound())
	assert.False(t, th.Degraded())
	assert.False(t, th.HasMore())
	assert.Len(t, th.Events(), 4)

	// everything fetched was written through to the per-event cache
	for _, evt := range scenarioEvents() {
		_, ok := h.events.Get(context.Background(), evt.ID)
		assert.True(t, ok, evt.Content)
	}
	cached, ok := h.threads.Get(context.Background(), hexID("R"))
	require.True(t, ok)
	assert.Len(t, cached, 3)
}

func TestReconstructThreadEscalatesToWider(t *testing.T) {
	h := newHarness(t)
	h.net.add(widerRelay, scenarioEvents()...)
	h.discovery.relays = []string{widerRelay}

	ref, err := nips.EncodeNEvent(hexID("R"), testAuthor, nil)
	require.NoError(t, err)

	th, err := h.engine(t).ReconstructThread(context.Background(), ref, Options{})
	require.NoError(t, err)

	assert.False(t, th.NotFound())
	assert.Equal(t, StageWider, th.Stage())
	assert.Equal(t, []string{"B", "A"}, names(th.DirectReplies()))
	assert.Equal(t, []string{testRelay, widerRelay}, th.Relays())
	assert.Equal(t, 1, h.discovery.calls)
}

func TestReconstructThreadEscalatesFromCachedRoot(t *testing.T) {
	h := newHarness(t)
	root := note("R", 100)
	h.events.Put(context.Background(), root)
	h.net.add(widerRelay, note("A", 200, replyTo("R")))
	h.discovery.relays = []string{widerRelay}

	th, err := h.engine(t).ReconstructThread(context.Background(), root.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, StageWider, th.Stage())
	assert.Equal(t, []string{"A"}, names(th.DirectReplies()))
}

func TestReconstructThreadWidestFallback(t *testing.T) {
	h := newHarness(t)
	h.net.add(fallbackRelay, scenarioEvents()...)

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{})
	require.NoError(t, err)
	assert.Equal(t, StageWidest, th.Stage())
	assert.False(t, th.NotFound())
	assert.Len(t, th.DirectReplies(), 2)
}

func TestReconstructThreadNotFound(t *testing.T) {
	h := newHarness(t)

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("missing"), Options{})
	require.NoError(t, err)
	assert.True(t, th.NotFound())
	assert.False(t, th.Degraded())
	assert.Equal(t, StageFailed, th.Stage())
	assert.Nil(t, th.Root())
	assert.Empty(t, th.DirectReplies())
	assert.Empty(t, th.Flatten(FlattenOptions{IncludeNested: true, MaxDepth: -1}))
	assert.False(t, th.HasMore())
}

func TestReconstructThreadRootWithoutReplies(t *testing.T) {
	h := newHarness(t)
	h.net.add(testRelay, note("R", 100))

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{})
	require.NoError(t, err)
	assert.False(t, th.NotFound())
	assert.Equal(t, StageNarrow, th.Stage())
	assert.Empty(t, th.DirectReplies())
	assert.Equal(t, []string{"R"}, flatNames(th.Flatten(FlattenOptions{MaxDepth: -1})))
}

func TestReconstructThreadInvalidRoot(t *testing.T) {
	h := newHarness(t)
	for _, ref := range []string{"", "xyz", "npub1abc", hexID("R")[:63]} {
		_, err := h.engine(t).ReconstructThread(context.Background(), ref, Options{})
		assert.ErrorIs(t, err, ErrInvalidRootID, ref)
	}
	assert.Empty(t, h.net.recorded())
}

func TestReconstructThreadTransportFailure(t *testing.T) {
	h := newHarness(t)
	h.net.fail(testRelay, -1)
	h.discovery.relays = []string{widerRelay}

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{})
	require.NoError(t, err)
	assert.True(t, th.Degraded())
	assert.False(t, th.NotFound(), "transport failure is not the same as not found")
	assert.Equal(t, StageNarrow, th.Stage())
	assert.Empty(t, th.DirectReplies())
	assert.Zero(t, h.discovery.calls)

	for _, q := range h.net.recorded() {
		assert.Equal(t, []string{testRelay}, q.relays)
	}
}

func TestReconstructThreadRecoversAfterRetry(t *testing.T) {
	h := newHarness(t)
	h.net.add(testRelay, scenarioEvents()...)
	h.net.fail(testRelay, 2) // root lookup and first page of the first attempt

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{})
	require.NoError(t, err)
	assert.False(t, th.Degraded())
	assert.Equal(t, StageNarrow, th.Stage())
	assert.Len(t, th.DirectReplies(), 2)
}

func TestReconstructThreadHintedEvent(t *testing.T) {
	h := newHarness(t)
	h.net.add(testRelay, scenarioEvents()...)

	// known only out of band
	direct := note("H", 175, rootTag("R"))
	deep := note("D", 400, rootTag("R"), replyTo("unfetched"))
	h.events.Put(context.Background(), direct, deep)

	e := h.engine(t)
	th, err := e.ReconstructThread(context.Background(), hexID("R"), Options{HintedEventID: direct.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "H", "A"}, names(th.DirectReplies()))
	require.NotNil(t, th.Hinted())

	noteRef, err := nips.EncodeEventID(deep.ID)
	require.NoError(t, err)
	th, err = e.ReconstructThread(context.Background(), hexID("R"), Options{HintedEventID: noteRef})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, names(th.DirectReplies()))
	assert.NotContains(t, flatNames(th.Flatten(FlattenOptions{IncludeNested: true, MaxDepth: -1})), "D")
}

func TestReconstructThreadKeepsCachedBranches(t *testing.T) {
	h := newHarness(t)
	h.net.add(testRelay, scenarioEvents()...)
	_, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{})
	require.NoError(t, err)

	// a later pass against a relay that lost A's subtree
	h.net = newFakeNetwork()
	h.net.add(testRelay, note("R", 100), note("B", 150, replyTo("R")))

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"R", "B", "A", "A1"}, flatNames(th.Flatten(FlattenOptions{IncludeNested: true, MaxDepth: -1})))
}

func TestReconstructThreadRelayOverrides(t *testing.T) {
	h := newHarness(t)
	custom := "wss://custom.example.com"
	h.net.add(custom, scenarioEvents()...)

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{Relays: []string{custom, "not a relay"}})
	require.NoError(t, err)
	assert.Equal(t, StageNarrow, th.Stage())
	assert.Equal(t, []string{custom}, th.Relays())

	ref, err := nips.EncodeNEvent(hexID("R"), "", []string{custom})
	require.NoError(t, err)
	th, err = h.engine(t).ReconstructThread(context.Background(), "nostr:"+ref, Options{})
	require.NoError(t, err)
	assert.Equal(t, StageNarrow, th.Stage())
	assert.Contains(t, th.Relays(), custom)
}

func TestReconstructThreadPageSize(t *testing.T) {
	h := newHarness(t)
	h.net.add(testRelay, note("R", 100))
	h.net.add(testRelay, repliesTo("R", 5, 200)...)

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, th.DirectReplies(), 5)
	for _, q := range h.net.replyQueries() {
		assert.Equal(t, 2, q.filter.Limit)
	}
}

func TestFetchMoreExpandsDepth(t *testing.T) {
	h := newHarness(t)
	h.net.add(testRelay, note("R", 100))
	h.net.add(testRelay, chain("R", "A", "B", "C", "D")...)

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{MaxDepth: 2})
	require.NoError(t, err)
	opts := FlattenOptions{IncludeNested: true, MaxDepth: -1}
	assert.Equal(t, []string{"R", "A", "B"}, flatNames(th.Flatten(opts)))
	assert.True(t, th.HasMore())

	require.NoError(t, th.FetchMore(context.Background()))
	assert.Equal(t, []string{"R", "A", "B", "C", "D"}, flatNames(th.Flatten(opts)))
	assert.True(t, th.HasMore(), "D sits at the new depth limit")

	require.NoError(t, th.FetchMore(context.Background()))
	assert.False(t, th.HasMore())
	require.NoError(t, th.FetchMore(context.Background()), "no-op once complete")
}

func TestFetchMoreResumesPaging(t *testing.T) {
	h := newHarness(t)
	h.cfg.MaxPages = 1
	h.net.add(testRelay, note("R", 100))
	h.net.add(testRelay, repliesTo("R", 5, 200)...)

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, th.DirectReplies(), 2)
	assert.True(t, th.HasMore())

	require.NoError(t, th.FetchMore(context.Background()))
	assert.Len(t, th.DirectReplies(), 4)
	assert.True(t, th.HasMore())

	require.NoError(t, th.FetchMore(context.Background()))
	assert.Len(t, th.DirectReplies(), 5)
	assert.False(t, th.HasMore())
}

func TestSessionSupersedesOlderThread(t *testing.T) {
	h := newHarness(t)
	h.net.add(testRelay, note("R", 100))
	h.net.add(testRelay, chain("R", "A", "B", "C")...)
	h.net.add(testRelay, note("S", 500))

	session := NewSession(h.engine(t))
	first, err := session.Open(context.Background(), hexID("R"), Options{MaxDepth: 1})
	require.NoError(t, err)
	require.True(t, first.HasMore())

	second, err := session.Open(context.Background(), hexID("S"), Options{})
	require.NoError(t, err)
	assert.Same(t, second, session.Current())

	err = first.FetchMore(context.Background())
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Empty(t, first.Tree().Children(hexID("A")), "stale results are discarded")
	_, cached := h.events.Get(context.Background(), hexID("B"))
	assert.True(t, cached, "but still written through to the event cache")

	session.Close()
	assert.Nil(t, session.Current())
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(Deps{})
	assert.Error(t, err)

	cfg := config.Default()
	cfg.PositionalFallback = "middle"
	_, err = NewEngine(Deps{Transport: newFakeNetwork(), Config: cfg})
	assert.Error(t, err)

	e, err := NewEngine(Deps{Transport: newFakeNetwork()})
	require.NoError(t, err)
	assert.Equal(t, nostr.FallbackSecond, e.Resolver().Fallback)
}

func TestReconstructThreadRefreshDropsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.net.add(testRelay, scenarioEvents()...)
	_, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{})
	require.NoError(t, err)

	h.net = newFakeNetwork()
	h.net.add(testRelay, note("R", 100), note("B", 150, replyTo("R")))

	th, err := h.engine(t).ReconstructThread(context.Background(), hexID("R"), Options{Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"R", "B"}, flatNames(th.Flatten(FlattenOptions{IncludeNested: true, MaxDepth: -1})))
}
