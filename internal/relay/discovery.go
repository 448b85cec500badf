package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nostr-threads/internal/cache"
	"nostr-threads/internal/nostr"
	"nostr-threads/internal/types"
	"nostr-threads/internal/util"
)

// Discovery resolves authors to the relays they read from (NIP-65), for the
// WIDER escalation stage. Lookups are cached, deduplicated per author and
// batched across concurrent callers.
type Discovery struct {
	transport     Transport
	store         *cache.RelayListStore
	indexers      []string
	perAuthor     int
	lookupTimeout time.Duration
	logger        *slog.Logger

	group   singleflight.Group
	batcher *Batcher[*types.RelayList]
}

// DiscoveryConfig configures a Discovery.
type DiscoveryConfig struct {
	Indexers        []string // relays queried for kind 10002 lists
	RelaysPerAuthor int
	LookupTimeout   time.Duration
	BatchWindow     time.Duration
	MaxBatch        int
}

// NewDiscovery wires a Discovery onto a transport and relay-list cache.
func NewDiscovery(transport Transport, store *cache.RelayListStore, cfg DiscoveryConfig, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RelaysPerAuthor <= 0 {
		cfg.RelaysPerAuthor = 3
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 50 * time.Millisecond
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}

	d := &Discovery{
		transport:     transport,
		store:         store,
		indexers:      cfg.Indexers,
		perAuthor:     cfg.RelaysPerAuthor,
		lookupTimeout: cfg.LookupTimeout,
		logger:        logger,
	}
	d.batcher = NewBatcher("relaylists", func(keys []string) map[string]*types.RelayList {
		ctx, cancel := context.WithTimeout(context.Background(), d.lookupTimeout)
		defer cancel()
		lists, err := d.lookup(ctx, d.indexers, keys)
		if err != nil {
			return nil
		}
		// a nil entry records that the indexers answered without a list
		for _, k := range keys {
			if _, ok := lists[k]; !ok {
				lists[k] = nil
			}
		}
		return lists
	}, cfg.BatchWindow, cfg.MaxBatch)
	return d
}

// ReadRelays returns up to RelaysPerAuthor read relays for each author, in
// author order. candidates are searched for relay lists the indexers lack.
func (d *Discovery) ReadRelays(ctx context.Context, authors []string, candidates []string) ([]string, error) {
	authors = util.UniqueStrings(authors)
	lists := make([]*types.RelayList, len(authors))

	var wg sync.WaitGroup
	for i, author := range authors {
		wg.Add(1)
		go func(i int, author string) {
			defer wg.Done()
			lists[i] = d.relayList(ctx, author, candidates)
		}(i, author)
	}
	wg.Wait()

	var out []string
	for _, rl := range lists {
		if rl != nil {
			out = append(out, util.LimitSlice(rl.Read, d.perAuthor)...)
		}
	}
	return util.UniqueStrings(out), nil
}

// relayList returns the cached list for pubkey, fetching it on a miss.
func (d *Discovery) relayList(ctx context.Context, pubkey string, candidates []string) *types.RelayList {
	if d.store != nil {
		if rl, notFound, ok := d.store.Get(ctx, pubkey); ok {
			if notFound {
				return nil
			}
			return rl
		}
	}

	result, _, shared := d.group.Do(pubkey, func() (interface{}, error) {
		return d.fetch(ctx, pubkey, candidates), nil
	})
	if shared {
		d.logger.Debug("singleflight: shared relay list fetch", "pubkey", nostr.ShortID(pubkey))
	}
	rl, _ := result.(*types.RelayList)
	return rl
}

func (d *Discovery) fetch(ctx context.Context, pubkey string, candidates []string) *types.RelayList {
	var rl *types.RelayList
	lookupFailed := false
	if len(d.indexers) > 0 {
		var answered bool
		rl, answered = d.batcher.Get(pubkey)
		lookupFailed = !answered
	}

	if rl == nil {
		extra := util.FilterSlice(candidates, func(r string) bool {
			for _, idx := range d.indexers {
				if idx == r {
					return false
				}
			}
			return true
		})
		if len(extra) > 0 {
			ctx, cancel := context.WithTimeout(ctx, d.lookupTimeout)
			lists, err := d.lookup(ctx, extra, []string{pubkey})
			cancel()
			rl = lists[pubkey]
			lookupFailed = err != nil
		}
	}

	if rl == nil {
		d.logger.Debug("no relay list found", "pubkey", nostr.ShortID(pubkey))
	} else {
		d.logger.Debug("found relay list", "pubkey", nostr.ShortID(pubkey), "read", len(rl.Read), "write", len(rl.Write))
	}
	if d.store != nil && !lookupFailed {
		d.store.Set(ctx, pubkey, rl)
	}
	return rl
}

// lookup queries relays for the kind 10002 lists of pubkeys.
func (d *Discovery) lookup(ctx context.Context, relays []string, pubkeys []string) (map[string]*types.RelayList, error) {
	lists := make(map[string]*types.RelayList)
	if len(relays) == 0 || len(pubkeys) == 0 {
		return lists, nil
	}
	events, err := d.transport.Query(ctx, relays, types.Filter{
		Authors: pubkeys,
		Kinds:   []int{types.KindRelayList},
		Limit:   len(pubkeys) * 2,
	})
	if err != nil {
		d.logger.Debug("relay list lookup failed", "relays", len(relays), "error", err)
		return nil, err
	}

	for pk, evt := range latestByAuthor(events) {
		lists[pk] = ParseRelayList(evt)
	}
	return lists, nil
}
