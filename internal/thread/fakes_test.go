package thread

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"

	"nostr-threads/internal/relay"
	"nostr-threads/internal/types"
)

func hexID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

var testAuthor = hexID("author")

func note(name string, createdAt int64, tags ...[]string) types.Event {
	if tags == nil {
		tags = [][]string{}
	}
	return types.Event{
		ID:        hexID(name),
		PubKey:    testAuthor,
		CreatedAt: createdAt,
		Kind:      types.KindTextNote,
		Tags:      tags,
		Content:   name,
	}
}

func replyTo(name string) []string  { return []string{"e", hexID(name), "", "reply"} }
func rootTag(name string) []string  { return []string{"e", hexID(name), "", "root"} }
func plainTag(name string) []string { return []string{"e", hexID(name)} }

func names(events []types.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Content
	}
	return out
}

func flatNames(l FlatList) []string {
	out := make([]string, len(l))
	for i, n := range l {
		out[i] = n.Event.Content
	}
	return out
}

type recordedQuery struct {
	relays []string
	filter types.Filter
}

// fakeNetwork is an in-memory set of relays answering NIP-01 filters the way
// a relay does: newest first, cut at the limit.
type fakeNetwork struct {
	mu      sync.Mutex
	relays  map[string][]types.Event
	down    map[string]int // relay -> remaining failed queries (-1 forever)
	queries []recordedQuery
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{relays: make(map[string][]types.Event), down: make(map[string]int)}
}

func (f *fakeNetwork) add(relayURL string, events ...types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relays[relayURL] = append(f.relays[relayURL], events...)
}

func (f *fakeNetwork) fail(relayURL string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[relayURL] = times
}

func (f *fakeNetwork) recorded() []recordedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedQuery(nil), f.queries...)
}

func (f *fakeNetwork) replyQueries() []recordedQuery {
	var out []recordedQuery
	for _, q := range f.recorded() {
		if len(q.filter.ETags) > 0 {
			out = append(out, q)
		}
	}
	return out
}

func (f *fakeNetwork) Query(ctx context.Context, relays []string, filter types.Filter) ([]types.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, recordedQuery{relays: append([]string(nil), relays...), filter: filter})

	seen := make(map[string]bool)
	var out []types.Event
	failed := 0
	for _, r := range relays {
		if n, ok := f.down[r]; ok && n != 0 {
			if n > 0 {
				f.down[r] = n - 1
			}
			failed++
			continue
		}
		var matched []types.Event
		for _, evt := range f.relays[r] {
			if matches(evt, filter) {
				matched = append(matched, evt)
			}
		}
		sort.Slice(matched, func(i, j int) bool { return types.Less(&matched[j], &matched[i]) })
		if filter.Limit > 0 && len(matched) > filter.Limit {
			matched = matched[:filter.Limit]
		}
		for _, evt := range matched {
			if !seen[evt.ID] {
				seen[evt.ID] = true
				out = append(out, evt)
			}
		}
	}
	if len(relays) > 0 && failed == len(relays) {
		return nil, &relay.TransportError{Relays: relays, Err: errors.New("connection refused")}
	}
	if len(relays) == 0 {
		return nil, &relay.TransportError{Err: relay.ErrNoRelays}
	}
	return out, nil
}

func matches(evt types.Event, f types.Filter) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, evt.ID) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, evt.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			ok = ok || k == evt.Kind
		}
		if !ok {
			return false
		}
	}
	if len(f.ETags) > 0 {
		ok := false
		for _, tag := range evt.Tags {
			if len(tag) >= 2 && tag[0] == "e" && contains(f.ETags, tag[1]) {
				ok = true
			}
		}
		if !ok {
			return false
		}
	}
	if f.Until != nil && evt.CreatedAt > *f.Until {
		return false
	}
	if f.Since != nil && evt.CreatedAt < *f.Since {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeDiscovery struct {
	relays []string
	calls  int
}

func (d *fakeDiscovery) ReadRelays(ctx context.Context, authors []string, candidates []string) ([]string, error) {
	d.calls++
	return d.relays, nil
}
