// Package thread reconstructs Nostr conversation threads: it walks reply
// references breadth-first across relays, merges what comes back from relays,
// caches and hints, and projects the result into a tree and a flat
// navigation order.
package thread

import (
	"sort"

	"nostr-threads/internal/metrics"
	"nostr-threads/internal/nostr"
	"nostr-threads/internal/types"
)

// Merge combines event sources into one collection, unique by id and sorted
// by (created_at, id). Events are immutable, so the first observation of an
// id is kept. Malformed events are dropped.
func Merge(sources ...[]types.Event) []types.Event {
	n := 0
	for _, src := range sources {
		n += len(src)
	}

	seen := make(map[string]struct{}, n)
	out := make([]types.Event, 0, n)
	for _, src := range sources {
		for _, evt := range src {
			if _, dup := seen[evt.ID]; dup {
				continue
			}
			if nostr.ValidateShape(&evt) != nil {
				metrics.MalformedEventsTotal.Inc()
				continue
			}
			seen[evt.ID] = struct{}{}
			out = append(out, evt)
		}
	}
	sortEvents(out)
	return out
}

// DirectReplies returns the children listed under parentID plus the hinted
// event when it replies to parentID itself. A hinted event whose parent is
// some other node belongs to a deeper level and is left out here, so it is
// never shown both shallow and nested.
func DirectReplies(parentID string, children []types.Event, hinted *types.Event, resolver nostr.ParentResolver) []types.Event {
	if hinted == nil {
		return Merge(children)
	}
	if parent, _ := resolver.Resolve(hinted); parent != parentID {
		return Merge(children)
	}
	return Merge(children, []types.Event{*hinted})
}

func sortEvents(events []types.Event) {
	sort.Slice(events, func(i, j int) bool {
		return types.Less(&events[i], &events[j])
	})
}
