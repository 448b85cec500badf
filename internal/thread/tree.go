package thread

import (
	"log/slog"

	"nostr-threads/internal/nostr"
	"nostr-threads/internal/types"
)

// Tree maps a parent id to its children, each list sorted by (created_at, id).
type Tree map[string][]types.Event

// Build groups events under their immediate parents. Events without a
// parent are roots and are not listed as anyone's child.
func Build(events []types.Event, resolver nostr.ParentResolver) Tree {
	tree := make(Tree)
	placed := make(map[string]struct{}, len(events))
	for i := range events {
		evt := events[i]
		if _, dup := placed[evt.ID]; dup {
			continue
		}
		parent, src := resolver.Resolve(&evt)
		if parent == "" {
			continue
		}
		if src == nostr.SourcePositional {
			slog.Debug("parent from positional fallback",
				"event_id", nostr.ShortID(evt.ID),
				"parent", nostr.ShortID(parent),
				"fallback", resolver.Fallback.String())
		}
		placed[evt.ID] = struct{}{}
		tree[parent] = append(tree[parent], evt)
	}
	for parent := range tree {
		sortEvents(tree[parent])
	}
	return tree
}

// MergeTrees unions two trees per parent by event id and re-sorts. A branch
// present only in cached survives a narrower fresh pass. When an id sits
// under different parents in the two trees, the fresh placement wins.
func MergeTrees(cached, fresh Tree) Tree {
	freshParent := make(map[string]string)
	for parent, children := range fresh {
		for _, c := range children {
			freshParent[c.ID] = parent
		}
	}

	out := make(Tree, len(fresh)+len(cached))
	for parent, children := range fresh {
		out[parent] = append([]types.Event(nil), children...)
	}
	for parent, children := range cached {
		for _, c := range children {
			if p, ok := freshParent[c.ID]; ok {
				if p != parent {
					slog.Debug("cached placement overridden",
						"event_id", nostr.ShortID(c.ID),
						"cached_parent", nostr.ShortID(parent),
						"parent", nostr.ShortID(p))
				}
				continue
			}
			out[parent] = append(out[parent], c)
		}
	}
	for parent, children := range out {
		out[parent] = Merge(children)
	}
	return out
}

// Children returns the sorted children of id.
func (t Tree) Children(id string) []types.Event {
	return t[id]
}

// Size returns the number of parent-child edges.
func (t Tree) Size() int {
	n := 0
	for _, children := range t {
		n += len(children)
	}
	return n
}

// Events returns every child event in the tree.
func (t Tree) Events() []types.Event {
	out := make([]types.Event, 0, t.Size())
	for _, children := range t {
		out = append(out, children...)
	}
	return Merge(out)
}

// Clone returns a copy that shares no slices with t.
func (t Tree) Clone() Tree {
	out := make(Tree, len(t))
	for parent, children := range t {
		out[parent] = append([]types.Event(nil), children...)
	}
	return out
}
