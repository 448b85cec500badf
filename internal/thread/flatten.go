package thread

import (
	"nostr-threads/internal/types"
)

// FlattenOptions controls the flat projection of a thread.
type FlattenOptions struct {
	// IncludeNested walks below the top-level replies.
	IncludeNested bool
	// CollapsedIDs are emitted but their subtrees are skipped.
	CollapsedIDs map[string]bool
	// MaxDepth caps node depth (root is 0). Negative means no cap.
	MaxDepth int
}

// Node is one entry of a flattened thread.
type Node struct {
	ID    string
	Depth int
	Event types.Event
}

// FlatList is a thread in navigation order.
type FlatList []Node

// Flatten emits root at depth 0, then each top-level reply in (created_at, id)
// order followed by its subtree, pre-order. The output depends only on the
// inputs, never on arrival order.
func Flatten(root *types.Event, topLevel []types.Event, tree Tree, opts FlattenOptions) FlatList {
	var out FlatList
	visited := make(map[string]bool)
	within := func(depth int) bool {
		return opts.MaxDepth < 0 || depth <= opts.MaxDepth
	}

	if root != nil {
		out = append(out, Node{ID: root.ID, Depth: 0, Event: *root})
		visited[root.ID] = true
	}

	var walk func(evt types.Event, depth int)
	walk = func(evt types.Event, depth int) {
		if visited[evt.ID] || !within(depth) {
			return
		}
		visited[evt.ID] = true
		out = append(out, Node{ID: evt.ID, Depth: depth, Event: evt})

		if !opts.IncludeNested || opts.CollapsedIDs[evt.ID] || !within(depth+1) {
			return
		}
		for _, child := range tree.Children(evt.ID) {
			walk(child, depth+1)
		}
	}

	for _, evt := range Merge(topLevel) {
		walk(evt, 1)
	}
	return out
}

// IDs returns the event ids in order.
func (l FlatList) IDs() []string {
	ids := make([]string, len(l))
	for i, n := range l {
		ids[i] = n.ID
	}
	return ids
}

// IndexOf returns the position of id, or -1.
func (l FlatList) IndexOf(id string) int {
	for i, n := range l {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Next returns the node after id.
func (l FlatList) Next(id string) (Node, bool) {
	i := l.IndexOf(id)
	if i < 0 || i+1 >= len(l) {
		return Node{}, false
	}
	return l[i+1], true
}

// Prev returns the node before id.
func (l FlatList) Prev(id string) (Node, bool) {
	i := l.IndexOf(id)
	if i <= 0 {
		return Node{}, false
	}
	return l[i-1], true
}
