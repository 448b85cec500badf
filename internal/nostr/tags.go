package nostr

import (
	"fmt"
	"strings"

	"nostr-threads/internal/types"
	"nostr-threads/internal/util"
)

// Reference tag markers (NIP-10).
const (
	MarkerRoot  = "root"
	MarkerReply = "reply"
)

// ReferenceTag is a parsed ["e", target, relayHint?, marker?, authorHint?] tag.
type ReferenceTag struct {
	Target    string
	RelayHint string
	Marker    string
	Author    string
}

// ReferenceTags returns the event's "e" tags in order, skipping ones without a target.
// Markers other than root/reply are dropped.
func ReferenceTags(evt *types.Event) []ReferenceTag {
	var refs []ReferenceTag
	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != "e" || tag[1] == "" {
			continue
		}
		ref := ReferenceTag{
			Target:    tag[1],
			RelayHint: util.TagAt(tag, 2),
			Author:    util.TagAt(tag, 4),
		}
		if m := util.TagAt(tag, 3); m == MarkerRoot || m == MarkerReply {
			ref.Marker = m
		}
		refs = append(refs, ref)
	}
	return refs
}

// ParentSource names the heuristic that decided an event's parent.
type ParentSource int

const (
	SourceNone ParentSource = iota
	SourceReplyMarker
	SourceRootMarker
	SourcePositional
)

func (s ParentSource) String() string {
	switch s {
	case SourceReplyMarker:
		return "reply-marker"
	case SourceRootMarker:
		return "root-marker"
	case SourcePositional:
		return "positional"
	default:
		return "none"
	}
}

// Fallback selects which unmarked reference tag is the parent when no tag carries a marker.
type Fallback int

const (
	// FallbackSecond: one tag is the parent, otherwise the second tag (first is the root).
	FallbackSecond Fallback = iota
	// FallbackFirst always takes the first unmarked tag.
	FallbackFirst
	// FallbackLast takes the last unmarked tag (deprecated NIP-10 positional scheme).
	FallbackLast
)

func (f Fallback) String() string {
	switch f {
	case FallbackFirst:
		return "first"
	case FallbackLast:
		return "last"
	default:
		return "second"
	}
}

// ParseFallback parses "second", "first" or "last". Empty means second.
func ParseFallback(s string) (Fallback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "second":
		return FallbackSecond, nil
	case "first":
		return FallbackFirst, nil
	case "last":
		return FallbackLast, nil
	}
	return FallbackSecond, fmt.Errorf("unknown positional fallback %q", s)
}

// ParentResolver infers immediate parents from reference tags.
// The zero value applies the default chain with the "second tag" fallback.
type ParentResolver struct {
	Fallback Fallback
}

// DefaultResolver is the resolver used by ImmediateParentOf.
var DefaultResolver = ParentResolver{Fallback: FallbackSecond}

// Resolve returns the immediate parent id and the heuristic that produced it.
// An empty id means the event is a root.
//
// Priority: reply marker, then root marker, then position among unmarked tags.
func (r ParentResolver) Resolve(evt *types.Event) (string, ParentSource) {
	refs := ReferenceTags(evt)
	if len(refs) == 0 {
		return "", SourceNone
	}

	parent, src := "", SourceNone
	for _, ref := range refs {
		if ref.Marker == MarkerReply {
			parent, src = ref.Target, SourceReplyMarker
			break
		}
	}
	if src == SourceNone {
		for _, ref := range refs {
			if ref.Marker == MarkerRoot {
				parent, src = ref.Target, SourceRootMarker
				break
			}
		}
	}
	if src == SourceNone {
		src = SourcePositional
		switch {
		case len(refs) == 1 || r.Fallback == FallbackFirst:
			parent = refs[0].Target
		case r.Fallback == FallbackLast:
			parent = refs[len(refs)-1].Target
		default:
			parent = refs[1].Target
		}
	}

	if parent == evt.ID {
		return "", SourceNone
	}
	return parent, src
}

// ImmediateParentOf returns the event this one directly replies to, or "" for a root.
func ImmediateParentOf(evt *types.Event) string {
	parent, _ := DefaultResolver.Resolve(evt)
	return parent
}

// RootOf returns the root-marked target, else the first reference target,
// else the event's own id.
func RootOf(evt *types.Event) string {
	refs := ReferenceTags(evt)
	for _, ref := range refs {
		if ref.Marker == MarkerRoot {
			return ref.Target
		}
	}
	if len(refs) > 0 {
		return refs[0].Target
	}
	return evt.ID
}

// RelayHints returns the non-empty relay hints carried by the event's reference tags.
func RelayHints(evt *types.Event) []string {
	var hints []string
	for _, ref := range ReferenceTags(evt) {
		if u := NormalizeRelayURL(ref.RelayHint); u != "" {
			hints = append(hints, u)
		}
	}
	return util.UniqueStrings(hints)
}
