package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nostr-threads/internal/types"
)

func note(id string, tags ...[]string) *types.Event {
	return &types.Event{ID: id, Kind: types.KindTextNote, CreatedAt: 1, Tags: tags}
}

func TestImmediateParentOf(t *testing.T) {
	tests := []struct {
		name string
		evt  *types.Event
		want string
	}{
		{
			name: "no references is a root",
			evt:  note("self", []string{"p", "somebody"}),
			want: "",
		},
		{
			name: "reply marker beats root marker",
			evt:  note("self", []string{"e", "P2", "", "root"}, []string{"e", "P1", "", "reply"}),
			want: "P1",
		},
		{
			name: "root marker alone is a direct reply to root",
			evt:  note("self", []string{"e", "R", "wss://r.example", "root"}),
			want: "R",
		},
		{
			name: "single unmarked tag",
			evt:  note("self", []string{"e", "T1"}),
			want: "T1",
		},
		{
			name: "two unmarked tags take the second",
			evt:  note("self", []string{"e", "T1"}, []string{"e", "T2"}),
			want: "T2",
		},
		{
			name: "three unmarked tags still take the second",
			evt:  note("self", []string{"e", "T1"}, []string{"e", "T2"}, []string{"e", "T3"}),
			want: "T2",
		},
		{
			name: "unknown markers are ignored",
			evt:  note("self", []string{"e", "T1", "", "mention"}, []string{"e", "T2", "", "bogus"}),
			want: "T2",
		},
		{
			name: "empty and short tags are skipped",
			evt:  note("self", []string{"e"}, []string{"e", ""}, []string{"e", "T1"}),
			want: "T1",
		},
		{
			name: "self reference is not a parent",
			evt:  note("self", []string{"e", "self", "", "reply"}),
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ImmediateParentOf(tt.evt))
		})
	}
}

func TestResolveReportsSource(t *testing.T) {
	_, src := DefaultResolver.Resolve(note("x", []string{"e", "A"}, []string{"e", "B"}))
	assert.Equal(t, SourcePositional, src)

	_, src = DefaultResolver.Resolve(note("x", []string{"e", "A", "", "reply"}))
	assert.Equal(t, SourceReplyMarker, src)

	_, src = DefaultResolver.Resolve(note("x", []string{"e", "A", "", "root"}))
	assert.Equal(t, SourceRootMarker, src)

	_, src = DefaultResolver.Resolve(note("x"))
	assert.Equal(t, SourceNone, src)
}

func TestResolverFallbacks(t *testing.T) {
	evt := note("x", []string{"e", "T1"}, []string{"e", "T2"}, []string{"e", "T3"})

	first, _ := ParentResolver{Fallback: FallbackFirst}.Resolve(evt)
	last, _ := ParentResolver{Fallback: FallbackLast}.Resolve(evt)
	second, _ := ParentResolver{}.Resolve(evt)

	assert.Equal(t, "T1", first)
	assert.Equal(t, "T3", last)
	assert.Equal(t, "T2", second)

	// Markers still win regardless of the fallback.
	marked := note("x", []string{"e", "T1"}, []string{"e", "T2", "", "reply"})
	got, _ := ParentResolver{Fallback: FallbackFirst}.Resolve(marked)
	assert.Equal(t, "T2", got)
}

func TestParseFallback(t *testing.T) {
	for in, want := range map[string]Fallback{"": FallbackSecond, "second": FallbackSecond, "First": FallbackFirst, " last ": FallbackLast} {
		got, err := ParseFallback(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFallback("third")
	assert.Error(t, err)
}

func TestRootOf(t *testing.T) {
	assert.Equal(t, "R", RootOf(note("x", []string{"e", "A", "", "reply"}, []string{"e", "R", "", "root"})))
	assert.Equal(t, "T1", RootOf(note("x", []string{"e", "T1"}, []string{"e", "T2"})))
	assert.Equal(t, "x", RootOf(note("x")))
}

func TestRelayHints(t *testing.T) {
	evt := note("x",
		[]string{"e", "A", "wss://Relay.Example.com/", "root"},
		[]string{"e", "B", "wss://relay.example.com", "reply"},
		[]string{"e", "C", "https://not-a-relay.com"},
		[]string{"e", "D", ""},
	)
	assert.Equal(t, []string{"wss://relay.example.com"}, RelayHints(evt))
}
