package nips

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testID     = strings.Repeat("ab", 32)
	testAuthor = strings.Repeat("cd", 32)
)

func TestNoteRoundtrip(t *testing.T) {
	note, err := EncodeEventID(testID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(note, "note1"))

	id, err := DecodeNote(note)
	require.NoError(t, err)
	assert.Equal(t, testID, id)
}

func TestNEventRoundtrip(t *testing.T) {
	enc, err := EncodeNEvent(testID, testAuthor, []string{"wss://relay.example.com"})
	require.NoError(t, err)

	n, err := DecodeNEvent(enc)
	require.NoError(t, err)
	assert.Equal(t, testID, n.EventID)
	assert.Equal(t, testAuthor, n.Author)
	assert.Equal(t, []string{"wss://relay.example.com"}, n.RelayHints)
}

func TestBech32RejectsBadChecksum(t *testing.T) {
	note, err := EncodeEventID(testID)
	require.NoError(t, err)

	last := note[len(note)-1]
	swap := byte('q')
	if last == 'q' {
		swap = 'p'
	}
	corrupted := note[:len(note)-1] + string(swap)

	_, err = DecodeNote(corrupted)
	assert.Error(t, err)
}

func TestParseEventRef(t *testing.T) {
	note, _ := EncodeEventID(testID)
	nevent, _ := EncodeNEvent(testID, testAuthor, []string{"wss://relay.example.com"})

	tests := []struct {
		name   string
		in     string
		want   EventRef
		errors bool
	}{
		{name: "hex", in: testID, want: EventRef{ID: testID}},
		{name: "uppercase hex", in: strings.ToUpper(testID), want: EventRef{ID: testID}},
		{name: "note", in: note, want: EventRef{ID: testID}},
		{name: "nostr uri", in: "nostr:" + note, want: EventRef{ID: testID}},
		{name: "nevent", in: nevent, want: EventRef{ID: testID, Author: testAuthor, RelayHints: []string{"wss://relay.example.com"}}},
		{name: "empty", in: "", errors: true},
		{name: "short hex", in: "abcd", errors: true},
		{name: "npub", in: "npub1xyz", errors: true},
		{name: "garbage note", in: "note1qqqqqqqqqq", errors: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEventRef(tt.in)
			if tt.errors {
				assert.ErrorIs(t, err, ErrInvalidReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
