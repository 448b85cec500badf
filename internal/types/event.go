// Package types provides shared type definitions used across internal packages.
package types

// KindTextNote is the NIP-01 short text note kind; threads are built from it.
const KindTextNote = 1

// KindRelayList is the NIP-65 relay list metadata kind.
const KindRelayList = 10002

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"-"`
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	ETags   []string // #e tag filter (references any of)
	Since   *int64
	Until   *int64
	Limit   int
}

// ToREQ converts the filter into the JSON object sent in a REQ message.
// Empty fields are omitted so relays don't treat them as "match nothing".
func (f Filter) ToREQ() map[string]interface{} {
	req := make(map[string]interface{})
	if len(f.IDs) > 0 {
		req["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		req["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		req["kinds"] = f.Kinds
	}
	if len(f.ETags) > 0 {
		req["#e"] = f.ETags
	}
	if f.Since != nil {
		req["since"] = *f.Since
	}
	if f.Until != nil {
		req["until"] = *f.Until
	}
	if f.Limit > 0 {
		req["limit"] = f.Limit
	}
	return req
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}

// Less orders events ascending by (created_at, id).
func Less(a, b *Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}
