package nips

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"nostr-threads/internal/nostr"
)

// ErrInvalidReference is returned when a string is not a hex id, note1 or nevent1.
var ErrInvalidReference = errors.New("invalid event reference")

// NIP-19 TLV record types carried by nevent.
const (
	tlvSpecial byte = 0 // event id
	tlvRelay   byte = 1
	tlvAuthor  byte = 2
	tlvKind    byte = 3
)

// NEvent is a decoded nevent1 entity.
type NEvent struct {
	EventID    string
	Author     string   // empty when absent
	RelayHints []string // normalized; never nil
}

func decodeID(label, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("invalid %s %q", label, s)
	}
	return b, nil
}

// EncodeEventID encodes a hex event id as note1.
func EncodeEventID(hexEventID string) (string, error) {
	id, err := decodeID("event id", hexEventID)
	if err != nil {
		return "", err
	}
	return encodeEntity("note", id)
}

// DecodeNote returns the hex event id inside a note1 string.
func DecodeNote(note string) (string, error) {
	payload, err := decodeAs("note", note)
	if err != nil {
		return "", err
	}
	if len(payload) != 32 {
		return "", fmt.Errorf("note payload is %d bytes, want 32", len(payload))
	}
	return hex.EncodeToString(payload), nil
}

// EncodeNEvent encodes an event id with optional author and relay hints.
// Relay URLs longer than a TLV record can hold are skipped.
func EncodeNEvent(eventIDHex, authorHex string, relays []string) (string, error) {
	id, err := decodeID("event id", eventIDHex)
	if err != nil {
		return "", err
	}

	buf := appendTLV(nil, tlvSpecial, id)
	for _, r := range relays {
		if r != "" && len(r) <= 255 {
			buf = appendTLV(buf, tlvRelay, []byte(r))
		}
	}
	if authorHex != "" {
		author, err := decodeID("author pubkey", authorHex)
		if err != nil {
			return "", err
		}
		buf = appendTLV(buf, tlvAuthor, author)
	}
	return encodeEntity("nevent", buf)
}

// DecodeNEvent parses a nevent1 string. Unknown TLV records are skipped and a
// truncated trailing record ends parsing.
func DecodeNEvent(nevent string) (*NEvent, error) {
	payload, err := decodeAs("nevent", nevent)
	if err != nil {
		return nil, err
	}

	n := &NEvent{RelayHints: []string{}}
	for rest := payload; len(rest) >= 2; {
		typ, size := rest[0], int(rest[1])
		if 2+size > len(rest) {
			break
		}
		value := rest[2 : 2+size]
		rest = rest[2+size:]

		switch {
		case typ == tlvSpecial && size == 32:
			n.EventID = hex.EncodeToString(value)
		case typ == tlvAuthor && size == 32:
			n.Author = hex.EncodeToString(value)
		case typ == tlvRelay:
			if u := nostr.NormalizeRelayURL(string(value)); u != "" {
				n.RelayHints = append(n.RelayHints, u)
			}
		}
	}
	if n.EventID == "" {
		return nil, errors.New("nevent without event id")
	}
	return n, nil
}

func appendTLV(buf []byte, typ byte, value []byte) []byte {
	buf = append(buf, typ, byte(len(value)))
	return append(buf, value...)
}

// EventRef is a parsed thread root reference.
type EventRef struct {
	ID         string
	Author     string
	RelayHints []string
}

// ParseEventRef accepts a 64-char hex id, note1 or nevent1, optionally as a
// NIP-21 "nostr:" link.
func ParseEventRef(s string) (EventRef, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "nostr:")
	lower := strings.ToLower(s)

	switch {
	case nostr.IsHexID(lower):
		return EventRef{ID: lower}, nil
	case strings.HasPrefix(lower, "note1"):
		id, err := DecodeNote(s)
		if err != nil {
			return EventRef{}, errors.Join(ErrInvalidReference, err)
		}
		return EventRef{ID: id}, nil
	case strings.HasPrefix(lower, "nevent1"):
		n, err := DecodeNEvent(s)
		if err != nil {
			return EventRef{}, errors.Join(ErrInvalidReference, err)
		}
		return EventRef{ID: n.EventID, Author: n.Author, RelayHints: n.RelayHints}, nil
	}
	return EventRef{}, ErrInvalidReference
}

// NEventURI returns the NIP-21 "nostr:nevent1..." link for an event.
func NEventURI(eventIDHex, authorHex string, relays []string) (string, error) {
	enc, err := EncodeNEvent(eventIDHex, authorHex, relays)
	if err != nil {
		return "", err
	}
	return "nostr:" + enc, nil
}
