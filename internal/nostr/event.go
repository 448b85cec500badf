package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostr-threads/internal/types"
)

// ErrMalformedEvent is returned by ValidateShape for events missing required fields.
var ErrMalformedEvent = errors.New("malformed event")

// Validator decides whether an observed event may enter a reconstruction.
type Validator interface {
	Valid(evt *types.Event) bool
}

// ShapeValidator only checks the wire shape. Signatures are trusted.
type ShapeValidator struct{}

func (ShapeValidator) Valid(evt *types.Event) bool {
	return ValidateShape(evt) == nil
}

// SchnorrValidator checks the shape, the content-derived id and the BIP-340 signature.
type SchnorrValidator struct{}

func (SchnorrValidator) Valid(evt *types.Event) bool {
	if ValidateShape(evt) != nil {
		return false
	}
	if ComputeEventID(evt) != evt.ID {
		return false
	}
	return ValidateEventSignature(evt)
}

// ValidateShape rejects events a well-behaved relay would never send:
// non-hex or wrong-length id/pubkey and non-positive timestamps.
func ValidateShape(evt *types.Event) error {
	if evt == nil {
		return ErrMalformedEvent
	}
	if !IsHexID(evt.ID) || !IsHexID(evt.PubKey) {
		return ErrMalformedEvent
	}
	if evt.CreatedAt <= 0 || evt.Kind < 0 {
		return ErrMalformedEvent
	}
	return nil
}

// IsHexID reports whether s is a 32-byte lowercase hex string.
func IsHexID(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ComputeEventID returns the NIP-01 id: sha256 of [0,pubkey,created_at,kind,tags,content].
// HTML escaping is disabled since relays hash the unescaped JSON.
func ComputeEventID(evt *types.Event) string {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	serialized := []interface{}{0, evt.PubKey, evt.CreatedAt, evt.Kind, tags, evt.Content}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(serialized); err != nil {
		return ""
	}
	hash := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(hash[:])
}

// ValidateEventSignature verifies the BIP-340 signature of evt.ID under evt.PubKey.
func ValidateEventSignature(evt *types.Event) bool {
	sigBytes, ok := decodeFixedHex(evt.Sig, schnorr.SignatureSize)
	if !ok {
		return false
	}
	keyBytes, ok := decodeFixedHex(evt.PubKey, schnorr.PubKeyBytesLen)
	if !ok {
		return false
	}
	digest, ok := decodeFixedHex(evt.ID, sha256.Size)
	if !ok {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	key, err := schnorr.ParsePubKey(keyBytes)
	if err != nil {
		return false
	}
	return sig.Verify(digest, key)
}

func decodeFixedHex(s string, size int) ([]byte, bool) {
	if len(s) != 2*size {
		return nil, false
	}
	b, err := hex.DecodeString(s)
	return b, err == nil
}

// ParseEventFromInterface builds an Event from a generically decoded EVENT
// frame and rejects it unless ValidateShape passes. Signature policy is left
// to the caller's Validator.
func ParseEventFromInterface(data interface{}) (types.Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return types.Event{}, false
	}
	text := func(key string) string {
		v, _ := m[key].(string)
		return v
	}
	number := func(key string) float64 {
		v, _ := m[key].(float64)
		return v
	}

	evt := types.Event{
		ID:        text("id"),
		PubKey:    text("pubkey"),
		CreatedAt: int64(number("created_at")),
		Kind:      int(number("kind")),
		Content:   text("content"),
		Sig:       text("sig"),
		Tags:      stringTags(m["tags"]),
	}
	if ValidateShape(&evt) != nil {
		return types.Event{}, false
	}
	return evt, true
}

// stringTags keeps the string elements of each array-valued tag.
func stringTags(raw interface{}) [][]string {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	tags := make([][]string, 0, len(list))
	for _, item := range list {
		elems, ok := item.([]interface{})
		if !ok {
			continue
		}
		tag := make([]string, 0, len(elems))
		for _, e := range elems {
			if s, ok := e.(string); ok {
				tag = append(tag, s)
			}
		}
		tags = append(tags, tag)
	}
	return tags
}

// ShortID returns the first 12 characters of an id or pubkey for display.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
