// Package relay talks to Nostr relays: a pooled websocket transport that runs
// one-shot filtered queries against a relay set, plus NIP-65 relay discovery.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nostr-threads/internal/types"
)

// Transport executes a one-shot query against a set of relays.
//
// Results are best-effort: fewer than filter.Limit events may come back even
// when more exist, and repeated calls may return the same events. An error is
// returned only when every relay in the set failed; it is then a *TransportError.
type Transport interface {
	Query(ctx context.Context, relays []string, filter types.Filter) ([]types.Event, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, relays []string, filter types.Filter) ([]types.Event, error)

func (f TransportFunc) Query(ctx context.Context, relays []string, filter types.Filter) ([]types.Event, error) {
	return f(ctx, relays, filter)
}

// ErrNoRelays is wrapped in a TransportError when a query has no usable relays.
var ErrNoRelays = errors.New("no usable relays")

// TransportError reports that no relay in the set answered (timeout, refused, closed).
type TransportError struct {
	Relays []string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("all relays failed [%s]: %v", strings.Join(e.Relays, ", "), e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is (or wraps) a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
