package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nostr-threads/internal/metrics"
	"nostr-threads/internal/nostr"
	"nostr-threads/internal/types"
)

const writeTimeout = 10 * time.Second

var errConnClosed = errors.New("relay connection closed")

// subscription is one REQ in flight on a relayConn.
type subscription struct {
	id     string
	events chan types.Event
	eose   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newSubscription(id string, buffer int) *subscription {
	return &subscription{
		id:     id,
		events: make(chan types.Event, buffer),
		eose:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *subscription) finish() {
	s.once.Do(func() { close(s.done) })
}

// relayConn multiplexes subscriptions over one websocket. A single reader
// goroutine routes EVENT, EOSE and CLOSED frames by subscription id.
type relayConn struct {
	url    string
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	subs     map[string]*subscription
	closed   bool
	lastUsed time.Time
}

func dialRelay(ctx context.Context, dialer *websocket.Dialer, url string, logger *slog.Logger) (*relayConn, error) {
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	rc := &relayConn{
		url:      url,
		ws:       ws,
		logger:   logger,
		subs:     make(map[string]*subscription),
		lastUsed: time.Now(),
	}
	metrics.RelayConnectionsActive.Inc()
	go rc.run()
	return rc, nil
}

func (rc *relayConn) send(frame ...any) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	rc.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer rc.ws.SetWriteDeadline(time.Time{})
	return rc.ws.WriteJSON(frame)
}

// open registers sub and sends its REQ. It returns errConnClosed without
// touching sub when the reader has already shut the connection down.
func (rc *relayConn) open(sub *subscription, filter map[string]interface{}) error {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return errConnClosed
	}
	rc.subs[sub.id] = sub
	rc.lastUsed = time.Now()
	rc.mu.Unlock()

	if err := rc.send("REQ", sub.id, filter); err != nil {
		rc.shutdown()
		return fmt.Errorf("send REQ: %w", err)
	}
	return nil
}

// close forgets sub and sends CLOSE if the relay still considers it open.
func (rc *relayConn) close(sub *subscription) {
	rc.mu.Lock()
	_, tracked := rc.subs[sub.id]
	delete(rc.subs, sub.id)
	live := tracked && !rc.closed
	rc.mu.Unlock()

	if live {
		_ = rc.send("CLOSE", sub.id)
	}
	sub.finish()
}

func (rc *relayConn) lookup(id string, remove bool) *subscription {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	sub := rc.subs[id]
	if remove {
		delete(rc.subs, id)
	}
	return sub
}

func (rc *relayConn) isClosed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

func (rc *relayConn) idle(now time.Time, timeout time.Duration) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.subs) == 0 && now.Sub(rc.lastUsed) > timeout
}

func (rc *relayConn) run() {
	defer rc.shutdown()
	for {
		var msg types.NostrMessage
		if err := rc.ws.ReadJSON(&msg); err != nil {
			if !rc.isClosed() {
				rc.logger.Debug("relay read failed", "relay", rc.url, "error", err)
			}
			return
		}
		rc.mu.Lock()
		rc.lastUsed = time.Now()
		rc.mu.Unlock()
		rc.dispatch(msg)
	}
}

func (rc *relayConn) dispatch(msg types.NostrMessage) {
	if len(msg) < 2 {
		return
	}
	label, _ := msg[0].(string)
	subID, _ := msg[1].(string)

	switch label {
	case "EVENT":
		if len(msg) >= 3 {
			rc.deliver(subID, msg[2])
		}
	case "EOSE":
		if sub := rc.lookup(subID, false); sub != nil {
			select {
			case sub.eose <- struct{}{}:
			default:
			}
		}
	case "CLOSED":
		if sub := rc.lookup(subID, true); sub != nil {
			var reason string
			if len(msg) >= 3 {
				reason, _ = msg[2].(string)
			}
			rc.logger.Debug("relay closed subscription", "relay", rc.url, "reason", reason)
			sub.finish()
		}
	case "NOTICE":
		rc.logger.Debug("relay notice", "relay", rc.url, "notice", subID)
	}
}

func (rc *relayConn) deliver(subID string, raw interface{}) {
	evt, ok := nostr.ParseEventFromInterface(raw)
	if !ok {
		metrics.MalformedEventsTotal.Inc()
		return
	}
	sub := rc.lookup(subID, false)
	if sub == nil {
		return
	}
	evt.RelaysSeen = []string{rc.url}
	select {
	case sub.events <- evt:
	case <-sub.done:
	default:
		metrics.EventsDroppedTotal.Inc()
	}
}

// shutdown closes the socket once and ends every open subscription.
func (rc *relayConn) shutdown() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	rc.ws.Close()
	metrics.RelayConnectionsActive.Dec()

	for id, sub := range rc.subs {
		sub.finish()
		delete(rc.subs, id)
	}
}
