package thread

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"nostr-threads/internal/metrics"
	"nostr-threads/internal/relay"
	"nostr-threads/internal/types"
	"nostr-threads/internal/util"
)

// ErrNotFound is returned when every escalation stage came back empty.
var ErrNotFound = errors.New("thread: not found on any relay set")

// Stage is a step of the relay escalation ladder.
type Stage int

const (
	StageNarrow Stage = iota // caller or default relays
	StageWider               // plus author relay lists and tag hints
	StageWidest              // plus well-known fallback relays
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageNarrow:
		return "narrow"
	case StageWider:
		return "wider"
	case StageWidest:
		return "widest"
	case StageFailed:
		return "failed"
	}
	return "unknown"
}

// StageRelays returns the relays a stage adds to those already in use.
type StageRelays func(ctx context.Context, stage Stage, current []string) []string

// Attempt runs one query round against relays. It returns a *relay.TransportError
// only when nothing could be fetched because the relays failed.
type Attempt func(ctx context.Context, relays []string) ([]types.Event, error)

// EscalationResult reports where an escalation stopped.
type EscalationResult struct {
	Events []types.Event
	Stage  Stage
	Relays []string
}

// Escalator widens the relay set while queries come back empty and retries
// transport failures in place.
type Escalator struct {
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// NewEscalator creates an escalator making up to maxAttempts tries per stage,
// waiting backoff (doubling) between tries.
func NewEscalator(maxAttempts int, backoff time.Duration, logger *slog.Logger) *Escalator {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		sleep:       sleepContext,
		logger:      logger,
	}
}

// Run walks NARROW, WIDER and WIDEST in order and stops at the first stage
// whose attempt returns events. A stage that adds no relays is skipped. A
// transport failure that survives all retries ends the run with that error
// and does not escalate. After WIDEST comes back empty the result is
// StageFailed with ErrNotFound.
func (e *Escalator) Run(ctx context.Context, stageRelays StageRelays, attempt Attempt) (EscalationResult, error) {
	var relays []string
	for stage := StageNarrow; stage < StageFailed; stage++ {
		widened := util.UniqueStrings(relays, stageRelays(ctx, stage, relays))
		if len(widened) == len(relays) {
			e.logger.Debug("escalation stage adds no relays", "stage", stage.String())
			continue
		}
		relays = widened
		metrics.EscalationsTotal.WithLabelValues(stage.String()).Inc()

		events, err := e.attemptWithRetry(ctx, stage, relays, attempt)
		if err != nil {
			return EscalationResult{Stage: stage, Relays: relays}, err
		}
		if len(events) > 0 {
			return EscalationResult{Events: events, Stage: stage, Relays: relays}, nil
		}
		e.logger.Debug("escalation stage empty", "stage", stage.String(), "relays", len(relays))
	}

	metrics.EscalationsTotal.WithLabelValues(StageFailed.String()).Inc()
	return EscalationResult{Stage: StageFailed, Relays: relays}, ErrNotFound
}

func (e *Escalator) attemptWithRetry(ctx context.Context, stage Stage, relays []string, attempt Attempt) ([]types.Event, error) {
	wait := e.backoff
	for try := 1; ; try++ {
		events, err := attempt(ctx, relays)
		if err == nil || !relay.IsTransportError(err) {
			return events, err
		}
		if try >= e.maxAttempts {
			e.logger.Warn("relay set unreachable", "stage", stage.String(), "attempts", try, "error", err)
			return nil, err
		}
		e.logger.Debug("retrying after transport error", "stage", stage.String(), "attempt", try, "backoff", wait, "error", err)
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
		wait *= 2
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
