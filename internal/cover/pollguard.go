package cover

import (
	"context"
	"sync"
	"sync/atomic"
)

// PollResult reports what a poll attempt did.
type PollResult int

const (
	// PollApplied means the read succeeded and the decoded state applies.
	PollApplied PollResult = iota

	// PollTolerated means the read failed but was absorbed by the lazy-error
	// budget; the last known state stands.
	PollTolerated

	// PollUnavailable means the read failed with no budget left; the cover
	// must be marked unavailable.
	PollUnavailable

	// PollSkipped means another poll was already in flight. Nothing was read.
	PollSkipped
)

// String returns a short name for logs.
func (r PollResult) String() string {
	switch r {
	case PollApplied:
		return "applied"
	case PollTolerated:
		return "tolerated"
	case PollUnavailable:
		return "unavailable"
	case PollSkipped:
		return "skipped"
	default:
		return "invalid"
	}
}

// PollGuard serialises reads for one cover and absorbs a configurable
// number of consecutive read failures before reporting the cover
// unavailable.
//
// Concurrent callers are skipped, not queued.
type PollGuard struct {
	inFlight atomic.Bool

	mu        sync.Mutex
	tolerance int
	remaining int
}

// NewPollGuard creates a guard allowing tolerance consecutive failures.
// Negative values are treated as zero.
func NewPollGuard(tolerance int) *PollGuard {
	if tolerance < 0 {
		tolerance = 0
	}
	return &PollGuard{
		tolerance: tolerance,
		remaining: tolerance,
	}
}

// Attempt runs read unless a poll is already outstanding.
//
// Returns:
//   - State: the decoded state when the result is PollApplied
//   - PollResult: what the caller must do with its state
//   - error: the read error for PollTolerated and PollUnavailable
func (g *PollGuard) Attempt(ctx context.Context, read func(context.Context) (State, error)) (State, PollResult, error) {
	if !g.inFlight.CompareAndSwap(false, true) {
		return State{}, PollSkipped, nil
	}
	defer g.inFlight.Store(false)

	state, err := read(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil {
		g.remaining = g.tolerance
		state.Available = true
		return state, PollApplied, nil
	}

	if g.remaining > 0 {
		g.remaining--
		return State{}, PollTolerated, err
	}
	return State{}, PollUnavailable, err
}

// InFlight reports whether a poll is currently outstanding.
func (g *PollGuard) InFlight() bool {
	return g.inFlight.Load()
}

// Remaining returns the failures still tolerated before unavailability.
func (g *PollGuard) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining
}
