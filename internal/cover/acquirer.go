package cover

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Hub acquisition retry delays.
const (
	DefaultFirstRetryDelay  = 10 * time.Second
	DefaultSteadyRetryDelay = 10 * time.Minute
)

// HubResolver looks up a live transport for a hub identifier.
// It returns an error wrapping ErrGatewayUnavailable while the hub is not
// ready.
type HubResolver interface {
	Resolve(ctx context.Context, hubID string) (Transport, error)
}

// AcquireState is the acquirer's position in its state machine.
type AcquireState int32

const (
	AcquireSearching AcquireState = iota
	AcquireAcquired
)

// String returns a short name for logs and health reports.
func (s AcquireState) String() string {
	if s == AcquireAcquired {
		return "acquired"
	}
	return "searching"
}

// AcquirerConfig holds configuration for an Acquirer.
type AcquirerConfig struct {
	// HubID is the hub to resolve.
	HubID string

	// Resolver performs the lookup.
	Resolver HubResolver

	// FirstRetryDelay is the wait after the first failure.
	// Default: 10 seconds.
	FirstRetryDelay time.Duration

	// SteadyRetryDelay is the wait after every later failure.
	// Default: 10 minutes.
	SteadyRetryDelay time.Duration

	// Logger is optional.
	Logger Logger

	// After replaces time.After in tests.
	After func(time.Duration) <-chan time.Time
}

// Acquirer resolves a hub with two-phase backoff: a short first delay, then
// a long steady delay, retried indefinitely until ctx is cancelled.
type Acquirer struct {
	hubID       string
	resolver    HubResolver
	firstDelay  time.Duration
	steadyDelay time.Duration
	logger      Logger
	after       func(time.Duration) <-chan time.Time

	state    atomic.Int32
	attempts atomic.Int64
}

// NewAcquirer creates an acquirer in the Searching state.
func NewAcquirer(cfg AcquirerConfig) *Acquirer {
	a := &Acquirer{
		hubID:       cfg.HubID,
		resolver:    cfg.Resolver,
		firstDelay:  cfg.FirstRetryDelay,
		steadyDelay: cfg.SteadyRetryDelay,
		logger:      cfg.Logger,
		after:       cfg.After,
	}
	if a.firstDelay <= 0 {
		a.firstDelay = DefaultFirstRetryDelay
	}
	if a.steadyDelay <= 0 {
		a.steadyDelay = DefaultSteadyRetryDelay
	}
	if a.after == nil {
		a.after = time.After
	}
	return a
}

// Acquire blocks until the hub resolves or ctx is cancelled.
//
// Returns:
//   - Transport: the live transport once acquired
//   - error: ctx.Err() wrapped with ErrGatewayUnavailable on cancellation
func (a *Acquirer) Acquire(ctx context.Context) (Transport, error) {
	if a.resolver == nil {
		return nil, fmt.Errorf("%w: no hub resolver", ErrGatewayUnavailable)
	}

	delay := a.firstDelay
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: hub %s: %w", ErrGatewayUnavailable, a.hubID, err)
		}

		a.attempts.Add(1)
		transport, err := a.resolver.Resolve(ctx, a.hubID)
		if err == nil {
			a.state.Store(int32(AcquireAcquired))
			a.logInfo("hub acquired", "hub", a.hubID, "attempts", a.attempts.Load())
			return transport, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: hub %s: %w", ErrGatewayUnavailable, a.hubID, err)
		}

		a.logWarn("hub not ready, waiting before next try",
			"hub", a.hubID,
			"retry_in", delay.String(),
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: hub %s: %w", ErrGatewayUnavailable, a.hubID, ctx.Err())
		case <-a.after(delay):
		}
		delay = a.steadyDelay
	}
}

// State returns the current acquisition state.
func (a *Acquirer) State() AcquireState {
	return AcquireState(a.state.Load())
}

// Attempts returns the number of resolve attempts made so far.
func (a *Acquirer) Attempts() int64 {
	return a.attempts.Load()
}

func (a *Acquirer) logInfo(msg string, keysAndValues ...any) {
	if a.logger != nil {
		a.logger.Info(msg, keysAndValues...)
	}
}

func (a *Acquirer) logWarn(msg string, keysAndValues ...any) {
	if a.logger != nil {
		a.logger.Warn(msg, keysAndValues...)
	}
}
