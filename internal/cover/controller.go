package cover

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of a cover's state with its identity.
type Snapshot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Display   string    `json:"display_state"`
	Timestamp time.Time `json:"timestamp"`
}

// ControllerOptions holds configuration for creating a Controller.
type ControllerOptions struct {
	// Descriptor is the cover configuration. Required.
	Descriptor Descriptor

	// Transport performs register I/O. Required.
	Transport Transport

	// OnUpdate is called after every state change, outside the state
	// lock. Calls are serialised and each carries the state current at
	// delivery, so the last call always matches State(). OnUpdate must not
	// call back into the controller's command or poll methods. Optional.
	OnUpdate func(Snapshot)

	// Logger is optional.
	Logger Logger
}

// Controller mirrors the state of one cover and issues its commands.
//
// The device owns the true motion transitions; the controller reports
// whatever the last successful decode said, or the restored display state
// until the first live poll.
//
// Thread Safety: All methods are safe for concurrent use.
type Controller struct {
	desc      Descriptor
	transport Transport
	guard     *PollGuard
	onUpdate  func(Snapshot)
	logger    Logger

	mu       sync.RWMutex
	state    State
	polled   bool
	restored bool

	// notifyMu orders OnUpdate deliveries.
	notifyMu sync.Mutex
}

// NewController creates a controller with an Unknown, unavailable state.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if err := opts.Descriptor.Validate(); err != nil {
		return nil, err
	}

	desc := opts.Descriptor
	if desc.StopEncoding == "" {
		desc.StopEncoding = StopSetpoint
	}
	if desc.InputKind == "" {
		desc.InputKind = KindHolding
	}

	return &Controller{
		desc:      desc,
		transport: opts.Transport,
		guard:     NewPollGuard(desc.LazyErrorCount),
		onUpdate:  opts.OnUpdate,
		logger:    opts.Logger,
	}, nil
}

// Descriptor returns the cover's configuration.
func (c *Controller) Descriptor() Descriptor {
	return c.desc
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns the current state with identity and timestamp.
func (c *Controller) Snapshot() Snapshot {
	return c.snapshot(c.State())
}

// Open starts opening the cover.
func (c *Controller) Open(ctx context.Context) error {
	return c.Execute(ctx, OpenCommand)
}

// Close starts closing the cover.
func (c *Controller) Close(ctx context.Context) error {
	return c.Execute(ctx, CloseCommand)
}

// Stop halts cover movement.
func (c *Controller) Stop(ctx context.Context) error {
	return c.Execute(ctx, StopCommand)
}

// SetPosition moves the cover to target percent (0..100).
func (c *Controller) SetPosition(ctx context.Context, target int) error {
	return c.Execute(ctx, SetPositionCommand(target))
}

// Execute encodes cmd with the last known setpoint, writes it once, and
// refreshes state with an immediate poll.
//
// Returns:
//   - error: ErrInvalidTarget (no write made, availability unchanged) or
//     ErrTransportFailure (cover marked unavailable, write not retried)
func (c *Controller) Execute(ctx context.Context, cmd Command) error {
	c.mu.RLock()
	setpoint := c.state.Setpoint
	c.mu.RUnlock()

	w, err := Encode(c.desc, cmd, setpoint)
	if err != nil {
		return err
	}

	c.logDebug("writing register",
		"cover", c.desc.UniqueID(),
		"command", cmd.Kind.String(),
		"address", w.Address,
		"value", w.Value)

	writeErr := c.transport.WriteRegister(ctx, c.desc.Slave, w.Address, w.Value, KindHolding)
	c.setAvailable(writeErr == nil)

	if _, pollErr := c.Poll(ctx); pollErr != nil {
		c.logDebug("post-command poll failed", "cover", c.desc.UniqueID(), "error", pollErr)
	}

	if writeErr != nil {
		return fmt.Errorf("%w: %s on %s: %w", ErrTransportFailure, cmd.Kind, c.desc.UniqueID(), writeErr)
	}
	return nil
}

// Poll reads the cover's registers through the PollGuard.
//
// Returns:
//   - PollResult: what happened to the state
//   - error: the read or decode error for tolerated and unavailable results
func (c *Controller) Poll(ctx context.Context) (PollResult, error) {
	decoded, result, err := c.guard.Attempt(ctx, c.read)

	switch result {
	case PollApplied:
		c.mu.Lock()
		changed := c.state != decoded
		c.state = decoded
		c.polled = true
		c.mu.Unlock()
		if changed {
			c.notify()
		}
	case PollUnavailable:
		c.setAvailable(false)
		c.logWarn("cover unavailable", "cover", c.desc.UniqueID(), "error", err)
	case PollTolerated:
		c.logDebug("read failure tolerated",
			"cover", c.desc.UniqueID(),
			"remaining", c.guard.Remaining(),
			"error", err)
	case PollSkipped:
		c.logDebug("poll already in progress", "cover", c.desc.UniqueID())
	}

	return result, err
}

// Restore seeds Motion from a persisted display state.
//
// It applies at most once and only before the first successful live poll;
// position and setpoint are left untouched. An applied restore marks the
// cover available so the restored display state shows until the first poll
// result replaces it. "unavailable", "unknown" and unrecognised values are
// ignored.
//
// Returns:
//   - bool: true if the motion was applied
func (c *Controller) Restore(display string) bool {
	c.mu.Lock()
	if c.polled || c.restored {
		c.mu.Unlock()
		return false
	}
	c.restored = true

	m, ok := MotionFromDisplay(display)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.state.Motion = m
	c.state.Available = true
	c.mu.Unlock()

	c.logInfo("restored last state", "cover", c.desc.UniqueID(), "state", display)
	c.notify()
	return true
}

// read performs one register read and decodes it.
func (c *Controller) read(ctx context.Context) (State, error) {
	quantity, err := c.desc.Layout.FrameLength()
	if err != nil {
		return State{}, err
	}

	frame, err := c.transport.ReadRegisters(ctx, c.desc.Slave, c.desc.Address, uint16(quantity), c.desc.InputKind) //nolint:gosec // 2 or 4
	if err != nil {
		return State{}, fmt.Errorf("%w: read %s: %w", ErrTransportFailure, c.desc.UniqueID(), err)
	}

	return Decode(c.desc.Layout, frame)
}

// setAvailable updates availability only, keeping last known values.
func (c *Controller) setAvailable(available bool) {
	c.mu.Lock()
	if c.state.Available == available {
		c.mu.Unlock()
		return
	}
	c.state.Available = available
	c.mu.Unlock()

	c.notify()
}

func (c *Controller) snapshot(s State) Snapshot {
	return Snapshot{
		ID:        c.desc.UniqueID(),
		Name:      c.desc.DisplayName(),
		State:     s,
		Display:   s.DisplayState(),
		Timestamp: time.Now().UTC(),
	}
}

// notify delivers the current state, not the state at the time of the
// change, so a delivery delayed behind a concurrent one cannot end stale.
func (c *Controller) notify() {
	if c.onUpdate == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.onUpdate(c.Snapshot())
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}
