package modbus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-cover/internal/cover"
	"github.com/nerrad567/gray-logic-cover/internal/coverstore"
)

// CoverStatus is the bridge's view of one cover.
type CoverStatus struct {
	Snapshot cover.Snapshot `json:"snapshot"`
	Device   cover.Metadata `json:"device"`
	Address  string         `json:"address"`

	// Ready is true once the hub is acquired and the controller exists.
	Ready bool `json:"ready"`

	// Acquire is the hub acquisition state ("searching" or "acquired").
	Acquire string `json:"acquire"`

	// AcquireAttempts counts hub resolution attempts so far.
	AcquireAttempts int64 `json:"acquire_attempts"`
}

// unit drives one cover: acquire, restore, then poll until cancelled.
type unit struct {
	bridge   *Bridge
	desc     cover.Descriptor
	acquirer *cover.Acquirer
	created  time.Time

	ctrl      atomic.Pointer[cover.Controller]
	restoring atomic.Bool
}

func (u *unit) controller() *cover.Controller {
	return u.ctrl.Load()
}

func (u *unit) status() CoverStatus {
	st := CoverStatus{
		Device:          u.desc.Metadata(),
		Address:         coverAddress(u.desc),
		Acquire:         u.acquirer.State().String(),
		AcquireAttempts: u.acquirer.Attempts(),
	}

	if ctrl := u.controller(); ctrl != nil {
		st.Ready = true
		st.Snapshot = ctrl.Snapshot()
		return st
	}

	// Not acquired yet: the cover is unknown and unavailable.
	st.Snapshot = cover.Snapshot{
		ID:        u.desc.UniqueID(),
		Name:      u.desc.DisplayName(),
		Display:   cover.DisplayUnavailable,
		Timestamp: u.created,
	}
	return st
}

// run blocks until ctx is cancelled.
func (u *unit) run(ctx context.Context) {
	b := u.bridge
	id := u.desc.UniqueID()

	transport, err := u.acquirer.Acquire(ctx)
	if err != nil {
		// Only cancellation ends acquisition.
		return
	}
	if b.metrics != nil {
		b.metrics.SetAcquired(id, u.desc.Hub, true)
	}

	ctrl, err := cover.NewController(cover.ControllerOptions{
		Descriptor: u.desc,
		Transport:  transport,
		OnUpdate:   u.onUpdate,
		Logger:     b.logger,
	})
	if err != nil {
		b.logError("failed to create cover controller", err, "cover", id)
		return
	}

	u.restore(ctx, ctrl)
	u.ctrl.Store(ctrl)

	b.logInfo("cover ready", "cover", id, "hub", u.desc.Hub)
	u.pollLoop(ctx, ctrl)
}

// restore seeds the controller from the last persisted display state.
func (u *unit) restore(ctx context.Context, ctrl *cover.Controller) {
	b := u.bridge
	if b.store == nil {
		return
	}

	id := u.desc.UniqueID()
	display, err := b.store.LastDisplayState(ctx, id)
	if err != nil {
		if !errors.Is(err, coverstore.ErrNotFound) {
			b.logWarn("failed to load last state", "cover", id, "error", err)
		}
		return
	}

	u.restoring.Store(true)
	ctrl.Restore(display)
	u.restoring.Store(false)
}

// pollLoop polls immediately and then every scan interval.
func (u *unit) pollLoop(ctx context.Context, ctrl *cover.Controller) {
	interval := u.desc.ScanInterval
	if interval <= 0 {
		interval = cover.DefaultScanInterval
	}

	u.poll(ctx, ctrl)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.poll(ctx, ctrl)
		}
	}
}

func (u *unit) poll(ctx context.Context, ctrl *cover.Controller) {
	result, _ := ctrl.Poll(ctx) //nolint:errcheck // the controller logs failures
	if m := u.bridge.metrics; m != nil {
		m.ObservePoll(u.desc.UniqueID(), result)
	}
}

// onUpdate is the controller's OnUpdate hook.
func (u *unit) onUpdate(snap cover.Snapshot) {
	source := coverstore.SourcePoll
	if u.restoring.Load() {
		source = coverstore.SourceRestore
	}
	u.bridge.handleStateChange(u, snap, source)
}
