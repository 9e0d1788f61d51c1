package cover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Snapshot, len(r.snaps))
	copy(result, r.snaps)
	return result
}

func newTestController(t *testing.T, desc Descriptor, transport Transport) (*Controller, *snapshotRecorder) {
	t.Helper()
	rec := &snapshotRecorder{}
	c, err := NewController(ControllerOptions{
		Descriptor: desc,
		Transport:  transport,
		OnUpdate:   rec.record,
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c, rec
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(ControllerOptions{Descriptor: testDescriptor(LayoutPacked)}); err == nil {
		t.Error("NewController() without transport: error = nil")
	}

	bad := testDescriptor(LayoutPacked)
	bad.Hub = ""
	_, err := NewController(ControllerOptions{Descriptor: bad, Transport: newMockTransport()})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("NewController() error = %v, want ErrInvalidDescriptor", err)
	}
}

func TestNewController_InitialState(t *testing.T) {
	c, _ := newTestController(t, testDescriptor(LayoutPacked), newMockTransport())

	s := c.State()
	if s.Available {
		t.Error("initial Available = true, want false")
	}
	if s.Motion != MotionUnknown {
		t.Errorf("initial Motion = %v, want unknown", s.Motion)
	}

	snap := c.Snapshot()
	if snap.ID != "aac20_living_room" {
		t.Errorf("Snapshot().ID = %q, want aac20_living_room", snap.ID)
	}
	if snap.Display != DisplayUnavailable {
		t.Errorf("Snapshot().Display = %q, want unavailable", snap.Display)
	}
}

func TestController_PollAppliesDecodedState(t *testing.T) {
	transport := newMockTransport(0x1A32, 0x0046)
	c, rec := newTestController(t, testDescriptor(LayoutPacked), transport)

	result, err := c.Poll(context.Background())
	if err != nil || result != PollApplied {
		t.Fatalf("Poll() = %v, %v; want applied, nil", result, err)
	}

	want := State{Position: 50, Setpoint: 70, Motion: MotionClosed, LastMotion: MotionOpening, Available: true}
	if got := c.State(); got != want {
		t.Errorf("State() = %+v, want %+v", got, want)
	}

	snaps := rec.all()
	if len(snaps) != 1 {
		t.Fatalf("updates = %d, want 1", len(snaps))
	}
	if snaps[0].Display != "closed" {
		t.Errorf("Display = %q, want closed", snaps[0].Display)
	}

	// Same frame again: no change, no update.
	c.Poll(context.Background())
	if len(rec.all()) != 1 {
		t.Errorf("updates after unchanged poll = %d, want 1", len(rec.all()))
	}
}

func TestController_ReadUsesLayoutAndKind(t *testing.T) {
	desc := testDescriptor(LayoutSeparated)
	desc.InputKind = KindInput
	transport := newMockTransport(10, 20, 0, 3)
	c, _ := newTestController(t, desc, transport)

	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.reads) != 1 {
		t.Fatalf("reads = %d, want 1", len(transport.reads))
	}
	want := readCall{Slave: 3, Address: 1000, Quantity: 4, Kind: KindInput}
	if transport.reads[0] != want {
		t.Errorf("read = %+v, want %+v", transport.reads[0], want)
	}
}

func TestController_OpenBeforeFirstPoll(t *testing.T) {
	transport := newMockTransport(0x0032, 0x0000)
	c, _ := newTestController(t, testDescriptor(LayoutPacked), transport)

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	writes := transport.getWrites()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	want := writeCall{Slave: 3, Address: 1001, Value: 0x0100, Kind: KindHolding}
	if writes[0] != want {
		t.Errorf("write = %+v, want %+v", writes[0], want)
	}
	if transport.readCount() != 1 {
		t.Errorf("reads after command = %d, want 1", transport.readCount())
	}
}

func TestController_CommandsUseLastSetpoint(t *testing.T) {
	transport := newMockTransport(packFrame(50, 70, 3, 0)...)
	c, _ := newTestController(t, testDescriptor(LayoutPacked), transport)

	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	ctx := context.Background()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.SetPosition(ctx, 20); err != nil {
		t.Fatalf("SetPosition() error = %v", err)
	}

	writes := transport.getWrites()
	want := []uint16{0x0246, 0x0046, 20}
	if len(writes) != len(want) {
		t.Fatalf("writes = %d, want %d", len(writes), len(want))
	}
	for i, v := range want {
		if writes[i].Value != v || writes[i].Address != 1001 {
			t.Errorf("write[%d] = %+v, want value %#04x at 1001", i, writes[i], v)
		}
	}
}

func TestController_WriteFailure(t *testing.T) {
	transport := newMockTransport(packFrame(50, 70, 3, 0)...)
	c, _ := newTestController(t, testDescriptor(LayoutPacked), transport)

	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	transport.mu.Lock()
	transport.writeErr = errBus
	transport.mu.Unlock()
	transport.setFrame(nil, errBus)

	err := c.Open(context.Background())
	if !errors.Is(err, ErrTransportFailure) {
		t.Errorf("Open() error = %v, want ErrTransportFailure", err)
	}
	if !errors.Is(err, errBus) {
		t.Errorf("Open() error = %v, want wrapped bus error", err)
	}

	if n := len(transport.getWrites()); n != 1 {
		t.Errorf("writes = %d, want exactly 1 (no retry)", n)
	}

	s := c.State()
	if s.Available {
		t.Error("Available = true after write failure")
	}
	if s.Position != 50 || s.Setpoint != 70 {
		t.Errorf("State() = %+v, want last known position and setpoint kept", s)
	}
}

func TestController_WriteSuccessRestoresAvailability(t *testing.T) {
	transport := newMockTransport()
	transport.setFrame(nil, errBus)
	c, _ := newTestController(t, testDescriptor(LayoutPacked), transport)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	// The write succeeded but the follow-up read failed with no tolerance.
	if c.State().Available {
		t.Error("Available = true, want false after failed post-command poll")
	}

	transport.setFrame(packFrame(10, 10, 0, 0), nil)
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !c.State().Available {
		t.Error("Available = false after successful write and poll")
	}
}

func TestController_InvalidTargetNoWrite(t *testing.T) {
	transport := newMockTransport(packFrame(50, 70, 3, 0)...)
	c, _ := newTestController(t, testDescriptor(LayoutPacked), transport)
	c.Poll(context.Background())

	before := c.State()
	for _, target := range []int{-1, 101} {
		err := c.SetPosition(context.Background(), target)
		if !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("SetPosition(%d) error = %v, want ErrInvalidTarget", target, err)
		}
	}

	if n := len(transport.getWrites()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
	if after := c.State(); after != before {
		t.Errorf("State() changed: %+v -> %+v", before, after)
	}
}

func TestController_LazyErrorCount(t *testing.T) {
	desc := testDescriptor(LayoutPacked)
	desc.LazyErrorCount = 2
	transport := newMockTransport()
	transport.queue(packFrame(40, 40, 3, 0), nil)
	transport.queue(nil, errBus)
	transport.queue(nil, errBus)
	transport.queue(nil, errBus)
	c, _ := newTestController(t, desc, transport)

	ctx := context.Background()
	wantResults := []PollResult{PollApplied, PollTolerated, PollTolerated, PollUnavailable}
	wantAvailable := []bool{true, true, true, false}

	for i := range wantResults {
		result, _ := c.Poll(ctx)
		if result != wantResults[i] {
			t.Errorf("poll %d: result = %v, want %v", i+1, result, wantResults[i])
		}
		s := c.State()
		if s.Available != wantAvailable[i] {
			t.Errorf("poll %d: Available = %v, want %v", i+1, s.Available, wantAvailable[i])
		}
		if s.Position != 40 || s.Motion != MotionClosed {
			t.Errorf("poll %d: State() = %+v, want last values kept", i+1, s)
		}
	}
}

func TestController_MalformedFrameCountsAsFailure(t *testing.T) {
	transport := newMockTransport(1)
	c, _ := newTestController(t, testDescriptor(LayoutPacked), transport)

	result, err := c.Poll(context.Background())
	if result != PollUnavailable {
		t.Errorf("Poll() result = %v, want unavailable", result)
	}
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Poll() error = %v, want ErrMalformedFrame", err)
	}
}

func TestController_RestoreThenPoll(t *testing.T) {
	transport := newMockTransport(packFrame(30, 30, 1, 0)...)
	c, rec := newTestController(t, testDescriptor(LayoutPacked), transport)

	if !c.Restore("closed") {
		t.Fatal("Restore(closed) = false, want true")
	}
	if got := c.State().Motion; got != MotionClosed {
		t.Errorf("Motion after restore = %v, want closed", got)
	}
	if len(rec.all()) != 1 {
		t.Errorf("updates after restore = %d, want 1", len(rec.all()))
	}

	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if got := c.State().Motion; got != MotionOpening {
		t.Errorf("Motion after poll = %v, want opening", got)
	}
}

func TestController_RestoreShowsDisplayState(t *testing.T) {
	transport := newMockTransport()
	transport.setFrame(nil, errBus)
	c, rec := newTestController(t, testDescriptor(LayoutPacked), transport)

	if !c.Restore("closed") {
		t.Fatal("Restore(closed) = false, want true")
	}
	if got := c.Snapshot().Display; got != DisplayClosed {
		t.Errorf("Display after restore = %q, want closed", got)
	}
	snaps := rec.all()
	if len(snaps) != 1 || snaps[0].Display != DisplayClosed || !snaps[0].State.Available {
		t.Fatalf("restore updates = %+v, want one available closed snapshot", snaps)
	}

	// The first poll result replaces the restored state.
	if result, _ := c.Poll(context.Background()); result != PollUnavailable {
		t.Fatalf("Poll() result = %v, want unavailable", result)
	}
	s := c.State()
	if s.Available || s.Motion != MotionClosed {
		t.Errorf("State() = %+v, want unavailable with restored motion kept", s)
	}
	if got := c.Snapshot().Display; got != DisplayUnavailable {
		t.Errorf("Display after failed poll = %q, want unavailable", got)
	}
}

func TestController_UpdatesEndOnCurrentState(t *testing.T) {
	transport := newMockTransport(packFrame(40, 40, 0, 0)...)

	var (
		mu      sync.Mutex
		updates []bool
		held    = make(chan struct{})
		release = make(chan struct{})
		once    sync.Once
	)
	c, err := NewController(ControllerOptions{
		Descriptor: testDescriptor(LayoutPacked),
		Transport:  transport,
		OnUpdate: func(s Snapshot) {
			// Hold back the first unavailable update until a concurrent
			// poll has made the cover available again.
			if !s.State.Available {
				blocked := false
				once.Do(func() { blocked = true })
				if blocked {
					close(held)
					<-release
				}
			}
			mu.Lock()
			updates = append(updates, s.State.Available)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatalf("initial Poll() error = %v", err)
	}

	transport.setWriteErr(errBus)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Open(context.Background()) //nolint:errcheck // the write is meant to fail
	}()

	select {
	case <-held:
	case <-time.After(time.Second):
		t.Fatal("unavailable update never delivered")
	}

	// A scheduler poll lands while the unavailable update is in flight.
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Poll(context.Background()) //nolint:errcheck // result checked through State
	}()

	deadline := time.Now().Add(time.Second)
	for !c.State().Available {
		if time.Now().After(deadline) {
			t.Fatal("concurrent poll did not restore availability")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Fatal("no updates delivered")
	}
	if last := updates[len(updates)-1]; last != c.State().Available {
		t.Errorf("updates = %v, last delivered available=%v, controller available=%v",
			updates, last, c.State().Available)
	}
}

func TestController_RestoreIgnored(t *testing.T) {
	tests := []struct {
		name    string
		display string
		setup   func(c *Controller)
	}{
		{"unavailable", "unavailable", func(*Controller) {}},
		{"unknown", "unknown", func(*Controller) {}},
		{"garbage", "half-open", func(*Controller) {}},
		{"after poll", "closed", func(c *Controller) { c.Poll(context.Background()) }},
		{"second restore", "open", func(c *Controller) { c.Restore("closing") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newMockTransport(packFrame(10, 10, 1, 0)...)
			c, _ := newTestController(t, testDescriptor(LayoutPacked), transport)
			tt.setup(c)
			before := c.State().Motion

			if c.Restore(tt.display) {
				t.Errorf("Restore(%q) = true, want false", tt.display)
			}
			if got := c.State().Motion; got != before {
				t.Errorf("Motion = %v, want %v", got, before)
			}
		})
	}
}

func TestController_ConcurrentPollsReadOnce(t *testing.T) {
	transport := newMockTransport(packFrame(10, 10, 0, 0)...)
	transport.block = make(chan struct{})
	transport.started = make(chan struct{}, 1)
	c, _ := newTestController(t, testDescriptor(LayoutPacked), transport)

	first := make(chan PollResult, 1)
	go func() {
		r, _ := c.Poll(context.Background())
		first <- r
	}()

	select {
	case <-transport.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first poll never reached the transport")
	}

	var wg sync.WaitGroup
	skipped := make(chan PollResult, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, _ := c.Poll(context.Background())
			skipped <- r
		}()
	}
	wg.Wait()
	close(skipped)

	for r := range skipped {
		if r != PollSkipped {
			t.Errorf("concurrent Poll() = %v, want skipped", r)
		}
	}

	close(transport.block)
	if r := <-first; r != PollApplied {
		t.Errorf("first Poll() = %v, want applied", r)
	}
	if n := transport.readCount(); n != 1 {
		t.Errorf("reads = %d, want 1", n)
	}
}
