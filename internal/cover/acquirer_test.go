package cover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockResolver fails a fixed number of times before succeeding.
type mockResolver struct {
	mu        sync.Mutex
	failures  int
	calls     int
	transport Transport
}

func (r *mockResolver) Resolve(_ context.Context, hubID string) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures < 0 || r.calls <= r.failures {
		return nil, fmt.Errorf("%w: hub %s not started", ErrGatewayUnavailable, hubID)
	}
	return r.transport, nil
}

func (r *mockResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeClock records requested delays and fires immediately.
type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *fakeClock) getDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.delays))
	copy(result, c.delays)
	return result
}

func TestAcquirer_ImmediateSuccess(t *testing.T) {
	transport := newMockTransport()
	clock := &fakeClock{}
	a := NewAcquirer(AcquirerConfig{
		HubID:    "aac20",
		Resolver: &mockResolver{transport: transport},
		After:    clock.After,
	})

	if a.State() != AcquireSearching {
		t.Errorf("initial State() = %v, want searching", a.State())
	}

	got, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got != transport {
		t.Error("Acquire() returned a different transport")
	}
	if a.State() != AcquireAcquired {
		t.Errorf("State() = %v, want acquired", a.State())
	}
	if len(clock.getDelays()) != 0 {
		t.Errorf("waited %v, want no waits", clock.getDelays())
	}
}

func TestAcquirer_TwoPhaseBackoff(t *testing.T) {
	clock := &fakeClock{}
	resolver := &mockResolver{failures: 4, transport: newMockTransport()}
	a := NewAcquirer(AcquirerConfig{
		HubID:    "aac20",
		Resolver: resolver,
		After:    clock.After,
	})

	if _, err := a.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	want := []time.Duration{10 * time.Second, 600 * time.Second, 600 * time.Second, 600 * time.Second}
	got := clock.getDelays()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if resolver.callCount() != 5 {
		t.Errorf("resolve calls = %d, want 5", resolver.callCount())
	}
	if a.Attempts() != 5 {
		t.Errorf("Attempts() = %d, want 5", a.Attempts())
	}
}

func TestAcquirer_CustomDelays(t *testing.T) {
	clock := &fakeClock{}
	a := NewAcquirer(AcquirerConfig{
		HubID:            "aac20",
		Resolver:         &mockResolver{failures: 2, transport: newMockTransport()},
		FirstRetryDelay:  time.Second,
		SteadyRetryDelay: time.Minute,
		After:            clock.After,
	})

	if _, err := a.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	got := clock.getDelays()
	if len(got) != 2 || got[0] != time.Second || got[1] != time.Minute {
		t.Errorf("delays = %v, want [1s 1m0s]", got)
	}
}

func TestAcquirer_StopsOnCancel(t *testing.T) {
	resolver := &mockResolver{failures: -1}
	a := NewAcquirer(AcquirerConfig{
		HubID:    "aac20",
		Resolver: resolver,
		// Never fires: only cancellation can wake the loop.
		After: func(time.Duration) <-chan time.Time { return make(chan time.Time) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := a.Acquire(ctx)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for resolver.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrGatewayUnavailable) {
			t.Errorf("Acquire() error = %v, want ErrGatewayUnavailable", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire() did not return after cancellation")
	}

	if resolver.callCount() != 1 {
		t.Errorf("resolve calls = %d, want 1", resolver.callCount())
	}
	if a.State() != AcquireSearching {
		t.Errorf("State() = %v, want searching", a.State())
	}
}

func TestAcquirer_CancelledBeforeStart(t *testing.T) {
	resolver := &mockResolver{}
	a := NewAcquirer(AcquirerConfig{HubID: "aac20", Resolver: resolver})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
	if resolver.callCount() != 0 {
		t.Errorf("resolve calls = %d, want 0", resolver.callCount())
	}
}
