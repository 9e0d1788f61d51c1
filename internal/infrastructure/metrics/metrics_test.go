package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-cover/internal/cover"
)

func TestMetrics_ObservePoll(t *testing.T) {
	m := New()

	m.ObservePoll("aac20_a", cover.PollApplied)
	m.ObservePoll("aac20_a", cover.PollApplied)
	m.ObservePoll("aac20_a", cover.PollSkipped)

	if got := testutil.ToFloat64(m.polls.WithLabelValues("aac20_a", "applied")); got != 2 {
		t.Errorf("applied polls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.polls.WithLabelValues("aac20_a", "skipped")); got != 1 {
		t.Errorf("skipped polls = %v, want 1", got)
	}
}

func TestMetrics_ObserveCommand(t *testing.T) {
	m := New()

	m.ObserveCommand("aac20_a", "open", nil)
	m.ObserveCommand("aac20_a", "open", errors.New("bus"))

	if got := testutil.ToFloat64(m.commands.WithLabelValues("aac20_a", "open", OutcomeOK)); got != 1 {
		t.Errorf("ok commands = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("aac20_a", "open", OutcomeError)); got != 1 {
		t.Errorf("error commands = %v, want 1", got)
	}
}

func TestMetrics_SetCoverState(t *testing.T) {
	m := New()

	m.SetCoverState(cover.Snapshot{ID: "aac20_a", State: cover.State{Position: 40, Setpoint: 60, Available: true}})
	if got := testutil.ToFloat64(m.position.WithLabelValues("aac20_a")); got != 40 {
		t.Errorf("position = %v, want 40", got)
	}
	if got := testutil.ToFloat64(m.available.WithLabelValues("aac20_a")); got != 1 {
		t.Errorf("available = %v, want 1", got)
	}

	// Unavailable keeps last position.
	m.SetCoverState(cover.Snapshot{ID: "aac20_a", State: cover.State{Available: false}})
	if got := testutil.ToFloat64(m.position.WithLabelValues("aac20_a")); got != 40 {
		t.Errorf("position after unavailable = %v, want 40", got)
	}
	if got := testutil.ToFloat64(m.available.WithLabelValues("aac20_a")); got != 0 {
		t.Errorf("available = %v, want 0", got)
	}
}

func TestMetrics_ObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest("aac20", "read_holding", 20*time.Millisecond, nil)
	m.ObserveRequest("aac20", "write_single", 5*time.Millisecond, errors.New("timeout"))

	if got := testutil.ToFloat64(m.busRequests.WithLabelValues("aac20", "read_holding", OutcomeOK)); got != 1 {
		t.Errorf("read ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.busRequests.WithLabelValues("aac20", "write_single", OutcomeError)); got != 1 {
		t.Errorf("write error = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetAcquired("aac20_a", "aac20", true)
	m.StatePublished()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`graylogic_cover_hub_acquired{cover="aac20_a",hub="aac20"} 1`,
		"graylogic_cover_state_messages_total 1",
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
