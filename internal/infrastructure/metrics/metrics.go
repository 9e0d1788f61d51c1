package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-cover/internal/cover"
)

const namespace = "graylogic"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics owns the bridge's Prometheus collectors on a private registry.
//
// Thread Safety: All methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	polls         *prometheus.CounterVec
	commands      *prometheus.CounterVec
	position      *prometheus.GaugeVec
	setpoint      *prometheus.GaugeVec
	available     *prometheus.GaugeVec
	acquired      *prometheus.GaugeVec
	busRequests   *prometheus.CounterVec
	busDuration   *prometheus.HistogramVec
	stateMessages prometheus.Counter
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cover",
			Name:      "polls_total",
			Help:      "Cover polls by result (applied, tolerated, unavailable, skipped).",
		}, []string{"cover", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cover",
			Name:      "commands_total",
			Help:      "Cover commands by kind and outcome.",
		}, []string{"cover", "command", "outcome"}),
		position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cover",
			Name:      "position_percent",
			Help:      "Last reported cover position (%).",
		}, []string{"cover"}),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cover",
			Name:      "setpoint_percent",
			Help:      "Last reported cover setpoint (%).",
		}, []string{"cover"}),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cover",
			Name:      "available",
			Help:      "1 if the cover answered its last poll.",
		}, []string{"cover"}),
		acquired: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cover",
			Name:      "hub_acquired",
			Help:      "1 once the cover's hub has been acquired.",
		}, []string{"cover", "hub"}),
		busRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "requests_total",
			Help:      "Modbus requests by hub, operation and outcome.",
		}, []string{"hub", "op", "outcome"}),
		busDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "modbus",
			Name:      "request_duration_seconds",
			Help:      "Modbus request latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 3},
		}, []string{"hub", "op"}),
		stateMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cover",
			Name:      "state_messages_total",
			Help:      "State messages published to MQTT.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.polls,
		m.commands,
		m.position,
		m.setpoint,
		m.available,
		m.acquired,
		m.busRequests,
		m.busDuration,
		m.stateMessages,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePoll counts one poll result.
func (m *Metrics) ObservePoll(coverID string, result cover.PollResult) {
	m.polls.WithLabelValues(coverID, result.String()).Inc()
}

// ObserveCommand counts one command.
func (m *Metrics) ObserveCommand(coverID, command string, err error) {
	m.commands.WithLabelValues(coverID, command, outcome(err)).Inc()
}

// SetCoverState reflects a snapshot in the state gauges.
// Position and setpoint keep their last values while unavailable.
func (m *Metrics) SetCoverState(snap cover.Snapshot) {
	if snap.State.Available {
		m.position.WithLabelValues(snap.ID).Set(float64(snap.State.Position))
		m.setpoint.WithLabelValues(snap.ID).Set(float64(snap.State.Setpoint))
	}
	m.available.WithLabelValues(snap.ID).Set(boolToFloat(snap.State.Available))
}

// SetAcquired records whether a cover's hub is acquired.
func (m *Metrics) SetAcquired(coverID, hub string, acquired bool) {
	m.acquired.WithLabelValues(coverID, hub).Set(boolToFloat(acquired))
}

// StatePublished counts one published state message.
func (m *Metrics) StatePublished() {
	m.stateMessages.Inc()
}

// ObserveRequest records one Modbus request. It satisfies modbus.Observer.
func (m *Metrics) ObserveRequest(hub, op string, duration time.Duration, err error) {
	m.busRequests.WithLabelValues(hub, op, outcome(err)).Inc()
	m.busDuration.WithLabelValues(hub, op).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
