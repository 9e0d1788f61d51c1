package modbus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cover/internal/cover"
	"github.com/nerrad567/gray-logic-cover/internal/coverstore"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/mqtt"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the messages published to topic, oldest first.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var result []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			result = append(result, p)
		}
	}
	return result
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

// SimulateMessage delivers payload to the handler whose subscription
// matches topic. Only trailing "#" wildcards are supported.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if pattern == topic || (strings.HasSuffix(pattern, "#") && strings.HasPrefix(topic, strings.TrimSuffix(pattern, "#"))) {
			handler = h
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		return nil
	}
	return handler(topic, payload)
}

// mockTransport implements cover.Transport for testing.
type mockTransport struct {
	mu       sync.Mutex
	frame    []uint16
	readErr  error
	writeErr error
	reads    int
	writes   []mockWrite
}

type mockWrite struct {
	Slave   byte
	Address uint16
	Value   uint16
}

func newMockTransport(frame []uint16) *mockTransport {
	return &mockTransport{frame: frame}
}

func (t *mockTransport) ReadRegisters(_ context.Context, _ byte, _, _ uint16, _ cover.RegisterKind) ([]uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads++
	if t.readErr != nil {
		return nil, t.readErr
	}
	return append([]uint16(nil), t.frame...), nil
}

func (t *mockTransport) WriteRegister(_ context.Context, slave byte, address, value uint16, _ cover.RegisterKind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	t.writes = append(t.writes, mockWrite{Slave: slave, Address: address, Value: value})
	return nil
}

func (t *mockTransport) setFrame(frame []uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frame = frame
}

func (t *mockTransport) setErrors(readErr, writeErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErr = readErr
	t.writeErr = writeErr
}

func (t *mockTransport) getWrites() []mockWrite {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]mockWrite(nil), t.writes...)
}

// mockResolver implements cover.HubResolver. A nil transport means the hub
// is never ready.
type mockResolver struct {
	transport cover.Transport
}

func (r *mockResolver) Resolve(_ context.Context, hubID string) (cover.Transport, error) {
	if r.transport == nil {
		return nil, cover.ErrGatewayUnavailable
	}
	return r.transport, nil
}

// mockStore implements StateStore in memory.
type mockStore struct {
	mu      sync.Mutex
	last    map[string]string
	saved   []cover.Snapshot
	history []historyCall
	pruned  []time.Duration
}

type historyCall struct {
	Snapshot cover.Snapshot
	Source   string
}

func newMockStore() *mockStore {
	return &mockStore{last: make(map[string]string)}
}

func (s *mockStore) LastDisplayState(_ context.Context, coverID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	display, ok := s.last[coverID]
	if !ok {
		return "", coverstore.ErrNotFound
	}
	return display, nil
}

func (s *mockStore) SaveSnapshot(_ context.Context, snap cover.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, snap)
	s.last[snap.ID] = snap.Display
	return nil
}

func (s *mockStore) RecordStateChange(_ context.Context, snap cover.Snapshot, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, historyCall{Snapshot: snap, Source: source})
	return nil
}

func (s *mockStore) PruneHistory(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = append(s.pruned, olderThan)
	return 0, nil
}

func (s *mockStore) getSaved() []cover.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cover.Snapshot(nil), s.saved...)
}

func (s *mockStore) getHistory() []historyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]historyCall(nil), s.history...)
}

func (s *mockStore) getPruned() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.pruned...)
}

// mockRecorder implements both Telemetry and Metrics.
type mockRecorder struct {
	mu        sync.Mutex
	states    []cover.Snapshot
	commands  []string
	polls     []cover.PollResult
	acquired  map[string]bool
	published int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{acquired: make(map[string]bool)}
}

func (r *mockRecorder) WriteCoverState(snap cover.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, snap)
}

func (r *mockRecorder) WriteCommand(coverID, command string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.commands = append(r.commands, coverID+":"+command+":"+result)
}

func (r *mockRecorder) ObservePoll(_ string, result cover.PollResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls = append(r.polls, result)
}

func (r *mockRecorder) ObserveCommand(string, string, error) {}

func (r *mockRecorder) SetCoverState(cover.Snapshot) {}

func (r *mockRecorder) SetAcquired(coverID, _ string, acquired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acquired[coverID] = acquired
}

func (r *mockRecorder) StatePublished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published++
}

func (r *mockRecorder) isAcquired(coverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquired[coverID]
}

func (r *mockRecorder) getCommands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func (r *mockRecorder) getPublished() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published
}

func (r *mockRecorder) getStates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Test fixtures.

const testCoverID = "aac20_kitchen"

func testCover(name string) config.CoverConfig {
	return config.CoverConfig{
		Name:         name,
		Hub:          "aac20",
		Slave:        1,
		Address:      1000,
		ScanInterval: time.Hour,
		Layout:       "packed",
	}
}

func testConfig(covers ...config.CoverConfig) *config.Config {
	return &config.Config{
		Bridge: config.BridgeConfig{ID: "modbus-test", HealthInterval: 3600},
		Covers: covers,
	}
}

// packFrame builds a packed-layout frame.
func packFrame(position, setpoint int, motion, last uint16) []uint16 {
	return []uint16{
		uint16(position) | motion<<8 | last<<12, //nolint:gosec // test values are 0..255
		uint16(setpoint),                        //nolint:gosec // test values are 0..255
	}
}

// neverAfter blocks acquisition retries until the bridge stops.
func neverAfter(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// decodeLast unmarshals the newest message published to topic into v.
func decodeLast(t *testing.T, client *MockMQTTClient, topic string, v any) mockPublish {
	t.Helper()
	msgs := client.PublishedTo(topic)
	if len(msgs) == 0 {
		t.Fatalf("nothing published to %s", topic)
	}
	last := msgs[len(msgs)-1]
	if err := json.Unmarshal(last.Payload, v); err != nil {
		t.Fatalf("unmarshal %s: %v", topic, err)
	}
	return last
}
