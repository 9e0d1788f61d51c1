package cover

import (
	"context"
	"errors"
	"sync"
)

var errBus = errors.New("slave not responding")

type writeCall struct {
	Slave   byte
	Address uint16
	Value   uint16
	Kind    RegisterKind
}

type readCall struct {
	Slave    byte
	Address  uint16
	Quantity uint16
	Kind     RegisterKind
}

// mockTransport implements Transport for testing.
// Queued frames and errors are consumed in order; once exhausted the
// default frame (or default error) is returned.
type mockTransport struct {
	mu       sync.Mutex
	frame    []uint16
	readErr  error
	results  []mockResult
	writeErr error
	reads    []readCall
	writes   []writeCall

	// block, when set, makes every read wait until it is closed.
	block   chan struct{}
	started chan struct{}
}

type mockResult struct {
	frame []uint16
	err   error
}

func newMockTransport(frame ...uint16) *mockTransport {
	return &mockTransport{frame: frame}
}

func (m *mockTransport) queue(frame []uint16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, mockResult{frame: frame, err: err})
}

func (m *mockTransport) ReadRegisters(ctx context.Context, slave byte, address, quantity uint16, kind RegisterKind) ([]uint16, error) {
	m.mu.Lock()
	m.reads = append(m.reads, readCall{Slave: slave, Address: address, Quantity: quantity, Kind: kind})
	block := m.block
	started := m.started
	m.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.results) > 0 {
		r := m.results[0]
		m.results = m.results[1:]
		return r.frame, r.err
	}
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.frame, nil
}

func (m *mockTransport) WriteRegister(_ context.Context, slave byte, address, value uint16, kind RegisterKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, writeCall{Slave: slave, Address: address, Value: value, Kind: kind})
	return m.writeErr
}

func (m *mockTransport) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reads)
}

func (m *mockTransport) getWrites() []writeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]writeCall, len(m.writes))
	copy(result, m.writes)
	return result
}

func (m *mockTransport) setFrame(frame []uint16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = frame
	m.readErr = err
}

func (m *mockTransport) setWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// packFrame builds a packed-layout frame from field values.
func packFrame(position, setpoint int, motion, last uint16) []uint16 {
	return []uint16{
		uint16(position) | motion<<8 | last<<12, //nolint:gosec // test values are 0..255
		uint16(setpoint),                        //nolint:gosec // test values are 0..255
	}
}

func testDescriptor(layout Layout) Descriptor {
	return Descriptor{
		Name:         "living_room",
		Hub:          "aac20",
		Slave:        3,
		Address:      1000,
		Layout:       layout,
		StopEncoding: StopSetpoint,
		InputKind:    KindHolding,
	}
}
