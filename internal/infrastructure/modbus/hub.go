package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gbmodbus "github.com/goburrow/modbus"

	"github.com/nerrad567/gray-logic-cover/internal/cover"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/config"
)

// Request operation labels passed to the Observer.
const (
	OpReadHolding = "read_holding"
	OpReadInput   = "read_input"
	OpWrite       = "write_single"
)

// Logger is the logging interface used by hubs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Observer receives one call per bus request. Optional.
type Observer interface {
	ObserveRequest(hub, op string, duration time.Duration, err error)
}

// connector is the link lifecycle of a goburrow handler.
type connector interface {
	Connect() error
	Close() error
}

// registerClient is the subset of gbmodbus.Client a cover needs.
type registerClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// Stats is a snapshot of hub request counters.
type Stats struct {
	Reads  uint64 `json:"reads"`
	Writes uint64 `json:"writes"`
	Errors uint64 `json:"errors"`
}

// Hub is one Modbus gateway link shared by several covers.
// It implements cover.Transport.
//
// Thread Safety: All methods are safe for concurrent use; bus requests are
// serialised.
type Hub struct {
	cfg      config.HubConfig
	conn     connector
	client   registerClient
	setSlave func(byte)
	logger   Logger
	observer Observer

	// opMu serialises bus requests and slave id changes.
	opMu      sync.Mutex
	connected atomic.Bool
	closed    atomic.Bool

	reads  atomic.Uint64
	writes atomic.Uint64
	errs   atomic.Uint64
}

// NewHub builds a hub from configuration without opening the link.
func NewHub(cfg config.HubConfig, logger Logger) (*Hub, error) {
	conn, client, setSlave, err := newHandler(cfg)
	if err != nil {
		return nil, err
	}
	return newHub(cfg, conn, client, setSlave, logger), nil
}

func newHub(cfg config.HubConfig, conn connector, client registerClient, setSlave func(byte), logger Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		conn:     conn,
		client:   client,
		setSlave: setSlave,
		logger:   logger,
	}
}

// newHandler creates the goburrow handler for the hub's transport type.
func newHandler(cfg config.HubConfig) (connector, registerClient, func(byte), error) {
	switch strings.ToLower(cfg.Type) {
	case "", config.HubTypeTCP:
		if cfg.Host == "" {
			return nil, nil, nil, fmt.Errorf("%w: hub %s: host is required", ErrInvalidConfig, cfg.Name)
		}
		h := gbmodbus.NewTCPClientHandler(cfg.Address())
		h.Timeout = cfg.Timeout
		h.IdleTimeout = cfg.IdleTimeout
		return h, gbmodbus.NewClient(h), func(id byte) { h.SlaveId = id }, nil

	case config.HubTypeRTU:
		if cfg.Device == "" {
			return nil, nil, nil, fmt.Errorf("%w: hub %s: device is required", ErrInvalidConfig, cfg.Name)
		}
		h := gbmodbus.NewRTUClientHandler(cfg.Device)
		h.BaudRate = cfg.BaudRate
		h.DataBits = cfg.DataBits
		h.Parity = strings.ToUpper(cfg.Parity)
		h.StopBits = cfg.StopBits
		h.Timeout = cfg.Timeout
		h.IdleTimeout = cfg.IdleTimeout
		return h, gbmodbus.NewClient(h), func(id byte) { h.SlaveId = id }, nil

	default:
		return nil, nil, nil, fmt.Errorf("%w: hub %s: unknown type %q", ErrInvalidConfig, cfg.Name, cfg.Type)
	}
}

// Name returns the configured hub name.
func (h *Hub) Name() string {
	return h.cfg.Name
}

// SetObserver attaches a request observer. Call before the hub is shared.
func (h *Hub) SetObserver(o Observer) {
	h.observer = o
}

// Connect opens the gateway link. It is a no-op when already connected.
func (h *Hub) Connect(ctx context.Context) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.opMu.Lock()
	defer h.opMu.Unlock()

	if h.connected.Load() {
		return nil
	}
	if err := h.conn.Connect(); err != nil {
		return fmt.Errorf("%w: hub %s at %s: %w", ErrConnectFailed, h.cfg.Name, h.cfg.Address(), err)
	}
	h.connected.Store(true)
	h.logInfo("modbus hub connected", "hub", h.cfg.Name, "type", h.cfg.Type, "address", h.cfg.Address())
	return nil
}

// IsConnected reports whether the link is open.
func (h *Hub) IsConnected() bool {
	return h.connected.Load()
}

// ReadRegisters reads quantity consecutive registers from slave.
func (h *Hub) ReadRegisters(ctx context.Context, slave byte, address, quantity uint16, kind cover.RegisterKind) ([]uint16, error) {
	op := OpReadHolding
	read := h.client.ReadHoldingRegisters
	if kind == cover.KindInput {
		op = OpReadInput
		read = h.client.ReadInputRegisters
	}

	var raw []byte
	err := h.do(ctx, slave, op, func() error {
		var err error
		raw, err = read(address, quantity)
		return err
	})
	h.reads.Add(1)
	if err != nil {
		return nil, err
	}

	words, err := bytesToWords(raw, quantity)
	if err != nil {
		h.errs.Add(1)
		return nil, fmt.Errorf("hub %s slave %d address %d: %w", h.cfg.Name, slave, address, err)
	}
	return words, nil
}

// WriteRegister writes one holding register on slave.
func (h *Hub) WriteRegister(ctx context.Context, slave byte, address, value uint16, kind cover.RegisterKind) error {
	if kind == cover.KindInput {
		return fmt.Errorf("%w: address %d", ErrReadOnlyRegister, address)
	}

	err := h.do(ctx, slave, OpWrite, func() error {
		_, err := h.client.WriteSingleRegister(address, value)
		return err
	})
	h.writes.Add(1)
	return err
}

// do runs one bus request under opMu with the slave id set.
// A failed request drops the link so the next request reconnects.
func (h *Hub) do(ctx context.Context, slave byte, op string, fn func() error) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.opMu.Lock()
	defer h.opMu.Unlock()

	start := time.Now()
	h.setSlave(slave)
	err := fn()
	if h.observer != nil {
		h.observer.ObserveRequest(h.cfg.Name, op, time.Since(start), err)
	}

	if err != nil {
		h.errs.Add(1)
		if h.connected.Swap(false) {
			_ = h.conn.Close()
			h.logWarn("modbus request failed, link reset",
				"hub", h.cfg.Name,
				"slave", slave,
				"op", op,
				"error", err)
		}
		return fmt.Errorf("hub %s slave %d %s: %w", h.cfg.Name, slave, op, err)
	}

	// goburrow reconnects lazily inside the request.
	h.connected.Store(true)
	return nil
}

// Stats returns the hub's request counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Reads:  h.reads.Load(),
		Writes: h.writes.Load(),
		Errors: h.errs.Load(),
	}
}

// Close shuts the link. Subsequent requests return ErrClosed.
func (h *Hub) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.opMu.Lock()
	defer h.opMu.Unlock()
	h.connected.Store(false)
	return h.conn.Close()
}

// bytesToWords converts a big-endian register payload to words.
func bytesToWords(raw []byte, quantity uint16) ([]uint16, error) {
	if len(raw) < int(quantity)*2 {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrShortResponse, len(raw), int(quantity)*2)
	}
	words := make([]uint16, quantity)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return words, nil
}

func (h *Hub) logInfo(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Info(msg, args...)
	}
}

func (h *Hub) logWarn(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, args...)
	}
}
