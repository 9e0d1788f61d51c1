package cover

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Defaults carried over from the field installations.
const (
	// DefaultName is the base name used when a cover has no explicit name.
	DefaultName = "blinder"

	// DefaultHub is the hub identifier assumed when none is configured.
	DefaultHub = "aac20"

	// DefaultAddress is the base register address of a cover.
	DefaultAddress = 1000

	// DefaultScanInterval is the poll period for a cover.
	DefaultScanInterval = time.Second

	// SoftwareVersion is reported in device metadata.
	SoftwareVersion = "0.0.9"

	// Manufacturer is reported in device metadata.
	Manufacturer = "@pawkakol1"
)

// Logger is the logging interface used by this package.
// It is satisfied by *logging.Logger and by slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// RegisterKind selects the Modbus register table a read or write targets.
type RegisterKind string

const (
	// KindHolding addresses holding registers (read/write).
	KindHolding RegisterKind = "holding"

	// KindInput addresses input registers (read only).
	KindInput RegisterKind = "input"
)

// ParseRegisterKind converts a configuration string into a RegisterKind.
// An empty string selects holding registers.
func ParseRegisterKind(s string) (RegisterKind, error) {
	switch RegisterKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindHolding:
		return KindHolding, nil
	case KindInput:
		return KindInput, nil
	default:
		return "", fmt.Errorf("%w: unknown register kind %q", ErrInvalidDescriptor, s)
	}
}

// Transport is the register-level bus access a cover needs.
//
// Implementations may block; both operations honour ctx cancellation where
// the underlying bus allows it.
type Transport interface {
	// ReadRegisters reads quantity consecutive 16-bit registers.
	ReadRegisters(ctx context.Context, slave byte, address, quantity uint16, kind RegisterKind) ([]uint16, error)

	// WriteRegister writes a single 16-bit register.
	WriteRegister(ctx context.Context, slave byte, address, value uint16, kind RegisterKind) error
}

// State is the current knowledge of one cover.
//
// Position and Setpoint are opaque 0..100 percentages as reported by the
// device. LastMotion is the device's own history nibble, not the locally
// observed previous Motion.
type State struct {
	Position   int    `json:"position"`
	Setpoint   int    `json:"setpoint"`
	Motion     Motion `json:"motion"`
	LastMotion Motion `json:"last_motion"`
	Available  bool   `json:"available"`
}

// Display state strings, as persisted across restarts.
const (
	DisplayOpen        = "open"
	DisplayOpening     = "opening"
	DisplayClosing     = "closing"
	DisplayClosed      = "closed"
	DisplayUnknown     = "unknown"
	DisplayUnavailable = "unavailable"
)

// DisplayState returns the host-facing state string for s.
// An unavailable cover always reports "unavailable".
func (s State) DisplayState() string {
	if !s.Available {
		return DisplayUnavailable
	}
	return s.Motion.String()
}

// Descriptor is the immutable per-cover configuration.
type Descriptor struct {
	Name           string
	Hub            string
	Slave          byte
	Address        uint16
	ScanInterval   time.Duration
	Layout         Layout
	StopEncoding   StopEncoding
	InputKind      RegisterKind
	LazyErrorCount int
}

// UniqueID returns the stable identifier "{hub}_{name}".
func (d Descriptor) UniqueID() string {
	return d.Hub + "_" + d.DisplayName()
}

// DisplayName returns the configured name, or "blinder_{kind}_{address}"
// when no name was given.
func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	kind := d.InputKind
	if kind == "" {
		kind = KindHolding
	}
	return fmt.Sprintf("%s_%s_%d", DefaultName, kind, d.Address)
}

// Validate checks the descriptor for values the codec cannot serve.
func (d Descriptor) Validate() error {
	var problems []string

	if d.Hub == "" {
		problems = append(problems, "hub is required")
	}

	frameLen, err := d.Layout.FrameLength()
	if err != nil {
		problems = append(problems, err.Error())
	} else if int(d.Address)+frameLen-1 > 0xFFFF {
		problems = append(problems, fmt.Sprintf("address %d leaves no room for a %d-word frame", d.Address, frameLen))
	}

	switch d.StopEncoding {
	case "", StopSetpoint, StopZero:
	default:
		problems = append(problems, fmt.Sprintf("unknown stop encoding %q", d.StopEncoding))
	}

	switch d.InputKind {
	case "", KindHolding, KindInput:
	default:
		problems = append(problems, fmt.Sprintf("unknown register kind %q", d.InputKind))
	}

	if d.LazyErrorCount < 0 {
		problems = append(problems, "lazy error count must not be negative")
	}
	if d.ScanInterval < 0 {
		problems = append(problems, "scan interval must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDescriptor, strings.Join(problems, "; "))
	}
	return nil
}

// Metadata describes the cover for device registries and UIs.
type Metadata struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	SoftwareVersion string `json:"sw_version"`
}

// Metadata returns device metadata derived from the descriptor.
// The hub name doubles as the model, matching the installed base.
func (d Descriptor) Metadata() Metadata {
	return Metadata{
		ID:              d.UniqueID(),
		Name:            d.DisplayName(),
		Manufacturer:    Manufacturer,
		Model:           d.Hub,
		SoftwareVersion: SoftwareVersion,
	}
}
