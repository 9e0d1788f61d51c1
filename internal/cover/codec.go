package cover

import (
	"fmt"
	"strings"
)

// Layout selects the register layout of a cover's firmware revision.
type Layout string

const (
	// LayoutPacked reads 2 words with bit-packed status fields.
	LayoutPacked Layout = "packed"

	// LayoutSeparated reads 4 words, one field per register.
	LayoutSeparated Layout = "separated"
)

// ParseLayout converts a configuration string into a Layout.
// An empty string selects the packed layout.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutPacked:
		return LayoutPacked, nil
	case LayoutSeparated:
		return LayoutSeparated, nil
	default:
		return "", fmt.Errorf("%w: unsupported layout %q", ErrMalformedFrame, s)
	}
}

// FrameLength returns the number of words a read returns for l.
func (l Layout) FrameLength() (int, error) {
	switch l {
	case LayoutPacked:
		return packedFrameLen, nil
	case LayoutSeparated:
		return separatedFrameLen, nil
	default:
		return 0, fmt.Errorf("%w: unsupported layout %q", ErrMalformedFrame, l)
	}
}

// StopEncoding selects how the packed layout writes Stop.
// The separated layout always writes the stop code to its command register.
type StopEncoding string

const (
	// StopSetpoint writes the bare setpoint with no command code.
	StopSetpoint StopEncoding = "setpoint"

	// StopZero writes a bare zero command word, dropping the setpoint.
	StopZero StopEncoding = "zero"
)

// ParseStopEncoding converts a configuration string into a StopEncoding.
// An empty string selects StopSetpoint.
func ParseStopEncoding(s string) (StopEncoding, error) {
	switch StopEncoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", StopSetpoint:
		return StopSetpoint, nil
	case StopZero:
		return StopZero, nil
	default:
		return "", fmt.Errorf("%w: unknown stop encoding %q", ErrInvalidDescriptor, s)
	}
}

// CommandKind identifies a user command.
type CommandKind int

const (
	CommandOpen CommandKind = iota + 1
	CommandClose
	CommandStop
	CommandSetPosition
)

// String returns the wire name of k.
func (k CommandKind) String() string {
	switch k {
	case CommandOpen:
		return "open"
	case CommandClose:
		return "close"
	case CommandStop:
		return "stop"
	case CommandSetPosition:
		return "set_position"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is a user command. Target is only meaningful for CommandSetPosition.
type Command struct {
	Kind   CommandKind
	Target int
}

// Predefined commands without parameters.
var (
	OpenCommand  = Command{Kind: CommandOpen}
	CloseCommand = Command{Kind: CommandClose}
	StopCommand  = Command{Kind: CommandStop}
)

// SetPositionCommand returns a command moving the cover to target percent.
func SetPositionCommand(target int) Command {
	return Command{Kind: CommandSetPosition, Target: target}
}

// Write is a single register write produced by Encode.
type Write struct {
	Address uint16
	Value   uint16
}

const (
	packedFrameLen    = 2
	separatedFrameLen = 4

	// Device command codes.
	commandCodeStop  uint16 = 0
	commandCodeOpen  uint16 = 1
	commandCodeClose uint16 = 2

	byteMask   = 0x00FF
	nibbleMask = 0x000F

	motionShift     = 8
	lastMotionShift = 12
	commandShift    = 8

	// Register offsets from the base address.
	controlOffset  = 1
	positionOffset = 1
	moveOffset     = 2

	minTarget = 0
	maxTarget = 100
)

// Decode converts a register frame into a State with Available set.
//
// Returns ErrMalformedFrame if the frame length does not match the layout
// or the layout is unsupported.
func Decode(layout Layout, frame []uint16) (State, error) {
	want, err := layout.FrameLength()
	if err != nil {
		return State{}, err
	}
	if len(frame) != want {
		return State{}, fmt.Errorf("%w: %s layout expects %d words, got %d", ErrMalformedFrame, layout, want, len(frame))
	}

	if layout == LayoutSeparated {
		return State{
			Position:   int(frame[0]),
			Setpoint:   int(frame[1]),
			Motion:     MotionFromCode(frame[3]),
			LastMotion: MotionUnknown,
			Available:  true,
		}, nil
	}

	status := frame[0]
	return State{
		Position:   int(status & byteMask),
		Setpoint:   int(frame[1] & byteMask),
		Motion:     MotionFromCode((status >> motionShift) & nibbleMask),
		LastMotion: MotionFromCode((status >> lastMotionShift) & nibbleMask),
		Available:  true,
	}, nil
}

// Encode converts a command into the register write the hub must perform.
//
// setpoint is the last known setpoint; the packed layout carries it in the
// low byte of every movement command. SetPosition targets outside 0..100
// fail with ErrInvalidTarget.
func Encode(d Descriptor, cmd Command, setpoint int) (Write, error) {
	if cmd.Kind == CommandSetPosition && (cmd.Target < minTarget || cmd.Target > maxTarget) {
		return Write{}, fmt.Errorf("%w: %d not in %d..%d", ErrInvalidTarget, cmd.Target, minTarget, maxTarget)
	}

	switch d.Layout {
	case LayoutPacked:
		return encodePacked(d, cmd, setpoint)
	case LayoutSeparated:
		return encodeSeparated(d, cmd)
	default:
		return Write{}, fmt.Errorf("%w: unsupported layout %q", ErrMalformedFrame, d.Layout)
	}
}

func encodePacked(d Descriptor, cmd Command, setpoint int) (Write, error) {
	control := d.Address + controlOffset
	sp := uint16(setpoint) & byteMask //nolint:gosec // masked to one byte

	switch cmd.Kind {
	case CommandOpen:
		return Write{Address: control, Value: commandCodeOpen<<commandShift | sp}, nil
	case CommandClose:
		return Write{Address: control, Value: commandCodeClose<<commandShift | sp}, nil
	case CommandStop:
		if d.StopEncoding == StopZero {
			return Write{Address: control, Value: commandCodeStop}, nil
		}
		return Write{Address: control, Value: sp}, nil
	case CommandSetPosition:
		return Write{Address: control, Value: uint16(cmd.Target)}, nil //nolint:gosec // validated 0..100
	default:
		return Write{}, fmt.Errorf("unknown command %s", cmd.Kind)
	}
}

func encodeSeparated(d Descriptor, cmd Command) (Write, error) {
	switch cmd.Kind {
	case CommandOpen:
		return Write{Address: d.Address + moveOffset, Value: commandCodeOpen}, nil
	case CommandClose:
		return Write{Address: d.Address + moveOffset, Value: commandCodeClose}, nil
	case CommandStop:
		return Write{Address: d.Address + moveOffset, Value: commandCodeStop}, nil
	case CommandSetPosition:
		return Write{Address: d.Address + positionOffset, Value: uint16(cmd.Target)}, nil //nolint:gosec // validated 0..100
	default:
		return Write{}, fmt.Errorf("unknown command %s", cmd.Kind)
	}
}
