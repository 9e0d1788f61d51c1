package cover

import "fmt"

// Motion is the logical movement state of a cover.
type Motion int

const (
	// MotionUnknown is the initial state and the fallback for codes the
	// motion table does not know.
	MotionUnknown Motion = iota
	MotionOpen
	MotionOpening
	MotionClosing
	MotionClosed
)

// Device motion codes.
const (
	codeOpen    uint16 = 0
	codeOpening uint16 = 1
	codeClosing uint16 = 2
	codeClosed  uint16 = 3
)

// MotionFromCode maps a device motion code to a Motion.
// Codes outside the table decode to MotionUnknown; firmware may report
// transitional values.
func MotionFromCode(code uint16) Motion {
	switch code {
	case codeOpen:
		return MotionOpen
	case codeOpening:
		return MotionOpening
	case codeClosing:
		return MotionClosing
	case codeClosed:
		return MotionClosed
	default:
		return MotionUnknown
	}
}

// Code returns the device code for m. ok is false for MotionUnknown.
func (m Motion) Code() (code uint16, ok bool) {
	switch m {
	case MotionOpen:
		return codeOpen, true
	case MotionOpening:
		return codeOpening, true
	case MotionClosing:
		return codeClosing, true
	case MotionClosed:
		return codeClosed, true
	default:
		return 0, false
	}
}

// MotionFromDisplay maps a persisted display state back to a Motion.
// ok is false for "unavailable", "unknown" and anything unrecognised; such
// values must not be applied.
func MotionFromDisplay(display string) (m Motion, ok bool) {
	switch display {
	case DisplayOpen:
		return MotionOpen, true
	case DisplayOpening:
		return MotionOpening, true
	case DisplayClosing:
		return MotionClosing, true
	case DisplayClosed:
		return MotionClosed, true
	default:
		return MotionUnknown, false
	}
}

// String returns the display form of m.
func (m Motion) String() string {
	switch m {
	case MotionOpen:
		return DisplayOpen
	case MotionOpening:
		return DisplayOpening
	case MotionClosing:
		return DisplayClosing
	case MotionClosed:
		return DisplayClosed
	default:
		return DisplayUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Motion) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Motion) UnmarshalText(text []byte) error {
	s := string(text)
	if s == DisplayUnknown {
		*m = MotionUnknown
		return nil
	}
	parsed, ok := MotionFromDisplay(s)
	if !ok {
		return fmt.Errorf("unknown motion %q", s)
	}
	*m = parsed
	return nil
}
