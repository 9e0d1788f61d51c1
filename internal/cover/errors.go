package cover

import "errors"

// Domain errors for the cover package.
//
// Check with errors.Is; callers receive them wrapped with context.
var (
	// ErrTransportFailure is returned when a register read or write did not
	// produce a result (gateway unreachable, timeout, slave silent).
	ErrTransportFailure = errors.New("cover: transport failure")

	// ErrMalformedFrame is returned when a read frame has the wrong length
	// for the configured layout, or the layout itself is unsupported.
	ErrMalformedFrame = errors.New("cover: malformed frame")

	// ErrInvalidTarget is returned when a position target is outside 0..100.
	// No register write is attempted.
	ErrInvalidTarget = errors.New("cover: invalid target position")

	// ErrGatewayUnavailable is returned while the owning hub cannot be
	// resolved. It is transient and retried by the Acquirer.
	ErrGatewayUnavailable = errors.New("cover: gateway unavailable")

	// ErrInvalidDescriptor is returned when a cover descriptor fails validation.
	ErrInvalidDescriptor = errors.New("cover: invalid descriptor")
)
