package modbus

import "errors"

// Domain errors for the Modbus bridge package.
var (
	// ErrCoverNotFound is returned when a command or request names a cover
	// that is not configured.
	ErrCoverNotFound = errors.New("modbus: cover not found")

	// ErrNotReady is returned when a cover's hub has not been acquired yet.
	ErrNotReady = errors.New("modbus: cover not ready")

	// ErrUnknownCommand is returned for command names the bridge does not
	// understand.
	ErrUnknownCommand = errors.New("modbus: unknown command")

	// ErrInvalidParameters is returned when command parameters are missing
	// or malformed.
	ErrInvalidParameters = errors.New("modbus: invalid parameters")
)
