package modbus

import "errors"

// Sentinel errors for Modbus hub operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrHubNotFound is returned when a cover references an unconfigured hub.
	ErrHubNotFound = errors.New("modbus: hub not found")

	// ErrConnectFailed is returned when the hub's TCP or serial link cannot be opened.
	ErrConnectFailed = errors.New("modbus: connect failed")

	// ErrReadOnlyRegister is returned when a write targets input registers.
	ErrReadOnlyRegister = errors.New("modbus: input registers are read-only")

	// ErrShortResponse is returned when a read returns fewer bytes than requested.
	ErrShortResponse = errors.New("modbus: short response")

	// ErrClosed is returned for operations on a closed hub.
	ErrClosed = errors.New("modbus: hub closed")

	// ErrInvalidConfig is returned when a hub configuration cannot be used.
	ErrInvalidConfig = errors.New("modbus: invalid hub configuration")
)
