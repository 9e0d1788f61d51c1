// Package cover implements the register-level model of a motorised cover
// (blind) driven through a Modbus gateway.
//
// The package is transport-agnostic: it decodes register frames into a
// structured State, encodes user commands into single register writes, and
// owns the failure-handling policy around polling and gateway acquisition.
// Opening sockets or serial ports is left to the caller's Transport.
//
// # Architecture
//
//	┌────────────┐  Acquire   ┌──────────────┐
//	│  Acquirer  │───────────►│  Transport   │◄──── hub (Modbus TCP/RTU)
//	└────────────┘            └──────▲───────┘
//	                                 │ read / write
//	┌────────────┐  Attempt   ┌──────┴───────┐
//	│ PollGuard  │◄───────────│  Controller  │────► OnUpdate(Snapshot)
//	└────────────┘            └──────┬───────┘
//	                                 │ Decode / Encode
//	                          ┌──────▼───────┐
//	                          │    Codec     │──── motion table
//	                          └──────────────┘
//
// # Register Layouts
//
// Two firmware revisions exist in the field:
//
//   - packed (2 words): position, motion and last motion share word 0;
//     the setpoint sits in word 1. Commands go to base+1.
//   - separated (4 words): position, setpoint, reserved, motion.
//     Up/down/stop goes to base+2, positions go to base+1.
//
// The layout is a property of the Descriptor, so a single Controller
// implementation serves both.
//
// # Thread Safety
//
// Controller, PollGuard and Acquirer are safe for concurrent use. Codec
// functions are pure.
package cover
