// Package api implements the HTTP REST API and WebSocket server for the
// Modbus cover bridge.
//
// This package provides:
//   - REST endpoints to list covers, read one cover and issue commands
//   - State history reads backed by the cover store
//   - WebSocket hub for real-time cover state broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server is a local status and command surface next to the MQTT bus.
// Commands issued over HTTP run synchronously against the bridge, so the
// response reports whether the register write succeeded. State changes reach
// WebSocket clients through the bridge's state listener:
//
//	bridge.AddStateListener(server.BroadcastState)
//
// # Graceful Degradation
//
// History and metrics are optional. Without a store the history endpoint
// answers 503; without a metrics handler the metrics route is not mounted.
package api
