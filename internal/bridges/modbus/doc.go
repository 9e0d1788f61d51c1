// Package modbus implements the Modbus cover bridge for Gray Logic.
//
// The bridge runs one unit per configured cover. Each unit acquires the
// cover's hub, restores the last persisted display state, and then polls the
// device on its scan interval. Every state change is published to MQTT,
// persisted to SQLite, written to InfluxDB and reflected in the Prometheus
// collectors.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │  Modbus Bridge  │   TCP/RTU
//	│      Core       │◄────────►│   (this pkg)    │◄────────► Hub ─► Covers
//	└─────────────────┘          └─────────────────┘
//
// # Topics
//
//   - graylogic/command/modbus/{cover_id}   commands in
//   - graylogic/ack/modbus/{cover_id}       command acknowledgements out
//   - graylogic/state/modbus/{cover_id}     retained state out
//   - graylogic/request/modbus/{request_id} requests in (read_state, list)
//   - graylogic/response/modbus/{request_id}
//   - graylogic/health/modbus               retained health out, also the LWT
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package modbus
