// Package modbus provides the register-level bus access used by covers.
//
// A Hub owns one gateway link (Modbus TCP or RTU over a serial line) and
// is shared by every cover configured on it. The underlying
// github.com/goburrow/modbus client is not safe for concurrent use and keeps
// the slave id on its handler, so each Hub serialises operations and sets
// the slave id per request.
//
// A Registry holds the configured hubs by name and implements the cover
// acquirer's HubResolver: Resolve connects a hub on first use and reports
// cover.ErrGatewayUnavailable until the link comes up.
//
// Usage:
//
//	reg, err := modbus.NewRegistry(cfg.Hubs, logger)
//	if err != nil {
//	    return err
//	}
//	defer reg.Close()
//
//	transport, err := reg.Resolve(ctx, "aac20")
//	words, err := transport.ReadRegisters(ctx, 3, 1000, 2, cover.KindHolding)
package modbus
