// Package influxdb records cover telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each state change of
// a cover becomes a cover_state point tagged with the cover id; each command
// becomes a cover_command point. Writes are non-blocking and batched
// according to batch_size and flush_interval; async write failures are
// delivered to the SetOnError callback.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteCoverState(snap)
package influxdb
