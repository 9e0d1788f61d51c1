package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-cover/internal/cover"
)

// Measurement names.
const (
	MeasurementCoverState   = "cover_state"
	MeasurementCoverCommand = "cover_command"
)

// WriteCoverState records a cover snapshot.
//
// Position and setpoint are only written while the cover is available, so
// dashboards do not plot stale values as fresh readings.
//
// Example:
//
//	client.WriteCoverState(ctrl.Snapshot())
func (c *Client) WriteCoverState(snap cover.Snapshot) {
	fields := map[string]interface{}{
		"available":     snap.State.Available,
		"motion":        snap.State.Motion.String(),
		"display_state": snap.Display,
	}
	if snap.State.Available {
		fields["position"] = snap.State.Position
		fields["setpoint"] = snap.State.Setpoint
	}

	c.writePoint(MeasurementCoverState,
		map[string]string{"cover_id": snap.ID},
		fields,
		snap.Timestamp,
	)
}

// WriteCommand records one issued command and whether the write succeeded.
func (c *Client) WriteCommand(coverID, command string, ok bool) {
	c.writePoint(MeasurementCoverCommand,
		map[string]string{
			"cover_id": coverID,
			"command":  command,
		},
		map[string]interface{}{"ok": ok},
		time.Now(),
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
