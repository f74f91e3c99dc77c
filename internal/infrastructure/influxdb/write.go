package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
)

// Measurement names.
const (
	// MeasurementStatus holds live status snapshots polled by the bridge.
	MeasurementStatus = "m307_status"

	// MeasurementLog holds entries drained from the device log, stamped
	// with the device's own timestamps.
	MeasurementLog = "m307_log"
)

// WriteStatus writes one status snapshot.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Configured device identifier (e.g., "cold-room-2")
//   - st: Decoded status
//   - at: Poll time
func (c *Client) WriteStatus(deviceID string, st m307.Status, at time.Time) {
	c.write(StatusPoint(deviceID, st, at))
}

// WriteLogEntry writes one drained log entry at its recorded time.
func (c *Client) WriteLogEntry(deviceID string, e m307.LogEntry) {
	c.write(LogEntryPoint(deviceID, e))
}

// StatusPoint builds the point written by WriteStatus.
//
// A temperature field is present only when its probe reads a value. Probe
// faults are recorded as a string "<channel>_fault" field instead.
func StatusPoint(deviceID string, st m307.Status, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"humidity":               st.Humidity.Value,
		"humidity_alarm":         st.Humidity.Alarm,
		"door_1_closed":          st.Door1.Closed,
		"door_1_alarm":           st.Door1.Alarm,
		"door_2_closed":          st.Door2.Closed,
		"door_2_alarm":           st.Door2.Alarm,
		"main_power":             st.MainPower,
		"battery_voltage":        st.BatteryVoltage,
		"temperature_resolution": st.Resolution.Step(),
	}

	channels := []struct {
		name string
		ch   m307.TemperatureChannel
	}{
		{"temp_1", st.Temp1},
		{"temp_2", st.Temp2},
		{"internal_temp", st.Internal},
	}
	for _, c := range channels {
		addReading(fields, c.name, c.ch.Reading)
		fields[c.name+"_alarm"] = c.ch.Alarm
		fields[c.name+"_out_of_limits_min"] = c.ch.MinutesOutOfLimits
	}

	return write.NewPoint(MeasurementStatus, tags(deviceID, st.Unit), fields, at)
}

// LogEntryPoint builds the point written by WriteLogEntry.
func LogEntryPoint(deviceID string, e m307.LogEntry) *write.Point {
	fields := map[string]interface{}{
		"humidity": e.Humidity,
		"door_1":   e.Door1,
		"door_2":   e.Door2,
		"power":    e.Power,
	}
	addReading(fields, "temp_1", e.Temp1)
	addReading(fields, "temp_2", e.Temp2)
	addReading(fields, "internal_temp", e.Internal)

	return write.NewPoint(MeasurementLog, map[string]string{"device_id": deviceID}, fields, e.Timestamp)
}

func tags(deviceID string, unit m307.Unit) map[string]string {
	t := map[string]string{"device_id": deviceID}
	if unit != m307.UnitUnknown {
		t["unit"] = unit.String()
	}
	return t
}

// addReading stores a measured value under name, or a fault description
// under name_fault. Absent probes add nothing.
func addReading(fields map[string]interface{}, name string, r m307.Reading) {
	switch {
	case r.Valid():
		fields[name] = r.Value
	case r.Present:
		fields[name+"_fault"] = r.String()
	}
}
