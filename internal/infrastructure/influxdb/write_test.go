package influxdb_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
	"github.com/nerrad567/m307-core/internal/infrastructure/influxdb"
)

func testStatus() m307.Status {
	return m307.Status{
		Temp1:          m307.TemperatureChannel{Reading: m307.Measured(4.5), MinutesOutOfLimits: 3},
		Temp2:          m307.TemperatureChannel{Reading: m307.Absent()},
		Internal:       m307.TemperatureChannel{Reading: m307.Measured(math.Inf(1)), Alarm: true},
		Humidity:       m307.HumidityChannel{Value: 55.5},
		Door1:          m307.DoorChannel{Closed: true},
		MainPower:      true,
		BatteryVoltage: 12.5,
		Resolution:     m307.ResolutionFine,
		Unit:           m307.UnitCelsius,
	}
}

func testLogEntry() m307.LogEntry {
	return m307.LogEntry{
		Timestamp: time.Date(2024, 5, 1, 8, 15, 0, 0, time.UTC),
		Temp1:     m307.Measured(-18.2),
		Temp2:     m307.Measured(math.Inf(-1)),
		Internal:  m307.Absent(),
		Humidity:  40,
		Door2:     true,
		Power:     true,
	}
}

func TestStatusPoint(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	line := write.PointToLineProtocol(influxdb.StatusPoint("cold-room", testStatus(), at), time.Second)

	if !strings.HasPrefix(line, "m307_status,device_id=cold-room,unit=C ") {
		t.Errorf("line = %q, want measurement and tags", line)
	}
	for _, want := range []string{
		"temp_1=4.5",
		"temp_1_out_of_limits_min=3i",
		`internal_temp_fault="open circuit"`,
		"internal_temp_alarm=true",
		"humidity=55.5",
		"door_1_closed=true",
		"battery_voltage=12.5",
		"temperature_resolution=0.1",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %s", line, want)
		}
	}
	if strings.Contains(line, "temp_2=") || strings.Contains(line, "temp_2_fault") {
		t.Errorf("absent probe written: %q", line)
	}
	if !strings.HasSuffix(strings.TrimSpace(line), " 1714554000") {
		t.Errorf("line %q not stamped with poll time", line)
	}
}

func TestStatusPointUnknownUnit(t *testing.T) {
	st := testStatus()
	st.Unit = m307.UnitUnknown
	line := write.PointToLineProtocol(influxdb.StatusPoint("d", st, time.Now()), time.Second)
	if strings.Contains(line, "unit=") {
		t.Errorf("unknown unit tagged: %q", line)
	}
}

func TestLogEntryPoint(t *testing.T) {
	e := testLogEntry()
	p := influxdb.LogEntryPoint("cold-room", e)

	if !p.Time().Equal(e.Timestamp) {
		t.Errorf("Time() = %v, want device timestamp %v", p.Time(), e.Timestamp)
	}

	line := write.PointToLineProtocol(p, time.Second)
	for _, want := range []string{
		"m307_log,device_id=cold-room ",
		"temp_1=-18.2",
		`temp_2_fault="short circuit"`,
		"humidity=40",
		"door_1=false",
		"door_2=true",
		"power=true",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %s", line, want)
		}
	}
	if strings.Contains(line, "internal_temp") {
		t.Errorf("absent probe written: %q", line)
	}
}
