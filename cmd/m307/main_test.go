package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
)

// runCLI executes the command tree with args and returns stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// withDevice starts a simulated device and keeps backups in a temp dir.
func withDevice(t *testing.T) (*simDevice, string) {
	t.Helper()
	t.Setenv("M307_DATABASE_PATH", filepath.Join(t.TempDir(), "m307.db"))
	dev := newSimDevice(t)
	return dev, dev.listen(t)
}

func hostArgs(addr string, args ...string) []string {
	return append([]string{"--host", addr, "--timeout", "2"}, args...)
}

func TestStatusJSON(t *testing.T) {
	_, addr := withDevice(t)

	out, _, err := runCLI(t, hostArgs(addr, "status", "--format", "json")...)
	if err != nil {
		t.Fatalf("status error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, out)
	}
	temp1 := got["temp_sensor_1"].(map[string]any)
	if temp1["reading"] != 21.5 || temp1["alarm"] != true {
		t.Errorf("temp_sensor_1 = %v", temp1)
	}
	if internal := got["internal_temp"].(map[string]any); internal["reading"] != "open_circuit" {
		t.Errorf("internal_temp = %v", internal)
	}
	if got["temperature_unit"] != "C" || got["main_power"] != true {
		t.Errorf("status = %v", got)
	}
}

func TestStatusText(t *testing.T) {
	_, addr := withDevice(t)

	out, _, err := runCLI(t, hostArgs(addr, "status")...)
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	for _, want := range []string{
		"battery_voltage: 12.5\n",
		"temp_sensor_1:\n  alarm: true\n  reading: 21.5\n",
		"temp_sensor_2:\n  alarm: false\n  reading: none\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestReadingCommands(t *testing.T) {
	_, addr := withDevice(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"probe 1", []string{"temperature", "--sensor", "1"}, "Sensor 1: 21.5 C (ALARM)\n  Out of limits for 3 minutes\n"},
		{"probe 2", []string{"temperature", "--sensor", "2"}, "Sensor 2: No sensor connected\n"},
		{"internal", []string{"temperature", "--sensor", "internal"}, "Sensor internal: Open circuit\n"},
		{"humidity", []string{"humidity"}, "Humidity: 45.5% RH (OK)\n"},
		{"door 1", []string{"door", "--door", "1"}, "Door 1: CLOSED (OK)\n"},
		{"door 2", []string{"door", "--door", "2"}, "Door 2: OPEN (OK)\n"},
		{"battery", []string{"battery"}, "Battery: 12.50V\n"},
		{"power", []string{"power"}, "Main Power: ON\n"},
		{"battery json", []string{"battery", "--format", "json"}, "{\n  \"battery_voltage\": 12.5\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := runCLI(t, hostArgs(addr, tt.args...)...)
			if err != nil {
				t.Fatalf("%v error: %v", tt.args, err)
			}
			if out != tt.want {
				t.Errorf("%v output = %q, want %q", tt.args, out, tt.want)
			}
		})
	}
}

func TestInvalidArguments(t *testing.T) {
	dev, addr := withDevice(t)

	tests := []struct {
		name string
		args []string
	}{
		{"sensor", []string{"temperature", "--sensor", "7"}},
		{"door", []string{"door", "--door", "3"}},
		{"record index", []string{"record", "read", "--record", "6"}},
		{"log rate", []string{"log", "set-time", "--rate", "61"}},
		{"datetime", []string{"log", "set-time", "--rate", "5", "--datetime", "tomorrow"}},
		{"unit", []string{"device-info", "set", "--unit", "K"}},
		{"relay logic", []string{"settings", "set", "--relay-logic", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, hostArgs(addr, tt.args...)...)
			if !errors.Is(err, m307.ErrValidation) {
				t.Errorf("%v error = %v, want ErrValidation", tt.args, err)
			}
		})
	}
	if n := len(dev.writtenRecords()); n != 0 {
		t.Errorf("invalid commands wrote %d records", n)
	}
}

func TestMissingHostAndFormat(t *testing.T) {
	t.Setenv("M307_DEVICE_HOST", "")

	if _, _, err := runCLI(t, "status"); !errors.Is(err, m307.ErrValidation) {
		t.Errorf("status without host error = %v, want ErrValidation", err)
	}
	if _, _, err := runCLI(t, "--host", "127.0.0.1", "--format", "xml", "status"); err == nil {
		t.Error("--format xml error = nil, want error")
	}
}

func TestUnreachableDevice(t *testing.T) {
	_, _, err := runCLI(t, "--host", "127.0.0.1", "--port", "1", "--timeout", "1", "status")
	if !errors.Is(err, m307.ErrConnection) {
		t.Errorf("status error = %v, want ErrConnection", err)
	}
}

func TestNothingToSet(t *testing.T) {
	_, addr := withDevice(t)

	for _, args := range [][]string{
		{"device-info", "set"},
		{"limits", "set"},
		{"limits", "set", "--sensor", "1"},
		{"calibrate"},
		{"settings", "set"},
	} {
		if _, _, err := runCLI(t, hostArgs(addr, args...)...); !errors.Is(err, errNothingToSet) {
			t.Errorf("%v error = %v, want errNothingToSet", args, err)
		}
	}
}

func TestSensorNames(t *testing.T) {
	dev, addr := withDevice(t)

	out, _, err := runCLI(t, hostArgs(addr, "sensor-names", "set-door", "Front", "Back")...)
	if err != nil {
		t.Fatalf("set-door error: %v", err)
	}
	if out != "Door sensor names updated\n" {
		t.Errorf("set-door output = %q", out)
	}
	names, err := m307.DecodeSensorNames(dev.record(m307.RecordDoorNames))
	if err != nil || names.First != "Front" || names.Second != "Back" {
		t.Errorf("door names = %+v, %v", names, err)
	}

	out, _, err = runCLI(t, hostArgs(addr, "sensor-names", "get", "--format", "json")...)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	var view sensorNamesView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if view.Temperature.Sensor1 != "Cold room" || view.Temperature.Sensor2 != "Freezer" || view.Door.Door2 != "Back" {
		t.Errorf("names = %+v", view)
	}
}

func TestLimitsSetFlags(t *testing.T) {
	dev, addr := withDevice(t)

	_, _, err := runCLI(t, hostArgs(addr, "limits", "set",
		"--sensor", "2", "--lower", "-20", "--upper", "-5", "--delay", "15",
		"--humidity", "--humidity-upper", "85.5",
		"--door1-delay", "4")...)
	if err != nil {
		t.Fatalf("limits set error: %v", err)
	}

	l, err := m307.DecodeLimits(dev.record(m307.RecordLimits))
	if err != nil {
		t.Fatalf("DecodeLimits() error: %v", err)
	}
	want := m307.SensorLimits{Lower: -20, Upper: -5, Delay: 15}
	if l.Temp2 != want {
		t.Errorf("Temp2 = %+v, want %+v", l.Temp2, want)
	}
	if l.Humidity.Upper != 855 || l.Door1Delay != 4 {
		t.Errorf("limits = %+v", l)
	}
	if l.Temp1 != (m307.SensorLimits{}) {
		t.Errorf("Temp1 changed: %+v", l.Temp1)
	}
}

func TestLimitsSetFileKeepsAbsentKeys(t *testing.T) {
	dev, addr := withDevice(t)

	if _, _, err := runCLI(t, hostArgs(addr, "limits", "set", "--door2-delay", "9")...); err != nil {
		t.Fatalf("limits set error: %v", err)
	}

	file := filepath.Join(t.TempDir(), "limits.json")
	doc := `{"temp_sensor_1": {"upper_limit": 8}, "temp_sensor_1_correction": -5}`
	if err := os.WriteFile(file, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, hostArgs(addr, "limits", "set", "--file", file)...); err != nil {
		t.Fatalf("limits set --file error: %v", err)
	}

	l, err := m307.DecodeLimits(dev.record(m307.RecordLimits))
	if err != nil {
		t.Fatalf("DecodeLimits() error: %v", err)
	}
	if l.Temp1.Upper != 8 || l.Temp1Correction != -5 || l.Door2Delay != 9 {
		t.Errorf("limits = %+v", l)
	}

	if err := os.WriteFile(file, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, hostArgs(addr, "limits", "set", "--file", file)...); !errors.Is(err, m307.ErrValidation) {
		t.Errorf("bad file error = %v, want ErrValidation", err)
	}
}

func TestCalibrate(t *testing.T) {
	dev, addr := withDevice(t)

	if _, _, err := runCLI(t, hostArgs(addr, "calibrate", "--sensor1", "-0.5", "--internal", "1.2")...); err != nil {
		t.Fatalf("calibrate error: %v", err)
	}
	l, err := m307.DecodeLimits(dev.record(m307.RecordLimits))
	if err != nil {
		t.Fatalf("DecodeLimits() error: %v", err)
	}
	if l.Temp1Correction != -5 || l.InternalCorrection != 12 || l.Temp2Correction != 0 {
		t.Errorf("corrections = %d %d %d", l.Temp1Correction, l.Temp2Correction, l.InternalCorrection)
	}
}

func TestSettingsAndDeviceInfo(t *testing.T) {
	dev, addr := withDevice(t)

	if _, _, err := runCLI(t, hostArgs(addr, "settings", "set", "--buzzer", "--alarm-reminder", "30")...); err != nil {
		t.Fatalf("settings set error: %v", err)
	}
	s, err := m307.DecodeSettings(dev.record(m307.RecordSettings))
	if err != nil || !s.BuzzerEnabled || s.AlarmReminderDelay != 30 {
		t.Errorf("settings = %+v, %v", s, err)
	}

	if _, _, err := runCLI(t, hostArgs(addr, "device-info", "set", "--name", "Cold room A", "--unit", "f")...); err != nil {
		t.Fatalf("device-info set error: %v", err)
	}
	out, _, err := runCLI(t, hostArgs(addr, "device-info", "get")...)
	if err != nil {
		t.Fatalf("device-info get error: %v", err)
	}
	if !strings.Contains(out, "device_name: Cold room A\n") || !strings.Contains(out, "unit_of_measure: F\n") {
		t.Errorf("device-info output:\n%s", out)
	}
}

func TestLogExportCSV(t *testing.T) {
	dev, addr := withDevice(t)
	ts := time.Date(2024, 3, 15, 14, 0, 0, 0, time.Local)
	dev.log = [][]byte{
		simLogEntry(t, ts, 45, 600, 0x05),
		simLogEntry(t, ts.Add(5*time.Minute), -12, 615, 0x02),
	}
	dev.logInfo = simLogInfo(t, ts, 5, 2)

	file := filepath.Join(t.TempDir(), "log.csv")
	out, errOut, err := runCLI(t, hostArgs(addr, "log", "export", "--output", file)...)
	if err != nil {
		t.Fatalf("log export error: %v", err)
	}
	if !strings.Contains(out, "Total records: 2") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(errOut, "Reading log: 2 / 2 (100%)") {
		t.Errorf("progress = %q", errOut)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	want := "Timestamp,Temperature_1,Temperature_2,Internal_Temperature,Internal_Humidity,Door_1_State,Door_2_State,Power_Status\n" +
		"2024-03-15 14:00:00,4.5,,inf,60,1,0,1\n" +
		"2024-03-15 14:05:00,-1.2,,inf,61.5,0,1,0\n"
	if string(data) != want {
		t.Errorf("CSV =\n%s\nwant\n%s", data, want)
	}
}

func TestLogExportEmpty(t *testing.T) {
	_, addr := withDevice(t)
	file := filepath.Join(t.TempDir(), "log.csv")

	_, _, err := runCLI(t, hostArgs(addr, "log", "export", "--quiet", "--output", file)...)
	if !errors.Is(err, errEmptyLog) {
		t.Errorf("export error = %v, want errEmptyLog", err)
	}
	if _, statErr := os.Stat(file); !os.IsNotExist(statErr) {
		t.Error("CSV file created for an empty log")
	}
}

func TestLogReadJSONAndContinue(t *testing.T) {
	dev, addr := withDevice(t)
	ts := time.Date(2024, 3, 15, 14, 0, 0, 0, time.Local)
	dev.log = [][]byte{simLogEntry(t, ts, 45, 600, 0x04)}

	out, _, err := runCLI(t, hostArgs(addr, "log", "read", "--quiet", "--format", "json")...)
	if err != nil {
		t.Fatalf("log read error: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0]["temp_1"] != 4.5 || entries[0]["power_status"] != true {
		t.Errorf("entries = %v", entries)
	}

	// The pointer stays at the end without a reset.
	out, _, err = runCLI(t, hostArgs(addr, "log", "read", "--quiet", "--no-reset", "--format", "json")...)
	if err != nil {
		t.Fatalf("log read --no-reset error: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("continued read = %s, want []", out)
	}
}

func TestLogInfoAndSetTime(t *testing.T) {
	_, addr := withDevice(t)

	out, _, err := runCLI(t, hostArgs(addr, "log", "info")...)
	if err != nil {
		t.Fatalf("log info error: %v", err)
	}
	want := "Device Date/Time: 2024-03-15 14:30:12\nLog Rate: 5 minutes\nTotal Records: 0\n"
	if out != want {
		t.Errorf("log info = %q, want %q", out, want)
	}

	out, _, err = runCLI(t, hostArgs(addr, "log", "set-time", "--rate", "10", "--datetime", "2024-06-01 08:15:00")...)
	if err != nil {
		t.Fatalf("set-time error: %v", err)
	}
	if out != "Date/Time set to: 2024-06-01 08:15:00\nLog rate: 10 minutes\n" {
		t.Errorf("set-time output = %q", out)
	}
}

func TestRecordReadWrite(t *testing.T) {
	dev, addr := withDevice(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "rec2.bin")

	if _, _, err := runCLI(t, hostArgs(addr, "record", "read", "--record", "2", "--output", file)...); err != nil {
		t.Fatalf("record read error: %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != m307.PacketSize || !bytes.Contains(data, []byte("Cold room")) {
		t.Fatalf("record file = % x", data)
	}

	// Write it into record 3 after changing a byte.
	data[8] = 'X'
	if err := os.WriteFile(file, data, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, hostArgs(addr, "record", "write", "--record", "3", "--file", file)...); err != nil {
		t.Fatalf("record write error: %v", err)
	}
	if got := dev.record(3); got[8] != 'X' || got.Index() != 3 {
		t.Errorf("record 3 = % x", got[:])
	}

	short := filepath.Join(dir, "short.bin")
	if err := os.WriteFile(short, data[:59], 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, hostArgs(addr, "record", "write", "--record", "3", "--file", short)...); !errors.Is(err, m307.ErrValidation) {
		t.Errorf("short file error = %v, want ErrValidation", err)
	}
}

func TestRecordReadHexDump(t *testing.T) {
	_, addr := withDevice(t)

	out, _, err := runCLI(t, hostArgs(addr, "record", "read", "--record", "2")...)
	if err != nil {
		t.Fatalf("record read error: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 5 || lines[0] != "Record 2 (60 bytes):" {
		t.Fatalf("hex dump =\n%s", out)
	}
	if !strings.HasPrefix(lines[1], "0000  ") || !strings.HasSuffix(lines[1], "........Cold roo") {
		t.Errorf("first row = %q", lines[1])
	}
	if !strings.HasPrefix(lines[4], "0030  ") {
		t.Errorf("last row = %q", lines[4])
	}
}

func TestRecordBackupRestore(t *testing.T) {
	dev, addr := withDevice(t)

	out, _, err := runCLI(t, hostArgs(addr, "record", "backup", "--label", "initial", "--format", "json")...)
	if err != nil {
		t.Fatalf("record backup error: %v", err)
	}
	var summary struct {
		ID          string `json:"id"`
		RecordCount int    `json:"record_count"`
		Label       string `json:"label"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if summary.ID == "" || summary.RecordCount != m307.RecordCount || summary.Label != "initial" {
		t.Fatalf("summary = %+v", summary)
	}

	// Change the names, then restore them from the backup.
	if _, _, err := runCLI(t, hostArgs(addr, "sensor-names", "set-temp", "A", "B")...); err != nil {
		t.Fatalf("set-temp error: %v", err)
	}
	out, _, err = runCLI(t, hostArgs(addr, "record", "restore", summary.ID, "--record", "2")...)
	if err != nil {
		t.Fatalf("record restore error: %v", err)
	}
	if !strings.Contains(out, "Restored 1 records") {
		t.Errorf("restore output = %q", out)
	}
	names, err := m307.DecodeSensorNames(dev.record(m307.RecordTempNames))
	if err != nil || names.First != "Cold room" {
		t.Errorf("names after restore = %+v, %v", names, err)
	}

	if _, _, err := runCLI(t, hostArgs(addr, "record", "restore", "--latest")...); err != nil {
		t.Fatalf("restore --latest error: %v", err)
	}

	out, _, err = runCLI(t, hostArgs(addr, "record", "list")...)
	if err != nil {
		t.Fatalf("record list error: %v", err)
	}
	if !strings.Contains(out, summary.ID) || !strings.Contains(out, "initial") {
		t.Errorf("list output:\n%s", out)
	}
}

func TestHexDumpPartialRow(t *testing.T) {
	var b bytes.Buffer
	hexDump(&b, []byte("AB\x00"))
	want := "0000  41 42 00" + strings.Repeat(" ", 48-8) + "  AB.\n"
	if b.String() != want {
		t.Errorf("hexDump = %q, want %q", b.String(), want)
	}
}

func TestCSVReading(t *testing.T) {
	tests := []struct {
		r    m307.Reading
		want string
	}{
		{m307.Measured(-18.5), "-18.5"},
		{m307.Measured(4), "4"},
		{m307.Absent(), ""},
	}
	for _, tt := range tests {
		if got := csvReading(tt.r); got != tt.want {
			t.Errorf("csvReading(%v) = %q, want %q", tt.r, got, tt.want)
		}
	}
}
