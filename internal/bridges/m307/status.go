package m307

import (
	"fmt"
	"time"
)

// Status reply offsets.
const (
	statusTemp1          = 4
	statusTemp2          = 9
	statusInternal       = 14
	statusHumidity       = 19
	statusDoor1          = 25
	statusDoor2          = 30
	statusMainPower      = 34
	statusBattery        = 35
	statusResolution     = 58
	statusUnit           = 59
	doorClosedState      = 1
	mainPowerOnState     = 4
	batteryVoltsDivisor  = 100.0
	channelOutOfLimitOff = 2 // out-of-limits counter follows the 2-byte reading
	channelAlarmOff      = 4 // alarm flag follows the counter
	doorOutOfLimitOff    = 1 // door state is 1 byte
	doorAlarmOff         = 3
)

// Log reply offsets (packet offsets for the info reply, entry offsets for
// a 15-byte log entry).
const (
	logInfoSeconds   = 4
	logInfoMinutes   = 5
	logInfoHours     = 6
	logInfoDayOfWeek = 7
	logInfoDay       = 8
	logInfoMonth     = 9
	logInfoYear      = 10
	logInfoRate      = 11
	logInfoCount     = 12

	// LogEntrySize is the size of one stored log entry.
	LogEntrySize = 15

	// hourMask strips the mode flags the firmware keeps in the top bits of
	// the BCD hour byte.
	hourMask = 0x3F

	logFlagDoor1 = 0x01
	logFlagDoor2 = 0x02
	logFlagPower = 0x04

	yearBase = 2000
)

// SensorID selects a temperature input.
type SensorID int

// Temperature inputs.
const (
	SensorTemp1    SensorID = 1
	SensorTemp2    SensorID = 2
	SensorInternal SensorID = 3
)

// String returns the input name used in topics and tags.
func (id SensorID) String() string {
	switch id {
	case SensorTemp1:
		return "temp_1"
	case SensorTemp2:
		return "temp_2"
	case SensorInternal:
		return "internal_temp"
	default:
		return fmt.Sprintf("sensor(%d)", int(id))
	}
}

// ParseSensorID parses "1", "2" or "internal".
func ParseSensorID(s string) (SensorID, error) {
	switch s {
	case "1":
		return SensorTemp1, nil
	case "2":
		return SensorTemp2, nil
	case "internal", "3":
		return SensorInternal, nil
	default:
		return 0, fmt.Errorf("%w: sensor must be 1, 2 or internal, got %q", ErrValidation, s)
	}
}

// TemperatureChannel is the live state of one temperature input.
type TemperatureChannel struct {
	Reading            Reading `json:"reading"`
	MinutesOutOfLimits int     `json:"time_out_of_limits"`
	Alarm              bool    `json:"alarm"`
}

// HumidityChannel is the live state of the humidity input.
type HumidityChannel struct {
	Value              float64 `json:"reading"`
	MinutesOutOfLimits int     `json:"time_out_of_limits"`
	Alarm              bool    `json:"alarm"`
}

// DoorChannel is the live state of one door input.
type DoorChannel struct {
	Closed             bool `json:"closed"`
	MinutesOutOfLimits int  `json:"time_out_of_limits"`
	Alarm              bool `json:"alarm"`
}

// Status is one decoded status reply. It is a snapshot and is never cached.
type Status struct {
	Temp1          TemperatureChannel `json:"temp_sensor_1"`
	Temp2          TemperatureChannel `json:"temp_sensor_2"`
	Internal       TemperatureChannel `json:"internal_temp"`
	Humidity       HumidityChannel    `json:"internal_humidity"`
	Door1          DoorChannel        `json:"door_1"`
	Door2          DoorChannel        `json:"door_2"`
	MainPower      bool               `json:"main_power"`
	BatteryVoltage float64            `json:"battery_voltage"`
	Resolution     Resolution         `json:"temperature_resolution"`
	Unit           Unit               `json:"temperature_unit"`
}

// DecodeStatus decodes a status reply.
func DecodeStatus(p Packet) Status {
	res := ResolutionFromByte(p[statusResolution])
	return Status{
		Temp1:          decodeTemperatureChannel(p, statusTemp1, res),
		Temp2:          decodeTemperatureChannel(p, statusTemp2, res),
		Internal:       decodeTemperatureChannel(p, statusInternal, res),
		Humidity:       decodeHumidityChannel(p, statusHumidity),
		Door1:          decodeDoorChannel(p, statusDoor1),
		Door2:          decodeDoorChannel(p, statusDoor2),
		MainPower:      p[statusMainPower] == mainPowerOnState,
		BatteryVoltage: float64(DecodeInt16(p[statusBattery], p[statusBattery+1])) / batteryVoltsDivisor,
		Resolution:     res,
		Unit:           UnitFromByte(p[statusUnit]),
	}
}

func decodeTemperatureChannel(p Packet, off int, res Resolution) TemperatureChannel {
	return TemperatureChannel{
		Reading:            DecodeTemperature(p[off], p[off+1], res),
		MinutesOutOfLimits: int(DecodeInt16(p[off+channelOutOfLimitOff], p[off+channelOutOfLimitOff+1])),
		Alarm:              p[off+channelAlarmOff] != 0,
	}
}

func decodeHumidityChannel(p Packet, off int) HumidityChannel {
	return HumidityChannel{
		Value:              DecodeHumidity(p[off], p[off+1]),
		MinutesOutOfLimits: int(DecodeInt16(p[off+channelOutOfLimitOff], p[off+channelOutOfLimitOff+1])),
		Alarm:              p[off+channelAlarmOff] != 0,
	}
}

func decodeDoorChannel(p Packet, off int) DoorChannel {
	return DoorChannel{
		Closed:             p[off] == doorClosedState,
		MinutesOutOfLimits: int(DecodeInt16(p[off+doorOutOfLimitOff], p[off+doorOutOfLimitOff+1])),
		Alarm:              p[off+doorAlarmOff] != 0,
	}
}

// Temperature returns the channel of one temperature input.
func (s Status) Temperature(id SensorID) (TemperatureChannel, error) {
	switch id {
	case SensorTemp1:
		return s.Temp1, nil
	case SensorTemp2:
		return s.Temp2, nil
	case SensorInternal:
		return s.Internal, nil
	default:
		return TemperatureChannel{}, fmt.Errorf("%w: unknown temperature sensor %d", ErrValidation, int(id))
	}
}

// Door returns the channel of door input 1 or 2.
func (s Status) Door(n int) (DoorChannel, error) {
	switch n {
	case 1:
		return s.Door1, nil
	case 2:
		return s.Door2, nil
	default:
		return DoorChannel{}, fmt.Errorf("%w: door must be 1 or 2, got %d", ErrValidation, n)
	}
}

// AnyAlarm reports whether any input is in alarm.
func (s Status) AnyAlarm() bool {
	return s.Temp1.Alarm || s.Temp2.Alarm || s.Internal.Alarm ||
		s.Humidity.Alarm || s.Door1.Alarm || s.Door2.Alarm
}

// ─── Clock and log ─────────────────────────────────────────────────

// LogInfo is the decoded clock/log information reply.
type LogInfo struct {
	Clock        time.Time `json:"datetime"`
	DayOfWeek    int       `json:"day_of_week"`
	LogRate      int       `json:"log_rate_minutes"`
	TotalRecords int       `json:"total_records"`
}

// DecodeLogInfo decodes a log information reply. The device clock has no
// zone; the wall time is interpreted in time.Local.
func DecodeLogInfo(p Packet) (LogInfo, error) {
	minute, err := DecodeBCD(p[logInfoMinutes])
	if err != nil {
		return LogInfo{}, fmt.Errorf("log info minutes: %w", err)
	}
	hour, err := DecodeBCD(p[logInfoHours] & hourMask)
	if err != nil {
		return LogInfo{}, fmt.Errorf("log info hours: %w", err)
	}
	dow, err := DecodeBCD(p[logInfoDayOfWeek])
	if err != nil {
		return LogInfo{}, fmt.Errorf("log info day of week: %w", err)
	}
	clock, err := decodeDate(p[logInfoDay], p[logInfoMonth], p[logInfoYear], hour, minute, int(p[logInfoSeconds]))
	if err != nil {
		return LogInfo{}, fmt.Errorf("log info: %w", err)
	}
	return LogInfo{
		Clock:        clock,
		DayOfWeek:    dow,
		LogRate:      int(p[logInfoRate]),
		TotalRecords: int(uint16(p[logInfoCount])<<byteShift | uint16(p[logInfoCount+1])),
	}, nil
}

// LogEntry is one stored log entry.
//
// Door and power flags are the raw status bits the device stored with the
// entry.
type LogEntry struct {
	Timestamp time.Time `json:"datetime"`
	DayOfWeek int       `json:"day_of_week"`
	Temp1     Reading   `json:"temp_1"`
	Temp2     Reading   `json:"temp_2"`
	Internal  Reading   `json:"internal_temp"`
	Humidity  float64   `json:"internal_humidity"`
	Door1     bool      `json:"door_1_state"`
	Door2     bool      `json:"door_2_state"`
	Power     bool      `json:"power_status"`
}

// DecodeLogEntry decodes one 15-byte log entry.
//
// Parameters:
//   - b: Exactly LogEntrySize bytes
//   - res: Resolution to scale temperatures with
//
// Returns:
//   - LogEntry: Decoded entry
//   - error: ErrFormat on short input, invalid BCD or an impossible date
func DecodeLogEntry(b []byte, res Resolution) (LogEntry, error) {
	if len(b) != LogEntrySize {
		return LogEntry{}, fmt.Errorf("%w: log entry is %d bytes, want %d", ErrFormat, len(b), LogEntrySize)
	}
	minute, err := DecodeBCD(b[0])
	if err != nil {
		return LogEntry{}, fmt.Errorf("log entry minutes: %w", err)
	}
	hour, err := DecodeBCD(b[1] & hourMask)
	if err != nil {
		return LogEntry{}, fmt.Errorf("log entry hours: %w", err)
	}
	dow, err := DecodeBCD(b[2])
	if err != nil {
		return LogEntry{}, fmt.Errorf("log entry day of week: %w", err)
	}
	ts, err := decodeDate(b[3], b[4], b[5], hour, minute, 0)
	if err != nil {
		return LogEntry{}, fmt.Errorf("log entry: %w", err)
	}
	flags := b[14]
	return LogEntry{
		Timestamp: ts,
		DayOfWeek: dow,
		Temp1:     DecodeTemperature(b[6], b[7], res),
		Temp2:     DecodeTemperature(b[8], b[9], res),
		Internal:  DecodeTemperature(b[10], b[11], res),
		Humidity:  DecodeHumidity(b[12], b[13]),
		Door1:     flags&logFlagDoor1 != 0,
		Door2:     flags&logFlagDoor2 != 0,
		Power:     flags&logFlagPower != 0,
	}, nil
}

// decodeDate decodes BCD day, month and two-digit year and validates the
// resulting calendar date.
func decodeDate(dayB, monthB, yearB byte, hour, minute, second int) (time.Time, error) {
	day, err := DecodeBCD(dayB)
	if err != nil {
		return time.Time{}, fmt.Errorf("day: %w", err)
	}
	month, err := DecodeBCD(monthB)
	if err != nil {
		return time.Time{}, fmt.Errorf("month: %w", err)
	}
	year, err := DecodeBCD(yearB)
	if err != nil {
		return time.Time{}, fmt.Errorf("year: %w", err)
	}
	year += yearBase

	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: invalid date %04d-%02d-%02d %02d:%02d:%02d",
			ErrFormat, year, month, day, hour, minute, second)
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: invalid date %04d-%02d-%02d", ErrFormat, year, month, day)
	}
	return t, nil
}

// EncodeClock builds the payload of a set-clock request.
//
// Seconds are not settable and are sent as 0. The wall-clock fields of t are
// used as they are; convert t to the zone the device should run in first.
//
// Returns:
//   - []byte: 8-byte payload (zero-padded by NewPacket)
//   - error: ErrValidation if rate is outside 1-60 or the year outside 2000-2099
func EncodeClock(t time.Time, rate int) ([]byte, error) {
	if rate < MinLogRate || rate > MaxLogRate {
		return nil, fmt.Errorf("%w: %w: log rate %d outside %d-%d minutes",
			ErrValidation, ErrRange, rate, MinLogRate, MaxLogRate)
	}
	if t.Year() < MinClockYear || t.Year() > MaxClockYear {
		return nil, fmt.Errorf("%w: %w: year %d outside %d-%d",
			ErrValidation, ErrRange, t.Year(), MinClockYear, MaxClockYear)
	}

	fields := []int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), t.Year() - yearBase}
	enc := make([]byte, len(fields))
	for i, v := range fields {
		b, err := EncodeBCD(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		enc[i] = b
	}

	return []byte{
		0x00,   // seconds
		enc[0], // minutes
		enc[1], // hours
		0x00,   // unused
		enc[2], // day
		enc[3], // month
		enc[4], // year
		byte(rate),
	}, nil
}
