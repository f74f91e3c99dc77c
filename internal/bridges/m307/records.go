package m307

import (
	"fmt"
)

// User record indices.
const (
	RecordLimits        = 0 // alarm limits, delays and calibration
	RecordDeviceInfo    = 1 // name, unit, MAC and serial number
	RecordTempNames     = 2 // external temperature probe names
	RecordDoorNames     = 3 // door input names
	RecordSettings      = 4 // relay, reminder, buzzer and door alarm
	RecordInternalNames = 5 // internal temperature and humidity names
)

const (
	nameFieldWidth        = 20
	serialFieldWidth      = 10
	firstNameFieldOffset  = 8
	secondNameFieldOffset = 28
)

// Record is the full 60-byte image of one user record as the device returns
// it: the read command header followed by the payload.
type Record [PacketSize]byte

// NewRecord returns a zero-filled record image for first initialisation.
func NewRecord(index int) (Record, error) {
	var r Record
	cmd, err := ReadRecordCommand(index)
	if err != nil {
		return r, err
	}
	copy(r[:CommandSize], cmd[:])
	return r, nil
}

// RecordFromPayload builds a record image from 56 payload bytes.
func RecordFromPayload(index int, payload []byte) (Record, error) {
	if len(payload) != PayloadSize {
		return Record{}, fmt.Errorf("%w: record payload is %d bytes, want %d", ErrValidation, len(payload), PayloadSize)
	}
	r, err := NewRecord(index)
	if err != nil {
		return r, err
	}
	copy(r[CommandSize:], payload)
	return r, nil
}

// Index returns the record index carried in the command header.
func (r Record) Index() int {
	return int(r[CommandSize-1])
}

// Payload returns a copy of the 56 data bytes.
func (r Record) Payload() []byte {
	return Packet(r).Payload()
}

// checkIndex verifies the record is the one a typed view expects.
func (r Record) checkIndex(want ...int) error {
	got := r.Index()
	for _, w := range want {
		if got == w {
			return nil
		}
	}
	return fmt.Errorf("%w: record %d cannot be decoded as %v", ErrValidation, got, want)
}

// ─── Field tables ──────────────────────────────────────────────────

// Record 0 fields.
var (
	fieldTemp1Lower         = Field{"temp_sensor_1_lower_limit", 8, 2, KindInt16}
	fieldTemp1Upper         = Field{"temp_sensor_1_upper_limit", 10, 2, KindInt16}
	fieldTemp1Delay         = Field{"temp_sensor_1_time_delay", 12, 2, KindInt16}
	fieldTemp2Lower         = Field{"temp_sensor_2_lower_limit", 14, 2, KindInt16}
	fieldTemp2Upper         = Field{"temp_sensor_2_upper_limit", 16, 2, KindInt16}
	fieldTemp2Delay         = Field{"temp_sensor_2_time_delay", 18, 2, KindInt16}
	fieldInternalLower      = Field{"internal_temp_lower_limit", 20, 2, KindInt16}
	fieldInternalUpper      = Field{"internal_temp_upper_limit", 22, 2, KindInt16}
	fieldInternalDelay      = Field{"internal_temp_time_delay", 24, 2, KindInt16}
	fieldHumidityLower      = Field{"internal_humidity_lower_limit", 26, 2, KindInt16}
	fieldHumidityUpper      = Field{"internal_humidity_upper_limit", 28, 2, KindInt16}
	fieldHumidityDelay      = Field{"internal_humidity_time_delay", 30, 2, KindInt16}
	fieldDoor1Delay         = Field{"door_1_time_delay", 32, 2, KindInt16}
	fieldDoor2Delay         = Field{"door_2_time_delay", 34, 2, KindInt16}
	fieldTemp1Correction    = Field{"temp_sensor_1_correction", 36, 2, KindInt16}
	fieldTemp2Correction    = Field{"temp_sensor_2_correction", 38, 2, KindInt16}
	fieldInternalCorrection = Field{"internal_temp_correction", 40, 2, KindInt16}
	fieldHumidityCorrection = Field{"internal_humidity_correction", 42, 2, KindInt16}
	fieldInput1Logic        = Field{"input_1_logic_level", 45, 1, KindUint8}
	fieldInput2Logic        = Field{"input_2_logic_level", 46, 1, KindUint8}
)

// Record 1 fields.
var (
	fieldDeviceName = Field{"device_name", 8, nameFieldWidth, KindASCII}
	fieldUnit       = Field{"unit_of_measure", 28, 1, KindUnit}
	fieldMAC        = Field{"mac_address", 29, nameFieldWidth, KindASCII}
	fieldSerial     = Field{"serial_number", 50, serialFieldWidth, KindASCII}
)

// Record 4 fields.
var (
	fieldRelayLogic        = Field{"relay_logic", 8, 1, KindUint8}
	fieldAlarmReminder     = Field{"alarm_reminder_delay", 9, 1, KindUint8}
	fieldBuzzerEnabled     = Field{"buzzer_enabled", 10, 1, KindBool}
	fieldTwoStageDoorAlarm = Field{"two_stage_door_alarm_delay", 11, 1, KindUint8}
)

// nameFields returns the two text fields shared by records 2, 3 and 5.
func nameFields(first, second string) (Field, Field) {
	return Field{first, firstNameFieldOffset, nameFieldWidth, KindASCII},
		Field{second, secondNameFieldOffset, nameFieldWidth, KindASCII}
}

var (
	fieldTempName1, fieldTempName2         = nameFields("temp_sensor_1_name", "temp_sensor_2_name")
	fieldDoorName1, fieldDoorName2         = nameFields("door_1_name", "door_2_name")
	fieldInternalTempName, fieldHumidityNm = nameFields("internal_temp_name", "internal_humidity_name")
)

// Layouts of the six user records, indexed by record number.
var recordLayouts = [RecordCount]Layout{
	RecordLimits: {Name: "limits", Fields: []Field{
		fieldTemp1Lower, fieldTemp1Upper, fieldTemp1Delay,
		fieldTemp2Lower, fieldTemp2Upper, fieldTemp2Delay,
		fieldInternalLower, fieldInternalUpper, fieldInternalDelay,
		fieldHumidityLower, fieldHumidityUpper, fieldHumidityDelay,
		fieldDoor1Delay, fieldDoor2Delay,
		fieldTemp1Correction, fieldTemp2Correction, fieldInternalCorrection, fieldHumidityCorrection,
		fieldInput1Logic, fieldInput2Logic,
	}},
	RecordDeviceInfo:    {Name: "device_info", Fields: []Field{fieldDeviceName, fieldUnit, fieldMAC, fieldSerial}},
	RecordTempNames:     {Name: "temperature_names", Fields: []Field{fieldTempName1, fieldTempName2}},
	RecordDoorNames:     {Name: "door_names", Fields: []Field{fieldDoorName1, fieldDoorName2}},
	RecordSettings:      {Name: "settings", Fields: []Field{fieldRelayLogic, fieldAlarmReminder, fieldBuzzerEnabled, fieldTwoStageDoorAlarm}},
	RecordInternalNames: {Name: "internal_names", Fields: []Field{fieldInternalTempName, fieldHumidityNm}},
}

// LayoutFor returns the field table of user record index.
func LayoutFor(index int) (Layout, error) {
	if err := validateRecordIndex(index); err != nil {
		return Layout{}, err
	}
	return recordLayouts[index], nil
}

// ─── Record 0: limits and calibration ──────────────────────────────

// SensorLimits are the alarm thresholds of one analogue input.
//
// Temperature limits are in raw device counts (whole degrees on the units
// seen in the field); humidity limits are tenths of %RH. Delay is the time
// in minutes a value must stay out of limits before the alarm trips.
type SensorLimits struct {
	Lower int `json:"lower_limit"`
	Upper int `json:"upper_limit"`
	Delay int `json:"time_delay"`
}

// Limits is the typed view of record 0.
//
// Corrections are signed offsets in tenths of a degree (or %RH) the device
// adds to each reading.
type Limits struct {
	Temp1              SensorLimits `json:"temp_sensor_1"`
	Temp2              SensorLimits `json:"temp_sensor_2"`
	Internal           SensorLimits `json:"internal_temp"`
	Humidity           SensorLimits `json:"internal_humidity"`
	Door1Delay         int          `json:"door_1_time_delay"`
	Door2Delay         int          `json:"door_2_time_delay"`
	Temp1Correction    int          `json:"temp_sensor_1_correction"`
	Temp2Correction    int          `json:"temp_sensor_2_correction"`
	InternalCorrection int          `json:"internal_temp_correction"`
	HumidityCorrection int          `json:"internal_humidity_correction"`
	Input1Logic        int          `json:"input_1_logic_level"`
	Input2Logic        int          `json:"input_2_logic_level"`
}

// bindings pairs each Limits member with its field.
func (l *Limits) bindings() []intBinding {
	return []intBinding{
		{fieldTemp1Lower, &l.Temp1.Lower}, {fieldTemp1Upper, &l.Temp1.Upper}, {fieldTemp1Delay, &l.Temp1.Delay},
		{fieldTemp2Lower, &l.Temp2.Lower}, {fieldTemp2Upper, &l.Temp2.Upper}, {fieldTemp2Delay, &l.Temp2.Delay},
		{fieldInternalLower, &l.Internal.Lower}, {fieldInternalUpper, &l.Internal.Upper}, {fieldInternalDelay, &l.Internal.Delay},
		{fieldHumidityLower, &l.Humidity.Lower}, {fieldHumidityUpper, &l.Humidity.Upper}, {fieldHumidityDelay, &l.Humidity.Delay},
		{fieldDoor1Delay, &l.Door1Delay}, {fieldDoor2Delay, &l.Door2Delay},
		{fieldTemp1Correction, &l.Temp1Correction}, {fieldTemp2Correction, &l.Temp2Correction},
		{fieldInternalCorrection, &l.InternalCorrection}, {fieldHumidityCorrection, &l.HumidityCorrection},
		{fieldInput1Logic, &l.Input1Logic}, {fieldInput2Logic, &l.Input2Logic},
	}
}

type intBinding struct {
	field Field
	value *int
}

// DecodeLimits decodes record 0.
func DecodeLimits(rec Record) (Limits, error) {
	var l Limits
	if err := rec.checkIndex(RecordLimits); err != nil {
		return l, err
	}
	for _, b := range l.bindings() {
		*b.value = b.field.intValue(&rec)
	}
	return l, nil
}

// Apply writes every limit into a copy of base. Bytes outside the limit
// fields are preserved.
func (l Limits) Apply(base Record) (Record, error) {
	if err := base.checkIndex(RecordLimits); err != nil {
		return base, err
	}
	out := base
	for _, b := range l.bindings() {
		if err := b.field.setInt(&out, *b.value); err != nil {
			return base, err
		}
	}
	return out, nil
}

// ─── Record 1: device identity ─────────────────────────────────────

// DeviceInfo is the typed view of record 1.
type DeviceInfo struct {
	Name       string `json:"device_name"`
	Unit       Unit   `json:"unit_of_measure"`
	MACAddress string `json:"mac_address"`
	Serial     string `json:"serial_number"`
}

// DecodeDeviceInfo decodes record 1.
func DecodeDeviceInfo(rec Record) (DeviceInfo, error) {
	if err := rec.checkIndex(RecordDeviceInfo); err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		Name:       fieldDeviceName.stringValue(&rec),
		Unit:       fieldUnit.unitValue(&rec),
		MACAddress: fieldMAC.stringValue(&rec),
		Serial:     fieldSerial.stringValue(&rec),
	}, nil
}

// Apply writes the identity into a copy of base. Text longer than its field
// is truncated. The unit must be C or F.
func (d DeviceInfo) Apply(base Record) (Record, error) {
	if err := base.checkIndex(RecordDeviceInfo); err != nil {
		return base, err
	}
	out := base
	if err := fieldDeviceName.setString(&out, d.Name); err != nil {
		return base, err
	}
	if err := fieldUnit.setUnit(&out, d.Unit); err != nil {
		return base, err
	}
	if err := fieldMAC.setString(&out, d.MACAddress); err != nil {
		return base, err
	}
	if err := fieldSerial.setString(&out, d.Serial); err != nil {
		return base, err
	}
	return out, nil
}

// ─── Records 2, 3, 5: names ────────────────────────────────────────

// SensorNames is the typed view of the name records. Which names they are
// depends on the record: temperature probes (2), doors (3) or internal
// temperature and humidity (5). The device only raises alarms for inputs
// that have a name.
type SensorNames struct {
	Index  int    `json:"-"`
	First  string `json:"first"`
	Second string `json:"second"`
}

func nameRecordFields(index int) (Field, Field, error) {
	switch index {
	case RecordTempNames:
		return fieldTempName1, fieldTempName2, nil
	case RecordDoorNames:
		return fieldDoorName1, fieldDoorName2, nil
	case RecordInternalNames:
		return fieldInternalTempName, fieldHumidityNm, nil
	default:
		return Field{}, Field{}, fmt.Errorf("%w: record %d does not hold sensor names", ErrValidation, index)
	}
}

// DecodeSensorNames decodes record 2, 3 or 5.
func DecodeSensorNames(rec Record) (SensorNames, error) {
	first, second, err := nameRecordFields(rec.Index())
	if err != nil {
		return SensorNames{}, err
	}
	return SensorNames{
		Index:  rec.Index(),
		First:  first.stringValue(&rec),
		Second: second.stringValue(&rec),
	}, nil
}

// Apply writes both names into a copy of base.
func (n SensorNames) Apply(base Record) (Record, error) {
	first, second, err := nameRecordFields(base.Index())
	if err != nil {
		return base, err
	}
	out := base
	if err := first.setString(&out, n.First); err != nil {
		return base, err
	}
	if err := second.setString(&out, n.Second); err != nil {
		return base, err
	}
	return out, nil
}

// ─── Record 4: settings ────────────────────────────────────────────

// Relay logic values.
const (
	RelayNormallyOff = 0
	RelayNormallyOn  = 1
)

// Settings is the typed view of record 4. Delays are in minutes; an alarm
// reminder delay of 0 disables reminders.
type Settings struct {
	RelayLogic             int  `json:"relay_logic"`
	AlarmReminderDelay     int  `json:"alarm_reminder_delay"`
	BuzzerEnabled          bool `json:"buzzer_enabled"`
	TwoStageDoorAlarmDelay int  `json:"two_stage_door_alarm_delay"`
}

// DecodeSettings decodes record 4.
func DecodeSettings(rec Record) (Settings, error) {
	if err := rec.checkIndex(RecordSettings); err != nil {
		return Settings{}, err
	}
	return Settings{
		RelayLogic:             fieldRelayLogic.intValue(&rec),
		AlarmReminderDelay:     fieldAlarmReminder.intValue(&rec),
		BuzzerEnabled:          fieldBuzzerEnabled.boolValue(&rec),
		TwoStageDoorAlarmDelay: fieldTwoStageDoorAlarm.intValue(&rec),
	}, nil
}

// Apply writes the settings into a copy of base. Every value must fit in
// one byte.
func (s Settings) Apply(base Record) (Record, error) {
	if err := base.checkIndex(RecordSettings); err != nil {
		return base, err
	}
	out := base
	if err := fieldRelayLogic.setInt(&out, s.RelayLogic); err != nil {
		return base, err
	}
	if err := fieldAlarmReminder.setInt(&out, s.AlarmReminderDelay); err != nil {
		return base, err
	}
	fieldBuzzerEnabled.setBool(&out, s.BuzzerEnabled)
	if err := fieldTwoStageDoorAlarm.setInt(&out, s.TwoStageDoorAlarmDelay); err != nil {
		return base, err
	}
	return out, nil
}
