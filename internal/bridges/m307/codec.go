package m307

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Raw temperature values the firmware uses to report sensor faults instead
// of a measurement. They are checked before any resolution scaling.
const (
	// rawNoSensor means nothing is plugged into the probe input.
	rawNoSensor = 1000

	// rawOpenCircuit means the probe wiring is broken.
	rawOpenCircuit = 999

	// rawShortCircuit means the probe wiring is shorted.
	rawShortCircuit = -999
)

// Codec constants.
const (
	// bcdMax is the largest value a single BCD byte can hold.
	bcdMax = 99

	// nibbleMask extracts the low nibble of a byte.
	nibbleMask = 0x0F

	// byteShift is the bit shift for byte extraction.
	byteShift = 8

	// humidityDivisor converts raw humidity to %RH (always 0.1 %RH steps).
	humidityDivisor = 10.0

	// resolutionFineByte is the status byte value that announces 0.1° steps.
	resolutionFineByte = 10
)

// Resolution is the temperature step the device reports in.
//
// Firmware v5 and later report tenths of a degree; older units report whole
// degrees. The zero value means the resolution has not been learned yet.
type Resolution uint8

// Temperature resolutions.
const (
	ResolutionUnknown Resolution = 0
	ResolutionCoarse  Resolution = 1  // 1.0°
	ResolutionFine    Resolution = 10 // 0.1°
)

// ResolutionFromByte maps the status resolution byte to a Resolution.
// The device sends 10 for 0.1° steps; any other value means 1.0°.
func ResolutionFromByte(b byte) Resolution {
	if b == resolutionFineByte {
		return ResolutionFine
	}
	return ResolutionCoarse
}

// divisor returns the value raw readings are divided by.
func (r Resolution) divisor() float64 {
	if r == ResolutionFine {
		return 10
	}
	return 1
}

// Step returns the size of one raw count in degrees (0.1 or 1.0).
func (r Resolution) Step() float64 {
	return 1 / r.divisor()
}

// String returns "0.1", "1.0" or "unknown".
func (r Resolution) String() string {
	switch r {
	case ResolutionFine:
		return "0.1"
	case ResolutionCoarse:
		return "1.0"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the resolution as its step in degrees.
func (r Resolution) MarshalJSON() ([]byte, error) {
	if r == ResolutionUnknown {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(r.Step(), 'f', 1, 64)), nil
}

// Unit is the temperature unit the device is configured for.
type Unit byte

// Temperature units as stored on the wire.
const (
	UnitUnknown    Unit = '?'
	UnitCelsius    Unit = 'C'
	UnitFahrenheit Unit = 'F'
)

// UnitFromByte maps a wire byte to a Unit. Anything other than 'C' or 'F'
// is reported as UnitUnknown.
func UnitFromByte(b byte) Unit {
	switch Unit(b) {
	case UnitCelsius, UnitFahrenheit:
		return Unit(b)
	default:
		return UnitUnknown
	}
}

// ParseUnit parses "C" or "F" (case-insensitive).
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "C", "c":
		return UnitCelsius, nil
	case "F", "f":
		return UnitFahrenheit, nil
	default:
		return UnitUnknown, fmt.Errorf("%w: unit must be C or F, got %q", ErrValidation, s)
	}
}

// String returns the one-letter unit.
func (u Unit) String() string {
	return string(rune(u))
}

// MarshalJSON encodes the unit as a one-letter string.
func (u Unit) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// Reading is a decoded temperature.
//
// A reading is one of:
//   - absent (Present == false): no sensor connected
//   - +Inf: open circuit
//   - -Inf: short circuit
//   - a finite value in device units
type Reading struct {
	Value   float64
	Present bool
}

// Measured returns a present, finite reading.
func Measured(v float64) Reading {
	return Reading{Value: v, Present: true}
}

// Absent returns the reading of an unconnected probe.
func Absent() Reading {
	return Reading{}
}

// OpenCircuit reports whether the probe wiring is broken.
func (r Reading) OpenCircuit() bool {
	return r.Present && math.IsInf(r.Value, 1)
}

// ShortCircuit reports whether the probe wiring is shorted.
func (r Reading) ShortCircuit() bool {
	return r.Present && math.IsInf(r.Value, -1)
}

// Valid reports whether the reading is an actual measurement.
func (r Reading) Valid() bool {
	return r.Present && !math.IsInf(r.Value, 0) && !math.IsNaN(r.Value)
}

// String formats the reading for display.
func (r Reading) String() string {
	switch {
	case !r.Present:
		return "no sensor"
	case r.OpenCircuit():
		return "open circuit"
	case r.ShortCircuit():
		return "short circuit"
	default:
		return strconv.FormatFloat(r.Value, 'f', 1, 64)
	}
}

// MarshalJSON encodes a measurement as a number, an absent sensor as null and
// wiring faults as the strings "open_circuit" and "short_circuit".
func (r Reading) MarshalJSON() ([]byte, error) {
	switch {
	case !r.Present:
		return []byte("null"), nil
	case r.OpenCircuit():
		return []byte(`"open_circuit"`), nil
	case r.ShortCircuit():
		return []byte(`"short_circuit"`), nil
	default:
		return json.Marshal(r.Value)
	}
}

// DecodeInt16 decodes a big-endian two's complement 16-bit integer.
func DecodeInt16(msb, lsb byte) int16 {
	return int16(uint16(msb)<<byteShift | uint16(lsb))
}

// EncodeInt16 encodes v as big-endian two's complement.
//
// Returns:
//   - msb, lsb: Encoded bytes
//   - error: ErrRange if v does not fit in 16 bits
func EncodeInt16(v int) (msb, lsb byte, err error) {
	if v < math.MinInt16 || v > math.MaxInt16 {
		return 0, 0, fmt.Errorf("%w: %d does not fit in int16", ErrRange, v)
	}
	u := uint16(int16(v)) //nolint:gosec // range checked above
	return byte(u >> byteShift), byte(u), nil
}

// DecodeBCD decodes one packed BCD byte (two decimal digits).
//
// Returns:
//   - int: Value 0-99
//   - error: ErrFormat if either nibble is greater than 9
func DecodeBCD(b byte) (int, error) {
	hi := int(b >> 4)
	lo := int(b & nibbleMask)
	if hi > 9 || lo > 9 {
		return 0, fmt.Errorf("%w: 0x%02X is not valid BCD", ErrFormat, b)
	}
	return hi*10 + lo, nil
}

// EncodeBCD encodes n (0-99) as one packed BCD byte.
func EncodeBCD(n int) (byte, error) {
	if n < 0 || n > bcdMax {
		return 0, fmt.Errorf("%w: %d cannot be encoded as BCD (0-99)", ErrRange, n)
	}
	return byte(n/10)<<4 | byte(n%10), nil
}

// DecodeTemperature decodes a raw temperature pair.
//
// Sentinels are tested on the raw value before scaling, so a real reading
// that happens to scale to 99.9 or 100.0 is never mistaken for a fault.
//
// Parameters:
//   - msb, lsb: Raw big-endian bytes
//   - res: Device resolution (ResolutionUnknown is treated as 1.0°)
func DecodeTemperature(msb, lsb byte, res Resolution) Reading {
	raw := DecodeInt16(msb, lsb)
	switch raw {
	case rawNoSensor:
		return Absent()
	case rawOpenCircuit:
		return Measured(math.Inf(1))
	case rawShortCircuit:
		return Measured(math.Inf(-1))
	}
	return Measured(float64(raw) / res.divisor())
}

// EncodeTemperature is the inverse of DecodeTemperature.
//
// Finite values are rounded to the nearest step of res. A value that would
// land on a sentinel raw code, or outside int16, is rejected with ErrRange.
func EncodeTemperature(r Reading, res Resolution) (msb, lsb byte, err error) {
	var raw int
	switch {
	case !r.Present:
		raw = rawNoSensor
	case r.OpenCircuit():
		raw = rawOpenCircuit
	case r.ShortCircuit():
		raw = rawShortCircuit
	case math.IsNaN(r.Value):
		return 0, 0, fmt.Errorf("%w: temperature is NaN", ErrRange)
	default:
		scaled := math.Round(r.Value * res.divisor())
		if scaled < math.MinInt16 || scaled > math.MaxInt16 {
			return 0, 0, fmt.Errorf("%w: temperature %g out of range", ErrRange, r.Value)
		}
		raw = int(scaled)
		if raw == rawNoSensor || raw == rawOpenCircuit || raw == rawShortCircuit {
			return 0, 0, fmt.Errorf("%w: temperature %g collides with a fault code", ErrRange, r.Value)
		}
	}
	return EncodeInt16(raw)
}

// DecodeHumidity decodes raw humidity into %RH. Humidity is always reported
// in tenths of a percent and carries no fault codes.
func DecodeHumidity(msb, lsb byte) float64 {
	return float64(DecodeInt16(msb, lsb)) / humidityDivisor
}

// EncodeHumidity encodes %RH (rounded to 0.1) as a raw pair.
func EncodeHumidity(v float64) (msb, lsb byte, err error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, 0, fmt.Errorf("%w: humidity %g is not finite", ErrRange, v)
	}
	scaled := math.Round(v * humidityDivisor)
	if scaled < math.MinInt16 || scaled > math.MaxInt16 {
		return 0, 0, fmt.Errorf("%w: humidity %g out of range", ErrRange, v)
	}
	return EncodeInt16(int(scaled))
}
