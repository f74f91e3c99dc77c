package m307

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// FieldKind selects the codec used for a record field.
type FieldKind int

// Field kinds.
const (
	KindInt16 FieldKind = iota + 1 // big-endian two's complement, 2 bytes
	KindUint8                      // unsigned byte
	KindBool                       // byte, nonzero is true
	KindUnit                       // 'C' or 'F'
	KindASCII                      // fixed-width NUL-padded text
)

// String returns the kind name.
func (k FieldKind) String() string {
	switch k {
	case KindInt16:
		return "int16"
	case KindUint8:
		return "uint8"
	case KindBool:
		return "bool"
	case KindUnit:
		return "unit"
	case KindASCII:
		return "ascii"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// width returns the fixed width of the kind, or 0 for variable-width text.
func (k FieldKind) width() int {
	switch k {
	case KindInt16:
		return 2
	case KindUint8, KindBool, KindUnit:
		return 1
	default:
		return 0
	}
}

// Field describes one named value inside a 60-byte record.
// Offset is a packet offset (the command header occupies 0-3).
type Field struct {
	Name   string
	Offset int
	Width  int
	Kind   FieldKind
}

func (f Field) end() int { return f.Offset + f.Width }

func (f Field) bytes(r *Record) []byte {
	return r[f.Offset:f.end()]
}

// intValue reads an int16 or uint8 field.
func (f Field) intValue(r *Record) int {
	b := f.bytes(r)
	if f.Kind == KindInt16 {
		return int(DecodeInt16(b[0], b[1]))
	}
	return int(b[0])
}

// setInt writes an int16 or uint8 field, rejecting values that do not fit.
func (f Field) setInt(r *Record, v int) error {
	if f.intValue(r) == v {
		return nil
	}
	b := f.bytes(r)
	if f.Kind == KindInt16 {
		msb, lsb, err := EncodeInt16(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrValidation, f.Name, err)
		}
		b[0], b[1] = msb, lsb
		return nil
	}
	if v < 0 || v > math.MaxUint8 {
		return fmt.Errorf("%w: %s: %w: %d does not fit in a byte", ErrValidation, f.Name, ErrRange, v)
	}
	b[0] = byte(v)
	return nil
}

func (f Field) boolValue(r *Record) bool {
	return r[f.Offset] != 0
}

// setBool writes 1 or 0. A byte that already reads as v is kept, so a
// firmware value such as 0xFF survives an unrelated update.
func (f Field) setBool(r *Record, v bool) {
	if f.boolValue(r) == v {
		return
	}
	if v {
		r[f.Offset] = 1
	} else {
		r[f.Offset] = 0
	}
}

func (f Field) unitValue(r *Record) Unit {
	return UnitFromByte(r[f.Offset])
}

func (f Field) setUnit(r *Record, u Unit) error {
	if f.unitValue(r) == u {
		return nil
	}
	if u != UnitCelsius && u != UnitFahrenheit {
		return fmt.Errorf("%w: %s must be C or F, got %q", ErrValidation, f.Name, u.String())
	}
	r[f.Offset] = byte(u)
	return nil
}

// stringValue reads a text field. Reading stops at the first NUL,
// non-printable bytes are dropped and surrounding spaces trimmed.
func (f Field) stringValue(r *Record) string {
	var sb strings.Builder
	for _, c := range f.bytes(r) {
		if c == 0 {
			break
		}
		if c >= ' ' && c <= '~' {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

// setString writes a text field, truncating to the field width and
// NUL-filling the remainder. Text that already reads back as s is left
// untouched, padding included.
func (f Field) setString(r *Record, s string) error {
	if f.stringValue(r) == s {
		return nil
	}
	for i := 0; i < len(s); i++ {
		if s[i] < ' ' || s[i] > '~' {
			return fmt.Errorf("%w: %s must be printable ASCII", ErrValidation, f.Name)
		}
	}
	b := f.bytes(r)
	clear(b)
	copy(b, s)
	return nil
}

// decode reads the field as its natural Go type.
func (f Field) decode(r *Record) any {
	switch f.Kind {
	case KindInt16, KindUint8:
		return f.intValue(r)
	case KindBool:
		return f.boolValue(r)
	case KindUnit:
		return f.unitValue(r)
	default:
		return f.stringValue(r)
	}
}

// encode writes v into the field after checking its type.
func (f Field) encode(r *Record, v any) error {
	switch f.Kind {
	case KindInt16, KindUint8:
		n, ok := toInt(v)
		if !ok {
			return fmt.Errorf("%w: %s expects an integer, got %T", ErrValidation, f.Name, v)
		}
		return f.setInt(r, n)
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: %s expects a bool, got %T", ErrValidation, f.Name, v)
		}
		f.setBool(r, b)
		return nil
	case KindUnit:
		switch u := v.(type) {
		case Unit:
			return f.setUnit(r, u)
		case string:
			parsed, err := ParseUnit(u)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			return f.setUnit(r, parsed)
		default:
			return fmt.Errorf("%w: %s expects a unit, got %T", ErrValidation, f.Name, v)
		}
	default:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s expects a string, got %T", ErrValidation, f.Name, v)
		}
		return f.setString(r, s)
	}
}

// toInt accepts any Go integer type.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	default:
		return 0, false
	}
}

// Layout is the declarative field table of one record type.
type Layout struct {
	Name   string
	Fields []Field
}

// Field looks up a field by name.
func (l Layout) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the field names in table order.
func (l Layout) Names() []string {
	names := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		names[i] = f.Name
	}
	return names
}

// Validate checks that every field lies inside the payload area, has the
// width its kind requires, has a unique name and does not overlap another.
func (l Layout) Validate() error {
	seen := make(map[string]bool, len(l.Fields))
	sorted := slices.Clone(l.Fields)
	slices.SortFunc(sorted, func(a, b Field) int { return a.Offset - b.Offset })

	for i, f := range sorted {
		if seen[f.Name] {
			return fmt.Errorf("layout %s: duplicate field %q", l.Name, f.Name)
		}
		seen[f.Name] = true

		if f.Offset < CommandSize || f.end() > PacketSize || f.Width <= 0 {
			return fmt.Errorf("layout %s: field %q [%d,%d) outside payload", l.Name, f.Name, f.Offset, f.end())
		}
		if w := f.Kind.width(); w != 0 && w != f.Width {
			return fmt.Errorf("layout %s: field %q is %s but %d bytes wide", l.Name, f.Name, f.Kind, f.Width)
		}
		if i > 0 && sorted[i-1].end() > f.Offset {
			return fmt.Errorf("layout %s: fields %q and %q overlap", l.Name, sorted[i-1].Name, f.Name)
		}
	}
	return nil
}

// Decode returns every field of rec keyed by name.
//
// Integer fields decode to int, bool fields to bool, unit fields to Unit
// and text fields to string.
func (l Layout) Decode(rec Record) map[string]any {
	out := make(map[string]any, len(l.Fields))
	for _, f := range l.Fields {
		out[f.Name] = f.decode(&rec)
	}
	return out
}

// Encode returns a copy of base with the named fields overwritten.
//
// Bytes not covered by a named field keep their value from base, so a
// partial update never disturbs reserved or unknown regions. A field whose
// value already decodes to the given one keeps its bytes, which makes
// Encode(rec, Decode(rec)) return rec unchanged. Unknown names
// and values of the wrong type fail with ErrValidation and leave nothing
// half-written.
func (l Layout) Encode(base Record, values map[string]any) (Record, error) {
	out := base
	for name, v := range values {
		f, ok := l.Field(name)
		if !ok {
			return base, fmt.Errorf("%w: layout %s has no field %q", ErrValidation, l.Name, name)
		}
		if err := f.encode(&out, v); err != nil {
			return base, err
		}
	}
	return out, nil
}
