package feature

import (
	"encoding/json"
	"math"
	"strconv"
)

// Kind is the element type of a feature column as stored in Feature.dat.
type Kind uint8

const (
	KindF32 Kind = iota + 1
	KindI32
	KindI16
)

// Size returns the encoded width in bytes.
func (k Kind) Size() int {
	switch k {
	case KindF32, KindI32:
		return 4
	case KindI16:
		return 2
	default:
		return 0
	}
}

// Code returns the single-character type code used in definition files.
func (k Kind) Code() string {
	switch k {
	case KindF32:
		return "f"
	case KindI32:
		return "i"
	case KindI16:
		return "s"
	default:
		return "?"
	}
}

func (k Kind) String() string {
	switch k {
	case KindF32:
		return "float32"
	case KindI32:
		return "int32"
	case KindI16:
		return "int16"
	default:
		return "unknown"
	}
}

// ParseKind maps a type code ("f", "i", "s") to a Kind.
func ParseKind(code string) (Kind, bool) {
	switch code {
	case "f":
		return KindF32, true
	case "i":
		return KindI32, true
	case "s":
		return KindI16, true
	}
	return 0, false
}

// Value is one decoded element: exactly one of F32, I32 or I16 depending on Kind.
type Value struct {
	kind Kind
	bits uint32
}

// F32 wraps a float32.
func F32(v float32) Value { return Value{kind: KindF32, bits: math.Float32bits(v)} }

// I32 wraps an int32.
func I32(v int32) Value { return Value{kind: KindI32, bits: uint32(v)} }

// I16 wraps an int16.
func I16(v int16) Value { return Value{kind: KindI16, bits: uint32(uint16(v))} }

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// Float32 coerces the value to float32.
func (v Value) Float32() float32 {
	switch v.kind {
	case KindF32:
		return math.Float32frombits(v.bits)
	case KindI32:
		return float32(int32(v.bits))
	case KindI16:
		return float32(int16(uint16(v.bits)))
	}
	return 0
}

// Int32 coerces the value to int32, truncating floats toward zero.
func (v Value) Int32() int32 {
	switch v.kind {
	case KindF32:
		return int32(math.Float32frombits(v.bits))
	case KindI32:
		return int32(v.bits)
	case KindI16:
		return int32(int16(uint16(v.bits)))
	}
	return 0
}

// Int16 coerces the value to int16 with the usual narrowing wrap-around.
func (v Value) Int16() int16 {
	switch v.kind {
	case KindF32:
		return int16(int32(math.Float32frombits(v.bits)))
	case KindI32, KindI16:
		return int16(uint16(v.bits))
	}
	return 0
}

// Float64 widens the value for arithmetic.
func (v Value) Float64() float64 {
	if v.kind == KindF32 {
		return float64(math.Float32frombits(v.bits))
	}
	return float64(v.Int32())
}

// String renders the shortest decimal form that round-trips for the value's width.
func (v Value) String() string {
	if v.kind == KindF32 {
		return strconv.FormatFloat(float64(math.Float32frombits(v.bits)), 'g', -1, 32)
	}
	return strconv.FormatInt(int64(v.Int32()), 10)
}

// MarshalJSON emits the value as a plain JSON number.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindF32 {
		f := math.Float32frombits(v.bits)
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return []byte("null"), nil
		}
		return json.Marshal(f)
	}
	return []byte(strconv.FormatInt(int64(v.Int32()), 10)), nil
}
