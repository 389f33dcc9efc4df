package model

import (
	"math"
	"strconv"
)

// Value is an optional indicator reading. The zero Value is undefined.
// Undefined values never compare as numbers; callers must check Valid.
type Value struct {
	v  float64
	ok bool
}

// Some wraps a float. NaN and infinities become undefined.
func Some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{v: v, ok: true}
}

// None is the undefined value.
func None() Value { return Value{} }

// Valid reports whether the value is defined.
func (x Value) Valid() bool { return x.ok }

// Get returns the float and whether it is defined.
func (x Value) Get() (float64, bool) { return x.v, x.ok }

// Float returns the float, or NaN when undefined. Use at output boundaries only.
func (x Value) Float() float64 {
	if !x.ok {
		return math.NaN()
	}
	return x.v
}

func (x Value) String() string {
	if !x.ok {
		return "undefined"
	}
	return strconv.FormatFloat(x.v, 'g', -1, 64)
}

// MarshalJSON encodes undefined as null.
func (x Value) MarshalJSON() ([]byte, error) {
	if !x.ok {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, x.v, 'f', -1, 64), nil
}

// UnmarshalJSON accepts a number or null.
func (x *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*x = Value{}
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*x = Some(f)
	return nil
}
