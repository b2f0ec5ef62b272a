package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Opt is an optional float64. The zero value is absent.
// It encodes to JSON as a number or null.
type Opt struct {
	Value float64
	Valid bool
}

// Some wraps v. NaN and ±Inf are treated as absent.
func Some(v float64) Opt {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Opt{}
	}
	return Opt{Value: v, Valid: true}
}

// None returns an absent value.
func None() Opt { return Opt{} }

// Get returns the value and whether it is present.
func (o Opt) Get() (float64, bool) { return o.Value, o.Valid }

// Or returns the value, or def when absent.
func (o Opt) Or(def float64) float64 {
	if !o.Valid {
		return def
	}
	return o.Value
}

// Ptr returns nil when absent.
func (o Opt) Ptr() *float64 {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// String formats the value with 2 decimals, or "n/a".
func (o Opt) String() string {
	if !o.Valid {
		return "n/a"
	}
	return strconv.FormatFloat(o.Value, 'f', 2, 64)
}

func (o Opt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Opt) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Opt{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
