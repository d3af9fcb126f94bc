package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Amount is an optional monetary value as reported by the backend.
// It is Valid only when the JSON value was a finite number; strings, null
// and absent fields decode to an invalid Amount instead of failing the
// whole payload, because the backend is not consistent about totals.
type Amount struct {
	Value float64
	Valid bool
}

// AmountOf returns a valid Amount. Non-finite input yields an invalid Amount.
func AmountOf(v float64) Amount {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Amount{}
	}
	return Amount{Value: v, Valid: true}
}

// Or returns the value when valid, otherwise fallback.
func (a Amount) Or(fallback float64) float64 {
	if a.Valid {
		return a.Value
	}
	return fallback
}

// UnmarshalJSON accepts only JSON numbers; anything else leaves the Amount invalid.
func (a *Amount) UnmarshalJSON(data []byte) error {
	*a = Amount{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == 'n' || data[0] == '"' || data[0] == '{' || data[0] == '[' ||
		data[0] == 't' || data[0] == 'f' {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	*a = AmountOf(f)
	return nil
}

// MarshalJSON writes a number when valid and null otherwise.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(a.Value)
}

// String renders the amount with exactly two decimals ("" when invalid).
func (a Amount) String() string {
	if !a.Valid {
		return ""
	}
	return FormatAmount(a.Value)
}

// FormatAmount renders v with exactly two decimal places, the way totals
// are displayed. Examples: 7.5 → "7.50", 99 → "99.00".
func FormatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
