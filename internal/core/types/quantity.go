package types

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// QuantityPlaces is the number of fractional digits a stock quantity carries.
const QuantityPlaces = 4

// Quantity counts stock units in ten-thousandths. It is stored as BIGINT so
// running quantities add up without rounding.
type Quantity int64

var quantityUnit = decimal.New(1, QuantityPlaces)

// NewQuantity builds a whole-unit quantity.
func NewQuantity(units int64) Quantity { return Quantity(units * quantityUnit.IntPart()) }

// QuantityFromScaled wraps a value already counted in ten-thousandths.
func QuantityFromScaled(v int64) Quantity { return Quantity(v) }

// QuantityFromDecimal converts d, rejecting digits beyond QuantityPlaces
// instead of dropping them from the ledger silently.
func QuantityFromDecimal(d decimal.Decimal) (Quantity, error) {
	scaled := d.Shift(QuantityPlaces)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("quantity %s has more than %d decimal places", d, QuantityPlaces)
	}
	if scaled.Abs().GreaterThan(decimal.New(1, 18)) {
		return 0, fmt.Errorf("quantity %s out of range", d)
	}
	return Quantity(scaled.IntPart()), nil
}

// ParseQuantity parses a decimal string such as "12.5".
func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(string(bytes.TrimSpace([]byte(s))))
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return QuantityFromDecimal(d)
}

// Decimal returns the exact decimal value of q.
func (q Quantity) Decimal() decimal.Decimal { return decimal.New(int64(q), -QuantityPlaces) }

// Mul prices q at a unit rate.
func (q Quantity) Mul(rate Money) Money { return q.Decimal().Mul(rate) }

// Float64 is for spreadsheet export only.
func (q Quantity) Float64() float64 { return q.Decimal().InexactFloat64() }

func (q Quantity) IsZero() bool     { return q == 0 }
func (q Quantity) IsPositive() bool { return q > 0 }
func (q Quantity) IsNegative() bool { return q < 0 }
func (q Quantity) Neg() Quantity    { return -q }

func (q Quantity) Abs() Quantity {
	if q < 0 {
		return -q
	}
	return q
}

// String formats q with all four places, e.g. "-2.5000".
func (q Quantity) String() string { return q.Decimal().StringFixed(QuantityPlaces) }

// MarshalJSON writes q as a JSON number.
func (q Quantity) MarshalJSON() ([]byte, error) { return []byte(q.String()), nil }

// UnmarshalJSON accepts a JSON number or a numeric string. null is zero.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*q = 0
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("parse quantity: %w", err)
	}
	v, err := QuantityFromDecimal(d)
	if err != nil {
		return err
	}
	*q = v
	return nil
}
