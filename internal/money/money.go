// Package money converts between decimal currency amounts and the integer
// lowest-unit representation used on the wire (e.g. grosze for PLN).
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrSubunitAmount is returned for amounts with sub-unit precision.
	// The gateway has no representation for them, so they are rejected
	// instead of silently truncated.
	ErrSubunitAmount = errors.New("amount has sub-unit precision")

	// ErrNegativeAmount is returned for negative charge amounts.
	ErrNegativeAmount = errors.New("amount is negative")
)

var hundred = decimal.NewFromInt(100)

// ToLowestUnit converts a decimal amount to the integer lowest currency unit.
func ToLowestUnit(d decimal.Decimal) (int64, error) {
	if d.IsNegative() {
		return 0, ErrNegativeAmount
	}

	units := d.Mul(hundred)
	if !units.IsInteger() {
		return 0, ErrSubunitAmount
	}

	return units.IntPart(), nil
}

// FromLowestUnit converts an integer lowest-unit amount back to a decimal
// with two fractional digits. FromLowestUnit is the exact inverse of
// ToLowestUnit for every non-negative amount.
func FromLowestUnit(m int64) decimal.Decimal {
	return decimal.New(m, -2)
}
