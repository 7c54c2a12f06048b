// Package money converts between decimal amounts used inside the service and
// the integer minor units (cents) the payment gateway speaks.
package money

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Scale is the number of minor units per major unit.
const Scale = 2

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrAmountOverflow = errors.New("amount does not fit in minor units")
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ToMinorUnits returns round(amount * 100), rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	minor := amount.Shift(Scale).Round(0)
	if minor.GreaterThan(maxMinor) {
		return 0, ErrAmountOverflow
	}
	return minor.IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits for two-place amounts.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// Normalize rounds an amount to the currency scale.
func Normalize(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Scale)
}

// Format renders an amount with exactly two decimal places.
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(Scale)
}
