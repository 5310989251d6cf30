// Package money wraps shopspring/decimal with the rounding rules used for
// prices, line totals and gateway minor units.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// LineTotal is unit price times quantity, in cents.
func LineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return Round2(unit.Mul(decimal.NewFromInt(int64(qty))))
}

// ToMinorUnits converts an amount to the gateway's integer minor unit (x100).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -2)
}

// RelativeDrift returns |current-reference| / reference. A zero reference has
// no meaningful drift and reports zero.
func RelativeDrift(current, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return current.Sub(reference).Abs().Div(reference.Abs())
}

// Parse reads a decimal string such as "19.99".
func Parse(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustParse is for constants and tests.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
