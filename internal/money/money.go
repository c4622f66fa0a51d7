package money

import "github.com/shopspring/decimal"

// All amounts in this core are decimal with currency minor-unit precision.
// Persistence uses integer cents (minor units); arithmetic stays in decimal
// so intermediate tax/discount math does not accumulate float error.

var Zero = decimal.Zero

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func Cents(d decimal.Decimal) int64 {
	return d.Mul(decimal.New(100, 0)).IntPart()
}

// RoundCurrency rounds to 2 decimal places with round-half-to-even, so
// repeated quote/confirm calculations cannot drift apart and rounding carries
// no systematic bias.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// ClampFloor returns d, floored at zero.
func ClampFloor(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
