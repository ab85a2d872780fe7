package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the fixed-point scale of every currency amount.
const MoneyPlaces = 2

// IsMoney reports whether d is a non-negative amount with at most two decimal places.
func IsMoney(d decimal.Decimal) bool {
	return !d.IsNegative() && d.Equal(d.Round(MoneyPlaces))
}

// Money normalizes d to the currency scale.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// MustMoney parses a literal amount. Panics on malformed input; meant for
// constants and tests.
func MustMoney(s string) decimal.Decimal {
	return Money(decimal.RequireFromString(s))
}
