// Package utils provides small decimal helpers used by the CLI.
package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampDecimal clamps value to [min, max].
func ClampDecimal(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}

// FormatMoney formats a decimal with the conventional precision for its
// currency, for the status CLI's portfolio print.
func FormatMoney(d decimal.Decimal, currency string) string {
	switch strings.ToUpper(currency) {
	case "USD", "USDT", "USDC":
		return "$" + d.StringFixed(2)
	case "BTC":
		return d.StringFixed(8) + " BTC"
	default:
		return d.String() + " " + currency
	}
}
