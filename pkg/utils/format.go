// Package utils provides shared formatting and retry helpers.
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatINR formats an amount with the rupee sign and Indian digit grouping
// (lakhs, crores), rounded to paise.
func FormatINR(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	str := amount.Abs().StringFixed(2)

	parts := strings.SplitN(str, ".", 2)
	result := "₹" + groupIndian(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// groupIndian inserts commas into an integer string: last three digits,
// then groups of two.
func groupIndian(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]

	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}

// FormatPnL formats P&L with an explicit sign.
func FormatPnL(pnl decimal.Decimal) string {
	formatted := FormatINR(pnl)
	if pnl.IsPositive() {
		return "+" + formatted
	}
	return formatted
}

// FormatPercent formats a percentage with two decimals.
func FormatPercent(value decimal.Decimal) string {
	return value.StringFixed(2) + "%"
}

// FormatQuantity formats a contract count with Indian grouping.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + groupIndian(fmt.Sprintf("%d", -qty))
	}
	return groupIndian(fmt.Sprintf("%d", qty))
}
