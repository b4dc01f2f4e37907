package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/pkg/utils"
)

var (
	lakh  = decimal.NewFromInt(100000)
	crore = decimal.NewFromInt(10000000)
)

// FormatINR formats an amount in Indian currency format (lakhs, crores).
func FormatINR(amount decimal.Decimal) string {
	return utils.FormatINR(amount)
}

// FormatPercent formats a fraction (0.02) as a percentage (2.00%).
func FormatPercent(fraction decimal.Decimal) string {
	return utils.FormatPercent(fraction.Mul(decimal.NewFromInt(100)))
}

// FormatQuantity formats a contract count with Indian numbering.
func FormatQuantity(qty int64) string {
	return utils.FormatQuantity(qty)
}

// FormatCompact formats an amount in lakhs or crores once it is large
// enough, otherwise in full.
func FormatCompact(amount decimal.Decimal) string {
	abs := amount.Abs()
	switch {
	case abs.GreaterThanOrEqual(crore):
		return amount.Div(crore).StringFixed(2) + " Cr"
	case abs.GreaterThanOrEqual(lakh):
		return amount.Div(lakh).StringFixed(2) + " L"
	}
	return FormatINR(amount)
}

// FormatOI formats open interest in compact form.
func FormatOI(oi int64) string {
	switch {
	case oi >= 10000000:
		return fmt.Sprintf("%.2f Cr", float64(oi)/10000000)
	case oi >= 100000:
		return fmt.Sprintf("%.2f L", float64(oi)/100000)
	case oi >= 1000:
		return fmt.Sprintf("%.2f K", float64(oi)/1000)
	}
	return fmt.Sprintf("%d", oi)
}

// FormatPCR formats the put-call OI ratio of a chain, or "-" when there is
// no call OI.
func FormatPCR(chain *models.OptionChain) string {
	if chain == nil {
		return "-"
	}
	calls, puts := chain.TotalOI()
	if calls == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", float64(puts)/float64(calls))
}

// FormatScore formats a directional score in [-1, 1] with sign and bias.
func FormatScore(score float64) string {
	switch {
	case score > 0:
		return fmt.Sprintf("+%.2f bullish", score)
	case score < 0:
		return fmt.Sprintf("%.2f bearish", score)
	}
	return "0.00 neutral"
}

// FormatConfidence formats a confidence in [0, 1] as a percentage.
func FormatConfidence(conf float64) string {
	return fmt.Sprintf("%.0f%%", conf*100)
}

// FormatTime formats a time in IST.
func FormatTime(t time.Time) string {
	return t.In(calendar.IST).Format("15:04:05")
}

// FormatDateTime formats a datetime in IST.
func FormatDateTime(t time.Time) string {
	return t.In(calendar.IST).Format("02-Jan-2006 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
