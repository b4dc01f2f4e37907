package cli

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/models"
)

var indianGrouping = regexp.MustCompile(`^(\d{1,2},)*\d{1,3}$`)

// parseINR reverses FormatINR.
func parseINR(s string) (decimal.Decimal, error) {
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "₹")
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return d, err
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func TestFormatINR_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	// Property: every amount renders with the rupee sign, two decimals and
	// Indian digit grouping
	properties.Property("FormatINR produces Indian grouping", prop.ForAll(
		func(paise int64) bool {
			amount := decimal.New(paise, -2)
			formatted := FormatINR(amount)

			prefix := "₹"
			if amount.IsNegative() {
				prefix = "-₹"
			}
			if !strings.HasPrefix(formatted, prefix) {
				t.Logf("prefix for %s: %s", amount, formatted)
				return false
			}

			parts := strings.Split(strings.TrimPrefix(formatted, prefix), ".")
			if len(parts) != 2 || len(parts[1]) != 2 {
				t.Logf("decimals for %s: %s", amount, formatted)
				return false
			}
			return indianGrouping.MatchString(parts[0])
		},
		gen.Int64Range(-1e14, 1e14),
	))

	// Property: formatting paise amounts loses nothing
	properties.Property("FormatINR round-trips exactly", prop.ForAll(
		func(paise int64) bool {
			amount := decimal.New(paise, -2)
			parsed, err := parseINR(FormatINR(amount))
			return err == nil && parsed.Equal(amount)
		},
		gen.Int64Range(-1e14, 1e14),
	))

	// Property: FormatCompact switches to lakhs and crores at the right size
	properties.Property("FormatCompact uses correct units", prop.ForAll(
		func(rupees int64) bool {
			amount := decimal.NewFromInt(rupees)
			formatted := FormatCompact(amount)
			abs := amount.Abs()

			switch {
			case abs.GreaterThanOrEqual(crore):
				return strings.HasSuffix(formatted, " Cr")
			case abs.GreaterThanOrEqual(lakh):
				return strings.HasSuffix(formatted, " L")
			default:
				return strings.HasPrefix(formatted, "₹") || strings.HasPrefix(formatted, "-₹")
			}
		},
		gen.Int64Range(-1e10, 1e10),
	))

	// Property: FormatOI picks K, L or Cr by magnitude
	properties.Property("FormatOI uses correct units", prop.ForAll(
		func(oi int64) bool {
			formatted := FormatOI(oi)
			switch {
			case oi >= 10000000:
				return strings.HasSuffix(formatted, " Cr")
			case oi >= 100000:
				return strings.HasSuffix(formatted, " L")
			case oi >= 1000:
				return strings.HasSuffix(formatted, " K")
			default:
				return !strings.ContainsAny(formatted, "KLC")
			}
		},
		gen.Int64Range(0, 1e12),
	))

	properties.TestingRun(t)
}

func TestFormatINRExamples(t *testing.T) {
	testCases := []struct {
		amount   string
		expected string
	}{
		{"0", "₹0.00"},
		{"1", "₹1.00"},
		{"1000", "₹1,000.00"},
		{"100000", "₹1,00,000.00"},
		{"10000000", "₹1,00,00,000.00"},
		{"-1234.56", "-₹1,234.56"},
		{"12345678.90", "₹1,23,45,678.90"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := FormatINR(decimal.RequireFromString(tc.amount))
			if result != tc.expected {
				t.Errorf("FormatINR(%s) = %s, want %s", tc.amount, result, tc.expected)
			}
		})
	}
}

func TestFormatPercentExamples(t *testing.T) {
	testCases := []struct {
		fraction string
		expected string
	}{
		{"0", "0.00%"},
		{"0.02", "2.00%"},
		{"0.15", "15.00%"},
		{"1", "100.00%"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := FormatPercent(decimal.RequireFromString(tc.fraction))
			if result != tc.expected {
				t.Errorf("FormatPercent(%s) = %s, want %s", tc.fraction, result, tc.expected)
			}
		})
	}
}

func TestFormatPCR(t *testing.T) {
	spot := decimal.NewFromInt(22000)
	chain := &models.OptionChain{
		Underlying: "NIFTY",
		Spot:       spot,
		Quotes: []models.StrikeQuote{
			models.NewStrikeQuote("A", decimal.NewFromInt(22100), models.OptionCall, decimal.NewFromInt(40), 1000, spot),
			models.NewStrikeQuote("B", decimal.NewFromInt(21900), models.OptionPut, decimal.NewFromInt(35), 1500, spot),
		},
	}
	if got := FormatPCR(chain); got != "1.50" {
		t.Errorf("FormatPCR = %s, want 1.50", got)
	}
	if got := FormatPCR(&models.OptionChain{}); got != "-" {
		t.Errorf("FormatPCR(empty) = %s, want -", got)
	}
	if got := FormatPCR(nil); got != "-" {
		t.Errorf("FormatPCR(nil) = %s, want -", got)
	}
}

func TestFormatScore(t *testing.T) {
	if got := FormatScore(0.6); got != "+0.60 bullish" {
		t.Errorf("FormatScore(0.6) = %q", got)
	}
	if got := FormatScore(-0.25); got != "-0.25 bearish" {
		t.Errorf("FormatScore(-0.25) = %q", got)
	}
	if got := FormatScore(0); got != "0.00 neutral" {
		t.Errorf("FormatScore(0) = %q", got)
	}
}

func TestTruncateString(t *testing.T) {
	if got := TruncateString("NIFTY26O2722100CE", 10); got != "NIFTY26..." {
		t.Errorf("TruncateString = %q", got)
	}
	if got := TruncateString("NIFTY", 10); got != "NIFTY" {
		t.Errorf("TruncateString short = %q", got)
	}
}
