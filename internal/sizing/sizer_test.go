package sizing

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/budget"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func candidate(ltp string) models.StrikeQuote {
	return models.NewStrikeQuote("NIFTY26OCT22100CE", dec("22100"), models.OptionCall, dec(ltp), 1_500_000, dec("22000"))
}

func smallAccount() Params {
	return Params{
		Budget: models.CapitalBudget{
			TotalCapital:       dec("3000"),
			MaxRiskPerTradePct: dec("0.02"),
			MaxPositionPct:     dec("0.15"),
			MaxTradesPerDay:    5,
			MaxDailyLoss:       dec("150"),
		},
		LotMultiplier:    1,
		StopLossFraction: dec("0.25"),
		TargetFraction:   dec("0.5"),
	}
}

type stubGate struct {
	adm     budget.Admission
	calls   int
	risk    decimal.Decimal
	capital decimal.Decimal
}

func (g *stubGate) Admit(risk, capital decimal.Decimal) budget.Admission {
	g.calls++
	g.risk, g.capital = risk, capital
	return g.adm
}

func TestQuote_RiskCeilingBinds(t *testing.T) {
	// Risk leg: 60 / 0.25 = 240 -> 6 lots. Position leg: 450 -> 11 lots.
	s := NewSizer(smallAccount())

	d, err := s.Quote(candidate("40"), 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Lots != 6 {
		t.Fatalf("lots = %d, want 6", d.Lots)
	}
	if !d.PositionValue.Equal(dec("240")) || !d.RiskAmount.Equal(dec("60")) {
		t.Errorf("position=%s risk=%s", d.PositionValue, d.RiskAmount)
	}
	if !d.StopLossPrice.Equal(dec("30")) || !d.TargetPrice.Equal(dec("60")) {
		t.Errorf("stop=%s target=%s", d.StopLossPrice, d.TargetPrice)
	}
	if !s.MaxAffordable().Equal(dec("240")) {
		t.Errorf("max affordable = %s", s.MaxAffordable())
	}
}

func TestQuote_PositionCeilingBinds(t *testing.T) {
	p := smallAccount()
	p.StopLossFraction = dec("0.01")
	p.TargetFraction = dec("0.02")
	s := NewSizer(p)

	// Risk leg allows 6000; position leg allows 450 -> floor(450/40) = 11.
	d, err := s.Quote(candidate("40"), 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Lots != 11 || !d.PositionValue.Equal(dec("440")) {
		t.Errorf("lots=%d position=%s", d.Lots, d.PositionValue)
	}
	if !d.StopLossPrice.Equal(dec("39.6")) || !d.TargetPrice.Equal(dec("40.8")) {
		t.Errorf("scalp exits stop=%s target=%s", d.StopLossPrice, d.TargetPrice)
	}
}

func TestQuote_InsufficientBudgetForOneLot(t *testing.T) {
	p := smallAccount()
	p.LotMultiplier = 75
	s := NewSizer(p)

	d, err := s.Quote(candidate("40"), 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Lots != 0 || d.RejectionReason != models.ReasonInsufficientBudget {
		t.Errorf("got lots=%d reason=%s", d.Lots, d.RejectionReason)
	}
	if d.Accepted() {
		t.Error("zero-lot decision must not be accepted")
	}
}

func TestQuote_ConfidenceScaling(t *testing.T) {
	s := NewSizer(smallAccount())

	tests := []struct {
		confidence float64
		want       int64
	}{
		{1.0, 6},
		{0.5, 4},  // floor(6 * 0.75)
		{0.0, 3},  // floor(6 * 0.5)
		{-2, 3},   // clamped to 0
		{7, 6},    // clamped to 1
		{0.34, 4}, // floor(6 * 0.67)
	}
	for _, tt := range tests {
		d, err := s.Quote(candidate("40"), tt.confidence)
		if err != nil {
			t.Fatal(err)
		}
		if d.Lots != tt.want {
			t.Errorf("confidence %v: lots = %d, want %d", tt.confidence, d.Lots, tt.want)
		}
	}
}

func TestQuote_ScalingToZeroRejects(t *testing.T) {
	// One affordable lot scaled by 0.5 floors to zero.
	s := NewSizer(smallAccount())
	d, err := s.Quote(candidate("230"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Lots != 0 || d.RejectionReason != models.ReasonInsufficientBudget {
		t.Errorf("got lots=%d reason=%s", d.Lots, d.RejectionReason)
	}
}

func TestQuote_MaxLotsPerTrade(t *testing.T) {
	p := smallAccount()
	p.MaxLotsPerTrade = 2
	d, err := NewSizer(p).Quote(candidate("40"), 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Lots != 2 {
		t.Errorf("lots = %d, want cap of 2", d.Lots)
	}
}

func TestQuote_InvalidPremium(t *testing.T) {
	s := NewSizer(smallAccount())
	for _, ltp := range []string{"0", "-5"} {
		d, err := s.Quote(candidate(ltp), 1.0)
		if err != nil {
			t.Fatal(err)
		}
		if d.RejectionReason != models.ReasonInvalidPremium {
			t.Errorf("ltp %s: reason = %s", ltp, d.RejectionReason)
		}
	}
}

func TestSize_GateRejection(t *testing.T) {
	s := NewSizer(smallAccount())
	gate := &stubGate{adm: budget.Admission{Reason: models.ReasonDailyTradeLimit}}

	d, res, err := s.Size(candidate("40"), 1.0, gate)
	if err != nil {
		t.Fatal(err)
	}
	if res != nil || d.Lots != 0 || d.RejectionReason != models.ReasonDailyTradeLimit {
		t.Errorf("got %+v res=%v", d, res)
	}
	if !gate.risk.Equal(dec("60")) || !gate.capital.Equal(dec("240")) {
		t.Errorf("gate saw risk=%s capital=%s", gate.risk, gate.capital)
	}
}

func TestSize_SkipsGateOnRejection(t *testing.T) {
	s := NewSizer(smallAccount())
	gate := &stubGate{}
	if _, _, err := s.Size(candidate("0"), 1.0, gate); err != nil {
		t.Fatal(err)
	}
	if gate.calls != 0 {
		t.Error("gate must not be consulted for a rejected quote")
	}
}

func TestSize_WithTracker(t *testing.T) {
	p := smallAccount()
	tr := budget.NewTracker(p.Budget)
	d, res, err := NewSizer(p).Size(candidate("40"), 1.0, tr)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted() || res == nil {
		t.Fatalf("expected approval, got %+v", d)
	}
	if !res.Capital.Equal(d.PositionValue) || !res.Risk.Equal(d.RiskAmount) {
		t.Errorf("reservation %+v does not match decision", res)
	}
	if tr.Snapshot().TradesTakenToday != 0 {
		t.Error("sizing alone must not count as a trade")
	}
}

func TestVerify_ReportsInvariantViolation(t *testing.T) {
	s := NewSizer(smallAccount())
	d := &models.SizingDecision{Lots: 1, PositionValue: dec("500"), RiskAmount: dec("10")}

	err := s.verify(d)
	if !errors.Is(err, errors.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	var inv *errors.InvariantError
	if !errors.As(err, &inv) || inv.Rule != "max_position" {
		t.Errorf("unexpected invariant error %#v", err)
	}
}

func TestValidatePositionValue(t *testing.T) {
	b := smallAccount().Budget
	u := ValidatePositionValue(dec("600"), b)
	if u.WithinCap || !u.Suggested.Equal(dec("450")) || !u.Pct.Equal(dec("20")) {
		t.Errorf("got %+v", u)
	}
	u = ValidatePositionValue(dec("300"), b)
	if !u.WithinCap || !u.Suggested.Equal(dec("300")) {
		t.Errorf("got %+v", u)
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct {
		num, den string
		want     int64
	}{
		{"450", "40", 11},
		{"60", "10", 6},
		{"100", "33.33", 3},
		{"99.99", "33.33", 3},
		{"99.98", "33.33", 2},
		{"0", "5", 0},
		{"5", "0", 0},
	}
	for _, tt := range tests {
		if got := floorDiv(dec(tt.num), dec(tt.den)); got != tt.want {
			t.Errorf("floorDiv(%s, %s) = %d, want %d", tt.num, tt.den, got, tt.want)
		}
	}
}

// Property: an accepted decision never exceeds either per-trade ceiling, for
// any budget, premium and stop fraction.
func TestProperty_AcceptedDecisionsRespectCeilings(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("risk and position stay under their ceilings", prop.ForAll(
		func(capital int64, riskBps, posBps int64, premiumPaise int64, lotMult int64, slBps int64, conf float64) bool {
			p := Params{
				Budget: models.CapitalBudget{
					TotalCapital:       decimal.NewFromInt(capital),
					MaxRiskPerTradePct: decimal.New(riskBps, -4),
					MaxPositionPct:     decimal.New(posBps, -4),
					MaxTradesPerDay:    5,
					MaxDailyLoss:       decimal.NewFromInt(capital / 20),
				},
				LotMultiplier:    lotMult,
				StopLossFraction: decimal.New(slBps, -4),
				TargetFraction:   dec("0.25"),
			}
			q := candidate("1")
			q.LastPrice = decimal.New(premiumPaise, -2)

			d, err := NewSizer(p).Quote(q, conf)
			if err != nil {
				return false
			}
			if !d.Accepted() {
				return d.Lots == 0 && d.RejectionReason != models.ReasonNone
			}
			return d.RiskAmount.LessThanOrEqual(p.Budget.RiskCeiling()) &&
				d.PositionValue.LessThanOrEqual(p.Budget.PositionCeiling()) &&
				d.Lots >= 1
		},
		gen.Int64Range(1000, 5_000_000),
		gen.Int64Range(1, 1000),
		gen.Int64Range(1, 10000),
		gen.Int64Range(5, 100_000),
		gen.Int64Range(1, 1800),
		gen.Int64Range(1, 9999),
		gen.Float64Range(0, 1),
	))

	properties.Property("more confidence never means fewer lots", prop.ForAll(
		func(capital int64, premiumPaise int64, lo, hi float64) bool {
			if lo > hi {
				lo, hi = hi, lo
			}
			p := smallAccount()
			p.Budget.TotalCapital = decimal.NewFromInt(capital)
			s := NewSizer(p)
			q := candidate("1")
			q.LastPrice = decimal.New(premiumPaise, -2)

			low, err := s.Quote(q, lo)
			if err != nil {
				return false
			}
			high, err := s.Quote(q, hi)
			if err != nil {
				return false
			}
			mid, err := s.Quote(q, 0.5)
			if err != nil {
				return false
			}
			full, err := s.Quote(q, 1.0)
			if err != nil {
				return false
			}
			return high.Lots >= low.Lots && full.Lots >= mid.Lots
		},
		gen.Int64Range(1000, 2_000_000),
		gen.Int64Range(5, 50_000),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
