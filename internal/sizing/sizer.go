// Package sizing turns a selected strike into a lot count under the
// per-trade capital and risk ceilings.
package sizing

import (
	"math"

	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/budget"
	"oi-lot-manager/internal/config"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

var (
	half    = decimal.RequireFromString("0.5")
	hundred = decimal.NewFromInt(100)
)

// Params are the sizing inputs that do not change within a day.
type Params struct {
	Budget           models.CapitalBudget
	LotMultiplier    int64
	StopLossFraction decimal.Decimal
	TargetFraction   decimal.Decimal
	// MaxLotsPerTrade caps the final lot count. 0 disables it.
	MaxLotsPerTrade int64
}

// ParamsFromConfig builds sizing parameters from a validated config.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Budget:           cfg.Budget(),
		LotMultiplier:    cfg.Trading.LotMultiplier,
		StopLossFraction: decimal.NewFromFloat(cfg.Exits.StopLossFraction),
		TargetFraction:   decimal.NewFromFloat(cfg.Exits.TargetFraction),
		MaxLotsPerTrade:  cfg.Capital.MaxLotsPerTrade,
	}
}

// Gate is the daily admission check. *budget.Tracker implements it.
type Gate interface {
	Admit(risk, capital decimal.Decimal) budget.Admission
}

// Sizer computes lot counts. It is stateless apart from its parameters.
type Sizer struct {
	params Params
}

// NewSizer creates a sizer.
func NewSizer(p Params) *Sizer {
	return &Sizer{params: p}
}

// Params returns the sizer's parameters.
func (s *Sizer) Params() Params {
	return s.params
}

// MaxAffordable is the smaller of the position ceiling and the premium
// whose stop-loss would consume exactly the risk ceiling.
func (s *Sizer) MaxAffordable() decimal.Decimal {
	b := s.params.Budget
	if !s.params.StopLossFraction.IsPositive() {
		return b.PositionCeiling()
	}
	byRisk := b.RiskCeiling().Div(s.params.StopLossFraction)
	return decimal.Min(b.PositionCeiling(), byRisk)
}

// Quote sizes a candidate without touching the daily budget. The result is
// either an accepted decision or a zero-lot rejection. An error is returned
// only if the computed size would break a hard ceiling.
func (s *Sizer) Quote(q models.StrikeQuote, confidence float64) (*models.SizingDecision, error) {
	p := s.params
	d := models.Rejected("", models.ReasonNone)
	d.Strike = &q
	d.Confidence = clamp01(confidence)
	d.LotMultiplier = p.LotMultiplier

	if !q.LastPrice.IsPositive() || p.LotMultiplier <= 0 {
		d.RejectionReason = models.ReasonInvalidPremium
		return d, nil
	}

	unit := q.LastPrice.Mul(decimal.NewFromInt(p.LotMultiplier))
	riskPerLot := unit.Mul(p.StopLossFraction)

	// floor(min(a, b) / unit) == min(floor(a / unit), floor(b / unit)); the
	// risk leg is computed against risk per lot to stay in exact arithmetic.
	lots := minInt64(
		floorDiv(p.Budget.PositionCeiling(), unit),
		floorDiv(p.Budget.RiskCeiling(), riskPerLot),
	)
	if lots <= 0 {
		d.RejectionReason = models.ReasonInsufficientBudget
		return d, nil
	}

	factor := half.Add(half.Mul(decimal.NewFromFloat(d.Confidence)))
	lots = decimal.NewFromInt(lots).Mul(factor).Floor().IntPart()
	if p.MaxLotsPerTrade > 0 && lots > p.MaxLotsPerTrade {
		lots = p.MaxLotsPerTrade
	}
	if lots <= 0 {
		d.RejectionReason = models.ReasonInsufficientBudget
		return d, nil
	}

	d.Lots = lots
	d.PositionValue = unit.Mul(decimal.NewFromInt(lots))
	d.RiskAmount = d.PositionValue.Mul(p.StopLossFraction)
	d.StopLossPrice = q.LastPrice.Mul(decimal.NewFromInt(1).Sub(p.StopLossFraction))
	d.TargetPrice = q.LastPrice.Mul(decimal.NewFromInt(1).Add(p.TargetFraction))

	if err := s.verify(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Size quotes a candidate and asks the gate to admit it. On approval the
// reservation must later be committed or released by the caller.
func (s *Sizer) Size(q models.StrikeQuote, confidence float64, gate Gate) (*models.SizingDecision, *budget.Reservation, error) {
	d, err := s.Quote(q, confidence)
	if err != nil || !d.Accepted() {
		return d, nil, err
	}

	adm := gate.Admit(d.RiskAmount, d.PositionValue)
	if !adm.Approved() {
		rejected := models.Rejected(d.Underlying, adm.Reason)
		rejected.Strike = d.Strike
		rejected.Confidence = d.Confidence
		rejected.LotMultiplier = d.LotMultiplier
		return rejected, nil, nil
	}
	return d, adm.Reservation, nil
}

// verify re-checks the hard ceilings on a computed decision.
func (s *Sizer) verify(d *models.SizingDecision) error {
	b := s.params.Budget
	if d.Lots < 1 {
		return errors.NewInvariantError("min_lots", decimal.NewFromInt(d.Lots).String(), "1")
	}
	if d.RiskAmount.GreaterThan(b.RiskCeiling()) {
		return errors.NewInvariantError("max_risk_per_trade", d.RiskAmount.String(), b.RiskCeiling().String())
	}
	if d.PositionValue.GreaterThan(b.PositionCeiling()) {
		return errors.NewInvariantError("max_position", d.PositionValue.String(), b.PositionCeiling().String())
	}
	if d.PositionValue.GreaterThan(b.TotalCapital) {
		return errors.NewInvariantError("total_capital", d.PositionValue.String(), b.TotalCapital.String())
	}
	return nil
}

// Utilisation reports a position value as a share of total capital and the
// value that would bring it back under the position ceiling.
type Utilisation struct {
	Pct       decimal.Decimal
	WithinCap bool
	Suggested decimal.Decimal
}

// ValidatePositionValue checks an externally proposed position value against
// the position ceiling.
func ValidatePositionValue(value decimal.Decimal, b models.CapitalBudget) Utilisation {
	u := Utilisation{Pct: decimal.Zero, Suggested: value, WithinCap: true}
	if b.TotalCapital.IsPositive() {
		u.Pct = value.Div(b.TotalCapital).Mul(hundred).Round(2)
	}
	if value.GreaterThan(b.PositionCeiling()) {
		u.WithinCap = false
		u.Suggested = b.PositionCeiling()
	}
	return u
}

// floorDiv returns floor(num/den) for positive den, corrected so that the
// result q satisfies q*den <= num < (q+1)*den exactly.
func floorDiv(num, den decimal.Decimal) int64 {
	if !den.IsPositive() || num.IsNegative() {
		return 0
	}
	q := num.Div(den).Floor()
	for q.IsPositive() && q.Mul(den).GreaterThan(num) {
		q = q.Sub(decimal.NewFromInt(1))
	}
	for q.Add(decimal.NewFromInt(1)).Mul(den).LessThanOrEqual(num) {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.IntPart()
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
