package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SizingDecision is the outcome of one sizing attempt. Lots == 0 always
// carries a RejectionReason.
type SizingDecision struct {
	ID              string
	Underlying      string
	Strike          *StrikeQuote
	Tier            OITier
	Score           float64
	Confidence      float64
	Lots            int64
	LotMultiplier   int64
	PositionValue   decimal.Decimal
	RiskAmount      decimal.Decimal
	StopLossPrice   decimal.Decimal
	TargetPrice     decimal.Decimal
	RejectionReason RejectionReason
	CreatedAt       time.Time
}

// Rejected builds a zero-lot decision.
func Rejected(underlying string, reason RejectionReason) *SizingDecision {
	return &SizingDecision{
		Underlying:      underlying,
		RejectionReason: reason,
		PositionValue:   decimal.Zero,
		RiskAmount:      decimal.Zero,
		StopLossPrice:   decimal.Zero,
		TargetPrice:     decimal.Zero,
	}
}

// Accepted reports whether the decision carries a tradable size.
func (d *SizingDecision) Accepted() bool {
	return d != nil && d.Lots > 0 && d.RejectionReason == ReasonNone
}

// Quantity is the contract count sent to the exchange.
func (d *SizingDecision) Quantity() int64 {
	return d.Lots * d.LotMultiplier
}

// Symbol returns the traded contract, or the underlying when no strike was chosen.
func (d *SizingDecision) Symbol() string {
	if d.Strike != nil && d.Strike.TradingSymbol != "" {
		return d.Strike.TradingSymbol
	}
	return d.Underlying
}

// DecisionOutcome tracks what happened to a decision after it left the engine.
type DecisionOutcome string

const (
	OutcomePending  DecisionOutcome = "PENDING"
	OutcomeRejected DecisionOutcome = "REJECTED"
	OutcomeFilled   DecisionOutcome = "FILLED"
	OutcomeSkipped  DecisionOutcome = "SKIPPED"
)
