package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CapitalBudget holds the static capital limits for a trading day.
type CapitalBudget struct {
	TotalCapital       decimal.Decimal
	MaxRiskPerTradePct decimal.Decimal // fraction, 0.02 = 2%
	MaxPositionPct     decimal.Decimal // fraction
	MaxTradesPerDay    int
	MaxDailyLoss       decimal.Decimal // positive amount
}

// RiskCeiling is the most any single trade may put at risk.
func (b CapitalBudget) RiskCeiling() decimal.Decimal {
	return b.MaxRiskPerTradePct.Mul(b.TotalCapital)
}

// PositionCeiling is the largest premium outlay allowed for one trade.
func (b CapitalBudget) PositionCeiling() decimal.Decimal {
	return b.MaxPositionPct.Mul(b.TotalCapital)
}

// DailyLedger is the per-day running state owned by the budget tracker.
type DailyLedger struct {
	Day                  string // YYYY-MM-DD in Asia/Kolkata
	State                LedgerState
	TradesTakenToday     int
	CapitalDeployedToday decimal.Decimal
	RealizedPnLToday     decimal.Decimal
}

// NewDailyLedger returns a zeroed OPEN ledger for day.
func NewDailyLedger(day string) DailyLedger {
	return DailyLedger{
		Day:                  day,
		State:                StateOpen,
		CapitalDeployedToday: decimal.Zero,
		RealizedPnLToday:     decimal.Zero,
	}
}

// DailyStatus is a read-only summary of the ledger against its budget.
type DailyStatus struct {
	Ledger           DailyLedger
	Budget           CapitalBudget
	PendingTrades    int
	PendingCapital   decimal.Decimal
	PendingRisk      decimal.Decimal
	TradesRemaining  int
	LossHeadroom     decimal.Decimal
	CapitalRemaining decimal.Decimal
	UtilisationPct   decimal.Decimal
	NearLossLimit    bool
}

// CloseRecord is a realized exit reported back to the tracker.
type CloseRecord struct {
	Day        string
	Underlying string
	PnL        decimal.Decimal
	Note       string
	ClosedAt   time.Time
}
