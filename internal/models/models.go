// Package models provides domain models for the lot manager.
package models

import (
	"fmt"
	"strings"
)

// Exchange represents a stock exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	NFO Exchange = "NFO" // F&O
	BFO Exchange = "BFO" // BSE F&O
)

// OptionType is the right carried by an option contract.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Suffix returns the exchange trading-symbol suffix (CE/PE).
func (t OptionType) Suffix() string {
	if t == OptionPut {
		return "PE"
	}
	return "CE"
}

// Valid reports whether t is CALL or PUT.
func (t OptionType) Valid() bool {
	return t == OptionCall || t == OptionPut
}

// ParseOptionType accepts CALL/PUT as well as the exchange suffixes CE/PE.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "CE", "C":
		return OptionCall, nil
	case "PUT", "PE", "P":
		return OptionPut, nil
	default:
		return "", fmt.Errorf("unknown option type %q", s)
	}
}

// OITier ranks a quote's open interest against the rest of its chain.
// Tiers are ordered: EXCLUDED < LOW < MEDIUM < HIGH.
type OITier int

const (
	TierExcluded OITier = iota
	TierLow
	TierMedium
	TierHigh
)

func (t OITier) String() string {
	switch t {
	case TierHigh:
		return "HIGH"
	case TierMedium:
		return "MEDIUM"
	case TierLow:
		return "LOW"
	default:
		return "EXCLUDED"
	}
}

// MarshalText renders the tier name in JSON output.
func (t OITier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Tradable reports whether the strike selector may consider this tier.
func (t OITier) Tradable() bool {
	return t == TierHigh || t == TierMedium
}

// LedgerState is the daily gate state.
type LedgerState string

const (
	StateOpen        LedgerState = "OPEN"
	StateHaltedLoss  LedgerState = "HALTED_LOSS"
	StateHaltedCount LedgerState = "HALTED_COUNT"
)

// Halted reports whether no further entries are allowed today.
func (s LedgerState) Halted() bool {
	return s == StateHaltedLoss || s == StateHaltedCount
}

// RejectionReason explains a zero-lot decision. Rejections are data, not errors.
type RejectionReason string

const (
	ReasonNone                  RejectionReason = ""
	ReasonNoDirectionalSignal   RejectionReason = "NO_DIRECTIONAL_SIGNAL"
	ReasonNoQualifyingStrike    RejectionReason = "NO_QUALIFYING_STRIKE"
	ReasonInsufficientBudget    RejectionReason = "INSUFFICIENT_BUDGET_FOR_ONE_LOT"
	ReasonInvalidPremium        RejectionReason = "INVALID_PREMIUM"
	ReasonDailyTradeLimit       RejectionReason = "DAILY_TRADE_LIMIT_REACHED"
	ReasonDailyLossLimit        RejectionReason = "DAILY_LOSS_LIMIT_REACHED"
	ReasonDailyCapitalExhausted RejectionReason = "DAILY_CAPITAL_EXHAUSTED"
	ReasonMarketClosed          RejectionReason = "MARKET_CLOSED"
)

// DailyGate reports whether the reason came from the daily budget tracker.
// Such rejections apply to every candidate, so a cycle stops cascading.
func (r RejectionReason) DailyGate() bool {
	switch r {
	case ReasonDailyTradeLimit, ReasonDailyLossLimit, ReasonDailyCapitalExhausted:
		return true
	}
	return false
}

// ReasonForState maps a halted ledger state onto its rejection reason.
func ReasonForState(s LedgerState) RejectionReason {
	switch s {
	case StateHaltedLoss:
		return ReasonDailyLossLimit
	case StateHaltedCount:
		return ReasonDailyTradeLimit
	}
	return ReasonNone
}
