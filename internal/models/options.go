package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionChain is one fetched snapshot of an underlying's chain for a single
// expiry. Calls and puts are held together in Quotes.
type OptionChain struct {
	Underlying string
	Spot       decimal.Decimal
	Expiry     time.Time
	FetchedAt  time.Time
	Quotes     []StrikeQuote
}

// StrikeQuote is an immutable quote for one contract in a snapshot.
type StrikeQuote struct {
	TradingSymbol      string
	StrikePrice        decimal.Decimal
	OptionType         OptionType
	LastPrice          decimal.Decimal
	OpenInterest       int64
	UnderlyingDistance decimal.Decimal // strike - spot, signed
}

// QuoteKey identifies a contract inside one chain snapshot.
type QuoteKey struct {
	Strike string
	Type   OptionType
}

// NewStrikeQuote builds a quote and derives its distance from spot.
func NewStrikeQuote(symbol string, strike decimal.Decimal, typ OptionType, ltp decimal.Decimal, oi int64, spot decimal.Decimal) StrikeQuote {
	return StrikeQuote{
		TradingSymbol:      symbol,
		StrikePrice:        strike,
		OptionType:         typ,
		LastPrice:          ltp,
		OpenInterest:       oi,
		UnderlyingDistance: strike.Sub(spot),
	}
}

// Key returns the quote's identity within its snapshot.
func (q StrikeQuote) Key() QuoteKey {
	return QuoteKey{Strike: q.StrikePrice.String(), Type: q.OptionType}
}

// OTMDistance is the distance out of the money: strike - spot for calls,
// spot - strike for puts. Negative values are in the money.
func (q StrikeQuote) OTMDistance() decimal.Decimal {
	if q.OptionType == OptionPut {
		return q.UnderlyingDistance.Neg()
	}
	return q.UnderlyingDistance
}

// Len returns the number of quotes in the snapshot.
func (c *OptionChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Quotes)
}

// Find returns the quote for a strike/type pair.
func (c *OptionChain) Find(strike decimal.Decimal, typ OptionType) (StrikeQuote, bool) {
	key := QuoteKey{Strike: strike.String(), Type: typ}
	for _, q := range c.Quotes {
		if q.Key() == key {
			return q, true
		}
	}
	return StrikeQuote{}, false
}

// TotalOI sums open interest per option type. Used for the PCR line in status output.
func (c *OptionChain) TotalOI() (calls, puts int64) {
	for _, q := range c.Quotes {
		if q.OptionType == OptionPut {
			puts += q.OpenInterest
		} else {
			calls += q.OpenInterest
		}
	}
	return calls, puts
}
