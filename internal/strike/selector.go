// Package strike picks tradable out-of-the-money contracts from a classified
// option chain.
package strike

import (
	"sort"

	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/config"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/internal/oi"
)

// Band is an inclusive OTM distance range in underlying points.
type Band struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Contains reports whether d lies inside the band, bounds included.
func (b Band) Contains(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(b.Min) && d.LessThanOrEqual(b.Max)
}

// BandFromConfig converts the configured band.
func BandFromConfig(cfg config.BandConfig) Band {
	return Band{Min: decimal.NewFromFloat(cfg.Min), Max: decimal.NewFromFloat(cfg.Max)}
}

// Candidate is a ranked contract with the tier that qualified it.
type Candidate struct {
	Quote    models.StrikeQuote
	Tier     models.OITier
	Distance decimal.Decimal
}

// Selection is the best-first candidate list for one direction. Reason is
// set when Candidates is empty.
type Selection struct {
	Direction  models.OptionType
	Candidates []Candidate
	Reason     models.RejectionReason
}

// Empty reports whether nothing qualified.
func (s Selection) Empty() bool {
	return len(s.Candidates) == 0
}

// DirectionFromScore maps a signal score onto the option type to buy.
// A zero score carries no direction.
func DirectionFromScore(score float64) (models.OptionType, bool) {
	switch {
	case score > 0:
		return models.OptionCall, true
	case score < 0:
		return models.OptionPut, true
	default:
		return "", false
	}
}

// Selector filters and ranks strikes.
type Selector struct {
	band Band
}

// NewSelector creates a selector for the given band.
func NewSelector(band Band) *Selector {
	return &Selector{band: band}
}

// Band returns the configured OTM band.
func (s *Selector) Band() Band {
	return s.band
}

// SelectForScore derives the direction from score and selects for it.
func (s *Selector) SelectForScore(chain *models.OptionChain, tiers *oi.Classification, score float64) Selection {
	dir, ok := DirectionFromScore(score)
	if !ok {
		return Selection{Reason: models.ReasonNoDirectionalSignal}
	}
	return s.Select(chain, tiers, dir)
}

// Select keeps HIGH and MEDIUM contracts of the given type whose OTM distance
// from the chain's spot is inside the band, then orders them by tier, distance
// from spot, and open interest. Strike price breaks any remaining tie.
func (s *Selector) Select(chain *models.OptionChain, tiers *oi.Classification, dir models.OptionType) Selection {
	if !dir.Valid() {
		return Selection{Reason: models.ReasonNoDirectionalSignal}
	}

	out := Selection{Direction: dir}
	if chain != nil {
		for _, q := range chain.Quotes {
			if q.OptionType != dir {
				continue
			}
			tier := tiers.Tier(q)
			if !tier.Tradable() {
				continue
			}
			// Recompute from spot rather than trusting a stored distance.
			dist := q.StrikePrice.Sub(chain.Spot)
			if dir == models.OptionPut {
				dist = dist.Neg()
			}
			if !s.band.Contains(dist) {
				continue
			}
			out.Candidates = append(out.Candidates, Candidate{Quote: q, Tier: tier, Distance: dist})
		}
	}

	sort.SliceStable(out.Candidates, func(i, j int) bool {
		return less(out.Candidates[i], out.Candidates[j])
	})

	if out.Empty() {
		out.Reason = models.ReasonNoQualifyingStrike
	}
	return out
}

func less(a, b Candidate) bool {
	if a.Tier != b.Tier {
		return a.Tier > b.Tier
	}
	if c := a.Distance.Cmp(b.Distance); c != 0 {
		return c < 0
	}
	if a.Quote.OpenInterest != b.Quote.OpenInterest {
		return a.Quote.OpenInterest > b.Quote.OpenInterest
	}
	return a.Quote.StrikePrice.LessThan(b.Quote.StrikePrice)
}

// ATM rounds spot to the nearest multiple of step. Halfway values round up.
func ATM(spot decimal.Decimal, step int64) decimal.Decimal {
	if step <= 0 {
		return spot
	}
	s := decimal.NewFromInt(step)
	return spot.Div(s).Round(0).Mul(s)
}
