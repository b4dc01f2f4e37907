// Package oi ranks open interest across an option chain snapshot and maps
// each contract onto a liquidity tier.
package oi

import (
	"fmt"
	"sort"

	"oi-lot-manager/internal/config"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

// Thresholds are percentile cut-offs in [0, 100].
type Thresholds struct {
	High          float64
	Medium        float64
	ExcludedFloor float64
	// MinOpenInterest excludes any contract below this absolute OI. 0 disables it.
	MinOpenInterest int64
}

// DefaultThresholds returns the 90/75 split with a 25th percentile floor.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 90, Medium: 75, ExcludedFloor: 25}
}

// ThresholdsFromConfig maps the selection section onto classifier thresholds.
func ThresholdsFromConfig(cfg config.SelectionConfig) Thresholds {
	return Thresholds{
		High:            cfg.OITierThresholds.High,
		Medium:          cfg.OITierThresholds.Medium,
		ExcludedFloor:   cfg.OITierThresholds.ExcludedFloor,
		MinOpenInterest: cfg.MinOpenInterest,
	}
}

// Classification is the tier and percentile rank of every contract in one snapshot.
type Classification struct {
	Tiers map[models.QuoteKey]models.OITier
	Ranks map[models.QuoteKey]float64
}

// Tier returns the tier assigned to q, or EXCLUDED when q was not in the snapshot.
func (c *Classification) Tier(q models.StrikeQuote) models.OITier {
	if c == nil {
		return models.TierExcluded
	}
	if t, ok := c.Tiers[q.Key()]; ok {
		return t
	}
	return models.TierExcluded
}

// Rank returns the percentile rank assigned to q.
func (c *Classification) Rank(q models.StrikeQuote) float64 {
	if c == nil {
		return 0
	}
	return c.Ranks[q.Key()]
}

// Count returns how many contracts landed in tier t.
func (c *Classification) Count(t models.OITier) int {
	n := 0
	for _, tier := range c.Tiers {
		if tier == t {
			n++
		}
	}
	return n
}

// Classifier assigns OI tiers. It holds no state between calls.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(th Thresholds) *Classifier {
	return &Classifier{thresholds: th}
}

// Classify ranks every quote's open interest against the whole chain, calls
// and puts together. Equal OI values share a percentile.
func (c *Classifier) Classify(chain *models.OptionChain) (*Classification, error) {
	if chain == nil || len(chain.Quotes) == 0 {
		return nil, errors.NewChainError(underlyingOf(chain), "empty chain")
	}

	values := make([]int64, 0, len(chain.Quotes))
	seen := make(map[models.QuoteKey]bool, len(chain.Quotes))
	var nonZero bool
	for _, q := range chain.Quotes {
		if q.OpenInterest < 0 {
			return nil, errors.NewChainError(chain.Underlying,
				fmt.Sprintf("negative open interest %d at %s %s", q.OpenInterest, q.StrikePrice, q.OptionType))
		}
		if seen[q.Key()] {
			return nil, errors.NewChainError(chain.Underlying,
				fmt.Sprintf("duplicate quote for %s %s", q.StrikePrice, q.OptionType))
		}
		seen[q.Key()] = true
		if q.OpenInterest > 0 {
			nonZero = true
		}
		values = append(values, q.OpenInterest)
	}
	if !nonZero {
		return nil, errors.NewChainError(chain.Underlying, "all open interest is zero")
	}

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	out := &Classification{
		Tiers: make(map[models.QuoteKey]models.OITier, len(chain.Quotes)),
		Ranks: make(map[models.QuoteKey]float64, len(chain.Quotes)),
	}
	for _, q := range chain.Quotes {
		rank := PercentileRank(values, q.OpenInterest)
		out.Ranks[q.Key()] = rank
		out.Tiers[q.Key()] = c.tierFor(q.OpenInterest, rank)
	}
	return out, nil
}

func (c *Classifier) tierFor(oi int64, rank float64) models.OITier {
	th := c.thresholds
	switch {
	case oi == 0:
		return models.TierExcluded
	case th.MinOpenInterest > 0 && oi < th.MinOpenInterest:
		return models.TierExcluded
	case rank >= th.High:
		return models.TierHigh
	case rank >= th.Medium:
		return models.TierMedium
	case rank < th.ExcludedFloor:
		return models.TierExcluded
	default:
		return models.TierLow
	}
}

// PercentileRank returns the weak percentile of v within sorted, the share of
// values less than or equal to v scaled to 0..100.
func PercentileRank(sorted []int64, v int64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	le := sort.Search(len(sorted), func(i int) bool { return sorted[i] > v })
	return float64(100*le) / float64(len(sorted))
}

func underlyingOf(chain *models.OptionChain) string {
	if chain == nil {
		return ""
	}
	return chain.Underlying
}
