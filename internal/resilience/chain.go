package resilience

import (
	"context"
	"fmt"
	"time"

	"oi-lot-manager/internal/broker"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

// GuardedChains fails fast while the upstream chain source is down.
type GuardedChains struct {
	next    broker.ChainProvider
	breaker *Breaker
}

// GuardChains wraps next with b. A snapshot that arrives but fails
// validation is a data problem and does not trip the breaker.
func GuardChains(next broker.ChainProvider, b *Breaker) *GuardedChains {
	if b.cfg.IsFailure == nil {
		b.cfg.IsFailure = func(err error) bool {
			return !errors.Is(err, errors.ErrInvalidChain)
		}
	}
	return &GuardedChains{next: next, breaker: b}
}

// OptionChain implements broker.ChainProvider.
func (g *GuardedChains) OptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error) {
	chain, err := Do(ctx, g.breaker, func(ctx context.Context) (*models.OptionChain, error) {
		return g.next.OptionChain(ctx, underlying, expiry)
	})
	if errors.Is(err, ErrOpen) {
		return nil, fmt.Errorf("%s: %w: %w", underlying, errors.ErrChainUnavailable, err)
	}
	return chain, err
}
