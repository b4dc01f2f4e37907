// Package broker provides option chain sources and order gateways.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

// ChainProvider fetches one option chain snapshot. A zero expiry selects the
// nearest listed expiry.
type ChainProvider interface {
	OptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error)
}

// Gateway executes accepted sizing decisions. A nil error means the order
// was filled and the decision's budget may be committed.
type Gateway interface {
	Execute(ctx context.Context, d *models.SizingDecision) (*models.OrderResult, error)
}

// Order statuses reported in OrderResult.Status.
const (
	StatusComplete = "COMPLETE"
	StatusRejected = "REJECTED"
)

// OrderRequest is a broker-neutral entry order built from a decision.
type OrderRequest struct {
	Symbol   string
	Exchange models.Exchange
	Side     models.OrderSide
	Type     models.OrderType
	Product  models.ProductType
	Quantity int64
	Price    decimal.Decimal
	Tag      string
}

// NewOrderRequest converts an accepted decision into a market buy order.
func NewOrderRequest(d *models.SizingDecision, exchange models.Exchange, product models.ProductType) (OrderRequest, error) {
	if !d.Accepted() || d.Strike == nil {
		return OrderRequest{}, errors.Wrap(errors.ErrOrderRejected, "decision carries no tradable size")
	}
	if d.Strike.TradingSymbol == "" {
		return OrderRequest{}, errors.Wrap(errors.ErrOrderRejected, "decision has no trading symbol")
	}
	if d.Quantity() <= 0 {
		return OrderRequest{}, errors.Wrapf(errors.ErrOrderRejected, "invalid quantity %d", d.Quantity())
	}

	return OrderRequest{
		Symbol:   d.Strike.TradingSymbol,
		Exchange: exchange,
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeMarket,
		Product:  product,
		Quantity: d.Quantity(),
		Price:    d.Strike.LastPrice,
		Tag:      orderTag(d.ID),
	}, nil
}

// orderTag fits a decision id into Kite's 20 character tag limit.
func orderTag(id string) string {
	const maxTag = 20
	if len(id) > maxTag {
		return id[:maxTag]
	}
	return id
}

func (r OrderRequest) String() string {
	return fmt.Sprintf("%s %d %s:%s %s", r.Side, r.Quantity, r.Exchange, r.Symbol, r.Product)
}
