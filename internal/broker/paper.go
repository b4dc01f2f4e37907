package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

// PaperPosition is a simulated open position.
type PaperPosition struct {
	Symbol       string
	Quantity     int64
	AveragePrice decimal.Decimal
	OpenedAt     time.Time
}

// PaperBroker fills decisions against a simulated cash balance. Market data
// comes from the configured chain provider.
type PaperBroker struct {
	data     ChainProvider
	exchange models.Exchange
	product  models.ProductType
	slippage decimal.Decimal
	now      func() time.Time

	mu           sync.RWMutex
	balance      decimal.Decimal
	orders       map[string]*models.OrderResult
	positions    map[string]*PaperPosition
	orderCounter int
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	DataProvider   ChainProvider
	InitialBalance decimal.Decimal
	Exchange       models.Exchange
	Product        models.ProductType
	// SlippagePct raises every fill price, 0.01 = 1%.
	SlippagePct decimal.Decimal
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	balance := cfg.InitialBalance
	if !balance.IsPositive() {
		balance = decimal.NewFromInt(100000) // 1 lakh default
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = models.NFO
	}
	product := cfg.Product
	if product == "" {
		product = models.ProductMIS
	}

	return &PaperBroker{
		data:      cfg.DataProvider,
		exchange:  exchange,
		product:   product,
		slippage:  cfg.SlippagePct,
		now:       time.Now,
		balance:   balance,
		orders:    make(map[string]*models.OrderResult),
		positions: make(map[string]*PaperPosition),
	}
}

// OptionChain fetches the chain from the data provider.
func (p *PaperBroker) OptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error) {
	if p.data == nil {
		return nil, errors.Wrap(errors.ErrChainUnavailable, "no data provider configured")
	}
	return p.data.OptionChain(ctx, underlying, expiry)
}

// Execute simulates a market buy at the decision's premium plus slippage.
// Orders the balance cannot cover are rejected.
func (p *PaperBroker) Execute(ctx context.Context, d *models.SizingDecision) (*models.OrderResult, error) {
	req, err := NewOrderRequest(d, p.exchange, p.product)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderCounter++
	now := p.now()
	orderID := fmt.Sprintf("PAPER_%d_%d", now.Unix(), p.orderCounter)

	fillPrice := req.Price.Mul(decimal.NewFromInt(1).Add(p.slippage)).Round(2)
	cost := fillPrice.Mul(decimal.NewFromInt(req.Quantity))

	result := &models.OrderResult{
		OrderID:   orderID,
		Symbol:    req.Symbol,
		Quantity:  req.Quantity,
		Timestamp: now,
	}
	p.orders[orderID] = result

	if cost.GreaterThan(p.balance) {
		result.Status = StatusRejected
		result.Message = fmt.Sprintf("insufficient paper balance: need %s, have %s", cost.StringFixed(2), p.balance.StringFixed(2))
		return result, errors.Wrap(errors.ErrOrderRejected, result.Message)
	}

	p.balance = p.balance.Sub(cost)
	result.Status = StatusComplete
	result.AveragePrice = fillPrice
	result.Message = "paper fill"

	pos, ok := p.positions[req.Symbol]
	if !ok {
		p.positions[req.Symbol] = &PaperPosition{
			Symbol:       req.Symbol,
			Quantity:     req.Quantity,
			AveragePrice: fillPrice,
			OpenedAt:     now,
		}
		return result, nil
	}

	// Average up into the existing position
	oldValue := pos.AveragePrice.Mul(decimal.NewFromInt(pos.Quantity))
	pos.Quantity += req.Quantity
	pos.AveragePrice = oldValue.Add(cost).Div(decimal.NewFromInt(pos.Quantity)).Round(2)
	return result, nil
}

// ClosePosition exits a simulated position at exitPrice and returns the
// realized P&L.
func (p *PaperBroker) ClosePosition(symbol string, exitPrice decimal.Decimal) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return decimal.Zero, errors.Wrapf(errors.ErrDataNotFound, "no paper position in %s", symbol)
	}

	qty := decimal.NewFromInt(pos.Quantity)
	pnl := exitPrice.Sub(pos.AveragePrice).Mul(qty)
	p.balance = p.balance.Add(exitPrice.Mul(qty))
	delete(p.positions, symbol)
	return pnl, nil
}

// Balance returns the simulated cash balance.
func (p *PaperBroker) Balance() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}

// Positions returns a copy of the open simulated positions.
func (p *PaperBroker) Positions() []PaperPosition {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]PaperPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}

var (
	_ ChainProvider = (*PaperBroker)(nil)
	_ Gateway       = (*PaperBroker)(nil)
)
