package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"golang.org/x/time/rate"

	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/logging"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/pkg/utils"
)

// Kite accepts at most this many instruments per quote request.
const maxQuoteBatch = 500

// indexSymbols maps an underlying to the instrument that carries its spot.
var indexSymbols = map[string]string{
	"NIFTY":      "NSE:NIFTY 50",
	"BANKNIFTY":  "NSE:NIFTY BANK",
	"FINNIFTY":   "NSE:NIFTY FIN SERVICE",
	"MIDCPNIFTY": "NSE:NIFTY MID SELECT",
	"SENSEX":     "BSE:SENSEX",
}

// kiteAPI is the subset of the Kite Connect client the broker uses.
type kiteAPI interface {
	GetQuote(instruments ...string) (kiteconnect.Quote, error)
	GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error)
	PlaceOrder(variety string, orderParams kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
	GetOrderHistory(orderID string) ([]kiteconnect.Order, error)
}

// ZerodhaConfig holds configuration for the Kite Connect client.
type ZerodhaConfig struct {
	APIKey      string
	AccessToken string
	Exchange    models.Exchange
	Product     models.ProductType
	// RequestsPerSecond paces every API call. Kite allows one quote call per second.
	RequestsPerSecond float64
	Retry             utils.RetryConfig
	// FillTimeout bounds how long Execute polls for a terminal order status.
	FillTimeout  time.Duration
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// DefaultZerodhaConfig returns conservative pacing for the Kite API.
func DefaultZerodhaConfig() ZerodhaConfig {
	return ZerodhaConfig{
		Exchange:          models.NFO,
		Product:           models.ProductMIS,
		RequestsPerSecond: 1,
		Retry:             utils.DefaultRetryConfig(),
		FillTimeout:       10 * time.Second,
		PollInterval:      500 * time.Millisecond,
		Logger:            zerolog.Nop(),
	}
}

// ZerodhaBroker serves option chains and places orders through Kite Connect.
type ZerodhaBroker struct {
	client  kiteAPI
	cfg     ZerodhaConfig
	limiter *rate.Limiter
	now     func() time.Time

	mu             sync.Mutex
	instruments    kiteconnect.Instruments
	instrumentsDay string
}

// NewZerodhaBroker creates a broker backed by a Kite Connect session.
func NewZerodhaBroker(cfg ZerodhaConfig) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)
	return newZerodhaBroker(client, cfg)
}

func newZerodhaBroker(client kiteAPI, cfg ZerodhaConfig) *ZerodhaBroker {
	def := DefaultZerodhaConfig()
	if cfg.Exchange == "" {
		cfg.Exchange = def.Exchange
	}
	if cfg.Product == "" {
		cfg.Product = def.Product
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = retryableKiteError
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = def.FillTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}

	return &ZerodhaBroker{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		now:     time.Now,
	}
}

// retryableKiteError retries throttling and server-side failures only.
func retryableKiteError(err error) bool {
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) {
		return kerr.Code == 429 || kerr.Code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// call runs one paced, retried API request and logs its latency.
func call[T any](ctx context.Context, z *ZerodhaBroker, endpoint string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := utils.RetryWithResult(ctx, z.cfg.Retry, func() (T, error) {
		if err := z.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return fn()
	})
	logging.LogAPICall(z.cfg.Logger, "kite", endpoint, time.Since(start), err)

	var kerr kiteconnect.Error
	if errors.As(err, &kerr) && kerr.Code == 429 {
		err = fmt.Errorf("%s: %w: %w", endpoint, errors.ErrRateLimited, err)
	}
	return result, err
}

// spotSymbol returns the quote key for an underlying's spot price.
func spotSymbol(underlying string) string {
	if s, ok := indexSymbols[underlying]; ok {
		return s
	}
	return "NSE:" + underlying
}

// OptionChain fetches spot, filters the day's instrument dump to the
// underlying and expiry, and quotes every contract in batches.
func (z *ZerodhaBroker) OptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error) {
	underlying = strings.ToUpper(underlying)

	spotKey := spotSymbol(underlying)
	spotQuote, err := call(ctx, z, "quote", func() (kiteconnect.Quote, error) {
		return z.client.GetQuote(spotKey)
	})
	if err != nil {
		return nil, errors.Wrap(errors.NewBrokerError("QUOTE_FAILED", spotKey, err), "spot quote")
	}
	spot, ok := spotQuote[spotKey]
	if !ok || spot.LastPrice <= 0 {
		return nil, errors.Wrapf(errors.ErrChainUnavailable, "no spot price for %s", underlying)
	}

	instruments, err := z.loadInstruments(ctx)
	if err != nil {
		return nil, err
	}

	contracts := optionContracts(instruments, underlying)
	if len(contracts) == 0 {
		return nil, errors.Wrapf(errors.ErrChainUnavailable, "no listed options for %s", underlying)
	}

	var wantDay string
	if expiry.IsZero() {
		wantDay = nearestExpiry(contracts, calendar.DayKey(z.now()))
	} else {
		wantDay = calendar.DayKey(expiry)
	}
	if wantDay == "" {
		return nil, errors.Wrapf(errors.ErrChainUnavailable, "no live expiry for %s", underlying)
	}

	var selected []kiteconnect.Instrument
	for _, inst := range contracts {
		if calendar.DayKey(inst.Expiry.Time) == wantDay {
			selected = append(selected, inst)
		}
	}
	if len(selected) == 0 {
		return nil, errors.Wrapf(errors.ErrChainUnavailable, "no %s options expiring %s", underlying, wantDay)
	}

	spotPrice := decimal.NewFromFloat(spot.LastPrice)
	chain := &models.OptionChain{
		Underlying: underlying,
		Spot:       spotPrice,
		Expiry:     selected[0].Expiry.Time,
		FetchedAt:  z.now(),
		Quotes:     make([]models.StrikeQuote, 0, len(selected)),
	}

	for start := 0; start < len(selected); start += maxQuoteBatch {
		end := start + maxQuoteBatch
		if end > len(selected) {
			end = len(selected)
		}
		batch := selected[start:end]

		keys := make([]string, len(batch))
		for i, inst := range batch {
			keys[i] = inst.Exchange + ":" + inst.Tradingsymbol
		}
		quotes, err := call(ctx, z, "quote", func() (kiteconnect.Quote, error) {
			return z.client.GetQuote(keys...)
		})
		if err != nil {
			return nil, errors.Wrap(errors.NewBrokerError("QUOTE_FAILED", underlying, err), "option quotes")
		}

		for i, inst := range batch {
			q, ok := quotes[keys[i]]
			if !ok {
				continue // Not traded yet
			}
			typ, err := models.ParseOptionType(inst.InstrumentType)
			if err != nil {
				continue
			}
			chain.Quotes = append(chain.Quotes, models.NewStrikeQuote(
				inst.Tradingsymbol,
				decimal.NewFromFloat(inst.StrikePrice),
				typ,
				decimal.NewFromFloat(q.LastPrice),
				int64(q.OI),
				spotPrice,
			))
		}
	}

	if chain.Len() == 0 {
		return nil, errors.Wrapf(errors.ErrChainUnavailable, "no quotes returned for %s", underlying)
	}
	return chain, nil
}

// loadInstruments returns the options exchange's instrument dump, fetched
// at most once per IST day.
func (z *ZerodhaBroker) loadInstruments(ctx context.Context) (kiteconnect.Instruments, error) {
	today := calendar.DayKey(z.now())

	z.mu.Lock()
	if z.instrumentsDay == today && len(z.instruments) > 0 {
		cached := z.instruments
		z.mu.Unlock()
		return cached, nil
	}
	z.mu.Unlock()

	exchange := string(z.cfg.Exchange)
	instruments, err := call(ctx, z, "instruments", func() (kiteconnect.Instruments, error) {
		return z.client.GetInstrumentsByExchange(exchange)
	})
	if err != nil {
		return nil, errors.Wrap(errors.NewBrokerError("INSTRUMENTS_FAILED", exchange, err), "instrument dump")
	}

	z.mu.Lock()
	z.instruments = instruments
	z.instrumentsDay = today
	z.mu.Unlock()
	return instruments, nil
}

// optionContracts keeps the CE/PE contracts of one underlying.
func optionContracts(all kiteconnect.Instruments, underlying string) []kiteconnect.Instrument {
	var out []kiteconnect.Instrument
	for _, inst := range all {
		if inst.Name != underlying {
			continue
		}
		if inst.InstrumentType != "CE" && inst.InstrumentType != "PE" {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// nearestExpiry returns the earliest expiry day on or after today.
func nearestExpiry(contracts []kiteconnect.Instrument, today string) string {
	days := make([]string, 0, len(contracts))
	for _, inst := range contracts {
		day := calendar.DayKey(inst.Expiry.Time)
		if day >= today {
			days = append(days, day)
		}
	}
	if len(days) == 0 {
		return ""
	}
	sort.Strings(days)
	return days[0]
}

// Execute places a market entry and waits for a terminal status. When the
// status is still open after FillTimeout it returns ErrOrderPending.
func (z *ZerodhaBroker) Execute(ctx context.Context, d *models.SizingDecision) (*models.OrderResult, error) {
	req, err := NewOrderRequest(d, z.cfg.Exchange, z.cfg.Product)
	if err != nil {
		return nil, err
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(req.Exchange),
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.Side),
		OrderType:       string(req.Type),
		Product:         string(req.Product),
		Quantity:        int(req.Quantity),
		Validity:        kiteconnect.ValidityDay,
		Tag:             req.Tag,
	}

	// Order placement is not retried: a timed-out request may still have
	// reached the exchange.
	if err := z.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	logging.LogAPICall(z.cfg.Logger, "kite", "place_order", time.Since(start), err)
	if err != nil {
		return nil, errors.NewBrokerError("ORDER_FAILED", req.String()+": "+err.Error(), errors.ErrOrderRejected)
	}
	logging.LogOrder(z.cfg.Logger, resp.OrderID, req.Symbol, req.Quantity, "PLACED")

	return z.awaitFill(ctx, resp.OrderID, req)
}

func (z *ZerodhaBroker) awaitFill(ctx context.Context, orderID string, req OrderRequest) (*models.OrderResult, error) {
	result := &models.OrderResult{
		OrderID:  orderID,
		Symbol:   req.Symbol,
		Status:   "OPEN",
		Quantity: req.Quantity,
	}

	deadline := time.NewTimer(z.cfg.FillTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(z.cfg.PollInterval)
	defer ticker.Stop()

	for {
		history, err := call(ctx, z, "order_history", func() ([]kiteconnect.Order, error) {
			return z.client.GetOrderHistory(orderID)
		})
		if err == nil && len(history) > 0 {
			last := history[len(history)-1]
			result.Status = last.Status
			result.Message = last.StatusMessage
			result.Timestamp = z.now()

			switch last.Status {
			case StatusComplete:
				result.AveragePrice = decimal.NewFromFloat(last.AveragePrice)
				result.Quantity = int64(last.FilledQuantity)
				logging.LogOrder(z.cfg.Logger, orderID, req.Symbol, result.Quantity, last.Status)
				return result, nil
			case StatusRejected, "CANCELLED":
				logging.LogOrder(z.cfg.Logger, orderID, req.Symbol, req.Quantity, last.Status)
				return result, errors.Wrapf(errors.ErrOrderRejected, "%s: %s", last.Status, last.StatusMessage)
			}
		}

		select {
		case <-ctx.Done():
			return result, fmt.Errorf("%w: %v", errors.ErrOrderPending, ctx.Err())
		case <-deadline.C:
			z.cfg.Logger.Warn().Str("order_id", orderID).Str("status", result.Status).Msg("Order not confirmed in time")
			return result, errors.ErrOrderPending
		case <-ticker.C:
		}
	}
}

var (
	_ ChainProvider = (*ZerodhaBroker)(nil)
	_ Gateway       = (*ZerodhaBroker)(nil)
)
