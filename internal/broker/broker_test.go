package broker

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"

	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/pkg/utils"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func acceptedDecision(symbol string, ltp string, lots, mult int64) *models.SizingDecision {
	q := models.NewStrikeQuote(symbol, dec("22100"), models.OptionCall, dec(ltp), 1_000_000, dec("22000"))
	return &models.SizingDecision{
		ID:            "3f2a9c4e-7d21-4f0a-9b1e-5c8d2e6f1a7b",
		Underlying:    "NIFTY",
		Strike:        &q,
		Lots:          lots,
		LotMultiplier: mult,
		PositionValue: dec(ltp).Mul(decimal.NewFromInt(lots * mult)),
	}
}

type fakeKite struct {
	mu          sync.Mutex
	quotes      map[string]float64
	oi          map[string]float64
	instruments kiteconnect.Instruments
	quoteCalls  [][]string
	instCalls   int
	placed      []kiteconnect.OrderParams
	placeErr    error
	quoteErr    error
	history     []kiteconnect.Order
}

func (f *fakeKite) GetQuote(instruments ...string) (kiteconnect.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls = append(f.quoteCalls, instruments)
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}

	out := kiteconnect.Quote{}
	for _, key := range instruments {
		ltp, ok := f.quotes[key]
		if !ok {
			continue
		}
		q := out[key]
		q.LastPrice = ltp
		q.OI = f.oi[key]
		out[key] = q
	}
	return out, nil
}

func (f *fakeKite) GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instCalls++
	return f.instruments, nil
}

func (f *fakeKite) PlaceOrder(variety string, params kiteconnect.OrderParams) (kiteconnect.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return kiteconnect.OrderResponse{}, f.placeErr
	}
	f.placed = append(f.placed, params)
	return kiteconnect.OrderResponse{OrderID: "240101000000001"}, nil
}

func (f *fakeKite) GetOrderHistory(orderID string) ([]kiteconnect.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func option(symbol string, strike float64, typ string, expiry time.Time) kiteconnect.Instrument {
	return kiteconnect.Instrument{
		Tradingsymbol:  symbol,
		Name:           "NIFTY",
		Exchange:       "NFO",
		InstrumentType: typ,
		StrikePrice:    strike,
		LotSize:        75,
		Expiry:         kitemodels.Time{Time: expiry},
	}
}

func newFakeBroker(f *fakeKite, now time.Time) *ZerodhaBroker {
	z := newZerodhaBroker(f, ZerodhaConfig{
		RequestsPerSecond: 1000,
		Retry:             utils.RetryConfig{MaxAttempts: 1},
		FillTimeout:       50 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
	})
	z.now = func() time.Time { return now }
	return z
}

func TestZerodhaOptionChain_NearestExpiry(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, calendar.IST)
	near := time.Date(2026, 10, 27, 0, 0, 0, 0, time.UTC)
	far := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)
	expired := time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)

	f := &fakeKite{
		quotes: map[string]float64{
			"NSE:NIFTY 50":          22010.5,
			"NFO:NIFTY26O2722100CE": 41.2,
			"NFO:NIFTY26O2721900PE": 38.0,
			"NFO:NIFTY26N0322100CE": 90.0,
			"NFO:NIFTY26O1322100CE": 0.05,
		},
		oi: map[string]float64{
			"NFO:NIFTY26O2722100CE": 1_250_000,
			"NFO:NIFTY26O2721900PE": 980_000,
		},
		instruments: kiteconnect.Instruments{
			option("NIFTY26O2722100CE", 22100, "CE", near),
			option("NIFTY26O2721900PE", 21900, "PE", near),
			option("NIFTY26O2722200CE", 22200, "CE", near), // no quote
			option("NIFTY26N0322100CE", 22100, "CE", far),
			option("NIFTY26O1322100CE", 22100, "CE", expired),
			{Tradingsymbol: "NIFTY26OCTFUT", Name: "NIFTY", Exchange: "NFO", InstrumentType: "FUT", Expiry: kitemodels.Time{Time: near}},
		},
	}
	z := newFakeBroker(f, now)

	chain, err := z.OptionChain(context.Background(), "nifty", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if chain.Underlying != "NIFTY" || !chain.Spot.Equal(dec("22010.5")) {
		t.Errorf("chain header = %s %s", chain.Underlying, chain.Spot)
	}
	if chain.Len() != 2 {
		t.Fatalf("quotes = %d, want 2 (near expiry, quoted only)", chain.Len())
	}

	ce, ok := chain.Find(dec("22100"), models.OptionCall)
	if !ok {
		t.Fatal("22100 CE missing")
	}
	if ce.OpenInterest != 1_250_000 || !ce.LastPrice.Equal(dec("41.2")) {
		t.Errorf("22100 CE = %+v", ce)
	}
	if !ce.UnderlyingDistance.Equal(dec("89.5")) {
		t.Errorf("distance = %s", ce.UnderlyingDistance)
	}

	// Instrument dump is cached for the day.
	if _, err := z.OptionChain(context.Background(), "NIFTY", near); err != nil {
		t.Fatal(err)
	}
	if f.instCalls != 1 {
		t.Errorf("instrument dump fetched %d times", f.instCalls)
	}
}

func TestZerodhaOptionChain_BatchesQuotes(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, calendar.IST)
	expiry := time.Date(2026, 10, 27, 0, 0, 0, 0, time.UTC)

	f := &fakeKite{quotes: map[string]float64{"NSE:NIFTY 50": 22000}, oi: map[string]float64{}}
	for i := 0; i < 1200; i++ {
		sym := "NIFTYX" + strconv.Itoa(i) + "CE"
		f.instruments = append(f.instruments, option(sym, float64(20000+i*50), "CE", expiry))
		f.quotes["NFO:"+sym] = 10
		f.oi["NFO:"+sym] = 100
	}
	z := newFakeBroker(f, now)

	chain, err := z.OptionChain(context.Background(), "NIFTY", expiry)
	if err != nil {
		t.Fatal(err)
	}
	if chain.Len() != 1200 {
		t.Errorf("quotes = %d", chain.Len())
	}
	// One spot call plus ceil(1200/500) option batches.
	if len(f.quoteCalls) != 4 {
		t.Errorf("quote calls = %d, want 4", len(f.quoteCalls))
	}
	for _, batch := range f.quoteCalls {
		if len(batch) > maxQuoteBatch {
			t.Errorf("batch of %d exceeds limit", len(batch))
		}
	}
}

func TestZerodhaOptionChain_NoSpot(t *testing.T) {
	z := newFakeBroker(&fakeKite{}, time.Now())
	_, err := z.OptionChain(context.Background(), "BANKNIFTY", time.Time{})
	if !errors.Is(err, errors.ErrChainUnavailable) {
		t.Errorf("expected ErrChainUnavailable, got %v", err)
	}
}

func TestZerodhaExecute_Filled(t *testing.T) {
	f := &fakeKite{history: []kiteconnect.Order{
		{Status: "OPEN"},
		{Status: "COMPLETE", AveragePrice: 40.5, FilledQuantity: 150},
	}}
	z := newFakeBroker(f, time.Now())

	res, err := z.Execute(context.Background(), acceptedDecision("NIFTY26O2722100CE", "40", 2, 75))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusComplete || res.Quantity != 150 || !res.AveragePrice.Equal(dec("40.5")) {
		t.Errorf("result = %+v", res)
	}

	p := f.placed[0]
	if p.Tradingsymbol != "NIFTY26O2722100CE" || p.Quantity != 150 || p.TransactionType != "BUY" ||
		p.OrderType != "MARKET" || p.Product != "MIS" || p.Exchange != "NFO" {
		t.Errorf("order params = %+v", p)
	}
	if len(p.Tag) > 20 {
		t.Errorf("tag %q too long", p.Tag)
	}
}

func TestZerodhaExecute_Rejected(t *testing.T) {
	f := &fakeKite{history: []kiteconnect.Order{{Status: "REJECTED", StatusMessage: "margin"}}}
	z := newFakeBroker(f, time.Now())

	_, err := z.Execute(context.Background(), acceptedDecision("NIFTY26O2722100CE", "40", 1, 75))
	if !errors.Is(err, errors.ErrOrderRejected) {
		t.Errorf("expected ErrOrderRejected, got %v", err)
	}
}

func TestZerodhaExecute_PlaceFails(t *testing.T) {
	f := &fakeKite{placeErr: kiteconnect.Error{Code: 400, Message: "bad input"}}
	z := newFakeBroker(f, time.Now())

	_, err := z.Execute(context.Background(), acceptedDecision("NIFTY26O2722100CE", "40", 1, 75))
	if !errors.Is(err, errors.ErrOrderRejected) {
		t.Errorf("expected ErrOrderRejected, got %v", err)
	}
}

func TestZerodhaExecute_Unconfirmed(t *testing.T) {
	f := &fakeKite{history: []kiteconnect.Order{{Status: "OPEN"}}}
	z := newFakeBroker(f, time.Now())

	res, err := z.Execute(context.Background(), acceptedDecision("NIFTY26O2722100CE", "40", 1, 75))
	if !errors.Is(err, errors.ErrOrderPending) {
		t.Fatalf("expected ErrOrderPending, got %v", err)
	}
	if res == nil || res.OrderID == "" {
		t.Error("pending result should still carry the order id")
	}
}

func TestRetryableKiteError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{kiteconnect.Error{Code: 429}, true},
		{kiteconnect.Error{Code: 503}, true},
		{kiteconnect.Error{Code: 403}, false},
		{context.Canceled, false},
		{errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		if got := retryableKiteError(tt.err); got != tt.want {
			t.Errorf("retryableKiteError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestNewOrderRequest_RejectsUntradable(t *testing.T) {
	rejected := models.Rejected("NIFTY", models.ReasonNoQualifyingStrike)
	if _, err := NewOrderRequest(rejected, models.NFO, models.ProductMIS); !errors.Is(err, errors.ErrOrderRejected) {
		t.Errorf("expected ErrOrderRejected, got %v", err)
	}

	noSymbol := acceptedDecision("", "40", 1, 75)
	if _, err := NewOrderRequest(noSymbol, models.NFO, models.ProductMIS); err == nil {
		t.Error("expected error for missing symbol")
	}
}

// Property: For any accepted decision, the order request is a market buy of
// exactly lots * multiplier contracts of the chosen strike.
func TestProperty_OrderRequestMatchesDecision(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("order quantity equals lots times multiplier", prop.ForAll(
		func(lots, mult int64, exchange models.Exchange, product models.ProductType) bool {
			d := acceptedDecision("NIFTY26O2722100CE", "40", lots, mult)
			req, err := NewOrderRequest(d, exchange, product)
			if err != nil {
				return false
			}
			return req.Quantity == lots*mult &&
				req.Side == models.OrderSideBuy &&
				req.Type == models.OrderTypeMarket &&
				req.Exchange == exchange &&
				req.Product == product &&
				len(req.Tag) <= 20 &&
				strings.HasPrefix(d.ID, req.Tag)
		},
		gen.Int64Range(1, 500),
		gen.OneConstOf(int64(15), int64(25), int64(50), int64(75)),
		gen.OneConstOf(models.NFO, models.BFO),
		gen.OneConstOf(models.ProductMIS, models.ProductNRML),
	))

	properties.TestingRun(t)
}

func TestZerodhaOptionChain_RateLimited(t *testing.T) {
	f := &fakeKite{quoteErr: kiteconnect.Error{Code: 429, Message: "Too many requests"}}
	z := newFakeBroker(f, time.Date(2026, 10, 19, 10, 0, 0, 0, calendar.IST))

	_, err := z.OptionChain(context.Background(), "NIFTY", time.Time{})
	if !errors.Is(err, errors.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	var kerr kiteconnect.Error
	if !errors.As(err, &kerr) || kerr.Code != 429 {
		t.Errorf("kite error not preserved: %v", err)
	}
}
