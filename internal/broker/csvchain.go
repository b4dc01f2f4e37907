package broker

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

// chainRow is one contract in a chain snapshot file.
//
//	underlying,expiry,spot,symbol,strike,type,ltp,oi
//	NIFTY,2026-10-27,22010.5,NIFTY26O2722100CE,22100,CE,41.2,1250000
type chainRow struct {
	Underlying   string `csv:"underlying"`
	Expiry       string `csv:"expiry"`
	Spot         string `csv:"spot"`
	Symbol       string `csv:"symbol"`
	Strike       string `csv:"strike"`
	Type         string `csv:"type"`
	LastPrice    string `csv:"ltp"`
	OpenInterest int64  `csv:"oi"`
}

// CSVChainProvider serves option chains from a snapshot file. The file is
// re-read on every call so an external recorder can refresh it in place.
type CSVChainProvider struct {
	path string
	now  func() time.Time
}

// NewCSVChainProvider creates a provider reading path.
func NewCSVChainProvider(path string) *CSVChainProvider {
	return &CSVChainProvider{path: path, now: time.Now}
}

// OptionChain loads the rows for underlying and expiry. A zero expiry picks
// the nearest expiry on or after today.
func (c *CSVChainProvider) OptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(c.path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrChainUnavailable, "open %s: %v", c.path, err)
	}
	defer f.Close()

	return parseChainCSV(f, underlying, expiry, c.now())
}

func parseChainCSV(r io.Reader, underlying string, expiry time.Time, now time.Time) (*models.OptionChain, error) {
	var rows []*chainRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrapf(errors.ErrChainUnavailable, "parse chain csv: %v", err)
	}

	underlying = strings.ToUpper(underlying)
	var matching []*chainRow
	for _, row := range rows {
		if strings.EqualFold(row.Underlying, underlying) {
			matching = append(matching, row)
		}
	}
	if len(matching) == 0 {
		return nil, errors.Wrapf(errors.ErrChainUnavailable, "no rows for %s", underlying)
	}

	var wantDay string
	if expiry.IsZero() {
		today := calendar.DayKey(now)
		days := make([]string, 0, len(matching))
		for _, row := range matching {
			if row.Expiry >= today {
				days = append(days, row.Expiry)
			}
		}
		if len(days) == 0 {
			return nil, errors.Wrapf(errors.ErrChainUnavailable, "no live expiry for %s", underlying)
		}
		sort.Strings(days)
		wantDay = days[0]
	} else {
		wantDay = calendar.DayKey(expiry)
	}

	expiryTime, err := time.ParseInLocation("2006-01-02", wantDay, calendar.IST)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrChainUnavailable, "bad expiry %q", wantDay)
	}

	chain := &models.OptionChain{
		Underlying: underlying,
		Expiry:     expiryTime,
		FetchedAt:  now,
	}

	for _, row := range matching {
		if row.Expiry != wantDay {
			continue
		}
		spot, err := decimal.NewFromString(row.Spot)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrChainUnavailable, "bad spot %q for %s", row.Spot, row.Symbol)
		}
		strike, err := decimal.NewFromString(row.Strike)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrChainUnavailable, "bad strike %q for %s", row.Strike, row.Symbol)
		}
		ltp, err := decimal.NewFromString(row.LastPrice)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrChainUnavailable, "bad ltp %q for %s", row.LastPrice, row.Symbol)
		}
		typ, err := models.ParseOptionType(row.Type)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrChainUnavailable, "bad type %q for %s", row.Type, row.Symbol)
		}

		if chain.Spot.IsZero() {
			chain.Spot = spot
		}
		chain.Quotes = append(chain.Quotes, models.NewStrikeQuote(row.Symbol, strike, typ, ltp, row.OpenInterest, chain.Spot))
	}

	if chain.Len() == 0 {
		return nil, errors.Wrapf(errors.ErrChainUnavailable, "no %s rows expiring %s", underlying, wantDay)
	}
	return chain, nil
}

var _ ChainProvider = (*CSVChainProvider)(nil)
