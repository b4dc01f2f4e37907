package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/broker"
	"oi-lot-manager/internal/budget"
	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/engine"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/internal/notify"
	"oi-lot-manager/internal/oi"
	"oi-lot-manager/internal/resilience"
	"oi-lot-manager/internal/signal"
	"oi-lot-manager/internal/sizing"
	"oi-lot-manager/internal/store"
	"oi-lot-manager/internal/strike"
)

// runtimeOptions are per-invocation overrides of the config.
type runtimeOptions struct {
	ChainFile   string
	Signal      signal.Source
	IgnoreHours bool
	// LedgerOnly skips the chain, gateway and signal wiring for commands
	// that only book closes or read the ledger.
	LedgerOnly bool
	// Terminal receives notifications in the foreground when set.
	Terminal io.Writer
}

// runtime is a fully wired engine plus the pieces commands inspect
// directly.
type runtime struct {
	Engine   engine.Runner
	Tracker  *budget.Tracker
	Calendar *calendar.NSE
	Chains   broker.ChainProvider
	Paper    *broker.PaperBroker
	Notifier *notify.MultiNotifier
	Terminal *notify.TerminalNotifier
}

// alwaysOpen lets offline runs against a chain snapshot size outside market
// hours.
type alwaysOpen struct {
	calendar.Calendar
}

func (alwaysOpen) IsTradingNow() bool { return true }

// openStore opens the SQLite journal and, when configured, the Redis
// mirror. A Redis failure is logged and ignored.
func (a *App) openStore() (*store.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	db, err := store.NewSQLiteStore(a.Config.Store.Path)
	if err != nil {
		return nil, err
	}
	a.store = db
	a.Logger.Debug().Str("path", a.Config.Store.Path).Msg("SQLite store initialized")

	if addr := a.Config.Store.RedisAddr; addr != "" {
		mirror, err := store.NewRedisMirror(store.RedisConfig{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       a.Config.Store.RedisDB,
			Prefix:   a.Config.Store.RedisPrefix,
		})
		if err != nil {
			a.Logger.Warn().Err(err).Str("addr", addr).Msg("Redis mirror unavailable, continuing without it")
		} else {
			a.redis = mirror
			a.Logger.Debug().Str("addr", addr).Msg("Redis mirror initialized")
		}
	}
	return db, nil
}

// newTracker builds the budget tracker and restores today's ledger from the
// journal.
func (a *App) newTracker(ctx context.Context, db *store.SQLiteStore) (*budget.Tracker, error) {
	persist := store.Persisters{db}
	if a.redis != nil {
		persist = append(persist, a.redis)
	}

	tracker := budget.NewTracker(a.Config.Budget(),
		budget.WithPersister(persist),
		budget.WithLogger(a.Logger),
	)

	today := calendar.DayKey(time.Now())
	ledger, err := db.LoadLedger(ctx, today)
	switch {
	case err == nil:
		if tracker.Restore(ledger) {
			a.Logger.Info().
				Str("day", ledger.Day).
				Str("state", string(ledger.State)).
				Int("trades", ledger.TradesTakenToday).
				Str("pnl", ledger.RealizedPnLToday.StringFixed(2)).
				Msg("Ledger restored")
		}
	case errors.Is(err, errors.ErrDataNotFound):
	default:
		return nil, err
	}
	return tracker, nil
}

// chainProvider picks the chain source: an explicit CSV snapshot, the
// configured one, or Kite quotes behind a circuit breaker.
func (a *App) chainProvider(chainFile string) (broker.ChainProvider, *broker.ZerodhaBroker, error) {
	cfg := a.Config
	if chainFile == "" {
		chainFile = cfg.Trading.ChainFile
	}
	kite := a.kiteBroker()

	if chainFile != "" {
		a.Logger.Debug().Str("file", chainFile).Msg("Using CSV option chain")
		return broker.NewCSVChainProvider(chainFile), kite, nil
	}
	if kite == nil {
		return nil, nil, errors.Wrap(errors.ErrConfigInvalid,
			"no chain source: set trading.chain_file or Kite credentials")
	}
	guard := resilience.New("kite-chain", resilience.DefaultConfig(), resilience.WithLogger(a.Logger))
	return resilience.GuardChains(kite, guard), kite, nil
}

func (a *App) kiteBroker() *broker.ZerodhaBroker {
	creds := a.Config.Credentials.Kite
	if creds.APIKey == "" || creds.AccessToken == "" {
		return nil
	}
	zc := broker.DefaultZerodhaConfig()
	zc.APIKey = creds.APIKey
	zc.AccessToken = creds.AccessToken
	zc.Exchange = models.Exchange(a.Config.Trading.Exchange)
	zc.Product = models.ProductType(a.Config.Trading.Product)
	zc.Logger = a.Logger
	return broker.NewZerodhaBroker(zc)
}

// buildRuntime wires the engine from config. It is built once per process.
func (a *App) buildRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	if a.rt != nil {
		return a.rt, nil
	}
	cfg := a.Config

	db, err := a.openStore()
	if err != nil {
		return nil, err
	}
	tracker, err := a.newTracker(ctx, db)
	if err != nil {
		return nil, err
	}

	nse := calendar.NewNSE(
		calendar.WithHolidays(cfg.Trading.Holidays...),
		calendar.WithLastRollover(tracker.Snapshot().Day),
	)
	var cal calendar.Calendar = nse
	if opts.IgnoreHours {
		cal = alwaysOpen{nse}
	}

	rt := &runtime{Tracker: tracker, Calendar: nse}
	rt.Notifier = notify.NewMultiNotifier(&cfg.Notifications)
	if opts.Terminal != nil {
		rt.Terminal = notify.NewTerminalNotifier(opts.Terminal, 100)
		rt.Notifier.AddChannel(rt.Terminal)
	}

	deps := engine.Deps{
		Calendar:   cal,
		Classifier: oi.NewClassifier(oi.ThresholdsFromConfig(cfg.Selection)),
		Selector:   strike.NewSelector(strike.BandFromConfig(cfg.Selection.OTMBand)),
		Sizer:      sizing.NewSizer(sizing.ParamsFromConfig(cfg)),
		Tracker:    tracker,
		Journal:    db,
		Alerts:     rt.Notifier,
		Logger:     a.Logger,
	}
	if !opts.LedgerOnly {
		if err := a.wireMarket(rt, &deps, opts); err != nil {
			return nil, err
		}
	}
	rt.Engine = engine.Observe(engine.New(deps), a.Metrics, a.Logger)

	a.Logger.Debug().
		Str("mode", cfg.Trading.Mode).
		Bool("ledger_only", opts.LedgerOnly).
		Bool("ignore_hours", opts.IgnoreHours).
		Msg("Engine initialized")

	a.rt = rt
	return rt, nil
}

// wireMarket adds the chain source, order gateway and signal source.
func (a *App) wireMarket(rt *runtime, deps *engine.Deps, opts runtimeOptions) error {
	cfg := a.Config

	chains, kite, err := a.chainProvider(opts.ChainFile)
	if err != nil {
		return err
	}
	rt.Chains = chains
	deps.Chains = chains

	if cfg.IsPaperMode() {
		rt.Paper = broker.NewPaperBroker(broker.PaperBrokerConfig{
			DataProvider:   chains,
			InitialBalance: decimal.NewFromFloat(cfg.Trading.PaperCapital),
			Exchange:       models.Exchange(cfg.Trading.Exchange),
			Product:        models.ProductType(cfg.Trading.Product),
		})
		deps.Gateway = rt.Paper
	} else {
		if kite == nil {
			return errors.Wrap(errors.ErrConfigInvalid, "live mode needs Kite credentials")
		}
		deps.Gateway = kite
	}

	deps.Signals = opts.Signal
	if deps.Signals == nil {
		if deps.Signals, err = signal.FromConfig(cfg); err != nil {
			return err
		}
	}
	return nil
}

// parseExpiry parses --expiry. Empty means the nearest listed expiry.
func parseExpiry(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, calendar.IST)
	if err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrConfigInvalid, "expiry %q must be YYYY-MM-DD", s)
	}
	return t, nil
}
