package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/engine"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/internal/server"
	"oi-lot-manager/internal/signal"
	"oi-lot-manager/internal/store"
)

func addCycleCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newCycleCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
}

// cycleView is the JSON form of one cycle.
type cycleView struct {
	Underlying string              `json:"underlying"`
	Score      float64             `json:"score"`
	Confidence float64             `json:"confidence"`
	Spot       string              `json:"spot,omitempty"`
	PCR        string              `json:"pcr,omitempty"`
	Candidates int                 `json:"candidates"`
	Decision   server.DecisionView `json:"decision"`
	StopLoss   string              `json:"stop_loss,omitempty"`
	Target     string              `json:"target,omitempty"`
	Order      *models.OrderResult `json:"order,omitempty"`
	Error      string              `json:"error,omitempty"`
	Ledger     server.LedgerView   `json:"ledger"`
}

func newCycleView(res *engine.CycleResult, order *models.OrderResult, execErr error, st models.DailyStatus) cycleView {
	d := res.Decision
	outcome := models.OutcomeSkipped
	switch {
	case order != nil && execErr == nil:
		outcome = models.OutcomeFilled
	case errors.Is(execErr, errors.ErrOrderPending):
		outcome = models.OutcomePending
	case execErr != nil:
		outcome = models.OutcomeRejected
	}

	v := cycleView{
		Underlying: res.Underlying,
		Score:      res.Signal.Score,
		Confidence: res.Signal.Confidence,
		Candidates: res.Considered,
		Order:      order,
		Ledger:     server.NewLedgerView(st),
	}
	rec := store.DecisionRecord{Decision: *d, Day: calendar.DayKey(d.CreatedAt), Outcome: outcome}
	if order != nil {
		rec.OrderID = order.OrderID
	}
	v.Decision = server.NewDecisionView(rec)
	if res.Chain != nil {
		v.Spot = res.Chain.Spot.StringFixed(2)
		v.PCR = FormatPCR(res.Chain)
	}
	if d.Accepted() {
		v.StopLoss = d.StopLossPrice.StringFixed(2)
		v.Target = d.TargetPrice.StringFixed(2)
	}
	if execErr != nil {
		v.Error = execErr.Error()
	}
	return v
}

func newCycleCmd(app *App) *cobra.Command {
	var (
		underlying  string
		expiry      string
		chainFile   string
		score       float64
		confidence  float64
		execute     bool
		ignoreHours bool
	)

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one sizing cycle",
		Long: `Run one sizing cycle for an underlying and print the decision.

Without --execute the reserved budget is released again, so a dry run never
counts against the daily limits. --score overrides the configured signal.`,
		Example: `  oilm cycle --underlying NIFTY
  oilm cycle --chain nifty.csv --score 0.6 --confidence 0.7 --ignore-hours
  oilm cycle --underlying BANKNIFTY --expiry 2026-10-27 --execute`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			opts := runtimeOptions{ChainFile: chainFile, IgnoreHours: ignoreHours}
			if cmd.Flags().Changed("score") {
				opts.Signal = signal.NewStatic(score, confidence)
			}
			rt, err := app.buildRuntime(ctx, opts)
			if err != nil {
				return err
			}

			exp, err := parseExpiry(expiry)
			if err != nil {
				return err
			}
			if underlying == "" {
				underlying = app.Config.Trading.Underlyings[0]
			}

			res, err := rt.Engine.RunCycle(ctx, strings.ToUpper(underlying), exp)
			if err != nil {
				return err
			}

			var order *models.OrderResult
			var execErr error
			if res.Actionable() {
				if execute {
					order, execErr = rt.Engine.Execute(ctx, res)
				} else if err := rt.Engine.Release(res); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				if err := output.JSON(newCycleView(res, order, execErr, rt.Engine.Status())); err != nil {
					return err
				}
			} else {
				printCycle(output, res)
				printExecution(output, res, order, execErr, execute)
			}

			if execErr != nil && !errors.Is(execErr, errors.ErrOrderPending) {
				return execErr
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&underlying, "underlying", "u", "", "index to size (default: first configured underlying)")
	cmd.Flags().StringVar(&expiry, "expiry", "", "option expiry YYYY-MM-DD (default: nearest)")
	cmd.Flags().StringVar(&chainFile, "chain", "", "option chain CSV snapshot instead of live quotes")
	cmd.Flags().Float64Var(&score, "score", 0, "directional score in [-1, 1], overrides the signal source")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.5, "confidence in [0, 1] used with --score")
	cmd.Flags().BoolVar(&execute, "execute", false, "place the order for an accepted decision")
	cmd.Flags().BoolVar(&ignoreHours, "ignore-hours", false, "size outside market hours (snapshots and testing)")

	return cmd
}

func printCycle(output *Output, res *engine.CycleResult) {
	d := res.Decision

	header := output.BoldText(res.Underlying)
	if res.Chain != nil {
		header += fmt.Sprintf("  spot %s  PCR %s", FormatINR(res.Chain.Spot), FormatPCR(res.Chain))
	}
	if res.Signal.Source != "" || res.Signal.Score != 0 {
		header += fmt.Sprintf("  signal %s (%s)", FormatScore(res.Signal.Score), FormatConfidence(res.Signal.Confidence))
	}
	output.Println(header)

	if res.Tiers != nil {
		output.Dim("OI tiers: HIGH %d  MEDIUM %d  LOW %d  EXCLUDED %d  (%d candidates sized)",
			res.Tiers.Count(models.TierHigh), res.Tiers.Count(models.TierMedium),
			res.Tiers.Count(models.TierLow), res.Tiers.Count(models.TierExcluded), res.Considered)
	}

	if !d.Accepted() {
		output.Warning("✗ No entry: %s", d.RejectionReason)
		return
	}

	q := d.Strike
	output.Success("✓ BUY %d lots (%s) %s @ %s  tier %s  OTM %s pts",
		d.Lots, FormatQuantity(d.Quantity()), d.Symbol(), FormatINR(q.LastPrice),
		d.Tier, q.OTMDistance().StringFixed(0))
	output.Printf("  Position %s  Risk %s  SL %s  Target %s\n",
		FormatINR(d.PositionValue), FormatINR(d.RiskAmount),
		FormatINR(d.StopLossPrice), FormatINR(d.TargetPrice))
}

func printExecution(output *Output, res *engine.CycleResult, order *models.OrderResult, execErr error, execute bool) {
	switch {
	case !res.Decision.Accepted():
	case !execute:
		output.Dim("Dry run: budget released. Use --execute to place the order.")
	case execErr == nil:
		output.Success("Order %s %s %s @ %s", order.OrderID, order.Status,
			FormatQuantity(order.Quantity), FormatINR(order.AveragePrice))
	case errors.Is(execErr, errors.ErrOrderPending):
		id := ""
		if order != nil {
			id = order.OrderID
		}
		output.Warning("Order %s not confirmed yet; budget stays committed.", id)
	default:
		output.Error("Order failed: %v", execErr)
	}
}

func newRunCmd(app *App) *cobra.Command {
	var (
		chainFile   string
		interval    time.Duration
		execute     bool
		serve       bool
		ignoreHours bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run sizing cycles on every configured underlying until stopped",
		Long: `Run a sizing cycle for each configured underlying every cycle interval while
the market is open. Halts, fills and loss warnings are sent to the configured
notification channels and echoed to the terminal.

Stop with Ctrl-C; the day's summary is sent on exit.`,
		Example: `  oilm run
  oilm run --execute --serve
  oilm run --chain nifty.csv --interval 30s --ignore-hours`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			rt, err := app.buildRuntime(ctx, runtimeOptions{
				ChainFile:   chainFile,
				IgnoreHours: ignoreHours,
				Terminal:    cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			rt.Terminal.Start(ctx)
			defer rt.Terminal.Flush()

			if interval <= 0 {
				interval = app.Config.Trading.CycleInterval
			}

			if serve {
				srv := server.New(rt.Engine, app.store, app.Metrics.Handler(), app.Logger)
				go func() {
					if err := srv.ListenAndServe(ctx, app.Config.Server.Listen); err != nil {
						app.Logger.Error().Err(err).Msg("Status server stopped")
					}
				}()
			}

			output.Info("Running %v every %s (mode %s, execute %v)",
				app.Config.Trading.Underlyings, interval, app.Config.Trading.Mode, execute)

			loop := &cycleLoop{
				app:         app,
				rt:          rt,
				output:      output,
				execute:     execute,
				ignoreHours: ignoreHours,
			}
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				if err := loop.tick(ctx); err != nil {
					loop.summary(context.Background())
					return err
				}
				select {
				case <-ctx.Done():
					loop.summary(context.Background())
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().StringVar(&chainFile, "chain", "", "option chain CSV snapshot instead of live quotes")
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between cycles (default: trading.cycle_interval)")
	cmd.Flags().BoolVar(&execute, "execute", false, "place orders for accepted decisions")
	cmd.Flags().BoolVar(&serve, "serve", false, "serve the status endpoints while running")
	cmd.Flags().BoolVar(&ignoreHours, "ignore-hours", false, "run outside market hours (snapshots and testing)")

	return cmd
}

// cycleLoop drives repeated cycles and remembers session transitions.
type cycleLoop struct {
	app         *App
	rt          *runtime
	output      *Output
	execute     bool
	ignoreHours bool

	wasOpen  bool
	reported bool
}

// tick runs one cycle per underlying. It returns an error only when the
// process must stop.
func (l *cycleLoop) tick(ctx context.Context) error {
	logger := l.app.Logger
	open := l.ignoreHours || l.rt.Calendar.IsTradingNow()

	if !open {
		if l.wasOpen {
			l.summary(ctx)
		}
		if !l.reported {
			next := l.rt.Calendar.NextOpen(l.rt.Calendar.Now())
			l.output.Dim("Market closed, next session %s", FormatDateTime(next))
			l.reported = true
		}
		l.wasOpen = false
		return nil
	}
	if !l.wasOpen && !l.ignoreHours {
		l.output.Dim("Market open until %s", FormatTime(l.rt.Calendar.CloseOf(l.rt.Calendar.Now())))
	}
	l.wasOpen = true
	l.reported = false

	if l.rt.Engine.Status().Ledger.State.Halted() && !l.rt.Calendar.RolloverDue() {
		logger.Debug().Msg("Ledger halted, skipping cycle")
		return nil
	}

	for _, u := range l.app.Config.Trading.Underlyings {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.runOne(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// runOne reports cycle failures and keeps going, except for a breached
// sizing cap which stops the loop.
func (l *cycleLoop) runOne(ctx context.Context, underlying string) error {
	res, err := l.rt.Engine.RunCycle(ctx, underlying, time.Time{})
	if err != nil {
		l.output.Error("%s: %v", underlying, err)
		if nerr := l.rt.Notifier.SendError(ctx, err, "cycle "+underlying); nerr != nil {
			l.app.Logger.Warn().Err(nerr).Msg("Failed to send error notification")
		}
		if errors.Is(err, errors.ErrInvariantViolation) {
			return err
		}
		return nil
	}

	d := res.Decision
	stamp := FormatTime(d.CreatedAt)
	if !res.Actionable() {
		l.output.Printf("%s  %-10s %s\n", l.output.DimText(stamp), underlying, l.output.Yellow(string(d.RejectionReason)))
		return nil
	}

	l.output.Printf("%s  %-10s %s %d lots %s @ %s\n", l.output.DimText(stamp), underlying,
		l.output.Green("BUY"), d.Lots, d.Symbol(), FormatINR(d.Strike.LastPrice))

	if !l.execute {
		if err := l.rt.Engine.Release(res); err != nil {
			l.app.Logger.Error().Err(err).Msg("Failed to release reservation")
		}
		return nil
	}
	if _, err := l.rt.Engine.Execute(ctx, res); err != nil && !errors.Is(err, errors.ErrOrderPending) {
		l.output.Error("%s: order failed: %v", underlying, err)
	}
	return nil
}

func (l *cycleLoop) summary(ctx context.Context) {
	st := l.rt.Engine.Status()
	if err := l.rt.Notifier.SendDailySummary(ctx, st); err != nil {
		l.app.Logger.Warn().Err(err).Msg("Failed to send daily summary")
	}
	printStatus(l.output, st)
}
