package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/internal/server"
	"oi-lot-manager/internal/store"
)

func addLedgerCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newCloseCmd(app))
	rootCmd.AddCommand(newRolloverCmd(app))
	rootCmd.AddCommand(newDecisionsCmd(app))
	rootCmd.AddCommand(newLedgersCmd(app))
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show today's ledger and remaining headroom",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rt, err := app.buildRuntime(cmd.Context(), runtimeOptions{LedgerOnly: true})
			if err != nil {
				return err
			}

			st := rt.Engine.Status()
			closes, err := app.store.GetCloses(cmd.Context(), st.Ledger.Day)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"ledger":  server.NewLedgerView(st),
					"session": string(rt.Calendar.SessionAt(rt.Calendar.Now())),
					"closes":  len(closes),
				})
			}

			printStatus(output, st)
			output.Dim("Session: %s", rt.Calendar.SessionAt(rt.Calendar.Now()))

			if len(closes) > 0 {
				output.Println()
				output.Bold("Closes")
				table := NewTable(output, "Time", "Underlying", "P&L", "Note")
				for _, c := range closes {
					table.AddRow(FormatTime(c.ClosedAt), c.Underlying, output.FormatPnL(c.PnL), TruncateString(c.Note, 40))
				}
				table.Render()
			}
			return nil
		},
	}
}

// printStatus renders a DailyStatus as the status block shared by status,
// close and run.
func printStatus(output *Output, st models.DailyStatus) {
	l := st.Ledger
	b := st.Budget

	state := output.Green(string(l.State))
	if l.State.Halted() {
		state = output.Red(string(l.State))
	}

	output.Bold("Ledger %s", l.Day)
	output.Printf("  State:            %s\n", state)
	output.Printf("  Trades:           %d of %d (%d remaining)\n", l.TradesTakenToday, b.MaxTradesPerDay, st.TradesRemaining)
	if st.PendingTrades > 0 {
		output.Printf("  Pending:          %d (%s)\n", st.PendingTrades, FormatINR(st.PendingCapital))
	}
	output.Printf("  Deployed:         %s (%s)\n", FormatINR(l.CapitalDeployedToday), utilisation(st.UtilisationPct))
	output.Printf("  Capital left:     %s\n", FormatINR(st.CapitalRemaining))
	output.Printf("  Realized P&L:     %s\n", output.FormatPnL(l.RealizedPnLToday))
	output.Printf("  Loss headroom:    %s of %s\n", FormatINR(st.LossHeadroom), FormatINR(b.MaxDailyLoss))

	if st.NearLossLimit && !l.State.Halted() {
		output.Warning("⚠ Within 20%% of the daily loss limit")
	}
}

func utilisation(pct decimal.Decimal) string {
	return pct.StringFixed(2) + "% used"
}

func newCloseCmd(app *App) *cobra.Command {
	var (
		underlying string
		pnl        string
		note       string
	)

	cmd := &cobra.Command{
		Use:   "close",
		Short: "Book the realized P&L of a closed position",
		Long: `Book the realized P&L of a closed position against today's ledger.

A loss that takes the day's realized P&L to the loss limit halts new entries
until the next trading day.`,
		Example: `  oilm close --underlying NIFTY --pnl -1250.50 --note "stop hit"
  oilm close -u BANKNIFTY --pnl 2400`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			amount, err := decimal.NewFromString(pnl)
			if err != nil {
				return errors.NewValidationError("pnl", pnl, "must be a number")
			}
			if underlying == "" {
				return errors.NewValidationError("underlying", underlying, "is required")
			}

			rt, err := app.buildRuntime(cmd.Context(), runtimeOptions{LedgerOnly: true})
			if err != nil {
				return err
			}

			ledger, err := rt.Engine.RecordClose(cmd.Context(), strings.ToUpper(underlying), amount, note)
			if err != nil {
				return err
			}
			st := rt.Engine.Status()

			if output.IsJSON() {
				return output.JSON(server.NewLedgerView(st))
			}

			output.Success("✓ Booked %s on %s", output.FormatPnL(amount), strings.ToUpper(underlying))
			if ledger.State.Halted() {
				output.Error("Trading halted for %s: %s", ledger.Day, ledger.State)
			}
			printStatus(output, st)
			return nil
		},
	}

	cmd.Flags().StringVarP(&underlying, "underlying", "u", "", "index the position was on")
	cmd.Flags().StringVar(&pnl, "pnl", "", "realized P&L in rupees, negative for a loss")
	cmd.Flags().StringVar(&note, "note", "", "free-text note stored with the close")
	cmd.MarkFlagRequired("pnl")

	return cmd
}

func newRolloverCmd(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "Reset the ledger for a new trading day",
		Long: `Reset the ledger to a zeroed OPEN state for today. Cycles roll over on
their own at the first cycle of a new day; this command does it ahead of time.
--force resets a ledger that is already on today, clearing today's counts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rt, err := app.buildRuntime(cmd.Context(), runtimeOptions{LedgerOnly: true})
			if err != nil {
				return err
			}

			before := rt.Tracker.Snapshot()
			if !force && before.Day == rt.Calendar.Today() {
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"rolled_over": false, "day": before.Day})
				}
				output.Info("Ledger already on %s; use --force to reset it", before.Day)
				return nil
			}

			after := rt.Tracker.Rollover()
			rt.Calendar.MarkRolledOver()

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"rolled_over": true, "from": before.Day, "day": after.Day})
			}
			output.Success("✓ Ledger rolled over %s → %s", before.Day, after.Day)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "reset today's ledger")
	return cmd
}

func newDecisionsCmd(app *App) *cobra.Command {
	var (
		day        string
		underlying string
		outcome    string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:     "decisions",
		Aliases: []string{"history"},
		Short:   "List journaled sizing decisions",
		Example: `  oilm decisions
  oilm decisions --day 2026-10-19 --outcome FILLED
  oilm decisions --since 2026-10-01 -u NIFTY --limit 200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			db, err := app.openStore()
			if err != nil {
				return err
			}

			filter := store.DecisionFilter{
				Day:        day,
				Underlying: strings.ToUpper(underlying),
				Outcome:    models.DecisionOutcome(strings.ToUpper(outcome)),
				Limit:      limit,
			}
			if since != "" {
				t, err := time.ParseInLocation("2006-01-02", since, calendar.IST)
				if err != nil {
					return errors.NewValidationError("since", since, "must be YYYY-MM-DD")
				}
				filter.StartDate = t
			}

			records, err := db.GetDecisions(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				views := make([]server.DecisionView, 0, len(records))
				for _, rec := range records {
					views = append(views, server.NewDecisionView(rec))
				}
				return output.JSON(views)
			}

			if len(records) == 0 {
				output.Dim("No decisions found")
				return nil
			}

			table := NewTable(output, "Time", "Underlying", "Symbol", "Tier", "Lots", "Position", "Risk", "Outcome")
			for _, rec := range records {
				d := rec.Decision
				symbol, tier := "-", "-"
				if d.Strike != nil {
					symbol, tier = d.Symbol(), d.Tier.String()
				}
				result := string(rec.Outcome)
				if !d.Accepted() {
					result = output.Yellow(string(d.RejectionReason))
				} else if rec.Outcome == models.OutcomeFilled {
					result = output.Green(result)
				}
				table.AddRow(
					FormatDateTime(d.CreatedAt),
					d.Underlying,
					symbol,
					tier,
					fmt.Sprintf("%d", d.Lots),
					FormatINR(d.PositionValue),
					FormatINR(d.RiskAmount),
					result,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "trading day YYYY-MM-DD")
	cmd.Flags().StringVarP(&underlying, "underlying", "u", "", "filter by underlying")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (PENDING, FILLED, REJECTED, SKIPPED)")
	cmd.Flags().StringVar(&since, "since", "", "only decisions on or after YYYY-MM-DD")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	return cmd
}

func newLedgersCmd(app *App) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "ledgers",
		Short: "Show end-of-day ledgers for recent trading days",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			db, err := app.openStore()
			if err != nil {
				return err
			}

			ledgers, err := db.LedgerHistory(cmd.Context(), days)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				views := make([]server.LedgerView, 0, len(ledgers))
				for _, l := range ledgers {
					views = append(views, server.NewLedgerView(models.DailyStatus{Ledger: l}))
				}
				return output.JSON(views)
			}

			if len(ledgers) == 0 {
				output.Dim("No ledgers recorded yet")
				return nil
			}

			total := decimal.Zero
			table := NewTable(output, "Day", "State", "Trades", "Deployed", "P&L")
			for _, l := range ledgers {
				state := string(l.State)
				if l.State.Halted() {
					state = output.Red(state)
				}
				table.AddRow(l.Day, state, fmt.Sprintf("%d", l.TradesTakenToday),
					FormatCompact(l.CapitalDeployedToday), output.FormatPnL(l.RealizedPnLToday))
				total = total.Add(l.RealizedPnLToday)
			}
			table.Render()
			output.Println()
			output.Printf("Net over %d days: %s\n", len(ledgers), output.FormatPnL(total))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 20, "number of days to show")
	return cmd
}
