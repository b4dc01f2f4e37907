package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"oi-lot-manager/internal/budget"
	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/metrics"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/internal/server"
	"oi-lot-manager/internal/store"
)

func addServeCommand(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newServeCmd(app))
}

// storedStatus reads today's ledger from the journal on every call, so a
// standalone server reflects cycles run by another process.
type storedStatus struct {
	db      *store.SQLiteStore
	budget  models.CapitalBudget
	metrics *metrics.Metrics
	now     func() time.Time
}

func (s *storedStatus) Status() models.DailyStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := s.now()
	tracker := budget.NewTracker(s.budget, budget.WithClock(func() time.Time { return now }))
	if ledger, err := s.db.LoadLedger(ctx, calendar.DayKey(now)); err == nil {
		tracker.Restore(ledger)
	}
	st := tracker.Status()
	if s.metrics != nil {
		s.metrics.SetLedger(st.Ledger)
	}
	return st
}

func newServeCmd(app *App) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger, decision journal and metrics over HTTP",
		Long: `Serve read-only status endpoints:

  GET /healthz          liveness
  GET /ledger           today's ledger and headroom
  GET /decisions        journaled decisions (day, underlying, outcome, limit)
  GET /closes/{day}     closes booked on a day
  GET /metrics          Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			db, err := app.openStore()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = app.Config.Server.Listen
			}

			status := &storedStatus{
				db:      db,
				budget:  app.Config.Budget(),
				metrics: app.Metrics,
				now:     time.Now,
			}
			srv := server.New(status, db, app.Metrics.Handler(), app.Logger)

			output.Info("Serving on http://%s", listen)
			return srv.ListenAndServe(cmd.Context(), listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: server.listen)")
	return cmd
}
