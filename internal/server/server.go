// Package server exposes the daily ledger, the decision journal and
// Prometheus metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"oi-lot-manager/internal/models"
	"oi-lot-manager/internal/store"
)

const maxDecisionRows = 500

// StatusSource reports today's ledger. engine.Runner and *budget.Tracker
// implement it.
type StatusSource interface {
	Status() models.DailyStatus
}

// DecisionReader reads the decision journal.
type DecisionReader interface {
	GetDecisions(ctx context.Context, filter store.DecisionFilter) ([]store.DecisionRecord, error)
	GetCloses(ctx context.Context, day string) ([]models.CloseRecord, error)
}

// Server serves the status endpoints.
type Server struct {
	status    StatusSource
	decisions DecisionReader
	metrics   http.Handler
	logger    zerolog.Logger
	started   time.Time
}

// New creates a server. decisions and metrics may be nil; their routes are
// then not mounted.
func New(status StatusSource, decisions DecisionReader, metrics http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		status:    status,
		decisions: decisions,
		metrics:   metrics,
		logger:    logger,
		started:   time.Now(),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ledger", s.handleLedger)
	if s.decisions != nil {
		r.Get("/decisions", s.handleDecisions)
		r.Get("/closes/{day}", s.handleCloses)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// LedgerView is the JSON form of a DailyStatus. Money is rendered as fixed
// two-decimal strings.
type LedgerView struct {
	Day              string `json:"day"`
	State            string `json:"state"`
	TradesTaken      int    `json:"trades_taken"`
	TradesRemaining  int    `json:"trades_remaining"`
	PendingTrades    int    `json:"pending_trades"`
	CapitalDeployed  string `json:"capital_deployed"`
	CapitalRemaining string `json:"capital_remaining"`
	RealizedPnL      string `json:"realized_pnl"`
	LossHeadroom     string `json:"loss_headroom"`
	UtilisationPct   string `json:"utilisation_pct"`
	NearLossLimit    bool   `json:"near_loss_limit"`
}

// NewLedgerView renders st.
func NewLedgerView(st models.DailyStatus) LedgerView {
	l := st.Ledger
	return LedgerView{
		Day:              l.Day,
		State:            string(l.State),
		TradesTaken:      l.TradesTakenToday,
		TradesRemaining:  st.TradesRemaining,
		PendingTrades:    st.PendingTrades,
		CapitalDeployed:  l.CapitalDeployedToday.StringFixed(2),
		CapitalRemaining: st.CapitalRemaining.StringFixed(2),
		RealizedPnL:      l.RealizedPnLToday.StringFixed(2),
		LossHeadroom:     st.LossHeadroom.StringFixed(2),
		UtilisationPct:   st.UtilisationPct.StringFixed(2),
		NearLossLimit:    st.NearLossLimit,
	}
}

// DecisionView is the JSON form of a journaled decision.
type DecisionView struct {
	ID         string  `json:"id"`
	Day        string  `json:"day"`
	Underlying string  `json:"underlying"`
	Symbol     string  `json:"symbol,omitempty"`
	Tier       string  `json:"tier,omitempty"`
	Lots       int64   `json:"lots"`
	Quantity   int64   `json:"quantity"`
	Position   string  `json:"position_value"`
	Risk       string  `json:"risk"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
	Outcome    string  `json:"outcome"`
	OrderID    string  `json:"order_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// NewDecisionView renders a journaled decision.
func NewDecisionView(rec store.DecisionRecord) DecisionView {
	d := rec.Decision
	v := DecisionView{
		ID:         d.ID,
		Day:        rec.Day,
		Underlying: d.Underlying,
		Lots:       d.Lots,
		Quantity:   d.Quantity(),
		Position:   d.PositionValue.StringFixed(2),
		Risk:       d.RiskAmount.StringFixed(2),
		Reason:     string(d.RejectionReason),
		Confidence: d.Confidence,
		Outcome:    string(rec.Outcome),
		OrderID:    rec.OrderID,
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
	}
	if d.Strike != nil {
		v.Symbol = d.Symbol()
		v.Tier = d.Tier.String()
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewLedgerView(s.status.Status()))
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DecisionFilter{
		Day:        q.Get("day"),
		Underlying: q.Get("underlying"),
		Outcome:    models.DecisionOutcome(q.Get("outcome")),
		Limit:      100,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxDecisionRows {
			n = maxDecisionRows
		}
		filter.Limit = n
	}

	records, err := s.decisions.GetDecisions(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read decisions")
		writeError(w, http.StatusInternalServerError, "failed to read decisions")
		return
	}

	out := make([]DecisionView, 0, len(records))
	for _, rec := range records {
		out = append(out, NewDecisionView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCloses(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}

	closes, err := s.decisions.GetCloses(r.Context(), day)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read closes")
		writeError(w, http.StatusInternalServerError, "failed to read closes")
		return
	}

	type closeView struct {
		Underlying string `json:"underlying"`
		PnL        string `json:"pnl"`
		Note       string `json:"note,omitempty"`
		ClosedAt   string `json:"closed_at"`
	}
	out := make([]closeView, 0, len(closes))
	for _, c := range closes {
		out = append(out, closeView{
			Underlying: c.Underlying,
			PnL:        c.PnL.StringFixed(2),
			Note:       c.Note,
			ClosedAt:   c.ClosedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
