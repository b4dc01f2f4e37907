// Package metrics exposes Prometheus instruments for sizing cycles, order
// execution and the daily ledger.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oi-lot-manager/internal/models"
)

// Metrics holds all Prometheus metrics for the lot manager.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal   *prometheus.CounterVec // labels: underlying, result
	CycleDuration prometheus.Histogram
	Rejections    *prometheus.CounterVec // labels: reason
	LotsSized     prometheus.Histogram
	Candidates    prometheus.Histogram

	OrdersTotal *prometheus.CounterVec // labels: status
	ClosesTotal prometheus.Counter

	// Ledger gauges, refreshed after every mutation the engine sees
	TradesToday     prometheus.Gauge
	CapitalDeployed prometheus.Gauge
	RealizedPnL     prometheus.Gauge
	LedgerHalted    prometheus.Gauge // 0=open, 1=halted
}

// New creates the metrics and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oilm_cycles_total",
			Help: "Sizing cycles run, by underlying and result",
		}, []string{"underlying", "result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oilm_cycle_duration_seconds",
			Help:    "Wall time of one sizing cycle including chain fetch",
			Buckets: prometheus.DefBuckets,
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oilm_rejections_total",
			Help: "Zero-lot decisions, by rejection reason",
		}, []string{"reason"}),
		LotsSized: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oilm_lots_sized",
			Help:    "Lot count of accepted decisions",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		Candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oilm_candidates_considered",
			Help:    "Candidates sized before a cycle settled",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oilm_orders_total",
			Help: "Orders sent to the gateway, by outcome",
		}, []string{"status"}),
		ClosesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oilm_closes_total",
			Help: "Realized closes reported",
		}),

		TradesToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oilm_ledger_trades_today",
			Help: "Trades committed today",
		}),
		CapitalDeployed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oilm_ledger_capital_deployed_inr",
			Help: "Capital committed to entries today",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oilm_ledger_realized_pnl_inr",
			Help: "Realized P&L today",
		}),
		LedgerHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oilm_ledger_halted",
			Help: "1 when new entries are halted for the day",
		}),
	}

	m.registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.Rejections,
		m.LotsSized,
		m.Candidates,
		m.OrdersTotal,
		m.ClosesTotal,
		m.TradesToday,
		m.CapitalDeployed,
		m.RealizedPnL,
		m.LedgerHalted,
		collectors.NewGoCollector(),
	)

	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision records how a cycle settled.
func (m *Metrics) ObserveDecision(d *models.SizingDecision, considered int, took time.Duration) {
	m.CycleDuration.Observe(took.Seconds())
	m.Candidates.Observe(float64(considered))

	if d.Accepted() {
		m.CyclesTotal.WithLabelValues(d.Underlying, "accepted").Inc()
		m.LotsSized.Observe(float64(d.Lots))
		return
	}
	m.CyclesTotal.WithLabelValues(d.Underlying, "rejected").Inc()
	m.Rejections.WithLabelValues(string(d.RejectionReason)).Inc()
}

// ObserveCycleError counts a cycle that aborted with an error.
func (m *Metrics) ObserveCycleError(underlying string, took time.Duration) {
	m.CycleDuration.Observe(took.Seconds())
	m.CyclesTotal.WithLabelValues(underlying, "error").Inc()
}

// SetLedger mirrors the ledger into the gauges.
func (m *Metrics) SetLedger(l models.DailyLedger) {
	m.TradesToday.Set(float64(l.TradesTakenToday))
	m.CapitalDeployed.Set(l.CapitalDeployedToday.InexactFloat64())
	m.RealizedPnL.Set(l.RealizedPnLToday.InexactFloat64())
	if l.State.Halted() {
		m.LedgerHalted.Set(1)
	} else {
		m.LedgerHalted.Set(0)
	}
}
