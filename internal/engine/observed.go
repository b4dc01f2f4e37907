package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/metrics"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/internal/trace"
)

type observedRunner struct {
	runner  Runner
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Observe wraps r with spans, cycle logs and Prometheus metrics. A nil m
// skips metrics.
func Observe(r Runner, m *metrics.Metrics, logger zerolog.Logger) Runner {
	return &observedRunner{runner: r, metrics: m, logger: logger}
}

func (o *observedRunner) RunCycle(ctx context.Context, underlying string, expiry time.Time) (*CycleResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.RunCycle")
	span.SetAttributes(attribute.String("underlying", underlying))
	start := time.Now()

	logger := o.logger
	if id, ok := trace.TraceID(ctx); ok {
		logger = logger.With().Str("trace_id", id).Logger()
	}

	res, err := o.runner.RunCycle(ctx, underlying, expiry)
	took := time.Since(start)
	if err != nil {
		trace.End(span, err)
		logger.Error().Err(err).
			Str("underlying", underlying).
			Int64("duration_ms", took.Milliseconds()).
			Msg("Cycle failed")
		if o.metrics != nil {
			o.metrics.ObserveCycleError(underlying, took)
		}
		return nil, err
	}

	d := res.Decision
	span.SetAttributes(
		attribute.String("decision_id", d.ID),
		attribute.Int64("lots", d.Lots),
		attribute.String("reason", string(d.RejectionReason)),
		attribute.Int("candidates", res.Considered),
	)
	trace.End(span, nil)

	logger.Info().
		Str("underlying", underlying).
		Str("decision_id", d.ID).
		Int64("lots", d.Lots).
		Str("reason", string(d.RejectionReason)).
		Float64("score", res.Signal.Score).
		Int64("duration_ms", took.Milliseconds()).
		Msg("Cycle completed")

	if o.metrics != nil {
		o.metrics.ObserveDecision(d, res.Considered, took)
		o.metrics.SetLedger(o.runner.Status().Ledger)
	}
	return res, nil
}

func (o *observedRunner) Execute(ctx context.Context, res *CycleResult) (*models.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Execute")
	if res != nil && res.Decision != nil {
		span.SetAttributes(
			attribute.String("decision_id", res.Decision.ID),
			attribute.String("symbol", res.Decision.Symbol()),
			attribute.Int64("quantity", res.Decision.Quantity()),
		)
	}

	order, err := o.runner.Execute(ctx, res)
	trace.End(span, err)

	if o.metrics != nil {
		o.metrics.OrdersTotal.WithLabelValues(orderStatus(order, err)).Inc()
		o.metrics.SetLedger(o.runner.Status().Ledger)
	}
	return order, err
}

func (o *observedRunner) Release(res *CycleResult) error {
	return o.runner.Release(res)
}

func (o *observedRunner) RecordClose(ctx context.Context, underlying string, pnl decimal.Decimal, note string) (models.DailyLedger, error) {
	ctx, span := trace.StartSpan(ctx, "engine.RecordClose")
	span.SetAttributes(
		attribute.String("underlying", underlying),
		attribute.String("pnl", pnl.StringFixed(2)),
	)

	ledger, err := o.runner.RecordClose(ctx, underlying, pnl, note)
	span.SetAttributes(attribute.String("state", string(ledger.State)))
	trace.End(span, err)

	if o.metrics != nil && err == nil {
		o.metrics.ClosesTotal.Inc()
		o.metrics.SetLedger(ledger)
	}
	return ledger, err
}

func (o *observedRunner) Status() models.DailyStatus {
	return o.runner.Status()
}

func orderStatus(order *models.OrderResult, err error) string {
	switch {
	case err == nil:
		return "filled"
	case errors.Is(err, errors.ErrOrderPending):
		return "pending"
	case order != nil:
		return "rejected"
	default:
		return "failed"
	}
}

var _ Runner = (*observedRunner)(nil)
