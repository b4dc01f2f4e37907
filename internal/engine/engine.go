// Package engine runs the sizing cycle: signal, chain, OI tiers, strike
// candidates, lot sizing and daily admission, then hands accepted decisions
// to an order gateway.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/broker"
	"oi-lot-manager/internal/budget"
	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/logging"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/internal/oi"
	"oi-lot-manager/internal/signal"
	"oi-lot-manager/internal/sizing"
	"oi-lot-manager/internal/strike"
)

// Runner is the engine surface the CLI and server use.
type Runner interface {
	RunCycle(ctx context.Context, underlying string, expiry time.Time) (*CycleResult, error)
	Execute(ctx context.Context, res *CycleResult) (*models.OrderResult, error)
	Release(res *CycleResult) error
	RecordClose(ctx context.Context, underlying string, pnl decimal.Decimal, note string) (models.DailyLedger, error)
	Status() models.DailyStatus
}

// Journal records decisions and closes. *store.SQLiteStore implements it.
type Journal interface {
	SaveDecision(ctx context.Context, d *models.SizingDecision, outcome models.DecisionOutcome) error
	UpdateDecisionOutcome(ctx context.Context, id string, outcome models.DecisionOutcome, orderID string) error
	SaveClose(ctx context.Context, rec models.CloseRecord) error
}

// Alerts is the operator notification surface. *notify.MultiNotifier
// implements it.
type Alerts interface {
	SendHalt(ctx context.Context, ledger models.DailyLedger) error
	SendNearLossLimit(ctx context.Context, status models.DailyStatus) error
	SendFill(ctx context.Context, d *models.SizingDecision, order *models.OrderResult) error
}

// CycleResult is the outcome of one cycle. Reservation is set only while an
// accepted decision waits for Execute.
type CycleResult struct {
	Underlying  string
	Signal      models.Signal
	Chain       *models.OptionChain
	Tiers       *oi.Classification
	Decision    *models.SizingDecision
	Reservation *budget.Reservation
	// Considered counts candidates passed to the sizer.
	Considered int
}

// Actionable reports whether the result holds reserved budget for an order.
func (r *CycleResult) Actionable() bool {
	return r != nil && r.Decision.Accepted() && r.Reservation != nil
}

// Deps are the collaborators an Engine is built from. Journal and Alerts
// are optional.
type Deps struct {
	Calendar   calendar.Calendar
	Signals    signal.Source
	Chains     broker.ChainProvider
	Gateway    broker.Gateway
	Classifier *oi.Classifier
	Selector   *strike.Selector
	Sizer      *sizing.Sizer
	Tracker    *budget.Tracker
	Journal    Journal
	Alerts     Alerts
	Logger     zerolog.Logger
}

// Engine is the single-threaded cycle driver. Concurrent cycles are safe
// because the tracker reserves budget atomically.
type Engine struct {
	cal        calendar.Calendar
	signals    signal.Source
	chains     broker.ChainProvider
	gateway    broker.Gateway
	classifier *oi.Classifier
	selector   *strike.Selector
	sizer      *sizing.Sizer
	tracker    *budget.Tracker
	journal    Journal
	alerts     Alerts
	logger     zerolog.Logger

	now   func() time.Time
	newID func() string
}

// New creates an engine. Halts raised by the tracker are forwarded to
// Alerts.
func New(d Deps) *Engine {
	e := &Engine{
		cal:        d.Calendar,
		signals:    d.Signals,
		chains:     d.Chains,
		gateway:    d.Gateway,
		classifier: d.Classifier,
		selector:   d.Selector,
		sizer:      d.Sizer,
		tracker:    d.Tracker,
		journal:    d.Journal,
		alerts:     d.Alerts,
		logger:     d.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if e.alerts != nil {
		e.tracker.OnHalt(func(l models.DailyLedger) {
			if err := e.alerts.SendHalt(context.Background(), l); err != nil {
				e.logger.Warn().Err(err).Msg("Failed to send halt alert")
			}
		})
	}
	return e
}

// RunCycle sizes one entry for underlying. A zero expiry means the nearest.
// Rejections come back as zero-lot decisions; an error means the cycle could
// not be evaluated at all.
func (e *Engine) RunCycle(ctx context.Context, underlying string, expiry time.Time) (*CycleResult, error) {
	logger := logging.WithUnderlying(e.logger, underlying)
	res := &CycleResult{Underlying: underlying}

	if e.cal.RolloverDue() {
		e.tracker.Rollover()
		e.cal.MarkRolledOver()
	}

	if !e.cal.IsTradingNow() {
		res.Decision = models.Rejected(underlying, models.ReasonMarketClosed)
		e.finish(ctx, logger, res)
		return res, nil
	}

	sig, err := e.signals.Signal(ctx, underlying)
	if err != nil {
		return nil, errors.Wrapf(err, "signal for %s", underlying)
	}
	res.Signal = sig

	dir, ok := strike.DirectionFromScore(sig.Score)
	if !ok {
		res.Decision = models.Rejected(underlying, models.ReasonNoDirectionalSignal)
		e.finish(ctx, logger, res)
		return res, nil
	}

	chain, err := e.chains.OptionChain(ctx, underlying, expiry)
	if err != nil {
		return nil, errors.Wrapf(err, "chain for %s", underlying)
	}
	res.Chain = chain

	tiers, err := e.classifier.Classify(chain)
	if err != nil {
		return nil, err
	}
	res.Tiers = tiers

	sel := e.selector.Select(chain, tiers, dir)
	if sel.Empty() {
		res.Decision = models.Rejected(underlying, sel.Reason)
		e.finish(ctx, logger, res)
		return res, nil
	}

	// Walk candidates best first. A candidate too expensive for one lot
	// gives way to the next; a daily gate ends the cycle.
	for _, c := range sel.Candidates {
		d, rsv, err := e.sizer.Size(c.Quote, sig.Confidence, e.tracker)
		if err != nil {
			return nil, err
		}
		res.Considered++
		d.Underlying = underlying
		d.Tier = c.Tier
		d.Score = sig.Score
		res.Decision = d

		if d.Accepted() {
			res.Reservation = rsv
			break
		}
		if d.RejectionReason.DailyGate() {
			break
		}
	}

	e.finish(ctx, logger, res)
	return res, nil
}

// finish stamps, logs and journals the cycle's decision.
func (e *Engine) finish(ctx context.Context, logger zerolog.Logger, res *CycleResult) {
	d := res.Decision
	d.ID = e.newID()
	d.CreatedAt = e.now()
	if d.Confidence == 0 {
		d.Confidence = res.Signal.Confidence
	}
	if d.Score == 0 {
		d.Score = res.Signal.Score
	}

	logging.LogDecision(logger, d)

	outcome := models.OutcomeSkipped
	if res.Actionable() {
		outcome = models.OutcomePending
	}
	if e.journal != nil {
		if err := e.journal.SaveDecision(ctx, d, outcome); err != nil {
			logger.Error().Err(err).Str("decision_id", d.ID).Msg("Failed to journal decision")
		}
	}
}

// Execute sends an actionable result to the gateway. A confirmed fill
// commits the reservation. An order the broker accepted but did not confirm
// in time is committed too, since it may still fill. Any other failure
// releases the reservation.
func (e *Engine) Execute(ctx context.Context, res *CycleResult) (*models.OrderResult, error) {
	if !res.Actionable() {
		return nil, errors.Wrap(errors.ErrOrderRejected, "no accepted decision to execute")
	}
	d := res.Decision
	logger := logging.WithUnderlying(e.logger, d.Underlying).With().Str("decision_id", d.ID).Logger()

	order, err := e.gateway.Execute(ctx, d)
	switch {
	case err == nil:
		if cerr := e.commit(res); cerr != nil {
			logger.Error().Err(cerr).Msg("Filled order could not be booked")
			e.recordOutcome(ctx, logger, d.ID, models.OutcomeFilled, order)
			return order, cerr
		}
		e.recordOutcome(ctx, logger, d.ID, models.OutcomeFilled, order)
		if e.alerts != nil {
			if aerr := e.alerts.SendFill(ctx, d, order); aerr != nil {
				logger.Warn().Err(aerr).Msg("Failed to send fill alert")
			}
		}
		return order, nil

	case errors.Is(err, errors.ErrOrderPending):
		logger.Warn().Err(err).Msg("Order unconfirmed, booking it against today's budget")
		if cerr := e.commit(res); cerr != nil {
			logger.Error().Err(cerr).Msg("Pending order could not be booked")
		}
		e.recordOutcome(ctx, logger, d.ID, models.OutcomePending, order)
		return order, err

	default:
		if rerr := e.tracker.Release(res.Reservation); rerr != nil {
			logger.Warn().Err(rerr).Msg("Reservation already settled")
		}
		res.Reservation = nil
		e.recordOutcome(ctx, logger, d.ID, models.OutcomeRejected, order)
		return order, err
	}
}

func (e *Engine) commit(res *CycleResult) error {
	_, err := e.tracker.Commit(res.Reservation)
	res.Reservation = nil
	return err
}

func (e *Engine) recordOutcome(ctx context.Context, logger zerolog.Logger, id string, outcome models.DecisionOutcome, order *models.OrderResult) {
	if e.journal == nil {
		return
	}
	var orderID string
	if order != nil {
		orderID = order.OrderID
	}
	if err := e.journal.UpdateDecisionOutcome(ctx, id, outcome, orderID); err != nil {
		logger.Error().Err(err).Msg("Failed to update decision outcome")
	}
}

// Release drops the reservation of a result that will not be executed and
// marks its journaled decision SKIPPED.
func (e *Engine) Release(res *CycleResult) error {
	if !res.Actionable() {
		return nil
	}
	err := e.tracker.Release(res.Reservation)
	res.Reservation = nil
	e.recordOutcome(context.Background(), e.logger, res.Decision.ID, models.OutcomeSkipped, nil)
	return err
}

// RecordClose books a realized result against today's ledger.
func (e *Engine) RecordClose(ctx context.Context, underlying string, pnl decimal.Decimal, note string) (models.DailyLedger, error) {
	ledger, _ := e.tracker.RecordClose(pnl)

	rec := models.CloseRecord{
		Day:        ledger.Day,
		Underlying: underlying,
		PnL:        pnl,
		Note:       note,
		ClosedAt:   e.now(),
	}
	logging.LogClose(e.logger, rec, ledger)

	if e.journal != nil {
		if err := e.journal.SaveClose(ctx, rec); err != nil {
			e.logger.Error().Err(err).Msg("Failed to journal close")
		}
	}
	if e.alerts != nil {
		if err := e.alerts.SendNearLossLimit(ctx, e.tracker.Status()); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to send loss warning")
		}
	}
	return ledger, nil
}

// Status summarises today's ledger.
func (e *Engine) Status() models.DailyStatus {
	return e.tracker.Status()
}

var _ Runner = (*Engine)(nil)
