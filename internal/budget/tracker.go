// Package budget owns the daily ledger and gates every new entry against the
// day's trade-count, loss and capital limits.
package budget

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/logging"
	"oi-lot-manager/internal/models"
)

// nearLossFraction is the share of the daily loss cap that raises a warning.
var nearLossFraction = decimal.RequireFromString("0.8")

// Persister stores ledger snapshots. It is called with the tracker's lock
// held and must not call back into the tracker.
type Persister interface {
	SaveLedger(ledger models.DailyLedger) error
}

// HaltFunc is notified once per transition into a halted state.
type HaltFunc func(ledger models.DailyLedger)

// Reservation holds budget for an admitted decision until it is committed
// on a confirmed fill or released when the trade is skipped.
type Reservation struct {
	ID      uint64
	Day     string
	Risk    decimal.Decimal
	Capital decimal.Decimal
}

// Admission is the answer to an Admit call.
type Admission struct {
	Reservation *Reservation
	Reason      models.RejectionReason
	// Halted is true only on the call that moved the ledger into a halt.
	Halted bool
	Ledger models.DailyLedger
}

// Approved reports whether budget was reserved.
func (a Admission) Approved() bool {
	return a.Reservation != nil
}

// Tracker is the only owner of the DailyLedger. All methods are safe for
// concurrent use; Admit checks and reserves under one lock.
type Tracker struct {
	budget models.CapitalBudget

	mu      sync.Mutex
	ledger  models.DailyLedger
	pending map[uint64]*Reservation
	nextID  uint64

	now       func() time.Time
	persister Persister
	onHalt    []HaltFunc
	logger    zerolog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithPersister saves a snapshot after every mutation.
func WithPersister(p Persister) Option {
	return func(t *Tracker) { t.persister = p }
}

// WithHaltHandler registers a callback for halt transitions.
func WithHaltHandler(fn HaltFunc) Option {
	return func(t *Tracker) { t.onHalt = append(t.onHalt, fn) }
}

// WithLogger sets the tracker's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker creates a tracker with a zeroed OPEN ledger for today.
func NewTracker(b models.CapitalBudget, opts ...Option) *Tracker {
	t := &Tracker{
		budget:  b,
		pending: make(map[uint64]*Reservation),
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.ledger = models.NewDailyLedger(calendar.DayKey(t.now()))
	return t
}

// OnHalt registers fn for halt transitions after construction.
func (t *Tracker) OnHalt(fn HaltFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onHalt = append(t.onHalt, fn)
}

// Budget returns the static limits the tracker enforces.
func (t *Tracker) Budget() models.CapitalBudget {
	return t.budget
}

// Snapshot returns a copy of the current ledger.
func (t *Tracker) Snapshot() models.DailyLedger {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ledger
}

// Restore adopts a persisted ledger if it belongs to today. It reports
// whether the snapshot was used. Pending reservations are not persisted.
func (t *Tracker) Restore(ledger models.DailyLedger) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ledger.Day != calendar.DayKey(t.now()) {
		return false
	}
	if ledger.State == "" {
		ledger.State = models.StateOpen
	}
	t.ledger = ledger
	t.pending = make(map[uint64]*Reservation)
	return true
}

// Admit decides whether a new entry of the given risk and capital may be
// taken and, if so, reserves it. In OPEN both halt conditions are evaluated
// first; once halted, every call is rejected for the rest of the day.
func (t *Tracker) Admit(risk, capital decimal.Decimal) Admission {
	t.mu.Lock()
	adm := t.admitLocked(risk, capital)
	t.mu.Unlock()

	if adm.Halted {
		t.fireHalt(adm.Ledger)
	}
	return adm
}

func (t *Tracker) admitLocked(risk, capital decimal.Decimal) Admission {
	l := &t.ledger

	if l.State.Halted() {
		return Admission{Reason: models.ReasonForState(l.State), Ledger: *l}
	}

	if l.RealizedPnLToday.LessThanOrEqual(t.budget.MaxDailyLoss.Neg()) {
		t.haltLocked(models.StateHaltedLoss)
		return Admission{Reason: models.ReasonDailyLossLimit, Halted: true, Ledger: *l}
	}
	if l.TradesTakenToday >= t.budget.MaxTradesPerDay {
		t.haltLocked(models.StateHaltedCount)
		return Admission{Reason: models.ReasonDailyTradeLimit, Halted: true, Ledger: *l}
	}

	// In-flight reservations count against the limits but cannot halt the
	// day, since they may still be released.
	if l.TradesTakenToday+len(t.pending) >= t.budget.MaxTradesPerDay {
		return Admission{Reason: models.ReasonDailyTradeLimit, Ledger: *l}
	}
	committed := l.CapitalDeployedToday.Add(t.pendingCapitalLocked())
	if committed.Add(capital).GreaterThan(t.budget.TotalCapital) {
		return Admission{Reason: models.ReasonDailyCapitalExhausted, Ledger: *l}
	}

	t.nextID++
	res := &Reservation{ID: t.nextID, Day: l.Day, Risk: risk, Capital: capital}
	t.pending[res.ID] = res
	return Admission{Reservation: res, Ledger: *l}
}

// Commit books a reserved entry once the broker confirms execution.
func (t *Tracker) Commit(res *Reservation) (models.DailyLedger, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if res == nil || t.pending[res.ID] == nil {
		return t.ledger, errors.ErrReservationUnknown
	}
	delete(t.pending, res.ID)

	t.ledger.TradesTakenToday++
	t.ledger.CapitalDeployedToday = t.ledger.CapitalDeployedToday.Add(res.Capital)
	t.persistLocked()
	return t.ledger, nil
}

// Release frees a reservation whose trade was not executed.
func (t *Tracker) Release(res *Reservation) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if res == nil || t.pending[res.ID] == nil {
		return errors.ErrReservationUnknown
	}
	delete(t.pending, res.ID)
	return nil
}

// RecordClose adds a realized result to today's P&L. A loss that reaches the
// daily cap moves an OPEN ledger to HALTED_LOSS. The returned flag is true
// only when this call caused the halt.
func (t *Tracker) RecordClose(pnl decimal.Decimal) (models.DailyLedger, bool) {
	t.mu.Lock()
	t.ledger.RealizedPnLToday = t.ledger.RealizedPnLToday.Add(pnl)

	halted := false
	if t.ledger.State == models.StateOpen &&
		t.ledger.RealizedPnLToday.LessThanOrEqual(t.budget.MaxDailyLoss.Neg()) {
		t.haltLocked(models.StateHaltedLoss)
		halted = true
	} else {
		t.persistLocked()
	}
	ledger := t.ledger
	t.mu.Unlock()

	if halted {
		t.fireHalt(ledger)
	}
	return ledger, halted
}

// Rollover resets the ledger to a zeroed OPEN state for the current IST day
// and drops any outstanding reservations. Calling it again without activity
// in between yields the same ledger.
func (t *Tracker) Rollover() models.DailyLedger {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.ledger.Day
	t.ledger = models.NewDailyLedger(calendar.DayKey(t.now()))
	t.pending = make(map[uint64]*Reservation)
	t.persistLocked()

	logging.LogRollover(t.logger, from, t.ledger.Day)
	return t.ledger
}

// Status summarises the ledger against the budget.
func (t *Tracker) Status() models.DailyStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.ledger
	b := t.budget
	pendingCapital := t.pendingCapitalLocked()
	pendingRisk := decimal.Zero
	for _, r := range t.pending {
		pendingRisk = pendingRisk.Add(r.Risk)
	}

	st := models.DailyStatus{
		Ledger:         l,
		Budget:         b,
		PendingTrades:  len(t.pending),
		PendingCapital: pendingCapital,
		PendingRisk:    pendingRisk,
	}

	st.TradesRemaining = b.MaxTradesPerDay - l.TradesTakenToday - len(t.pending)
	if st.TradesRemaining < 0 || l.State.Halted() {
		st.TradesRemaining = 0
	}

	st.LossHeadroom = decimal.Max(b.MaxDailyLoss.Add(l.RealizedPnLToday), decimal.Zero)

	st.CapitalRemaining = decimal.Max(b.TotalCapital.Sub(l.CapitalDeployedToday).Sub(pendingCapital), decimal.Zero)

	st.UtilisationPct = decimal.Zero
	if b.TotalCapital.IsPositive() {
		st.UtilisationPct = l.CapitalDeployedToday.Div(b.TotalCapital).Mul(decimal.NewFromInt(100)).Round(2)
	}

	if l.RealizedPnLToday.IsNegative() && b.MaxDailyLoss.IsPositive() {
		st.NearLossLimit = l.RealizedPnLToday.Neg().GreaterThanOrEqual(b.MaxDailyLoss.Mul(nearLossFraction))
	}
	return st
}

func (t *Tracker) pendingCapitalLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range t.pending {
		sum = sum.Add(r.Capital)
	}
	return sum
}

func (t *Tracker) haltLocked(state models.LedgerState) {
	t.ledger.State = state
	t.persistLocked()
}

func (t *Tracker) persistLocked() {
	if t.persister == nil {
		return
	}
	if err := t.persister.SaveLedger(t.ledger); err != nil {
		t.logger.Error().Err(err).Str("day", t.ledger.Day).Msg("Failed to persist ledger")
	}
}

func (t *Tracker) fireHalt(ledger models.DailyLedger) {
	logging.LogHalt(t.logger, ledger)

	t.mu.Lock()
	handlers := t.onHalt
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(ledger)
	}
}
