package budget

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/calendar"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func testBudget() models.CapitalBudget {
	return models.CapitalBudget{
		TotalCapital:       dec(100000),
		MaxRiskPerTradePct: decimal.RequireFromString("0.02"),
		MaxPositionPct:     decimal.RequireFromString("0.15"),
		MaxTradesPerDay:    3,
		MaxDailyLoss:       dec(5000),
	}
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 10, 19, 10, 0, 0, 0, calendar.IST)}
}

type memPersister struct {
	saved []models.DailyLedger
}

func (m *memPersister) SaveLedger(l models.DailyLedger) error {
	m.saved = append(m.saved, l)
	return nil
}

func admitAndCommit(t *testing.T, tr *Tracker, capital int64) {
	t.Helper()
	adm := tr.Admit(dec(100), dec(capital))
	if !adm.Approved() {
		t.Fatalf("admit rejected: %s", adm.Reason)
	}
	if _, err := tr.Commit(adm.Reservation); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestNewTracker_StartsOpenForToday(t *testing.T) {
	clock := newClock()
	tr := NewTracker(testBudget(), WithClock(clock.Now))

	l := tr.Snapshot()
	if l.Day != "2026-10-19" || l.State != models.StateOpen {
		t.Errorf("unexpected ledger %+v", l)
	}
	if l.TradesTakenToday != 0 || !l.CapitalDeployedToday.IsZero() || !l.RealizedPnLToday.IsZero() {
		t.Errorf("ledger should start zeroed: %+v", l)
	}
}

func TestAdmit_TradeLimitHalts(t *testing.T) {
	var halts []models.DailyLedger
	tr := NewTracker(testBudget(),
		WithClock(newClock().Now),
		WithHaltHandler(func(l models.DailyLedger) { halts = append(halts, l) }),
	)

	for i := 0; i < 3; i++ {
		admitAndCommit(t, tr, 1000)
	}
	if got := tr.Snapshot().TradesTakenToday; got != 3 {
		t.Fatalf("trades = %d, want 3", got)
	}

	adm := tr.Admit(dec(100), dec(1000))
	if adm.Approved() {
		t.Fatal("fourth entry must be rejected")
	}
	if adm.Reason != models.ReasonDailyTradeLimit || !adm.Halted {
		t.Errorf("got reason %s halted=%v", adm.Reason, adm.Halted)
	}
	if tr.Snapshot().State != models.StateHaltedCount {
		t.Errorf("state = %s, want HALTED_COUNT", tr.Snapshot().State)
	}
	if len(halts) != 1 {
		t.Fatalf("halt handler called %d times, want 1", len(halts))
	}

	again := tr.Admit(dec(100), dec(1000))
	if again.Approved() || again.Halted || again.Reason != models.ReasonDailyTradeLimit {
		t.Errorf("subsequent admit: %+v", again)
	}
	if len(halts) != 1 {
		t.Errorf("halt must only be reported once")
	}
}

func TestAdmit_PendingReservationsCountButDoNotHalt(t *testing.T) {
	tr := NewTracker(testBudget(), WithClock(newClock().Now))

	var held []*Reservation
	for i := 0; i < 3; i++ {
		adm := tr.Admit(dec(100), dec(1000))
		if !adm.Approved() {
			t.Fatalf("admit %d rejected: %s", i, adm.Reason)
		}
		held = append(held, adm.Reservation)
	}

	adm := tr.Admit(dec(100), dec(1000))
	if adm.Approved() || adm.Reason != models.ReasonDailyTradeLimit {
		t.Fatalf("expected trade-limit rejection with three in flight, got %+v", adm)
	}
	if adm.Halted || tr.Snapshot().State != models.StateOpen {
		t.Fatal("in-flight reservations must not halt the day")
	}

	if err := tr.Release(held[0]); err != nil {
		t.Fatal(err)
	}
	if !tr.Admit(dec(100), dec(1000)).Approved() {
		t.Error("released slot should be reusable")
	}
}

func TestAdmit_CapitalExhausted(t *testing.T) {
	b := testBudget()
	b.MaxTradesPerDay = 10
	tr := NewTracker(b, WithClock(newClock().Now))

	admitAndCommit(t, tr, 60000)
	pending := tr.Admit(dec(100), dec(30000))
	if !pending.Approved() {
		t.Fatalf("second entry should fit: %s", pending.Reason)
	}

	adm := tr.Admit(dec(100), dec(10001))
	if adm.Approved() || adm.Reason != models.ReasonDailyCapitalExhausted {
		t.Fatalf("expected capital exhaustion, got %+v", adm)
	}
	if tr.Snapshot().State != models.StateOpen {
		t.Error("capital exhaustion is not a halt")
	}

	if !tr.Admit(dec(100), dec(10000)).Approved() {
		t.Error("entry that exactly fills capital should be admitted")
	}
}

func TestCommit_OnlyOnce(t *testing.T) {
	tr := NewTracker(testBudget(), WithClock(newClock().Now))
	adm := tr.Admit(dec(100), dec(5000))

	if _, err := tr.Commit(adm.Reservation); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Commit(adm.Reservation); !errors.Is(err, errors.ErrReservationUnknown) {
		t.Errorf("double commit should fail, got %v", err)
	}
	if err := tr.Release(adm.Reservation); !errors.Is(err, errors.ErrReservationUnknown) {
		t.Errorf("release after commit should fail, got %v", err)
	}
	if got := tr.Snapshot(); got.TradesTakenToday != 1 || !got.CapitalDeployedToday.Equal(dec(5000)) {
		t.Errorf("unexpected ledger %+v", got)
	}
}

func TestRelease_DoesNotDeployCapital(t *testing.T) {
	tr := NewTracker(testBudget(), WithClock(newClock().Now))
	adm := tr.Admit(dec(100), dec(5000))
	if err := tr.Release(adm.Reservation); err != nil {
		t.Fatal(err)
	}
	l := tr.Snapshot()
	if l.TradesTakenToday != 0 || !l.CapitalDeployedToday.IsZero() {
		t.Errorf("skipped trade leaked budget: %+v", l)
	}
}

func TestRecordClose_LossHalt(t *testing.T) {
	halts := 0
	tr := NewTracker(testBudget(),
		WithClock(newClock().Now),
		WithHaltHandler(func(models.DailyLedger) { halts++ }),
	)

	if _, halted := tr.RecordClose(dec(-3000)); halted {
		t.Fatal("loss below cap must not halt")
	}
	if st := tr.Status(); st.NearLossLimit {
		t.Error("60% of the cap is not near the limit")
	}
	if _, halted := tr.RecordClose(dec(-1000)); halted {
		t.Fatal("loss below cap must not halt")
	}
	if st := tr.Status(); !st.NearLossLimit || !st.LossHeadroom.Equal(dec(1000)) {
		t.Errorf("expected near-limit warning with 1000 headroom, got %+v", st)
	}

	l, halted := tr.RecordClose(dec(-1000))
	if !halted || l.State != models.StateHaltedLoss {
		t.Fatalf("loss reaching cap must halt, got %+v", l)
	}
	if halts != 1 {
		t.Errorf("halt handler called %d times", halts)
	}

	adm := tr.Admit(dec(10), dec(10))
	if adm.Approved() || adm.Reason != models.ReasonDailyLossLimit {
		t.Errorf("admit after loss halt: %+v", adm)
	}

	// A winning close afterwards does not reopen the day.
	if _, halted := tr.RecordClose(dec(20000)); halted {
		t.Error("profit must not report a new halt")
	}
	if tr.Admit(dec(10), dec(10)).Approved() {
		t.Error("halt must stay sticky after recovery")
	}
}

func TestAdmit_LossCheckedBeforeApproval(t *testing.T) {
	b := testBudget()
	tr := NewTracker(b, WithClock(newClock().Now))

	// Force the P&L past the cap without going through RecordClose.
	restored := models.NewDailyLedger("2026-10-19")
	restored.RealizedPnLToday = dec(-6000)
	if !tr.Restore(restored) {
		t.Fatal("same-day snapshot should be restored")
	}

	adm := tr.Admit(dec(10), dec(10))
	if adm.Approved() || adm.Reason != models.ReasonDailyLossLimit || !adm.Halted {
		t.Errorf("got %+v", adm)
	}
}

func TestRestore_IgnoresOtherDays(t *testing.T) {
	tr := NewTracker(testBudget(), WithClock(newClock().Now))
	old := models.NewDailyLedger("2026-10-16")
	old.TradesTakenToday = 2
	if tr.Restore(old) {
		t.Error("stale snapshot must not be restored")
	}
	if tr.Snapshot().TradesTakenToday != 0 {
		t.Error("ledger changed by stale restore")
	}
}

func TestRollover_ResetsAndIsIdempotent(t *testing.T) {
	clock := newClock()
	persist := &memPersister{}
	tr := NewTracker(testBudget(), WithClock(clock.Now), WithPersister(persist))

	for i := 0; i < 3; i++ {
		admitAndCommit(t, tr, 2000)
	}
	tr.Admit(dec(1), dec(1))
	tr.RecordClose(dec(-700))
	pending := tr.Admit(dec(1), dec(1))

	clock.Set(clock.Now().Add(24 * time.Hour))
	first := tr.Rollover()
	second := tr.Rollover()

	if first.Day != "2026-10-20" || first.State != models.StateOpen {
		t.Errorf("unexpected ledger after rollover %+v", first)
	}
	if !ledgersEqual(first, second) {
		t.Errorf("rollover not idempotent: %+v vs %+v", first, second)
	}
	if st := tr.Status(); st.PendingTrades != 0 {
		t.Errorf("reservations survived rollover: %d", st.PendingTrades)
	}
	if pending.Reservation != nil {
		if _, err := tr.Commit(pending.Reservation); !errors.Is(err, errors.ErrReservationUnknown) {
			t.Errorf("old reservation should be unknown after rollover, got %v", err)
		}
	}
	if last := persist.saved[len(persist.saved)-1]; last.Day != "2026-10-20" {
		t.Errorf("rollover not persisted: %+v", last)
	}
}

func TestStatus(t *testing.T) {
	tr := NewTracker(testBudget(), WithClock(newClock().Now))
	admitAndCommit(t, tr, 12500)
	tr.Admit(dec(400), dec(2500))

	st := tr.Status()
	if st.TradesRemaining != 1 {
		t.Errorf("trades remaining = %d, want 1", st.TradesRemaining)
	}
	if !st.CapitalRemaining.Equal(dec(85000)) {
		t.Errorf("capital remaining = %s", st.CapitalRemaining)
	}
	if !st.PendingRisk.Equal(dec(400)) || !st.PendingCapital.Equal(dec(2500)) {
		t.Errorf("pending = %s / %s", st.PendingRisk, st.PendingCapital)
	}
	if !st.UtilisationPct.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("utilisation = %s", st.UtilisationPct)
	}
}

func TestAdmit_ConcurrentNeverOvershoots(t *testing.T) {
	b := testBudget()
	b.MaxTradesPerDay = 5
	tr := NewTracker(b, WithClock(newClock().Now))

	var wg sync.WaitGroup
	var mu sync.Mutex
	approved := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm := tr.Admit(dec(100), dec(1000))
			if !adm.Approved() {
				return
			}
			if _, err := tr.Commit(adm.Reservation); err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if approved != 5 {
		t.Errorf("approved %d entries, want exactly 5", approved)
	}
	if got := tr.Snapshot().TradesTakenToday; got != 5 {
		t.Errorf("trades = %d, want 5", got)
	}
}

func ledgersEqual(a, b models.DailyLedger) bool {
	return a.Day == b.Day &&
		a.State == b.State &&
		a.TradesTakenToday == b.TradesTakenToday &&
		a.CapitalDeployedToday.Equal(b.CapitalDeployedToday) &&
		a.RealizedPnLToday.Equal(b.RealizedPnLToday)
}

// Property: once halted, no admission is approved for the rest of the day,
// whatever closes are reported afterwards.
func TestProperty_HaltIsSticky(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("no approval after a halt", prop.ForAll(
		func(maxTrades int, pnls []int64, laterProfit int64) bool {
			b := testBudget()
			b.MaxTradesPerDay = maxTrades
			tr := NewTracker(b, WithClock(newClock().Now))

			halted := false
			for _, p := range pnls {
				adm := tr.Admit(dec(100), dec(100))
				if adm.Approved() {
					if halted {
						return false
					}
					if _, err := tr.Commit(adm.Reservation); err != nil {
						return false
					}
					tr.RecordClose(dec(p))
				}
				if tr.Snapshot().State.Halted() {
					halted = true
				}
			}
			if !halted {
				return true
			}

			tr.RecordClose(dec(laterProfit))
			for i := 0; i < 5; i++ {
				if tr.Admit(dec(1), dec(1)).Approved() {
					return false
				}
			}
			return tr.Snapshot().State.Halted()
		},
		gen.IntRange(1, 6),
		gen.SliceOfN(12, gen.Int64Range(-4000, 2000)),
		gen.Int64Range(0, 1_000_000),
	))

	properties.Property("rollover twice yields the same zeroed ledger", prop.ForAll(
		func(trades int, pnl int64) bool {
			b := testBudget()
			b.MaxTradesPerDay = 10
			tr := NewTracker(b, WithClock(newClock().Now))
			for i := 0; i < trades; i++ {
				if adm := tr.Admit(dec(1), dec(500)); adm.Approved() {
					_, _ = tr.Commit(adm.Reservation)
				}
			}
			tr.RecordClose(dec(pnl))

			first := tr.Rollover()
			second := tr.Rollover()
			return ledgersEqual(first, second) &&
				first.State == models.StateOpen &&
				first.TradesTakenToday == 0 &&
				first.CapitalDeployedToday.IsZero() &&
				first.RealizedPnLToday.IsZero()
		},
		gen.IntRange(0, 10),
		gen.Int64Range(-10000, 10000),
	))

	properties.TestingRun(t)
}
