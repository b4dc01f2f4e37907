// Package notify sends operator alerts for halts, near-limit warnings, fills
// and daily summaries.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"oi-lot-manager/internal/config"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
	"oi-lot-manager/pkg/utils"
)

// Notifier is the alert surface the engine and the CLI depend on.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendHalt(ctx context.Context, ledger models.DailyLedger) error
	SendNearLossLimit(ctx context.Context, status models.DailyStatus) error
	SendFill(ctx context.Context, d *models.SizingDecision, order *models.OrderResult) error
	SendDailySummary(ctx context.Context, status models.DailyStatus) error
	SendError(ctx context.Context, err error, context string) error
}

// Channel delivers rendered notifications to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Kind classifies a notification for filtering and colouring.
type Kind string

const (
	KindHalt    Kind = "halt"
	KindWarning Kind = "warning"
	KindFill    Kind = "fill"
	KindError   Kind = "error"
	KindSummary Kind = "summary"
	KindInfo    Kind = "info"
)

// Notification is one alert.
type Notification struct {
	Kind      Kind
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// Level filters which kinds reach the channels.
type Level string

const (
	LevelAll       Level = "all"
	LevelHaltsOnly Level = "halts_only"
)

// Admits reports whether k passes the filter. halts_only keeps the
// near-limit warning that precedes a loss halt.
func (l Level) Admits(k Kind) bool {
	if l == LevelHaltsOnly {
		return k == KindHalt || k == KindWarning
	}
	return true
}

// MultiNotifier fans notifications out to every registered channel.
type MultiNotifier struct {
	level Level
	now   func() time.Time

	mu        sync.RWMutex
	channels  []Channel
	warnedDay string
}

// NewMultiNotifier registers the webhook and Telegram channels that cfg
// enables with enough settings to deliver.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{level: Level(cfg.Level), now: time.Now}
	if mn.level == "" {
		mn.level = LevelAll
	}
	if !cfg.Enabled {
		return mn
	}

	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}
	return mn
}

// AddChannel registers ch.
func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	mn.channels = append(mn.channels, ch)
	mn.mu.Unlock()
}

// Channels returns the registered channel names.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	names := make([]string, len(mn.channels))
	for i, ch := range mn.channels {
		names[i] = ch.Name()
	}
	return names
}

// Send delivers n to all channels concurrently. Failures are joined and
// tagged with the channel name; one slow channel does not hold the others.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.level.Admits(n.Kind) {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = mn.now()
	}

	mn.mu.RLock()
	channels := append([]Channel(nil), mn.channels...)
	mn.mu.RUnlock()

	errs := make([]error, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, n); err != nil {
				errs[i] = fmt.Errorf("%s: %w", ch.Name(), err)
			}
		}(i, ch)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func haltCause(state models.LedgerState) string {
	switch state {
	case models.StateHaltedLoss:
		return "daily loss limit reached"
	case models.StateHaltedCount:
		return "daily trade limit reached"
	}
	return string(state)
}

// SendHalt announces that entries are blocked for the rest of the day.
func (mn *MultiNotifier) SendHalt(ctx context.Context, ledger models.DailyLedger) error {
	return mn.Send(ctx, Notification{
		Kind:  KindHalt,
		Title: fmt.Sprintf("🛑 Entries halted for %s", ledger.Day),
		Message: lines(
			"Reason: "+haltCause(ledger.State),
			fmt.Sprintf("Trades taken: %d", ledger.TradesTakenToday),
			"Capital deployed: "+utils.FormatINR(ledger.CapitalDeployedToday),
			"Realized P&L: "+utils.FormatPnL(ledger.RealizedPnLToday),
		),
		Data: ledgerData(ledger),
	})
}

// SendNearLossLimit warns once per day when realized losses pass 80% of
// the daily cap. It is a no-op when the status is not near the limit.
func (mn *MultiNotifier) SendNearLossLimit(ctx context.Context, status models.DailyStatus) error {
	l := status.Ledger
	if !status.NearLossLimit || l.State.Halted() {
		return nil
	}

	mn.mu.Lock()
	first := mn.warnedDay != l.Day
	mn.warnedDay = l.Day
	mn.mu.Unlock()
	if !first {
		return nil
	}

	data := ledgerData(l)
	data["loss_headroom"] = status.LossHeadroom.StringFixed(2)
	return mn.Send(ctx, Notification{
		Kind:  KindWarning,
		Title: "⚠️ Approaching daily loss limit",
		Message: lines(
			"Realized P&L: "+utils.FormatPnL(l.RealizedPnLToday),
			"Daily loss cap: "+utils.FormatINR(status.Budget.MaxDailyLoss),
			"Headroom left: "+utils.FormatINR(status.LossHeadroom),
		),
		Data: data,
	})
}

// SendFill announces an executed entry.
func (mn *MultiNotifier) SendFill(ctx context.Context, d *models.SizingDecision, order *models.OrderResult) error {
	return mn.Send(ctx, Notification{
		Kind:  KindFill,
		Title: fmt.Sprintf("💹 Bought %s", d.Symbol()),
		Message: lines(
			fmt.Sprintf("Lots: %d (%s qty)", d.Lots, utils.FormatQuantity(d.Quantity())),
			"Tier: "+d.Tier.String(),
			"Premium: "+utils.FormatINR(order.AveragePrice),
			"Position: "+utils.FormatINR(d.PositionValue),
			"Risk: "+utils.FormatINR(d.RiskAmount),
			fmt.Sprintf("Stop: %s | Target: %s", utils.FormatINR(d.StopLossPrice), utils.FormatINR(d.TargetPrice)),
		),
		Data: map[string]interface{}{
			"decision_id":    d.ID,
			"order_id":       order.OrderID,
			"symbol":         d.Symbol(),
			"lots":           d.Lots,
			"quantity":       d.Quantity(),
			"position_value": d.PositionValue.StringFixed(2),
			"risk":           d.RiskAmount.StringFixed(2),
		},
	})
}

// SendDailySummary reports the day's ledger.
func (mn *MultiNotifier) SendDailySummary(ctx context.Context, status models.DailyStatus) error {
	l := status.Ledger
	icon := "📊"
	switch {
	case l.RealizedPnLToday.IsPositive():
		icon = "💰"
	case l.RealizedPnLToday.IsNegative():
		icon = "📉"
	}

	return mn.Send(ctx, Notification{
		Kind:  KindSummary,
		Title: fmt.Sprintf("%s Daily Summary - %s", icon, l.Day),
		Message: lines(
			"State: "+string(l.State),
			fmt.Sprintf("Trades: %d of %d", l.TradesTakenToday, status.Budget.MaxTradesPerDay),
			fmt.Sprintf("Capital deployed: %s (%s)", utils.FormatINR(l.CapitalDeployedToday), utils.FormatPercent(status.UtilisationPct)),
			"Realized P&L: "+utils.FormatPnL(l.RealizedPnLToday),
		),
		Data: ledgerData(l),
	})
}

// SendError reports a failed cycle or order.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return mn.Send(ctx, Notification{
		Kind:    KindError,
		Title:   "❌ " + errContext + " failed",
		Message: lines("Error: "+err.Error(), "Time: "+mn.now().Format("15:04:05")),
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

func ledgerData(l models.DailyLedger) map[string]interface{} {
	return map[string]interface{}{
		"day":          l.Day,
		"state":        string(l.State),
		"trades":       l.TradesTakenToday,
		"deployed":     l.CapitalDeployedToday.StringFixed(2),
		"realized_pnl": l.RealizedPnLToday.StringFixed(2),
	}
}

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}

var _ Notifier = (*MultiNotifier)(nil)
