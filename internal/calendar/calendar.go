// Package calendar answers market-hours and day-boundary questions for NSE
// derivatives in Asia/Kolkata time.
package calendar

import (
	"sync"
	"time"
)

// IST is the timezone for Indian markets.
var IST *time.Location

func init() {
	var err error
	IST, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IST = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Market hours in IST
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// Session describes where in the trading day a moment falls.
type Session string

const (
	SessionClosed  Session = "CLOSED"
	SessionPreOpen Session = "PRE_OPEN"
	SessionOpen    Session = "OPEN"
)

// Calendar is what the engine needs from a market calendar.
type Calendar interface {
	IsTradingNow() bool
	RolloverDue() bool
	MarkRolledOver()
}

// DayKey returns the IST calendar date of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}

// NSE is a Calendar for the National Stock Exchange.
type NSE struct {
	now      func() time.Time
	holidays map[string]bool

	mu           sync.Mutex
	lastRollover string
}

// Option configures an NSE calendar.
type Option func(*NSE)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *NSE) { c.now = now }
}

// WithHolidays adds exchange holidays given as YYYY-MM-DD.
func WithHolidays(days ...string) Option {
	return func(c *NSE) {
		for _, d := range days {
			c.holidays[d] = true
		}
	}
}

// WithLastRollover seeds the day the ledger was last reset, usually from a
// restored snapshot.
func WithLastRollover(day string) Option {
	return func(c *NSE) { c.lastRollover = day }
}

// NewNSE creates a calendar preloaded with the published holiday list.
func NewNSE(opts ...Option) *NSE {
	c := &NSE{
		now:      time.Now,
		holidays: make(map[string]bool, len(nseHolidays)),
	}
	for _, d := range nseHolidays {
		c.holidays[d] = true
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the calendar's current time in IST.
func (c *NSE) Now() time.Time {
	return c.now().In(IST)
}

// IsHoliday reports whether t's IST date is an exchange holiday.
func (c *NSE) IsHoliday(t time.Time) bool {
	return c.holidays[DayKey(t)]
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func (c *NSE) IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	if ist.Weekday() == time.Saturday || ist.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(ist)
}

// SessionAt returns the session for t.
func (c *NSE) SessionAt(t time.Time) Session {
	ist := t.In(IST)
	if !c.IsTradingDay(ist) {
		return SessionClosed
	}

	minutes := ist.Hour()*60 + ist.Minute()

	// Pre-open: 9:00 - 9:15
	if minutes >= 9*60 && minutes < OpenHour*60+OpenMinute {
		return SessionPreOpen
	}
	if minutes >= OpenHour*60+OpenMinute && minutes < CloseHour*60+CloseMinute {
		return SessionOpen
	}
	return SessionClosed
}

// IsTradingNow reports whether the continuous session is open.
func (c *NSE) IsTradingNow() bool {
	return c.SessionAt(c.now()) == SessionOpen
}

// Today returns the current IST day key.
func (c *NSE) Today() string {
	return DayKey(c.now())
}

// RolloverDue is true once the IST date has moved past the last reset.
func (c *NSE) RolloverDue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRollover != DayKey(c.now())
}

// MarkRolledOver records that the ledger was reset for today.
func (c *NSE) MarkRolledOver() {
	c.mu.Lock()
	c.lastRollover = DayKey(c.now())
	c.mu.Unlock()
}

// NextOpen returns the next market open at or after t.
func (c *NSE) NextOpen(t time.Time) time.Time {
	ist := t.In(IST)

	todayOpen := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	if ist.Before(todayOpen) && c.IsTradingDay(ist) {
		return todayOpen
	}

	d := todayOpen.AddDate(0, 0, 1)
	for i := 0; i < 15; i++ {
		if c.IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// CloseOf returns the session close on t's IST date.
func (c *NSE) CloseOf(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}
