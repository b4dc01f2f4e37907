// Package resilience guards upstream market-data calls with a circuit
// breaker so a failing quote API is not hammered every cycle.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"oi-lot-manager/internal/errors"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "CLOSED"    // calls pass through
	StateOpen     State = "OPEN"      // calls fail fast
	StateHalfOpen State = "HALF_OPEN" // one probe at a time
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold probe successes close it again.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// IsFailure decides which errors count against the upstream. Nil
	// counts every error.
	IsFailure func(error) bool
}

// DefaultConfig returns thresholds sized for a one-minute cycle.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         2 * time.Minute,
	}
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	Requests        int64     `json:"requests"`
	Failures        int64     `json:"failures"`
	Rejected        int64     `json:"rejected"`
	ConsecutiveFail int       `json:"consecutive_failures"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastChange      time.Time `json:"last_change"`
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name   string
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	probing     bool
	lastFailure time.Time
	lastChange  time.Time
	requests    int64
	totalFail   int64
	rejected    int64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger logs state transitions.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// New creates a closed breaker. Zero thresholds fall back to DefaultConfig.
func New(name string, cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}

	b := &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: zerolog.Nop(),
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastChange = b.now()
	return b
}

// Do runs fn unless the breaker is open. Context cancellation by the caller
// is not counted as an upstream failure.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}

	v, err := fn(ctx)
	switch {
	case err == nil:
		b.onSuccess()
	case ctx.Err() != nil, b.cfg.IsFailure != nil && !b.cfg.IsFailure(err):
		b.release()
	default:
		b.onFailure()
	}
	return v, err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}

	switch b.state {
	case StateOpen:
		b.rejected++
		return errors.Wrap(ErrOpen, b.name)
	case StateHalfOpen:
		if b.probing {
			b.rejected++
			return errors.Wrap(ErrOpen, b.name+": probe in flight")
		}
		b.probing = true
	}
	b.requests++
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	b.totalFail++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.lastChange = b.now()
	b.failures = 0
	b.successes = 0

	var ev *zerolog.Event
	if to == StateOpen {
		ev = b.logger.Warn().Dur("cooldown", b.cfg.Cooldown)
	} else {
		ev = b.logger.Info()
	}
	ev.Str("breaker", b.name).Str("from", string(from)).Str("to", string(to)).Msg("Circuit breaker state change")
}

// State returns the current position, moving an expired open breaker to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// Stats returns counters since creation.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:            b.name,
		State:           b.state,
		Requests:        b.requests,
		Failures:        b.totalFail,
		Rejected:        b.rejected,
		ConsecutiveFail: b.failures,
		LastFailure:     b.lastFailure,
		LastChange:      b.lastChange,
	}
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.transition(StateClosed)
}
