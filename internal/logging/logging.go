// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"oi-lot-manager/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Out        io.Writer
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "oi-lot-manager", "logs", "oilm.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	// Console writer
	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = out
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

// parseLevel falls back to info for empty or unknown names.
func parseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

const (
	// LoggerKey is the context key for the logger.
	LoggerKey ContextKey = "logger"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithUnderlying adds an underlying to the logger context.
func WithUnderlying(logger zerolog.Logger, underlying string) zerolog.Logger {
	return logger.With().Str("underlying", underlying).Logger()
}

// WithCycle tags every line of a cycle with its id.
func WithCycle(logger zerolog.Logger, cycleID string) zerolog.Logger {
	return logger.With().Str("cycle_id", cycleID).Logger()
}

// LogDecision logs a sizing decision.
func LogDecision(logger zerolog.Logger, d *models.SizingDecision) {
	event := logger.Info().
		Str("event", "decision").
		Str("decision_id", d.ID).
		Str("underlying", d.Underlying).
		Int64("lots", d.Lots)

	if d.Strike != nil {
		event = event.
			Str("symbol", d.Symbol()).
			Str("strike", d.Strike.StrikePrice.String()).
			Str("type", string(d.Strike.OptionType)).
			Str("tier", d.Tier.String())
	}

	if d.Accepted() {
		event.
			Str("position_value", d.PositionValue.StringFixed(2)).
			Str("risk", d.RiskAmount.StringFixed(2)).
			Str("stop_loss", d.StopLossPrice.StringFixed(2)).
			Str("target", d.TargetPrice.StringFixed(2)).
			Float64("confidence", d.Confidence).
			Msg("Sizing accepted")
		return
	}
	event.Str("reason", string(d.RejectionReason)).Msg("Sizing rejected")
}

// LogHalt logs a daily state transition into a halted state.
func LogHalt(logger zerolog.Logger, ledger models.DailyLedger) {
	logger.Warn().
		Str("event", "halt").
		Str("day", ledger.Day).
		Str("state", string(ledger.State)).
		Int("trades", ledger.TradesTakenToday).
		Str("realized_pnl", ledger.RealizedPnLToday.StringFixed(2)).
		Msg("Entries halted for the day")
}

// LogClose logs a realized close reported to the tracker.
func LogClose(logger zerolog.Logger, rec models.CloseRecord, ledger models.DailyLedger) {
	logger.Info().
		Str("event", "close").
		Str("underlying", rec.Underlying).
		Str("pnl", rec.PnL.StringFixed(2)).
		Str("realized_pnl", ledger.RealizedPnLToday.StringFixed(2)).
		Str("state", string(ledger.State)).
		Msg("Position closed")
}

// LogRollover logs a day reset.
func LogRollover(logger zerolog.Logger, from, to string) {
	logger.Info().
		Str("event", "rollover").
		Str("from", from).
		Str("to", to).
		Msg("Daily ledger reset")
}

// LogOrder logs an order event.
func LogOrder(logger zerolog.Logger, orderID, symbol string, qty int64, status string) {
	logger.Info().
		Str("event", "order").
		Str("order_id", orderID).
		Str("symbol", symbol).
		Int64("quantity", qty).
		Str("status", status).
		Msg("Order update")
}

// LogAPICall logs an API call.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("API call failed")
	} else {
		event.Msg("API call completed")
	}
}
