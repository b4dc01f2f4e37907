// Package signal provides directional views on an underlying. The engine only
// reads the score's sign and the confidence; how a source arrives at them is
// its own business.
package signal

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"strings"
	"time"

	"oi-lot-manager/internal/config"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

// Source produces a signal for one underlying.
type Source interface {
	Signal(ctx context.Context, underlying string) (models.Signal, error)
}

// normalize clamps score to [-1, 1] and confidence to [0, 1]. NaN inputs are
// rejected.
func normalize(sig models.Signal) (models.Signal, error) {
	if math.IsNaN(sig.Score) || math.IsNaN(sig.Confidence) {
		return sig, errors.Wrapf(errors.ErrSignalUnavailable, "%s: NaN in signal", sig.Underlying)
	}
	sig.Score = math.Max(-1, math.Min(1, sig.Score))
	sig.Confidence = math.Max(0, math.Min(1, sig.Confidence))
	return sig, nil
}

// Static returns the same view for every underlying.
type Static struct {
	Score      float64
	Confidence float64
	now        func() time.Time
}

// NewStatic creates a fixed signal source.
func NewStatic(score, confidence float64) *Static {
	return &Static{Score: score, Confidence: confidence, now: time.Now}
}

// Signal implements Source.
func (s *Static) Signal(ctx context.Context, underlying string) (models.Signal, error) {
	return normalize(models.Signal{
		Underlying: underlying,
		Score:      s.Score,
		Confidence: s.Confidence,
		Source:     "static",
		Timestamp:  s.now(),
	})
}

// fileEntry is one underlying in a signal file.
type fileEntry struct {
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// File reads signals written by an external model as a JSON object keyed by
// underlying:
//
//	{"NIFTY": {"score": 0.6, "confidence": 0.8, "updated_at": "2026-10-19T09:40:00+05:30"}}
type File struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
}

// NewFile creates a file source. Entries older than maxAge are treated as
// missing; zero disables the check.
func NewFile(path string, maxAge time.Duration) *File {
	return &File{path: path, maxAge: maxAge, now: time.Now}
}

// Signal implements Source.
func (f *File) Signal(ctx context.Context, underlying string) (models.Signal, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return models.Signal{}, errors.Wrapf(errors.ErrSignalUnavailable, "read %s: %v", f.path, err)
	}

	var entries map[string]fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return models.Signal{}, errors.Wrapf(errors.ErrSignalUnavailable, "parse %s: %v", f.path, err)
	}

	entry, ok := entries[strings.ToUpper(underlying)]
	if !ok {
		return models.Signal{}, errors.Wrapf(errors.ErrSignalUnavailable, "no signal for %s", underlying)
	}
	if f.maxAge > 0 && !entry.UpdatedAt.IsZero() && f.now().Sub(entry.UpdatedAt) > f.maxAge {
		return models.Signal{}, errors.Wrapf(errors.ErrSignalUnavailable, "signal for %s is stale (%s)",
			underlying, entry.UpdatedAt.Format(time.RFC3339))
	}

	return normalize(models.Signal{
		Underlying: underlying,
		Score:      entry.Score,
		Confidence: entry.Confidence,
		Source:     "file",
		Reason:     entry.Reason,
		Timestamp:  entry.UpdatedAt,
	})
}

// FromConfig builds the configured source.
func FromConfig(cfg *config.Config) (Source, error) {
	switch cfg.Signal.Source {
	case "static", "":
		return NewStatic(cfg.Signal.Score, cfg.Signal.Confidence), nil
	case "file":
		return NewFile(cfg.Signal.File, cfg.Signal.MaxAge), nil
	case "openai":
		if cfg.Credentials.OpenAI.APIKey == "" {
			return nil, errors.Wrap(errors.ErrConfigInvalid, "openai signal source needs OPENAI_API_KEY")
		}
		return NewOpenAI(cfg.Credentials.OpenAI.APIKey, cfg.Signal.Model), nil
	default:
		return nil, errors.Wrapf(errors.ErrConfigInvalid, "unknown signal source %q", cfg.Signal.Source)
	}
}
