package signal

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"oi-lot-manager/internal/config"
	"oi-lot-manager/internal/errors"
)

func TestStatic_Clamps(t *testing.T) {
	sig, err := NewStatic(1.7, -0.2).Signal(context.Background(), "NIFTY")
	if err != nil {
		t.Fatal(err)
	}
	if sig.Score != 1 || sig.Confidence != 0 || sig.Source != "static" {
		t.Errorf("got %+v", sig)
	}

	if _, err := NewStatic(math.NaN(), 0.5).Signal(context.Background(), "NIFTY"); !errors.Is(err, errors.ErrSignalUnavailable) {
		t.Errorf("NaN score should be unavailable, got %v", err)
	}
}

func writeSignals(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signals.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFile_Signal(t *testing.T) {
	path := writeSignals(t, `{
		"NIFTY": {"score": -0.6, "confidence": 0.8, "reason": "put writing at 22000", "updated_at": "2026-10-19T09:40:00+05:30"},
		"BANKNIFTY": {"score": 0.3, "confidence": 0.5, "updated_at": "2026-10-19T08:00:00+05:30"}
	}`)
	src := NewFile(path, 30*time.Minute)
	src.now = func() time.Time { return time.Date(2026, 10, 19, 4, 30, 0, 0, time.UTC) } // 10:00 IST

	sig, err := src.Signal(context.Background(), "nifty")
	if err != nil {
		t.Fatal(err)
	}
	if sig.Score != -0.6 || sig.Confidence != 0.8 || sig.Reason != "put writing at 22000" {
		t.Errorf("got %+v", sig)
	}

	if _, err := src.Signal(context.Background(), "BANKNIFTY"); !errors.Is(err, errors.ErrSignalUnavailable) {
		t.Errorf("stale entry should be unavailable, got %v", err)
	}
	if _, err := src.Signal(context.Background(), "FINNIFTY"); !errors.Is(err, errors.ErrSignalUnavailable) {
		t.Errorf("missing entry should be unavailable, got %v", err)
	}
}

func TestFile_BadInput(t *testing.T) {
	if _, err := NewFile(filepath.Join(t.TempDir(), "none.json"), 0).Signal(context.Background(), "NIFTY"); !errors.Is(err, errors.ErrSignalUnavailable) {
		t.Errorf("missing file: %v", err)
	}
	path := writeSignals(t, `not json`)
	if _, err := NewFile(path, 0).Signal(context.Background(), "NIFTY"); !errors.Is(err, errors.ErrSignalUnavailable) {
		t.Errorf("bad json: %v", err)
	}
}

type fakeChat struct {
	reply string
	err   error
	req   openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func TestOpenAI_Signal(t *testing.T) {
	chat := &fakeChat{reply: "```json\n{\"score\": 0.45, \"confidence\": 0.7, \"reason\": \"call OI unwinding\"}\n```"}
	src := &OpenAI{client: chat, model: "gpt-4o-mini", now: time.Now}

	sig, err := src.Signal(context.Background(), "NIFTY")
	if err != nil {
		t.Fatal(err)
	}
	if sig.Score != 0.45 || sig.Confidence != 0.7 || sig.Source != "openai:gpt-4o-mini" {
		t.Errorf("got %+v", sig)
	}
	if chat.req.Model != "gpt-4o-mini" || len(chat.req.Messages) != 2 {
		t.Errorf("request = %+v", chat.req)
	}
}

func TestOpenAI_Failures(t *testing.T) {
	tests := []struct {
		name string
		chat *fakeChat
	}{
		{"api error", &fakeChat{err: errors.New("429 too many requests")}},
		{"prose reply", &fakeChat{reply: "The market looks bullish."}},
		{"missing confidence", &fakeChat{reply: `{"score": 0.4}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &OpenAI{client: tt.chat, model: "m", now: time.Now}
			if _, err := src.Signal(context.Background(), "NIFTY"); !errors.Is(err, errors.ErrSignalUnavailable) {
				t.Errorf("expected ErrSignalUnavailable, got %v", err)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()

	src, err := FromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(*Static); !ok {
		t.Errorf("default source = %T", src)
	}

	cfg.Signal.Source = "openai"
	if _, err := FromConfig(cfg); !errors.Is(err, errors.ErrConfigInvalid) {
		t.Errorf("openai without key: %v", err)
	}
	cfg.Credentials.OpenAI.APIKey = "sk-test"
	if src, err := FromConfig(cfg); err != nil {
		t.Fatal(err)
	} else if _, ok := src.(*OpenAI); !ok {
		t.Errorf("source = %T", src)
	}

	cfg.Signal.Source = "file"
	cfg.Signal.File = "/tmp/signals.json"
	if src, err := FromConfig(cfg); err != nil {
		t.Fatal(err)
	} else if _, ok := src.(*File); !ok {
		t.Errorf("source = %T", src)
	}
}
