package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"oi-lot-manager/internal/errors"
)

func TestLoad_CreatesTemplateOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error when config.toml is missing")
	}
	if !strings.Contains(err.Error(), "created template") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "config.toml")); statErr != nil {
		t.Fatalf("template not written: %v", statErr)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if !cfg.IsPaperMode() {
		t.Errorf("template should default to paper mode, got %q", cfg.Trading.Mode)
	}
	if cfg.Selection.OTMBand.Min != 50 || cfg.Selection.OTMBand.Max != 100 {
		t.Errorf("unexpected otm band %+v", cfg.Selection.OTMBand)
	}
	if cfg.Selection.OITierThresholds.High != 90 {
		t.Errorf("unexpected high threshold %v", cfg.Selection.OITierThresholds.High)
	}
	if cfg.Store.Path != filepath.Join(dir, "ledger.db") {
		t.Errorf("store path should default under config dir, got %q", cfg.Store.Path)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteTemplate(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KITE_API_KEY", "kite-key")
	t.Setenv("OILM_TOTAL_CAPITAL", "250000")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Credentials.Kite.APIKey != "kite-key" {
		t.Errorf("api key override not applied")
	}
	if cfg.Capital.TotalCapital != 250000 {
		t.Errorf("capital override not applied: %v", cfg.Capital.TotalCapital)
	}
	if cfg.Notifications.Telegram.ChatID != "42" {
		t.Errorf("chat id override not applied")
	}
}

func TestLoad_RequiresSizingKeys(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteTemplate(dir); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.toml")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	trimmed := strings.Replace(string(raw), "lot_multiplier = 75\n", "", 1)
	if trimmed == string(raw) {
		t.Fatal("template has no lot_multiplier line")
	}
	if err := os.WriteFile(path, []byte(trimmed), 0644); err != nil {
		t.Fatal(err)
	}

	_, err = Load(dir)
	if !errors.Is(err, errors.ErrConfigInvalid) {
		t.Fatalf("load without lot_multiplier: %v", err)
	}
	var verrs errors.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 1 || verrs[0].Field != "trading.lot_multiplier" {
		t.Errorf("errors = %v", err)
	}
}

func TestLoad_MinimalFileReportsEveryMissingKey(t *testing.T) {
	t.Setenv("OILM_TOTAL_CAPITAL", "")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[trading]\nmode = \"paper\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(dir)
	var verrs errors.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs) != len(requiredKeys) {
		t.Errorf("got %d missing keys, want %d: %v", len(verrs), len(requiredKeys), verrs)
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	b := cfg.Budget()
	if b.RiskCeiling().String() != "2000" {
		t.Errorf("risk ceiling = %s, want 2000", b.RiskCeiling())
	}
	if b.PositionCeiling().String() != "15000" {
		t.Errorf("position ceiling = %s, want 15000", b.PositionCeiling())
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Trading.Mode = "yolo"
	cfg.Capital.TotalCapital = 0
	cfg.Selection.OTMBand.Min = 200
	cfg.Selection.OTMBand.Max = 100
	cfg.Exits.StopLossFraction = 1.5
	cfg.Selection.OITierThresholds.Medium = 95

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !errors.Is(err, errors.ErrConfigInvalid) {
		t.Errorf("validation error should match ErrConfigInvalid")
	}

	var verrs errors.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"trading.mode",
		"capital.total_capital",
		"selection.otm_band.max",
		"exits.stop_loss_fraction",
		"selection.oi_tier_thresholds.medium",
	} {
		if !fields[want] {
			t.Errorf("missing error for %s in %v", want, verrs)
		}
	}
}

func TestValidate_SignalSource(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"static ok", func(c *Config) { c.Signal.Score = 0.4; c.Signal.Confidence = 0.8 }, false},
		{"static score out of range", func(c *Config) { c.Signal.Score = 1.5 }, true},
		{"file without path", func(c *Config) { c.Signal.Source = "file" }, true},
		{"file with path", func(c *Config) { c.Signal.Source = "file"; c.Signal.File = "sig.json" }, false},
		{"openai", func(c *Config) { c.Signal.Source = "openai" }, false},
		{"unknown", func(c *Config) { c.Signal.Source = "tea-leaves" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
