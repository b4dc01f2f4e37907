package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# OI Lot Manager Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Exchange segment for option orders: NFO, BFO
exchange = "NFO"
# Product type: MIS, NRML
product = "MIS"
# Underlyings evaluated every cycle
underlyings = ["NIFTY"]
# Contracts per lot
lot_multiplier = 75
# Strike spacing used for ATM rounding
strike_step = 50
# Pause between cycles for the run command
cycle_interval = "1m"
# Starting cash for the paper gateway
paper_capital = 100000.0
# Read option chains from a CSV snapshot instead of Kite quotes
# chain_file = "~/.config/oi-lot-manager/chain.csv"
# Exchange holidays beyond the built-in NSE list
holidays = []

[capital]
# Fixed capital for the day in INR
total_capital = 100000.0
# Maximum risk per trade as a fraction of capital
max_risk_per_trade_pct = 0.02
# Maximum premium outlay per trade as a fraction of capital
max_position_pct = 0.15
# Entries allowed per trading day
max_trades_per_day = 5
# Realized loss (INR) that halts entries for the day
max_daily_loss = 5000.0
# Hard cap on lots per trade (0 disables)
max_lots_per_trade = 2

[selection]
# Absolute OI floor; quotes below it are excluded (0 disables)
min_open_interest = 0

[selection.otm_band]
# Inclusive OTM distance band in index points
min = 50.0
max = 100.0

[selection.oi_tier_thresholds]
# Percentile cut-offs across the whole chain
high = 90.0
medium = 75.0
excluded_floor = 25.0

[exits]
# Premium-based exits. Presets:
#   scalp: stop_loss_fraction = 0.01, target_fraction = 0.02
#   swing: stop_loss_fraction = 0.15, target_fraction = 0.25
stop_loss_fraction = 0.15
target_fraction = 0.25

[signal]
# Source: static, file, openai
source = "static"
# Static score in [-1, 1] and confidence in [0, 1]
score = 0.0
confidence = 0.0
# JSON signal file for source = "file"
file = ""
# File entries older than this are ignored
max_age = "15m"
# Chat model for source = "openai"
model = "gpt-4o-mini"

[store]
# SQLite ledger and decision journal
# path = "~/.config/oi-lot-manager/ledger.db"
# Optional Redis mirror of the ledger (empty disables)
redis_addr = ""
redis_prefix = "oilm"
redis_db = 0

[logging]
level = "info"
console = true
file = true
# Print OpenTelemetry spans for every cycle
tracing = false

[notifications]
# Enable notifications
enabled = false
# Notification level: all, halts_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[server]
# Address for the status and metrics endpoint
listen = "127.0.0.1:9464"
`

const credentialsTemplate = `# OI Lot Manager Credentials
# Keep this file private. Environment variables take precedence.

[kite]
# KITE_API_KEY
api_key = ""
# KITE_ACCESS_TOKEN, generated by the daily login flow
access_token = ""

[openai]
# OPENAI_API_KEY
api_key = ""
`

func createTemplateConfig(configDir string) error {
	path, err := WriteTemplate(configDir)
	if err != nil {
		return err
	}
	return fmt.Errorf("config file not found, created template at %s", path)
}

// WriteTemplate writes the commented config template into configDir and
// returns its path. An existing file is left untouched.
func WriteTemplate(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return "", fmt.Errorf("writing config template: %w", err)
	}
	return path, nil
}

func writeCredentialsTemplate(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
