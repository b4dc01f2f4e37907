// Package config provides configuration management for the lot manager.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Trading       TradingConfig      `mapstructure:"trading"`
	Capital       CapitalConfig      `mapstructure:"capital"`
	Selection     SelectionConfig    `mapstructure:"selection"`
	Exits         ExitConfig         `mapstructure:"exits"`
	Signal        SignalConfig       `mapstructure:"signal"`
	Store         StoreConfig        `mapstructure:"store"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode          string        `mapstructure:"mode"`     // "live", "paper"
	Exchange      string        `mapstructure:"exchange"` // NFO, BFO
	Product       string        `mapstructure:"product"`  // MIS, NRML
	Underlyings   []string      `mapstructure:"underlyings"`
	LotMultiplier int64         `mapstructure:"lot_multiplier"`
	StrikeStep    int64         `mapstructure:"strike_step"`
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	PaperCapital  float64       `mapstructure:"paper_capital"`
	ChainFile     string        `mapstructure:"chain_file"` // CSV snapshot instead of Kite quotes
	Holidays      []string      `mapstructure:"holidays"`   // extra exchange holidays, YYYY-MM-DD
}

// CapitalConfig holds the per-trade and per-day capital limits.
type CapitalConfig struct {
	TotalCapital       float64 `mapstructure:"total_capital"`
	MaxRiskPerTradePct float64 `mapstructure:"max_risk_per_trade_pct"` // fraction
	MaxPositionPct     float64 `mapstructure:"max_position_pct"`       // fraction
	MaxTradesPerDay    int     `mapstructure:"max_trades_per_day"`
	MaxDailyLoss       float64 `mapstructure:"max_daily_loss"`
	MaxLotsPerTrade    int64   `mapstructure:"max_lots_per_trade"` // 0 disables the cap
}

// SelectionConfig holds strike selection filters.
type SelectionConfig struct {
	OTMBand          BandConfig       `mapstructure:"otm_band"`
	OITierThresholds ThresholdsConfig `mapstructure:"oi_tier_thresholds"`
	MinOpenInterest  int64            `mapstructure:"min_open_interest"`
}

// BandConfig is an inclusive OTM distance band in index points.
type BandConfig struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// ThresholdsConfig holds the OI percentile cut-offs.
type ThresholdsConfig struct {
	High          float64 `mapstructure:"high"`
	Medium        float64 `mapstructure:"medium"`
	ExcludedFloor float64 `mapstructure:"excluded_floor"`
}

// ExitConfig holds premium-based stop and target fractions.
type ExitConfig struct {
	StopLossFraction float64 `mapstructure:"stop_loss_fraction"`
	TargetFraction   float64 `mapstructure:"target_fraction"`
}

// SignalConfig selects and configures the signal source.
type SignalConfig struct {
	Source     string        `mapstructure:"source"` // static, file, openai
	Score      float64       `mapstructure:"score"`
	Confidence float64       `mapstructure:"confidence"`
	File       string        `mapstructure:"file"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	Model      string        `mapstructure:"model"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path        string `mapstructure:"path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	RedisDB     int    `mapstructure:"redis_db"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
	Tracing  bool   `mapstructure:"tracing"` // export otel spans to stdout
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, halts_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// ServerConfig holds the status endpoint configuration.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite   KiteCredentials   `mapstructure:"kite"`
	OpenAI OpenAICredentials `mapstructure:"openai"`
}

// KiteCredentials holds Kite Connect credentials. The access token is
// obtained out of band.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/oi-lot-manager"
	}
	return filepath.Join(home, ".config", "oi-lot-manager")
}

// Default returns the configuration the template describes.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	for key, val := range documentedValues {
		v.Set(key, val)
	}
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// requiredKeys are the sizing and selection limits. They have no fallback:
// a config file that omits one does not load.
var requiredKeys = []string{
	"trading.lot_multiplier",
	"capital.total_capital",
	"capital.max_risk_per_trade_pct",
	"capital.max_position_pct",
	"capital.max_trades_per_day",
	"capital.max_daily_loss",
	"selection.otm_band.min",
	"selection.otm_band.max",
	"selection.oi_tier_thresholds.high",
	"selection.oi_tier_thresholds.medium",
	"selection.oi_tier_thresholds.excluded_floor",
	"exits.stop_loss_fraction",
	"exits.target_fraction",
}

// documentedValues are what the template writes for requiredKeys.
var documentedValues = map[string]interface{}{
	"trading.lot_multiplier":                      75,
	"capital.total_capital":                       100000.0,
	"capital.max_risk_per_trade_pct":              0.02,
	"capital.max_position_pct":                    0.15,
	"capital.max_trades_per_day":                  5,
	"capital.max_daily_loss":                      5000.0,
	"selection.otm_band.min":                      50.0,
	"selection.otm_band.max":                      100.0,
	"selection.oi_tier_thresholds.high":           90.0,
	"selection.oi_tier_thresholds.medium":         75.0,
	"selection.oi_tier_thresholds.excluded_floor": 25.0,
	"exits.stop_loss_fraction":                    0.15,
	"exits.target_fraction":                       0.25,
}

// checkRequired reports every required key the file and environment leave
// unset.
func checkRequired(v *viper.Viper) error {
	var errs errors.ValidationErrors
	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			errs.Add(key, nil, "required")
		}
	}
	return errs.Err()
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.exchange", "NFO")
	v.SetDefault("trading.product", "MIS")
	v.SetDefault("trading.underlyings", []string{"NIFTY"})
	v.SetDefault("trading.strike_step", 50)
	v.SetDefault("trading.cycle_interval", "1m")
	v.SetDefault("trading.paper_capital", 100000.0)
	v.SetDefault("trading.holidays", []string{})

	v.SetDefault("capital.max_lots_per_trade", 2)
	v.SetDefault("selection.min_open_interest", 0)

	v.SetDefault("signal.source", "static")
	v.SetDefault("signal.score", 0.0)
	v.SetDefault("signal.confidence", 0.0)
	v.SetDefault("signal.max_age", "15m")
	v.SetDefault("signal.model", "gpt-4o-mini")

	v.SetDefault("store.path", filepath.Join(configDir, "ledger.db"))
	v.SetDefault("store.redis_prefix", "oilm")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "oilm.log"))
	v.SetDefault("logging.tracing", false)

	v.SetDefault("notifications.level", "all")
	v.SetDefault("server.listen", "127.0.0.1:9464")
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)
	if err := v.BindEnv("capital.total_capital", "OILM_TOTAL_CAPITAL"); err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir)
		}
		return err
	}
	if err := checkRequired(v); err != nil {
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Credentials are optional in paper mode; env vars may fill them.
			return writeCredentialsTemplate(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	// Kite credentials
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}

	// OpenAI credentials
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}

	// Telegram
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv("OILM_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("OILM_TOTAL_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Capital.TotalCapital = f
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs errors.ValidationErrors

	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		errs.Add("trading.mode", c.Trading.Mode, "must be 'live' or 'paper'")
	}
	if c.Trading.LotMultiplier < 1 {
		errs.Add("trading.lot_multiplier", c.Trading.LotMultiplier, "must be at least 1")
	}
	if c.Trading.StrikeStep < 1 {
		errs.Add("trading.strike_step", c.Trading.StrikeStep, "must be at least 1")
	}
	if len(c.Trading.Underlyings) == 0 {
		errs.Add("trading.underlyings", c.Trading.Underlyings, "at least one underlying is required")
	}
	if c.Trading.CycleInterval <= 0 {
		errs.Add("trading.cycle_interval", c.Trading.CycleInterval, "must be positive")
	}
	for _, day := range c.Trading.Holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			errs.Add("trading.holidays", day, "must be YYYY-MM-DD")
		}
	}

	limits := c.Capital
	if limits.TotalCapital <= 0 {
		errs.Add("capital.total_capital", limits.TotalCapital, "must be positive")
	}
	if limits.MaxRiskPerTradePct <= 0 || limits.MaxRiskPerTradePct > 1 {
		errs.Add("capital.max_risk_per_trade_pct", limits.MaxRiskPerTradePct, "must be in (0, 1]")
	}
	if limits.MaxPositionPct <= 0 || limits.MaxPositionPct > 1 {
		errs.Add("capital.max_position_pct", limits.MaxPositionPct, "must be in (0, 1]")
	}
	if limits.MaxTradesPerDay < 1 {
		errs.Add("capital.max_trades_per_day", limits.MaxTradesPerDay, "must be at least 1")
	}
	if limits.MaxDailyLoss <= 0 {
		errs.Add("capital.max_daily_loss", limits.MaxDailyLoss, "must be positive")
	}
	if limits.MaxLotsPerTrade < 0 {
		errs.Add("capital.max_lots_per_trade", limits.MaxLotsPerTrade, "must be non-negative (0 disables)")
	}

	band := c.Selection.OTMBand
	if band.Min < 0 {
		errs.Add("selection.otm_band.min", band.Min, "must be non-negative")
	}
	if band.Max < band.Min {
		errs.Add("selection.otm_band.max", band.Max, "must be >= otm_band.min")
	}
	th := c.Selection.OITierThresholds
	if th.High <= 0 || th.High > 100 {
		errs.Add("selection.oi_tier_thresholds.high", th.High, "must be in (0, 100]")
	}
	if th.Medium < 0 || th.Medium > th.High {
		errs.Add("selection.oi_tier_thresholds.medium", th.Medium, "must be in [0, high]")
	}
	if th.ExcludedFloor < 0 || th.ExcludedFloor > th.Medium {
		errs.Add("selection.oi_tier_thresholds.excluded_floor", th.ExcludedFloor, "must be in [0, medium]")
	}
	if c.Selection.MinOpenInterest < 0 {
		errs.Add("selection.min_open_interest", c.Selection.MinOpenInterest, "must be non-negative")
	}

	if c.Exits.StopLossFraction <= 0 || c.Exits.StopLossFraction >= 1 {
		errs.Add("exits.stop_loss_fraction", c.Exits.StopLossFraction, "must be in (0, 1)")
	}
	if c.Exits.TargetFraction <= 0 {
		errs.Add("exits.target_fraction", c.Exits.TargetFraction, "must be positive")
	}

	switch strings.ToLower(c.Signal.Source) {
	case "static":
		if c.Signal.Score < -1 || c.Signal.Score > 1 {
			errs.Add("signal.score", c.Signal.Score, "must be in [-1, 1]")
		}
		if c.Signal.Confidence < 0 || c.Signal.Confidence > 1 {
			errs.Add("signal.confidence", c.Signal.Confidence, "must be in [0, 1]")
		}
	case "file":
		if c.Signal.File == "" {
			errs.Add("signal.file", c.Signal.File, "required when source is 'file'")
		}
		if c.Signal.MaxAge < 0 {
			errs.Add("signal.max_age", c.Signal.MaxAge, "must be non-negative")
		}
	case "openai":
		if c.Signal.Model == "" {
			errs.Add("signal.model", c.Signal.Model, "required when source is 'openai'")
		}
	default:
		errs.Add("signal.source", c.Signal.Source, "must be 'static', 'file' or 'openai'")
	}

	if c.Notifications.Level != "" && c.Notifications.Level != "all" && c.Notifications.Level != "halts_only" {
		errs.Add("notifications.level", c.Notifications.Level, "must be 'all' or 'halts_only'")
	}

	return errs.Err()
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// Budget converts the capital section into decimal limits.
func (c *Config) Budget() models.CapitalBudget {
	return models.CapitalBudget{
		TotalCapital:       decimal.NewFromFloat(c.Capital.TotalCapital),
		MaxRiskPerTradePct: decimal.NewFromFloat(c.Capital.MaxRiskPerTradePct),
		MaxPositionPct:     decimal.NewFromFloat(c.Capital.MaxPositionPct),
		MaxTradesPerDay:    c.Capital.MaxTradesPerDay,
		MaxDailyLoss:       decimal.NewFromFloat(c.Capital.MaxDailyLoss),
	}
}
