// Package cli provides the command-line interface for the lot manager.
package cli

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"oi-lot-manager/internal/config"
	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/logging"
	"oi-lot-manager/internal/metrics"
	"oi-lot-manager/internal/store"
	"oi-lot-manager/internal/trace"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// skipConfig marks commands that run without a loaded config.
const skipConfig = "skip-config"

// App holds the application dependencies. The store and engine are opened
// lazily by the commands that need them.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	configDir string
	store     *store.SQLiteStore
	redis     *store.RedisMirror
	rt        *runtime
}

// NewApp creates an empty App; NewRootCmd fills it before any command runs.
func NewApp() *App {
	return &App{Logger: zerolog.Nop()}
}

// Close releases the store, the Redis mirror and the span exporter.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs = append(errs, trace.Shutdown(ctx))
	return errors.Join(errs...)
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "oilm",
		Short: "OI lot manager - OTM strike and lot sizing for index options",
		Long: `oilm picks out-of-the-money index option strikes by open-interest tier and
sizes the entry in whole lots against per-trade risk, position and daily limits.

Each cycle reads a directional signal, fetches the option chain, ranks strikes
by OI percentile and sizes the best candidate the daily ledger still admits.
The ledger halts for the day once the trade count or loss limit is reached.

Use 'oilm config init' to write a starting config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			app.configDir = dir

			if !needsConfig(cmd) {
				return nil
			}

			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.Logger = logging.NewLoggerWithConfig(logging.LogConfig{
				Level:      cfg.Logging.Level,
				Console:    cfg.Logging.Console,
				File:       cfg.Logging.File,
				FilePath:   cfg.Logging.FilePath,
				MaxSize:    100,
				MaxBackups: 7,
				MaxAge:     30,
			})

			// Handle debug flag
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}

			app.Metrics = metrics.New()
			return trace.Init(trace.Config{
				Enabled: cfg.Logging.Tracing,
				Version: Version,
				Writer:  os.Stderr,
			})
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/oi-lot-manager)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addLedgerCommands(rootCmd, app)
	addCycleCommands(rootCmd, app)
	addServeCommand(rootCmd, app)
	addHelpCommands(rootCmd)

	return rootCmd
}

// needsConfig reports whether cmd runs with a loaded config. Help and
// shell completion never do.
func needsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch {
		case c.Annotations[skipConfig] == "true":
			return false
		case c.Name() == "help", c.Name() == cobra.ShellCompRequestCmd, c.Name() == "completion":
			return false
		}
	}
	return true
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("OI Lot Manager v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View, validate and create the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Write a commented config.toml template",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path, err := config.WriteTemplate(app.configDir)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Success("✓ Config template at %s", path)
			output.Dim("Set [capital] and [selection] before the first cycle.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.configDir})
			} else {
				output.Println(app.configDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load already validated; reaching here means the config is usable.
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with secrets blanked.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	c.Credentials = config.Credentials{}
	c.Notifications.Telegram.BotToken = mask(c.Notifications.Telegram.BotToken)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func showConfig(output *Output, cfg *config.Config) {
	b := cfg.Budget()

	output.Bold("Trading")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  Exchange/Product: %s / %s\n", cfg.Trading.Exchange, cfg.Trading.Product)
	output.Printf("  Underlyings:      %v\n", cfg.Trading.Underlyings)
	output.Printf("  Lot multiplier:   %d\n", cfg.Trading.LotMultiplier)
	output.Printf("  Cycle interval:   %s\n", cfg.Trading.CycleInterval)
	if cfg.Trading.ChainFile != "" {
		output.Printf("  Chain file:       %s\n", cfg.Trading.ChainFile)
	}
	output.Println()

	output.Bold("Capital")
	output.Printf("  Total capital:    %s\n", FormatINR(b.TotalCapital))
	output.Printf("  Risk per trade:   %s (%s)\n", FormatPercent(b.MaxRiskPerTradePct), FormatINR(b.RiskCeiling()))
	output.Printf("  Max position:     %s (%s)\n", FormatPercent(b.MaxPositionPct), FormatINR(b.PositionCeiling()))
	output.Printf("  Trades per day:   %d\n", b.MaxTradesPerDay)
	output.Printf("  Daily loss limit: %s\n", FormatINR(b.MaxDailyLoss))
	if cfg.Capital.MaxLotsPerTrade > 0 {
		output.Printf("  Max lots/trade:   %d\n", cfg.Capital.MaxLotsPerTrade)
	}
	output.Println()

	output.Bold("Selection")
	output.Printf("  OTM band:         %.0f-%.0f pts\n", cfg.Selection.OTMBand.Min, cfg.Selection.OTMBand.Max)
	th := cfg.Selection.OITierThresholds
	output.Printf("  OI tiers:         high>=p%.0f medium>=p%.0f floor<p%.0f\n", th.High, th.Medium, th.ExcludedFloor)
	output.Printf("  Stop / target:    %.0f%% / %.0f%% of premium\n", cfg.Exits.StopLossFraction*100, cfg.Exits.TargetFraction*100)
	output.Println()

	output.Bold("Signal")
	output.Printf("  Source:           %s\n", cfg.Signal.Source)
	switch cfg.Signal.Source {
	case "file":
		output.Printf("  File:             %s (max age %s)\n", cfg.Signal.File, cfg.Signal.MaxAge)
	case "openai":
		output.Printf("  Model:            %s\n", cfg.Signal.Model)
	default:
		output.Printf("  Score/confidence: %.2f / %.2f\n", cfg.Signal.Score, cfg.Signal.Confidence)
	}
	output.Println()

	output.Bold("Storage")
	output.Printf("  Ledger DB:        %s\n", cfg.Store.Path)
	if cfg.Store.RedisAddr != "" {
		output.Printf("  Redis mirror:     %s (db %d, prefix %s)\n", cfg.Store.RedisAddr, cfg.Store.RedisDB, cfg.Store.RedisPrefix)
	}
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:          %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:            %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:          %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:         %v\n", cfg.Notifications.Telegram.Enabled)
}
