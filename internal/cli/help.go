package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func addHelpCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newExamplesCmd())
	rootCmd.AddCommand(newQuickstartCmd())
}

func newExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "examples",
		Short:       "Show common workflows",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			examples := []struct {
				title    string
				commands []string
			}{
				{
					title: "Size Against a Snapshot",
					commands: []string{
						"oilm cycle --chain nifty.csv --score 0.6 --confidence 0.7 --ignore-hours",
						"oilm cycle --chain nifty.csv --score -0.4 --json  # Bearish, JSON output",
					},
				},
				{
					title: "Trade the Session",
					commands: []string{
						"oilm status                     # Headroom before the open",
						"oilm run --serve                # Dry-run cycles with status endpoints",
						"oilm run --execute              # Place orders for accepted decisions",
					},
				},
				{
					title: "Book Exits",
					commands: []string{
						"oilm close -u NIFTY --pnl -1250 --note 'stop hit'",
						"oilm close -u BANKNIFTY --pnl 2400",
					},
				},
				{
					title: "Review",
					commands: []string{
						"oilm decisions --day 2026-10-19  # Every decision of a day",
						"oilm decisions --outcome FILLED -u NIFTY",
						"oilm ledgers --days 30          # End-of-day ledgers",
					},
				},
			}

			for _, ex := range examples {
				output.Bold("%s", ex.title)
				for _, c := range ex.commands {
					parts := strings.SplitN(c, "#", 2)
					if len(parts) == 2 {
						output.Printf("  %s %s\n", output.Cyan(strings.TrimSpace(parts[0])), output.DimText(strings.TrimSpace(parts[1])))
					} else {
						output.Printf("  %s\n", output.Cyan(c))
					}
				}
				output.Println()
			}
			return nil
		},
	}
}

func newQuickstartCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "quickstart",
		Short:       "New user guide",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			output.Bold("OI Lot Manager - Quick Start Guide")
			output.Println()

			steps := []struct {
				title string
				desc  string
				cmd   string
			}{
				{
					title: "Create the config",
					desc:  "Writes config.toml and credentials.toml with commented defaults.",
					cmd:   "oilm config init",
				},
				{
					title: "Set your limits",
					desc:  "Fill [capital]: total capital, risk per trade, max position, trades and loss per day.",
					cmd:   "oilm config show",
				},
				{
					title: "Pick a chain source",
					desc:  "Either trading.chain_file with a CSV snapshot or a Kite API key and access token.",
					cmd:   "oilm config validate",
				},
				{
					title: "Run a dry cycle",
					desc:  "Sizes one entry and releases the budget again.",
					cmd:   "oilm cycle --score 0.5 --confidence 0.6",
				},
				{
					title: "Run the session",
					desc:  "Stays in paper mode until trading.mode = \"live\".",
					cmd:   "oilm run --execute",
				},
			}

			for i, s := range steps {
				output.Printf("%s Step %d: %s\n", output.Cyan("→"), i+1, output.BoldText(s.title))
				output.Printf("  %s\n", s.desc)
				output.Printf("  %s\n\n", output.DimText(s.cmd))
			}

			output.Bold("Important Notes")
			output.Println()
			output.Printf("  %s Start in paper mode\n", output.Yellow("⚠"))
			output.Printf("  %s A halted ledger stays halted until the next trading day\n", output.Yellow("⚠"))
			output.Printf("  %s Book every exit with 'oilm close' or the loss limit cannot trigger\n", output.Yellow("⚠"))
			return nil
		},
	}
}
