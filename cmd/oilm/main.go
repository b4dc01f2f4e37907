// Command oilm sizes OTM index option entries by open-interest tier under
// per-trade and daily capital limits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"oi-lot-manager/internal/cli"
)

func main() {
	// A .env next to the binary may carry KITE_* and OPENAI_API_KEY.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	app := cli.NewApp()
	err := cli.NewRootCmd(app).ExecuteContext(ctx)
	stop()

	if cerr := app.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
