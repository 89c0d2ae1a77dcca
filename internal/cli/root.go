// Package cli implements ormctl, the operator CLI for the ORM dashboard.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ormdash.org/internal/app"
	"ormdash.org/internal/config"
)

var databaseURL string

var rootCmd = &cobra.Command{
	Use:           "ormctl",
	Short:         "Operator tooling for the ORM dashboard",
	Long:          "Loads unit worksheets, registers users and runs PII retention scrubs against the dashboard database.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Database URL (defaults to ORM_DATABASE_URL)")
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openApp loads configuration, applies the --database-url override and opens
// the service graph.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	return app.Open(ctx, cfg)
}
