package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mglvsky/pairscan/internal/app"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the measurement engine",
	Long: `Starts the measurement engine, which will:
1. Discover the live up/down window for each configured asset
2. Mirror both outcome books over WebSocket with REST fallback
3. Evaluate every parameter set on each sampling cycle
4. Persist attempts, snapshots and per-market summaries

The engine rotates to the next window automatically and runs until
interrupted.`,
	RunE: runEngine,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	return application.Run(context.Background())
}
