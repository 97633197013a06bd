package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/pkg/config"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "pairscan",
	Short: "Passive hedged-pair measurement engine for binary prediction markets",
	Long: `pairscan passively measures hedged-pair capture opportunities on
short-horizon binary up/down markets.

It discovers 15-minute YES/NO windows from the Gamma API, mirrors their
books over WebSocket, simulates hedged pair attempts under configured
parameter sets, and persists every attempt, cycle and market summary.
No orders are ever placed.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// setup loads .env if present, builds the logger and reads the
// environment config. Shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	_ = godotenv.Load()

	logger, err := config.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	cfg, err := config.Load(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	return cfg, logger, nil
}
