package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mglvsky/pairscan/internal/storage"
)

//nolint:gochecknoglobals // Cobra boilerplate
var initSchemaCmd = &cobra.Command{
	Use:   "init-schema",
	Short: "Create the database schema",
	Long: `Creates the parameter_sets, markets, attempts, snapshots and
attempt_lifecycle tables on the configured storage backend. Safe to run
repeatedly; every statement is idempotent.`,
	RunE: runInitSchema,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(initSchemaCmd)
}

func runInitSchema(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	dsn := ""
	switch cfg.StorageBackend {
	case "postgres":
		dsn = cfg.DatabaseURL
	case "sqlite":
		dsn = cfg.SQLitePath
	}

	store, err := storage.Open(cfg.StorageBackend, dsn, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.InitSchema(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	fmt.Printf("Schema ready on %s backend\n", cfg.StorageBackend)
	return nil
}
