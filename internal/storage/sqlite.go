package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite file. Useful for
// single-host runs with no database server.
type SQLiteStore struct {
	sqlStore
}

// NewSQLite opens (creating if needed) the SQLite database at path.
func NewSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The writer is the single consumer; one connection avoids
	// SQLITE_BUSY on concurrent statements.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err = db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	logger.Info("sqlite-storage-opened", zap.String("path", path))
	return &SQLiteStore{sqlStore{
		db:     db,
		logger: logger,
		bind:   func(q string) string { return q },
	}}, nil
}

// InitSchema creates the measurement schema if it does not exist.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	if err := s.execStatements(ctx, sqliteSchema); err != nil {
		return err
	}
	s.logger.Info("sqlite-schema-ready")
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS parameter_sets (
		parameter_set_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		s0_points INTEGER NOT NULL,
		delta_points INTEGER NOT NULL,
		trigger_rule TEXT NOT NULL,
		reference_price_source TEXT NOT NULL,
		sampling_mode TEXT NOT NULL,
		cycle_interval_seconds REAL,
		cycles_per_market INTEGER,
		feed_gap_threshold_seconds REAL NOT NULL,
		stop_loss_threshold_points INTEGER,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS markets (
		market_id TEXT PRIMARY KEY,
		crypto_asset TEXT NOT NULL,
		condition_id TEXT,
		yes_token_id TEXT NOT NULL,
		no_token_id TEXT NOT NULL,
		tick_size_points INTEGER NOT NULL DEFAULT 1,
		start_time TIMESTAMP,
		settlement_time TIMESTAMP NOT NULL,
		actual_settlement_time TIMESTAMP,
		total_attempts INTEGER,
		total_pairs INTEGER,
		total_failed INTEGER,
		settlement_failures INTEGER,
		pair_rate REAL,
		avg_time_to_pair_seconds REAL,
		median_time_to_pair_seconds REAL,
		max_concurrent_attempts INTEGER,
		total_cycles_run INTEGER,
		cycle_interval_seconds REAL,
		time_remaining_at_start_seconds REAL,
		anomaly_count INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS attempts (
		attempt_id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_uid TEXT NOT NULL UNIQUE,
		market_id TEXT NOT NULL REFERENCES markets(market_id),
		parameter_set_id INTEGER NOT NULL REFERENCES parameter_sets(parameter_set_id),
		cycle_number INTEGER NOT NULL,
		t1_timestamp TIMESTAMP NOT NULL,
		first_leg_side TEXT NOT NULL,
		p1_points INTEGER NOT NULL,
		reference_yes_points INTEGER NOT NULL,
		reference_no_points INTEGER NOT NULL,
		time_remaining_at_start_seconds REAL NOT NULL,
		time_remaining_bucket TEXT NOT NULL,
		yes_spread_entry_points INTEGER,
		no_spread_entry_points INTEGER,
		delta_points INTEGER NOT NULL,
		s0_points INTEGER NOT NULL,
		stop_loss_threshold_points INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		t2_timestamp TIMESTAMP,
		t2_cycle_number INTEGER,
		time_to_pair_seconds REAL,
		time_remaining_at_completion_seconds REAL,
		actual_opposite_price INTEGER,
		pair_cost_points INTEGER,
		pair_profit_points INTEGER,
		fail_reason TEXT,
		had_feed_gap INTEGER NOT NULL DEFAULT 0,
		closest_approach_points INTEGER,
		max_adverse_excursion_points INTEGER,
		yes_spread_exit_points INTEGER,
		no_spread_exit_points INTEGER
	)`,

	`CREATE INDEX IF NOT EXISTS idx_attempts_t1 ON attempts (t1_timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_market ON attempts (market_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts (status)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_delta ON attempts (delta_points)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_s0 ON attempts (s0_points)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_params ON attempts
		(s0_points, delta_points, stop_loss_threshold_points, status, t1_timestamp)`,

	`CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id INTEGER PRIMARY KEY AUTOINCREMENT,
		market_id TEXT NOT NULL REFERENCES markets(market_id),
		cycle_number INTEGER NOT NULL,
		captured_at TIMESTAMP NOT NULL,
		yes_bid_points INTEGER,
		yes_ask_points INTEGER,
		no_bid_points INTEGER,
		no_ask_points INTEGER,
		yes_last_trade_points INTEGER,
		no_last_trade_points INTEGER,
		time_remaining_seconds REAL NOT NULL,
		active_attempts INTEGER NOT NULL,
		anomaly_flag INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_market ON snapshots (market_id, cycle_number)`,

	`CREATE TABLE IF NOT EXISTS attempt_lifecycle (
		lifecycle_id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_uid TEXT NOT NULL,
		cycle_number INTEGER NOT NULL,
		captured_at TIMESTAMP NOT NULL,
		opposite_ask_points INTEGER,
		distance_to_trigger_points INTEGER,
		closest_approach_points INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lifecycle_attempt ON attempt_lifecycle (attempt_uid, cycle_number)`,
}
