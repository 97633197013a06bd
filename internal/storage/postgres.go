package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresStore implements Store on PostgreSQL via lib/pq.
type PostgresStore struct {
	sqlStore
}

// NewPostgres opens and pings a PostgreSQL connection.
func NewPostgres(databaseURL string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	logger.Info("postgres-storage-connected")
	return newPostgresWithDB(db, logger), nil
}

func newPostgresWithDB(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{sqlStore{db: db, logger: logger, bind: rebindPositional}}
}

// InitSchema creates the measurement schema if it does not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if err := s.execStatements(ctx, postgresSchema); err != nil {
		return err
	}
	s.logger.Info("postgres-schema-ready")
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS parameter_sets (
		parameter_set_id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		s0_points INT NOT NULL,
		delta_points INT NOT NULL,
		trigger_rule TEXT NOT NULL,
		reference_price_source TEXT NOT NULL,
		sampling_mode TEXT NOT NULL,
		cycle_interval_seconds DOUBLE PRECISION,
		cycles_per_market INT,
		feed_gap_threshold_seconds DOUBLE PRECISION NOT NULL,
		stop_loss_threshold_points INT,
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS markets (
		market_id TEXT PRIMARY KEY,
		crypto_asset TEXT NOT NULL,
		condition_id TEXT,
		yes_token_id TEXT NOT NULL,
		no_token_id TEXT NOT NULL,
		tick_size_points INT NOT NULL DEFAULT 1,
		start_time TIMESTAMPTZ,
		settlement_time TIMESTAMPTZ NOT NULL,
		actual_settlement_time TIMESTAMPTZ,
		total_attempts INT,
		total_pairs INT,
		total_failed INT,
		settlement_failures INT,
		pair_rate DOUBLE PRECISION,
		avg_time_to_pair_seconds DOUBLE PRECISION,
		median_time_to_pair_seconds DOUBLE PRECISION,
		max_concurrent_attempts INT,
		total_cycles_run INT,
		cycle_interval_seconds DOUBLE PRECISION,
		time_remaining_at_start_seconds DOUBLE PRECISION,
		anomaly_count INT
	)`,

	`CREATE TABLE IF NOT EXISTS attempts (
		attempt_id BIGSERIAL PRIMARY KEY,
		attempt_uid TEXT NOT NULL UNIQUE,
		market_id TEXT NOT NULL REFERENCES markets(market_id),
		parameter_set_id BIGINT NOT NULL REFERENCES parameter_sets(parameter_set_id),
		cycle_number INT NOT NULL,
		t1_timestamp TIMESTAMPTZ NOT NULL,
		first_leg_side TEXT NOT NULL,
		p1_points INT NOT NULL,
		reference_yes_points INT NOT NULL,
		reference_no_points INT NOT NULL,
		time_remaining_at_start_seconds DOUBLE PRECISION NOT NULL,
		time_remaining_bucket TEXT NOT NULL,
		yes_spread_entry_points INT,
		no_spread_entry_points INT,
		delta_points INT NOT NULL,
		s0_points INT NOT NULL,
		stop_loss_threshold_points INT,
		status TEXT NOT NULL DEFAULT 'active',
		t2_timestamp TIMESTAMPTZ,
		t2_cycle_number INT,
		time_to_pair_seconds DOUBLE PRECISION,
		time_remaining_at_completion_seconds DOUBLE PRECISION,
		actual_opposite_price INT,
		pair_cost_points INT,
		pair_profit_points INT,
		fail_reason TEXT,
		had_feed_gap BOOLEAN NOT NULL DEFAULT FALSE,
		closest_approach_points INT,
		max_adverse_excursion_points INT,
		yes_spread_exit_points INT,
		no_spread_exit_points INT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_attempts_t1 ON attempts (t1_timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_market ON attempts (market_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts (status)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_delta ON attempts (delta_points)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_s0 ON attempts (s0_points)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_params ON attempts
		(s0_points, delta_points, stop_loss_threshold_points, status, t1_timestamp)`,

	`CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id BIGSERIAL PRIMARY KEY,
		market_id TEXT NOT NULL REFERENCES markets(market_id),
		cycle_number INT NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL,
		yes_bid_points INT,
		yes_ask_points INT,
		no_bid_points INT,
		no_ask_points INT,
		yes_last_trade_points INT,
		no_last_trade_points INT,
		time_remaining_seconds DOUBLE PRECISION NOT NULL,
		active_attempts INT NOT NULL,
		anomaly_flag BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_market ON snapshots (market_id, cycle_number)`,

	`CREATE TABLE IF NOT EXISTS attempt_lifecycle (
		lifecycle_id BIGSERIAL PRIMARY KEY,
		attempt_uid TEXT NOT NULL,
		cycle_number INT NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL,
		opposite_ask_points INT,
		distance_to_trigger_points INT,
		closest_approach_points INT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lifecycle_attempt ON attempt_lifecycle (attempt_uid, cycle_number)`,
}
