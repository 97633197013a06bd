// Package storage persists measurement results to PostgreSQL, SQLite,
// or the console. The SQL backends share one set of DML statements;
// only the schema dialect and placeholder style differ.
package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/pkg/types"
)

// Store is the durable sink for measurement output. All batch methods
// behave atomically: either every row in the slice lands or none do.
type Store interface {
	// InitSchema creates tables and indices if they do not exist.
	InitSchema(ctx context.Context) error

	// InsertParameterSet upserts a parameter set by name and returns its
	// database ID. Re-inserting the same name returns the existing ID.
	InsertParameterSet(ctx context.Context, set *types.ParameterSet) (int64, error)

	// UpsertMarket registers a discovered market window.
	UpsertMarket(ctx context.Context, market *types.MarketInfo) error

	// InsertAttempts inserts newly created attempts in slice order.
	// Serial attempt IDs are assigned in that order.
	InsertAttempts(ctx context.Context, attempts []*types.Attempt) error

	// UpdateAttemptsRunning refreshes the running trackers of active
	// attempts. Terminal rows are left untouched.
	UpdateAttemptsRunning(ctx context.Context, attempts []*types.Attempt) error

	// UpdateAttemptsTerminal writes terminal outcomes. An attempt that is
	// already terminal in the database is never overwritten.
	UpdateAttemptsTerminal(ctx context.Context, attempts []*types.Attempt) error

	// InsertSnapshots writes per-cycle top-of-book snapshots.
	InsertSnapshots(ctx context.Context, snapshots []*types.Snapshot) error

	// InsertLifecycle writes per-cycle attempt tracking rows.
	InsertLifecycle(ctx context.Context, records []*types.LifecycleRecord) error

	// FinalizeMarket fails any attempts still active for the market and
	// writes the market summary, in one transaction.
	FinalizeMarket(ctx context.Context, summary *types.MarketSummary) error

	Close() error
}

// Open selects a backend by name. dsn is the connection string for
// postgres or the file path for sqlite; console ignores it.
func Open(backend, dsn string, logger *zap.Logger) (Store, error) {
	switch backend {
	case "postgres":
		return NewPostgres(dsn, logger)
	case "sqlite":
		return NewSQLite(dsn, logger)
	case "console":
		return NewConsole(logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// DML shared by the SQL backends, written with ? placeholders and
// rebound per dialect.
const (
	upsertParameterSetQuery = `
		INSERT INTO parameter_sets (
			name, s0_points, delta_points, trigger_rule, reference_price_source,
			sampling_mode, cycle_interval_seconds, cycles_per_market,
			feed_gap_threshold_seconds, stop_loss_threshold_points, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET name = excluded.name
		RETURNING parameter_set_id`

	upsertMarketQuery = `
		INSERT INTO markets (
			market_id, crypto_asset, condition_id, yes_token_id, no_token_id,
			tick_size_points, start_time, settlement_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (market_id) DO UPDATE SET
			tick_size_points = excluded.tick_size_points,
			settlement_time = excluded.settlement_time`

	insertAttemptQuery = `
		INSERT INTO attempts (
			attempt_uid, market_id, parameter_set_id, cycle_number,
			t1_timestamp, first_leg_side, p1_points,
			reference_yes_points, reference_no_points,
			time_remaining_at_start_seconds, time_remaining_bucket,
			yes_spread_entry_points, no_spread_entry_points,
			delta_points, s0_points, stop_loss_threshold_points, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateAttemptRunningQuery = `
		UPDATE attempts SET
			closest_approach_points = ?,
			max_adverse_excursion_points = ?,
			had_feed_gap = ?
		WHERE attempt_uid = ? AND status = 'active'`

	updateAttemptTerminalQuery = `
		UPDATE attempts SET
			status = ?,
			t2_timestamp = ?,
			t2_cycle_number = ?,
			time_to_pair_seconds = ?,
			time_remaining_at_completion_seconds = ?,
			actual_opposite_price = ?,
			pair_cost_points = ?,
			pair_profit_points = ?,
			fail_reason = ?,
			had_feed_gap = ?,
			closest_approach_points = ?,
			max_adverse_excursion_points = ?,
			yes_spread_exit_points = ?,
			no_spread_exit_points = ?
		WHERE attempt_uid = ? AND status = 'active'`

	insertSnapshotQuery = `
		INSERT INTO snapshots (
			market_id, cycle_number, captured_at,
			yes_bid_points, yes_ask_points, no_bid_points, no_ask_points,
			yes_last_trade_points, no_last_trade_points,
			time_remaining_seconds, active_attempts, anomaly_flag
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertLifecycleQuery = `
		INSERT INTO attempt_lifecycle (
			attempt_uid, cycle_number, captured_at,
			opposite_ask_points, distance_to_trigger_points, closest_approach_points
		) VALUES (?, ?, ?, ?, ?, ?)`

	failActiveAttemptsQuery = `
		UPDATE attempts SET
			status = 'completed_failed',
			fail_reason = 'settlement_reached',
			time_remaining_at_completion_seconds = 0
		WHERE market_id = ? AND status = 'active'`

	finalizeMarketQuery = `
		UPDATE markets SET
			actual_settlement_time = ?,
			total_attempts = ?,
			total_pairs = ?,
			total_failed = ?,
			settlement_failures = ?,
			pair_rate = ?,
			avg_time_to_pair_seconds = ?,
			median_time_to_pair_seconds = ?,
			max_concurrent_attempts = ?,
			total_cycles_run = ?,
			cycle_interval_seconds = ?,
			time_remaining_at_start_seconds = ?,
			anomaly_count = ?
		WHERE market_id = ?`
)

// rebindPositional rewrites ? placeholders to $1..$n for PostgreSQL.
func rebindPositional(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
