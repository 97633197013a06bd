package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/pkg/types"
)

// sqlStore carries the DML shared by the PostgreSQL and SQLite backends.
// bind rewrites ? placeholders into the dialect's style.
type sqlStore struct {
	db     *sql.DB
	logger *zap.Logger
	bind   func(string) string
}

func (s *sqlStore) InsertParameterSet(ctx context.Context, set *types.ParameterSet) (int64, error) {
	var interval *float64
	if set.SamplingMode == types.SamplingFixedInterval {
		v := set.CycleInterval.Seconds()
		interval = &v
	}
	var cycles *int
	if set.SamplingMode == types.SamplingFixedCount {
		cycles = &set.CyclesPerMarket
	}
	var stopLoss *int
	if set.StopLossEnabled {
		stopLoss = &set.StopLossPoints
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.bind(upsertParameterSetQuery),
		set.Name, set.S0Points, set.DeltaPoints,
		string(set.TriggerRule), string(set.ReferenceSource), string(set.SamplingMode),
		interval, cycles, set.FeedGapThreshold.Seconds(), stopLoss, set.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert parameter set %q: %w", set.Name, err)
	}

	s.logger.Info("parameter-set-stored",
		zap.String("name", set.Name),
		zap.Int64("parameter_set_id", id))
	return id, nil
}

func (s *sqlStore) UpsertMarket(ctx context.Context, market *types.MarketInfo) error {
	_, err := s.db.ExecContext(ctx, s.bind(upsertMarketQuery),
		market.MarketID, market.CryptoAsset, market.ConditionID,
		market.YesTokenID, market.NoTokenID, market.TickSizePoints,
		market.StartTime, market.SettlementTime,
	)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", market.MarketID, err)
	}
	return nil
}

func (s *sqlStore) InsertAttempts(ctx context.Context, attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return s.inTx(ctx, "insert attempts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.bind(insertAttemptQuery))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range attempts {
			_, err = stmt.ExecContext(ctx,
				a.UID, a.MarketID, a.ParameterSetID, a.CycleNumber,
				a.T1Timestamp, string(a.FirstLegSide), a.P1Points,
				a.ReferenceYesPoints, a.ReferenceNoPoints,
				a.TimeRemainingAtStart, a.TimeRemainingBucket,
				a.YesSpreadEntryPoints, a.NoSpreadEntryPoints,
				a.DeltaPoints, a.S0Points, a.StopLossThresholdPoints,
				string(a.Status),
			)
			if err != nil {
				return fmt.Errorf("attempt %s: %w", a.UID, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) UpdateAttemptsRunning(ctx context.Context, attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return s.inTx(ctx, "update running attempts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.bind(updateAttemptRunningQuery))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range attempts {
			_, err = stmt.ExecContext(ctx,
				a.ClosestApproachPoints, a.MaxAdverseExcursion, a.HadFeedGap, a.UID)
			if err != nil {
				return fmt.Errorf("attempt %s: %w", a.UID, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) UpdateAttemptsTerminal(ctx context.Context, attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	return s.inTx(ctx, "update terminal attempts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.bind(updateAttemptTerminalQuery))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range attempts {
			res, err := stmt.ExecContext(ctx,
				string(a.Status), a.T2Timestamp, a.T2CycleNumber,
				a.TimeToPairSeconds, a.TimeRemainingAtCompletion,
				a.ActualOppositePrice, a.PairCostPoints, a.PairProfitPoints,
				a.FailReason, a.HadFeedGap,
				a.ClosestApproachPoints, a.MaxAdverseExcursion,
				a.YesSpreadExitPoints, a.NoSpreadExitPoints,
				a.UID,
			)
			if err != nil {
				return fmt.Errorf("attempt %s: %w", a.UID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				s.logger.Debug("terminal-update-skipped-already-terminal",
					zap.String("attempt_uid", a.UID))
			}
		}
		return nil
	})
}

func (s *sqlStore) InsertSnapshots(ctx context.Context, snapshots []*types.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return s.inTx(ctx, "insert snapshots", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.bind(insertSnapshotQuery))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, snap := range snapshots {
			_, err = stmt.ExecContext(ctx,
				snap.MarketID, snap.CycleNumber, snap.Timestamp,
				snap.YesBidPoints, snap.YesAskPoints,
				snap.NoBidPoints, snap.NoAskPoints,
				snap.YesLastTrade, snap.NoLastTrade,
				snap.TimeRemaining, snap.ActiveAttempts, snap.AnomalyFlag,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqlStore) InsertLifecycle(ctx context.Context, records []*types.LifecycleRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.inTx(ctx, "insert lifecycle records", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.bind(insertLifecycleQuery))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range records {
			_, err = stmt.ExecContext(ctx,
				rec.AttemptUID, rec.CycleNumber, rec.Timestamp,
				rec.OppositeAskPoints, rec.DistanceToTrigger, rec.ClosestApproach,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqlStore) FinalizeMarket(ctx context.Context, summary *types.MarketSummary) error {
	return s.inTx(ctx, "finalize market", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.bind(failActiveAttemptsQuery), summary.MarketID)
		if err != nil {
			return fmt.Errorf("fail active attempts: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			s.logger.Warn("active-attempts-failed-at-finalize",
				zap.String("market_id", summary.MarketID),
				zap.Int64("count", n))
		}

		_, err = tx.ExecContext(ctx, s.bind(finalizeMarketQuery),
			summary.ActualSettlement,
			summary.TotalAttempts, summary.TotalPairs, summary.TotalFailed,
			summary.SettlementFailures, summary.PairRate,
			summary.AvgTimeToPair, summary.MedianTimeToPair,
			summary.MaxConcurrent, summary.TotalCycles, summary.CycleInterval,
			summary.TimeRemainingAtStart, summary.AnomalyCount,
			summary.MarketID,
		)
		if err != nil {
			return fmt.Errorf("write market summary: %w", err)
		}
		return nil
	})
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback-failed", zap.String("op", op), zap.Error(rbErr))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// execStatements runs schema statements one at a time so a failure names
// the statement that broke.
func (s *sqlStore) execStatements(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w\n%s", err, stmt)
		}
	}
	return nil
}
