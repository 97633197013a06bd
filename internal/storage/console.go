package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/internal/points"
	"github.com/mglvsky/pairscan/pkg/types"
)

// ConsoleStore implements Store by printing to stdout. Meant for dry
// runs and local debugging; nothing survives the process.
type ConsoleStore struct {
	mu     sync.Mutex
	out    io.Writer
	logger *zap.Logger
	nextID int64
}

// NewConsole returns a store that writes tables to stdout.
func NewConsole(logger *zap.Logger) *ConsoleStore {
	return &ConsoleStore{out: os.Stdout, logger: logger, nextID: 1}
}

func (s *ConsoleStore) InitSchema(ctx context.Context) error {
	s.logger.Info("console-storage-ready")
	return nil
}

func (s *ConsoleStore) InsertParameterSet(ctx context.Context, set *types.ParameterSet) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	fmt.Fprintf(s.out, "parameter set %q: S0=%dpt delta=%dpt mode=%s (id %d)\n",
		set.Name, set.S0Points, set.DeltaPoints, set.SamplingMode, id)
	return id, nil
}

func (s *ConsoleStore) UpsertMarket(ctx context.Context, market *types.MarketInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "market %s (%s): settles %s\n",
		market.MarketID, market.CryptoAsset,
		market.SettlementTime.Format("15:04:05"))
	return nil
}

func (s *ConsoleStore) InsertAttempts(ctx context.Context, attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	table := tablewriter.NewWriter(s.out)
	table.Header("UID", "Market", "Cycle", "Side", "P1", "Opp trigger", "Opp max", "Bucket")
	for _, a := range attempts {
		table.Append(
			shortUID(a.UID),
			a.MarketID,
			fmt.Sprintf("%d", a.CycleNumber),
			string(a.FirstLegSide),
			points.Format(a.P1Points),
			points.Format(a.OppositeTriggerPoints),
			points.Format(a.OppositeMaxPoints),
			a.TimeRemainingBucket,
		)
	}
	table.Render()
	return nil
}

func (s *ConsoleStore) UpdateAttemptsRunning(ctx context.Context, attempts []*types.Attempt) error {
	return nil
}

func (s *ConsoleStore) UpdateAttemptsTerminal(ctx context.Context, attempts []*types.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	table := tablewriter.NewWriter(s.out)
	table.Header("UID", "Status", "Reason", "Pair cost", "Profit", "Time to pair")
	for _, a := range attempts {
		table.Append(
			shortUID(a.UID),
			string(a.Status),
			strOrDash(a.FailReason),
			pointsOrDash(a.PairCostPoints),
			pointsOrDash(a.PairProfitPoints),
			secondsOrDash(a.TimeToPairSeconds),
		)
	}
	table.Render()
	return nil
}

func (s *ConsoleStore) InsertSnapshots(ctx context.Context, snapshots []*types.Snapshot) error {
	return nil
}

func (s *ConsoleStore) InsertLifecycle(ctx context.Context, records []*types.LifecycleRecord) error {
	return nil
}

func (s *ConsoleStore) FinalizeMarket(ctx context.Context, summary *types.MarketSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.out, "\n=== %s settled at %s ===\n",
		summary.MarketID, summary.ActualSettlement.Format("15:04:05"))

	table := tablewriter.NewWriter(s.out)
	table.Header("Attempts", "Paired", "Failed", "Settle fails", "Pair rate", "Avg pair", "Cycles", "Anomalies")
	table.Append(
		fmt.Sprintf("%d", summary.TotalAttempts),
		fmt.Sprintf("%d", summary.TotalPairs),
		fmt.Sprintf("%d", summary.TotalFailed),
		fmt.Sprintf("%d", summary.SettlementFailures),
		fmt.Sprintf("%.1f%%", summary.PairRate*100),
		secondsOrDash(summary.AvgTimeToPair),
		fmt.Sprintf("%d", summary.TotalCycles),
		fmt.Sprintf("%d", summary.AnomalyCount),
	)
	table.Render()
	return nil
}

func (s *ConsoleStore) Close() error { return nil }

func shortUID(uid string) string {
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}

func strOrDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func pointsOrDash(p *int) string {
	if p == nil {
		return "-"
	}
	return points.Format(*p)
}

func secondsOrDash(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fs", *s)
}
