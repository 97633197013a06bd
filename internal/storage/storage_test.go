package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/pkg/types"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	logger, _ := zap.NewDevelopment()
	store := newPostgresWithDB(db, logger)
	t.Cleanup(func() { store.Close() })
	return store, mock
}

func testAttempt(uid string) *types.Attempt {
	yesSpread, noSpread := 2, 3
	return &types.Attempt{
		UID:                  uid,
		MarketID:             "btc-updown-15m-1770356700",
		ParameterSetID:       1,
		CycleNumber:          4,
		T1Timestamp:          time.Date(2026, 2, 6, 5, 50, 0, 0, time.UTC),
		FirstLegSide:         types.SideYes,
		P1Points:             39,
		ReferenceYesPoints:   45,
		ReferenceNoPoints:    53,
		TimeRemainingAtStart: 412,
		TimeRemainingBucket:  types.TimeRemainingBucketFor(412),
		YesSpreadEntryPoints: &yesSpread,
		NoSpreadEntryPoints:  &noSpread,
		DeltaPoints:          3,
		S0Points:             5,
		Status:               types.AttemptActive,
	}
}

func TestRebindPositional(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"INSERT INTO t (a) VALUES (?)", "INSERT INTO t (a) VALUES ($1)"},
		{"UPDATE t SET a = ?, b = ? WHERE c = ?", "UPDATE t SET a = $1, b = $2 WHERE c = $3"},
	}
	for _, tt := range tests {
		if got := rebindPositional(tt.in); got != tt.want {
			t.Errorf("rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInsertParameterSet_ReturnsID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO parameter_sets").
		WillReturnRows(sqlmock.NewRows([]string{"parameter_set_id"}).AddRow(int64(7)))

	set := &types.ParameterSet{
		Name:             "primary",
		S0Points:         5,
		DeltaPoints:      3,
		TriggerRule:      types.TriggerAskTouch,
		ReferenceSource:  types.RefMidpoint,
		SamplingMode:     types.SamplingFixedInterval,
		CycleInterval:    2 * time.Second,
		FeedGapThreshold: 5 * time.Second,
		CreatedAt:        time.Now(),
	}
	id, err := store.InsertParameterSet(context.Background(), set)
	if err != nil {
		t.Fatalf("InsertParameterSet: %v", err)
	}
	if id != 7 {
		t.Errorf("id = %d, want 7", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertAttempts_TransactionalBatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO attempts")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := store.InsertAttempts(context.Background(), []*types.Attempt{
		testAttempt("uid-1"), testAttempt("uid-2"),
	})
	if err != nil {
		t.Fatalf("InsertAttempts: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertAttempts_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO attempts")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.InsertAttempts(context.Background(), []*types.Attempt{
		testAttempt("uid-1"), testAttempt("uid-2"),
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateAttemptsTerminal_GatedOnActiveStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`UPDATE attempts SET(.|\n)*status = 'active'`)
	// Zero rows affected means the row was already terminal; not an error.
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	a := testAttempt("uid-1")
	a.Status = types.AttemptCompletedPaired
	t2 := a.T1Timestamp.Add(6 * time.Second)
	a.T2Timestamp = &t2

	if err := store.UpdateAttemptsTerminal(context.Background(), []*types.Attempt{a}); err != nil {
		t.Fatalf("UpdateAttemptsTerminal: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFinalizeMarket_SingleTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE attempts SET(.|\n)*settlement_reached`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE markets SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	avg := 5.5
	summary := &types.MarketSummary{
		MarketID:         "btc-updown-15m-1770356700",
		CryptoAsset:      "btc",
		TotalAttempts:    10,
		TotalPairs:       7,
		TotalFailed:      3,
		PairRate:         0.7,
		AvgTimeToPair:    &avg,
		TotalCycles:      200,
		ActualSettlement: time.Now(),
	}
	if err := store.FinalizeMarket(context.Background(), summary); err != nil {
		t.Fatalf("FinalizeMarket: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFinalizeMarket_RollsBackWhenSummaryFails(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE attempts SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE markets SET").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.FinalizeMarket(context.Background(), &types.MarketSummary{MarketID: "m"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEmptyBatchesSkipDatabase(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	if err := store.InsertAttempts(ctx, nil); err != nil {
		t.Errorf("InsertAttempts(nil): %v", err)
	}
	if err := store.UpdateAttemptsRunning(ctx, nil); err != nil {
		t.Errorf("UpdateAttemptsRunning(nil): %v", err)
	}
	if err := store.UpdateAttemptsTerminal(ctx, nil); err != nil {
		t.Errorf("UpdateAttemptsTerminal(nil): %v", err)
	}
	if err := store.InsertSnapshots(ctx, nil); err != nil {
		t.Errorf("InsertSnapshots(nil): %v", err)
	}
	if err := store.InsertLifecycle(ctx, nil); err != nil {
		t.Errorf("InsertLifecycle(nil): %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	if _, err := Open("mysql", "", logger); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
