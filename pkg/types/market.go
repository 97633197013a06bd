package types

import (
	"time"
)

// MarketInfo is the metadata for one discovered 15-minute window.
// Token IDs are 60+ digit identifiers and must round-trip as strings.
type MarketInfo struct {
	MarketID        string // slug, e.g. "btc-updown-15m-1770356700"
	ConditionID     string
	CryptoAsset     string
	YesTokenID      string
	NoTokenID       string
	StartTime       time.Time
	SettlementTime  time.Time
	TickSizePoints  int
	Active          bool
	AcceptingOrders bool
}

// TimeRemaining returns seconds until settlement at the given instant.
func (m *MarketInfo) TimeRemaining(now time.Time) float64 {
	return m.SettlementTime.Sub(now).Seconds()
}

// MarketSummary is the final per-market roll-up written at settlement.
type MarketSummary struct {
	MarketID             string
	CryptoAsset          string
	TotalAttempts        int
	TotalPairs           int
	TotalFailed          int
	SettlementFailures   int
	PairRate             float64
	AvgTimeToPair        *float64
	MedianTimeToPair     *float64
	MaxConcurrent        int
	TotalCycles          int
	CycleInterval        float64
	TimeRemainingAtStart float64
	AnomalyCount         int
	ActualSettlement     time.Time
}

// Snapshot is a per-cycle record of both sides' top of book, written only
// when snapshot capture is enabled.
type Snapshot struct {
	MarketID       string
	CycleNumber    int
	Timestamp      time.Time
	YesBidPoints   *int
	YesAskPoints   *int
	NoBidPoints    *int
	NoAskPoints    *int
	YesLastTrade   *int
	NoLastTrade    *int
	TimeRemaining  float64
	ActiveAttempts int
	AnomalyFlag    bool
}

// LifecycleRecord is a per-cycle tracking row for one active attempt,
// written only when lifecycle capture is enabled. High volume.
type LifecycleRecord struct {
	AttemptUID        string
	CycleNumber       int
	Timestamp         time.Time
	OppositeAskPoints *int
	DistanceToTrigger *int
	ClosestApproach   *int
}
