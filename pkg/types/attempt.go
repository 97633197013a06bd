package types

import (
	"time"
)

// AttemptStatus is the lifecycle state of a measurement attempt.
type AttemptStatus string

const (
	AttemptActive          AttemptStatus = "active"
	AttemptCompletedPaired AttemptStatus = "completed_paired"
	AttemptCompletedFailed AttemptStatus = "completed_failed"
)

// Fail reasons for completed_failed attempts.
const (
	FailSettlementReached = "settlement_reached"
	FailStopLoss          = "stop_loss"
	FailBotShutdown       = "bot_shutdown"
)

// Attempt tracks one potential hedged pair from first-leg trigger until
// pairing, stop-loss, or settlement. Entry fields are set at creation and
// never change; terminal fields are set exactly once.
//
// UID is assigned by the engine and is the identity the durable writer
// keys on; the store's attempt_id is a serial assigned at insert.
type Attempt struct {
	UID            string
	MarketID       string
	ParameterSetID int64
	CycleNumber    int

	// Entry fields.
	T1Timestamp          time.Time
	FirstLegSide         Side
	P1Points             int
	ReferenceYesPoints   int
	ReferenceNoPoints    int
	TimeRemainingAtStart float64
	TimeRemainingBucket  string
	YesSpreadEntryPoints *int
	NoSpreadEntryPoints  *int

	// Denormalized from the parameter set.
	DeltaPoints             int
	S0Points                int
	StopLossThresholdPoints *int

	// In-memory only: evaluator working state, never persisted.
	OppositeSide          Side
	OppositeTriggerPoints int
	OppositeMaxPoints     int
	StopLossPricePoints   int // meaningful only when StopLossThresholdPoints != nil
	Annotations           []string

	// Terminal fields.
	Status                    AttemptStatus
	T2Timestamp               *time.Time
	T2CycleNumber             *int
	TimeToPairSeconds         *float64
	TimeRemainingAtCompletion *float64
	ActualOppositePrice       *int
	PairCostPoints            *int
	PairProfitPoints          *int
	FailReason                *string
	HadFeedGap                bool
	YesSpreadExitPoints       *int
	NoSpreadExitPoints        *int

	// Running trackers, finalized on completion.
	ClosestApproachPoints *int
	ClosestApproachAt     *time.Time
	ClosestApproachCycle  *int
	MaxAdverseExcursion   *int
	MAEAt                 *time.Time
	MAECycle              *int
}

// Terminal reports whether the attempt has reached a completed status.
func (a *Attempt) Terminal() bool {
	return a.Status == AttemptCompletedPaired || a.Status == AttemptCompletedFailed
}

// Annotate appends an evaluator annotation (kept in memory and logged,
// not persisted as a column).
func (a *Attempt) Annotate(tag string) {
	a.Annotations = append(a.Annotations, tag)
}

// TimeRemainingBucketFor maps seconds-to-settlement into the coarse
// analytics buckets used at attempt entry.
func TimeRemainingBucketFor(seconds float64) string {
	switch {
	case seconds > 600:
		return "600s+"
	case seconds > 300:
		return "300-600s"
	case seconds > 120:
		return "120-300s"
	default:
		return "0-120s"
	}
}
