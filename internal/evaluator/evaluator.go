// Package evaluator implements the per-cycle decision function: reference
// prices, first-leg trigger detection, attempt creation, stop-loss and
// opposite-fill transitions, and the running MAE / closest-approach
// trackers. The evaluator is pure over its inputs; all I/O lives in the
// monitor and the writer.
package evaluator

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/internal/book"
	"github.com/mglvsky/pairscan/internal/points"
	"github.com/mglvsky/pairscan/pkg/types"
)

// Annotation tags attached to attempts and cycles.
const (
	AnomalyOrderbookEmpty      = "orderbook_empty"
	AnomalyReferenceSum        = "reference_sum_anomaly"
	AnnotPairImpossible        = "pair_constraint_impossible"
	AnnotImpossibleOppositeMax = "ERROR_IMPOSSIBLE_OPPOSITEMAX"
	AnnotTriggerClampedMax     = "trigger_clamped_to_max"
	AnnotTriggerClampedMin     = "trigger_clamped_to_min"
)

// CycleResult is everything one evaluation cycle produced.
type CycleResult struct {
	CycleNumber int

	// Created attempts, in tie-break order. Insert order defines the
	// store's attempt_id chain.
	Created []*types.Attempt

	// Completed attempts (paired or stop-loss) this cycle.
	Completed []*types.Attempt

	// Updated attempts whose running trackers advanced.
	Updated []*types.Attempt

	// Anomalies observed this cycle, by tag.
	Anomalies []string

	// Skipped is true when preconditions failed and nothing was advanced.
	Skipped bool
}

// Config holds an evaluator's fixed inputs.
type Config struct {
	Set                      types.ParameterSet
	Market                   types.MarketInfo
	MaxReferenceSumDeviation int
	Logger                   *zap.Logger
}

// Stats is the aggregate the settlement finalizer folds into the market
// summary.
type Stats struct {
	TotalAttempts         int
	TotalPaired           int
	TotalFailed           int
	SettlementFailures    int // failures with fail_reason=settlement_reached only
	PairTimesSeconds      []float64
	MaxConcurrentAttempts int
}

// Evaluator owns the active-attempt set for one (market, parameter set)
// pair. It is driven by a single monitor goroutine and is never invoked
// concurrently with itself.
// armedTrigger is a trigger level computed from one cycle's references
// and compared against the next cycle's best ask. The one-cycle lag is
// what lets an ask touch fire at all: against the same cycle's midpoint,
// ask <= mid - S0 cannot hold on an uncrossed book.
type armedTrigger struct {
	level           int
	clampAnnotation string
}

type Evaluator struct {
	set    types.ParameterSet
	market types.MarketInfo
	maxDev int
	logger *zap.Logger

	armedYes *armedTrigger
	armedNo  *armedTrigger

	// lastCycle is the highest cycle number this evaluator has seen;
	// settlement-failed attempts terminate at it, not at their creation
	// cycle.
	lastCycle int

	active []*types.Attempt
	stats  Stats
}

// New creates an evaluator for one market and parameter set.
func New(cfg Config) *Evaluator {
	maxDev := cfg.MaxReferenceSumDeviation
	if maxDev <= 0 {
		maxDev = 2
	}
	return &Evaluator{
		set:    cfg.Set,
		market: cfg.Market,
		maxDev: maxDev,
		logger: cfg.Logger,
	}
}

// Active returns the currently active attempts.
func (e *Evaluator) Active() []*types.Attempt {
	return e.active
}

// Stats returns the running aggregate for finalization.
func (e *Evaluator) Stats() Stats {
	return e.stats
}

// EvaluateCycle runs one cycle over an atomic two-sided snapshot taken at
// the cycle instant. Existing attempts are advanced before new ones are
// created, so an attempt can never complete in its creation cycle.
func (e *Evaluator) EvaluateCycle(cycleNumber int, now time.Time, yes, no book.Quote) CycleResult {
	CyclesTotal.Inc()
	result := CycleResult{CycleNumber: cycleNumber}
	if cycleNumber > e.lastCycle {
		e.lastCycle = cycleNumber
	}

	fresh := yes.Fresh(now, e.set.FeedGapThreshold) && no.Fresh(now, e.set.FeedGapThreshold)
	if !yes.Complete() || !no.Complete() || !fresh {
		result.Skipped = true
		result.Anomalies = append(result.Anomalies, AnomalyOrderbookEmpty)
		AnomaliesTotal.WithLabelValues(AnomalyOrderbookEmpty).Inc()
		CyclesSkippedTotal.WithLabelValues(AnomalyOrderbookEmpty).Inc()
		e.logger.Debug("cycle-skipped-orderbook-empty",
			zap.String("market-id", e.market.MarketID),
			zap.Int("cycle", cycleNumber))
		return result
	}

	tick := tickOf(yes, no)

	refYes := e.reference(yes)
	refNo := e.reference(no)

	refSumAnomaly := false
	if dev := refYes + refNo - 100; dev > e.maxDev || dev < -e.maxDev {
		refSumAnomaly = true
		result.Anomalies = append(result.Anomalies, AnomalyReferenceSum)
		AnomaliesTotal.WithLabelValues(AnomalyReferenceSum).Inc()
		e.logger.Warn("reference-sum-anomaly",
			zap.String("market-id", e.market.MarketID),
			zap.Int("cycle", cycleNumber),
			zap.Int("ref-yes", refYes),
			zap.Int("ref-no", refNo))
	}

	// Advance existing attempts first.
	for _, a := range e.active {
		e.advance(a, cycleNumber, now, yes, no, &result)
	}
	e.pruneTerminal()

	// Fire check against the triggers armed in the previous cycle. Both
	// sides may fire in one cycle.
	type candidate struct {
		side            types.Side
		trigger         int
		clampAnnotation string
	}
	var candidates []candidate
	if e.armedYes != nil && yes.AskPoints <= e.armedYes.level {
		candidates = append(candidates, candidate{types.SideYes, e.armedYes.level, e.armedYes.clampAnnotation})
	}
	if e.armedNo != nil && no.AskPoints <= e.armedNo.level {
		candidates = append(candidates, candidate{types.SideNo, e.armedNo.level, e.armedNo.clampAnnotation})
	}

	// Tie-break: the side that touched harder first, YES on equality.
	if len(candidates) == 2 {
		distYes := candidates[0].trigger - yes.AskPoints
		distNo := candidates[1].trigger - no.AskPoints
		if abs(distNo) < abs(distYes) {
			candidates[0], candidates[1] = candidates[1], candidates[0]
		}
	}

	// Re-arm both sides from this cycle's references for the next cycle.
	e.armedYes = armFrom(refYes, e.set.S0Points, tick)
	e.armedNo = armFrom(refNo, e.set.S0Points, tick)

	for _, c := range candidates {
		a := e.createAttempt(c.side, cycleNumber, now, yes, no, refYes, refNo, tick)
		if c.clampAnnotation != "" {
			a.Annotate(c.clampAnnotation)
			result.Anomalies = append(result.Anomalies, c.clampAnnotation)
			AnomaliesTotal.WithLabelValues(c.clampAnnotation).Inc()
		}
		if refSumAnomaly {
			a.Annotate(AnomalyReferenceSum)
		}
		e.active = append(e.active, a)
		result.Created = append(result.Created, a)
		AttemptsCreatedTotal.WithLabelValues(string(c.side)).Inc()
	}

	if n := len(e.active); n > e.stats.MaxConcurrentAttempts {
		e.stats.MaxConcurrentAttempts = n
	}
	e.stats.TotalAttempts += len(result.Created)
	ActiveAttempts.Set(float64(len(e.active)))

	return result
}

// reference computes the per-side reference price. LAST_TRADE falls back
// to the midpoint when no fresh trade exists.
func (e *Evaluator) reference(q book.Quote) int {
	if e.set.ReferenceSource == types.RefLastTrade && q.HasLastTrade {
		return q.LastTradePoints
	}
	mid, _ := q.Midpoint()
	return mid
}

func armFrom(ref, s0, tick int) *armedTrigger {
	level, annotation := triggerLevel(ref, s0, tick)
	return &armedTrigger{level: level, clampAnnotation: annotation}
}

// triggerLevel computes clamp(floor_to_tick(ref - S0), tick, 99) and the
// clamp annotation if clamping moved the value.
func triggerLevel(ref, s0, tick int) (int, string) {
	raw := ref - s0
	floored, err := points.FloorToTick(raw, tick)
	if err != nil {
		floored = raw
	}
	clamped := points.ClampTrigger(floored, tick)
	switch {
	case floored > clamped:
		return clamped, AnnotTriggerClampedMax
	case floored < clamped:
		return clamped, AnnotTriggerClampedMin
	default:
		return clamped, ""
	}
}

// createAttempt constructs an attempt for a triggered side.
func (e *Evaluator) createAttempt(side types.Side, cycleNumber int, now time.Time, yes, no book.Quote, refYes, refNo, tick int) *types.Attempt {
	first := yes
	oppRef := refNo
	if side == types.SideNo {
		first = no
		oppRef = refYes
	}

	p1 := first.AskPoints
	remaining := e.market.SettlementTime.Sub(now).Seconds()

	a := &types.Attempt{
		UID:                  uuid.NewString(),
		MarketID:             e.market.MarketID,
		ParameterSetID:       e.set.ID,
		CycleNumber:          cycleNumber,
		T1Timestamp:          now,
		FirstLegSide:         side,
		P1Points:             p1,
		ReferenceYesPoints:   refYes,
		ReferenceNoPoints:    refNo,
		TimeRemainingAtStart: remaining,
		TimeRemainingBucket:  types.TimeRemainingBucketFor(remaining),
		YesSpreadEntryPoints: intPtr(yes.AskPoints - yes.BidPoints),
		NoSpreadEntryPoints:  intPtr(no.AskPoints - no.BidPoints),
		DeltaPoints:          e.set.DeltaPoints,
		S0Points:             e.set.S0Points,
		OppositeSide:         side.Opposite(),
		Status:               types.AttemptActive,
	}

	fromRef, _ := triggerLevel(oppRef, e.set.S0Points, tick)

	oppMax, err := points.FloorToTick(e.set.PairCapPoints()-p1, tick)
	if err != nil {
		oppMax = e.set.PairCapPoints() - p1
	}
	a.OppositeMaxPoints = oppMax

	a.OppositeTriggerPoints = min(fromRef, oppMax)
	if oppMax <= tick {
		a.OppositeTriggerPoints = tick
		a.Annotate(AnnotPairImpossible)
		AnomaliesTotal.WithLabelValues(AnnotPairImpossible).Inc()
	}
	if oppMax > 100 {
		a.Annotate(AnnotImpossibleOppositeMax)
		AnomaliesTotal.WithLabelValues(AnnotImpossibleOppositeMax).Inc()
		e.logger.Error("impossible-opposite-max",
			zap.String("market-id", e.market.MarketID),
			zap.Int("opposite-max", oppMax),
			zap.Int("p1", p1))
	}

	if e.set.StopLossEnabled {
		a.StopLossThresholdPoints = intPtr(e.set.StopLossPoints)
		a.StopLossPricePoints = clamp(p1-e.set.StopLossPoints, 0, 99)
	}

	e.logger.Info("attempt-created",
		zap.String("market-id", e.market.MarketID),
		zap.String("attempt-uid", a.UID),
		zap.String("side", string(side)),
		zap.Int("cycle", cycleNumber),
		zap.Int("p1", p1),
		zap.Int("opposite-trigger", a.OppositeTriggerPoints))

	return a
}

// advance applies one cycle to an active attempt. Stop-loss is checked
// before the opposite fill; the order is deliberate and conservative.
func (e *Evaluator) advance(a *types.Attempt, cycleNumber int, now time.Time, yes, no book.Quote, result *CycleResult) {
	if a.Terminal() {
		return
	}

	first, opp := yes, no
	if a.FirstLegSide == types.SideNo {
		first, opp = no, yes
	}

	if a.StopLossThresholdPoints != nil && first.HasBid && first.BidPoints <= a.StopLossPricePoints {
		e.completeFailed(a, cycleNumber, now, yes, no, types.FailStopLoss, intPtr(first.BidPoints))
		result.Completed = append(result.Completed, a)
		return
	}

	if opp.HasAsk && opp.AskPoints <= a.OppositeTriggerPoints {
		e.completePaired(a, cycleNumber, now, yes, no, opp.AskPoints)
		result.Completed = append(result.Completed, a)
		return
	}

	// Running trackers.
	updated := false
	if opp.HasAsk {
		approach := opp.AskPoints - a.OppositeTriggerPoints
		if a.ClosestApproachPoints == nil || approach < *a.ClosestApproachPoints {
			a.ClosestApproachPoints = intPtr(approach)
			a.ClosestApproachAt = timePtr(now)
			a.ClosestApproachCycle = intPtr(cycleNumber)
			updated = true
		}
	}
	if first.HasBid {
		mae := a.P1Points - first.BidPoints
		if mae < 0 {
			mae = 0
		}
		if a.MaxAdverseExcursion == nil || mae > *a.MaxAdverseExcursion {
			a.MaxAdverseExcursion = intPtr(mae)
			a.MAEAt = timePtr(now)
			a.MAECycle = intPtr(cycleNumber)
			updated = true
		}
	}
	if updated {
		result.Updated = append(result.Updated, a)
	}
}

func (e *Evaluator) completePaired(a *types.Attempt, cycleNumber int, now time.Time, yes, no book.Quote, oppAsk int) {
	cost := a.P1Points + oppAsk
	profit := 100 - cost

	a.Status = types.AttemptCompletedPaired
	a.T2Timestamp = timePtr(now)
	a.T2CycleNumber = intPtr(cycleNumber)
	a.ActualOppositePrice = intPtr(oppAsk)
	a.PairCostPoints = intPtr(cost)
	a.PairProfitPoints = intPtr(profit)
	a.TimeToPairSeconds = floatPtr(now.Sub(a.T1Timestamp).Seconds())
	a.TimeRemainingAtCompletion = floatPtr(e.market.SettlementTime.Sub(now).Seconds())
	a.YesSpreadExitPoints = intPtr(yes.AskPoints - yes.BidPoints)
	a.NoSpreadExitPoints = intPtr(no.AskPoints - no.BidPoints)

	e.stats.TotalPaired++
	e.stats.PairTimesSeconds = append(e.stats.PairTimesSeconds, *a.TimeToPairSeconds)
	AttemptsPairedTotal.Inc()

	e.logger.Info("attempt-paired",
		zap.String("market-id", e.market.MarketID),
		zap.String("attempt-uid", a.UID),
		zap.Int("cycle", cycleNumber),
		zap.Int("actual-opposite", oppAsk),
		zap.Int("pair-cost", cost),
		zap.Int("pair-profit", profit))
}

// completeFailed terminates an attempt with a fail reason. For stop-loss
// exits the first-leg bid is recorded as the exit price; settlement and
// shutdown failures leave the pair columns unset.
func (e *Evaluator) completeFailed(a *types.Attempt, cycleNumber int, now time.Time, yes, no book.Quote, reason string, exitPrice *int) {
	a.Status = types.AttemptCompletedFailed
	a.FailReason = &reason
	a.T2Timestamp = timePtr(now)
	a.T2CycleNumber = intPtr(cycleNumber)
	a.TimeRemainingAtCompletion = floatPtr(e.market.SettlementTime.Sub(now).Seconds())

	if exitPrice != nil {
		cost := a.P1Points + *exitPrice
		a.ActualOppositePrice = exitPrice
		a.PairCostPoints = intPtr(cost)
		a.PairProfitPoints = intPtr(100 - cost)
	}

	if yes.Complete() && no.Complete() {
		a.YesSpreadExitPoints = intPtr(yes.AskPoints - yes.BidPoints)
		a.NoSpreadExitPoints = intPtr(no.AskPoints - no.BidPoints)
	}

	e.stats.TotalFailed++
	if reason == types.FailSettlementReached {
		e.stats.SettlementFailures++
	}
	AttemptsFailedTotal.WithLabelValues(reason).Inc()

	e.logger.Info("attempt-failed",
		zap.String("market-id", e.market.MarketID),
		zap.String("attempt-uid", a.UID),
		zap.String("reason", reason),
		zap.Int("cycle", cycleNumber))
}

// MarkFeedGap flags every active attempt after a skipped cycle instant.
// The skipped cycle still consumes its number. Returns the number of
// attempts flagged.
func (e *Evaluator) MarkFeedGap(cycleNumber int) int {
	if cycleNumber > e.lastCycle {
		e.lastCycle = cycleNumber
	}
	n := 0
	for _, a := range e.active {
		if !a.HadFeedGap {
			a.HadFeedGap = true
			n++
		}
	}
	return n
}

// Settle terminates every remaining active attempt with the given reason
// (settlement_reached or bot_shutdown). pair columns stay unset; exit
// spreads are filled only from a still-fresh snapshot, and running MAE
// keeps its last non-stale value. Returns the failed attempts.
func (e *Evaluator) Settle(now time.Time, reason string, yes, no book.Quote) []*types.Attempt {
	failed := make([]*types.Attempt, 0, len(e.active))
	freshPair := yes.Fresh(now, e.set.FeedGapThreshold) && no.Fresh(now, e.set.FeedGapThreshold)

	for _, a := range e.active {
		if a.Terminal() {
			continue
		}
		if freshPair {
			e.completeFailed(a, e.lastCycle, now, yes, no, reason, nil)
		} else {
			e.completeFailed(a, e.lastCycle, now, book.Quote{}, book.Quote{}, reason, nil)
		}
		failed = append(failed, a)
	}

	e.active = nil
	ActiveAttempts.Set(0)
	return failed
}

func (e *Evaluator) pruneTerminal() {
	kept := e.active[:0]
	for _, a := range e.active {
		if !a.Terminal() {
			kept = append(kept, a)
		}
	}
	e.active = kept
}

func tickOf(yes, no book.Quote) int {
	tick := yes.TickSizePoints
	if no.TickSizePoints > tick {
		tick = no.TickSizePoints
	}
	if tick < 1 {
		tick = 1
	}
	return tick
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func intPtr(v int) *int              { return &v }
func floatPtr(v float64) *float64    { return &v }
func timePtr(v time.Time) *time.Time { return &v }
