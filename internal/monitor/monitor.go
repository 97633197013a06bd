// Package monitor runs one market window from boot to settlement and
// rotates assets across consecutive windows. A Monitor owns its stream
// session, book mirror, and one evaluator per parameter set; all cycle
// work happens on the monitor goroutine, with persistence handed to the
// durable writer.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/internal/book"
	"github.com/mglvsky/pairscan/internal/clob"
	"github.com/mglvsky/pairscan/internal/evaluator"
	"github.com/mglvsky/pairscan/internal/schedule"
	"github.com/mglvsky/pairscan/pkg/types"
)

// State is a monitor session's lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateActive
	StateDraining
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateSettled:
		return "settled"
	}
	return "unknown"
}

// Sink receives everything the monitor persists. *writer.Writer
// implements it.
type Sink interface {
	UpsertMarket(market *types.MarketInfo) error
	InsertAttempts(attempts []*types.Attempt) error
	UpdateRunning(attempts []*types.Attempt) error
	UpdateTerminal(attempts []*types.Attempt) error
	InsertSnapshots(snapshots []*types.Snapshot) error
	InsertLifecycle(records []*types.LifecycleRecord) error
	FinalizeMarket(summary *types.MarketSummary) error
}

// Stream is the market data session. *websocket.Manager implements it.
type Stream interface {
	Start() error
	Subscribe(ctx context.Context, tokenIDs []string) error
	EventChan() <-chan *types.StreamEvent
	Connected() bool
	Close() error
}

// BookFetcher is the REST fallback. *clob.Client implements it.
type BookFetcher interface {
	GetBooks(ctx context.Context, tokenIDs []string) ([]clob.BookResponse, error)
}

// Config assembles one monitor session.
type Config struct {
	Market types.MarketInfo

	// Sets must be non-empty; the first set is primary and drives the
	// cycle schedule and the market summary.
	Sets []types.ParameterSet

	MaxReferenceSumDeviation int
	FeedGapThreshold         time.Duration
	BootTimeout              time.Duration
	RESTFallbackInterval     time.Duration
	EnableSnapshots          bool
	EnableLifecycle          bool

	// MaxAnomalies flags the market once its anomaly count passes this
	// limit. Zero means no limit. The market still settles normally.
	MaxAnomalies int

	Stream Stream
	REST   BookFetcher
	Sink   Sink
	Logger *zap.Logger
}

// Monitor drives one market window.
type Monitor struct {
	cfg    Config
	logger *zap.Logger
	mirror *book.Mirror

	evaluators []*evaluator.Evaluator
	plan       *schedule.Plan

	state atomic.Int32
	now   func() time.Time

	// released opens when the predecessor window hands over; until then
	// a pre-warmed successor holds in starting.
	released    chan struct{}
	releaseOnce sync.Once

	cyclesRun            int
	cyclesSkipped        int
	feedGapCycles        int
	anomalyCount         int
	anomalyLimitHit      bool
	timeRemainingAtStart float64
}

// New builds a monitor; Run does the work.
func New(cfg Config) (*Monitor, error) {
	if len(cfg.Sets) == 0 {
		return nil, fmt.Errorf("monitor needs at least one parameter set")
	}
	logger := cfg.Logger.With(
		zap.String("market-id", cfg.Market.MarketID),
		zap.String("asset", cfg.Market.CryptoAsset))

	m := &Monitor{
		cfg:      cfg,
		logger:   logger,
		mirror:   book.NewMirror(logger),
		now:      time.Now,
		released: make(chan struct{}),
	}
	for _, set := range cfg.Sets {
		m.evaluators = append(m.evaluators, evaluator.New(evaluator.Config{
			Set:                      set,
			Market:                   cfg.Market,
			MaxReferenceSumDeviation: cfg.MaxReferenceSumDeviation,
			Logger:                   logger.With(zap.String("parameter-set", set.Name)),
		}))
	}
	return m, nil
}

// Market returns the window this monitor covers.
func (m *Monitor) Market() types.MarketInfo {
	return m.cfg.Market
}

// State returns the current lifecycle phase.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Release lets a pre-warmed monitor leave starting before its window
// opens. The supervisor calls it when the predecessor window finishes.
func (m *Monitor) Release() {
	m.releaseOnce.Do(func() { close(m.released) })
}

func (m *Monitor) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old != s {
		monitorsByState.WithLabelValues(old.String()).Dec()
		monitorsByState.WithLabelValues(s.String()).Inc()
		m.logger.Info("monitor-state-changed",
			zap.String("from", old.String()),
			zap.String("to", s.String()))
	}
}

// Run monitors the window until settlement or cancellation and returns
// the market summary. Cancellation drains cleanly: remaining attempts
// fail as bot_shutdown and the summary is still written.
func (m *Monitor) Run(ctx context.Context) (*types.MarketSummary, error) {
	monitorsByState.WithLabelValues(StateStarting.String()).Inc()
	defer monitorsByState.WithLabelValues(m.State().String()).Dec()

	if m.cfg.Market.TimeRemaining(m.now()) <= 0 {
		m.setState(StateSettled)
		return nil, fmt.Errorf("market %s already settled", m.cfg.Market.MarketID)
	}

	if err := m.cfg.Sink.UpsertMarket(&m.cfg.Market); err != nil {
		m.setState(StateSettled)
		return nil, fmt.Errorf("register market: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := m.cfg.Stream.Start(); err != nil {
		// The REST fallback keeps the mirror alive while the stream's
		// own reconnect loop retries.
		m.logger.Warn("stream-start-failed-relying-on-rest", zap.Error(err))
	}
	tokens := []string{m.cfg.Market.YesTokenID, m.cfg.Market.NoTokenID}
	if err := m.cfg.Stream.Subscribe(runCtx, tokens); err != nil {
		m.logger.Warn("stream-subscribe-failed", zap.Error(err))
	}
	defer m.cfg.Stream.Close()

	go m.pumpEvents(runCtx)
	go m.restFallbackLoop(runCtx)

	m.boot(runCtx)
	m.holdForWindow(runCtx)

	// The schedule starts at activation so a pre-warmed monitor's cycle
	// count and recorded headroom cover only its own window.
	start := m.now()
	m.timeRemainingAtStart = m.cfg.Market.TimeRemaining(start)
	plan, err := schedule.NewPlan(m.cfg.Sets[0], start, m.cfg.Market.SettlementTime)
	if err != nil {
		m.setState(StateSettled)
		return nil, err
	}
	m.plan = plan

	m.logger.Info("monitor-active",
		zap.Float64("seconds-remaining", m.timeRemainingAtStart),
		zap.Duration("cycle-interval", plan.Interval()),
		zap.Int("parameter-sets", len(m.evaluators)))
	m.setState(StateActive)

	reason := m.runCycles(runCtx)

	m.setState(StateDraining)
	summary := m.finalize(reason)
	if err := m.cfg.Sink.FinalizeMarket(summary); err != nil {
		m.logger.Error("finalize-market-write-failed", zap.Error(err))
	}

	m.setState(StateSettled)
	marketsCompletedTotal.WithLabelValues(m.cfg.Market.CryptoAsset).Inc()
	m.logger.Info("monitor-finished",
		zap.String("reason", reason),
		zap.Int("cycles", m.cyclesRun),
		zap.Int("attempts", summary.TotalAttempts),
		zap.Int("pairs", summary.TotalPairs))
	return summary, nil
}

// pumpEvents moves stream events into the mirror.
func (m *Monitor) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.cfg.Stream.EventChan():
			if !ok {
				return
			}
			if err := m.mirror.Apply(ev); err != nil {
				m.logger.Warn("event-apply-failed",
					zap.String("event-type", ev.EventType),
					zap.Error(err))
			}
		}
	}
}

// boot waits up to BootTimeout for both books to arrive on the stream,
// then falls back to one REST fetch.
func (m *Monitor) boot(ctx context.Context) {
	deadline := m.now().Add(m.cfg.BootTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for m.now().Before(deadline) {
		if m.booksReady() {
			m.logBooks("initial-books-from-stream")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	bootFallbacksTotal.Inc()
	m.logger.Warn("boot-timeout-fetching-books-over-rest",
		zap.Duration("timeout", m.cfg.BootTimeout))
	m.refreshBooksREST(ctx)
	if m.booksReady() {
		m.logBooks("initial-books-from-rest")
	} else {
		m.logger.Warn("books-still-incomplete-after-rest-fetch")
	}
}

// holdForWindow keeps a pre-warmed monitor in starting until its window
// opens, the supervisor releases it, or the context is cancelled.
func (m *Monitor) holdForWindow(ctx context.Context) {
	wait := m.cfg.Market.StartTime.Sub(m.now())
	if wait <= 0 {
		return
	}
	m.logger.Info("holding-until-window-start", zap.Duration("wait", wait))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-m.released:
		m.logger.Info("released-by-predecessor-handover")
	case <-timer.C:
	}
}

func (m *Monitor) booksReady() bool {
	yes, no, ok := m.mirror.PairSnapshot(m.cfg.Market.YesTokenID, m.cfg.Market.NoTokenID)
	return ok && yes.Complete() && no.Complete()
}

func (m *Monitor) logBooks(msg string) {
	yes, no, ok := m.mirror.PairSnapshot(m.cfg.Market.YesTokenID, m.cfg.Market.NoTokenID)
	if !ok {
		return
	}
	m.logger.Info(msg,
		zap.Int("yes-bid", yes.BidPoints), zap.Int("yes-ask", yes.AskPoints),
		zap.Int("no-bid", no.BidPoints), zap.Int("no-ask", no.AskPoints))
}

// restFallbackLoop refreshes the mirror over REST whenever the stream
// has been silent past the feed-gap threshold.
func (m *Monitor) restFallbackLoop(ctx context.Context) {
	if m.cfg.REST == nil || m.cfg.RESTFallbackInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.RESTFallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := m.mirror.LastUpdate()
			if !last.IsZero() && m.now().Sub(last) <= m.cfg.FeedGapThreshold {
				continue
			}
			restRefreshesTotal.Inc()
			m.refreshBooksREST(ctx)
		}
	}
}

func (m *Monitor) refreshBooksREST(ctx context.Context) {
	if m.cfg.REST == nil {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	books, err := m.cfg.REST.GetBooks(fetchCtx,
		[]string{m.cfg.Market.YesTokenID, m.cfg.Market.NoTokenID})
	if err != nil {
		m.logger.Warn("rest-book-fetch-failed", zap.Error(err))
		return
	}
	now := m.now()
	for i := range books {
		if err := m.mirror.Apply(books[i].ToStreamEvent(now)); err != nil {
			m.logger.Warn("rest-book-apply-failed", zap.Error(err))
		}
	}
}

// runCycles executes the schedule until settlement or cancellation and
// returns the fail reason for whatever is still active.
func (m *Monitor) runCycles(ctx context.Context) string {
	for {
		cycle, skipped, ok := m.plan.Next(m.now())
		if skipped > 0 {
			m.cyclesSkipped += skipped
			m.noteAnomalies(skipped)
			m.logger.Warn("cycles-skipped-behind-schedule", zap.Int("count", skipped))
		}
		if !ok {
			return types.FailSettlementReached
		}

		if wait := cycle.At.Sub(m.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return types.FailBotShutdown
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return types.FailBotShutdown
			default:
			}
		}

		if m.feedGapped() {
			m.skipCycleForFeedGap(cycle)
			continue
		}
		m.executeCycle(cycle)
	}
}

// noteAnomalies accumulates data-quality incidents, counting skipped
// and feed-gapped cycles alongside evaluator anomalies, and warns once
// when the configured limit is passed.
func (m *Monitor) noteAnomalies(n int) {
	if n <= 0 {
		return
	}
	m.anomalyCount += n
	if m.cfg.MaxAnomalies > 0 && !m.anomalyLimitHit && m.anomalyCount > m.cfg.MaxAnomalies {
		m.anomalyLimitHit = true
		anomalyLimitExceededTotal.Inc()
		m.logger.Warn("anomaly-limit-exceeded",
			zap.Int("count", m.anomalyCount),
			zap.Int("limit", m.cfg.MaxAnomalies))
	}
}

func (m *Monitor) feedGapped() bool {
	last := m.mirror.LastUpdate()
	return last.IsZero() || m.now().Sub(last) > m.cfg.FeedGapThreshold
}

// skipCycleForFeedGap consumes the cycle number without evaluating and
// flags every active attempt.
func (m *Monitor) skipCycleForFeedGap(cycle schedule.Cycle) {
	m.feedGapCycles++
	m.noteAnomalies(1)
	feedGapCyclesTotal.Inc()
	m.logger.Warn("feed-gap-skipping-cycle", zap.Int("cycle", cycle.Number))

	for _, ev := range m.evaluators {
		if ev.MarkFeedGap(cycle.Number) > 0 {
			if err := m.cfg.Sink.UpdateRunning(ev.Active()); err != nil {
				m.logger.Error("feed-gap-flag-write-failed", zap.Error(err))
			}
		}
	}
}

// executeCycle evaluates every parameter set against one consistent
// pair snapshot and forwards the output to the sink in creation order.
func (m *Monitor) executeCycle(cycle schedule.Cycle) {
	m.cyclesRun++
	now := m.now()
	remaining := m.cfg.Market.TimeRemaining(now)

	yes, no, _ := m.mirror.PairSnapshot(m.cfg.Market.YesTokenID, m.cfg.Market.NoTokenID)

	var primaryActive int
	var primaryAnomaly bool
	for i, ev := range m.evaluators {
		result := ev.EvaluateCycle(cycle.Number, now, yes, no)
		m.noteAnomalies(len(result.Anomalies))

		if len(result.Created) > 0 {
			if err := m.cfg.Sink.InsertAttempts(result.Created); err != nil {
				m.logger.Error("attempt-insert-failed", zap.Error(err))
			}
		}
		if len(result.Completed) > 0 {
			if err := m.cfg.Sink.UpdateTerminal(result.Completed); err != nil {
				m.logger.Error("terminal-update-failed", zap.Error(err))
			}
		}
		if len(result.Updated) > 0 {
			if err := m.cfg.Sink.UpdateRunning(result.Updated); err != nil {
				m.logger.Error("running-update-failed", zap.Error(err))
			}
		}
		if m.cfg.EnableLifecycle {
			if records := lifecycleRecords(ev, cycle.Number, now, yes, no); len(records) > 0 {
				if err := m.cfg.Sink.InsertLifecycle(records); err != nil {
					m.logger.Error("lifecycle-insert-failed", zap.Error(err))
				}
			}
		}
		if i == 0 {
			primaryActive = len(ev.Active())
			primaryAnomaly = len(result.Anomalies) > 0
		}
	}

	if m.cfg.EnableSnapshots {
		snap := buildSnapshot(m.cfg.Market.MarketID, cycle.Number, now, remaining,
			yes, no, primaryActive, primaryAnomaly)
		if err := m.cfg.Sink.InsertSnapshots([]*types.Snapshot{snap}); err != nil {
			m.logger.Error("snapshot-insert-failed", zap.Error(err))
		}
	}

	if m.cyclesRun <= 3 || m.cyclesRun%10 == 0 {
		m.logger.Debug("cycle-prices",
			zap.Int("cycle", cycle.Number),
			zap.Int("yes-bid", yes.BidPoints), zap.Int("yes-ask", yes.AskPoints),
			zap.Int("no-bid", no.BidPoints), zap.Int("no-ask", no.AskPoints),
			zap.Float64("seconds-remaining", remaining))
	}
}

// lifecycleRecords tracks every active attempt's distance to its
// opposite trigger this cycle.
func lifecycleRecords(ev *evaluator.Evaluator, cycleNumber int, now time.Time, yes, no book.Quote) []*types.LifecycleRecord {
	active := ev.Active()
	if len(active) == 0 {
		return nil
	}
	records := make([]*types.LifecycleRecord, 0, len(active))
	for _, a := range active {
		rec := &types.LifecycleRecord{
			AttemptUID:      a.UID,
			CycleNumber:     cycleNumber,
			Timestamp:       now,
			ClosestApproach: a.ClosestApproachPoints,
		}
		opp := no
		if a.OppositeSide == types.SideYes {
			opp = yes
		}
		if opp.HasAsk && !opp.Crossed {
			ask := opp.AskPoints
			dist := ask - a.OppositeTriggerPoints
			rec.OppositeAskPoints = &ask
			rec.DistanceToTrigger = &dist
		}
		records = append(records, rec)
	}
	return records
}

func buildSnapshot(marketID string, cycleNumber int, now time.Time, remaining float64, yes, no book.Quote, activeAttempts int, anomaly bool) *types.Snapshot {
	snap := &types.Snapshot{
		MarketID:       marketID,
		CycleNumber:    cycleNumber,
		Timestamp:      now,
		TimeRemaining:  remaining,
		ActiveAttempts: activeAttempts,
		AnomalyFlag:    anomaly,
	}
	if yes.HasBid {
		v := yes.BidPoints
		snap.YesBidPoints = &v
	}
	if yes.HasAsk {
		v := yes.AskPoints
		snap.YesAskPoints = &v
	}
	if no.HasBid {
		v := no.BidPoints
		snap.NoBidPoints = &v
	}
	if no.HasAsk {
		v := no.AskPoints
		snap.NoAskPoints = &v
	}
	if yes.HasLastTrade {
		v := yes.LastTradePoints
		snap.YesLastTrade = &v
	}
	if no.HasLastTrade {
		v := no.LastTradePoints
		snap.NoLastTrade = &v
	}
	return snap
}

// finalize fails whatever is still active across all evaluators and
// builds the summary from the primary one.
func (m *Monitor) finalize(reason string) *types.MarketSummary {
	now := m.now()
	yes, no, _ := m.mirror.PairSnapshot(m.cfg.Market.YesTokenID, m.cfg.Market.NoTokenID)

	for _, ev := range m.evaluators {
		failed := ev.Settle(now, reason, yes, no)
		if len(failed) == 0 {
			continue
		}
		m.logger.Info("settlement-failed-remaining-attempts",
			zap.Int("count", len(failed)),
			zap.String("reason", reason))
		if err := m.cfg.Sink.UpdateTerminal(failed); err != nil {
			m.logger.Error("settlement-terminal-write-failed", zap.Error(err))
		}
	}

	stats := m.evaluators[0].Stats()
	summary := &types.MarketSummary{
		MarketID:             m.cfg.Market.MarketID,
		CryptoAsset:          m.cfg.Market.CryptoAsset,
		TotalAttempts:        stats.TotalAttempts,
		TotalPairs:           stats.TotalPaired,
		TotalFailed:          stats.TotalFailed,
		SettlementFailures:   stats.SettlementFailures,
		PairRate:             pairRate(stats.TotalPaired, stats.TotalAttempts),
		MaxConcurrent:        stats.MaxConcurrentAttempts,
		TotalCycles:          m.cyclesRun,
		CycleInterval:        m.plan.Interval().Seconds(),
		TimeRemainingAtStart: m.timeRemainingAtStart,
		AnomalyCount:         m.anomalyCount,
		ActualSettlement:     now,
	}
	if len(stats.PairTimesSeconds) > 0 {
		avg := mean(stats.PairTimesSeconds)
		med := median(stats.PairTimesSeconds)
		summary.AvgTimeToPair = &avg
		summary.MedianTimeToPair = &med
	}
	return summary
}

func pairRate(paired, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(paired) / float64(total)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
