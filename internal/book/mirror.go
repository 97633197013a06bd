package book

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/internal/points"
	"github.com/mglvsky/pairscan/pkg/types"
)

// Quote is the top-of-book view for one token, in integer points.
type Quote struct {
	TokenID string

	BidPoints int
	AskPoints int
	BidSize   float64
	AskSize   float64
	HasBid    bool
	HasAsk    bool

	// Crossed marks a quote whose best bid exceeds its best ask. Such a
	// quote is unusable until a later update restores the invariant.
	Crossed bool

	LastTradePoints int
	HasLastTrade    bool

	TickSizePoints int

	UpdatedAt time.Time
}

// Complete reports whether the quote has both sides and is not crossed.
func (q *Quote) Complete() bool {
	return q.HasBid && q.HasAsk && !q.Crossed
}

// Midpoint returns floor((bid+ask)/2). The second return is false when
// the quote is incomplete or crossed.
func (q *Quote) Midpoint() (int, bool) {
	if !q.Complete() {
		return 0, false
	}
	return points.Midpoint(q.BidPoints, q.AskPoints), true
}

// Fresh reports whether the quote was updated within threshold of now.
func (q *Quote) Fresh(now time.Time, threshold time.Duration) bool {
	if q.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(q.UpdatedAt) <= threshold
}

// Mirror maintains top-of-book quotes for the tokens of one market. It is
// written by the monitor's event pump and read by cycle evaluation;
// reads always see both tokens under a single lock acquisition.
type Mirror struct {
	quotes map[string]*Quote
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewMirror creates an empty mirror with the given default tick size.
func NewMirror(logger *zap.Logger) *Mirror {
	return &Mirror{
		quotes: make(map[string]*Quote),
		logger: logger,
	}
}

// Apply folds one stream event into the mirror.
func (m *Mirror) Apply(ev *types.StreamEvent) error {
	UpdatesTotal.WithLabelValues(ev.EventType).Inc()

	switch ev.EventType {
	case types.EventBook:
		return m.applyBook(ev)
	case types.EventPriceChange:
		return m.applyPriceChange(ev)
	case types.EventLastTradePrice:
		return m.applyLastTrade(ev)
	case types.EventTickSizeChange:
		return m.applyTickSize(ev)
	default:
		return nil
	}
}

// applyBook replaces both sides of a token's quote from a full snapshot.
// An empty side clears that side.
func (m *Mirror) applyBook(ev *types.StreamEvent) error {
	bidPts, bidSize, hasBid, err := bestLevel(ev.Bids, true)
	if err != nil {
		MalformedPricesTotal.Inc()
		return fmt.Errorf("book bids for %s: %w", ev.AssetID, err)
	}
	askPts, askSize, hasAsk, err := bestLevel(ev.Asks, false)
	if err != nil {
		MalformedPricesTotal.Inc()
		return fmt.Errorf("book asks for %s: %w", ev.AssetID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.quoteLocked(ev.AssetID)
	q.BidPoints, q.BidSize, q.HasBid = bidPts, bidSize, hasBid
	q.AskPoints, q.AskSize, q.HasAsk = askPts, askSize, hasAsk
	q.UpdatedAt = eventTime(ev)
	m.checkCrossedLocked(q)

	m.logger.Debug("book-snapshot-applied",
		zap.String("token-id", ev.AssetID),
		zap.Int("best-bid", q.BidPoints),
		zap.Int("best-ask", q.AskPoints))

	return nil
}

// applyPriceChange applies per-asset best bid/ask deltas.
func (m *Mirror) applyPriceChange(ev *types.StreamEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pc := range ev.PriceChanges {
		q := m.quoteLocked(pc.AssetID)

		if pc.BestBid != "" {
			pts, err := points.Parse(pc.BestBid)
			if err != nil {
				MalformedPricesTotal.Inc()
				return fmt.Errorf("price_change best_bid for %s: %w", pc.AssetID, err)
			}
			q.BidPoints = pts
			q.HasBid = true
		}
		if pc.BestAsk != "" {
			pts, err := points.Parse(pc.BestAsk)
			if err != nil {
				MalformedPricesTotal.Inc()
				return fmt.Errorf("price_change best_ask for %s: %w", pc.AssetID, err)
			}
			q.AskPoints = pts
			q.HasAsk = true
		}

		q.UpdatedAt = eventTime(ev)
		m.checkCrossedLocked(q)
	}

	return nil
}

func (m *Mirror) applyLastTrade(ev *types.StreamEvent) error {
	pts, err := points.Parse(ev.Price)
	if err != nil {
		MalformedPricesTotal.Inc()
		return fmt.Errorf("last_trade_price for %s: %w", ev.AssetID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.quoteLocked(ev.AssetID)
	q.LastTradePoints = pts
	q.HasLastTrade = true
	q.UpdatedAt = eventTime(ev)

	return nil
}

func (m *Mirror) applyTickSize(ev *types.StreamEvent) error {
	pts, err := parseTickPoints(ev.TickSize)
	if err != nil {
		MalformedPricesTotal.Inc()
		return fmt.Errorf("tick_size_change for %s: %w", ev.AssetID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.quoteLocked(ev.AssetID)
	q.TickSizePoints = pts
	q.UpdatedAt = eventTime(ev)

	m.logger.Info("tick-size-changed",
		zap.String("token-id", ev.AssetID),
		zap.Int("tick-points", pts))

	return nil
}

// quoteLocked returns the quote for tokenID, creating it if absent.
// Callers must hold the write lock.
func (m *Mirror) quoteLocked(tokenID string) *Quote {
	q, ok := m.quotes[tokenID]
	if !ok {
		q = &Quote{TokenID: tokenID, TickSizePoints: 1}
		m.quotes[tokenID] = q
		QuotesTracked.Set(float64(len(m.quotes)))
	}
	return q
}

func (m *Mirror) checkCrossedLocked(q *Quote) {
	wasCrossed := q.Crossed
	q.Crossed = q.HasBid && q.HasAsk && q.BidPoints > q.AskPoints
	if q.Crossed && !wasCrossed {
		CrossedQuotesTotal.Inc()
		m.logger.Warn("crossed-quote",
			zap.String("token-id", q.TokenID),
			zap.Int("best-bid", q.BidPoints),
			zap.Int("best-ask", q.AskPoints))
	}
}

// Snapshot returns a copy of the quote for one token.
func (m *Mirror) Snapshot(tokenID string) (Quote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quotes[tokenID]
	if !ok {
		return Quote{}, false
	}
	return *q, true
}

// PairSnapshot returns copies of both tokens' quotes taken under a
// single lock acquisition, so the two sides are mutually consistent.
func (m *Mirror) PairSnapshot(yesTokenID, noTokenID string) (yes Quote, no Quote, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	y, yok := m.quotes[yesTokenID]
	n, nok := m.quotes[noTokenID]
	if !yok || !nok {
		return Quote{}, Quote{}, false
	}
	return *y, *n, true
}

// LastUpdate returns the most recent update time across all tracked
// tokens. Used for feed-gap detection.
func (m *Mirror) LastUpdate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest time.Time
	for _, q := range m.quotes {
		if q.UpdatedAt.After(latest) {
			latest = q.UpdatedAt
		}
	}
	return latest
}

// eventTime is the receipt time used for freshness. Falls back to the
// wall clock for events constructed without one.
func eventTime(ev *types.StreamEvent) time.Time {
	if !ev.ReceivedAt.IsZero() {
		return ev.ReceivedAt
	}
	return time.Now()
}

// bestLevel scans wire levels for the best price on one side: highest
// for bids, lowest for asks. The feed does not guarantee level order.
func bestLevel(levels []types.PriceLevel, isBid bool) (pts int, size float64, found bool, err error) {
	for _, lvl := range levels {
		p, perr := points.Parse(lvl.Price)
		if perr != nil {
			return 0, 0, false, fmt.Errorf("parse price %q: %w", lvl.Price, perr)
		}
		s, serr := strconv.ParseFloat(lvl.Size, 64)
		if serr != nil {
			return 0, 0, false, fmt.Errorf("parse size %q: %w", lvl.Size, serr)
		}
		if s <= 0 {
			continue
		}
		if !found || (isBid && p > pts) || (!isBid && p < pts) {
			pts, size, found = p, s, true
		}
	}
	return pts, size, found, nil
}

// parseTickPoints converts a wire tick size ("0.01", "0.001") to points,
// flooring at one point since prices are integer points.
func parseTickPoints(s string) (int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", points.ErrMalformedPrice, s)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %q", points.ErrMalformedPrice, s)
	}

	pts := d.Shift(2)
	if pts.LessThan(decimal.NewFromInt(1)) {
		return 1, nil
	}
	if !pts.IsInteger() {
		return 0, fmt.Errorf("%w: %q", points.ErrMalformedPrice, s)
	}
	return int(pts.IntPart()), nil
}
