package book

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/pkg/types"
)

func newTestMirror(t *testing.T) *Mirror {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewMirror(logger)
}

func bookEvent(tokenID string, bids, asks []types.PriceLevel) *types.StreamEvent {
	return &types.StreamEvent{
		EventType:  types.EventBook,
		AssetID:    tokenID,
		Bids:       bids,
		Asks:       asks,
		ReceivedAt: time.Now(),
	}
}

func TestApplyBook(t *testing.T) {
	m := newTestMirror(t)

	ev := bookEvent("tok-yes",
		[]types.PriceLevel{{Price: "0.42", Size: "100"}, {Price: "0.44", Size: "50"}},
		[]types.PriceLevel{{Price: "0.48", Size: "30"}, {Price: "0.46", Size: "20"}},
	)
	if err := m.Apply(ev); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	q, ok := m.Snapshot("tok-yes")
	if !ok {
		t.Fatal("expected quote")
	}
	// Best bid is the highest bid, best ask the lowest ask, regardless
	// of wire order.
	if q.BidPoints != 44 {
		t.Errorf("BidPoints = %d, want 44", q.BidPoints)
	}
	if q.AskPoints != 46 {
		t.Errorf("AskPoints = %d, want 46", q.AskPoints)
	}
	if q.BidSize != 50 || q.AskSize != 20 {
		t.Errorf("sizes = %v/%v, want 50/20", q.BidSize, q.AskSize)
	}
	if !q.Complete() {
		t.Error("quote should be complete")
	}
	if mid, ok := q.Midpoint(); !ok || mid != 45 {
		t.Errorf("Midpoint = %d/%v, want 45/true", mid, ok)
	}
}

func TestApplyBook_EmptySideClears(t *testing.T) {
	m := newTestMirror(t)

	m.Apply(bookEvent("tok",
		[]types.PriceLevel{{Price: "0.44", Size: "10"}},
		[]types.PriceLevel{{Price: "0.46", Size: "10"}}))

	// Snapshot with no asks clears the ask side.
	m.Apply(bookEvent("tok",
		[]types.PriceLevel{{Price: "0.44", Size: "10"}},
		nil))

	q, _ := m.Snapshot("tok")
	if !q.HasBid || q.HasAsk {
		t.Errorf("HasBid=%v HasAsk=%v, want true/false", q.HasBid, q.HasAsk)
	}
	if q.Complete() {
		t.Error("one-sided quote must not be complete")
	}
	if _, ok := q.Midpoint(); ok {
		t.Error("one-sided quote must have no midpoint")
	}
}

func TestApplyBook_ZeroSizeLevelsIgnored(t *testing.T) {
	m := newTestMirror(t)

	m.Apply(bookEvent("tok",
		[]types.PriceLevel{{Price: "0.45", Size: "0"}, {Price: "0.43", Size: "10"}},
		[]types.PriceLevel{{Price: "0.47", Size: "5"}}))

	q, _ := m.Snapshot("tok")
	if q.BidPoints != 43 {
		t.Errorf("BidPoints = %d, want 43 (zero-size level skipped)", q.BidPoints)
	}
}

func TestApplyPriceChange(t *testing.T) {
	m := newTestMirror(t)

	m.Apply(bookEvent("tok",
		[]types.PriceLevel{{Price: "0.44", Size: "10"}},
		[]types.PriceLevel{{Price: "0.46", Size: "10"}}))

	ev := &types.StreamEvent{
		EventType: types.EventPriceChange,
		PriceChanges: []types.PriceChange{
			{AssetID: "tok", Price: "0.45", Side: "BUY", BestBid: "0.45", BestAsk: "0.47"},
		},
		ReceivedAt: time.Now(),
	}
	if err := m.Apply(ev); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	q, _ := m.Snapshot("tok")
	if q.BidPoints != 45 || q.AskPoints != 47 {
		t.Errorf("quote = %d/%d, want 45/47", q.BidPoints, q.AskPoints)
	}
}

func TestCrossedQuote(t *testing.T) {
	m := newTestMirror(t)

	m.Apply(&types.StreamEvent{
		EventType: types.EventPriceChange,
		PriceChanges: []types.PriceChange{
			{AssetID: "tok", BestBid: "0.50", BestAsk: "0.48"},
		},
		ReceivedAt: time.Now(),
	})

	q, _ := m.Snapshot("tok")
	if !q.Crossed {
		t.Fatal("quote should be crossed")
	}
	if q.Complete() {
		t.Error("crossed quote must not be complete")
	}
	if _, ok := q.Midpoint(); ok {
		t.Error("crossed quote must have no midpoint")
	}

	// A later consistent update restores the invariant.
	m.Apply(&types.StreamEvent{
		EventType: types.EventPriceChange,
		PriceChanges: []types.PriceChange{
			{AssetID: "tok", BestBid: "0.47", BestAsk: "0.48"},
		},
		ReceivedAt: time.Now(),
	})

	q, _ = m.Snapshot("tok")
	if q.Crossed {
		t.Error("quote should no longer be crossed")
	}
}

func TestApplyLastTrade(t *testing.T) {
	m := newTestMirror(t)

	err := m.Apply(&types.StreamEvent{
		EventType:  types.EventLastTradePrice,
		AssetID:    "tok",
		Price:      "0.53",
		ReceivedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	q, _ := m.Snapshot("tok")
	if !q.HasLastTrade || q.LastTradePoints != 53 {
		t.Errorf("last trade = %d/%v, want 53/true", q.LastTradePoints, q.HasLastTrade)
	}
}

func TestApplyTickSize(t *testing.T) {
	tests := []struct {
		wire string
		want int
	}{
		{"0.01", 1},
		{"0.001", 1}, // floors at one point
		{"0.05", 5},
	}

	for _, tt := range tests {
		m := newTestMirror(t)
		err := m.Apply(&types.StreamEvent{
			EventType:  types.EventTickSizeChange,
			AssetID:    "tok",
			TickSize:   tt.wire,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("Apply(%q): %v", tt.wire, err)
		}
		q, _ := m.Snapshot("tok")
		if q.TickSizePoints != tt.want {
			t.Errorf("tick %q -> %d points, want %d", tt.wire, q.TickSizePoints, tt.want)
		}
	}
}

func TestApplyMalformedPrice(t *testing.T) {
	m := newTestMirror(t)

	err := m.Apply(&types.StreamEvent{
		EventType:  types.EventLastTradePrice,
		AssetID:    "tok",
		Price:      "0.505",
		ReceivedAt: time.Now(),
	})
	if err == nil {
		t.Error("expected error for sub-point price")
	}
}

func TestFreshness(t *testing.T) {
	now := time.Now()
	q := Quote{UpdatedAt: now.Add(-3 * time.Second)}

	if !q.Fresh(now, 5*time.Second) {
		t.Error("3s-old quote should be fresh at 5s threshold")
	}
	if q.Fresh(now, 2*time.Second) {
		t.Error("3s-old quote should be stale at 2s threshold")
	}

	var zero Quote
	if zero.Fresh(now, time.Hour) {
		t.Error("never-updated quote must not be fresh")
	}
}

func TestPairSnapshot(t *testing.T) {
	m := newTestMirror(t)

	m.Apply(bookEvent("yes-tok",
		[]types.PriceLevel{{Price: "0.44", Size: "10"}},
		[]types.PriceLevel{{Price: "0.46", Size: "10"}}))

	if _, _, ok := m.PairSnapshot("yes-tok", "no-tok"); ok {
		t.Error("pair snapshot should fail while one side is missing")
	}

	m.Apply(bookEvent("no-tok",
		[]types.PriceLevel{{Price: "0.53", Size: "10"}},
		[]types.PriceLevel{{Price: "0.55", Size: "10"}}))

	yes, no, ok := m.PairSnapshot("yes-tok", "no-tok")
	if !ok {
		t.Fatal("pair snapshot should succeed")
	}
	if yes.AskPoints != 46 || no.AskPoints != 55 {
		t.Errorf("asks = %d/%d, want 46/55", yes.AskPoints, no.AskPoints)
	}
}
