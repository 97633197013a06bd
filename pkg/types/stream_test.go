package types

import (
	"testing"

	json "github.com/goccy/go-json"
)

func TestStreamEventUnmarshal_BookFrame(t *testing.T) {
	raw := []byte(`{
		"event_type": "book",
		"asset_id": "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		"market": "0xabc",
		"timestamp": "1770356705123",
		"bids": [{"price": "0.44", "size": "120.5"}],
		"asks": [{"price": "0.46", "size": "80"}]
	}`)

	var ev StreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal book frame: %v", err)
	}

	if ev.EventType != EventBook {
		t.Errorf("event type = %q, want %q", ev.EventType, EventBook)
	}
	if ev.AssetID == "" || ev.Market != "0xabc" {
		t.Errorf("asset/market = %q/%q", ev.AssetID, ev.Market)
	}
	if ev.Timestamp != 1770356705123 {
		t.Errorf("timestamp = %d, want 1770356705123", ev.Timestamp)
	}
	if len(ev.Bids) != 1 || ev.Bids[0].Price != "0.44" {
		t.Errorf("bids = %+v", ev.Bids)
	}
	if len(ev.Asks) != 1 || ev.Asks[0].Size != "80" {
		t.Errorf("asks = %+v", ev.Asks)
	}
}

func TestStreamEventUnmarshal_PriceChangeFrame(t *testing.T) {
	raw := []byte(`{
		"event_type": "price_change",
		"market": "0xabc",
		"timestamp": "1770356710000",
		"price_changes": [
			{"asset_id": "tok1", "price": "0.45", "side": "BUY", "best_bid": "0.45", "best_ask": "0.47"}
		]
	}`)

	var ev StreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal price_change frame: %v", err)
	}

	if ev.EventType != EventPriceChange {
		t.Errorf("event type = %q", ev.EventType)
	}
	if len(ev.PriceChanges) != 1 || ev.PriceChanges[0].BestAsk != "0.47" {
		t.Errorf("price changes = %+v", ev.PriceChanges)
	}
	if ev.Timestamp != 1770356710000 {
		t.Errorf("timestamp = %d", ev.Timestamp)
	}
}

func TestStreamEventUnmarshal_MissingTimestamp(t *testing.T) {
	var ev StreamEvent
	if err := json.Unmarshal([]byte(`{"event_type":"tick_size_change","new_tick_size":"0.01"}`), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Timestamp != 0 {
		t.Errorf("timestamp = %d, want 0", ev.Timestamp)
	}
	if ev.TickSize != "0.01" {
		t.Errorf("tick size = %q", ev.TickSize)
	}
}

func TestStreamEventUnmarshal_BadTimestamp(t *testing.T) {
	var ev StreamEvent
	if err := json.Unmarshal([]byte(`{"event_type":"book","timestamp":"not-a-number"}`), &ev); err == nil {
		t.Fatal("expected error for malformed timestamp")
	}
}
