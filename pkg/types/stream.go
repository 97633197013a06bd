package types

import (
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Stream event kinds delivered by the market-data feed.
const (
	EventBook           = "book"
	EventPriceChange    = "price_change"
	EventLastTradePrice = "last_trade_price"
	EventTickSizeChange = "tick_size_change"
)

// PriceLevel is a single level of the wire orderbook. Prices and sizes
// arrive as decimal strings and are parsed exactly downstream.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChange is one best-bid/ask delta inside a price_change event.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// StreamEvent is one parsed message from the market-data feed.
type StreamEvent struct {
	EventType    string        `json:"event_type"`
	AssetID      string        `json:"asset_id"`
	Market       string        `json:"market"`
	Timestamp    int64         `json:"-"` // wire string, parsed below
	Bids         []PriceLevel  `json:"bids,omitempty"`
	Asks         []PriceLevel  `json:"asks,omitempty"`
	Price        string        `json:"price,omitempty"` // last_trade_price
	TickSize     string        `json:"new_tick_size,omitempty"`
	PriceChanges []PriceChange `json:"price_changes,omitempty"`

	// ReceivedAt is the wall-clock receipt time, set by the stream client.
	ReceivedAt time.Time `json:"-"`
}

// UnmarshalJSON handles the string-encoded wire timestamp. The alias is
// embedded by value; decoding through an embedded pointer to the
// unexported alias type is not supported by every JSON library.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	type alias StreamEvent
	var aux struct {
		alias
		TimestampStr string `json:"timestamp"`
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = StreamEvent(aux.alias)

	if aux.TimestampStr != "" {
		ts, err := strconv.ParseInt(aux.TimestampStr, 10, 64)
		if err != nil {
			return err
		}
		e.Timestamp = ts
	}

	return nil
}
