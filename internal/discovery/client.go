// Package discovery finds active 15-minute up/down windows through the
// Gamma API. Windows are events whose slug encodes the window start:
// {asset}-updown-15m-{unix_start}, settling 900 seconds later.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/internal/points"
	"github.com/mglvsky/pairscan/pkg/cache"
	"github.com/mglvsky/pairscan/pkg/types"
)

// WindowSeconds is the length of one up/down window.
const WindowSeconds = 900

// Client queries the Gamma events endpoint.
type Client struct {
	baseURL    string
	marketType string
	httpClient *http.Client
	cache      *cache.Markets
	logger     *zap.Logger
}

// Config for the Gamma client. Cache may be nil to disable caching.
type Config struct {
	BaseURL    string
	MarketType string // e.g. "updown-15m"
	Cache      *cache.Markets
	Logger     *zap.Logger
}

// NewClient creates a Gamma API client.
func NewClient(cfg Config) *Client {
	if cfg.MarketType == "" {
		cfg.MarketType = "updown-15m"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		marketType: cfg.MarketType,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cfg.Cache,
		logger:     cfg.Logger,
	}
}

// Slug builds the event slug for an asset and window start.
func (c *Client) Slug(asset string, windowStart int64) string {
	return fmt.Sprintf("%s-%s-%d", asset, c.marketType, windowStart)
}

// SlugTimestamp extracts the window start from a slug, or 0.
func SlugTimestamp(slug string) int64 {
	idx := strings.LastIndex(slug, "-")
	if idx < 0 {
		return 0
	}
	ts, err := strconv.ParseInt(slug[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// FindActiveMarket finds the live window for an asset: current window
// slug first, then next and previous, then a broad search over open
// events.
func (c *Client) FindActiveMarket(ctx context.Context, asset string, now time.Time) (*types.MarketInfo, error) {
	windowStart := now.Unix() - now.Unix()%WindowSeconds
	candidates := []int64{windowStart, windowStart + WindowSeconds, windowStart - WindowSeconds}

	for _, ts := range candidates {
		info, err := c.FindMarketBySlug(ctx, c.Slug(asset, ts), asset)
		if err != nil {
			return nil, err
		}
		if info != nil {
			return info, nil
		}
	}

	c.logger.Info("slug-lookup-missed-trying-broad-search", zap.String("asset", asset))
	return c.searchBroadly(ctx, asset, now)
}

// FindMarketBySlug looks up one event by exact slug. Returns (nil, nil)
// when the event does not exist or is closed.
func (c *Client) FindMarketBySlug(ctx context.Context, slug, asset string) (*types.MarketInfo, error) {
	if c.cache != nil {
		if info, ok := c.cache.Get(slug); ok {
			return info, nil
		}
	}

	params := url.Values{}
	params.Add("slug", slug)

	var events []gammaEvent
	if err := c.get(ctx, "/events", params, &events); err != nil {
		return nil, err
	}
	if len(events) == 0 || events[0].Closed {
		return nil, nil
	}

	info := c.parseEvent(&events[0], asset)
	if info == nil {
		return nil, nil
	}
	c.cacheMarket(info)
	return info, nil
}

// searchBroadly pages open events ordered by start date and picks the
// window containing now, or failing that the soonest upcoming one.
func (c *Client) searchBroadly(ctx context.Context, asset string, now time.Time) (*types.MarketInfo, error) {
	params := url.Values{}
	params.Add("closed", "false")
	params.Add("limit", "100")
	params.Add("order", "startDate")
	params.Add("ascending", "true")

	var events []gammaEvent
	if err := c.get(ctx, "/events", params, &events); err != nil {
		return nil, err
	}

	pattern := fmt.Sprintf("%s-%s", asset, c.marketType)
	var best *types.MarketInfo
	for i := range events {
		ev := &events[i]
		if ev.Closed || !strings.Contains(strings.ToLower(ev.Slug), pattern) {
			continue
		}
		info := c.parseEvent(ev, asset)
		if info == nil {
			continue
		}
		if !info.StartTime.IsZero() && !info.StartTime.After(now) && now.Before(info.SettlementTime) {
			c.cacheMarket(info)
			return info, nil
		}
		if best == nil || info.SettlementTime.Before(best.SettlementTime) {
			best = info
		}
	}

	if best != nil {
		c.logger.Info("broad-search-found-upcoming-market",
			zap.String("slug", best.MarketID))
		c.cacheMarket(best)
	} else {
		c.logger.Info("no-active-market-found", zap.String("asset", asset))
	}
	return best, nil
}

func (c *Client) cacheMarket(info *types.MarketInfo) {
	if c.cache != nil {
		c.cache.Put(info, time.Now())
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	requestURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "pairscan/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		requestsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("gamma api status %d: %s", resp.StatusCode, string(body))
	}
	requestsTotal.WithLabelValues("success").Inc()

	if err = json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type gammaEvent struct {
	Slug      string        `json:"slug"`
	StartTime string        `json:"startTime"`
	EndDate   string        `json:"endDate"`
	Closed    bool          `json:"closed"`
	Markets   []gammaMarket `json:"markets"`
}

type gammaMarket struct {
	ConditionID           string          `json:"conditionId"`
	ClobTokenIDs          json.RawMessage `json:"clobTokenIds"`
	Outcomes              json.RawMessage `json:"outcomes"`
	EndDateIso            string          `json:"endDateIso"`
	OrderPriceMinTickSize json.RawMessage `json:"orderPriceMinTickSize"`
	AcceptingOrders       bool            `json:"acceptingOrders"`
	Closed                bool            `json:"closed"`
}

// parseEvent maps one Gamma event onto MarketInfo. Returns nil when the
// event is unusable (missing tokens, already settled, no end time).
func (c *Client) parseEvent(ev *gammaEvent, asset string) *types.MarketInfo {
	if len(ev.Markets) == 0 {
		c.logger.Warn("event-has-no-nested-market", zap.String("slug", ev.Slug))
		return nil
	}
	market := &ev.Markets[0]

	yesToken, noToken := extractTokenIDs(market)
	if yesToken == "" || noToken == "" {
		c.logger.Warn("event-missing-token-ids", zap.String("slug", ev.Slug))
		return nil
	}

	settlement := parseSettlementTime(ev, market)
	if settlement.IsZero() {
		c.logger.Warn("event-missing-settlement-time", zap.String("slug", ev.Slug))
		return nil
	}
	if !settlement.After(time.Now()) {
		return nil
	}

	info := &types.MarketInfo{
		MarketID:        ev.Slug,
		ConditionID:     market.ConditionID,
		CryptoAsset:     asset,
		YesTokenID:      yesToken,
		NoTokenID:       noToken,
		StartTime:       parseISOTime(ev.StartTime),
		SettlementTime:  settlement,
		TickSizePoints:  parseTickSize(market.OrderPriceMinTickSize),
		Active:          !market.Closed,
		AcceptingOrders: market.AcceptingOrders,
	}

	marketsDiscoveredTotal.WithLabelValues(asset).Inc()
	c.logger.Info("market-discovered",
		zap.String("slug", info.MarketID),
		zap.Time("settlement", info.SettlementTime),
		zap.Int("tick_points", info.TickSizePoints),
		zap.Bool("accepting_orders", info.AcceptingOrders))
	return info
}

// extractTokenIDs pairs clobTokenIds with outcomes. Both fields arrive
// either as JSON arrays or as strings containing JSON arrays; token IDs
// are 60+ digit numbers and must stay strings.
func extractTokenIDs(market *gammaMarket) (yes, no string) {
	ids := decodeStringList(market.ClobTokenIDs)
	outcomes := decodeStringList(market.Outcomes)
	if len(ids) < 2 || len(outcomes) < 2 {
		return "", ""
	}
	for i := 0; i < len(ids) && i < len(outcomes); i++ {
		switch strings.ToLower(outcomes[i]) {
		case "up", "yes":
			yes = ids[i]
		case "down", "no":
			no = ids[i]
		}
	}
	return yes, no
}

func decodeStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(inner), &list); err != nil {
		return nil
	}
	return list
}

// parseSettlementTime prefers the event endDate, then the market's
// endDateIso, then derives start+900s from the slug timestamp.
func parseSettlementTime(ev *gammaEvent, market *gammaMarket) time.Time {
	if t := parseISOTime(ev.EndDate); !t.IsZero() {
		return t
	}
	if t := parseISOTime(market.EndDateIso); !t.IsZero() {
		return t
	}
	if ts := SlugTimestamp(ev.Slug); ts > 0 {
		return time.Unix(ts+WindowSeconds, 0).UTC()
	}
	return time.Time{}
}

func parseISOTime(s string) time.Time {
	if !strings.Contains(s, "T") {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseTickSize handles the tick arriving as a JSON number or string.
// Resolved windows sometimes report 0.001; live ones use 0.01, and one
// point is the floor either way.
func parseTickSize(raw json.RawMessage) int {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		return 1
	}
	pts, err := points.Parse(s)
	if err != nil || pts < 1 {
		return 1
	}
	return pts
}
