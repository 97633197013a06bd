// Package clob implements a read-only client for the CLOB REST API. It
// backs the polling fallback used while a market's stream session has
// not yet delivered an initial book, and one-shot inspection commands.
package clob

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mglvsky/pairscan/pkg/types"
)

// BookResponse is the L2 book returned by GET /book.
type BookResponse struct {
	Market    string             `json:"market"`
	AssetID   string             `json:"asset_id"`
	Timestamp string             `json:"timestamp"`
	Bids      []types.PriceLevel `json:"bids"`
	Asks      []types.PriceLevel `json:"asks"`
}

// ToStreamEvent converts a REST book into the stream's book event shape
// so it can be fed through the same mirror path.
func (b *BookResponse) ToStreamEvent(receivedAt time.Time) *types.StreamEvent {
	ev := &types.StreamEvent{
		EventType:  types.EventBook,
		AssetID:    b.AssetID,
		Market:     b.Market,
		Bids:       b.Bids,
		Asks:       b.Asks,
		ReceivedAt: receivedAt,
	}
	if ts, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		ev.Timestamp = ts
	}
	return ev
}

type midpointResponse struct {
	Mid string `json:"mid"`
}

type priceResponse struct {
	Price string `json:"price"`
}

type serverTimeResponse int64

// Config holds CLOB client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client is a rate-limited CLOB REST client for book and price reads.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a CLOB client with retry and rate limiting. The limit is
// tuned to the published 1500-per-10s book-read allowance, refilled
// smoothly.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(15), 150),
		logger:  cfg.Logger,
	}
}

// GetBook fetches the L2 book for one token.
func (c *Client) GetBook(ctx context.Context, tokenID string) (*BookResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	timer := time.Now()
	var result BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	RequestDuration.WithLabelValues("book").Observe(time.Since(timer).Seconds())

	if err != nil {
		RequestsTotal.WithLabelValues("book", "error").Inc()
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		RequestsTotal.WithLabelValues("book", "error").Inc()
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}

	RequestsTotal.WithLabelValues("book", "ok").Inc()
	return &result, nil
}

// GetBooks fetches L2 books for several tokens in one request.
func (c *Client) GetBooks(ctx context.Context, tokenIDs []string) ([]BookResponse, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := make([]map[string]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		params = append(params, map[string]string{"token_id": id})
	}

	timer := time.Now()
	var result []BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(params).
		SetResult(&result).
		Post("/books")
	RequestDuration.WithLabelValues("books").Observe(time.Since(timer).Seconds())

	if err != nil {
		RequestsTotal.WithLabelValues("books", "error").Inc()
		return nil, fmt.Errorf("get books: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		RequestsTotal.WithLabelValues("books", "error").Inc()
		return nil, fmt.Errorf("get books: status %d: %s", resp.StatusCode(), resp.String())
	}

	RequestsTotal.WithLabelValues("books", "ok").Inc()
	return result, nil
}

// GetMidpoint fetches the midpoint price string for one token.
func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	timer := time.Now()
	var result midpointResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/midpoint")
	RequestDuration.WithLabelValues("midpoint").Observe(time.Since(timer).Seconds())

	if err != nil {
		RequestsTotal.WithLabelValues("midpoint", "error").Inc()
		return "", fmt.Errorf("get midpoint: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		RequestsTotal.WithLabelValues("midpoint", "error").Inc()
		return "", fmt.Errorf("get midpoint: status %d: %s", resp.StatusCode(), resp.String())
	}

	RequestsTotal.WithLabelValues("midpoint", "ok").Inc()
	return result.Mid, nil
}

// GetPrice fetches the best price for one token and side ("BUY" or "SELL").
func (c *Client) GetPrice(ctx context.Context, tokenID, side string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	timer := time.Now()
	var result priceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetQueryParam("side", side).
		SetResult(&result).
		Get("/price")
	RequestDuration.WithLabelValues("price").Observe(time.Since(timer).Seconds())

	if err != nil {
		RequestsTotal.WithLabelValues("price", "error").Inc()
		return "", fmt.Errorf("get price: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		RequestsTotal.WithLabelValues("price", "error").Inc()
		return "", fmt.Errorf("get price: status %d: %s", resp.StatusCode(), resp.String())
	}

	RequestsTotal.WithLabelValues("price", "ok").Inc()
	return result.Price, nil
}

// GetServerTime fetches the exchange clock, used once at startup to log
// local clock skew.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return time.Time{}, err
	}

	timer := time.Now()
	var result serverTimeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/time")
	RequestDuration.WithLabelValues("time").Observe(time.Since(timer).Seconds())

	if err != nil {
		RequestsTotal.WithLabelValues("time", "error").Inc()
		return time.Time{}, fmt.Errorf("get server time: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		RequestsTotal.WithLabelValues("time", "error").Inc()
		return time.Time{}, fmt.Errorf("get server time: status %d: %s", resp.StatusCode(), resp.String())
	}

	RequestsTotal.WithLabelValues("time", "ok").Inc()
	return time.Unix(int64(result), 0), nil
}
