package upbit

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

	"github.com/shopspring/decimal"
)

// Client is the authenticated REST client for the exchange. Public endpoints
// (ticker, candles) skip the auth header; account and order endpoints carry
// the signed token. A single Client is shared process-wide.
type Client struct {
	accessKey  string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
}

// NewClient creates a new exchange client.
func NewClient(accessKey, secretKey, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		accessKey:  accessKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    NewRateLimiter(8, 200),
	}
}

// MaxCandleCount is the largest candle batch the exchange serves per request.
const MaxCandleCount = 200

func (c *Client) do(ctx context.Context, method, path string, query url.Values, authenticated bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	rawQuery := ""
	if query != nil {
		rawQuery = query.Encode()
	}
	if rawQuery != "" && method == http.MethodGet {
		endpoint += "?" + rawQuery
	}

	var body io.Reader
	if method != http.MethodGet && rawQuery != "" {
		body = strings.NewReader(rawQuery)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if authenticated {
		token, err := c.signedToken(rawQuery)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading exchange response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("exchange API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("exchange API error (%d): %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// FetchAccounts returns all currency balances for the configured keys.
func (c *Client) FetchAccounts(ctx context.Context) ([]Balance, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, true)
	if err != nil {
		return nil, err
	}

	var balances []Balance
	if err := json.Unmarshal(data, &balances); err != nil {
		return nil, fmt.Errorf("error parsing accounts: %w", err)
	}
	return balances, nil
}

// FetchTicker returns snapshots for the given markets.
func (c *Client) FetchTicker(ctx context.Context, markets ...string) ([]Ticker, error) {
	if len(markets) == 0 {
		return nil, fmt.Errorf("at least one market is required")
	}

	query := url.Values{}
	query.Set("markets", strings.Join(markets, ","))

	data, err := c.do(ctx, http.MethodGet, "/v1/ticker", query, false)
	if err != nil {
		return nil, err
	}

	var tickers []Ticker
	if err := json.Unmarshal(data, &tickers); err != nil {
		return nil, fmt.Errorf("error parsing ticker: %w", err)
	}
	return tickers, nil
}

// FetchDayCandles returns up to count daily candles newest-first, bounded by
// the optional to cursor (ISO-8601 without zone, UTC).
func (c *Client) FetchDayCandles(ctx context.Context, market string, count int, to time.Time) ([]Candle, error) {
	if count <= 0 || count > MaxCandleCount {
		count = MaxCandleCount
	}

	query := url.Values{}
	query.Set("market", market)
	query.Set("count", strconv.Itoa(count))
	if !to.IsZero() {
		query.Set("to", to.UTC().Format(candleTimeLayout))
	}

	data, err := c.do(ctx, http.MethodGet, "/v1/candles/days", query, false)
	if err != nil {
		return nil, err
	}

	var candles []Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("error parsing day candles: %w", err)
	}
	return candles, nil
}

// FetchMinuteCandles returns up to count one-minute candles newest-first,
// bounded by the optional to cursor (ISO-8601 without zone, UTC).
func (c *Client) FetchMinuteCandles(ctx context.Context, market string, count int, to time.Time) ([]MinuteCandle, error) {
	if count <= 0 || count > MaxCandleCount {
		count = MaxCandleCount
	}

	query := url.Values{}
	query.Set("market", market)
	query.Set("count", strconv.Itoa(count))
	if !to.IsZero() {
		query.Set("to", to.UTC().Format(candleTimeLayout))
	}

	data, err := c.do(ctx, http.MethodGet, "/v1/candles/minutes/1", query, false)
	if err != nil {
		return nil, err
	}

	var candles []MinuteCandle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("error parsing minute candles: %w", err)
	}
	return candles, nil
}

// PlaceOrder submits an order. Market buys pair side=bid with ord_type=price
// (quote-denominated amount); market sells pair side=ask with ord_type=market
// (base-denominated volume).
func (c *Client) PlaceOrder(ctx context.Context, market, side, ordType string, price, volume decimal.Decimal) (*OrderResponse, error) {
	query := url.Values{}
	query.Set("market", market)
	query.Set("side", side)
	query.Set("ord_type", ordType)
	if price.IsPositive() {
		query.Set("price", price.String())
	}
	if volume.IsPositive() {
		query.Set("volume", volume.String())
	}

	data, err := c.do(ctx, http.MethodPost, "/v1/orders", query, true)
	if err != nil {
		return nil, err
	}

	var order OrderResponse
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	return &order, nil
}

// FetchOrder returns one order by exchange UUID.
func (c *Client) FetchOrder(ctx context.Context, orderUUID string) (*OrderResponse, error) {
	query := url.Values{}
	query.Set("uuid", orderUUID)

	data, err := c.do(ctx, http.MethodGet, "/v1/order", query, true)
	if err != nil {
		return nil, err
	}

	var order OrderResponse
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("error parsing order: %w", err)
	}
	return &order, nil
}

// FetchOrders returns orders filtered by state (wait, done, cancel).
func (c *Client) FetchOrders(ctx context.Context, state string) ([]OrderResponse, error) {
	query := url.Values{}
	if state != "" {
		query.Set("state", state)
	}

	data, err := c.do(ctx, http.MethodGet, "/v1/orders", query, true)
	if err != nil {
		return nil, err
	}

	var orders []OrderResponse
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("error parsing orders: %w", err)
	}
	return orders, nil
}
