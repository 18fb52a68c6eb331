package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"marketpipe/internal/domain"
)

// DefaultRestURL is the Binance USDⓈ-M futures REST host.
const DefaultRestURL = "https://fapi.binance.com"

// Client is the pull-source REST client (boundary layer). It implements
// domain.PriceSource and domain.OrderBookSource. The reconciliation engine
// wraps it in a rate-limited handle; the client itself is safe for
// concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a pull-source client against the given host.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultRestURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "binance_client"),
	}
}

// FetchPrice returns the last traded price from the 24hr ticker endpoint.
// Any transport, status or parse problem is an error; the caller treats all
// of them as fetch failure.
func (c *Client) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp tickerResponse
	if err := c.getJSON(ctx, "/fapi/v1/ticker/24hr", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return decimal.Zero, err
	}

	price, err := decimal.NewFromString(resp.LastPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid lastPrice %q: %w", resp.LastPrice, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive lastPrice: %s", price)
	}
	return price, nil
}

// FetchOrderBook returns a depth snapshot from the pull source.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBookUpdate, error) {
	if depth <= 0 {
		depth = 5
	}
	var resp depthResponse
	params := url.Values{"symbol": {symbol}, "limit": {fmt.Sprint(depth)}}
	if err := c.getJSON(ctx, "/fapi/v1/depth", params, &resp); err != nil {
		return nil, err
	}

	bids, err := parseLevels(resp.Bids)
	if err != nil {
		return nil, fmt.Errorf("invalid bids: %w", err)
	}
	asks, err := parseLevels(resp.Asks)
	if err != nil {
		return nil, fmt.Errorf("invalid asks: %w", err)
	}

	ts := resp.EventTime
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return &domain.OrderBookUpdate{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
		Sequence:  uint64(resp.LastUpdateID),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("api error: status=%d code=%d msg=%s", resp.StatusCode, apiErr.Code, apiErr.Msg)
		}
		return fmt.Errorf("api error: status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("short level: %v", pair)
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}
