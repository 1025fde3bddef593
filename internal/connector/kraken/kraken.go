// Package kraken implements connector.OHLCVConnector against Kraken's
// public REST API, adapted from
// internal/data/exchanges/kraken/adapter.go's GetKlines/GetTrades REST
// call shape (timed http.Client.Get, JSON decode, status-code check),
// generalized to return domain types and routed through the shared
// retry runner instead of the adapter's own latency bookkeeping.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/mdcollector/internal/collector"
	"github.com/sawpanic/mdcollector/internal/connector"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/retry"
	"github.com/shopspring/decimal"
)

const sourceName = "kraken"

var intervalMinutes = map[string]int{
	"1m": 1, "5m": 5, "15m": 15, "30m": 30,
	"1h": 60, "4h": 240, "1d": 1440, "1w": 10080,
}

// Connector is a live Kraken OHLCV/funding/open-interest source.
type Connector struct {
	baseURL string
	http    *http.Client
	runner  *retry.Runner
}

// New builds a Kraken connector. baseURL is normally
// "https://api.kraken.com"; it is a parameter so tests can point at an
// httptest.Server.
func New(baseURL string, runner *retry.Runner) *Connector {
	return &Connector{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		runner:  runner,
	}
}

// Name implements connector.OHLCVConnector.
func (c *Connector) Name() string { return sourceName }

// GetMarkets implements connector.OHLCVConnector by listing Kraken's
// tradeable asset pairs.
func (c *Connector) GetMarkets(ctx context.Context) ([]connector.MarketInfo, error) {
	var resp krakenAssetPairsResponse
	if err := c.doJSON(ctx, "/0/public/AssetPairs", &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, classifyAPIError(resp.Error)
	}

	markets := make([]connector.MarketInfo, 0, len(resp.Result))
	for symbol, pair := range resp.Result {
		markets = append(markets, connector.MarketInfo{
			Symbol:     symbol,
			BaseAsset:  pair.Base,
			QuoteAsset: pair.Quote,
			MarketType: "spot",
		})
	}
	return markets, nil
}

// FetchOHLCV implements connector.OHLCVConnector's candle fetch.
func (c *Connector) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time) ([]domain.OHLCVBar, error) {
	minutes, ok := intervalMinutes[timeframe]
	if !ok {
		return nil, &collector.FetchError{Kind: collector.ErrBadRequest, Source: sourceName, Err: fmt.Errorf("unsupported timeframe %q", timeframe)}
	}

	path := fmt.Sprintf("/0/public/OHLC?pair=%s&interval=%d&since=%d", symbol, minutes, since.Unix())
	var resp krakenOHLCResponse
	if err := c.doJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, classifyAPIError(resp.Error)
	}

	var bars []domain.OHLCVBar
	for pairKey, raw := range resp.Result {
		if pairKey == "last" {
			continue
		}
		rows, ok := raw.([]interface{})
		if !ok {
			continue
		}
		for _, row := range rows {
			cols, ok := row.([]interface{})
			if !ok || len(cols) < 7 {
				continue
			}
			bar, err := parseOHLCRow(symbol, timeframe, cols)
			if err != nil {
				return nil, &collector.FetchError{Kind: collector.ErrParse, Source: sourceName, Err: err}
			}
			bars = append(bars, bar)
		}
	}
	return bars, nil
}

// FetchFundingRate is a no-op for Kraken spot markets: spot has no
// funding rate concept, matching the distinction the validator and
// persistence layer already draw between market_type=spot and perp.
func (c *Connector) FetchFundingRate(ctx context.Context, symbol string) (*domain.MarketMetric, error) {
	return nil, nil
}

// FetchOpenInterest is likewise a no-op for Kraken spot markets.
func (c *Connector) FetchOpenInterest(ctx context.Context, symbol string) (*domain.MarketMetric, error) {
	return nil, nil
}

// doJSON performs a GET against path under the retry runner and decodes
// the JSON body into out, classifying non-2xx responses the way
// collector.ClassifyError expects.
func (c *Connector) doJSON(ctx context.Context, path string, out interface{}) error {
	url := c.baseURL + path

	return c.runner.Do(ctx, sourceName, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return &collector.FetchError{Kind: collector.ClassifyError(err, 0), Source: sourceName, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &collector.FetchError{Kind: collector.ErrNetwork, Source: sourceName, Err: err}
		}

		if resp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("kraken API returned status %d", resp.StatusCode)
			kind := collector.ClassifyError(statusErr, resp.StatusCode)
			var retryAfter int
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				retryAfter, _ = strconv.Atoi(ra)
			}
			return &collector.FetchError{Kind: kind, Source: sourceName, StatusCode: resp.StatusCode, RetryAfter: retryAfter, Err: statusErr}
		}

		if err := json.Unmarshal(body, out); err != nil {
			return &collector.FetchError{Kind: collector.ErrParse, Source: sourceName, Err: err}
		}
		return nil
	})
}

func classifyAPIError(errs []string) error {
	joined := strings.Join(errs, "; ")
	kind := collector.ErrUnknown
	if strings.Contains(joined, "Rate limit") {
		kind = collector.ErrRateLimit
	} else if strings.Contains(joined, "Invalid") {
		kind = collector.ErrBadRequest
	}
	return &collector.FetchError{Kind: kind, Source: sourceName, Err: fmt.Errorf("kraken error: %s", joined)}
}

func parseOHLCRow(symbol, timeframe string, cols []interface{}) (domain.OHLCVBar, error) {
	ts, err := toFloat(cols[0])
	if err != nil {
		return domain.OHLCVBar{}, fmt.Errorf("timestamp: %w", err)
	}
	open, err := toDecimal(cols[1])
	if err != nil {
		return domain.OHLCVBar{}, fmt.Errorf("open: %w", err)
	}
	high, err := toDecimal(cols[2])
	if err != nil {
		return domain.OHLCVBar{}, fmt.Errorf("high: %w", err)
	}
	low, err := toDecimal(cols[3])
	if err != nil {
		return domain.OHLCVBar{}, fmt.Errorf("low: %w", err)
	}
	closePrice, err := toDecimal(cols[4])
	if err != nil {
		return domain.OHLCVBar{}, fmt.Errorf("close: %w", err)
	}
	volume, err := toDecimal(cols[6])
	if err != nil {
		return domain.OHLCVBar{}, fmt.Errorf("volume: %w", err)
	}

	return domain.OHLCVBar{
		Time:      time.Unix(int64(ts), 0).UTC(),
		Timeframe: timeframe,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

func toFloat(v interface{}) (float64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	return f, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	s, ok := v.(string)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("expected string, got %T", v)
	}
	return decimal.NewFromString(s)
}

type krakenOHLCResponse struct {
	Error  []string               `json:"error"`
	Result map[string]interface{} `json:"result"`
}

type krakenAssetPairsResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Base  string `json:"base"`
		Quote string `json:"quote"`
	} `json:"result"`
}

var _ connector.OHLCVConnector = (*Connector)(nil)
