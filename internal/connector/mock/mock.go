// Package mock provides deterministic connector fakes for tests,
// grounded on exchanges/kraken/mock.go's httptest-based failure
// simulation.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/sawpanic/mdcollector/internal/collector"
	"github.com/sawpanic/mdcollector/internal/connector"
	"github.com/sawpanic/mdcollector/internal/domain"
)

// NewTimeoutServer starts an httptest.Server that hangs (never responds)
// for the first timeoutCount requests, then returns 200 OK. Useful for
// driving a real HTTP client through the retry policy's timeout path.
func NewTimeoutServer(timeoutCount int) *httptest.Server {
	var seen int
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen < timeoutCount {
			seen++
			select {} // block forever; the caller's context deadline fires first
		}
		w.WriteHeader(http.StatusOK)
	}))
}

// Step is one scripted outcome a Connector.FetchOHLCV call returns.
type Step struct {
	Bars []domain.OHLCVBar
	Err  error
}

// Connector is a scripted OHLCVConnector: each call to FetchOHLCV pops
// the next Step off Steps, looping the last one once exhausted so tests
// don't need to size the script exactly to the number of calls made.
type Connector struct {
	VenueName string
	Steps     []Step
	calls     int
}

var _ connector.OHLCVConnector = (*Connector)(nil)

func (c *Connector) Name() string { return c.VenueName }

func (c *Connector) GetMarkets(ctx context.Context) ([]connector.MarketInfo, error) {
	return []connector.MarketInfo{{Symbol: "BTC-USD", BaseAsset: "BTC", QuoteAsset: "USD", MarketType: "spot"}}, nil
}

func (c *Connector) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time) ([]domain.OHLCVBar, error) {
	if len(c.Steps) == 0 {
		return nil, fmt.Errorf("mock connector %s: no steps scripted", c.VenueName)
	}
	idx := c.calls
	if idx >= len(c.Steps) {
		idx = len(c.Steps) - 1
	}
	c.calls++
	step := c.Steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Bars, nil
}

func (c *Connector) FetchFundingRate(ctx context.Context, symbol string) (*domain.MarketMetric, error) {
	return nil, nil
}

func (c *Connector) FetchOpenInterest(ctx context.Context, symbol string) (*domain.MarketMetric, error) {
	return nil, nil
}

// Calls reports how many times FetchOHLCV has been invoked.
func (c *Connector) Calls() int { return c.calls }

// NetworkError builds a classified *collector.FetchError for scripting
// a transient failure.
func NetworkError(source string) error {
	return &collector.FetchError{Kind: collector.ErrNetwork, Source: source, Err: fmt.Errorf("connection reset")}
}

// RateLimitError builds a classified *collector.FetchError carrying a
// Retry-After hint, for scripting a 429 response.
func RateLimitError(source string, retryAfterSec int) error {
	return &collector.FetchError{
		Kind:       collector.ErrRateLimit,
		Source:     source,
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfterSec,
		Err:        fmt.Errorf("rate limited"),
	}
}

// BadRequestError builds a classified, non-retryable *collector.FetchError.
func BadRequestError(source string) error {
	return &collector.FetchError{Kind: collector.ErrBadRequest, Source: source, StatusCode: http.StatusBadRequest, Err: fmt.Errorf("bad request")}
}
