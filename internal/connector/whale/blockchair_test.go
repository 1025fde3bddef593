package whale

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sawpanic/mdcollector/internal/cache"
	"github.com/sawpanic/mdcollector/internal/circuit"
	"github.com/sawpanic/mdcollector/internal/ratelimit"
	"github.com/sawpanic/mdcollector/internal/retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWhaleTestRunner(source string) *retry.Runner {
	limiter := ratelimit.NewManager()
	limiter.AddProvider(source, 1000, 1000)
	circuits := circuit.NewManager()
	circuits.AddSource(circuit.Config{
		Source: source, ErrorThreshold: 10, SuccessThreshold: 1,
		Timeout: time.Second, WindowSize: 10, MinRequestsInWindow: 100,
	}, nil)
	return retry.NewRunner(limiter, circuits, retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func TestBitcoinTracker_FetchRecentTransactions_FiltersByWhaleThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"data": [
				{"hash": "big", "time": "2025-01-01T00:00:00Z", "block_id": 100, "output_total": 10000000000, "fee": 1000},
				{"hash": "small", "time": "2025-01-01T01:00:00Z", "block_id": 101, "output_total": 1000, "fee": 100}
			]
		}`))
	}))
	defer srv.Close()

	client, mock := redismock.NewClientMock()
	c := cache.New(client, nil)
	mock.MatchExpectationsInOrder(false)
	mock.Regexp().ExpectGet(`.*`).SetErr(redis.Nil)

	tracker := NewBitcoinTracker(srv.URL, newWhaleTestRunner(btcSourceName), c, Thresholds{WhaleAmount: 50, AnomalyAmount: 1000}, nil)

	txs, err := tracker.FetchRecentTransactions(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "big", txs[0].TxHash)
	assert.True(t, txs[0].IsWhale)
}

func TestBitcoinTracker_ClassifyTransaction(t *testing.T) {
	client, _ := redismock.NewClientMock()
	c := cache.New(client, nil)
	tracker := NewBitcoinTracker("https://unused.example", newWhaleTestRunner(btcSourceName), c, Thresholds{WhaleAmount: 50, AnomalyAmount: 1000}, nil)

	isWhale, isAnomaly := tracker.ClassifyTransaction(decimal.NewFromInt(100), "")
	assert.True(t, isWhale)
	assert.False(t, isAnomaly)
}
