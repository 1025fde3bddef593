package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet_RoundTrip(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, nil)

	key := c.Key("binance", "ohlcv", map[string]string{"symbol": "BTCUSDT", "timeframe": "1h"})
	payload := []byte(`{"symbol":"BTCUSDT"}`)

	mock.ExpectSet(key, payload, 30*time.Second).SetVal("OK")
	mock.ExpectGet(key).SetVal(string(payload))

	require.NoError(t, c.Set(context.Background(), "binance", CategoryOHLCV, key, struct {
		Symbol string `json:"symbol"`
	}{Symbol: "BTCUSDT"}))

	var out map[string]string
	found, err := c.Get(context.Background(), key, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "BTCUSDT", out["symbol"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_TTL_SourceOverride(t *testing.T) {
	client, _ := redismock.NewClientMock()
	overrides := SourceOverrides{"kraken": {CategoryOHLCV: 5 * time.Second}}
	c := New(client, overrides)

	assert.Equal(t, 5*time.Second, c.TTL("kraken", CategoryOHLCV))
	assert.Equal(t, DefaultTTLs[CategoryOHLCV], c.TTL("binance", CategoryOHLCV))
}
