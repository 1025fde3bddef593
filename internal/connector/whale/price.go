package whale

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sawpanic/mdcollector/internal/cache"
	"github.com/sawpanic/mdcollector/internal/collector"
	"github.com/sawpanic/mdcollector/internal/retry"
	"github.com/shopspring/decimal"
)

// coingeckoIDs maps a lowercase token symbol to its CoinGecko id, the
// Go equivalent of ethereum_whale_tracker.py's coingecko_ids table.
var coingeckoIDs = map[string]string{
	"btc":  "bitcoin",
	"eth":  "ethereum",
	"bnb":  "binancecoin",
	"trx":  "tron",
	"usdt": "tether",
	"usdc": "usd-coin",
	"dai":  "dai",
	"weth": "weth",
	"wbtc": "wrapped-bitcoin",
}

// stablecoins get a $1 fallback if the price lookup fails, matching
// ethereum_whale_tracker.py's get_usd_price exception path. The lookup
// is by CoinGecko id, so mapped stablecoins are listed under their ids.
var stablecoins = map[string]bool{"usdt": true, "usdc": true, "dai": true, "usdd": true, "tusd": true, "tether": true, "usd-coin": true}

// coingeckoPrice fetches a token's USD price via CoinGecko, caching the
// result under category CategoryWhaleTx (transactions only need
// minute-scale price freshness) so concurrent whale lookups across a
// single poll cycle don't each hit the upstream API.
func coingeckoPrice(ctx context.Context, client *http.Client, runner *retry.Runner, c *cache.Cache, source, coinID string) (decimal.Decimal, error) {
	cacheKey := c.Key(source, "coingecko_price", map[string]string{"coin_id": coinID})

	var cached struct {
		Price string `json:"price"`
	}
	if found, _ := c.Get(ctx, cacheKey, &cached); found {
		return decimal.NewFromString(cached.Price)
	}

	var resp map[string]map[string]float64
	url := fmt.Sprintf("https://api.coingecko.com/api/v3/simple/price?ids=%s&vs_currencies=usd", coinID)

	err := runner.Do(ctx, source, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		httpResp, err := client.Do(req)
		if err != nil {
			return &collector.FetchError{Kind: collector.ClassifyError(err, 0), Source: source, Err: err}
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return &collector.FetchError{Kind: collector.ErrNetwork, Source: source, Err: err}
		}
		if httpResp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("coingecko returned status %d", httpResp.StatusCode)
			return &collector.FetchError{Kind: collector.ClassifyError(statusErr, httpResp.StatusCode), Source: source, StatusCode: httpResp.StatusCode, Err: statusErr}
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return &collector.FetchError{Kind: collector.ErrParse, Source: source, Err: err}
		}
		return nil
	})

	if err != nil {
		if stablecoins[coinID] {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, err
	}

	usd, ok := resp[coinID]["usd"]
	if !ok {
		return decimal.Zero, nil
	}

	price := decimal.NewFromFloat(usd)
	_ = c.Set(ctx, source, cache.CategoryWhaleTx, cacheKey, struct {
		Price string `json:"price"`
	}{Price: price.String()})

	return price, nil
}
