package whale

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sawpanic/mdcollector/internal/cache"
	"github.com/sawpanic/mdcollector/internal/collector"
	"github.com/sawpanic/mdcollector/internal/connector"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/retry"
	"github.com/shopspring/decimal"
)

const btcSourceName = "whale_btc"

var satoshisPerBTC = decimal.New(1, 8)

// BitcoinTracker implements connector.WhaleConnector for Bitcoin via
// Blockchair's global large-transaction query, adapted from
// bitcoin_whale_tracker.py's _get_large_transactions_global /
// _parse_blockchair_transaction (Bitcoin's UTXO model means "from" and
// "to" are reported as "multiple" rather than single addresses, same
// as the original).
type BitcoinTracker struct {
	baseURL    string // e.g. https://api.blockchair.com/bitcoin
	http       *http.Client
	runner     *retry.Runner
	cache      *cache.Cache
	thresholds Thresholds
	exchanges  ExchangeAddresses
}

// NewBitcoinTracker builds a BitcoinTracker.
func NewBitcoinTracker(baseURL string, runner *retry.Runner, c *cache.Cache, thresholds Thresholds, exchanges ExchangeAddresses) *BitcoinTracker {
	return &BitcoinTracker{
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 30 * time.Second},
		runner:     runner,
		cache:      c,
		thresholds: thresholds,
		exchanges:  exchanges,
	}
}

// Blockchain implements connector.WhaleConnector.
func (b *BitcoinTracker) Blockchain() string { return "BTC" }

// FetchRecentTransactions implements connector.WhaleConnector,
// querying Blockchair's transactions endpoint ordered by output total
// descending (the 's' query param in _get_large_transactions_global).
// No 'q' filter is sent: rows are kept client-side when their BTC
// amount clears the whale threshold.
func (b *BitcoinTracker) FetchRecentTransactions(ctx context.Context, since time.Time, limit int) ([]domain.WhaleTransaction, error) {
	var resp blockchairTxResponse
	path := fmt.Sprintf("/transactions?limit=%d&s=output_total(desc)", limit)
	if err := b.doJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	var out []domain.WhaleTransaction
	for _, raw := range resp.Data {
		tx, ok := parseBlockchairTx(raw, b.thresholds)
		if !ok {
			continue
		}
		if tx.Timestamp.Before(since) {
			continue
		}
		enriched := EnrichTransaction(ctx, b, tx, b.exchanges)
		out = append(out, enriched)
	}
	return out, nil
}

// GetTransactionByHash implements connector.WhaleConnector.
func (b *BitcoinTracker) GetTransactionByHash(ctx context.Context, txHash string) (*domain.WhaleTransaction, error) {
	var resp struct {
		Data map[string]blockchairTx `json:"data"`
	}
	if err := b.doJSON(ctx, "/dashboards/transaction/"+txHash, &resp); err != nil {
		return nil, err
	}
	raw, ok := resp.Data[txHash]
	if !ok {
		return nil, nil
	}
	tx, ok := parseBlockchairTx(raw, b.thresholds)
	if !ok {
		return nil, nil
	}
	enriched := EnrichTransaction(ctx, b, tx, b.exchanges)
	return &enriched, nil
}

// GetAddressBalance implements connector.WhaleConnector.
func (b *BitcoinTracker) GetAddressBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var resp struct {
		Data map[string]struct {
			Address struct {
				Balance int64 `json:"balance"`
			} `json:"address"`
		} `json:"data"`
	}
	if err := b.doJSON(ctx, "/dashboards/address/"+address, &resp); err != nil {
		return decimal.Zero, err
	}
	entry, ok := resp.Data[address]
	if !ok {
		return decimal.Zero, nil
	}
	return decimal.NewFromInt(entry.Address.Balance).Div(satoshisPerBTC), nil
}

// ClassifyTransaction implements connector.WhaleConnector.
func (b *BitcoinTracker) ClassifyTransaction(amount decimal.Decimal, tokenSymbol string) (bool, bool) {
	return classify(amount, b.thresholds)
}

// GetUSDPrice implements connector.WhaleConnector via CoinGecko,
// fronted by the shared response cache so repeated calls within the
// TTL window don't re-hit the upstream API, replacing the tracker's
// own price_cache dict.
func (b *BitcoinTracker) GetUSDPrice(ctx context.Context, tokenSymbol string) (decimal.Decimal, error) {
	return coingeckoPrice(ctx, b.http, b.runner, b.cache, btcSourceName, "bitcoin")
}

func (b *BitcoinTracker) doJSON(ctx context.Context, path string, out interface{}) error {
	url := b.baseURL + path
	return b.runner.Do(ctx, btcSourceName, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := b.http.Do(req)
		if err != nil {
			return &collector.FetchError{Kind: collector.ClassifyError(err, 0), Source: btcSourceName, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &collector.FetchError{Kind: collector.ErrNetwork, Source: btcSourceName, Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("blockchair returned status %d", resp.StatusCode)
			return &collector.FetchError{Kind: collector.ClassifyError(statusErr, resp.StatusCode), Source: btcSourceName, StatusCode: resp.StatusCode, Err: statusErr}
		}
		if err := json.Unmarshal(body, out); err != nil {
			return &collector.FetchError{Kind: collector.ErrParse, Source: btcSourceName, Err: err}
		}
		return nil
	})
}

type blockchairTxResponse struct {
	Data []blockchairTx `json:"data"`
}

type blockchairTx struct {
	Hash        string `json:"hash"`
	Time        string `json:"time"`
	BlockID     *int64 `json:"block_id"`
	OutputTotal int64  `json:"output_total"`
	Fee         int64  `json:"fee"`
}

func parseBlockchairTx(raw blockchairTx, thresholds Thresholds) (domain.WhaleTransaction, bool) {
	amount := decimal.NewFromInt(raw.OutputTotal).Div(satoshisPerBTC)
	isWhale, isAnomaly := classify(amount, thresholds)
	if !isWhale {
		return domain.WhaleTransaction{}, false
	}

	ts, err := time.Parse(time.RFC3339, raw.Time)
	if err != nil {
		ts = time.Now().UTC()
	}
	fee := decimal.NewFromInt(raw.Fee).Div(satoshisPerBTC)

	return domain.WhaleTransaction{
		Blockchain:  "BTC",
		TxHash:      raw.Hash,
		Timestamp:   ts,
		BlockNumber: raw.BlockID,
		FromAddress: "multiple",
		ToAddress:   "multiple",
		Amount:      amount,
		IsWhale:     isWhale,
		IsAnomaly:   isAnomaly,
		TxFee:       &fee,
		Direction:   domain.DirectionNeutral,
	}, true
}

func classify(amount decimal.Decimal, t Thresholds) (isWhale, isAnomaly bool) {
	whale := decimal.NewFromFloat(t.WhaleAmount)
	anomaly := decimal.NewFromFloat(t.AnomalyAmount)
	return amount.GreaterThanOrEqual(whale), amount.GreaterThanOrEqual(anomaly)
}

var _ connector.WhaleConnector = (*BitcoinTracker)(nil)
