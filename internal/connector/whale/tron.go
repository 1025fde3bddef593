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

const tronSourceName = "whale_trx"

var sunPerTRX = decimal.New(1, 6)

// TronTracker implements connector.WhaleConnector for Tron via
// TronScan's transaction query, adapted from
// tron_whale_tracker.py's _get_trx_transactions (TRX native transfers
// use the "sun" unit, 10^6 per TRX, and TronScan's contractType==1
// marks a plain TransferContract).
type TronTracker struct {
	baseURL    string // e.g. https://apilist.tronscanapi.com/api
	http       *http.Client
	runner     *retry.Runner
	cache      *cache.Cache
	thresholds Thresholds
	exchanges  ExchangeAddresses
}

// NewTronTracker builds a TronTracker.
func NewTronTracker(baseURL string, runner *retry.Runner, c *cache.Cache, thresholds Thresholds, exchanges ExchangeAddresses) *TronTracker {
	return &TronTracker{
		baseURL: baseURL, http: &http.Client{Timeout: 15 * time.Second},
		runner: runner, cache: c, thresholds: thresholds, exchanges: exchanges,
	}
}

// Blockchain implements connector.WhaleConnector.
func (t *TronTracker) Blockchain() string { return "TRX" }

// FetchRecentTransactions implements connector.WhaleConnector by
// querying TronScan's most recent transactions (no address filter) and
// keeping TRX transfers, matching _get_trx_transactions's contractType
// filter.
func (t *TronTracker) FetchRecentTransactions(ctx context.Context, since time.Time, limit int) ([]domain.WhaleTransaction, error) {
	var resp tronscanTxResponse
	path := fmt.Sprintf("/transaction?limit=%d&start=0&sort=-timestamp", limit)
	if err := t.doJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	var out []domain.WhaleTransaction
	for _, raw := range resp.Data {
		if raw.ContractType != 1 {
			continue
		}
		amount := decimal.NewFromInt(raw.ContractData.Amount).Div(sunPerTRX)
		isWhale, isAnomaly := classify(amount, t.thresholds)
		if !isWhale {
			continue
		}

		ts := time.UnixMilli(raw.Timestamp).UTC()
		if ts.Before(since) {
			continue
		}

		tx := domain.WhaleTransaction{
			Blockchain:  "TRX",
			TxHash:      raw.Hash,
			Timestamp:   ts,
			BlockNumber: &raw.Block,
			FromAddress: raw.OwnerAddress,
			ToAddress:   raw.ToAddress,
			Amount:      amount,
			IsWhale:     isWhale,
			IsAnomaly:   isAnomaly,
			Direction:   domain.DirectionNeutral,
		}
		out = append(out, EnrichTransaction(ctx, t, tx, t.exchanges))
	}
	return out, nil
}

// GetTransactionByHash implements connector.WhaleConnector.
func (t *TronTracker) GetTransactionByHash(ctx context.Context, txHash string) (*domain.WhaleTransaction, error) {
	var resp struct {
		Data []tronscanTx `json:"data"`
	}
	if err := t.doJSON(ctx, "/transaction-info?hash="+txHash, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	raw := resp.Data[0]
	amount := decimal.NewFromInt(raw.ContractData.Amount).Div(sunPerTRX)
	isWhale, isAnomaly := classify(amount, t.thresholds)
	tx := domain.WhaleTransaction{
		Blockchain:  "TRX",
		TxHash:      raw.Hash,
		Timestamp:   time.UnixMilli(raw.Timestamp).UTC(),
		BlockNumber: &raw.Block,
		FromAddress: raw.OwnerAddress,
		ToAddress:   raw.ToAddress,
		Amount:      amount,
		IsWhale:     isWhale,
		IsAnomaly:   isAnomaly,
		Direction:   domain.DirectionNeutral,
	}
	enriched := EnrichTransaction(ctx, t, tx, t.exchanges)
	return &enriched, nil
}

// GetAddressBalance implements connector.WhaleConnector.
func (t *TronTracker) GetAddressBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := t.doJSON(ctx, "/account?address="+address, &resp); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(resp.Balance).Div(sunPerTRX), nil
}

// ClassifyTransaction implements connector.WhaleConnector.
func (t *TronTracker) ClassifyTransaction(amount decimal.Decimal, tokenSymbol string) (bool, bool) {
	return classify(amount, t.thresholds)
}

// GetUSDPrice implements connector.WhaleConnector.
func (t *TronTracker) GetUSDPrice(ctx context.Context, tokenSymbol string) (decimal.Decimal, error) {
	return coingeckoPrice(ctx, t.http, t.runner, t.cache, tronSourceName, "tron")
}

func (t *TronTracker) doJSON(ctx context.Context, path string, out interface{}) error {
	url := t.baseURL + path
	return t.runner.Do(ctx, tronSourceName, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := t.http.Do(req)
		if err != nil {
			return &collector.FetchError{Kind: collector.ClassifyError(err, 0), Source: tronSourceName, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &collector.FetchError{Kind: collector.ErrNetwork, Source: tronSourceName, Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("tronscan returned status %d", resp.StatusCode)
			return &collector.FetchError{Kind: collector.ClassifyError(statusErr, resp.StatusCode), Source: tronSourceName, StatusCode: resp.StatusCode, Err: statusErr}
		}
		if err := json.Unmarshal(body, out); err != nil {
			return &collector.FetchError{Kind: collector.ErrParse, Source: tronSourceName, Err: err}
		}
		return nil
	})
}

type tronscanTxResponse struct {
	Data []tronscanTx `json:"data"`
}

type tronscanTx struct {
	Hash         string `json:"hash"`
	Timestamp    int64  `json:"timestamp"`
	Block        int64  `json:"block"`
	OwnerAddress string `json:"ownerAddress"`
	ToAddress    string `json:"toAddress"`
	ContractType int    `json:"contractType"`
	ContractData struct {
		Amount int64 `json:"amount"`
	} `json:"contractData"`
}

var _ connector.WhaleConnector = (*TronTracker)(nil)
