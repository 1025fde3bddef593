package orchestrator

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sawpanic/mdcollector/internal/circuit"
	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/connector"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/metrics"
	"github.com/sawpanic/mdcollector/internal/persistence"
	"github.com/sawpanic/mdcollector/internal/ratelimit"
	"github.com/sawpanic/mdcollector/internal/retry"
	"github.com/sawpanic/mdcollector/internal/validator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner() *retry.Runner {
	return retry.NewRunner(ratelimit.NewManager(), circuit.NewManager(), retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

// fakeOHLCVConnector serves a fixed market list and a canned bar batch
// (or error), recording how many times FetchOHLCV was called.
type fakeOHLCVConnector struct {
	name        string
	markets     []connector.MarketInfo
	bars        []domain.OHLCVBar
	fetchErr    error
	fundingRate *domain.MarketMetric
	openInt     *domain.MarketMetric
	fetchCalls  int
}

func (f *fakeOHLCVConnector) Name() string { return f.name }
func (f *fakeOHLCVConnector) GetMarkets(ctx context.Context) ([]connector.MarketInfo, error) {
	return f.markets, nil
}
func (f *fakeOHLCVConnector) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time) ([]domain.OHLCVBar, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.bars, nil
}
func (f *fakeOHLCVConnector) FetchFundingRate(ctx context.Context, symbol string) (*domain.MarketMetric, error) {
	return f.fundingRate, nil
}
func (f *fakeOHLCVConnector) FetchOpenInterest(ctx context.Context, symbol string) (*domain.MarketMetric, error) {
	return f.openInt, nil
}

// fakeMarketsRepo hands out sequential ids, keyed by venue+symbol.
type fakeMarketsRepo struct {
	ids map[string]int64
	n   int64
}

func newFakeMarketsRepo() *fakeMarketsRepo { return &fakeMarketsRepo{ids: map[string]int64{}} }

func (f *fakeMarketsRepo) GetOrCreate(ctx context.Context, venue, symbol, baseAsset, quoteAsset, marketType string) (int64, error) {
	key := venue + "|" + symbol
	if id, ok := f.ids[key]; ok {
		return id, nil
	}
	f.n++
	f.ids[key] = f.n
	return f.n, nil
}
func (f *fakeMarketsRepo) Get(ctx context.Context, venue, symbol string) (*domain.Market, error) {
	return nil, nil
}
func (f *fakeMarketsRepo) List(ctx context.Context, venue string) ([]domain.Market, error) {
	return nil, nil
}

// fakeOHLCVRepo records every inserted batch and reports a fixed
// LatestTime.
type fakeOHLCVRepo struct {
	latest       time.Time
	inserted     []domain.OHLCVBar
	insertCalls  int
}

func (f *fakeOHLCVRepo) InsertBatch(ctx context.Context, bars []domain.OHLCVBar) error {
	f.insertCalls++
	f.inserted = append(f.inserted, bars...)
	return nil
}
func (f *fakeOHLCVRepo) LatestTime(ctx context.Context, marketID int64, timeframe string) (time.Time, error) {
	return f.latest, nil
}
func (f *fakeOHLCVRepo) Range(ctx context.Context, marketID int64, timeframe string, tr domain.TimeRange) ([]domain.OHLCVBar, error) {
	return nil, nil
}
func (f *fakeOHLCVRepo) HasDataBetween(ctx context.Context, marketID int64, timeframe string, buckets []time.Time) (map[time.Time]bool, error) {
	return nil, nil
}

type fakeMetricsRepo struct {
	inserted []domain.MarketMetric
}

func (f *fakeMetricsRepo) InsertBatch(ctx context.Context, metrics []domain.MarketMetric) error {
	f.inserted = append(f.inserted, metrics...)
	return nil
}
func (f *fakeMetricsRepo) LatestTime(ctx context.Context, marketID int64, kind domain.MetricKind) (time.Time, error) {
	return time.Time{}, nil
}
func (f *fakeMetricsRepo) Range(ctx context.Context, marketID int64, kind domain.MetricKind, tr domain.TimeRange) ([]domain.MarketMetric, error) {
	return nil, nil
}

type fakeIndicatorsRepo struct {
	upserted []domain.GlobalIndicator
}

func (f *fakeIndicatorsRepo) Upsert(ctx context.Context, ind domain.GlobalIndicator) error {
	f.upserted = append(f.upserted, ind)
	return nil
}
func (f *fakeIndicatorsRepo) UpsertBatch(ctx context.Context, inds []domain.GlobalIndicator) error {
	f.upserted = append(f.upserted, inds...)
	return nil
}
func (f *fakeIndicatorsRepo) Range(ctx context.Context, kind domain.IndicatorKind, tr domain.TimeRange) ([]domain.GlobalIndicator, error) {
	return nil, nil
}

type fakeWhaleRepo struct {
	inserted []domain.WhaleTransaction
}

func (f *fakeWhaleRepo) InsertBatch(ctx context.Context, txs []domain.WhaleTransaction) (int, error) {
	f.inserted = append(f.inserted, txs...)
	return len(txs), nil
}
func (f *fakeWhaleRepo) Range(ctx context.Context, blockchain string, tr domain.TimeRange) ([]domain.WhaleTransaction, error) {
	return nil, nil
}

type fakeWhaleConnector struct {
	chain string
	txs   []domain.WhaleTransaction
	err   error
}

func (f *fakeWhaleConnector) Blockchain() string { return f.chain }
func (f *fakeWhaleConnector) FetchRecentTransactions(ctx context.Context, since time.Time, limit int) ([]domain.WhaleTransaction, error) {
	return f.txs, f.err
}
func (f *fakeWhaleConnector) GetTransactionByHash(ctx context.Context, txHash string) (*domain.WhaleTransaction, error) {
	return nil, nil
}
func (f *fakeWhaleConnector) GetAddressBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeWhaleConnector) ClassifyTransaction(amount decimal.Decimal, tokenSymbol string) (bool, bool) {
	return false, false
}
func (f *fakeWhaleConnector) GetUSDPrice(ctx context.Context, tokenSymbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func newTestOrchestrator(conn *fakeOHLCVConnector, ohlcvRepo *fakeOHLCVRepo, marketsRepo *fakeMarketsRepo) (*Orchestrator, *metrics.Registry) {
	m := metrics.New()
	repo := &persistence.Repository{
		Markets:    marketsRepo,
		OHLCV:      ohlcvRepo,
		Metrics:    &fakeMetricsRepo{},
		Indicators: &fakeIndicatorsRepo{},
		Whales:     &fakeWhaleRepo{},
	}
	o := New(
		map[string]connector.OHLCVConnector{conn.name: conn},
		map[string]connector.WhaleConnector{},
		nil, nil,
		repo,
		validator.New(validator.DefaultConfig()),
		newTestRunner(),
		m,
		zerolog.Nop(),
	)
	return o, m
}

func sampleBars(marketID int64, n int) []domain.OHLCVBar {
	bars := make([]domain.OHLCVBar, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bars[i] = domain.OHLCVBar{
			MarketID: marketID,
			Time:     base.Add(time.Duration(i) * time.Hour),
			Open:     decimal.NewFromInt(100),
			High:     decimal.NewFromInt(101),
			Low:      decimal.NewFromInt(99),
			Close:    decimal.NewFromInt(100),
			Volume:   decimal.NewFromInt(10),
		}
	}
	return bars
}

func TestCollectOHLCV_ValidBatchIsInserted(t *testing.T) {
	conn := &fakeOHLCVConnector{
		name:    "kraken",
		markets: []connector.MarketInfo{{Symbol: "BTC/USD", BaseAsset: "BTC", QuoteAsset: "USD", MarketType: "spot"}},
		bars:    sampleBars(1, 5),
	}
	ohlcvRepo := &fakeOHLCVRepo{}
	marketsRepo := newFakeMarketsRepo()
	o, _ := newTestOrchestrator(conn, ohlcvRepo, marketsRepo)

	source := config.CollectorSource{
		Kind: config.SourceExchangeOHLCV, Venue: "kraken",
		Symbols: []string{"BTC/USD"}, Timeframes: []string{"1h"},
	}

	err := o.CollectOHLCV(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 1, ohlcvRepo.insertCalls)
	assert.Len(t, ohlcvRepo.inserted, 5)
	assert.Equal(t, 1, conn.fetchCalls)
}

func TestCollectOHLCV_UnknownSymbolIsSkippedNotFatal(t *testing.T) {
	conn := &fakeOHLCVConnector{
		name:    "kraken",
		markets: []connector.MarketInfo{{Symbol: "BTC/USD"}},
	}
	ohlcvRepo := &fakeOHLCVRepo{}
	marketsRepo := newFakeMarketsRepo()
	o, _ := newTestOrchestrator(conn, ohlcvRepo, marketsRepo)

	source := config.CollectorSource{
		Kind: config.SourceExchangeOHLCV, Venue: "kraken",
		Symbols: []string{"DOES/NOTEXIST"}, Timeframes: []string{"1h"},
	}

	err := o.CollectOHLCV(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 0, ohlcvRepo.insertCalls)
}

func TestCollectOHLCV_OutOfOrderBatchSkipsInsert(t *testing.T) {
	bars := sampleBars(1, 3)
	bars[2].Time = bars[0].Time // duplicate/out-of-order timestamp
	conn := &fakeOHLCVConnector{
		name:    "kraken",
		markets: []connector.MarketInfo{{Symbol: "BTC/USD"}},
		bars:    bars,
	}
	ohlcvRepo := &fakeOHLCVRepo{}
	marketsRepo := newFakeMarketsRepo()
	o, _ := newTestOrchestrator(conn, ohlcvRepo, marketsRepo)

	source := config.CollectorSource{
		Kind: config.SourceExchangeOHLCV, Venue: "kraken",
		Symbols: []string{"BTC/USD"}, Timeframes: []string{"1h"},
	}

	err := o.CollectOHLCV(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 0, ohlcvRepo.insertCalls)
}

func TestCollectOHLCV_FetchErrorIsolatedPerSymbol(t *testing.T) {
	conn := &fakeOHLCVConnector{
		name:    "kraken",
		markets: []connector.MarketInfo{{Symbol: "BTC/USD"}, {Symbol: "ETH/USD"}},
		fetchErr: errors.New("upstream unreachable"),
	}
	ohlcvRepo := &fakeOHLCVRepo{}
	marketsRepo := newFakeMarketsRepo()
	o, _ := newTestOrchestrator(conn, ohlcvRepo, marketsRepo)

	source := config.CollectorSource{
		Kind: config.SourceExchangeOHLCV, Venue: "kraken",
		Symbols: []string{"BTC/USD", "ETH/USD"}, Timeframes: []string{"1h"},
	}

	err := o.CollectOHLCV(context.Background(), source)
	require.NoError(t, err, "a per-symbol fetch failure must not abort the whole source")
	assert.Equal(t, 2, conn.fetchCalls)
	assert.Equal(t, 0, ohlcvRepo.insertCalls)
}

func TestRunCollectionCycle_RecordsSchedulerMetricsAndIsolatesFailure(t *testing.T) {
	conn := &fakeOHLCVConnector{
		name:     "kraken",
		markets:  []connector.MarketInfo{{Symbol: "BTC/USD"}},
		fetchErr: errors.New("boom"),
	}
	ohlcvRepo := &fakeOHLCVRepo{}
	marketsRepo := newFakeMarketsRepo()
	o, m := newTestOrchestrator(conn, ohlcvRepo, marketsRepo)

	source := config.CollectorSource{
		Kind: config.SourceExchangeOHLCV, Venue: "kraken",
		Symbols: []string{"BTC/USD"}, Timeframes: []string{"1h"},
	}

	err := o.RunCollectionCycle(context.Background(), "kraken_ohlcv", source)
	require.NoError(t, err, "CollectOHLCV isolates per-symbol failures so the cycle itself succeeds")
	assert.Equal(t, 0, ohlcvRepo.insertCalls)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `collector_scheduler_job_runs_total{job_id="kraken_ohlcv",status="success"} 1`)
}

func TestCollectWhaleTransactions_InsertsEnrichedBatch(t *testing.T) {
	conn := &fakeOHLCVConnector{name: "kraken"}
	ohlcvRepo := &fakeOHLCVRepo{}
	marketsRepo := newFakeMarketsRepo()
	o, _ := newTestOrchestrator(conn, ohlcvRepo, marketsRepo)

	whaleRepo := &fakeWhaleRepo{}
	o.repo.Whales = whaleRepo
	o.whaleConnectors["BTC"] = &fakeWhaleConnector{
		chain: "BTC",
		txs:   []domain.WhaleTransaction{{Blockchain: "BTC", TxHash: "abc", Amount: decimal.NewFromInt(500)}},
	}

	source := config.CollectorSource{Kind: config.SourceWhaleBTC, Venue: "blockchair"}
	err := o.CollectWhaleTransactions(context.Background(), "BTC", source)
	require.NoError(t, err)
	assert.Len(t, whaleRepo.inserted, 1)
	assert.Equal(t, "abc", whaleRepo.inserted[0].TxHash)
}

func TestCollectWhaleTransactions_UnknownChainErrors(t *testing.T) {
	conn := &fakeOHLCVConnector{name: "kraken"}
	ohlcvRepo := &fakeOHLCVRepo{}
	marketsRepo := newFakeMarketsRepo()
	o, _ := newTestOrchestrator(conn, ohlcvRepo, marketsRepo)

	source := config.CollectorSource{Kind: config.SourceWhaleETH, Venue: "etherscan"}
	err := o.CollectWhaleTransactions(context.Background(), "ETH", source)
	require.Error(t, err)
}
