package signals

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

type fakeMetricsRepo struct {
	byMarketKind map[int64]map[domain.MetricKind][]domain.MarketMetric
}

func newFakeMetricsRepo() *fakeMetricsRepo {
	return &fakeMetricsRepo{byMarketKind: make(map[int64]map[domain.MetricKind][]domain.MarketMetric)}
}

func (f *fakeMetricsRepo) seed(marketID int64, kind domain.MetricKind, readings ...domain.MarketMetric) {
	if f.byMarketKind[marketID] == nil {
		f.byMarketKind[marketID] = make(map[domain.MetricKind][]domain.MarketMetric)
	}
	f.byMarketKind[marketID][kind] = append(f.byMarketKind[marketID][kind], readings...)
}

func (f *fakeMetricsRepo) InsertBatch(ctx context.Context, metrics []domain.MarketMetric) error {
	panic("not used")
}

func (f *fakeMetricsRepo) LatestTime(ctx context.Context, marketID int64, kind domain.MetricKind) (time.Time, error) {
	panic("not used")
}

func (f *fakeMetricsRepo) Range(ctx context.Context, marketID int64, kind domain.MetricKind, tr domain.TimeRange) ([]domain.MarketMetric, error) {
	var out []domain.MarketMetric
	for _, m := range f.byMarketKind[marketID][kind] {
		if !m.Time.Before(tr.From) && m.Time.Before(tr.To) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeOHLCVRepo struct {
	byMarket map[int64][]domain.OHLCVBar
}

func (f *fakeOHLCVRepo) InsertBatch(ctx context.Context, bars []domain.OHLCVBar) error { panic("not used") }
func (f *fakeOHLCVRepo) LatestTime(ctx context.Context, marketID int64, timeframe string) (time.Time, error) {
	panic("not used")
}
func (f *fakeOHLCVRepo) HasDataBetween(ctx context.Context, marketID int64, timeframe string, buckets []time.Time) (map[time.Time]bool, error) {
	panic("not used")
}

func (f *fakeOHLCVRepo) Range(ctx context.Context, marketID int64, timeframe string, tr domain.TimeRange) ([]domain.OHLCVBar, error) {
	var out []domain.OHLCVBar
	for _, b := range f.byMarket[marketID] {
		if b.Timeframe == timeframe && !b.Time.Before(tr.From) && b.Time.Before(tr.To) {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeLiquidationsRepo struct {
	liqs []domain.Liquidation
}

func (f *fakeLiquidationsRepo) InsertBatch(ctx context.Context, liqs []domain.Liquidation) error {
	panic("not used")
}

func (f *fakeLiquidationsRepo) Recent(ctx context.Context, symbols []string, window time.Duration) ([]domain.Liquidation, error) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	var out []domain.Liquidation
	for _, l := range f.liqs {
		if want[l.Symbol] {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeSignalsRepo struct {
	inserted []domain.MarketSignal
}

func (f *fakeSignalsRepo) InsertBatch(ctx context.Context, signals []domain.MarketSignal) error {
	f.inserted = append(f.inserted, signals...)
	return nil
}

func (f *fakeSignalsRepo) Recent(ctx context.Context, limit int) ([]domain.MarketSignal, error) {
	panic("not used")
}

func newTestMonitor(metrics *fakeMetricsRepo, ohlcv *fakeOHLCVRepo, liqs *fakeLiquidationsRepo, signalsRepo *fakeSignalsRepo) *Monitor {
	repo := &persistence.Repository{
		Metrics:      metrics,
		OHLCV:        ohlcv,
		Liquidations: liqs,
		Signals:      signalsRepo,
	}
	return New(repo, DefaultConfig(), zerolog.Nop())
}

func dec(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func TestScanFundingExtremes_FlagsOutOfBandRate(t *testing.T) {
	metrics := newFakeMetricsRepo()
	now := time.Now()
	metrics.seed(1, domain.MetricFundingRate, domain.MarketMetric{MarketID: 1, Time: now.Add(-time.Minute), Kind: domain.MetricFundingRate, Value: dec(0.002)})
	signalsRepo := &fakeSignalsRepo{}
	m := newTestMonitor(metrics, &fakeOHLCVRepo{byMarket: map[int64][]domain.OHLCVBar{}}, &fakeLiquidationsRepo{}, signalsRepo)

	signals, err := m.Scan(context.Background(), []domain.Market{{ID: 1, Symbol: "BTCUSDT"}})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "extreme_funding", signals[0].SignalType)
	assert.Equal(t, domain.SeverityCritical, signals[0].Severity)
	assert.Len(t, signalsRepo.inserted, 1)
}

func TestScanFundingExtremes_NormalRateProducesNoSignal(t *testing.T) {
	metrics := newFakeMetricsRepo()
	now := time.Now()
	metrics.seed(1, domain.MetricFundingRate, domain.MarketMetric{MarketID: 1, Time: now.Add(-time.Minute), Kind: domain.MetricFundingRate, Value: dec(0.0001)})
	m := newTestMonitor(metrics, &fakeOHLCVRepo{byMarket: map[int64][]domain.OHLCVBar{}}, &fakeLiquidationsRepo{}, &fakeSignalsRepo{})

	signals, err := m.Scan(context.Background(), []domain.Market{{ID: 1, Symbol: "BTCUSDT"}})
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestScanOISpikes_FlagsSpikeWithinGap(t *testing.T) {
	metrics := newFakeMetricsRepo()
	now := time.Now()
	metrics.seed(1, domain.MetricOpenInterest,
		domain.MarketMetric{MarketID: 1, Time: now.Add(-30 * time.Minute), Value: dec(1_000_000)},
		domain.MarketMetric{MarketID: 1, Time: now.Add(-20 * time.Minute), Value: dec(1_100_000)},
	)
	m := newTestMonitor(metrics, &fakeOHLCVRepo{byMarket: map[int64][]domain.OHLCVBar{}}, &fakeLiquidationsRepo{}, &fakeSignalsRepo{})

	signals, err := m.Scan(context.Background(), []domain.Market{{ID: 1, Symbol: "BTCUSDT"}})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "oi_spike", signals[0].SignalType)
}

func TestScanOISpikes_IgnoresSamplesTooFarApart(t *testing.T) {
	metrics := newFakeMetricsRepo()
	now := time.Now()
	metrics.seed(1, domain.MetricOpenInterest,
		domain.MarketMetric{MarketID: 1, Time: now.Add(-90 * time.Minute), Value: dec(1_000_000)},
		domain.MarketMetric{MarketID: 1, Time: now.Add(-5 * time.Minute), Value: dec(1_100_000)},
	)
	m := newTestMonitor(metrics, &fakeOHLCVRepo{byMarket: map[int64][]domain.OHLCVBar{}}, &fakeLiquidationsRepo{}, &fakeSignalsRepo{})

	signals, err := m.Scan(context.Background(), []domain.Market{{ID: 1, Symbol: "BTCUSDT"}})
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestScanLiquidations_SingleWhaleAndCluster(t *testing.T) {
	now := time.Now()
	liqs := &fakeLiquidationsRepo{liqs: []domain.Liquidation{
		{Time: now.Add(-time.Second), Exchange: "bybit", Symbol: "BTCUSDT", Side: domain.LiqSideLong, Price: decimal.NewFromInt(60000), Quantity: decimal.NewFromInt(10), ValueUSD: decimal.NewFromInt(600_000)},
		{Time: now.Add(-2 * time.Second), Exchange: "bybit", Symbol: "ETHUSDT", Side: domain.LiqSideShort, Price: decimal.NewFromInt(3000), Quantity: decimal.NewFromInt(500), ValueUSD: decimal.NewFromInt(1_600_000)},
		{Time: now.Add(-3 * time.Second), Exchange: "bybit", Symbol: "ETHUSDT", Side: domain.LiqSideShort, Price: decimal.NewFromInt(3000), Quantity: decimal.NewFromInt(500), ValueUSD: decimal.NewFromInt(1_600_000)},
	}}
	signalsRepo := &fakeSignalsRepo{}
	m := newTestMonitor(newFakeMetricsRepo(), &fakeOHLCVRepo{byMarket: map[int64][]domain.OHLCVBar{}}, liqs, signalsRepo)

	signals, err := m.Scan(context.Background(), []domain.Market{
		{ID: 1, Symbol: "BTCUSDT"},
		{ID: 2, Symbol: "ETHUSDT"},
	})
	require.NoError(t, err)

	var sawBTCWhale, sawCluster bool
	for _, s := range signals {
		switch s.SignalType {
		case "whale_liquidation":
			if s.MarketID == 1 {
				sawBTCWhale = true
			}
		case "liquidation_cluster":
			sawCluster = true
			assert.Equal(t, int64(2), s.MarketID)
		}
	}
	assert.True(t, sawBTCWhale, "expected a whale_liquidation signal for BTCUSDT")
	assert.True(t, sawCluster, "expected a liquidation_cluster signal")
}

func TestScanOBIExtremes_FlagsOutOfBandReading(t *testing.T) {
	metrics := newFakeMetricsRepo()
	now := time.Now()
	metrics.seed(1, domain.MetricOBI, domain.MarketMetric{MarketID: 1, Time: now.Add(-time.Minute), Value: dec(-0.75)})
	m := newTestMonitor(metrics, &fakeOHLCVRepo{byMarket: map[int64][]domain.OHLCVBar{}}, &fakeLiquidationsRepo{}, &fakeSignalsRepo{})

	signals, err := m.Scan(context.Background(), []domain.Market{{ID: 1, Symbol: "BTCUSDT"}})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "obi_extreme", signals[0].SignalType)
}

func TestScanCVDDivergence_BearishDivergenceAcrossHalves(t *testing.T) {
	ohlcv := &fakeOHLCVRepo{byMarket: map[int64][]domain.OHLCVBar{}}
	metrics := newFakeMetricsRepo()
	now := time.Now()
	base := now.Add(-90 * time.Minute)

	// First half: price rises to 100 with CVD rising to 50.
	// Second half: price makes a higher high (102) but CVD falls (30) -
	// a textbook bearish divergence.
	points := []struct {
		offset time.Duration
		high   float64
		low    float64
		cvd    float64
	}{
		{0, 95, 90, 10},
		{time.Minute, 100, 94, 50},
		{45 * time.Minute, 98, 93, 40},
		{46 * time.Minute, 102, 96, 30},
	}
	for _, p := range points {
		ts := base.Add(p.offset)
		ohlcv.byMarket[1] = append(ohlcv.byMarket[1], domain.OHLCVBar{
			MarketID: 1, Time: ts, Timeframe: "1m",
			Open: decimal.NewFromFloat(p.low), High: decimal.NewFromFloat(p.high),
			Low: decimal.NewFromFloat(p.low), Close: decimal.NewFromFloat(p.high),
			Volume: decimal.NewFromInt(1),
		})
		metrics.seed(1, domain.MetricCVD, domain.MarketMetric{MarketID: 1, Time: ts, Kind: domain.MetricCVD, Value: dec(p.cvd)})
	}

	m := newTestMonitor(metrics, ohlcv, &fakeLiquidationsRepo{}, &fakeSignalsRepo{})
	signals, err := m.Scan(context.Background(), []domain.Market{{ID: 1, Symbol: "BTCUSDT"}})
	require.NoError(t, err)

	var sawBearish bool
	for _, s := range signals {
		if s.SignalType == "cvd_divergence_bearish" {
			sawBearish = true
			require.NotNil(t, s.Timeframe)
			assert.Equal(t, "1m", *s.Timeframe)
		}
	}
	assert.True(t, sawBearish, "expected a cvd_divergence_bearish signal")
}

func TestScan_EmptyMarketsProducesNoSignalsAndNoInsertCall(t *testing.T) {
	signalsRepo := &fakeSignalsRepo{}
	m := newTestMonitor(newFakeMetricsRepo(), &fakeOHLCVRepo{byMarket: map[int64][]domain.OHLCVBar{}}, &fakeLiquidationsRepo{}, signalsRepo)

	signals, err := m.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, signals)
	assert.Empty(t, signalsRepo.inserted)
}
