package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

// Monitor runs the detector suite over data C3 already holds and
// writes whatever it finds back through SignalsRepo, grounded on
// SignalMonitor.scan.
type Monitor struct {
	repo *persistence.Repository
	cfg  Config
	log  zerolog.Logger
}

// New builds a Monitor from cfg, filling zero-valued fields with
// DefaultConfig's values.
func New(repo *persistence.Repository, cfg Config, log zerolog.Logger) *Monitor {
	d := DefaultConfig()
	if cfg.FundingHigh == 0 {
		cfg.FundingHigh = d.FundingHigh
	}
	if cfg.FundingLow == 0 {
		cfg.FundingLow = d.FundingLow
	}
	if cfg.OISpikePct == 0 {
		cfg.OISpikePct = d.OISpikePct
	}
	if cfg.OISpikeMaxGap == 0 {
		cfg.OISpikeMaxGap = d.OISpikeMaxGap
	}
	if cfg.LiquidationUSD == 0 {
		cfg.LiquidationUSD = d.LiquidationUSD
	}
	if cfg.LiquidationWindow == 0 {
		cfg.LiquidationWindow = d.LiquidationWindow
	}
	if cfg.LiquidationClusterUSD == 0 {
		cfg.LiquidationClusterUSD = d.LiquidationClusterUSD
	}
	if cfg.LiquidationClusterWindow == 0 {
		cfg.LiquidationClusterWindow = d.LiquidationClusterWindow
	}
	if cfg.OBIExtreme == 0 {
		cfg.OBIExtreme = d.OBIExtreme
	}
	if cfg.OBIWindow == 0 {
		cfg.OBIWindow = d.OBIWindow
	}
	if cfg.CVDHysteresis == 0 {
		cfg.CVDHysteresis = d.CVDHysteresis
	}
	return &Monitor{repo: repo, cfg: cfg, log: log}
}

// Scan runs every detector across markets and persists whatever they
// find in one batch, matching scan's single insert_market_signals
// call at the end of a pass. Each detector isolates its own per-market
// failures so one bad lookup never blanks the rest of the scan.
func (m *Monitor) Scan(ctx context.Context, markets []domain.Market) ([]domain.MarketSignal, error) {
	now := time.Now()
	var signals []domain.MarketSignal

	signals = append(signals, m.scanFundingExtremes(ctx, markets, now)...)
	signals = append(signals, m.scanOISpikes(ctx, markets, now)...)
	signals = append(signals, m.scanLiquidations(ctx, markets, now)...)
	signals = append(signals, m.scanOBIExtremes(ctx, markets, now)...)
	signals = append(signals, m.scanCVDDivergence(ctx, markets, now)...)

	if len(signals) == 0 {
		return nil, nil
	}
	if err := m.repo.Signals.InsertBatch(ctx, signals); err != nil {
		return nil, fmt.Errorf("insert signals: %w", err)
	}
	return signals, nil
}

// scanFundingExtremes flags the latest funding rate reading outside
// [FundingLow, FundingHigh], grounded on _scan_funding_rates.
func (m *Monitor) scanFundingExtremes(ctx context.Context, markets []domain.Market, now time.Time) []domain.MarketSignal {
	var out []domain.MarketSignal
	for _, mkt := range markets {
		readings, err := m.repo.Metrics.Range(ctx, mkt.ID, domain.MetricFundingRate, domain.TimeRange{From: now.Add(-time.Hour), To: now})
		if err != nil {
			m.log.Error().Err(err).Str("symbol", mkt.Symbol).Msg("scan funding extremes: range failed")
			continue
		}
		if len(readings) == 0 {
			continue
		}
		latest := readings[len(readings)-1]
		if latest.Value == nil {
			continue
		}
		rate, _ := latest.Value.Float64()
		if rate < m.cfg.FundingHigh && rate > m.cfg.FundingLow {
			continue
		}
		severity := domain.SeverityWarning
		if rate >= m.cfg.FundingHigh*2 || rate <= m.cfg.FundingLow*2 {
			severity = domain.SeverityCritical
		}
		out = append(out, domain.MarketSignal{
			MarketID:   mkt.ID,
			SignalType: "extreme_funding",
			Severity:   severity,
			Time:       latest.Time,
			Value:      latest.Value,
			Details:    map[string]interface{}{"rate": rate, "symbol": mkt.Symbol},
		})
	}
	return out
}

// scanOISpikes flags consecutive open-interest readings whose relative
// change exceeds OISpikePct, as long as the two samples are no more
// than OISpikeMaxGap apart, grounded on _scan_oi_spikes's LAG window
// function and its 70-minute gap guard.
func (m *Monitor) scanOISpikes(ctx context.Context, markets []domain.Market, now time.Time) []domain.MarketSignal {
	var out []domain.MarketSignal
	for _, mkt := range markets {
		readings, err := m.repo.Metrics.Range(ctx, mkt.ID, domain.MetricOpenInterest, domain.TimeRange{From: now.Add(-2 * time.Hour), To: now})
		if err != nil {
			m.log.Error().Err(err).Str("symbol", mkt.Symbol).Msg("scan oi spikes: range failed")
			continue
		}
		for i := 1; i < len(readings); i++ {
			prev, cur := readings[i-1], readings[i]
			if prev.Value == nil || cur.Value == nil {
				continue
			}
			if cur.Time.Sub(prev.Time) > m.cfg.OISpikeMaxGap {
				continue
			}
			prevOI, _ := prev.Value.Float64()
			curOI, _ := cur.Value.Float64()
			if prevOI == 0 {
				continue
			}
			pct := (curOI - prevOI) / prevOI
			absPct := pct
			if absPct < 0 {
				absPct = -absPct
			}
			if absPct <= m.cfg.OISpikePct {
				continue
			}
			out = append(out, domain.MarketSignal{
				MarketID:   mkt.ID,
				SignalType: "oi_spike",
				Severity:   domain.SeverityWarning,
				Time:       cur.Time,
				Value:      decimalPtr(pct),
				Details:    map[string]interface{}{"previous_oi": prevOI, "current_oi": curOI, "change_pct": pct, "symbol": mkt.Symbol},
			})
		}
	}
	return out
}

// scanLiquidations covers both single-event and clustered liquidation
// detectors, grounded on _scan_liquidations's two queries. A single
// liquidation at or above LiquidationUSD is a whale_liquidation; the
// sum of same-symbol-and-side liquidations within a
// LiquidationClusterWindow bucket at or above LiquidationClusterUSD is
// a liquidation_cluster.
func (m *Monitor) scanLiquidations(ctx context.Context, markets []domain.Market, now time.Time) []domain.MarketSignal {
	symbolToMarket := make(map[string]domain.Market, len(markets))
	symbols := make([]string, 0, len(markets))
	for _, mkt := range markets {
		symbolToMarket[mkt.Symbol] = mkt
		symbols = append(symbols, mkt.Symbol)
	}
	if len(symbols) == 0 {
		return nil
	}

	window := m.cfg.LiquidationWindow
	if m.cfg.LiquidationClusterWindow > window {
		window = m.cfg.LiquidationClusterWindow
	}
	liqs, err := m.repo.Liquidations.Recent(ctx, symbols, window)
	if err != nil {
		m.log.Error().Err(err).Msg("scan liquidations: recent failed")
		return nil
	}

	var out []domain.MarketSignal
	cutoff := now.Add(-m.cfg.LiquidationWindow)
	type bucketKey struct {
		symbol string
		side   domain.LiqSide
		bucket int64
	}
	clusters := make(map[bucketKey]decimal.Decimal)
	clusterLatest := make(map[bucketKey]time.Time)

	for _, l := range liqs {
		mkt, ok := symbolToMarket[l.Symbol]
		if !ok {
			continue
		}
		valueUSD, _ := l.ValueUSD.Float64()
		if !l.Time.Before(cutoff) && valueUSD >= m.cfg.LiquidationUSD {
			out = append(out, domain.MarketSignal{
				MarketID:   mkt.ID,
				SignalType: "whale_liquidation",
				Severity:   domain.SeverityWarning,
				Time:       l.Time,
				Value:      decimalPtr(valueUSD),
				Details:    map[string]interface{}{"symbol": l.Symbol, "side": l.Side, "exchange": l.Exchange, "price": l.Price.String()},
			})
		}

		bucket := l.Time.Truncate(m.cfg.LiquidationClusterWindow).Unix()
		key := bucketKey{symbol: l.Symbol, side: l.Side, bucket: bucket}
		clusters[key] = clusters[key].Add(l.ValueUSD)
		if l.Time.After(clusterLatest[key]) {
			clusterLatest[key] = l.Time
		}
	}

	for key, sum := range clusters {
		sumF, _ := sum.Float64()
		if sumF < m.cfg.LiquidationClusterUSD {
			continue
		}
		mkt, ok := symbolToMarket[key.symbol]
		if !ok {
			continue
		}
		out = append(out, domain.MarketSignal{
			MarketID:   mkt.ID,
			SignalType: "liquidation_cluster",
			Severity:   domain.SeverityCritical,
			Time:       clusterLatest[key],
			Value:      decimalPtr(sumF),
			Details:    map[string]interface{}{"symbol": key.symbol, "side": key.side, "window_seconds": m.cfg.LiquidationClusterWindow.Seconds()},
		})
	}
	return out
}

// scanOBIExtremes flags an order-book imbalance reading whose
// magnitude is at or above OBIExtreme, no older than OBIWindow,
// grounded on _scan_obi_extremes's DISTINCT ON latest-per-symbol query.
func (m *Monitor) scanOBIExtremes(ctx context.Context, markets []domain.Market, now time.Time) []domain.MarketSignal {
	var out []domain.MarketSignal
	for _, mkt := range markets {
		readings, err := m.repo.Metrics.Range(ctx, mkt.ID, domain.MetricOBI, domain.TimeRange{From: now.Add(-m.cfg.OBIWindow), To: now})
		if err != nil {
			m.log.Error().Err(err).Str("symbol", mkt.Symbol).Msg("scan obi extremes: range failed")
			continue
		}
		if len(readings) == 0 {
			continue
		}
		latest := readings[len(readings)-1]
		if latest.Value == nil {
			continue
		}
		obi, _ := latest.Value.Float64()
		absOBI := obi
		if absOBI < 0 {
			absOBI = -absOBI
		}
		if absOBI < m.cfg.OBIExtreme {
			continue
		}
		out = append(out, domain.MarketSignal{
			MarketID:   mkt.ID,
			SignalType: "obi_extreme",
			Severity:   domain.SeverityWarning,
			Time:       latest.Time,
			Value:      latest.Value,
			Details:    map[string]interface{}{"obi": obi, "symbol": mkt.Symbol},
		})
	}
	return out
}

// cvdPoint pairs a bar's price extremes with the cumulative CVD
// reading recorded at the same time.
type cvdPoint struct {
	Time time.Time
	High float64
	Low  float64
	CVD  float64
}

// scanCVDDivergence compares the first and second half of each
// configured timeframe's lookback window for price/CVD divergence
// with a hysteresis band, grounded on _scan_cvd_divergence_mtf.
func (m *Monitor) scanCVDDivergence(ctx context.Context, markets []domain.Market, now time.Time) []domain.MarketSignal {
	var out []domain.MarketSignal
	for _, mkt := range markets {
		for _, ctf := range cvdTimeframes {
			points, err := m.cvdSeries(ctx, mkt.ID, ctf.Timeframe, now.Add(-ctf.Lookback), now)
			if err != nil {
				m.log.Error().Err(err).Str("symbol", mkt.Symbol).Str("timeframe", ctf.Timeframe).Msg("scan cvd divergence: series failed")
				continue
			}
			if len(points) < 4 {
				continue
			}
			mid := len(points) / 2
			first, second := points[:mid], points[mid:]
			h1, l1 := extremes(first)
			h2, l2 := extremes(second)

			if h2.High > h1.High*(1+m.cfg.CVDHysteresis) && h2.CVD < h1.CVD {
				tf := ctf.Timeframe
				out = append(out, domain.MarketSignal{
					MarketID:   mkt.ID,
					Timeframe:  &tf,
					SignalType: "cvd_divergence_bearish",
					Severity:   domain.SeverityWarning,
					Time:       h2.Time,
					Value:      decimalPtr(h2.CVD - h1.CVD),
					Details:    map[string]interface{}{"symbol": mkt.Symbol, "price_high_1": h1.High, "price_high_2": h2.High, "cvd_1": h1.CVD, "cvd_2": h2.CVD},
				})
			}
			if l2.Low < l1.Low*(1-m.cfg.CVDHysteresis) && l2.CVD > l1.CVD {
				tf := ctf.Timeframe
				out = append(out, domain.MarketSignal{
					MarketID:   mkt.ID,
					Timeframe:  &tf,
					SignalType: "cvd_divergence_bullish",
					Severity:   domain.SeverityWarning,
					Time:       l2.Time,
					Value:      decimalPtr(l2.CVD - l1.CVD),
					Details:    map[string]interface{}{"symbol": mkt.Symbol, "price_low_1": l1.Low, "price_low_2": l2.Low, "cvd_1": l1.CVD, "cvd_2": l2.CVD},
				})
			}
		}
	}
	return out
}

// cvdSeries merges stored bars and CVD readings by exact timestamp
// match, ascending by time. A bar without a matching CVD reading (or
// vice versa) contributes no point.
func (m *Monitor) cvdSeries(ctx context.Context, marketID int64, tf string, from, to time.Time) ([]cvdPoint, error) {
	bars, err := m.repo.OHLCV.Range(ctx, marketID, tf, domain.TimeRange{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("ohlcv range: %w", err)
	}
	if len(bars) == 0 {
		return nil, nil
	}
	cvd, err := m.repo.Metrics.Range(ctx, marketID, domain.MetricCVD, domain.TimeRange{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("cvd range: %w", err)
	}

	cvdByTime := make(map[int64]float64, len(cvd))
	for _, c := range cvd {
		if c.Value == nil {
			continue
		}
		v, _ := c.Value.Float64()
		cvdByTime[c.Time.Unix()] = v
	}

	points := make([]cvdPoint, 0, len(bars))
	for _, b := range bars {
		v, ok := cvdByTime[b.Time.Unix()]
		if !ok {
			continue
		}
		high, _ := b.High.Float64()
		low, _ := b.Low.Float64()
		points = append(points, cvdPoint{Time: b.Time, High: high, Low: low, CVD: v})
	}
	return points, nil
}

// extremes returns the point with the highest High and the point with
// the lowest Low in points. points must be non-empty.
func extremes(points []cvdPoint) (highest, lowest cvdPoint) {
	highest, lowest = points[0], points[0]
	for _, p := range points[1:] {
		if p.High > highest.High {
			highest = p
		}
		if p.Low < lowest.Low {
			lowest = p
		}
	}
	return highest, lowest
}

func decimalPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}
