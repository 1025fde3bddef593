// Package orchestrator implements C7: it resolves each configured
// source to its connector, drives the fetch through the retry runner,
// validates the result and writes it to storage, recording metrics at
// every step. Grounded on orchestrator.py's CollectorOrchestrator:
// collect_ohlcv's resolve-since-fetch-validate-insert pipeline and
// run_collection_cycle/run_funding_rate_collection/
// run_open_interest_collection's per-item error isolation so one bad
// symbol never aborts the rest of a cycle.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sawpanic/mdcollector/internal/collector"
	"github.com/sawpanic/mdcollector/internal/config"
	"github.com/sawpanic/mdcollector/internal/connector"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/metrics"
	"github.com/sawpanic/mdcollector/internal/persistence"
	"github.com/sawpanic/mdcollector/internal/retry"
	"github.com/sawpanic/mdcollector/internal/validator"
)

// whaleFetchLimit caps how many transactions a single whale_* cycle
// pulls per chain.
const whaleFetchLimit = 50

// Orchestrator wires every collector concern (C2 connectors, C3
// persistence, C4 validation, C5 retry/rate-limit) into the
// collection cycles a scheduler drives.
type Orchestrator struct {
	ohlcvConnectors map[string]connector.OHLCVConnector // keyed by venue
	whaleConnectors map[string]connector.WhaleConnector  // keyed by blockchain (BTC, ETH, BSC, TRX)
	etf             connector.ETFFlowConnector
	calendar        connector.EconomicCalendarConnector

	repo      *persistence.Repository
	validator *validator.Validator
	runner    *retry.Runner
	metrics   *metrics.Registry
	log       zerolog.Logger

	marketMu  sync.Mutex
	marketIDs map[string]int64 // venue|symbol -> market id

	failureMu           sync.Mutex
	consecutiveFailures map[string]int // venue|symbol|timeframe -> streak
}

// New builds an Orchestrator.
func New(
	ohlcvConnectors map[string]connector.OHLCVConnector,
	whaleConnectors map[string]connector.WhaleConnector,
	etf connector.ETFFlowConnector,
	calendar connector.EconomicCalendarConnector,
	repo *persistence.Repository,
	v *validator.Validator,
	runner *retry.Runner,
	m *metrics.Registry,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		ohlcvConnectors: ohlcvConnectors,
		whaleConnectors: whaleConnectors,
		etf:             etf,
		calendar:        calendar,
		repo:            repo,
		validator:       v,
		runner:          runner,
		metrics:         m,
		log:             log,
		marketIDs:       make(map[string]int64),
		consecutiveFailures: make(map[string]int),
	}
}

// bumpConsecutiveFailures increments the failure streak for a
// venue/symbol/timeframe and publishes the new count, matching the
// requirement that a terminal fetch/insert failure increments the
// consecutive_failures gauge rather than leaving it pinned at 0.
func (o *Orchestrator) bumpConsecutiveFailures(venue, symbol, tf string) {
	key := venue + "|" + symbol + "|" + tf
	o.failureMu.Lock()
	o.consecutiveFailures[key]++
	count := o.consecutiveFailures[key]
	o.failureMu.Unlock()
	o.metrics.SetConsecutiveFailures(venue, symbol, tf, count)
}

// resetConsecutiveFailures zeroes the failure streak on a successful
// cycle for a venue/symbol/timeframe.
func (o *Orchestrator) resetConsecutiveFailures(venue, symbol, tf string) {
	key := venue + "|" + symbol + "|" + tf
	o.failureMu.Lock()
	o.consecutiveFailures[key] = 0
	o.failureMu.Unlock()
	o.metrics.SetConsecutiveFailures(venue, symbol, tf, 0)
}

// runnerFor scopes the shared retry.Runner to source's own retry
// policy, so MaxAttempts/BaseDelayMS/MaxDelayMS/Jitter parsed and
// validated from this source's config.RetryPolicy actually take
// effect, while rate limiting and circuit breaking stay keyed by venue
// (a venue's request budget is shared across every source hitting it).
// A zero-value RetryPolicy (a source that left "retry:" unset in its
// YAML) falls back to retry.DefaultPolicy(), matching
// applyDefaults' zero-value-fill behavior for every other policy.
func (o *Orchestrator) runnerFor(source config.CollectorSource) *retry.Runner {
	p := source.Retry
	if p.MaxAttempts == 0 && p.BaseDelayMS == 0 && p.MaxDelayMS == 0 && !p.Jitter {
		return o.runner
	}
	policy := retry.Policy{
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   time.Duration(p.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(p.MaxDelayMS) * time.Millisecond,
		Jitter:      p.Jitter,
	}
	return o.runner.WithPolicy(policy)
}

// RunCollectionCycle dispatches every enabled source to the cycle its
// kind implements, isolating each source's failure from the rest,
// matching run_collection_cycle's per-config try/except.
func (o *Orchestrator) RunCollectionCycle(ctx context.Context, name string, source config.CollectorSource) error {
	start := time.Now()
	var err error

	switch source.Kind {
	case config.SourceExchangeOHLCV:
		err = o.CollectOHLCV(ctx, source)
	case config.SourceFunding:
		err = o.CollectFundingRate(ctx, source)
	case config.SourceOpenInterest:
		err = o.CollectOpenInterest(ctx, source)
	case config.SourceWhaleBTC:
		err = o.CollectWhaleTransactions(ctx, "BTC", source)
	case config.SourceWhaleETH:
		err = o.CollectWhaleTransactions(ctx, "ETH", source)
	case config.SourceWhaleBSC:
		err = o.CollectWhaleTransactions(ctx, "BSC", source)
	case config.SourceWhaleTRX:
		err = o.CollectWhaleTransactions(ctx, "TRX", source)
	case config.SourceETFFlow:
		err = o.CollectETFFlows(ctx)
	case config.SourceEconomicCalendar:
		err = o.CollectEconomicCalendar(ctx)
	default:
		err = fmt.Errorf("unhandled source kind %q", source.Kind)
	}

	status := "success"
	if err != nil {
		status = "failure"
		o.log.Error().Err(err).Str("source", name).Str("kind", string(source.Kind)).Msg("collection cycle failed")
	}
	o.metrics.RecordSchedulerJobRun(name, status, time.Since(start).Seconds(), time.Now().Unix())
	return err
}

// RunAll runs every enabled source in cfg once, logging and continuing
// past any single source's failure so the cycle always completes.
func (o *Orchestrator) RunAll(ctx context.Context, cfg *config.CollectorConfig) {
	for name, source := range cfg.EnabledSources() {
		if err := ctx.Err(); err != nil {
			return
		}
		_ = o.RunCollectionCycle(ctx, name, source)
	}
}

// CollectOHLCV fetches and stores candles for every symbol/timeframe
// pair a source declares, isolating each pair's failure, grounded on
// collect_ohlcv.
func (o *Orchestrator) CollectOHLCV(ctx context.Context, source config.CollectorSource) error {
	conn, ok := o.ohlcvConnectors[source.Venue]
	if !ok {
		return fmt.Errorf("no OHLCV connector registered for venue %q", source.Venue)
	}

	for _, symbol := range source.Symbols {
		marketID, err := o.resolveMarket(ctx, conn, source.Venue, symbol)
		if err != nil {
			o.log.Error().Err(err).Str("venue", source.Venue).Str("symbol", symbol).Msg("resolve market failed")
			continue
		}
		for _, tf := range source.Timeframes {
			if err := o.collectOneOHLCV(ctx, conn, source, marketID, symbol, tf); err != nil {
				o.log.Error().Err(err).Str("venue", source.Venue).Str("symbol", symbol).Str("timeframe", tf).Msg("collect ohlcv failed")
			}
		}
	}
	return nil
}

func (o *Orchestrator) collectOneOHLCV(ctx context.Context, conn connector.OHLCVConnector, source config.CollectorSource, marketID int64, symbol, tf string) error {
	since, err := o.repo.OHLCV.LatestTime(ctx, marketID, tf)
	if err != nil {
		return fmt.Errorf("latest time: %w", err)
	}
	if since.IsZero() {
		since = time.Now().Add(-source.Cadence.Lookback())
	}

	start := time.Now()
	var bars []domain.OHLCVBar
	fetchErr := o.runnerFor(source).Do(ctx, source.Venue, func(ctx context.Context) error {
		b, ferr := conn.FetchOHLCV(ctx, symbol, tf, since)
		if ferr != nil {
			return ferr
		}
		bars = b
		return nil
	})
	o.recordFetch(source.Venue, "fetch_ohlcv", start, fetchErr)
	if fetchErr != nil {
		o.bumpConsecutiveFailures(source.Venue, symbol, tf)
		return fmt.Errorf("fetch ohlcv: %w", fetchErr)
	}
	if len(bars) == 0 {
		return nil
	}

	if err := o.validateAndInsertOHLCV(ctx, source, symbol, tf, bars); err != nil {
		o.bumpConsecutiveFailures(source.Venue, symbol, tf)
		return err
	}

	o.metrics.RecordCollected("ohlcv", source.Venue, symbol, tf, len(bars))
	o.metrics.SetLastSuccessfulCollection(source.Venue, symbol, tf, time.Now().Unix())
	o.resetConsecutiveFailures(source.Venue, symbol, tf)
	return nil
}

// validateAndInsertOHLCV runs the batch through the validator, bumping
// a validation-failure counter per issue type; a batch containing an
// error-level issue (out-of-order timestamps) is not written, matching
// the policy of skipping insert on invalid data rather than persisting
// a batch the validator flagged as broken.
func (o *Orchestrator) validateAndInsertOHLCV(ctx context.Context, source config.CollectorSource, symbol, tf string, bars []domain.OHLCVBar) error {
	result, err := o.validator.ValidateBatch(bars, tf)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	for _, issue := range result.Errors {
		o.metrics.RecordValidationFailure(source.Venue, symbol, string(issue.Type))
	}
	for _, issue := range result.Warnings {
		o.metrics.RecordValidationFailure(source.Venue, symbol, string(issue.Type))
	}

	total := result.TotalRecords
	missing := len(result.Warnings)
	quality := 100.0
	if total > 0 {
		quality = 100.0 * (1 - float64(len(result.Errors))/float64(total))
	}
	o.metrics.SetDataQuality(source.Venue, symbol, tf, quality, float64(missing)/float64(maxInt(total, 1)))

	if !result.Valid {
		o.log.Warn().Str("venue", source.Venue).Str("symbol", symbol).Str("timeframe", tf).Int("errors", len(result.Errors)).Msg("skipping insert: batch failed validation")
		return nil
	}

	if err := o.repo.OHLCV.InsertBatch(ctx, bars); err != nil {
		o.metrics.RecordDBWrite("ohlcv", "error")
		return fmt.Errorf("insert ohlcv batch: %w", err)
	}
	o.metrics.RecordDBWrite("ohlcv", "success")
	return nil
}

// CollectFundingRate fetches and stores the latest funding-rate
// reading for every symbol a funding source declares, grounded on
// run_funding_rate_collection's per-symbol isolation.
func (o *Orchestrator) CollectFundingRate(ctx context.Context, source config.CollectorSource) error {
	conn, ok := o.ohlcvConnectors[source.Venue]
	if !ok {
		return fmt.Errorf("no connector registered for venue %q", source.Venue)
	}

	for _, symbol := range source.Symbols {
		marketID, err := o.resolveMarket(ctx, conn, source.Venue, symbol)
		if err != nil {
			o.log.Error().Err(err).Str("venue", source.Venue).Str("symbol", symbol).Msg("resolve market failed")
			continue
		}

		start := time.Now()
		var metric *domain.MarketMetric
		fetchErr := o.runnerFor(source).Do(ctx, source.Venue, func(ctx context.Context) error {
			m, ferr := conn.FetchFundingRate(ctx, symbol)
			if ferr != nil {
				return ferr
			}
			metric = m
			return nil
		})
		o.recordFetch(source.Venue, "fetch_funding_rate", start, fetchErr)
		if fetchErr != nil {
			o.log.Error().Err(fetchErr).Str("venue", source.Venue).Str("symbol", symbol).Msg("fetch funding rate failed")
			continue
		}
		if metric == nil {
			continue
		}
		metric.MarketID = marketID
		metric.Kind = domain.MetricFundingRate

		if err := o.repo.Metrics.InsertBatch(ctx, []domain.MarketMetric{*metric}); err != nil {
			o.metrics.RecordDBWrite("metrics", "error")
			o.log.Error().Err(err).Str("venue", source.Venue).Str("symbol", symbol).Msg("insert funding rate failed")
			continue
		}
		o.metrics.RecordDBWrite("metrics", "success")
	}
	return nil
}

// CollectOpenInterest is CollectFundingRate's open-interest twin,
// grounded on run_open_interest_collection.
func (o *Orchestrator) CollectOpenInterest(ctx context.Context, source config.CollectorSource) error {
	conn, ok := o.ohlcvConnectors[source.Venue]
	if !ok {
		return fmt.Errorf("no connector registered for venue %q", source.Venue)
	}

	for _, symbol := range source.Symbols {
		marketID, err := o.resolveMarket(ctx, conn, source.Venue, symbol)
		if err != nil {
			o.log.Error().Err(err).Str("venue", source.Venue).Str("symbol", symbol).Msg("resolve market failed")
			continue
		}

		start := time.Now()
		var metric *domain.MarketMetric
		fetchErr := o.runnerFor(source).Do(ctx, source.Venue, func(ctx context.Context) error {
			m, ferr := conn.FetchOpenInterest(ctx, symbol)
			if ferr != nil {
				return ferr
			}
			metric = m
			return nil
		})
		o.recordFetch(source.Venue, "fetch_open_interest", start, fetchErr)
		if fetchErr != nil {
			o.log.Error().Err(fetchErr).Str("venue", source.Venue).Str("symbol", symbol).Msg("fetch open interest failed")
			continue
		}
		if metric == nil {
			continue
		}
		metric.MarketID = marketID
		metric.Kind = domain.MetricOpenInterest

		if err := o.repo.Metrics.InsertBatch(ctx, []domain.MarketMetric{*metric}); err != nil {
			o.metrics.RecordDBWrite("metrics", "error")
			o.log.Error().Err(err).Str("venue", source.Venue).Str("symbol", symbol).Msg("insert open interest failed")
			continue
		}
		o.metrics.RecordDBWrite("metrics", "success")
	}
	return nil
}

// CollectWhaleTransactions fetches recent large transfers for one
// blockchain and stores them, grounded on the whale trackers'
// enrich-then-persist flow (blockchain_base.py's run loop).
func (o *Orchestrator) CollectWhaleTransactions(ctx context.Context, chain string, source config.CollectorSource) error {
	conn, ok := o.whaleConnectors[chain]
	if !ok {
		return fmt.Errorf("no whale connector registered for chain %q", chain)
	}

	start := time.Now()
	var txs []domain.WhaleTransaction
	fetchErr := o.runnerFor(source).Do(ctx, source.Venue, func(ctx context.Context) error {
		t, ferr := conn.FetchRecentTransactions(ctx, time.Now().Add(-source.Cadence.Lookback()), whaleFetchLimit)
		if ferr != nil {
			return ferr
		}
		txs = t
		return nil
	})
	o.recordFetch(chain, "fetch_whale_transactions", start, fetchErr)
	if fetchErr != nil {
		return fmt.Errorf("fetch whale transactions: %w", fetchErr)
	}
	if len(txs) == 0 {
		return nil
	}

	inserted, err := o.repo.Whales.InsertBatch(ctx, txs)
	if err != nil {
		o.metrics.RecordDBWrite("whale_transactions", "error")
		return fmt.Errorf("insert whale transactions: %w", err)
	}
	o.metrics.RecordDBWrite("whale_transactions", "success")
	if inserted < len(txs) {
		o.log.Warn().Str("chain", chain).Int("inserted", inserted).Int("total", len(txs)).
			Msg("some whale transactions failed to insert")
	}
	return nil
}

// CollectETFFlows fetches and stores the latest spot ETF flow
// snapshot, grounded on farside_etf_collector.py's run_collection.
func (o *Orchestrator) CollectETFFlows(ctx context.Context) error {
	if o.etf == nil {
		return fmt.Errorf("no ETF flow connector configured")
	}

	start := time.Now()
	var rows []domain.GlobalIndicator
	fetchErr := o.runner.Do(ctx, "etf_flow", func(ctx context.Context) error {
		r, ferr := o.etf.FetchDailyFlows(ctx, time.Now())
		if ferr != nil {
			return ferr
		}
		rows = r
		return nil
	})
	o.recordFetch("etf_flow", "fetch_daily_flows", start, fetchErr)
	if fetchErr != nil {
		return fmt.Errorf("fetch etf flows: %w", fetchErr)
	}
	if len(rows) == 0 {
		return nil
	}

	if err := o.repo.Indicators.UpsertBatch(ctx, rows); err != nil {
		o.metrics.RecordDBWrite("indicators", "error")
		return fmt.Errorf("upsert etf flows: %w", err)
	}
	o.metrics.RecordDBWrite("indicators", "success")
	return nil
}

// CollectEconomicCalendar fetches and stores upcoming macro release
// events, grounded on fred_calendar_collector.py's generate_events.
func (o *Orchestrator) CollectEconomicCalendar(ctx context.Context) error {
	if o.calendar == nil {
		return fmt.Errorf("no economic calendar connector configured")
	}

	start := time.Now()
	var rows []domain.GlobalIndicator
	fetchErr := o.runner.Do(ctx, "economic_calendar", func(ctx context.Context) error {
		r, ferr := o.calendar.FetchUpcomingEvents(ctx, 90*24*time.Hour)
		if ferr != nil {
			return ferr
		}
		rows = r
		return nil
	})
	o.recordFetch("economic_calendar", "fetch_upcoming_events", start, fetchErr)
	if fetchErr != nil {
		return fmt.Errorf("fetch economic calendar: %w", fetchErr)
	}
	if len(rows) == 0 {
		return nil
	}

	if err := o.repo.Indicators.UpsertBatch(ctx, rows); err != nil {
		o.metrics.RecordDBWrite("indicators", "error")
		return fmt.Errorf("upsert economic calendar: %w", err)
	}
	o.metrics.RecordDBWrite("indicators", "success")
	return nil
}

// OHLCVConnector exposes the connector wired for venue so callers
// outside this package (the backfill command) can re-fetch candles for
// a stored market without duplicating the venue-to-connector wiring.
func (o *Orchestrator) OHLCVConnector(venue string) (connector.OHLCVConnector, bool) {
	conn, ok := o.ohlcvConnectors[venue]
	return conn, ok
}

// resolveMarket looks up a venue/symbol's market id, registering it on
// first sight by matching it against the connector's reported markets.
// Results are cached for the orchestrator's lifetime since a venue's
// symbol roster changes far less often than a collection cycle runs.
func (o *Orchestrator) resolveMarket(ctx context.Context, conn connector.OHLCVConnector, venue, symbol string) (int64, error) {
	key := venue + "|" + symbol

	o.marketMu.Lock()
	if id, ok := o.marketIDs[key]; ok {
		o.marketMu.Unlock()
		return id, nil
	}
	o.marketMu.Unlock()

	markets, err := conn.GetMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("get markets: %w", err)
	}

	var info *connector.MarketInfo
	for i := range markets {
		if markets[i].Symbol == symbol {
			info = &markets[i]
			break
		}
	}
	if info == nil {
		return 0, fmt.Errorf("symbol %q not offered by venue %q", symbol, venue)
	}

	id, err := o.repo.Markets.GetOrCreate(ctx, venue, info.Symbol, info.BaseAsset, info.QuoteAsset, info.MarketType)
	if err != nil {
		return 0, fmt.Errorf("get or create market: %w", err)
	}

	o.marketMu.Lock()
	o.marketIDs[key] = id
	o.marketMu.Unlock()
	return id, nil
}

// recordFetch bumps the API request/error counters and histogram for
// one upstream call, classifying a failure the same way the retry
// runner does so the two surfaces never disagree.
func (o *Orchestrator) recordFetch(venue, endpoint string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordAPIRequest(venue, endpoint, status, duration)
	if err != nil {
		o.metrics.RecordAPIError(venue, endpoint, string(collector.ClassifyError(err, 0)))
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
