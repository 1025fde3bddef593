// Package persistence defines the storage contract for the collector.
// Every market-data writer is idempotent: re-delivering the same record
// must leave the stored row unchanged rather than erroring or
// duplicating it. LogsRepo.Insert is the exception: each call appends.
package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/mdcollector/internal/domain"
)

// MarketsRepo resolves and registers tradeable markets.
type MarketsRepo interface {
	// GetOrCreate returns the market id for (venue, symbol), inserting a
	// registry row with the given assets and marketType on first sight.
	GetOrCreate(ctx context.Context, venue, symbol, baseAsset, quoteAsset, marketType string) (int64, error)

	// Get looks up an existing market by venue+symbol without creating one.
	Get(ctx context.Context, venue, symbol string) (*domain.Market, error)

	// List returns all registered markets, optionally filtered by venue.
	List(ctx context.Context, venue string) ([]domain.Market, error)
}

// OHLCVRepo persists and queries candle data.
type OHLCVRepo interface {
	// InsertBatch upserts candles keyed on (market_id, time, timeframe).
	// A later delivery of the same key overwrites the stored OHLCV values.
	InsertBatch(ctx context.Context, bars []domain.OHLCVBar) error

	// LatestTime returns the most recent bar time for a market/timeframe,
	// or the zero time if none exists yet.
	LatestTime(ctx context.Context, marketID int64, timeframe string) (time.Time, error)

	// Range returns bars for a market/timeframe ordered by time ascending.
	Range(ctx context.Context, marketID int64, timeframe string, tr domain.TimeRange) ([]domain.OHLCVBar, error)

	// HasDataBetween reports, for each bucket boundary in buckets, whether
	// at least one bar exists at that exact timestamp. Used by the
	// backfill scheduler's gap detector.
	HasDataBetween(ctx context.Context, marketID int64, timeframe string, buckets []time.Time) (map[time.Time]bool, error)
}

// MetricsRepo persists per-market derivative readings (funding rate, open
// interest, order-book imbalance).
type MetricsRepo interface {
	// InsertBatch upserts metric readings keyed on (market_id, time, kind).
	// Rows whose Value is nil are skipped rather than written, matching
	// the source system's null-means-not-reported convention.
	InsertBatch(ctx context.Context, metrics []domain.MarketMetric) error

	// LatestTime returns the most recent reading time for a market/kind.
	LatestTime(ctx context.Context, marketID int64, kind domain.MetricKind) (time.Time, error)

	// Range returns readings for a market/kind ordered by time ascending.
	Range(ctx context.Context, marketID int64, kind domain.MetricKind, tr domain.TimeRange) ([]domain.MarketMetric, error)
}

// IndicatorsRepo persists global (non-market-scoped) indicators: fear &
// greed index, ETF flows, macro economic events.
type IndicatorsRepo interface {
	// Upsert inserts or updates an indicator keyed on (kind, label, time).
	Upsert(ctx context.Context, ind domain.GlobalIndicator) error

	// UpsertBatch is the batch form of Upsert.
	UpsertBatch(ctx context.Context, inds []domain.GlobalIndicator) error

	// Range returns indicators of a kind within a time window.
	Range(ctx context.Context, kind domain.IndicatorKind, tr domain.TimeRange) ([]domain.GlobalIndicator, error)
}

// WhaleRepo persists on-chain whale transactions.
type WhaleRepo interface {
	// InsertBatch inserts transactions one row at a time: a row whose
	// insert fails is logged and skipped rather than aborting the rest
	// of the batch, matching upsert_whale_transactions' best-effort
	// semantics. It returns the count of rows successfully inserted and
	// a non-nil error only when the whole batch could not run (e.g. the
	// database is unreachable), not when individual rows failed.
	InsertBatch(ctx context.Context, txs []domain.WhaleTransaction) (int, error)

	// Range returns transactions for a blockchain within a time window.
	Range(ctx context.Context, blockchain string, tr domain.TimeRange) ([]domain.WhaleTransaction, error)
}

// BackfillRepo implements the backfill task state machine's storage.
type BackfillRepo interface {
	// Create inserts a new pending task and returns its id.
	Create(ctx context.Context, task domain.BackfillTask) (int64, error)

	// PendingTasks returns up to limit pending tasks for a data type,
	// ordered by priority descending then created_at ascending.
	PendingTasks(ctx context.Context, dataType string, limit int) ([]domain.BackfillTask, error)

	// MarkRunning transitions a task to running.
	MarkRunning(ctx context.Context, id int64) error

	// MarkCompleted transitions a task to completed.
	MarkCompleted(ctx context.Context, id int64) error

	// MarkFailed transitions a task to failed, recording the error and
	// incrementing retry_count. If retry_count would exceed max_retries
	// the task stays failed rather than being requeued.
	MarkFailed(ctx context.Context, id int64, errMsg string) error

	// RetryFailed resets up to maxTasks failed tasks (whose retry_count is
	// still below max_retries) back to pending.
	RetryFailed(ctx context.Context, maxTasks int) (int, error)

	// CleanupCompleted deletes completed tasks older than olderThan.
	CleanupCompleted(ctx context.Context, olderThan time.Time) (int, error)
}

// LiquidationsRepo persists venue-reported forced-close events.
type LiquidationsRepo interface {
	// InsertBatch appends liquidations, skipping any whose (time,
	// exchange, symbol, side, price) already exists.
	InsertBatch(ctx context.Context, liqs []domain.Liquidation) error

	// Recent returns liquidations for the given symbols observed within
	// the last window, newest first.
	Recent(ctx context.Context, symbols []string, window time.Duration) ([]domain.Liquidation, error)
}

// SignalsRepo persists signal monitor findings.
type SignalsRepo interface {
	// InsertBatch upserts signals keyed on (market_id, timeframe,
	// signal_type, time).
	InsertBatch(ctx context.Context, signals []domain.MarketSignal) error

	// Recent returns the most recent signals across all markets, newest
	// first, limited to limit rows.
	Recent(ctx context.Context, limit int) ([]domain.MarketSignal, error)
}

// LogsRepo persists operational audit records.
type LogsRepo interface {
	// Insert writes a single system log entry.
	Insert(ctx context.Context, log domain.SystemLog) error
}

// Repository aggregates every persistence interface the collector needs.
type Repository struct {
	Markets    MarketsRepo
	OHLCV      OHLCVRepo
	Metrics    MetricsRepo
	Indicators IndicatorsRepo
	Whales       WhaleRepo
	Backfill     BackfillRepo
	Liquidations LiquidationsRepo
	Signals      SignalsRepo
	Logs         LogsRepo
}

// HealthCheck summarizes persistence layer health for the /healthz
// endpoint.
type HealthCheck struct {
	Healthy        bool
	Errors         []string
	ConnectionPool map[string]int
	LastCheck      time.Time
	ResponseTimeMS int64
}

// RepositoryHealth exposes connectivity diagnostics independent of the
// domain-specific repos above.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
