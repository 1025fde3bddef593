package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

type metricsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	log     zerolog.Logger
}

// NewMetricsRepo creates a PostgreSQL-backed MetricsRepo.
func NewMetricsRepo(db *sqlx.DB, timeout time.Duration, log zerolog.Logger) persistence.MetricsRepo {
	return &metricsRepo{db: db, timeout: timeout, log: log}
}

// InsertBatch skips rows with a nil Value, matching db_loader.py's
// insert_funding_rate_batch/insert_open_interest_batch which drop rows
// whose reading is absent rather than writing a NULL placeholder. Each
// remaining row is its own statement rather than one shared
// transaction, so one bad reading logs and is skipped instead of
// rolling back every other reading already accepted in the batch.
func (r *metricsRepo) InsertBatch(ctx context.Context, metrics []domain.MarketMetric) error {
	writable := make([]domain.MarketMetric, 0, len(metrics))
	for _, m := range metrics {
		if m.Value != nil {
			writable = append(writable, m)
		}
	}
	if len(writable) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(writable)/200+1))
	defer cancel()

	stmt, err := r.db.PreparexContext(ctx, `
		INSERT INTO market_metrics (market_id, time, kind, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id, time, kind) DO UPDATE SET value = EXCLUDED.value`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range writable {
		if _, err := stmt.ExecContext(ctx, m.MarketID, m.Time, m.Kind, m.Value); err != nil {
			r.log.Error().Err(err).Str("kind", string(m.Kind)).Time("time", m.Time).
				Int64("market_id", m.MarketID).Msg("upsert market metric failed, skipping row")
		}
	}

	return nil
}

func (r *metricsRepo) LatestTime(ctx context.Context, marketID int64, kind domain.MetricKind) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var t time.Time
	err := r.db.GetContext(ctx, &t, `
		SELECT COALESCE(MAX(time), to_timestamp(0)) FROM market_metrics
		WHERE market_id = $1 AND kind = $2`, marketID, kind)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest metric time: %w", err)
	}
	return t, nil
}

func (r *metricsRepo) Range(ctx context.Context, marketID int64, kind domain.MetricKind, tr domain.TimeRange) ([]domain.MarketMetric, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var metrics []domain.MarketMetric
	err := r.db.SelectContext(ctx, &metrics, `
		SELECT market_id, time, kind, value FROM market_metrics
		WHERE market_id = $1 AND kind = $2 AND time >= $3 AND time < $4
		ORDER BY time ASC`, marketID, kind, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("range metrics: %w", err)
	}
	return metrics, nil
}
