package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

type ohlcvRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	log     zerolog.Logger
}

// NewOHLCVRepo creates a PostgreSQL-backed OHLCVRepo.
func NewOHLCVRepo(db *sqlx.DB, timeout time.Duration, log zerolog.Logger) persistence.OHLCVRepo {
	return &ohlcvRepo{db: db, timeout: timeout, log: log}
}

// InsertBatch upserts on (market_id, time, timeframe), matching
// db_loader.py's insert_ohlcv_batch ON CONFLICT DO UPDATE semantics so a
// re-delivered bar overwrites rather than duplicates. Each row is its
// own statement rather than one shared transaction: a malformed bar
// logs and is skipped instead of rolling back every other bar already
// accepted in the batch.
func (r *ohlcvRepo) InsertBatch(ctx context.Context, bars []domain.OHLCVBar) error {
	if len(bars) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(bars)/200+1))
	defer cancel()

	stmt, err := r.db.PreparexContext(ctx, `
		INSERT INTO ohlcv (market_id, time, timeframe, open, high, low, close, volume, trade_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market_id, time, timeframe) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			trade_count = EXCLUDED.trade_count`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx, bar.MarketID, bar.Time, bar.Timeframe,
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.TradeCount); err != nil {
			r.log.Error().Err(err).Str("timeframe", bar.Timeframe).Time("time", bar.Time).
				Int64("market_id", bar.MarketID).Msg("upsert ohlcv bar failed, skipping row")
		}
	}

	return nil
}

func (r *ohlcvRepo) LatestTime(ctx context.Context, marketID int64, timeframe string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var t time.Time
	err := r.db.GetContext(ctx, &t, `
		SELECT COALESCE(MAX(time), to_timestamp(0)) FROM ohlcv
		WHERE market_id = $1 AND timeframe = $2`, marketID, timeframe)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest ohlcv time: %w", err)
	}
	if t.Equal(time.Unix(0, 0)) {
		return time.Time{}, nil
	}
	return t, nil
}

func (r *ohlcvRepo) Range(ctx context.Context, marketID int64, timeframe string, tr domain.TimeRange) ([]domain.OHLCVBar, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var bars []domain.OHLCVBar
	err := r.db.SelectContext(ctx, &bars, `
		SELECT market_id, time, timeframe, open, high, low, close, volume, trade_count
		FROM ohlcv
		WHERE market_id = $1 AND timeframe = $2 AND time >= $3 AND time < $4
		ORDER BY time ASC`, marketID, timeframe, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("range ohlcv: %w", err)
	}
	return bars, nil
}

// HasDataBetween checks each candidate bucket for an exact-match row,
// the Go equivalent of the check_missing_candles SQL function's
// per-bucket has_data boolean used by the backfill gap detector.
func (r *ohlcvRepo) HasDataBetween(ctx context.Context, marketID int64, timeframe string, buckets []time.Time) (map[time.Time]bool, error) {
	result := make(map[time.Time]bool, len(buckets))
	if len(buckets) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var present []time.Time
	err := r.db.SelectContext(ctx, &present, `
		SELECT time FROM ohlcv
		WHERE market_id = $1 AND timeframe = $2 AND time = ANY($3)`,
		marketID, timeframe, pq.Array(buckets))
	if err != nil {
		return nil, fmt.Errorf("has data between: %w", err)
	}

	have := make(map[time.Time]bool, len(present))
	for _, t := range present {
		have[t.UTC()] = true
	}
	for _, b := range buckets {
		result[b] = have[b.UTC()]
	}
	return result, nil
}
