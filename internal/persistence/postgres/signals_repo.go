package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

type signalsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSignalsRepo creates a PostgreSQL-backed SignalsRepo, grounded on
// signal_monitor.py's insert_market_signals.
func NewSignalsRepo(db *sqlx.DB, timeout time.Duration) persistence.SignalsRepo {
	return &signalsRepo{db: db, timeout: timeout}
}

func (r *signalsRepo) InsertBatch(ctx context.Context, signals []domain.MarketSignal) error {
	if len(signals) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(signals)/200+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO market_signals (market_id, timeframe, signal_type, severity, time, value, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (market_id, timeframe, signal_type, time) DO UPDATE SET
			severity = EXCLUDED.severity,
			value = EXCLUDED.value,
			details = EXCLUDED.details`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range signals {
		detailsJSON, err := json.Marshal(s.Details)
		if err != nil {
			return fmt.Errorf("marshal signal details: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, s.MarketID, s.Timeframe, s.SignalType, s.Severity, s.Time, s.Value, detailsJSON); err != nil {
			return fmt.Errorf("upsert signal %s: %w", s.SignalType, err)
		}
	}

	return tx.Commit()
}

func (r *signalsRepo) Recent(ctx context.Context, limit int) ([]domain.MarketSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, market_id, timeframe, signal_type, severity, time, value, details
		FROM market_signals
		ORDER BY time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketSignal
	for rows.Next() {
		var s domain.MarketSignal
		var detailsJSON []byte
		if err := rows.Scan(&s.ID, &s.MarketID, &s.Timeframe, &s.SignalType, &s.Severity, &s.Time, &s.Value, &detailsJSON); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &s.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
