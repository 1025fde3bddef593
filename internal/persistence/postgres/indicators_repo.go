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

type indicatorsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewIndicatorsRepo creates a PostgreSQL-backed IndicatorsRepo.
func NewIndicatorsRepo(db *sqlx.DB, timeout time.Duration) persistence.IndicatorsRepo {
	return &indicatorsRepo{db: db, timeout: timeout}
}

// Upsert keys on (kind, label, time) so a later ETF scrape correcting a
// prior day's flow overwrites rather than duplicating the row, matching
// farside_etf_collector.py treating each (product, date) as current truth.
func (r *indicatorsRepo) Upsert(ctx context.Context, ind domain.GlobalIndicator) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	metaJSON, err := json.Marshal(ind.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO global_indicators (kind, time, label, value, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, label, time) DO UPDATE SET
			value = EXCLUDED.value,
			metadata = EXCLUDED.metadata`,
		ind.Kind, ind.Time, ind.Label, ind.Value, metaJSON)
	if err != nil {
		return fmt.Errorf("upsert indicator %s/%s: %w", ind.Kind, ind.Label, err)
	}
	return nil
}

func (r *indicatorsRepo) UpsertBatch(ctx context.Context, inds []domain.GlobalIndicator) error {
	for _, ind := range inds {
		if err := r.Upsert(ctx, ind); err != nil {
			return err
		}
	}
	return nil
}

func (r *indicatorsRepo) Range(ctx context.Context, kind domain.IndicatorKind, tr domain.TimeRange) ([]domain.GlobalIndicator, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, kind, time, label, value, metadata FROM global_indicators
		WHERE kind = $1 AND time >= $2 AND time < $3
		ORDER BY time ASC`, kind, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("range indicators: %w", err)
	}
	defer rows.Close()

	var out []domain.GlobalIndicator
	for rows.Next() {
		var ind domain.GlobalIndicator
		var metaJSON []byte
		if err := rows.Scan(&ind.ID, &ind.Kind, &ind.Time, &ind.Label, &ind.Value, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan indicator: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ind.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}
