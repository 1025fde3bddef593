package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

type liquidationsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLiquidationsRepo creates a PostgreSQL-backed LiquidationsRepo.
func NewLiquidationsRepo(db *sqlx.DB, timeout time.Duration) persistence.LiquidationsRepo {
	return &liquidationsRepo{db: db, timeout: timeout}
}

// InsertBatch does ON CONFLICT DO NOTHING on (time, exchange, symbol,
// side, price), the append-only dedup key the data model reserves for
// liquidation events.
func (r *liquidationsRepo) InsertBatch(ctx context.Context, liqs []domain.Liquidation) error {
	if len(liqs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(liqs)/200+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO liquidations (time, exchange, symbol, side, price, quantity, value_usd)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (time, exchange, symbol, side, price) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range liqs {
		if _, err := stmt.ExecContext(ctx, l.Time, l.Exchange, l.Symbol, l.Side, l.Price, l.Quantity, l.ValueUSD); err != nil {
			return fmt.Errorf("insert liquidation %s/%s at %s: %w", l.Exchange, l.Symbol, l.Time, err)
		}
	}

	return tx.Commit()
}

func (r *liquidationsRepo) Recent(ctx context.Context, symbols []string, window time.Duration) ([]domain.Liquidation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var liqs []domain.Liquidation
	err := r.db.SelectContext(ctx, &liqs, `
		SELECT time, exchange, symbol, side, price, quantity, value_usd
		FROM liquidations
		WHERE time > $1 AND symbol = ANY($2)
		ORDER BY time DESC`, time.Now().Add(-window), pq.Array(symbols))
	if err != nil {
		return nil, fmt.Errorf("recent liquidations: %w", err)
	}
	return liqs, nil
}
