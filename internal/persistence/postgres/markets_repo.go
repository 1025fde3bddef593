package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

type marketsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMarketsRepo creates a PostgreSQL-backed MarketsRepo.
func NewMarketsRepo(db *sqlx.DB, timeout time.Duration) persistence.MarketsRepo {
	return &marketsRepo{db: db, timeout: timeout}
}

// GetOrCreate mirrors db_loader.py's get_market_id: look up the registry
// row first, and only fall back to inserting a new one on a miss, so
// repeated calls for the same venue/symbol never create duplicates.
func (r *marketsRepo) GetOrCreate(ctx context.Context, venue, symbol, baseAsset, quoteAsset, marketType string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id int64
	err := r.db.QueryRowxContext(ctx,
		`SELECT id FROM markets WHERE venue = $1 AND symbol = $2`,
		venue, symbol).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup market: %w", err)
	}

	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO markets (venue, symbol, base_asset, quote_asset, market_type, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (venue, symbol) DO UPDATE SET venue = EXCLUDED.venue
		RETURNING id`,
		venue, symbol, baseAsset, quoteAsset, marketType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert market: %w", err)
	}
	return id, nil
}

func (r *marketsRepo) Get(ctx context.Context, venue, symbol string) (*domain.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var m domain.Market
	err := r.db.GetContext(ctx, &m,
		`SELECT id, venue, symbol, base_asset, quote_asset, market_type, created_at
		 FROM markets WHERE venue = $1 AND symbol = $2`, venue, symbol)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get market: %w", err)
	}
	return &m, nil
}

func (r *marketsRepo) List(ctx context.Context, venue string) ([]domain.Market, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var query string
	var args []interface{}
	if venue == "" {
		query = `SELECT id, venue, symbol, base_asset, quote_asset, market_type, created_at FROM markets ORDER BY venue, symbol`
	} else {
		query = `SELECT id, venue, symbol, base_asset, quote_asset, market_type, created_at FROM markets WHERE venue = $1 ORDER BY symbol`
		args = append(args, venue)
	}

	var markets []domain.Market
	if err := r.db.SelectContext(ctx, &markets, query, args...); err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	return markets, nil
}
