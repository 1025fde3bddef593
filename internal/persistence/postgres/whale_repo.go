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

type whaleRepo struct {
	db      *sqlx.DB
	timeout time.Duration
	log     zerolog.Logger
}

// NewWhaleRepo creates a PostgreSQL-backed WhaleRepo.
func NewWhaleRepo(db *sqlx.DB, timeout time.Duration, log zerolog.Logger) persistence.WhaleRepo {
	return &whaleRepo{db: db, timeout: timeout, log: log}
}

// InsertBatch does ON CONFLICT DO NOTHING on (blockchain, tx_hash): a
// transaction hash is immutable once observed, matching db_loader.py's
// insert_liquidations_batch treatment of the same append-only shape.
// Rows are inserted one at a time rather than inside a single
// transaction: upsert_whale_transactions is best-effort per row, so one
// malformed transaction logs and is skipped instead of rolling back
// every other row already accepted in the batch.
func (r *whaleRepo) InsertBatch(ctx context.Context, txs []domain.WhaleTransaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(txs)/200+1))
	defer cancel()

	stmt, err := r.db.PreparexContext(ctx, `
		INSERT INTO whale_transactions (
			blockchain, tx_hash, timestamp, block_number, from_address, to_address,
			amount, amount_usd, token_symbol, is_exchange_inflow, is_exchange_outflow,
			exchange_name, direction, is_whale, is_anomaly, gas_used, gas_price, tx_fee)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (blockchain, tx_hash) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	succeeded := 0
	for _, w := range txs {
		if _, err := stmt.ExecContext(ctx,
			w.Blockchain, w.TxHash, w.Timestamp, w.BlockNumber, w.FromAddress, w.ToAddress,
			w.Amount, w.AmountUSD, w.TokenSymbol, w.IsExchangeIn, w.IsExchangeOut,
			w.ExchangeName, w.Direction, w.IsWhale, w.IsAnomaly, w.GasUsed, w.GasPrice, w.TxFee,
		); err != nil {
			r.log.Error().Err(err).Str("tx_hash", w.TxHash).Str("blockchain", w.Blockchain).
				Msg("insert whale tx failed, skipping row")
			continue
		}
		succeeded++
	}

	return succeeded, nil
}

func (r *whaleRepo) Range(ctx context.Context, blockchain string, tr domain.TimeRange) ([]domain.WhaleTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var txs []domain.WhaleTransaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT blockchain, tx_hash, timestamp, block_number, from_address, to_address,
			amount, amount_usd, token_symbol, is_exchange_inflow, is_exchange_outflow,
			exchange_name, direction, is_whale, is_anomaly, gas_used, gas_price, tx_fee
		FROM whale_transactions
		WHERE blockchain = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC`, blockchain, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("range whale transactions: %w", err)
	}
	return txs, nil
}
