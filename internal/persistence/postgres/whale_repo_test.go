package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestWhaleRepo_InsertBatch_ReturnsSuccessCount(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	repo := NewWhaleRepo(db, time.Second, zerolog.Nop())

	amountUSD := decimal.NewFromInt(500000)
	w := domain.WhaleTransaction{
		Blockchain: "BTC",
		TxHash:     "abc123",
		Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Amount:     decimal.NewFromInt(5),
		AmountUSD:  &amountUSD,
	}

	mock.ExpectPrepare("INSERT INTO whale_transactions")
	mock.ExpectExec("INSERT INTO whale_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.InsertBatch(context.Background(), []domain.WhaleTransaction{w})
	require.NoError(t, err)
	require.Equal(t, 1, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A row that fails to insert is logged and skipped, not treated as a
// reason to abort the rest of the batch or fail the call; it simply
// isn't counted in the returned success count.
func TestWhaleRepo_InsertBatch_SkipsFailedRowWithoutAborting(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	repo := NewWhaleRepo(db, time.Second, zerolog.Nop())

	bad := domain.WhaleTransaction{Blockchain: "BTC", TxHash: "bad", Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	good := domain.WhaleTransaction{Blockchain: "BTC", TxHash: "good", Timestamp: time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC)}

	mock.ExpectPrepare("INSERT INTO whale_transactions")
	mock.ExpectExec("INSERT INTO whale_transactions").
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectExec("INSERT INTO whale_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.InsertBatch(context.Background(), []domain.WhaleTransaction{bad, good})
	require.NoError(t, err)
	require.Equal(t, 1, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWhaleRepo_InsertBatch_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	repo := NewWhaleRepo(db, time.Second, zerolog.Nop())
	inserted, err := repo.InsertBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}
