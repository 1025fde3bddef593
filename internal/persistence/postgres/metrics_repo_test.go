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

func TestMetricsRepo_InsertBatch_SkipsNilValueRows(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	repo := NewMetricsRepo(db, time.Second, zerolog.Nop())

	value := decimal.NewFromFloat(0.0042)
	withValue := domain.MarketMetric{MarketID: 1, Time: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Kind: domain.MetricFundingRate, Value: &value}
	withoutValue := domain.MarketMetric{MarketID: 1, Time: time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC), Kind: domain.MetricFundingRate, Value: nil}

	mock.ExpectPrepare("INSERT INTO market_metrics")
	mock.ExpectExec("INSERT INTO market_metrics").
		WithArgs(withValue.MarketID, withValue.Time, withValue.Kind, withValue.Value).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.InsertBatch(context.Background(), []domain.MarketMetric{withValue, withoutValue})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// One row's insert failure is logged and skipped, not allowed to abort
// the rest of the batch.
func TestMetricsRepo_InsertBatch_OneBadRowDoesNotAbortTheRest(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	repo := NewMetricsRepo(db, time.Second, zerolog.Nop())

	v1 := decimal.NewFromFloat(1)
	v2 := decimal.NewFromFloat(2)
	bad := domain.MarketMetric{MarketID: 1, Time: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Kind: domain.MetricOpenInterest, Value: &v1}
	good := domain.MarketMetric{MarketID: 1, Time: time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC), Kind: domain.MetricOpenInterest, Value: &v2}

	mock.ExpectPrepare("INSERT INTO market_metrics")
	mock.ExpectExec("INSERT INTO market_metrics").
		WithArgs(bad.MarketID, bad.Time, bad.Kind, bad.Value).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectExec("INSERT INTO market_metrics").
		WithArgs(good.MarketID, good.Time, good.Kind, good.Value).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.InsertBatch(context.Background(), []domain.MarketMetric{bad, good})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsRepo_InsertBatch_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	repo := NewMetricsRepo(db, time.Second, zerolog.Nop())
	err := repo.InsertBatch(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
