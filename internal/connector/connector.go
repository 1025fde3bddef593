// Package connector defines the C2 contract every data source
// implements, grounded on orchestrator.py's use of its connector
// objects and the blockchain/ETF/calendar connectors under
// original_source/collector-py/src/connectors.
package connector

import (
	"context"
	"time"

	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/shopspring/decimal"
)

// MarketInfo describes a tradeable instrument as reported by a venue,
// prior to registration in the markets table.
type MarketInfo struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	MarketType string
}

// OHLCVConnector fetches candle and derivative data for a venue.
type OHLCVConnector interface {
	// Name identifies the venue for logging, metrics and rate limiting.
	Name() string

	// GetMarkets lists the instruments this connector can serve.
	GetMarkets(ctx context.Context) ([]MarketInfo, error)

	// FetchOHLCV returns bars for symbol/timeframe with time >= since,
	// ordered ascending by time.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time) ([]domain.OHLCVBar, error)

	// FetchFundingRate returns the latest funding rate reading for a
	// perpetual symbol, or nil (or a reading with a nil Value) if the
	// venue has none to report.
	FetchFundingRate(ctx context.Context, symbol string) (*domain.MarketMetric, error)

	// FetchOpenInterest returns the latest open interest reading for a
	// symbol, or nil (or a reading with a nil Value) if the venue has
	// none to report.
	FetchOpenInterest(ctx context.Context, symbol string) (*domain.MarketMetric, error)
}

// WhaleConnector watches a single blockchain for large transfers,
// grounded on connectors/blockchain_base.py's BlockchainConnector.
type WhaleConnector interface {
	// Blockchain names the chain this connector observes (BTC, ETH, BSC, TRX).
	Blockchain() string

	// FetchRecentTransactions returns transactions observed since the
	// given time. limit is passed to each upstream query, so a tracker
	// that merges several queries can return more than limit rows; the
	// order is connector-specific and not necessarily by time.
	FetchRecentTransactions(ctx context.Context, since time.Time, limit int) ([]domain.WhaleTransaction, error)

	// GetTransactionByHash looks up a single transaction's details.
	GetTransactionByHash(ctx context.Context, txHash string) (*domain.WhaleTransaction, error)

	// GetAddressBalance returns the native-asset balance held at address.
	GetAddressBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// ClassifyTransaction reports whether amount (of tokenSymbol, or the
	// chain's native asset if tokenSymbol is empty) clears the whale and
	// anomaly thresholds configured for this connector.
	ClassifyTransaction(amount decimal.Decimal, tokenSymbol string) (isWhale, isAnomaly bool)

	// GetUSDPrice returns the USD price of tokenSymbol (or the chain's
	// native asset if empty), used to enrich transactions lacking a
	// reported USD value.
	GetUSDPrice(ctx context.Context, tokenSymbol string) (decimal.Decimal, error)
}

// ETFFlowConnector fetches daily spot ETF flow data, grounded on
// connectors/farside_etf_collector.py.
type ETFFlowConnector interface {
	FetchDailyFlows(ctx context.Context, asOf time.Time) ([]domain.GlobalIndicator, error)
}

// EconomicCalendarConnector fetches upcoming macro release dates,
// grounded on connectors/fred_calendar_collector.py.
type EconomicCalendarConnector interface {
	FetchUpcomingEvents(ctx context.Context, window time.Duration) ([]domain.GlobalIndicator, error)
}
