// Package domain holds the shared data types moved between connectors,
// the validator, the persistence layer and the signal monitor.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeRange bounds a query by a half-open [From, To) window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Market identifies a tradeable instrument on a venue.
type Market struct {
	ID         int64     `db:"id"`
	Venue      string    `db:"venue"`
	Symbol     string    `db:"symbol"`
	BaseAsset  string    `db:"base_asset"`
	QuoteAsset string    `db:"quote_asset"`
	MarketType string    `db:"market_type"` // spot, perp, futures
	CreatedAt  time.Time `db:"created_at"`
}

// OHLCVBar is a single candle for a market/timeframe.
type OHLCVBar struct {
	MarketID  int64           `db:"market_id"`
	Time      time.Time       `db:"time"`
	Timeframe string          `db:"timeframe"`
	Open      decimal.Decimal `db:"open"`
	High      decimal.Decimal `db:"high"`
	Low       decimal.Decimal `db:"low"`
	Close     decimal.Decimal `db:"close"`
	Volume    decimal.Decimal `db:"volume"`
	TradeCount *int64         `db:"trade_count"`
}

// MetricKind enumerates the kinds of per-market derivative metrics.
type MetricKind string

const (
	MetricFundingRate  MetricKind = "funding_rate"
	MetricOpenInterest MetricKind = "open_interest"
	MetricOrderBook    MetricKind = "order_book"
	MetricOBI          MetricKind = "obi"
	MetricCVD          MetricKind = "cvd_delta"
)

// MarketMetric is a single timestamped derivative reading (funding rate,
// open interest, or order-book imbalance snapshot) for a market.
type MarketMetric struct {
	MarketID int64            `db:"market_id"`
	Time     time.Time        `db:"time"`
	Kind     MetricKind       `db:"kind"`
	Value    *decimal.Decimal `db:"value"` // nil means "not reported this tick"
}

// IndicatorKind enumerates global (non-market-scoped) indicators.
type IndicatorKind string

const (
	IndicatorFearGreed    IndicatorKind = "fear_greed"
	IndicatorETFFlow      IndicatorKind = "etf_flow"
	IndicatorMacroEvent   IndicatorKind = "macro_event"
)

// GlobalIndicator is a timestamped macro/sentiment data point not scoped
// to a single market.
type GlobalIndicator struct {
	ID       int64            `db:"id"`
	Kind     IndicatorKind    `db:"kind"`
	Time     time.Time        `db:"time"`
	Label    string           `db:"label"` // product code, event type, etc.
	Value    *decimal.Decimal `db:"value"`
	Metadata map[string]interface{} `db:"metadata"`
}

// TxDirection classifies a whale transaction relative to known exchange
// wallets.
type TxDirection string

const (
	DirectionInflow  TxDirection = "inflow"
	DirectionOutflow TxDirection = "outflow"
	DirectionNeutral TxDirection = "neutral"
)

// WhaleTransaction is a large on-chain transfer observed by a blockchain
// connector.
type WhaleTransaction struct {
	Blockchain      string          `db:"blockchain"`
	TxHash          string          `db:"tx_hash"`
	Timestamp       time.Time       `db:"timestamp"`
	BlockNumber     *int64          `db:"block_number"`
	FromAddress     string          `db:"from_address"`
	ToAddress       string          `db:"to_address"`
	Amount          decimal.Decimal `db:"amount"`
	AmountUSD       *decimal.Decimal `db:"amount_usd"`
	TokenSymbol     *string         `db:"token_symbol"`
	IsExchangeIn    bool            `db:"is_exchange_inflow"`
	IsExchangeOut   bool            `db:"is_exchange_outflow"`
	ExchangeName    *string         `db:"exchange_name"`
	Direction       TxDirection     `db:"direction"`
	IsWhale         bool            `db:"is_whale"`
	IsAnomaly       bool            `db:"is_anomaly"`
	GasUsed         *int64          `db:"gas_used"`
	GasPrice        *int64          `db:"gas_price"`
	TxFee           *decimal.Decimal `db:"tx_fee"`
}

// BackfillStatus is the lifecycle state of a BackfillTask.
type BackfillStatus string

const (
	BackfillPending   BackfillStatus = "pending"
	BackfillRunning   BackfillStatus = "running"
	BackfillCompleted BackfillStatus = "completed"
	BackfillFailed    BackfillStatus = "failed"
)

// BackfillTask represents one detected gap awaiting (re)collection.
type BackfillTask struct {
	ID          int64          `db:"id"`
	MarketID    int64          `db:"market_id"`
	DataType    string         `db:"data_type"` // ohlcv, funding_rate, open_interest
	Timeframe   *string        `db:"timeframe"`
	GapStart    time.Time      `db:"gap_start"`
	GapEnd      time.Time      `db:"gap_end"`
	Status      BackfillStatus `db:"status"`
	Priority    int            `db:"priority"`
	RetryCount  int            `db:"retry_count"`
	MaxRetries  int            `db:"max_retries"`
	LastError   *string        `db:"last_error"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	CompletedAt *time.Time     `db:"completed_at"`
}

// LiqSide is the side of a liquidated position.
type LiqSide string

const (
	LiqSideLong  LiqSide = "long"
	LiqSideShort LiqSide = "short"
)

// Liquidation is a single forced-close event reported by a venue,
// append-only with dedup key (time, exchange, symbol, side, price).
type Liquidation struct {
	Time      time.Time       `db:"time"`
	Exchange  string          `db:"exchange"`
	Symbol    string          `db:"symbol"`
	Side      LiqSide         `db:"side"`
	Price     decimal.Decimal `db:"price"`
	Quantity  decimal.Decimal `db:"quantity"`
	ValueUSD  decimal.Decimal `db:"value_usd"`
}

// SignalSeverity ranks a detected MarketSignal.
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// MarketSignal is a detector finding emitted by the signal monitor.
type MarketSignal struct {
	ID        int64                  `db:"id"`
	MarketID  int64                  `db:"market_id"`
	Timeframe *string                `db:"timeframe"`
	SignalType string                `db:"signal_type"`
	Severity  SignalSeverity         `db:"severity"`
	Time      time.Time              `db:"time"`
	Value     *decimal.Decimal       `db:"value"`
	Details   map[string]interface{} `db:"details"`
}

// SystemLog is an operational audit record written by collectors.
type SystemLog struct {
	ID        int64     `db:"id"`
	Time      time.Time `db:"time"`
	Component string    `db:"component"`
	Level     string    `db:"level"`
	Message   string    `db:"message"`
	Context   map[string]interface{} `db:"context"`
}
