package whale

import (
	"testing"

	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDirection_InflowWhenOnlyDestinationIsExchange(t *testing.T) {
	exchanges := ExchangeAddresses{"0xExchange": "binance"}
	isIn, isOut, name, dir := Direction("0xUser", "0xExchange", exchanges)
	assert.True(t, isIn)
	assert.False(t, isOut)
	assert.Equal(t, "binance", name)
	assert.Equal(t, domain.DirectionInflow, dir)
}

func TestDirection_OutflowWhenOnlySourceIsExchange(t *testing.T) {
	exchanges := ExchangeAddresses{"0xExchange": "binance"}
	isIn, isOut, name, dir := Direction("0xExchange", "0xUser", exchanges)
	assert.False(t, isIn)
	assert.True(t, isOut)
	assert.Equal(t, "binance", name)
	assert.Equal(t, domain.DirectionOutflow, dir)
}

func TestDirection_NeutralWhenNeitherIsExchange(t *testing.T) {
	exchanges := ExchangeAddresses{"0xExchange": "binance"}
	isIn, isOut, name, dir := Direction("0xAlice", "0xBob", exchanges)
	assert.False(t, isIn)
	assert.False(t, isOut)
	assert.Empty(t, name)
	assert.Equal(t, domain.DirectionNeutral, dir)
}

func TestDirection_NeutralWhenBothAreExchanges(t *testing.T) {
	exchanges := ExchangeAddresses{"0xA": "binance", "0xB": "coinbase"}
	isIn, isOut, _, dir := Direction("0xA", "0xB", exchanges)
	assert.False(t, isIn)
	assert.False(t, isOut)
	assert.Equal(t, domain.DirectionNeutral, dir)
}

func TestDirection_CaseInsensitiveMatch(t *testing.T) {
	exchanges := ExchangeAddresses{"0xExchange": "binance"}
	isIn, _, _, _ := Direction("0xUser", "0XEXCHANGE", exchanges)
	assert.True(t, isIn)
}

func TestClassify_ThresholdsBothDirections(t *testing.T) {
	t1 := Thresholds{WhaleAmount: 50, AnomalyAmount: 1000}

	isWhale, isAnomaly := classify(decimal.NewFromFloat(25), t1)
	assert.False(t, isWhale)
	assert.False(t, isAnomaly)

	isWhale, isAnomaly = classify(decimal.NewFromFloat(50), t1)
	assert.True(t, isWhale)
	assert.False(t, isAnomaly)

	isWhale, isAnomaly = classify(decimal.NewFromFloat(1500), t1)
	assert.True(t, isWhale)
	assert.True(t, isAnomaly)
}
