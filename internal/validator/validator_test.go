package validator

import (
	"testing"
	"time"

	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(t time.Time, closeV, volume float64) domain.OHLCVBar {
	c := decimal.NewFromFloat(closeV)
	return domain.OHLCVBar{
		Time:   t,
		Open:   c,
		High:   c,
		Low:    c,
		Close:  c,
		Volume: decimal.NewFromFloat(volume),
	}
}

func TestValidateBatch_DetectsOutOfOrder(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []domain.OHLCVBar{
		bar(base, 100, 1),
		bar(base.Add(-time.Minute), 101, 1), // goes backwards
	}

	v := New(DefaultConfig())
	res, err := v.ValidateBatch(bars, "1m")
	require.NoError(t, err)

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, IssueOutOfOrderTimestamp, res.Errors[0].Type)
}

func TestValidateBatch_DetectsDuplicateTimestampAsOutOfOrder(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []domain.OHLCVBar{
		bar(base, 100, 1),
		bar(base, 100, 1), // same timestamp repeated
	}

	v := New(DefaultConfig())
	res, err := v.ValidateBatch(bars, "1m")
	require.NoError(t, err)

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
}

func TestValidateBatch_PriceJumpWarning(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []domain.OHLCVBar{
		bar(base, 100, 1),
		bar(base.Add(time.Minute), 130, 1), // 30% jump, threshold 10%
	}

	v := New(DefaultConfig())
	res, err := v.ValidateBatch(bars, "1m")
	require.NoError(t, err)

	assert.True(t, res.Valid) // warnings never invalidate
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, IssuePriceJump, res.Warnings[0].Type)
}

func TestValidateBatch_VolumeSpikeRequiresFullWindow(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []domain.OHLCVBar
	for i := 0; i < 19; i++ {
		bars = append(bars, bar(base.Add(time.Duration(i)*time.Minute), 100, 1))
	}
	// 19 samples is below the 20-sample window; a spike here must not fire.
	bars = append(bars, bar(base.Add(19*time.Minute), 100, 1000))

	v := New(DefaultConfig())
	res, err := v.ValidateBatch(bars, "1m")
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	// Adding one more sample completes the 20-sample window and the next
	// spike should now be detected.
	bars = append(bars, bar(base.Add(20*time.Minute), 100, 1000))
	res, err = v.ValidateBatch(bars, "1m")
	require.NoError(t, err)

	found := false
	for _, w := range res.Warnings {
		if w.Type == IssueVolumeSpike {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateBatch_MissingIntervalWarning(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []domain.OHLCVBar{
		bar(base, 100, 1),
		bar(base.Add(10*time.Minute), 100, 1), // 1m timeframe, 10m gap
	}

	v := New(DefaultConfig())
	res, err := v.ValidateBatch(bars, "1m")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, IssueMissingInterval, res.Warnings[0].Type)
}

func TestWarningsCapAtTenPerType(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []domain.OHLCVBar
	t0 := base
	for i := 0; i < 15; i++ {
		bars = append(bars, bar(t0, 100, 1))
		t0 = t0.Add(10 * time.Minute) // always triggers missing_interval on 1m tf
	}

	v := New(DefaultConfig())
	res, err := v.ValidateBatch(bars, "1m")
	require.NoError(t, err)

	count := 0
	for _, w := range res.Warnings {
		if w.Type == IssueMissingInterval {
			count++
		}
	}
	assert.LessOrEqual(t, count, 10)
}

func TestStreamAndBatchAgree(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []domain.OHLCVBar
	for i := 0; i < 30; i++ {
		v := 1.0
		if i == 25 {
			v = 1000
		}
		bars = append(bars, bar(base.Add(time.Duration(i)*time.Minute), 100+float64(i), v))
	}

	vdt := New(DefaultConfig())
	batchRes, err := vdt.ValidateBatch(bars, "1m")
	require.NoError(t, err)

	stream, err := vdt.NewStream("1m")
	require.NoError(t, err)
	for _, b := range bars {
		stream.Push(b)
	}
	streamRes := stream.Result()

	assert.Equal(t, batchRes.Valid, streamRes.Valid)
	assert.Equal(t, batchRes.TotalRecords, streamRes.TotalRecords)
	assert.Equal(t, len(batchRes.Errors), len(streamRes.Errors))
	assert.Equal(t, len(batchRes.Warnings), len(streamRes.Warnings))
}
