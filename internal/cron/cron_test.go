package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatches_WildcardAlwaysMatches(t *testing.T) {
	assert.True(t, Matches("* * * * *", time.Now()))
}

func TestMatches_StepMatchesEveryNthMinute(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 20, 0, 0, time.UTC)
	assert.True(t, Matches("*/10 * * * *", now))

	now = now.Add(5 * time.Minute) // :25
	assert.False(t, Matches("*/10 * * * *", now))
}

func TestMatches_RangeAndList(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	assert.True(t, Matches("0 8-17 * * *", now))
	assert.True(t, Matches("0 1,9,17 * * *", now))
	assert.False(t, Matches("0 1,10,17 * * *", now))
}

func TestMatches_DayOfWeekSundayBothSpellings(t *testing.T) {
	sunday := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC) // a Sunday
	assert.True(t, Matches("* * * * 0", sunday))
	assert.True(t, Matches("* * * * 7", sunday))
}

func TestMatches_DayOfWeekRangeMondayFriday(t *testing.T) {
	monday := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	saturday := time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)
	assert.True(t, Matches("* * * * 1-5", monday))
	assert.False(t, Matches("* * * * 1-5", saturday))
}

func TestMatches_NamedWeekdayRange(t *testing.T) {
	monday := time.Date(2025, 1, 6, 0, 5, 0, 0, time.UTC)
	saturday := time.Date(2025, 1, 11, 0, 5, 0, 0, time.UTC)
	assert.True(t, Matches("5 */6 * * mon-fri", monday))
	assert.False(t, Matches("5 */6 * * mon-fri", saturday))
}

func TestMatches_NamedMonthList(t *testing.T) {
	july := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	august := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, Matches("0 0 1 jan,jul * ", july))
	assert.False(t, Matches("0 0 1 jan,jul * ", august))
}

func TestMatches_MalformedExpressionFailsOpen(t *testing.T) {
	assert.True(t, Matches("not a cron expr", time.Now()))
}

func TestMatches_InvalidStepReturnsFalse(t *testing.T) {
	assert.False(t, Matches("*/0 * * * *", time.Now()))
	assert.False(t, Matches("*/x * * * *", time.Now()))
}
