package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFirstFridayOf_FindsCorrectDay(t *testing.T) {
	f := firstFridayOf(2025, time.August)
	assert.Equal(t, time.Friday, f.Weekday())
	assert.True(t, f.Day() <= 7)
}

func TestProjectReleaseDates_MonthlyClampsToMonthEnd(t *testing.T) {
	rule := releaseRule{SeriesID: "PCE", Frequency: "monthly", ReleaseDay: 31}
	now := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)

	dates := projectReleaseDates(rule, now, 31*24*time.Hour)
	assert.NotEmpty(t, dates)
	assert.Equal(t, 28, dates[0].Day())
}

func TestProjectReleaseDates_FirstFridaySkipsPastDates(t *testing.T) {
	rule := releaseRule{SeriesID: "PAYEMS", FirstFriday: true, Frequency: "monthly"}
	now := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	dates := projectReleaseDates(rule, now, 120*24*time.Hour)
	for _, d := range dates {
		assert.True(t, d.After(now))
		assert.Equal(t, time.Friday, d.Weekday())
	}
}

func TestQuarterLabel_WrapsToPreviousYearQ4(t *testing.T) {
	label := quarterLabel(time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "Q4 2024", label)
}
