package persistence

import (
	"testing"
	"time"

	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestTimeRange_HalfOpen(t *testing.T) {
	tr := domain.TimeRange{
		From: time.Date(2025, 9, 7, 10, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 9, 7, 11, 0, 0, 0, time.UTC),
	}
	assert.True(t, tr.To.After(tr.From))
}

func TestHealthCheck_Structure(t *testing.T) {
	hc := HealthCheck{
		Healthy:        true,
		ConnectionPool: map[string]int{"active": 2, "idle": 8, "max": 10},
		LastCheck:      time.Now(),
		ResponseTimeMS: 12,
	}

	assert.True(t, hc.Healthy)
	assert.Empty(t, hc.Errors)
	assert.Contains(t, hc.ConnectionPool, "max")
}
