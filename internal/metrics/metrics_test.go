package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RecordAndScrape(t *testing.T) {
	r := New()
	r.RecordAPIRequest("kraken", "fetch_ohlcv", "success", 0.125)
	r.RecordCollected("ohlcv", "kraken", "BTC/USD", "1h", 42)
	r.SetRunning(true)
	r.SetInfo("0.1.0", "collector")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "collector_api_requests_total")
	assert.Contains(t, body, "collector_ohlcv_collected_total")
	assert.Contains(t, body, "collector_running 1")
}

func TestRegistry_SchedulerJobRun_SetsCorrectTimestampGauge(t *testing.T) {
	r := New()
	r.RecordSchedulerJobRun("ohlcv_cycle", "success", 1.5, 1700000000)
	r.RecordSchedulerJobRun("ohlcv_cycle", "failure", 0.2, 1700000100)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `collector_scheduler_job_last_success_timestamp{job_id="ohlcv_cycle"} 1.7e`)
	assert.Contains(t, body, `collector_scheduler_job_last_failure_timestamp{job_id="ohlcv_cycle"} 1.70`)
}
