// Package metrics implements the C10 Prometheus metrics surface,
// grounded on internal/interfaces/http/metrics.go's MetricsRegistry
// (one struct field per metric, built and prometheus.MustRegister'd in
// the constructor, exposed via promhttp.Handler). Names and label sets
// are a stable contract: downstream dashboards depend on both.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the collector exposes on its pull
// endpoint.
type Registry struct {
	registry *prometheus.Registry

	OHLCVCollected       *prometheus.CounterVec
	TradesCollected      *prometheus.CounterVec
	OrderbooksCollected  *prometheus.CounterVec

	APIRequestsTotal   *prometheus.CounterVec
	APIErrorsTotal     *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	ValidationFailuresTotal *prometheus.CounterVec
	DataQualityScore        *prometheus.GaugeVec
	DataMissingRate          *prometheus.GaugeVec

	BackfillTasksPending        prometheus.Gauge
	BackfillTasksCompletedTotal *prometheus.CounterVec

	ConsecutiveFailures               *prometheus.GaugeVec
	LastSuccessfulCollectionTimestamp *prometheus.GaugeVec

	SchedulerJobRunsTotal          *prometheus.CounterVec
	SchedulerJobDuration           *prometheus.HistogramVec
	SchedulerJobLastSuccessTimestamp *prometheus.GaugeVec
	SchedulerJobLastFailureTimestamp *prometheus.GaugeVec

	DBWritesTotal          *prometheus.CounterVec
	DBPoolConnections      *prometheus.GaugeVec
	DBPoolUsageRate        prometheus.Gauge
	DBPoolTotalConnections prometheus.Gauge

	Running prometheus.Gauge
	Info    *prometheus.GaugeVec

	ETFUnknownProductsTotal prometheus.Counter
}

// New builds a Registry, registering every metric against its own
// prometheus.Registry (test isolation; no global registration state
// shared across Registry instances).
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		OHLCVCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_ohlcv_collected_total",
			Help: "Total OHLCV candles collected",
		}, []string{"exchange", "symbol", "timeframe"}),

		TradesCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_trades_collected_total",
			Help: "Total trades collected",
		}, []string{"exchange", "symbol"}),

		OrderbooksCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_orderbook_snapshots_collected_total",
			Help: "Total order book snapshots collected",
		}, []string{"exchange", "symbol"}),

		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_api_requests_total",
			Help: "Total upstream API requests",
		}, []string{"exchange", "endpoint", "status"}),

		APIErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_api_errors_total",
			Help: "Total upstream API errors by classified type",
		}, []string{"exchange", "endpoint", "error_type"}),

		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_api_request_duration_seconds",
			Help:    "Upstream API request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"exchange", "endpoint"}),

		ValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_validation_failures_total",
			Help: "Total validation failures by type",
		}, []string{"exchange", "symbol", "validation_type"}),

		DataQualityScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_data_quality_score",
			Help: "Data quality score, 0-100",
		}, []string{"exchange", "symbol", "timeframe"}),

		DataMissingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_data_missing_rate",
			Help: "Fraction of expected buckets missing, 0-1",
		}, []string{"exchange", "symbol", "timeframe"}),

		BackfillTasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_backfill_tasks_pending",
			Help: "Number of backfill tasks awaiting execution",
		}),

		BackfillTasksCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_backfill_tasks_completed_total",
			Help: "Total backfill tasks completed by final status",
		}, []string{"status"}),

		ConsecutiveFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_consecutive_failures",
			Help: "Current consecutive collection failure count",
		}, []string{"exchange", "symbol", "timeframe"}),

		LastSuccessfulCollectionTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_last_successful_collection_timestamp",
			Help: "Unix timestamp of the last successful collection",
		}, []string{"exchange", "symbol", "timeframe"}),

		SchedulerJobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_scheduler_job_runs_total",
			Help: "Total scheduler job executions by outcome",
		}, []string{"job_id", "status"}),

		SchedulerJobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_scheduler_job_duration_seconds",
			Help:    "Scheduler job execution duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_id"}),

		SchedulerJobLastSuccessTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_scheduler_job_last_success_timestamp",
			Help: "Unix timestamp of the job's last successful run",
		}, []string{"job_id"}),

		SchedulerJobLastFailureTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_scheduler_job_last_failure_timestamp",
			Help: "Unix timestamp of the job's last failed run",
		}, []string{"job_id"}),

		DBWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_db_writes_total",
			Help: "Total database writes by table and outcome",
		}, []string{"table", "status"}),

		DBPoolConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_db_pool_connections",
			Help: "Database pool connections by state",
		}, []string{"state"}),

		DBPoolUsageRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_db_pool_usage_rate",
			Help: "Fraction of the database pool currently in use",
		}),

		DBPoolTotalConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_db_pool_total_connections",
			Help: "Configured database pool size",
		}),

		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_running",
			Help: "1 if the collector process is up, 0 otherwise",
		}),

		Info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_info",
			Help: "Static build information, value always 1",
		}, []string{"version", "type"}),

		ETFUnknownProductsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etf_unknown_products_total",
			Help: "Total unknown ETF product codes encountered while parsing",
		}),
	}

	reg.MustRegister(
		r.OHLCVCollected, r.TradesCollected, r.OrderbooksCollected,
		r.APIRequestsTotal, r.APIErrorsTotal, r.APIRequestDuration,
		r.ValidationFailuresTotal, r.DataQualityScore, r.DataMissingRate,
		r.BackfillTasksPending, r.BackfillTasksCompletedTotal,
		r.ConsecutiveFailures, r.LastSuccessfulCollectionTimestamp,
		r.SchedulerJobRunsTotal, r.SchedulerJobDuration,
		r.SchedulerJobLastSuccessTimestamp, r.SchedulerJobLastFailureTimestamp,
		r.DBWritesTotal, r.DBPoolConnections, r.DBPoolUsageRate, r.DBPoolTotalConnections,
		r.Running, r.Info, r.ETFUnknownProductsTotal,
	)
	return r
}

// RecordAPIRequest records one upstream call's outcome and latency.
func (r *Registry) RecordAPIRequest(exchange, endpoint, status string, durationSeconds float64) {
	r.APIRequestsTotal.WithLabelValues(exchange, endpoint, status).Inc()
	r.APIRequestDuration.WithLabelValues(exchange, endpoint).Observe(durationSeconds)
}

// RecordAPIError records a classified upstream failure.
func (r *Registry) RecordAPIError(exchange, endpoint, errorType string) {
	r.APIErrorsTotal.WithLabelValues(exchange, endpoint, errorType).Inc()
}

// RecordCollected increments the counter for a data type, matching
// run_collection_cycle's per-config success bookkeeping.
func (r *Registry) RecordCollected(dataType, exchange, symbol, timeframe string, count int) {
	switch dataType {
	case "ohlcv":
		r.OHLCVCollected.WithLabelValues(exchange, symbol, timeframe).Add(float64(count))
	case "trades":
		r.TradesCollected.WithLabelValues(exchange, symbol).Add(float64(count))
	case "orderbook":
		r.OrderbooksCollected.WithLabelValues(exchange, symbol).Add(float64(count))
	}
}

// RecordValidationFailure increments the validation failure counter.
func (r *Registry) RecordValidationFailure(exchange, symbol, validationType string) {
	r.ValidationFailuresTotal.WithLabelValues(exchange, symbol, validationType).Inc()
}

// SetDataQuality sets the rolling quality score and missing-bucket rate.
func (r *Registry) SetDataQuality(exchange, symbol, timeframe string, score, missingRate float64) {
	r.DataQualityScore.WithLabelValues(exchange, symbol, timeframe).Set(score)
	r.DataMissingRate.WithLabelValues(exchange, symbol, timeframe).Set(missingRate)
}

// SetBackfillPending sets the current pending-task gauge.
func (r *Registry) SetBackfillPending(count int) {
	r.BackfillTasksPending.Set(float64(count))
}

// RecordBackfillCompleted increments the completed-task counter by its
// terminal status (completed or failed).
func (r *Registry) RecordBackfillCompleted(status string) {
	r.BackfillTasksCompletedTotal.WithLabelValues(status).Inc()
}

// SetConsecutiveFailures updates the streak gauge for a market/timeframe.
func (r *Registry) SetConsecutiveFailures(exchange, symbol, timeframe string, count int) {
	r.ConsecutiveFailures.WithLabelValues(exchange, symbol, timeframe).Set(float64(count))
}

// SetLastSuccessfulCollection records the unix timestamp of the last
// successful collection for a market/timeframe.
func (r *Registry) SetLastSuccessfulCollection(exchange, symbol, timeframe string, unixSeconds int64) {
	r.LastSuccessfulCollectionTimestamp.WithLabelValues(exchange, symbol, timeframe).Set(float64(unixSeconds))
}

// RecordSchedulerJobRun records one job execution's outcome and
// duration, and updates the matching last-success/last-failure gauge.
func (r *Registry) RecordSchedulerJobRun(jobID, status string, durationSeconds float64, unixSeconds int64) {
	r.SchedulerJobRunsTotal.WithLabelValues(jobID, status).Inc()
	r.SchedulerJobDuration.WithLabelValues(jobID).Observe(durationSeconds)
	if status == "success" {
		r.SchedulerJobLastSuccessTimestamp.WithLabelValues(jobID).Set(float64(unixSeconds))
	} else {
		r.SchedulerJobLastFailureTimestamp.WithLabelValues(jobID).Set(float64(unixSeconds))
	}
}

// RecordDBWrite records one write's outcome for a table.
func (r *Registry) RecordDBWrite(table, status string) {
	r.DBWritesTotal.WithLabelValues(table, status).Inc()
}

// SetDBPoolStats updates the connection-pool gauges.
func (r *Registry) SetDBPoolStats(inUse, idle, total int) {
	r.DBPoolConnections.WithLabelValues("in_use").Set(float64(inUse))
	r.DBPoolConnections.WithLabelValues("idle").Set(float64(idle))
	r.DBPoolTotalConnections.Set(float64(total))
	if total > 0 {
		r.DBPoolUsageRate.Set(float64(inUse) / float64(total))
	}
}

// SetRunning sets the process liveness gauge.
func (r *Registry) SetRunning(running bool) {
	if running {
		r.Running.Set(1)
	} else {
		r.Running.Set(0)
	}
}

// SetInfo publishes static build information.
func (r *Registry) SetInfo(version, processType string) {
	r.Info.WithLabelValues(version, processType).Set(1)
}

// IncETFUnknownProducts bumps the schema-drift counter.
func (r *Registry) IncETFUnknownProducts() {
	r.ETFUnknownProductsTotal.Inc()
}

// Handler returns the HTTP handler for the Prometheus pull endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
