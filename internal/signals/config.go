// Package signals implements C9: it scans data already sitting in
// storage for conditions worth flagging, grounded on
// monitors/signal_monitor.py's SignalMonitor. It never calls an
// upstream exchange itself — every detector is computable entirely
// from what C3 has already persisted.
package signals

import "time"

// Config tunes the thresholds each detector applies, mirroring
// SignalMonitor's THRESHOLDS dict.
type Config struct {
	FundingHigh float64 // default 0.0005 (0.05%)
	FundingLow  float64 // default -0.0005

	OISpikePct    float64       // default 0.05 (5%)
	OISpikeMaxGap time.Duration // default 70m, samples further apart than this are not compared

	LiquidationUSD        float64       // default 500_000, single-event threshold
	LiquidationWindow      time.Duration // default 5m, lookback for the single-event scan
	LiquidationClusterUSD  float64       // default 3_000_000
	LiquidationClusterWindow time.Duration // default 1m, bucket width for the cluster scan

	OBIExtreme  float64       // default 0.6
	OBIWindow   time.Duration // default 15m, how stale a reading may be

	CVDHysteresis float64 // default 0.002 (0.2%), the band a divergence must clear on both legs
}

// cvdTimeframe pairs a timeframe label with the lookback window the
// divergence scan examines at that resolution.
type cvdTimeframe struct {
	Timeframe string
	Lookback  time.Duration
}

// cvdTimeframes mirrors _scan_cvd_divergence_mtf's per-resolution
// lookback windows: finer timeframes look back less far.
var cvdTimeframes = []cvdTimeframe{
	{Timeframe: "1m", Lookback: 2 * time.Hour},
	{Timeframe: "15m", Lookback: 24 * time.Hour},
	{Timeframe: "1h", Lookback: 72 * time.Hour},
}

// DefaultConfig mirrors signal_monitor.py's THRESHOLDS defaults.
func DefaultConfig() Config {
	return Config{
		FundingHigh:              0.0005,
		FundingLow:               -0.0005,
		OISpikePct:               0.05,
		OISpikeMaxGap:            70 * time.Minute,
		LiquidationUSD:           500_000,
		LiquidationWindow:        5 * time.Minute,
		LiquidationClusterUSD:    3_000_000,
		LiquidationClusterWindow: time.Minute,
		OBIExtreme:               0.6,
		OBIWindow:                15 * time.Minute,
		CVDHysteresis:            0.002,
	}
}
