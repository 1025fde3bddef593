// Package timeframe maps OHLCV timeframe labels to their wall-clock
// duration, grounded on backfill_scheduler.py's _get_interval_delta
// static helper. Both the backfill gap detector and the streaming
// validator's missing-interval check share this mapping so a "missing
// interval" means the same thing in both places.
package timeframe

import (
	"fmt"
	"time"
)

var durations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// Duration returns the wall-clock interval a timeframe label represents.
func Duration(tf string) (time.Duration, error) {
	d, ok := durations[tf]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", tf)
	}
	return d, nil
}

// Buckets returns every expected bar timestamp in [from, to) at the
// timeframe's interval, aligned to from.
func Buckets(tf string, from, to time.Time) ([]time.Time, error) {
	d, err := Duration(tf)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	for t := from; t.Before(to); t = t.Add(d) {
		out = append(out, t)
	}
	return out, nil
}
