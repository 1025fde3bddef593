// Package validator implements the OHLCV quality checks, grounded on
// data_validator.py. The batch and streaming entry points share one
// underlying accumulator so their output is identical for the same
// input: streaming only changes how (and in how little memory) the
// rows are fed in, never what gets reported.
package validator

import (
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/timeframe"
)

const (
	defaultVolumeWindow = 20
	maxDetailsPerType   = 10
	intervalSlack       = 1.5
)

// IssueType names the kind of problem a check found.
type IssueType string

const (
	IssueOutOfOrderTimestamp IssueType = "out_of_order_timestamp"
	IssuePriceJump           IssueType = "price_jump"
	IssueVolumeSpike         IssueType = "volume_spike"
	IssueMissingInterval     IssueType = "missing_interval"
)

// Issue is one finding, with enough context to locate and explain it.
type Issue struct {
	Type    IssueType
	Index   int
	Details map[string]interface{}
}

// Result is the outcome of validating a batch or a stream. Valid is
// false only when at least one error (never a warning) was recorded —
// out-of-order timestamps are the sole error-level check; price jumps,
// volume spikes and missing intervals are warnings that do not fail
// the batch.
type Result struct {
	Valid        bool
	TotalRecords int
	Errors       []Issue
	Warnings     []Issue
}

// Config tunes the thresholds a Validator applies.
type Config struct {
	PriceJumpThreshold   float64 // default 0.1 (10%)
	VolumeSpikeThreshold float64 // default 5.0 (5x rolling average)
	VolumeWindowSize     int     // default 20
	CheckMissingInterval bool    // default true
}

// DefaultConfig mirrors data_validator.py's DataValidator defaults.
func DefaultConfig() Config {
	return Config{
		PriceJumpThreshold:   0.1,
		VolumeSpikeThreshold: 5.0,
		VolumeWindowSize:     defaultVolumeWindow,
		CheckMissingInterval: true,
	}
}

// Validator runs the full OHLCV quality check suite.
type Validator struct {
	cfg Config
}

// New builds a Validator from cfg, filling in zero-valued numeric fields
// with DefaultConfig's values; CheckMissingInterval is used as given.
func New(cfg Config) *Validator {
	d := DefaultConfig()
	if cfg.PriceJumpThreshold == 0 {
		cfg.PriceJumpThreshold = d.PriceJumpThreshold
	}
	if cfg.VolumeSpikeThreshold == 0 {
		cfg.VolumeSpikeThreshold = d.VolumeSpikeThreshold
	}
	if cfg.VolumeWindowSize == 0 {
		cfg.VolumeWindowSize = d.VolumeWindowSize
	}
	return &Validator{cfg: cfg}
}

// ValidateBatch checks an entire, already-collected slice of bars. It is
// built on top of a Stream so batch and streaming validation can never
// silently diverge.
func (v *Validator) ValidateBatch(bars []domain.OHLCVBar, tf string) (Result, error) {
	s, err := v.NewStream(tf)
	if err != nil {
		return Result{}, err
	}
	for _, bar := range bars {
		s.Push(bar)
	}
	return s.Result(), nil
}

// Stream validates OHLCV bars one at a time in O(window) memory,
// matching data_validator.py's validate_ohlcv_stream use of a
// collections.deque(maxlen=volume_window_size).
type Stream struct {
	cfg Config
	tf  string

	index        int
	haveLast     bool
	lastTime     int64 // unix nanos
	lastClose    float64
	volumeWindow []float64 // ring buffer, most-recent-last, capped at cfg.VolumeWindowSize
	intervalNanos int64

	result Result
}

// NewStream creates a Stream for the given timeframe.
func (v *Validator) NewStream(tf string) (*Stream, error) {
	d, err := timeframe.Duration(tf)
	if err != nil {
		return nil, err
	}
	return &Stream{
		cfg:           v.cfg,
		tf:            tf,
		intervalNanos: d.Nanoseconds(),
		result:        Result{Valid: true},
	}, nil
}

// Push feeds the next bar in timestamp order into the stream.
func (s *Stream) Push(bar domain.OHLCVBar) {
	s.result.TotalRecords++
	idx := s.index
	s.index++

	t := bar.Time.UnixNano()
	closeF, _ := bar.Close.Float64()
	volumeF, _ := bar.Volume.Float64()

	if s.haveLast {
		if t <= s.lastTime {
			s.addError(idx, IssueOutOfOrderTimestamp, map[string]interface{}{
				"timestamp":      bar.Time,
				"previous_index": idx - 1,
			})
		} else {
			// Only check price/interval continuity against a
			// genuinely-ordered predecessor.
			s.checkPriceJump(idx, closeF)
			if s.cfg.CheckMissingInterval {
				s.checkMissingInterval(idx, t)
			}
		}
	}

	s.checkVolumeSpike(idx, volumeF)
	s.pushVolumeWindow(volumeF)

	s.haveLast = true
	s.lastTime = t
	s.lastClose = closeF
}

func (s *Stream) checkPriceJump(idx int, closeF float64) {
	if s.lastClose == 0 {
		return
	}
	change := (closeF - s.lastClose) / s.lastClose
	if change < 0 {
		change = -change
	}
	if change > s.cfg.PriceJumpThreshold {
		s.addWarning(idx, IssuePriceJump, map[string]interface{}{
			"previous_close": s.lastClose,
			"close":          closeF,
			"change_pct":     change,
		})
	}
}

func (s *Stream) checkVolumeSpike(idx int, volumeF float64) {
	if len(s.volumeWindow) < s.cfg.VolumeWindowSize {
		return // insufficient samples, matches Python's (True, []) short-circuit
	}
	var sum float64
	for _, v := range s.volumeWindow {
		sum += v
	}
	avg := sum / float64(len(s.volumeWindow))
	if avg == 0 {
		return
	}
	if volumeF > avg*s.cfg.VolumeSpikeThreshold {
		s.addWarning(idx, IssueVolumeSpike, map[string]interface{}{
			"volume":          volumeF,
			"rolling_average": avg,
			"multiple":        volumeF / avg,
		})
	}
}

func (s *Stream) checkMissingInterval(idx int, t int64) {
	gap := t - s.lastTime
	threshold := int64(float64(s.intervalNanos) * intervalSlack)
	if gap > threshold {
		s.addWarning(idx, IssueMissingInterval, map[string]interface{}{
			"gap_seconds":      gap / 1e9,
			"expected_seconds": s.intervalNanos / 1e9,
		})
	}
}

func (s *Stream) pushVolumeWindow(volumeF float64) {
	s.volumeWindow = append(s.volumeWindow, volumeF)
	if len(s.volumeWindow) > s.cfg.VolumeWindowSize {
		s.volumeWindow = s.volumeWindow[1:]
	}
}

func (s *Stream) addError(idx int, t IssueType, details map[string]interface{}) {
	s.result.Valid = false
	s.result.Errors = append(s.result.Errors, Issue{Type: t, Index: idx, Details: details})
}

func (s *Stream) addWarning(idx int, t IssueType, details map[string]interface{}) {
	if s.countType(t) >= maxDetailsPerType {
		return
	}
	s.result.Warnings = append(s.result.Warnings, Issue{Type: t, Index: idx, Details: details})
}

func (s *Stream) countType(t IssueType) int {
	n := 0
	for _, w := range s.result.Warnings {
		if w.Type == t {
			n++
		}
	}
	return n
}

// Result returns the accumulated outcome so far. Safe to call mid-stream.
func (s *Stream) Result() Result {
	return s.result
}
