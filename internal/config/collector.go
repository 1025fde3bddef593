package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceKind enumerates the kinds of data a CollectorSource declares,
// matching source_kind across the spec's connector taxonomy.
type SourceKind string

const (
	SourceExchangeOHLCV    SourceKind = "exchange_ohlcv"
	SourceFunding          SourceKind = "funding"
	SourceOpenInterest     SourceKind = "open_interest"
	SourceWhaleBTC         SourceKind = "whale_btc"
	SourceWhaleETH         SourceKind = "whale_eth"
	SourceWhaleBSC         SourceKind = "whale_bsc"
	SourceWhaleTRX         SourceKind = "whale_trx"
	SourceETFFlow          SourceKind = "etf_flow"
	SourceEconomicCalendar SourceKind = "economic_calendar"
)

var validSourceKinds = map[SourceKind]bool{
	SourceExchangeOHLCV: true, SourceFunding: true, SourceOpenInterest: true,
	SourceWhaleBTC: true, SourceWhaleETH: true, SourceWhaleBSC: true, SourceWhaleTRX: true,
	SourceETFFlow: true, SourceEconomicCalendar: true,
}

// perSymbolKinds are source kinds that iterate over a venue's symbol
// list rather than collecting one venue-wide feed.
var perSymbolKinds = map[SourceKind]bool{
	SourceExchangeOHLCV: true, SourceFunding: true, SourceOpenInterest: true,
}

// CollectorConfig is the root document loaded by C1: one entry per
// declared data source, plus the retry/validation defaults every
// source inherits unless it overrides them.
type CollectorConfig struct {
	Sources  map[string]CollectorSource `yaml:"sources"`
	Defaults DefaultsConfig             `yaml:"defaults"`
	Global   GlobalConfig               `yaml:"global"`
}

// CollectorSource declares one data source's identity, schedule,
// network policy and validation policy.
type CollectorSource struct {
	Kind       SourceKind      `yaml:"kind"`
	Venue      string          `yaml:"venue"` // exchange name, blockchain name, or provider name
	BaseURL    string          `yaml:"base_url"`
	Symbols    []string        `yaml:"symbols"`   // required for per-symbol kinds, ignored otherwise
	Timeframes []string        `yaml:"timeframes"` // required for exchange_ohlcv
	Cadence    CadenceConfig   `yaml:"cadence"`
	Request    RequestPolicy   `yaml:"request"`
	Retry      RetryPolicy     `yaml:"retry"`
	Validation ValidationPolicy `yaml:"validation"`
	Enabled    bool            `yaml:"enabled"`
}

// CadenceConfig is either a fixed interval (in seconds) or a 5-field
// cron expression, matching main.py's scheduling grammar. Exactly one
// of IntervalSecs or Cron should be set. TZ names the IANA zone Cron
// is evaluated in; empty means UTC. LookbackMinutes sizes the fetch
// window each collection cycle requests, replacing what used to be a
// handful of hardcoded per-kind constants.
type CadenceConfig struct {
	IntervalSecs    int    `yaml:"interval_secs"`
	Cron            string `yaml:"cron"`
	TZ              string `yaml:"tz"`
	LookbackMinutes int    `yaml:"lookback_minutes"`
}

// RequestPolicy is the per-source network policy, same shape as
// ProviderConfig's RPS/burst/daily-budget triple.
type RequestPolicy struct {
	RPS         int `yaml:"rps"`
	Burst       int `yaml:"burst"`
	DailyBudget int `yaml:"daily_budget"`
}

// RetryPolicy declares backoff shape for C5's retry runner.
type RetryPolicy struct {
	MaxAttempts  int  `yaml:"max_attempts"`
	BaseDelayMS  int  `yaml:"base_delay_ms"`
	MaxDelayMS   int  `yaml:"max_delay_ms"`
	Jitter       bool `yaml:"jitter"`
}

// ValidationPolicy tunes the C4 validator for this source.
type ValidationPolicy struct {
	PriceJumpThreshold   float64 `yaml:"price_jump_threshold"`
	VolumeSpikeThreshold float64 `yaml:"volume_spike_threshold"`
	VolumeWindowSize     int     `yaml:"volume_window_size"`
	CheckMissingInterval bool    `yaml:"check_missing_interval"`
}

// DefaultsConfig fills in RetryPolicy/ValidationPolicy/Cadence fields a
// source leaves at its zero value.
type DefaultsConfig struct {
	Retry      RetryPolicy      `yaml:"retry"`
	Validation ValidationPolicy `yaml:"validation"`
	Cadence    CadenceConfig    `yaml:"cadence"`
}

// defaultLookbackMinutes applies when neither a source nor the
// document's defaults block sets lookback_minutes, matching the
// collection window main.py used before it was made configurable.
const defaultLookbackMinutes = 60

// GlobalConfig holds process-wide knobs that apply across every source.
type GlobalConfig struct {
	MaxConcurrentPerHost int    `yaml:"max_concurrent_per_host"`
	UserAgent            string `yaml:"user_agent"`
}

// LoadCollectorConfig reads, parses and validates a collector
// configuration file: read-then-unmarshal-then-validate, matching
// main.py's startup config loading.
func LoadCollectorConfig(path string) (*CollectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read collector config: %w", err)
	}

	var cfg CollectorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse collector config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collector config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills zero-valued Retry/Validation fields on each
// source from the document's Defaults block.
func (c *CollectorConfig) applyDefaults() {
	for name, src := range c.Sources {
		if src.Retry.MaxAttempts == 0 {
			src.Retry = c.Defaults.Retry
		}
		if src.Validation.VolumeWindowSize == 0 {
			src.Validation = c.Defaults.Validation
		}
		if src.Cadence.LookbackMinutes == 0 {
			switch {
			case c.Defaults.Cadence.LookbackMinutes > 0:
				src.Cadence.LookbackMinutes = c.Defaults.Cadence.LookbackMinutes
			default:
				src.Cadence.LookbackMinutes = defaultLookbackMinutes
			}
		}
		c.Sources[name] = src
	}
}

// Validate checks every declared source and the global block,
// returning the first violated invariant as a wrapped error.
func (c *CollectorConfig) Validate() error {
	if c.Global.MaxConcurrentPerHost <= 0 {
		return fmt.Errorf("global max_concurrent_per_host must be positive, got %d", c.Global.MaxConcurrentPerHost)
	}
	if c.Global.UserAgent == "" {
		return fmt.Errorf("global user_agent cannot be empty")
	}

	for name, src := range c.Sources {
		if err := src.Validate(name); err != nil {
			return fmt.Errorf("source %s: %w", name, err)
		}
	}

	return nil
}

// Validate ensures a single source declaration is well-formed.
func (s *CollectorSource) Validate(name string) error {
	if !validSourceKinds[s.Kind] {
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	if s.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if perSymbolKinds[s.Kind] && len(s.Symbols) == 0 {
		return fmt.Errorf("kind %q requires at least one symbol", s.Kind)
	}
	if s.Kind == SourceExchangeOHLCV && len(s.Timeframes) == 0 {
		return fmt.Errorf("kind %q requires at least one timeframe", s.Kind)
	}

	if err := s.Cadence.Validate(); err != nil {
		return fmt.Errorf("cadence: %w", err)
	}
	if err := s.Request.Validate(); err != nil {
		return fmt.Errorf("request: %w", err)
	}
	if err := s.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := s.Validation.Validate(); err != nil {
		return fmt.Errorf("validation: %w", err)
	}

	return nil
}

// Validate ensures exactly one of IntervalSecs/Cron is set and, for a
// cron expression, that it has the 5 fields main.py's grammar expects.
func (c *CadenceConfig) Validate() error {
	hasInterval := c.IntervalSecs > 0
	hasCron := c.Cron != ""

	if hasInterval == hasCron {
		return fmt.Errorf("exactly one of interval_secs or cron must be set")
	}
	if hasCron {
		fields := splitCronFields(c.Cron)
		if len(fields) != 5 {
			return fmt.Errorf("cron expression must have 5 fields, got %d: %q", len(fields), c.Cron)
		}
		if c.TZ != "" {
			if _, err := time.LoadLocation(c.TZ); err != nil {
				return fmt.Errorf("tz %q: %w", c.TZ, err)
			}
		}
	}
	if c.LookbackMinutes < 0 {
		return fmt.Errorf("lookback_minutes cannot be negative, got %d", c.LookbackMinutes)
	}
	return nil
}

// Lookback returns LookbackMinutes as a Duration, for callers sizing a
// fetch window off this cadence.
func (c CadenceConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackMinutes) * time.Minute
}

func splitCronFields(expr string) []string {
	var fields []string
	start := 0
	for i := 0; i <= len(expr); i++ {
		if i == len(expr) || expr[i] == ' ' {
			if i > start {
				fields = append(fields, expr[start:i])
			}
			start = i + 1
		}
	}
	return fields
}

// Validate ensures a request policy's numeric fields are sane.
func (r *RequestPolicy) Validate() error {
	if r.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %d", r.RPS)
	}
	if r.Burst < r.RPS {
		return fmt.Errorf("burst (%d) must be >= rps (%d)", r.Burst, r.RPS)
	}
	if r.DailyBudget < 0 {
		return fmt.Errorf("daily_budget cannot be negative, got %d", r.DailyBudget)
	}
	return nil
}

// Validate ensures a retry policy's numeric fields are sane.
func (r *RetryPolicy) Validate() error {
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", r.MaxAttempts)
	}
	if r.BaseDelayMS <= 0 {
		return fmt.Errorf("base_delay_ms must be positive, got %d", r.BaseDelayMS)
	}
	if r.MaxDelayMS <= r.BaseDelayMS {
		return fmt.Errorf("max_delay_ms (%d) must be > base_delay_ms (%d)", r.MaxDelayMS, r.BaseDelayMS)
	}
	return nil
}

// Validate ensures a validation policy's thresholds are sane.
func (v *ValidationPolicy) Validate() error {
	if v.PriceJumpThreshold <= 0 {
		return fmt.Errorf("price_jump_threshold must be positive, got %f", v.PriceJumpThreshold)
	}
	if v.VolumeSpikeThreshold <= 0 {
		return fmt.Errorf("volume_spike_threshold must be positive, got %f", v.VolumeSpikeThreshold)
	}
	if v.VolumeWindowSize <= 0 {
		return fmt.Errorf("volume_window_size must be positive, got %d", v.VolumeWindowSize)
	}
	return nil
}

// EnabledSources returns every source with Enabled set, for the
// orchestrator and scheduler to iterate over.
func (c *CollectorConfig) EnabledSources() map[string]CollectorSource {
	out := make(map[string]CollectorSource, len(c.Sources))
	for name, src := range c.Sources {
		if src.Enabled {
			out[name] = src
		}
	}
	return out
}
