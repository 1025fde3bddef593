// Package circuit implements the per-source circuit breaker used by the
// retry policy, adapted from internal/datasources/circuits.go: the
// state machine, sliding error window and fallback-chain lookup are
// unchanged, only the set of sources and the failure classification
// feeding RecordRequest are specific to this collector.
package circuit

import (
	"sync"
	"time"

	"github.com/sawpanic/mdcollector/internal/collector"
)

// State is the circuit breaker's lifecycle state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes one breaker.
type Config struct {
	Source              string
	ErrorThreshold      int           // errors within WindowSize before opening
	SuccessThreshold    int           // consecutive successes needed to close from half-open
	Timeout             time.Duration // how long to stay open before probing half-open
	LatencyThreshold    time.Duration // latency above this counts as a failure
	WindowSize          int
	MinRequestsInWindow int
}

// Breaker is a single source's circuit breaker.
type Breaker struct {
	config          Config
	mu              sync.RWMutex
	state           State
	errorCount      int
	successCount    int
	requestCount    int
	lastFailTime    time.Time
	lastSuccessTime time.Time
	requests        []requestResult
	fallbacks       []string
}

type requestResult struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
}

// Manager owns one Breaker per data source and the fallback chain to
// try when a source's breaker is open.
type Manager struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	fallbacks map[string][]string
}

// DefaultConfigs covers the venues/connector sources this collector
// talks to; callers can add more via AddSource for venues outside this
// default set.
var DefaultConfigs = map[string]Config{
	"binance": {Source: "binance", ErrorThreshold: 5, SuccessThreshold: 3, Timeout: 30 * time.Second, LatencyThreshold: 5 * time.Second, WindowSize: 20, MinRequestsInWindow: 5},
	"kraken":  {Source: "kraken", ErrorThreshold: 2, SuccessThreshold: 1, Timeout: 60 * time.Second, LatencyThreshold: 15 * time.Second, WindowSize: 10, MinRequestsInWindow: 2},
	"okx":     {Source: "okx", ErrorThreshold: 4, SuccessThreshold: 2, Timeout: 30 * time.Second, LatencyThreshold: 6 * time.Second, WindowSize: 20, MinRequestsInWindow: 4},
	"coinbase": {Source: "coinbase", ErrorThreshold: 4, SuccessThreshold: 2, Timeout: 30 * time.Second, LatencyThreshold: 6 * time.Second, WindowSize: 20, MinRequestsInWindow: 4},
}

// DefaultFallbacks mirrors the teacher's preference-ordered fallback
// chains between exchange venues serving the same OHLCV data.
var DefaultFallbacks = map[string][]string{
	"binance":  {"kraken", "okx"},
	"kraken":   {"binance", "okx"},
	"okx":      {"binance", "kraken"},
	"coinbase": {"kraken", "binance"},
}

// NewManager builds a Manager pre-populated with DefaultConfigs/DefaultFallbacks.
func NewManager() *Manager {
	m := &Manager{breakers: make(map[string]*Breaker), fallbacks: make(map[string][]string)}
	for source, cfg := range DefaultConfigs {
		m.AddSource(cfg, DefaultFallbacks[source])
	}
	return m
}

// AddSource registers a breaker for a source not covered by DefaultConfigs.
func (m *Manager) AddSource(cfg Config, fallbacks []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[cfg.Source] = &Breaker{
		config:    cfg,
		state:     Closed,
		requests:  make([]requestResult, cfg.WindowSize),
		fallbacks: fallbacks,
	}
	m.fallbacks[cfg.Source] = fallbacks
}

// CanMakeRequest reports whether a request to source is currently
// permitted. Unknown sources are allowed through uncontrolled.
func (m *Manager) CanMakeRequest(source string) bool {
	m.mu.RLock()
	b, ok := m.breakers[source]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	return b.canMakeRequest()
}

// RecordOutcome records a completed request. Non-retryable classified
// errors (bad request/auth/parse) are not counted against the source's
// health — they indicate a client-side mistake, not provider
// instability — so only transient failures move the breaker toward open.
func (m *Manager) RecordOutcome(source string, latency time.Duration, err error) {
	m.mu.RLock()
	b, ok := m.breakers[source]
	m.mu.RUnlock()
	if !ok {
		return
	}

	if err != nil {
		kind := collector.ClassifyError(err, 0)
		if !kind.Retryable() {
			return
		}
		b.record(false, latency)
		return
	}
	b.record(true, latency)
}

// ActiveSource returns source if its breaker allows a request, otherwise
// the first fallback whose own breaker is currently closed/half-open.
func (m *Manager) ActiveSource(source string) string {
	m.mu.RLock()
	b, ok := m.breakers[source]
	m.mu.RUnlock()
	if !ok || b.canMakeRequest() {
		return source
	}

	for _, fb := range b.fallbacks {
		m.mu.RLock()
		fbBreaker, exists := m.breakers[fb]
		m.mu.RUnlock()
		if exists && fbBreaker.canMakeRequest() {
			return fb
		}
	}
	return source
}

// State returns a source's current breaker state.
func (m *Manager) State(source string) State {
	m.mu.RLock()
	b, ok := m.breakers[source]
	m.mu.RUnlock()
	if !ok {
		return Closed
	}
	return b.getState()
}

func (b *Breaker) canMakeRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.lastFailTime) >= b.config.Timeout {
			b.state = HalfOpen
			b.successCount = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	}
	return false
}

func (b *Breaker) record(success bool, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if success && b.config.LatencyThreshold > 0 && latency > b.config.LatencyThreshold {
		success = false
	}

	b.requests[b.requestCount%b.config.WindowSize] = requestResult{Timestamp: now, Success: success, Latency: latency}
	b.requestCount++

	if success {
		b.successCount++
		b.lastSuccessTime = now
		if b.state == HalfOpen && b.successCount >= b.config.SuccessThreshold {
			b.state = Closed
			b.errorCount = 0
		}
		return
	}

	b.errorCount++
	b.lastFailTime = now
	b.successCount = 0
	if b.shouldOpen() {
		b.state = Open
	}
}

func (b *Breaker) shouldOpen() bool {
	if b.requestCount < b.config.MinRequestsInWindow {
		return false
	}
	windowSize := minInt(b.requestCount, b.config.WindowSize)
	errors := 0
	for i := 0; i < windowSize; i++ {
		if !b.requests[i].Success {
			errors++
		}
	}
	errorRate := float64(errors) / float64(windowSize)
	threshold := float64(b.config.ErrorThreshold) / float64(b.config.WindowSize)
	return errorRate >= threshold
}

func (b *Breaker) getState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats snapshots a breaker's counters for the /healthz endpoint.
type Stats struct {
	Source       string
	State        string
	ErrorCount   int
	SuccessCount int
	RequestCount int
	ErrorRate    float64
}

// Stats returns a snapshot for source, or a zero-value Stats (with
// State "unknown") if no breaker is registered for it.
func (m *Manager) Stats(source string) Stats {
	m.mu.RLock()
	b, ok := m.breakers[source]
	m.mu.RUnlock()
	if !ok {
		return Stats{Source: source, State: "unknown"}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	windowSize := minInt(b.requestCount, b.config.WindowSize)
	errors := 0
	for i := 0; i < windowSize; i++ {
		if !b.requests[i].Success {
			errors++
		}
	}
	rate := 0.0
	if windowSize > 0 {
		rate = float64(errors) / float64(windowSize) * 100
	}

	return Stats{
		Source:       b.config.Source,
		State:        b.state.String(),
		ErrorCount:   b.errorCount,
		SuccessCount: b.successCount,
		RequestCount: b.requestCount,
		ErrorRate:    rate,
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
