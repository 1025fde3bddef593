package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sawpanic/mdcollector/internal/circuit"
	"github.com/sawpanic/mdcollector/internal/connector/mock"
	"github.com/sawpanic/mdcollector/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner() *Runner {
	limiter := ratelimit.NewManager()
	limiter.AddProvider("test-source", 1000, 1000) // generous, so the test isn't rate-limited
	circuits := circuit.NewManager()
	circuits.AddSource(circuit.Config{
		Source: "test-source", ErrorThreshold: 10, SuccessThreshold: 1,
		Timeout: time.Second, WindowSize: 10, MinRequestsInWindow: 100,
	}, nil)
	return NewRunner(limiter, circuits, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Jitter: false})
}

func TestRunner_RetriesTransientThenSucceeds(t *testing.T) {
	r := newTestRunner()
	calls := 0

	err := r.Do(context.Background(), "test-source", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return mock.NetworkError("test-source")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRunner_NonRetryableFailsFast(t *testing.T) {
	r := newTestRunner()
	calls := 0

	err := r.Do(context.Background(), "test-source", func(ctx context.Context) error {
		calls++
		return mock.BadRequestError("test-source")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunner_ExhaustsAttempts(t *testing.T) {
	r := newTestRunner()
	calls := 0

	err := r.Do(context.Background(), "test-source", func(ctx context.Context) error {
		calls++
		return mock.NetworkError("test-source")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunner_HonorsRetryAfter(t *testing.T) {
	r := newTestRunner()
	delay := r.delayFor(0, mock.RateLimitError("test-source", 2))
	assert.Equal(t, 2*time.Second, delay)
}

func TestRunner_CircuitOpenShortCircuits(t *testing.T) {
	limiter := ratelimit.NewManager()
	limiter.AddProvider("flaky", 1000, 1000)
	circuits := circuit.NewManager()
	circuits.AddSource(circuit.Config{
		Source: "flaky", ErrorThreshold: 1, SuccessThreshold: 1,
		Timeout: time.Minute, WindowSize: 2, MinRequestsInWindow: 1,
	}, nil)
	circuits.RecordOutcome("flaky", time.Millisecond, mock.NetworkError("flaky"))
	circuits.RecordOutcome("flaky", time.Millisecond, mock.NetworkError("flaky"))

	r := NewRunner(limiter, circuits, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	calls := 0
	err := r.Do(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, 0, calls)
}
