package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_IntervalJobRunsOnceThenWaitsForNextDue(t *testing.T) {
	s := NewScheduler(zerolog.Nop(), nil)
	var runs int32
	var wg sync.WaitGroup
	wg.Add(1)

	s.AddJob(Job{ID: "tick", Interval: time.Minute, Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		wg.Done()
		return nil
	}})

	now := time.Now()
	s.Tick(context.Background(), now)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	// Ticking again immediately must not re-fire: the job isn't due
	// again until a full Interval has elapsed.
	s.Tick(context.Background(), now.Add(time.Second))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_CronJobCoalescesWithinSameMinuteBucket(t *testing.T) {
	s := NewScheduler(zerolog.Nop(), nil)
	var runs int32
	s.AddJob(Job{ID: "every-minute", Cron: "* * * * *", Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}})

	base := time.Date(2025, 1, 1, 10, 0, 30, 0, time.UTC)
	s.Tick(context.Background(), base)
	s.Tick(context.Background(), base.Add(10*time.Second))
	s.Tick(context.Background(), base.Add(20*time.Second))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "three ticks within one minute bucket must coalesce into a single run")

	s.Tick(context.Background(), base.Add(time.Minute))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs), "the next minute bucket should fire again")
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	s := NewScheduler(zerolog.Nop(), nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var runs int32

	s.AddJob(Job{ID: "slow", Interval: time.Millisecond, Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		started <- struct{}{}
		<-release
		return nil
	}})

	now := time.Now()
	s.Tick(context.Background(), now)
	<-started

	// The job is still running; a second due tick must be skipped
	// rather than stacking a concurrent instance (max_instances=1).
	s.Tick(context.Background(), now.Add(time.Second))
	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_MisfireGraceRecoversMissedBucket(t *testing.T) {
	s := NewScheduler(zerolog.Nop(), nil)
	var runs int32
	s.AddJob(Job{
		ID:           "daily-ten",
		Cron:         "0 10 * * *",
		MisfireGrace: 10 * time.Minute,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), base)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))

	// A long gap (the process was paused) lands the next tick five
	// minutes after the 10:00 bucket, which no longer matches "0 10 * * *"
	// on its own, so misfire recovery must catch it within the grace window.
	s.Tick(context.Background(), base.Add(65*time.Minute))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "missed 10:00 bucket should still fire within MisfireGrace")

	// The recovered bucket must not fire twice.
	s.Tick(context.Background(), base.Add(66*time.Minute))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_JobTimezoneShiftsCronEvaluation(t *testing.T) {
	s := NewScheduler(zerolog.Nop(), nil)
	var runs int32
	s.AddJob(Job{
		ID:   "ny-morning",
		Cron: "0 9 * * *",
		TZ:   "America/New_York",
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	// 9am UTC is not 9am in New York (UTC-5 in January), so this tick
	// must not fire the job.
	s.Tick(context.Background(), time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))

	// 9am in New York is 14:00 UTC in January (EST, UTC-5).
	s.Tick(context.Background(), time.Date(2025, 1, 1, 14, 0, 0, 0, time.UTC))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_RunStopsOnContextCancel(t *testing.T) {
	s := NewScheduler(zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	require.True(t, true)
}
