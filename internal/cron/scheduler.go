package cron

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sawpanic/mdcollector/internal/metrics"
)

// Job is one scheduled unit of work: either a cron-matched job (Cron
// set) or a fixed-cadence job (Interval set), mirroring
// start_scheduler's mix of scheduler.add_job(..., 'cron', ...) and
// scheduler.add_job(..., 'interval', ...) calls.
type Job struct {
	ID       string
	Cron     string
	Interval time.Duration

	// TZ is the IANA zone the Cron expression is evaluated in (e.g.
	// "America/New_York"). Empty means UTC, matching APScheduler's
	// default when a job omits timezone=.
	TZ string

	// MisfireGrace bounds how far back Tick will look for a cron
	// bucket this job should have fired in but missed, e.g. because
	// the process was paused or a Tick was delayed past the next
	// due minute. Zero disables misfire recovery for this job.
	MisfireGrace time.Duration

	Run func(ctx context.Context) error
}

// Scheduler drives a set of Jobs against a ticking clock, matching
// main.py's job_defaults: coalesce (a job that missed ticks while
// running catches up with a single run, not one per missed tick),
// max_instances=1 (an already-running job is skipped rather than
// stacked), grounded on start_scheduler's BlockingScheduler
// configuration.
type Scheduler struct {
	log     zerolog.Logger
	metrics *metrics.Registry

	mu         sync.Mutex
	jobs       []Job
	locations  map[string]*time.Location
	running    map[string]bool
	lastBucket map[string]string    // cron jobs: the "YYYY-MM-DD HH:MM" bucket last run in
	nextRun    map[string]time.Time // interval jobs: when the job is next due
	lastTick   time.Time
}

// NewScheduler builds an empty Scheduler.
func NewScheduler(log zerolog.Logger, m *metrics.Registry) *Scheduler {
	return &Scheduler{
		log:        log,
		metrics:    m,
		locations:  make(map[string]*time.Location),
		running:    make(map[string]bool),
		lastBucket: make(map[string]string),
		nextRun:    make(map[string]time.Time),
	}
}

// AddJob registers a job. Exactly one of Cron/Interval should be set;
// a job with neither never fires. An unresolvable TZ falls back to UTC
// with a warning rather than rejecting the job outright.
func (s *Scheduler) AddJob(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
	if j.Interval > 0 {
		s.nextRun[j.ID] = time.Now()
	}

	loc := time.UTC
	if j.TZ != "" {
		if l, err := time.LoadLocation(j.TZ); err == nil {
			loc = l
		} else {
			s.log.Warn().Err(err).Str("job_id", j.ID).Str("tz", j.TZ).Msg("unknown job timezone, defaulting to UTC")
		}
	}
	s.locations[j.ID] = loc
}

// Tick evaluates every registered job against now and runs whichever
// are due, launching each in its own goroutine so a slow job never
// delays the others' due-check, matching BlockingScheduler's
// multi-job concurrency.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var gap time.Duration
	if !s.lastTick.IsZero() {
		gap = now.Sub(s.lastTick)
	}
	s.lastTick = now

	due := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if s.isDue(j, now, gap) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		go s.runJob(ctx, j, now)
	}
}

// isDue must be called with s.mu held. It implements coalescing: a
// cron job fires at most once per minute bucket, an interval job fires
// at most once per Interval, regardless of how many Tick calls land
// within that window. gap is how long it has been since the previous
// Tick; a gap bigger than normal (the process was paused, or a tick
// was simply late) can hide a bucket the job should have fired in,
// which checkMisfire recovers within the job's MisfireGrace window.
func (s *Scheduler) isDue(j Job, now time.Time, gap time.Duration) bool {
	if j.Cron != "" {
		local := now.In(s.locationFor(j.ID))

		if Matches(j.Cron, local) {
			bucket := local.Format("2006-01-02 15:04")
			if s.lastBucket[j.ID] == bucket {
				return false
			}
			s.lastBucket[j.ID] = bucket
			return true
		}

		if j.MisfireGrace > 0 && gap > time.Minute {
			return s.checkMisfire(j, local, gap)
		}
		return false
	}

	if j.Interval > 0 {
		next, ok := s.nextRun[j.ID]
		if ok && now.Before(next) {
			return false
		}
		s.nextRun[j.ID] = now.Add(j.Interval)
		return true
	}

	return false
}

// checkMisfire scans backwards, minute by minute, from local for a
// bucket within MisfireGrace (bounded by gap, the actual tick-to-tick
// gap) that matched j.Cron but was never marked as fired. It recovers
// at most one missed bucket per call, mirroring APScheduler's
// misfire_grace_time: an old miss still gets run once, but the
// scheduler doesn't replay every bucket it slept through.
func (s *Scheduler) checkMisfire(j Job, local time.Time, gap time.Duration) bool {
	window := j.MisfireGrace
	if gap < window {
		window = gap
	}

	for d := time.Minute; d <= window; d += time.Minute {
		t := local.Add(-d)
		if !Matches(j.Cron, t) {
			continue
		}
		bucket := t.Format("2006-01-02 15:04")
		if s.lastBucket[j.ID] == bucket {
			continue
		}
		s.lastBucket[j.ID] = bucket
		return true
	}
	return false
}

// locationFor returns the resolved zone for job id, defaulting to UTC
// for a job Tick hasn't seen registered via AddJob (should not happen
// in practice, but keeps isDue total).
func (s *Scheduler) locationFor(id string) *time.Location {
	if loc, ok := s.locations[id]; ok {
		return loc
	}
	return time.UTC
}

// runJob executes j, skipping it entirely if a previous run is still
// in flight (max_instances=1) and recording scheduler metrics for
// every run that does execute, matching _wrap_job's timing/outcome
// bookkeeping.
func (s *Scheduler) runJob(ctx context.Context, j Job, firedAt time.Time) {
	s.mu.Lock()
	if s.running[j.ID] {
		s.mu.Unlock()
		s.log.Warn().Str("job_id", j.ID).Msg("skipping run, previous instance still in flight")
		return
	}
	s.running[j.ID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[j.ID] = false
		s.mu.Unlock()
	}()

	start := time.Now()
	err := j.Run(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "failure"
		s.log.Error().Err(err).Str("job_id", j.ID).Msg("scheduler job failed")
	}
	if s.metrics != nil {
		s.metrics.RecordSchedulerJobRun(j.ID, status, duration, firedAt.Unix())
	}
}

// Run blocks, ticking every tickInterval until ctx is cancelled. A
// tickInterval of one second is enough resolution for both cron's
// minute-granularity and any sub-minute fixed interval a source
// declares.
func (s *Scheduler) Run(ctx context.Context, tickInterval time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s.Tick(ctx, t)
		}
	}
}
