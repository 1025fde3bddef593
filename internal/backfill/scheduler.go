// Package backfill implements the C6 gap-detection and backfill task
// state machine, grounded on schedulers/backfill_scheduler.py.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sawpanic/mdcollector/internal/connector"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/persistence"
	"github.com/sawpanic/mdcollector/internal/timeframe"
)

// Gap is one detected hole in a market/timeframe's candle history.
type Gap struct {
	MarketID  int64
	Timeframe string
	Start     time.Time
	End       time.Time
}

// Scheduler detects gaps and drives backfill tasks through
// pending -> running -> completed/failed, matching
// backfill_scheduler.py's BackfillScheduler.
type Scheduler struct {
	ohlcv      persistence.OHLCVRepo
	tasks      persistence.BackfillRepo
	log        zerolog.Logger
	maxRetries int
}

// NewScheduler builds a Scheduler.
func NewScheduler(ohlcv persistence.OHLCVRepo, tasks persistence.BackfillRepo, log zerolog.Logger) *Scheduler {
	return &Scheduler{ohlcv: ohlcv, tasks: tasks, log: log, maxRetries: 3}
}

// CheckDataGaps compares the expected bucket sequence for
// [from, to) against what is actually stored and returns every
// contiguous run of missing buckets as a Gap, including a trailing gap
// that runs up to "to" if the series stops early. Runs separated by a
// single present bucket are collapsed into one Gap: a lone present
// bucket between two holes usually means one candle trickled in late,
// not that the hole actually healed, so treating it as a boundary would
// fragment what is really one outage into two low-priority tasks.
func (s *Scheduler) CheckDataGaps(ctx context.Context, marketID int64, tf string, from, to time.Time) ([]Gap, error) {
	buckets, err := timeframe.Buckets(tf, from, to)
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	present, err := s.ohlcv.HasDataBetween(ctx, marketID, tf, buckets)
	if err != nil {
		return nil, fmt.Errorf("check data gaps: %w", err)
	}

	interval, _ := timeframe.Duration(tf)

	var gaps []Gap
	var gapStart time.Time
	inGap := false

	for _, b := range buckets {
		if present[b] {
			if inGap {
				gaps = append(gaps, Gap{MarketID: marketID, Timeframe: tf, Start: gapStart, End: b})
				inGap = false
			}
			continue
		}
		if !inGap {
			gapStart = b
			inGap = true
		}
	}
	if inGap {
		gaps = append(gaps, Gap{MarketID: marketID, Timeframe: tf, Start: gapStart, End: buckets[len(buckets)-1].Add(interval)})
	}

	return collapseSingleBucketGaps(gaps, interval), nil
}

// collapseSingleBucketGaps merges adjacent gaps that are separated by
// exactly one present bucket (gaps[i+1].Start == gaps[i].End+interval)
// into a single Gap spanning both runs.
func collapseSingleBucketGaps(gaps []Gap, interval time.Duration) []Gap {
	if len(gaps) < 2 || interval <= 0 {
		return gaps
	}

	merged := []Gap{gaps[0]}
	for _, g := range gaps[1:] {
		last := &merged[len(merged)-1]
		if g.Start.Sub(last.End) == interval {
			last.End = g.End
			continue
		}
		merged = append(merged, g)
	}
	return merged
}

// CreateTasksForGaps converts detected gaps into pending backfill tasks,
// prioritizing more recent gaps (they are more likely to still matter to
// a live strategy) over older ones.
func (s *Scheduler) CreateTasksForGaps(ctx context.Context, dataType string, gaps []Gap) ([]int64, error) {
	ids := make([]int64, 0, len(gaps))
	now := time.Now()

	for _, g := range gaps {
		priority := priorityForAge(now.Sub(g.End)) + priorityForRunLength(g.End.Sub(g.Start))
		tf := g.Timeframe
		id, err := s.tasks.Create(ctx, domain.BackfillTask{
			MarketID:   g.MarketID,
			DataType:   dataType,
			Timeframe:  &tf,
			GapStart:   g.Start,
			GapEnd:     g.End,
			Priority:   priority,
			MaxRetries: s.maxRetries,
		})
		if err != nil {
			return ids, fmt.Errorf("create backfill task for gap %s-%s: %w", g.Start, g.End, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func priorityForAge(age time.Duration) int {
	switch {
	case age < 24*time.Hour:
		return 10
	case age < 7*24*time.Hour:
		return 5
	default:
		return 1
	}
}

// priorityForRunLength adds weight for gaps spanning a long run of
// missing buckets, so a week-long outage doesn't queue behind a dozen
// single-candle misses purely because it ended less recently.
func priorityForRunLength(runLength time.Duration) int {
	switch {
	case runLength >= 7*24*time.Hour:
		return 10
	case runLength >= 24*time.Hour:
		return 5
	default:
		return 1
	}
}

// Fetcher re-collects the candle data for one backfill task, provided
// by the orchestrator (it already knows which connector serves a
// market).
type Fetcher func(ctx context.Context, task domain.BackfillTask) ([]domain.OHLCVBar, error)

// RunPending claims up to limit pending tasks for dataType, executes
// each via fetch, persists the results, and transitions each task to
// completed or failed. A task's own error never aborts the run for the
// others, matching the orchestrator's per-item isolation pattern.
func (s *Scheduler) RunPending(ctx context.Context, dataType string, limit int, fetch Fetcher, store func(ctx context.Context, bars []domain.OHLCVBar) error) (completed, failed int, err error) {
	pending, err := s.tasks.PendingTasks(ctx, dataType, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending tasks: %w", err)
	}

	for _, task := range pending {
		if err := s.tasks.MarkRunning(ctx, task.ID); err != nil {
			s.log.Error().Err(err).Int64("task_id", task.ID).Msg("mark running failed")
			continue
		}

		bars, ferr := fetch(ctx, task)
		if ferr == nil && len(bars) > 0 {
			ferr = store(ctx, bars)
		}

		if ferr != nil {
			if err := s.tasks.MarkFailed(ctx, task.ID, ferr.Error()); err != nil {
				s.log.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed failed")
			}
			failed++
			s.log.Warn().Err(ferr).Int64("task_id", task.ID).Msg("backfill task failed")
			continue
		}

		if err := s.tasks.MarkCompleted(ctx, task.ID); err != nil {
			s.log.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed failed")
			continue
		}
		completed++
	}

	return completed, failed, nil
}

// RetryFailed resets eligible failed tasks back to pending.
func (s *Scheduler) RetryFailed(ctx context.Context, maxTasks int) (int, error) {
	return s.tasks.RetryFailed(ctx, maxTasks)
}

// Cleanup deletes completed tasks older than retention.
func (s *Scheduler) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	return s.tasks.CleanupCompleted(ctx, time.Now().Add(-retention))
}

// ensure the connector package is exercised by this file's Fetcher
// signature's natural callers (the orchestrator), not unused here.
var _ connector.OHLCVConnector
