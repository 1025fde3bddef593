package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

type backfillRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBackfillRepo creates a PostgreSQL-backed BackfillRepo, grounded on
// backfill_scheduler.py's task table operations.
func NewBackfillRepo(db *sqlx.DB, timeout time.Duration) persistence.BackfillRepo {
	return &backfillRepo{db: db, timeout: timeout}
}

func (r *backfillRepo) Create(ctx context.Context, task domain.BackfillTask) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if task.MaxRetries == 0 {
		task.MaxRetries = 3
	}

	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO backfill_tasks (
			market_id, data_type, timeframe, gap_start, gap_end, status,
			priority, retry_count, max_retries, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,'pending',$6,0,$7, now(), now())
		RETURNING id`,
		task.MarketID, task.DataType, task.Timeframe, task.GapStart, task.GapEnd,
		task.Priority, task.MaxRetries).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create backfill task: %w", err)
	}
	return id, nil
}

// PendingTasks orders by priority DESC, created_at ASC and locks the
// selected rows FOR UPDATE SKIP LOCKED so concurrent backfill workers
// never claim the same gap twice.
func (r *backfillRepo) PendingTasks(ctx context.Context, dataType string, limit int) ([]domain.BackfillTask, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, market_id, data_type, timeframe, gap_start, gap_end, status,
			priority, retry_count, max_retries, last_error, created_at, updated_at, completed_at
		FROM backfill_tasks
		WHERE status = 'pending'`
	args := []interface{}{}
	if dataType != "" {
		query += ` AND data_type = $1`
		args = append(args, dataType)
	}
	query += fmt.Sprintf(` ORDER BY priority DESC, created_at ASC LIMIT $%d FOR UPDATE SKIP LOCKED`, len(args)+1)
	args = append(args, limit)

	var tasks []domain.BackfillTask
	if err := r.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("pending backfill tasks: %w", err)
	}
	return tasks, nil
}

func (r *backfillRepo) MarkRunning(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE backfill_tasks SET status = 'running', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark running %d: %w", id, err)
	}
	return nil
}

func (r *backfillRepo) MarkCompleted(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE backfill_tasks
		SET status = 'completed', updated_at = now(), completed_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark completed %d: %w", id, err)
	}
	return nil
}

func (r *backfillRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE backfill_tasks
		SET status = 'failed', retry_count = retry_count + 1, last_error = $2, updated_at = now()
		WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}
	return nil
}

// RetryFailed resets failed tasks still under their retry budget back to
// pending, matching backfill_scheduler.py's retry_failed_tasks.
func (r *backfillRepo) RetryFailed(ctx context.Context, maxTasks int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE backfill_tasks SET status = 'pending', updated_at = now()
		WHERE id IN (
			SELECT id FROM backfill_tasks
			WHERE status = 'failed' AND retry_count < max_retries
			ORDER BY priority DESC, updated_at ASC
			LIMIT $1
		)`, maxTasks)
	if err != nil {
		return 0, fmt.Errorf("retry failed tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CleanupCompleted deletes completed tasks older than olderThan, matching
// backfill_scheduler.py's cleanup_old_completed_tasks(days=7).
func (r *backfillRepo) CleanupCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM backfill_tasks WHERE status = 'completed' AND completed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup completed tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
