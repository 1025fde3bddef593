package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

type logsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLogsRepo creates a PostgreSQL-backed LogsRepo.
func NewLogsRepo(db *sqlx.DB, timeout time.Duration) persistence.LogsRepo {
	return &logsRepo{db: db, timeout: timeout}
}

func (r *logsRepo) Insert(ctx context.Context, log domain.SystemLog) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctxJSON, err := json.Marshal(log.Context)
	if err != nil {
		return fmt.Errorf("marshal log context: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO system_logs (time, component, level, message, context)
		VALUES ($1, $2, $3, $4, $5)`,
		log.Time, log.Component, log.Level, log.Message, ctxJSON)
	if err != nil {
		return fmt.Errorf("insert system log: %w", err)
	}
	return nil
}
