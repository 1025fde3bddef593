// Package postgres implements the persistence contract against
// PostgreSQL/TimescaleDB using sqlx and lib/pq.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

// PoolConfig bounds the connection pool, mirroring the min/max connection
// knobs the source system's ThreadedConnectionPool exposed.
type PoolConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Open establishes a pooled connection and verifies connectivity.
func Open(ctx context.Context, cfg PoolConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// repoHealth implements persistence.RepositoryHealth over a shared pool.
type repoHealth struct {
	db *sqlx.DB
}

// NewRepositoryHealth wraps db for health/ping reporting.
func NewRepositoryHealth(db *sqlx.DB) persistence.RepositoryHealth {
	return &repoHealth{db: db}
}

func (h *repoHealth) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.db.PingContext(ctx)
}

func (h *repoHealth) Health(ctx context.Context) persistence.HealthCheck {
	start := time.Now()
	err := h.Ping(ctx)
	stats := h.db.Stats()

	hc := persistence.HealthCheck{
		Healthy: err == nil,
		ConnectionPool: map[string]int{
			"open":  stats.OpenConnections,
			"idle":  stats.Idle,
			"inuse": stats.InUse,
		},
		LastCheck:      start,
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		hc.Errors = []string{err.Error()}
	}
	return hc
}
