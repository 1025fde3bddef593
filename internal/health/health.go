// Package health aggregates the collector's operational status for the
// /healthz endpoint, adapted from internal/datasources/health.go: the
// snapshot shape (per-source breaker state, overall health rollup) is
// kept, but it now reads from this repository's circuit.Manager and
// persistence.RepositoryHealth rather than the teacher's REST-provider
// quota/budget manager.
package health

import (
	"context"
	"time"

	"github.com/sawpanic/mdcollector/internal/circuit"
	"github.com/sawpanic/mdcollector/internal/persistence"
)

// SourceHealth reports one connector source's circuit state.
type SourceHealth struct {
	Source string `json:"source"`
	State  string `json:"state"`
}

// Summary rolls up the snapshot into a single overall/healthy verdict.
type Summary struct {
	SourcesHealthy int `json:"sources_healthy"`
	SourcesTotal   int `json:"sources_total"`
}

// Snapshot is the full /healthz payload.
type Snapshot struct {
	Timestamp     time.Time              `json:"timestamp"`
	OverallHealth string                 `json:"overall_health"` // healthy, degraded, unhealthy
	Database      persistence.HealthCheck `json:"database"`
	Sources       []SourceHealth         `json:"sources"`
	Summary       Summary                `json:"summary"`
}

// Manager produces health snapshots from the live circuit manager and
// database connection pool.
type Manager struct {
	circuits *circuit.Manager
	db       persistence.RepositoryHealth
	sources  []string
}

// NewManager wires a health Manager. sources lists every connector
// source name the snapshot reports on; other names the circuit.Manager
// tracks are not included.
func NewManager(circuits *circuit.Manager, db persistence.RepositoryHealth, sources []string) *Manager {
	return &Manager{circuits: circuits, db: db, sources: sources}
}

// Snapshot builds the current health view.
func (m *Manager) Snapshot(ctx context.Context) Snapshot {
	dbHealth := m.db.Health(ctx)

	sources := make([]SourceHealth, 0, len(m.sources))
	healthy := 0
	for _, s := range m.sources {
		state := m.circuits.State(s).String()
		sources = append(sources, SourceHealth{Source: s, State: state})
		if state != "open" {
			healthy++
		}
	}

	overall := "healthy"
	switch {
	case !dbHealth.Healthy:
		overall = "unhealthy"
	case len(m.sources) > 0 && healthy < len(m.sources):
		overall = "degraded"
	}

	return Snapshot{
		Timestamp:     time.Now(),
		OverallHealth: overall,
		Database:      dbHealth,
		Sources:       sources,
		Summary: Summary{
			SourcesHealthy: healthy,
			SourcesTotal:   len(m.sources),
		},
	}
}
