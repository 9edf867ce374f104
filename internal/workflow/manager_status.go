package workflow

import (
	"context"

	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	ActiveJobs  int
	LastError   string
	Counts      map[jobs.Status]int
	StageHealth []stage.Health
}

// Ready reports whether the pool is running and every stage collaborator is healthy.
func (s StatusSummary) Ready() bool {
	if !s.Running {
		return false
	}
	for _, h := range s.StageHealth {
		if !h.Ready {
			return false
		}
	}
	return true
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	active := m.active
	m.mu.RUnlock()

	counts, err := m.store.Counts(ctx)
	if err != nil {
		m.logger.Warn("failed to read job counts",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_counts_failed"),
			logging.String(logging.FieldErrorHint, "check job database access"),
			logging.String(logging.FieldImpact, "health report omits job counts"),
		)
	}

	summary := StatusSummary{Running: running, ActiveJobs: active, Counts: counts}
	if m.registry != nil {
		summary.StageHealth = m.registry.Health(ctx)
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) trackActive(delta int) {
	m.mu.Lock()
	m.active += delta
	m.mu.Unlock()
}
