// Package retention removes finished jobs once they age past the configured
// retention window. It runs beside the workflow manager and only ever deletes
// completed, failed, or canceled jobs; artifacts stay in the store.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"lipsync/internal/config"
	"lipsync/internal/logging"
)

// Pruner deletes terminal jobs last updated before cutoff.
type Pruner interface {
	PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor prunes on a cron schedule.
type Janitor struct {
	store     Pruner
	retention time.Duration
	schedule  cron.Schedule
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a janitor from the workflow retention settings.
func New(cfg *config.Config, store Pruner, logger *slog.Logger) (*Janitor, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("retention janitor requires config and store")
	}
	schedule, err := cfg.PruneSchedule()
	if err != nil {
		return nil, fmt.Errorf("parse prune schedule: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Janitor{
		store:     store,
		retention: cfg.Retention(),
		schedule:  schedule,
		logger:    logging.NewComponentLogger(logger, "retention"),
		now:       time.Now,
	}, nil
}

// Enabled reports whether a retention window is configured.
func (j *Janitor) Enabled() bool {
	return j != nil && j.retention > 0
}

// Prune deletes finished jobs older than the retention window.
func (j *Janitor) Prune(ctx context.Context) (int64, error) {
	if !j.Enabled() {
		return 0, nil
	}
	removed, err := j.store.PruneTerminal(ctx, j.now().Add(-j.retention))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		j.logger.Info("pruned finished jobs",
			logging.String(logging.FieldEventType, "jobs_pruned"),
			logging.Int64("count", removed),
			logging.Duration("older_than", j.retention),
		)
	}
	return removed, nil
}

// Run prunes once immediately and then on every schedule tick until ctx
// ends. It returns at once when retention is disabled.
func (j *Janitor) Run(ctx context.Context) {
	if !j.Enabled() {
		return
	}
	for {
		if _, err := j.Prune(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(j.logger, "job pruning failed", "jobs_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check job database access"),
				logging.String(logging.FieldImpact, "finished jobs accumulate until the next run"),
			)
		}
		timer := time.NewTimer(time.Until(j.schedule.Next(j.now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
