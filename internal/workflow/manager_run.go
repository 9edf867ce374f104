package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/stageexec"
)

// Start recovers interrupted jobs and launches the worker pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.registry == nil {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}
	if err := m.registry.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}

	recovered, err := m.store.ResetInterrupted(ctx)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if len(recovered) > 0 {
		m.logger.Info("requeued interrupted jobs",
			logging.String(logging.FieldEventType, "jobs_recovered"),
			logging.Int("count", len(recovered)),
			logging.Any("job_ids", recovered),
		)
	}

	workers := m.cfg.Workflow.Concurrency
	if workers <= 0 {
		workers = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers)
	m.mu.Unlock()

	for i := 1; i <= workers; i++ {
		owner := fmt.Sprintf("%s/worker-%d", m.instance, i)
		go m.runWorker(runCtx, owner)
	}
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.Int("workers", workers),
	)
	return nil
}

// Stop terminates background processing and waits for workers to exit. Jobs
// left mid-stage are recovered on the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stop"))
}

func (m *Manager) runWorker(ctx context.Context, owner string) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldWorker, owner))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.ClaimNext(ctx, owner)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.waitForWorkOrShutdown(ctx)
			continue
		}
		m.processJob(ctx, logger, owner, job)
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to claim next job", "job_claim_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check job database access"),
	)
	m.sleep(ctx, m.errorRetryInterval())
}

func (m *Manager) waitForWorkOrShutdown(ctx context.Context) {
	wake := m.wakeChannel()
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-wake:
	case <-timer.C:
	}
}

// processJob drives one claimed job stage by stage until it is terminal or the
// worker is shutting down.
func (m *Manager) processJob(ctx context.Context, workerLogger *slog.Logger, owner string, job *jobs.Job) {
	ctx = services.WithWorker(services.WithJobID(ctx, job.ID), owner)
	logger := logging.WithContext(ctx, m.logger)
	m.trackActive(1)
	defer m.trackActive(-1)

	logger.Info("job claimed",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("document", job.DocumentName),
	)
	started := time.Now()
	current := job
	for !current.IsTerminal() {
		if ctx.Err() != nil {
			return
		}
		idx := current.NextStage()
		if idx == -1 {
			finished, err := m.completeFinishedJob(ctx, current)
			if err != nil {
				m.retryAfterError(ctx, workerLogger, current.ID, err)
				if ctx.Err() != nil {
					return
				}
				if current, err = m.store.Get(ctx, current.ID); err != nil {
					return
				}
				continue
			}
			current = finished
			break
		}

		outcome, err := m.executor.Run(ctx, current, idx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.retryAfterError(ctx, workerLogger, current.ID, err)
			reloaded, getErr := m.store.Get(ctx, current.ID)
			if getErr != nil {
				if ctx.Err() == nil {
					m.setLastError(getErr)
				}
				return
			}
			current = reloaded
			continue
		}
		if outcome.Result == stageexec.ResultInterrupted {
			logger.Info("job interrupted by shutdown",
				logging.String(logging.FieldEventType, "job_interrupted"),
			)
			return
		}
		current = outcome.Job
	}

	logger.Info("job finished",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("job_status", string(current.Status)),
		logging.Duration("elapsed", time.Since(started)),
	)
	m.onJobTerminal(ctx, current)
}

// completeFinishedJob settles a job whose stages all completed but whose
// status was never recorded as completed.
func (m *Manager) completeFinishedJob(ctx context.Context, job *jobs.Job) (*jobs.Job, error) {
	return m.store.Mutate(ctx, job.ID, func(j *jobs.Job) error {
		if j.IsTerminal() || j.NextStage() != -1 {
			return jobs.ErrNoChange
		}
		last := j.Stages[len(j.Stages)-1]
		j.Status = jobs.StatusCompleted
		j.Owner = ""
		j.Result = &jobs.Result{ArtifactID: last.Output, URL: last.URL, ExternalID: last.ExternalID}
		return nil
	})
}

func (m *Manager) retryAfterError(ctx context.Context, logger *slog.Logger, jobID string, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "job state could not be persisted; retrying", "job_persist_failed",
		logging.String(logging.FieldJobID, jobID),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check job database access"),
	)
	m.sleep(ctx, m.errorRetryInterval())
}

func (m *Manager) errorRetryInterval() time.Duration {
	interval := time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	return interval
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
