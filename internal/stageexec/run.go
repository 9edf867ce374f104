package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/stage"
)

// Result summarizes how a stage run ended.
type Result string

const (
	// ResultCompleted means the stage produced its output.
	ResultCompleted Result = "completed"
	// ResultFailed means the stage ended in error and the job failed.
	ResultFailed Result = "failed"
	// ResultCanceled means a cancellation request was honoured.
	ResultCanceled Result = "canceled"
	// ResultInterrupted means the process is shutting down; the record is left
	// for recovery on the next start.
	ResultInterrupted Result = "interrupted"
)

const defaultStageTimeout = 5 * time.Minute

// completionAttempts bounds how often a finished stage's output is written
// back before the run gives up and leaves the stage for recovery.
const completionAttempts = 5

const completionRetryDelay = 50 * time.Millisecond

// JobStore is the persistence an Executor writes stage transitions to.
type JobStore interface {
	Mutate(ctx context.Context, id string, fn func(*jobs.Job) error) (*jobs.Job, error)
}

// Outcome is the result of Run together with the last persisted job state.
type Outcome struct {
	Job    *jobs.Job
	Result Result
	// Err is the classified stage error for failed and canceled outcomes.
	Err error
}

// Options configures an Executor.
type Options struct {
	Store    JobStore
	Registry *stage.Registry
	Logger   *slog.Logger
	Retry    RetryPolicy
	// Timeout returns the per-invocation deadline for a stage.
	Timeout func(stage.Name) time.Duration
	// CancelSignal returns a channel closed when cancellation of the job is
	// requested. Nil means cancellation is only seen at the next transition.
	CancelSignal func(jobID string) <-chan struct{}
	// Rand feeds backoff jitter; nil uses math/rand.
	Rand func() float64
}

// Executor runs one stage of one job with retry, progress persistence, and
// cooperative cancellation.
type Executor struct {
	opts   Options
	logger *slog.Logger
}

// New constructs an Executor.
func New(opts Options) *Executor {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Executor{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "stageexec"),
	}
}

var errStageSettled = errors.New("stage no longer runnable")

// Run executes stage idx of job until it completes, fails, is canceled, or
// the process shuts down. Persistence failures are returned as errors; stage
// failures are reported through the Outcome.
func (e *Executor) Run(ctx context.Context, job *jobs.Job, idx int) (Outcome, error) {
	if e.opts.Store == nil {
		return Outcome{}, errors.New("job store is required")
	}
	if job == nil || idx < 0 || idx >= len(job.Stages) {
		return Outcome{}, fmt.Errorf("stage index %d out of range", idx)
	}
	name := job.Stages[idx].Name
	ctx = services.WithStage(services.WithJobID(ctx, job.ID), string(name))
	logger := logging.WithContext(ctx, e.logger)

	adapter, ok := e.opts.Registry.Lookup(name)
	if !ok {
		err := services.Wrap(services.ErrFatal, string(name), "lookup adapter", "no adapter configured for stage", nil)
		return e.fail(ctx, logger, job.ID, idx, err)
	}

	sampler := logging.NewProgressSampler(10)
	for {
		current, canceled, err := e.begin(ctx, job.ID, idx)
		if err != nil {
			if errors.Is(err, errStageSettled) {
				return Outcome{Job: current, Result: resultFor(current, idx)}, nil
			}
			if ctx.Err() != nil {
				return Outcome{Job: current, Result: ResultInterrupted}, nil
			}
			return Outcome{}, err
		}
		if canceled {
			logger.Info("stage canceled",
				logging.String(logging.FieldEventType, "stage_canceled"),
				logging.Int(logging.FieldAttempt, current.Stages[idx].Attempt),
			)
			return Outcome{Job: current, Result: ResultCanceled, Err: services.Wrap(services.ErrCanceled, string(name), "run", "canceled by request", nil)}, nil
		}

		attempt := current.Stages[idx].Attempt
		attemptLogger := logger.With(logging.Int(logging.FieldAttempt, attempt))
		attemptLogger.Info("stage started",
			logging.String(logging.FieldEventType, "stage_start"),
			logging.Int("max_attempts", e.opts.Retry.MaxAttempts),
		)

		sampler.Reset()
		started := time.Now()
		out, invokeErr := e.invoke(ctx, adapter, buildInput(current, idx), e.progressFunc(ctx, attemptLogger, job.ID, idx, attempt, sampler))

		if invokeErr == nil {
			if out.Artifact == "" {
				invokeErr = services.Wrap(services.ErrFatal, string(name), "invoke", "collaborator returned no artifact", nil)
			} else {
				// A finished invocation is recorded even while shutting down.
				completed, err := e.persistCompletion(context.WithoutCancel(ctx), attemptLogger, job.ID, idx, out)
				if err != nil {
					return Outcome{}, err
				}
				attemptLogger.Info("stage completed",
					logging.String(logging.FieldEventType, "stage_complete"),
					logging.String("artifact_id", out.Artifact),
					logging.Duration("elapsed", time.Since(started)),
					logging.String("job_status", string(completed.Status)),
				)
				return Outcome{Job: completed, Result: ResultCompleted}, nil
			}
		}

		if ctx.Err() != nil {
			attemptLogger.Info("stage interrupted by shutdown",
				logging.String(logging.FieldEventType, "stage_interrupted"),
				logging.Error(invokeErr),
			)
			return Outcome{Job: current, Result: ResultInterrupted}, nil
		}

		classified := services.ClassifyInvocation(ctx, string(name), invokeErr)
		if services.IsRetryable(classified) && attempt < e.opts.Retry.MaxAttempts {
			delay := e.opts.Retry.Backoff(attempt, e.opts.Rand)
			logging.WarnWithContext(attemptLogger, "stage attempt failed; retrying", "stage_retry",
				logging.Error(classified),
				logging.Duration("backoff", delay),
				logging.String(logging.FieldErrorHint, "collaborator reported a transient failure"),
				logging.String(logging.FieldImpact, "stage will be retried"),
			)
			if !e.wait(ctx, job.ID, delay) {
				return Outcome{Job: current, Result: ResultInterrupted}, nil
			}
			continue
		}

		return e.fail(ctx, attemptLogger, job.ID, idx, classified)
	}
}

// begin performs the start-of-attempt transition: honour a pending cancel
// request, otherwise mark the stage processing with a fresh attempt.
func (e *Executor) begin(ctx context.Context, jobID string, idx int) (*jobs.Job, bool, error) {
	var (
		canceled bool
		settled  bool
	)
	updated, err := e.opts.Store.Mutate(ctx, jobID, func(job *jobs.Job) error {
		canceled, settled = false, false
		rec := &job.Stages[idx]
		if job.IsTerminal() || rec.Status == jobs.StageCompleted || rec.Status == jobs.StageError {
			settled = true
			return jobs.ErrNoChange
		}
		now := time.Now().UTC()
		if job.CancelRequested {
			rec.Status = jobs.StageError
			rec.Error = &jobs.StageFailure{Code: services.CodeCanceled, Message: "canceled by request"}
			rec.FinishedAt = &now
			job.Status = jobs.StatusCanceled
			job.Owner = ""
			canceled = true
			return nil
		}
		rec.Status = jobs.StageProcessing
		rec.Attempt++
		rec.Progress = 0
		rec.Error = nil
		rec.StartedAt = &now
		rec.FinishedAt = nil
		job.Status = jobs.StatusRunning
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("persist stage start: %w", err)
	}
	if settled {
		return updated, false, errStageSettled
	}
	return updated, canceled, nil
}

func (e *Executor) invoke(ctx context.Context, adapter stage.Adapter, in stage.Input, progress stage.ProgressFunc) (out stage.Output, err error) {
	timeout := defaultStageTimeout
	if e.opts.Timeout != nil {
		if configured := e.opts.Timeout(in.Stage); configured > 0 {
			timeout = configured
		}
	}
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrFatal, string(in.Stage), "invoke", fmt.Sprintf("adapter panicked: %v", r), nil)
		}
	}()
	return adapter.Invoke(invokeCtx, in, progress)
}

func (e *Executor) progressFunc(ctx context.Context, logger *slog.Logger, jobID string, idx, attempt int, sampler *logging.ProgressSampler) stage.ProgressFunc {
	var mu sync.Mutex
	return func(percent float64) {
		mu.Lock()
		defer mu.Unlock()
		value, emit := sampler.Observe(percent)
		if !emit || ctx.Err() != nil {
			return
		}
		_, err := e.opts.Store.Mutate(ctx, jobID, func(job *jobs.Job) error {
			rec := &job.Stages[idx]
			if job.IsTerminal() || rec.Status != jobs.StageProcessing || rec.Attempt != attempt || int(value) <= rec.Progress {
				return jobs.ErrNoChange
			}
			rec.Progress = int(value)
			return nil
		})
		if err != nil {
			logging.WarnWithContext(logger, "stage progress not persisted", "progress_persist_failed",
				logging.Error(err),
				logging.Float64("progress", value),
				logging.String(logging.FieldErrorHint, "check job database access"),
				logging.String(logging.FieldImpact, "status may lag until the next update"),
			)
			return
		}
		logger.Debug("stage progress",
			logging.String(logging.FieldEventType, "stage_progress"),
			logging.Float64("progress", value),
		)
	}
}

// persistCompletion records out, retrying store failures so the collaborator
// is not invoked again for work that already finished.
func (e *Executor) persistCompletion(ctx context.Context, logger *slog.Logger, jobID string, idx int, out stage.Output) (*jobs.Job, error) {
	var lastErr error
	for n := 1; n <= completionAttempts; n++ {
		completed, err := e.complete(ctx, jobID, idx, out)
		if err == nil {
			return completed, nil
		}
		lastErr = err
		logging.WarnWithContext(logger, "stage output not persisted; retrying", "stage_persist_retry",
			logging.Error(err),
			logging.Int("persist_attempt", n),
			logging.String("artifact_id", out.Artifact),
			logging.String(logging.FieldErrorHint, "job store rejected the completion write"),
			logging.String(logging.FieldImpact, "output is kept and the write is retried"),
		)
		if n < completionAttempts {
			time.Sleep(completionRetryDelay * time.Duration(n))
		}
	}
	return nil, lastErr
}

func (e *Executor) complete(ctx context.Context, jobID string, idx int, out stage.Output) (*jobs.Job, error) {
	updated, err := e.opts.Store.Mutate(ctx, jobID, func(job *jobs.Job) error {
		if job.IsTerminal() {
			return jobs.ErrNoChange
		}
		now := time.Now().UTC()
		rec := &job.Stages[idx]
		rec.Status = jobs.StageCompleted
		rec.Progress = 100
		rec.Error = nil
		rec.Output = out.Artifact
		rec.URL = out.URL
		rec.ExternalID = out.ExternalID
		rec.FinishedAt = &now
		if job.NextStage() == -1 {
			job.Status = jobs.StatusCompleted
			job.Owner = ""
			job.Result = &jobs.Result{ArtifactID: out.Artifact, URL: out.URL, ExternalID: out.ExternalID}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist stage completion: %w", err)
	}
	return updated, nil
}

// fail records a terminal stage error. A transient failure on a job whose
// cancellation was requested is recorded as canceled.
func (e *Executor) fail(ctx context.Context, logger *slog.Logger, jobID string, idx int, stageErr error) (Outcome, error) {
	result := ResultFailed
	updated, err := e.opts.Store.Mutate(context.WithoutCancel(ctx), jobID, func(job *jobs.Job) error {
		result = ResultFailed
		if job.IsTerminal() {
			return jobs.ErrNoChange
		}
		code := services.CodeOf(stageErr)
		message := services.Message(stageErr)
		status := jobs.StatusFailed
		if job.CancelRequested && code == services.CodeTransient {
			code = services.CodeCanceled
			message = "canceled by request"
			status = jobs.StatusCanceled
			result = ResultCanceled
		}
		now := time.Now().UTC()
		rec := &job.Stages[idx]
		rec.Status = jobs.StageError
		rec.Error = &jobs.StageFailure{Code: code, Message: message}
		rec.FinishedAt = &now
		job.Status = status
		job.Owner = ""
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("persist stage failure: %w", err)
	}
	if result == ResultCanceled {
		logger.Info("stage canceled",
			logging.String(logging.FieldEventType, "stage_canceled"),
		)
		return Outcome{Job: updated, Result: result, Err: services.Wrap(services.ErrCanceled, "", "run", "canceled by request", stageErr)}, nil
	}
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String(logging.FieldErrorCode, string(services.CodeOf(stageErr))),
		logging.Error(stageErr),
		logging.String(logging.FieldErrorHint, "inspect the collaborator error and resubmit the document"),
	)
	return Outcome{Job: updated, Result: resultFor(updated, idx), Err: stageErr}, nil
}

// wait sleeps for the backoff delay. It returns false when the process is
// shutting down and true otherwise, including when cancellation was requested.
func (e *Executor) wait(ctx context.Context, jobID string, delay time.Duration) bool {
	var cancelCh <-chan struct{}
	if e.opts.CancelSignal != nil {
		cancelCh = e.opts.CancelSignal(jobID)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-cancelCh:
		return true
	case <-timer.C:
		return true
	}
}

func buildInput(job *jobs.Job, idx int) stage.Input {
	outputs := job.Outputs()
	source := job.InputArtifact
	if idx > 0 {
		source = job.Stages[idx-1].Output
	}
	return stage.Input{
		JobID:         job.ID,
		Stage:         job.Stages[idx].Name,
		Attempt:       job.Stages[idx].Attempt,
		Source:        source,
		Outputs:       outputs,
		Settings:      job.Settings,
		DocumentName:  job.DocumentName,
		InputArtifact: job.InputArtifact,
	}
}

func resultFor(job *jobs.Job, idx int) Result {
	if job == nil {
		return ResultInterrupted
	}
	switch job.Status {
	case jobs.StatusCanceled:
		return ResultCanceled
	case jobs.StatusFailed:
		return ResultFailed
	}
	if idx >= 0 && idx < len(job.Stages) && job.Stages[idx].Status == jobs.StageCompleted {
		return ResultCompleted
	}
	return ResultFailed
}
