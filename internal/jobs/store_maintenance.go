package jobs

import (
	"context"
	"fmt"
	"time"
)

// ResetInterrupted returns jobs abandoned by a previous process to the queue.
// Any processing stage goes back to waiting with its progress cleared and
// attempt count kept, the owner is released, and the job becomes queued so the
// pool resumes it at its first incomplete stage.
func (s *Store) ResetInterrupted(ctx context.Context) ([]string, error) {
	candidates, err := s.List(ctx, StatusQueued, StatusRunning)
	if err != nil {
		return nil, err
	}
	var reset []string
	for _, candidate := range candidates {
		if candidate.Status != StatusRunning && candidate.Owner == "" {
			continue
		}
		_, err := s.Mutate(ctx, candidate.ID, func(job *Job) error {
			if job.IsTerminal() || (job.Status != StatusRunning && job.Owner == "") {
				return ErrNoChange
			}
			for i := range job.Stages {
				if job.Stages[i].Status == StageProcessing {
					job.Stages[i].Status = StageWaiting
					job.Stages[i].Progress = 0
					job.Stages[i].StartedAt = nil
				}
			}
			job.Status = StatusQueued
			job.Owner = ""
			return nil
		})
		if err != nil {
			return reset, fmt.Errorf("reset job %s: %w", candidate.ID, err)
		}
		reset = append(reset, candidate.ID)
	}
	return reset, nil
}

// PruneTerminal deletes terminal jobs last updated before cutoff. Artifacts are
// left in place.
func (s *Store) PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(StatusCompleted),
		string(StatusFailed),
		string(StatusCanceled),
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}
