package workflow

import (
	"context"
	"os"

	"lipsync/internal/api"
	"lipsync/internal/artifact"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/notifications"
	"lipsync/internal/services"
	"lipsync/internal/titlefmt"
)

// GetStatus returns the current view of a job.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (api.JobStatusView, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return api.JobStatusView{}, err
	}
	return api.FromJob(job), nil
}

// List returns jobs in submission order, optionally filtered by status.
func (m *Manager) List(ctx context.Context, statuses ...jobs.Status) ([]api.JobStatusView, error) {
	list, err := m.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return api.FromJobs(list), nil
}

// Cancel cancels a queued job immediately or flags a running job so the
// executor stops at its next checkpoint. A queued job a worker has already
// claimed is canceled the same way; that worker finds it settled and reports
// it. In-flight collaborator calls are never interrupted.
func (m *Manager) Cancel(ctx context.Context, jobID string) (api.JobStatusView, error) {
	var immediate, claimed bool
	updated, err := m.store.Mutate(ctx, jobID, func(job *jobs.Job) error {
		immediate, claimed = false, false
		if job.IsTerminal() {
			return services.Wrap(services.ErrAlreadyTerminal, "", "cancel",
				"job "+job.ID+" is already "+string(job.Status), nil)
		}
		job.CancelRequested = true
		if job.Status == jobs.StatusQueued {
			claimed = job.Owner != ""
			job.Status = jobs.StatusCanceled
			job.Owner = ""
			immediate = true
		}
		return nil
	})
	if err != nil {
		return api.JobStatusView{}, err
	}

	logger := logging.WithContext(services.WithJobID(ctx, jobID), m.logger)
	switch {
	case immediate:
		logger.Info("queued job canceled",
			logging.String(logging.FieldEventType, "job_canceled"),
			logging.Bool("claimed", claimed),
		)
		if !claimed {
			m.notify(ctx, notifications.EventJobCanceled, updated)
		}
	default:
		logger.Info("cancellation requested",
			logging.String(logging.FieldEventType, "job_cancel_requested"),
			logging.String("job_status", string(updated.Status)),
		)
		m.signalCancel(ctx, jobID)
	}
	return api.FromJob(updated), nil
}

// Download describes an artifact ready to stream.
type Download struct {
	File     *os.File
	Info     artifact.Info
	FileName string
}

// OpenArtifact opens an artifact for download and derives its file name from
// the owning job's title format and document name.
func (m *Manager) OpenArtifact(ctx context.Context, artifactID string) (*Download, error) {
	if !artifact.ValidID(artifactID) {
		return nil, services.Wrap(services.ErrNotFound, "", "download", "artifact "+artifactID+" not found", nil)
	}
	file, info, err := m.artifacts.Get(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	name := artifactID + info.Extension
	owner, err := m.store.FindByArtifact(ctx, artifactID)
	if err != nil {
		file.Close()
		return nil, err
	}
	if owner != nil {
		name = titlefmt.FileName(owner.Settings.TitleFormat, owner.DocumentName, info.Extension)
	}
	return &Download{File: file, Info: info, FileName: name}, nil
}
