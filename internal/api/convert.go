package api

import (
	"time"

	"lipsync/internal/jobs"
	"lipsync/internal/services"
	"lipsync/internal/stage"
)

// DownloadPath returns the HTTP path serving an artifact.
func DownloadPath(artifactID string) string {
	return "/api/v1/download/" + artifactID
}

// FromJob converts a job record to its API representation.
func FromJob(job *jobs.Job) JobStatusView {
	if job == nil {
		return JobStatusView{}
	}
	view := JobStatusView{
		JobID:         job.ID,
		Status:        string(job.Status),
		DocumentName:  job.DocumentName,
		InputArtifact: job.InputArtifact,
		ChannelName:   job.Settings.ChannelName,
		TitleFormat:   job.Settings.TitleFormat,
		Cancel:        job.CancelRequested && !job.IsTerminal(),
		Stages:        make([]StageView, 0, len(job.Stages)),
		CreatedAt:     formatTime(job.CreatedAt),
		UpdatedAt:     formatTime(job.UpdatedAt),
	}
	for _, rec := range job.Stages {
		sv := StageView{
			Name:     string(rec.Name),
			Status:   string(rec.Status),
			Progress: rec.Progress,
			Attempt:  rec.Attempt,
		}
		if rec.Status == jobs.StageCompleted {
			sv.Output = rec.Output
		}
		if rec.Error != nil {
			sv.Error = &ErrorBody{Code: string(rec.Error.Code), Message: rec.Error.Message}
		}
		if rec.StartedAt != nil {
			sv.StartedAt = formatTime(*rec.StartedAt)
		}
		if rec.FinishedAt != nil {
			sv.FinishedAt = formatTime(*rec.FinishedAt)
		}
		view.Stages = append(view.Stages, sv)
	}
	if job.Status == jobs.StatusCompleted && job.Result != nil {
		view.Result = &ResultView{
			ArtifactID: job.Result.ArtifactID,
			URL:        job.Result.URL,
			ExternalID: job.Result.ExternalID,
			ReceiptURL: DownloadPath(job.Result.ArtifactID),
		}
		if video := job.Outputs()[jobs.StageLipsync]; video != "" {
			view.Result.VideoArtifact = video
			view.Result.DownloadURL = DownloadPath(video)
		}
	}
	return view
}

// FromJobs converts a slice of job records.
func FromJobs(list []*jobs.Job) []JobStatusView {
	out := make([]JobStatusView, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job))
	}
	return out
}

// FromHealth converts registry health in pipeline order.
func FromHealth(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromCounts converts per-status counts, including zero entries for every status.
func FromCounts(counts map[jobs.Status]int) map[string]int {
	out := make(map[string]int, len(jobs.AllStatuses()))
	for _, status := range jobs.AllStatuses() {
		out[string(status)] = counts[status]
	}
	return out
}

// NewError builds the error envelope for err.
func NewError(err error) ErrorResponse {
	code := services.CodeOf(err)
	if code == "" {
		code = services.CodeFatal
	}
	return ErrorResponse{Error: ErrorBody{Code: string(code), Message: services.Message(err)}}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
