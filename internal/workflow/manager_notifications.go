package workflow

import (
	"context"
	"errors"

	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/notifications"
	"lipsync/internal/titlefmt"
)

func (m *Manager) onJobTerminal(ctx context.Context, job *jobs.Job) {
	m.forgetCancel(job.ID)
	switch job.Status {
	case jobs.StatusCompleted:
		m.notify(ctx, notifications.EventJobCompleted, job)
	case jobs.StatusFailed:
		m.notify(ctx, notifications.EventJobFailed, job)
	case jobs.StatusCanceled:
		m.notify(ctx, notifications.EventJobCanceled, job)
	}
}

// notify publishes a job event. Delivery failures are logged and ignored.
func (m *Manager) notify(ctx context.Context, event notifications.Event, job *jobs.Job) {
	if m.notifier == nil || job == nil {
		return
	}
	payload := notifications.Payload{
		"jobId":    job.ID,
		"document": titlefmt.Apply(job.Settings.TitleFormat, job.DocumentName),
	}
	if job.Result != nil {
		payload["url"] = job.Result.URL
	}
	for _, rec := range job.Stages {
		if rec.Error != nil {
			payload["stage"] = string(rec.Name)
			payload["error"] = rec.Error.Message
			break
		}
	}
	// Delivery outlives shutdown of the worker that finished the job.
	if err := m.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logger := logging.WithContext(ctx, m.logger)
		if errors.Is(err, context.Canceled) {
			logger.Debug("could not send job notification during shutdown")
			return
		}
		logging.WarnWithContext(logger, "job notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "notification was not delivered"),
		)
	}
}
