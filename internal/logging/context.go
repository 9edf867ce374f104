package logging

import (
	"context"
	"log/slog"

	"lipsync/internal/services"
)

// Structured field keys shared by every component.
const (
	FieldComponent     = "component"
	FieldJobID         = "job_id"
	FieldStage         = "stage"
	FieldWorker        = "worker"
	FieldAttempt       = "attempt"
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldErrorCode carries the taxonomy code of a classified failure.
	FieldErrorCode = "error_code"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields converts the context annotations into slog attributes.
func ContextFields(ctx context.Context) []slog.Attr {
	a := services.AnnotationsFrom(ctx)
	pairs := [...]struct{ key, value string }{
		{FieldJobID, a.JobID},
		{FieldStage, a.Stage},
		{FieldWorker, a.Worker},
		{FieldCorrelationID, a.RequestID},
	}
	var fields []slog.Attr
	for _, p := range pairs {
		if p.value != "" {
			fields = append(fields, slog.String(p.key, p.value))
		}
	}
	return fields
}

// WithContext returns logger extended with the context annotations.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
