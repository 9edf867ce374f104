package services

import "context"

type annotationsKey struct{}

// Annotations are the correlation fields carried from the API and workers
// into adapters and log lines.
type Annotations struct {
	JobID     string
	Stage     string
	Worker    string
	RequestID string
}

// AnnotationsFrom returns the annotations attached to ctx, zero if none.
func AnnotationsFrom(ctx context.Context) Annotations {
	if ctx == nil {
		return Annotations{}
	}
	a, _ := ctx.Value(annotationsKey{}).(Annotations)
	return a
}

func annotate(ctx context.Context, value string, set func(*Annotations)) context.Context {
	if value == "" {
		return ctx
	}
	a := AnnotationsFrom(ctx)
	set(&a)
	return context.WithValue(ctx, annotationsKey{}, a)
}

// WithJobID annotates ctx with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return annotate(ctx, id, func(a *Annotations) { a.JobID = id })
}

// WithStage annotates ctx with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return annotate(ctx, stage, func(a *Annotations) { a.Stage = stage })
}

// WithWorker annotates ctx with the worker slot processing the job.
func WithWorker(ctx context.Context, worker string) context.Context {
	return annotate(ctx, worker, func(a *Annotations) { a.Worker = worker })
}

// WithRequestID annotates ctx with the HTTP correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return annotate(ctx, id, func(a *Annotations) { a.RequestID = id })
}
