package stage

import (
	"context"

	"lipsync/internal/jobs"
)

// Name identifies a pipeline stage.
type Name = jobs.StageName

// ProgressFunc receives progress reports in percent. Values outside 0..100 are
// clamped by the executor and regressions are ignored.
type ProgressFunc func(percent float64)

// Input is everything an adapter may read for one invocation.
type Input struct {
	JobID   string
	Stage   Name
	Attempt int
	// Source is the output of the previous stage, or the uploaded document for
	// the first stage.
	Source string
	// Outputs holds the output artifact of every earlier completed stage.
	Outputs      map[Name]string
	Settings     jobs.Settings
	DocumentName string
	// InputArtifact is the uploaded document.
	InputArtifact string
}

// Output is the result of a successful invocation.
type Output struct {
	Artifact   string
	URL        string
	ExternalID string
}

// Adapter is the narrow contract every stage collaborator implements.
//
// Invoke must return errors tagged with services.ErrTransient,
// services.ErrFatal, or services.ErrValidation; untagged errors are treated
// as fatal. Invoke should honour ctx cancellation and deadline.
type Adapter interface {
	Name() Name
	Invoke(ctx context.Context, in Input, progress ProgressFunc) (Output, error)
}

// Health is a collaborator readiness report as shown by the health endpoint.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy reports name as ready.
func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy reports name as not ready; detail tells the operator what to fix.
func Unhealthy(name, detail string) Health { return Health{Name: name, Detail: detail} }

// HealthChecker is implemented by adapters that can check their collaborator.
// Adapters without it are assumed ready.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// Report calls progress when it is non-nil.
func (p ProgressFunc) Report(percent float64) {
	if p != nil {
		p(percent)
	}
}
