// Package stagetest provides a scriptable stage adapter for tests.
package stagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lipsync/internal/jobs"
	"lipsync/internal/services"
	"lipsync/internal/stage"
)

// Step is one scripted invocation outcome.
type Step func(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error)

// Adapter plays scripted steps in order, then falls back to a default step
// that succeeds with a synthetic artifact id.
type Adapter struct {
	name stage.Name

	mu       sync.Mutex
	steps    []Step
	fallback Step
	calls    []stage.Input
	health   *stage.Health
}

// New returns a fake adapter for the named stage.
func New(name stage.Name) *Adapter {
	return &Adapter{name: name, fallback: Succeed()}
}

// Name implements stage.Adapter.
func (a *Adapter) Name() stage.Name { return a.name }

// Then queues steps consumed one per invocation.
func (a *Adapter) Then(steps ...Step) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.steps = append(a.steps, steps...)
	return a
}

// Default replaces the step used once scripted steps are exhausted.
func (a *Adapter) Default(step Step) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallback = step
	return a
}

// SetHealth makes the adapter implement a health report.
func (a *Adapter) SetHealth(h stage.Health) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.health = &h
}

// HealthCheck implements stage.HealthChecker.
func (a *Adapter) HealthCheck(context.Context) stage.Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.health == nil {
		return stage.Healthy(string(a.name))
	}
	return *a.health
}

// Invoke implements stage.Adapter.
func (a *Adapter) Invoke(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
	a.mu.Lock()
	a.calls = append(a.calls, in)
	step := a.fallback
	if len(a.steps) > 0 {
		step = a.steps[0]
		a.steps = a.steps[1:]
	}
	a.mu.Unlock()
	return step(ctx, in, progress)
}

// Calls returns the inputs of every invocation so far.
func (a *Adapter) Calls() []stage.Input {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]stage.Input(nil), a.calls...)
}

// CallCount returns the number of invocations so far.
func (a *Adapter) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// ArtifactFor is the synthetic artifact id the default step returns.
func ArtifactFor(name stage.Name, jobID string) string {
	return fmt.Sprintf("%s-%s", name, jobID)
}

// Succeed returns a step producing the synthetic artifact. The publish stage
// also reports a URL and external id.
func Succeed() Step {
	return func(_ context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
		progress.Report(50)
		progress.Report(100)
		out := stage.Output{Artifact: ArtifactFor(in.Stage, in.JobID)}
		if in.Stage == jobs.StagePublish {
			out.URL = "https://videos.example/watch/" + in.JobID
			out.ExternalID = "vid-" + in.JobID
		}
		return out, nil
	}
}

// Return returns a step producing out.
func Return(out stage.Output) Step {
	return func(context.Context, stage.Input, stage.ProgressFunc) (stage.Output, error) {
		return out, nil
	}
}

// Transient returns a step failing with a retryable error.
func Transient(message string) Step {
	return func(_ context.Context, in stage.Input, _ stage.ProgressFunc) (stage.Output, error) {
		return stage.Output{}, services.Wrap(services.ErrTransient, string(in.Stage), "invoke", message, nil)
	}
}

// Fatal returns a step failing with a non-retryable error.
func Fatal(message string) Step {
	return func(_ context.Context, in stage.Input, _ stage.ProgressFunc) (stage.Output, error) {
		return stage.Output{}, services.Wrap(services.ErrFatal, string(in.Stage), "invoke", message, nil)
	}
}

// Progress reports each value before delegating to next.
func Progress(next Step, values ...float64) Step {
	return func(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
		for _, v := range values {
			progress.Report(v)
		}
		return next(ctx, in, progress)
	}
}

// Sleep waits d (or until ctx ends) before delegating to next.
func Sleep(d time.Duration, next Step) Step {
	return func(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return stage.Output{}, ctx.Err()
		}
		return next(ctx, in, progress)
	}
}

// Block signals started once the invocation begins, waits for release (or
// ctx), then delegates to next.
func Block(started chan<- struct{}, release <-chan struct{}, next Step) Step {
	return func(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
		if started != nil {
			select {
			case started <- struct{}{}:
			default:
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
			return stage.Output{}, ctx.Err()
		}
		return next(ctx, in, progress)
	}
}

// Registry builds a complete registry of fakes and returns them by stage.
func Registry() (*stage.Registry, map[stage.Name]*Adapter) {
	fakes := make(map[stage.Name]*Adapter)
	adapters := make([]stage.Adapter, 0, len(jobs.StageOrder()))
	for _, name := range jobs.StageOrder() {
		fake := New(name)
		fakes[name] = fake
		adapters = append(adapters, fake)
	}
	reg, err := stage.NewRegistry(adapters...)
	if err != nil {
		panic(err)
	}
	return reg, fakes
}
