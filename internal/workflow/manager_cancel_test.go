package workflow

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/notifications"
	"lipsync/internal/stage"
	"lipsync/internal/stage/stagetest"
	"lipsync/internal/testsupport"
)

type eventLog struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (l *eventLog) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) snapshot() []notifications.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]notifications.Event(nil), l.events...)
}

func newCancelTestManager(t *testing.T) (*Manager, *jobs.Store) {
	m, store, _, _ := newCancelTestManagerWithFakes(t)
	return m, store
}

func newCancelTestManagerWithFakes(t *testing.T) (*Manager, *jobs.Store, map[stage.Name]*stagetest.Adapter, *eventLog) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifacts := testsupport.MustOpenArtifacts(t, cfg)
	registry, fakes := stagetest.Registry()
	events := &eventLog{}
	return NewManagerWithNotifier(cfg, store, artifacts, registry, logging.NewNop(), events), store, fakes, events
}

func trackedSignals(m *Manager) int {
	m.cancelMu.Lock()
	defer m.cancelMu.Unlock()
	return len(m.cancels)
}

func TestSignalCancelForFinishedJobIsDropped(t *testing.T) {
	m, store := newCancelTestManager(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, "job-finished", "report.pdf")
	if _, err := store.Mutate(ctx, job.ID, func(j *jobs.Job) error {
		j.Status = jobs.StatusCanceled
		return nil
	}); err != nil {
		t.Fatalf("mark canceled: %v", err)
	}

	m.signalCancel(ctx, job.ID)
	if n := trackedSignals(m); n != 0 {
		t.Fatalf("signal for a finished job must not be retained, tracked %d", n)
	}

	m.signalCancel(ctx, "job-that-never-existed")
	if n := trackedSignals(m); n != 0 {
		t.Fatalf("signal for an unknown job must not be retained, tracked %d", n)
	}
}

func TestSignalCancelForLiveJobWakesWaiter(t *testing.T) {
	m, store := newCancelTestManager(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, "job-live", "report.pdf")

	waiter := m.cancelChannel(job.ID)
	m.signalCancel(ctx, job.ID)
	select {
	case <-waiter:
	default:
		t.Fatal("expected the cancel channel to be closed")
	}
	if n := trackedSignals(m); n != 1 {
		t.Fatalf("live job signal should stay until the job finishes, tracked %d", n)
	}
	m.forgetCancel(job.ID)
	if n := trackedSignals(m); n != 0 {
		t.Fatalf("forgetCancel left %d signals", n)
	}
}

func TestCancelClaimedQueuedJobIsImmediate(t *testing.T) {
	m, store, fakes, events := newCancelTestManagerWithFakes(t)
	ctx := context.Background()
	id, err := m.Submit(ctx, SubmitRequest{
		Document:     bytes.NewReader(testsupport.PDF("claimed")),
		DocumentName: "claimed.pdf",
		Settings:     jobs.Settings{ChannelName: "Daily Digest"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	claimed, err := store.ClaimNext(ctx, "worker-1")
	if err != nil || claimed == nil || claimed.ID != id {
		t.Fatalf("claim: job=%v err=%v", claimed, err)
	}
	if claimed.Status != jobs.StatusQueued {
		t.Fatalf("claimed job should still be queued, got %s", claimed.Status)
	}

	view, err := m.Cancel(ctx, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if view.Status != string(jobs.StatusCanceled) {
		t.Fatalf("status after cancel = %s, want canceled", view.Status)
	}
	for _, sv := range view.Stages {
		if sv.Status != string(jobs.StageWaiting) || sv.Error != nil {
			t.Fatalf("stage %s = %s (%v), want waiting", sv.Name, sv.Status, sv.Error)
		}
	}
	if got := events.snapshot(); len(got) != 0 {
		t.Fatalf("the owning worker reports the cancel, got early events %v", got)
	}

	// The worker that claimed the job finds it settled and lets it go.
	m.processJob(ctx, logging.NewNop(), "worker-1", claimed)

	stored, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := stored.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	for _, rec := range stored.Stages {
		if rec.Status != jobs.StageWaiting || rec.Attempt != 0 {
			t.Fatalf("stage %s = %s attempt %d, want untouched", rec.Name, rec.Status, rec.Attempt)
		}
	}
	if n := fakes[jobs.StageScript].CallCount(); n != 0 {
		t.Fatalf("script stage ran %d times for a canceled job", n)
	}
	if got := events.snapshot(); len(got) != 1 || got[0] != notifications.EventJobCanceled {
		t.Fatalf("expected one cancel event, got %v", got)
	}
}
