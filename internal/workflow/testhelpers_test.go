package workflow_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lipsync/internal/config"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/notifications"
	"lipsync/internal/stage"
	"lipsync/internal/stage/stagetest"
	"lipsync/internal/testsupport"
	"lipsync/internal/workflow"
)

type recordedEvent struct {
	event   notifications.Event
	payload notifications.Payload
}

type stubNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{event: event, payload: payload})
	return nil
}

func (s *stubNotifier) Events() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

type fixture struct {
	cfg      *config.Config
	store    *jobs.Store
	fakes    map[stage.Name]*stagetest.Adapter
	notifier *stubNotifier
	manager  *workflow.Manager
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	artifacts := testsupport.MustOpenArtifacts(t, cfg)
	registry, fakes := stagetest.Registry()
	notifier := &stubNotifier{}
	manager := workflow.NewManagerWithNotifier(cfg, store, artifacts, registry, logging.NewNop(), notifier)
	t.Cleanup(manager.Stop)
	return &fixture{cfg: cfg, store: store, fakes: fakes, notifier: notifier, manager: manager}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.Start(context.Background()))
}

func (f *fixture) submit(t *testing.T, name string) string {
	t.Helper()
	id, err := f.manager.Submit(context.Background(), workflow.SubmitRequest{
		Document:     bytes.NewReader(testsupport.PDF(name)),
		DocumentName: name,
		Settings:     jobs.Settings{ChannelName: "Daily Digest"},
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) waitForStatus(t *testing.T, id string, want jobs.Status) *jobs.Job {
	t.Helper()
	var job *jobs.Job
	require.Eventually(t, func() bool {
		got, err := f.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.Status == want
	}, 10*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return job
}
