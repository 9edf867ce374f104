package testsupport

import (
	"context"
	"testing"
	"time"

	"lipsync/internal/artifact"
	"lipsync/internal/config"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
)

// MustOpenStore opens a jobs.Store at the configured path and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg.JobDBPath())
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenArtifacts opens the artifact store under the configured directory.
func MustOpenArtifacts(t testing.TB, cfg *config.Config) *artifact.Store {
	t.Helper()

	store, err := artifact.Open(cfg.Paths.ArtifactDir, logging.NewNop())
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	return store
}

// NewJob persists a queued job for tests.
func NewJob(t testing.TB, store *jobs.Store, id, documentName string) *jobs.Job {
	t.Helper()

	job := jobs.New(id, "input-"+id, documentName, jobs.Settings{ChannelName: "Test Channel", TitleFormat: "{title} - AI Summary"}, time.Now())
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
