package workflow_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/notifications"
	"lipsync/internal/services"
	"lipsync/internal/stage"
	"lipsync/internal/stage/stagetest"
	"lipsync/internal/testsupport"
	"lipsync/internal/workflow"
)

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name     string
		req      workflow.SubmitRequest
		tooLarge bool
	}{
		{
			name: "empty channel",
			req: workflow.SubmitRequest{
				Document:     bytes.NewReader(testsupport.PDF("a")),
				DocumentName: "a.pdf",
				Settings:     jobs.Settings{ChannelName: "   "},
			},
		},
		{
			name: "repeated title token",
			req: workflow.SubmitRequest{
				Document:     bytes.NewReader(testsupport.PDF("a")),
				DocumentName: "a.pdf",
				Settings:     jobs.Settings{ChannelName: "News", TitleFormat: "{title} {title}"},
			},
		},
		{
			name: "unbalanced braces",
			req: workflow.SubmitRequest{
				Document:     bytes.NewReader(testsupport.PDF("a")),
				DocumentName: "a.pdf",
				Settings:     jobs.Settings{ChannelName: "News", TitleFormat: "{title} {"},
			},
		},
		{
			name: "not a pdf",
			req: workflow.SubmitRequest{
				Document:     strings.NewReader("just some plain text"),
				DocumentName: "notes.pdf",
				Settings:     jobs.Settings{ChannelName: "News"},
			},
		},
		{
			name: "empty document",
			req: workflow.SubmitRequest{
				Document:     bytes.NewReader(nil),
				DocumentName: "empty.pdf",
				Settings:     jobs.Settings{ChannelName: "News"},
			},
		},
		{
			name: "missing name",
			req: workflow.SubmitRequest{
				Document: bytes.NewReader(testsupport.PDF("a")),
				Settings: jobs.Settings{ChannelName: "News"},
			},
		},
		{
			name: "too large",
			req: workflow.SubmitRequest{
				Document:     io.MultiReader(bytes.NewReader(testsupport.PDF("big")), bytes.NewReader(make([]byte, 4096))),
				DocumentName: "big.pdf",
				Settings:     jobs.Settings{ChannelName: "News"},
			},
			tooLarge: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, testsupport.WithMaxUploadBytes(1024))
			_, err := f.manager.Submit(context.Background(), tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, services.ErrValidation)
			assert.Equal(t, services.CodeValidation, services.CodeOf(err))
			if tc.tooLarge {
				assert.ErrorIs(t, err, workflow.ErrDocumentTooLarge)
			}

			list, err := f.store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, list, "validation failure must not create a job")
		})
	}
}

func TestSubmitQueuesJobWithDefaults(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "Quarterly Report.pdf")

	view, err := f.manager.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "queued", view.Status)
	assert.Equal(t, "Quarterly Report.pdf", view.DocumentName)
	assert.Equal(t, "{title} - AI Summary", view.TitleFormat)
	assert.Equal(t, "Daily Digest", view.ChannelName)
	require.Len(t, view.Stages, 5)
	for _, sv := range view.Stages {
		assert.Equal(t, "waiting", sv.Status)
		assert.Zero(t, sv.Attempt)
	}

	job, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	download, err := f.manager.OpenArtifact(context.Background(), job.InputArtifact)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "Quarterly Report - AI Summary.pdf", download.FileName)
	assert.Equal(t, "application/pdf", download.Info.ContentType)
}

func TestGetStatusUnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = f.manager.OpenArtifact(context.Background(), "not-an-artifact")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestPipelineCompletesJob(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	id := f.submit(t, "report.pdf")

	job := f.waitForStatus(t, id, jobs.StatusCompleted)
	for _, rec := range job.Stages {
		assert.Equal(t, jobs.StageCompleted, rec.Status, rec.Name)
		assert.Equal(t, 100, rec.Progress)
		assert.Equal(t, 1, rec.Attempt)
	}
	require.NotNil(t, job.Result)
	assert.Equal(t, "https://videos.example/watch/"+id, job.Result.URL)
	assert.Empty(t, job.Owner)
	require.NoError(t, job.CheckInvariants())

	// Each stage receives the previous stage's output.
	audio := f.fakes[jobs.StageAudio].Calls()
	require.Len(t, audio, 1)
	assert.Equal(t, stagetest.ArtifactFor(jobs.StageScript, id), audio[0].Source)
	publish := f.fakes[jobs.StagePublish].Calls()
	require.Len(t, publish, 1)
	assert.Equal(t, stagetest.ArtifactFor(jobs.StageLipsync, id), publish[0].Source)
	assert.Equal(t, "Daily Digest", publish[0].Settings.ChannelName)

	require.Eventually(t, func() bool { return len(f.notifier.Events()) == 1 }, time.Second, 5*time.Millisecond)
	event := f.notifier.Events()[0]
	assert.Equal(t, notifications.EventJobCompleted, event.event)
	assert.Equal(t, "report - AI Summary", event.payload["document"])
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	const (
		workers = 5
		total   = 50
	)
	f := newFixture(t, testsupport.WithConcurrency(workers))

	var (
		mu     sync.Mutex
		active int
		peak   int
	)
	tracked := func(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return stagetest.Succeed()(ctx, in, progress)
	}
	for _, fake := range f.fakes {
		fake.Default(tracked)
	}

	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		ids = append(ids, f.submit(t, fmt.Sprintf("doc-%02d.pdf", i)))
	}

	// Sample the store while the pool runs; every snapshot must be well formed.
	var violations []string
	done := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			list, err := f.store.List(context.Background())
			if err != nil {
				continue
			}
			for _, job := range list {
				if err := job.CheckInvariants(); err != nil {
					violations = append(violations, err.Error())
				}
			}
		}
	}()
	f.start(t)

	for _, id := range ids {
		f.waitForStatus(t, id, jobs.StatusCompleted)
	}
	close(done)
	<-sampled
	assert.Empty(t, violations)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, workers)
	assert.Greater(t, peak, 1, "expected the pool to run jobs in parallel")
	assert.Equal(t, total, f.fakes[jobs.StagePublish].CallCount())
}

func TestJobsAreClaimedInSubmissionOrder(t *testing.T) {
	f := newFixture(t, testsupport.WithConcurrency(1))
	first := f.submit(t, "first.pdf")
	second := f.submit(t, "second.pdf")
	third := f.submit(t, "third.pdf")
	f.start(t)

	f.waitForStatus(t, third, jobs.StatusCompleted)
	calls := f.fakes[jobs.StageScript].Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{first, second, third}, []string{calls[0].JobID, calls[1].JobID, calls[2].JobID})
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "report.pdf")

	view, err := f.manager.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "canceled", view.Status)
	for _, sv := range view.Stages {
		assert.Equal(t, "waiting", sv.Status)
	}

	_, err = f.manager.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, services.ErrAlreadyTerminal)
	assert.Equal(t, services.CodeConflict, services.CodeOf(err))

	f.start(t)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.fakes[jobs.StageScript].CallCount(), "canceled job must never run")

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notifications.EventJobCanceled, events[0].event)
}

func TestCancelUnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestCancelRunningJobStopsAtCheckpoint(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	f.fakes[jobs.StageVideoSelect].Then(stagetest.Block(started, release, stagetest.Transient("template store unavailable")))
	f.start(t)
	id := f.submit(t, "report.pdf")

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("third stage never started")
	}

	view, err := f.manager.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "running", view.Status)
	assert.True(t, view.Cancel)
	close(release)

	job := f.waitForStatus(t, id, jobs.StatusCanceled)
	assert.Equal(t, jobs.StageCompleted, job.Stages[0].Status)
	assert.Equal(t, jobs.StageCompleted, job.Stages[1].Status)
	rec := job.Stages[2]
	assert.Equal(t, jobs.StageError, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, services.CodeCanceled, rec.Error.Code)
	assert.Equal(t, jobs.StageWaiting, job.Stages[3].Status)
	assert.Equal(t, jobs.StageWaiting, job.Stages[4].Status)
	assert.Equal(t, 1, f.fakes[jobs.StageVideoSelect].CallCount())
	assert.Zero(t, f.fakes[jobs.StageLipsync].CallCount())
	require.NoError(t, job.CheckInvariants())
}

func TestFatalFailureStopsPipeline(t *testing.T) {
	f := newFixture(t)
	f.fakes[jobs.StageAudio].Then(stagetest.Fatal("voice rejected"))
	f.start(t)
	id := f.submit(t, "report.pdf")

	job := f.waitForStatus(t, id, jobs.StatusFailed)
	assert.Equal(t, jobs.StageCompleted, job.Stages[0].Status)
	assert.Equal(t, jobs.StageError, job.Stages[1].Status)
	assert.Equal(t, services.CodeFatal, job.Stages[1].Error.Code)
	assert.Zero(t, f.fakes[jobs.StageVideoSelect].CallCount())
	assert.Nil(t, job.Result)

	require.Eventually(t, func() bool { return len(f.notifier.Events()) == 1 }, time.Second, 5*time.Millisecond)
	event := f.notifier.Events()[0]
	assert.Equal(t, notifications.EventJobFailed, event.event)
	assert.Equal(t, "audio", event.payload["stage"])
}

func TestTransientFailuresAreRetried(t *testing.T) {
	f := newFixture(t)
	f.fakes[jobs.StageLipsync].Then(stagetest.Transient("render busy"), stagetest.Transient("render busy"))
	f.start(t)
	id := f.submit(t, "report.pdf")

	job := f.waitForStatus(t, id, jobs.StatusCompleted)
	assert.Equal(t, 3, job.Stages[3].Attempt)
	assert.Equal(t, 3, f.fakes[jobs.StageLipsync].CallCount())
}

func TestStartRecoversInterruptedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, f.store, "interrupted", "report.pdf")
	_, err := f.store.Mutate(ctx, job.ID, func(j *jobs.Job) error {
		now := time.Now().UTC()
		j.Status = jobs.StatusRunning
		j.Owner = "previous/worker-1"
		j.Stages[0].Status = jobs.StageCompleted
		j.Stages[0].Progress = 100
		j.Stages[0].Attempt = 1
		j.Stages[0].Output = "script-from-before"
		j.Stages[1].Status = jobs.StageProcessing
		j.Stages[1].Progress = 40
		j.Stages[1].Attempt = 1
		j.Stages[1].StartedAt = &now
		return nil
	})
	require.NoError(t, err)

	f.start(t)
	done := f.waitForStatus(t, job.ID, jobs.StatusCompleted)

	assert.Zero(t, f.fakes[jobs.StageScript].CallCount(), "completed stages are not rerun")
	audio := f.fakes[jobs.StageAudio].Calls()
	require.Len(t, audio, 1)
	assert.Equal(t, "script-from-before", audio[0].Source)
	assert.Equal(t, 2, done.Stages[1].Attempt, "attempt count survives recovery")
}

func TestStartRequiresEveryStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	artifacts := testsupport.MustOpenArtifacts(t, cfg)
	registry, err := stage.NewRegistry(stagetest.New(jobs.StageScript))
	require.NoError(t, err)

	manager := workflow.NewManagerWithNotifier(cfg, store, artifacts, registry, logging.NewNop(), &stubNotifier{})
	err = manager.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish")
}

func TestStartTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	assert.Error(t, f.manager.Start(context.Background()))
	assert.True(t, f.manager.Status(context.Background()).Running)
}

func TestStatusReportsCountsAndHealth(t *testing.T) {
	f := newFixture(t)
	f.fakes[jobs.StageLipsync].SetHealth(stage.Unhealthy("lipsync", "render key missing"))
	f.submit(t, "a.pdf")
	f.submit(t, "b.pdf")

	summary := f.manager.Status(context.Background())
	assert.False(t, summary.Running)
	assert.Equal(t, 2, summary.Counts[jobs.StatusQueued])
	require.Len(t, summary.StageHealth, 5)
	assert.False(t, summary.StageHealth[3].Ready)
	assert.False(t, summary.Ready())
}
