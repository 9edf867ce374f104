package render_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lipsync/internal/artifact"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/services/render"
	"lipsync/internal/stage"
	"lipsync/internal/testsupport"
)

type fakeQueue struct {
	server    *httptest.Server
	polls     atomic.Int32
	states    []string
	submitted chan map[string]any
	submitErr atomic.Int32
}

func newFakeQueue(t *testing.T, states ...string) *fakeQueue {
	t.Helper()
	q := &fakeQueue{states: states, submitted: make(chan map[string]any, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fal-ai/sync-lipsync", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Key render-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if code := int(q.submitErr.Load()); code != 0 {
			http.Error(w, "busy", code)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		q.submitted <- body
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "req-1"})
	})
	mux.HandleFunc("GET /fal-ai/sync-lipsync/requests/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		n := int(q.polls.Add(1)) - 1
		if n >= len(q.states) {
			n = len(q.states) - 1
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": q.states[n],
			"logs":   []map[string]string{{"message": "frame " + r.PathValue("id")}},
		})
	})
	mux.HandleFunc("GET /fal-ai/sync-lipsync/requests/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"video": map[string]string{"url": q.server.URL + "/files/out.mp4", "content_type": "video/mp4"},
		})
	})
	mux.HandleFunc("GET /files/out.mp4", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("rendered-video"))
	})
	q.server = httptest.NewServer(mux)
	t.Cleanup(q.server.Close)
	return q
}

func setup(t *testing.T, q *fakeQueue) (*render.Adapter, *artifact.Store, stage.Input) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Stages.Render.BaseURL = q.server.URL
	cfg.Stages.Render.APIKey = "render-key"
	artifacts := testsupport.MustOpenArtifacts(t, cfg)
	ctx := context.Background()
	video, err := artifacts.PutBytes(ctx, []byte("template"), artifact.Meta{ContentType: "video/mp4"})
	require.NoError(t, err)
	audio, err := artifacts.PutBytes(ctx, []byte("narration"), artifact.Meta{ContentType: "audio/mpeg"})
	require.NoError(t, err)

	adapter, err := render.New(cfg.Stages.Render, artifacts, logging.NewNop(), render.WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	in := stage.Input{
		JobID:  "job-1",
		Stage:  jobs.StageLipsync,
		Source: video.ID,
		Outputs: map[stage.Name]string{
			jobs.StageAudio:       audio.ID,
			jobs.StageVideoSelect: video.ID,
		},
	}
	return adapter, artifacts, in
}

func TestInvokeRendersAndStoresVideo(t *testing.T) {
	q := newFakeQueue(t, render.StatusInQueue, render.StatusInProgress, render.StatusInProgress, render.StatusCompleted)
	adapter, artifacts, in := setup(t, q)

	var mu sync.Mutex
	var reported []float64
	out, err := adapter.Invoke(context.Background(), in, func(p float64) {
		mu.Lock()
		reported = append(reported, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", out.ExternalID)

	body := <-q.submitted
	assert.True(t, strings.HasPrefix(body["video_url"].(string), "data:video/mp4;base64,"))
	assert.True(t, strings.HasPrefix(body["audio_url"].(string), "data:audio/mpeg;base64,"))

	data, info, err := artifacts.ReadAll(context.Background(), out.Artifact)
	require.NoError(t, err)
	assert.Equal(t, "rendered-video", string(data))
	assert.Equal(t, "video/mp4", info.ContentType)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reported)
	assert.Equal(t, float64(5), reported[0])
	assert.Equal(t, float64(100), reported[len(reported)-1])
	assert.IsIncreasing(t, reported)
}

func TestInvokeSubmitFailures(t *testing.T) {
	q := newFakeQueue(t, render.StatusCompleted)
	q.submitErr.Store(http.StatusServiceUnavailable)
	adapter, _, in := setup(t, q)

	_, err := adapter.Invoke(context.Background(), in, nil)
	assert.Equal(t, services.CodeTransient, services.CodeOf(err))

	q.submitErr.Store(http.StatusUnprocessableEntity)
	_, err = adapter.Invoke(context.Background(), in, nil)
	assert.Equal(t, services.CodeFatal, services.CodeOf(err))
}

func TestInvokeUnknownQueueStatusIsFatal(t *testing.T) {
	q := newFakeQueue(t, "EXPLODED")
	adapter, _, in := setup(t, q)

	_, err := adapter.Invoke(context.Background(), in, nil)
	assert.Equal(t, services.CodeFatal, services.CodeOf(err))
}

func TestInvokeHonoursCancellation(t *testing.T) {
	q := newFakeQueue(t, render.StatusInQueue)
	adapter, _, in := setup(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for q.polls.Load() < 3 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	_, err := adapter.Invoke(ctx, in, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvokeMissingInputsIsFatal(t *testing.T) {
	q := newFakeQueue(t, render.StatusCompleted)
	adapter, _, in := setup(t, q)
	in.Outputs = nil

	_, err := adapter.Invoke(context.Background(), in, nil)
	assert.Equal(t, services.CodeFatal, services.CodeOf(err))
	assert.Equal(t, int32(0), q.polls.Load())
}
