package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lipsync/internal/api"
	"lipsync/internal/config"
	"lipsync/internal/daemon"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/stage/stagetest"
	"lipsync/internal/testsupport"
	"lipsync/internal/workflow"
)

const testToken = "s3cret"

type harness struct {
	cfg    *config.Config
	store  *jobs.Store
	daemon *daemon.Daemon
	server *httptest.Server
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Server.APIToken = testToken
	store := testsupport.MustOpenStore(t, cfg)
	artifacts := testsupport.MustOpenArtifacts(t, cfg)
	registry, _ := stagetest.Registry()
	manager := workflow.NewManager(cfg, store, artifacts, registry, logging.NewNop())
	d, err := daemon.New(cfg, store, manager, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(d.Stop)

	server := httptest.NewServer(d.Handler())
	t.Cleanup(server.Close)
	return &harness{cfg: cfg, store: store, daemon: d, server: server}
}

func (h *harness) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	require.NoError(t, err)
	return h.do(t, req)
}

func (h *harness) post(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, nil)
	require.NoError(t, err)
	return h.do(t, req)
}

func (h *harness) submit(t *testing.T, name string, content []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/api/v1/lip-sync", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return h.do(t, req)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitAcceptsDocument(t *testing.T) {
	h := newHarness(t)

	resp := h.submit(t, "report.pdf", testsupport.PDF("quarterly"), map[string]string{
		"channelName": "Daily Digest",
		"titleFormat": "{title} - Summary",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	submitted := decode[api.SubmitResponse](t, resp)
	require.NotEmpty(t, submitted.JobID)
	assert.Equal(t, "/api/v1/jobs/"+submitted.JobID, resp.Header.Get("Location"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	status := h.get(t, "/api/v1/jobs/"+submitted.JobID)
	require.Equal(t, http.StatusOK, status.StatusCode)
	view := decode[api.JobStatusView](t, status)
	assert.Equal(t, "queued", view.Status)
	assert.Equal(t, "Daily Digest", view.ChannelName)
	assert.Equal(t, "{title} - Summary", view.TitleFormat)
	assert.Len(t, view.Stages, len(jobs.StageOrder()))
}

func TestSubmitRejectsUnsupportedType(t *testing.T) {
	h := newHarness(t)

	resp := h.submit(t, "notes.txt", []byte("plain text, not a pdf"), map[string]string{"channelName": "Daily Digest"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "ValidationError", body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)

	list, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubmitRequiresFile(t *testing.T) {
	h := newHarness(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("channelName", "x"))
	require.NoError(t, writer.Close())
	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/api/v1/lip-sync", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp := h.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitRejectsOversizedDocument(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxUploadBytes(1024))

	content := append(testsupport.PDF("big"), bytes.Repeat([]byte("x"), 4096)...)
	resp := h.submit(t, "big.pdf", content, map[string]string{"channelName": "Daily Digest"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "ValidationError", body.Error.Code)
	assert.Contains(t, body.Error.Message, "exceeds 1024 bytes")

	list, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubmitRequiresChannelName(t *testing.T) {
	h := newHarness(t)

	resp := h.submit(t, "report.pdf", testsupport.PDF("quarterly"), map[string]string{"titleFormat": "{title}"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "ValidationError", body.Error.Code)
	assert.Equal(t, "submit: channel name is required", body.Error.Message)
}

func TestUnknownJobIsNotFound(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/api/v1/jobs/does-not-exist")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "NotFound", body.Error.Code)

	resp = h.post(t, "/api/v1/jobs/does-not-exist/cancel")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelThenConflict(t *testing.T) {
	h := newHarness(t)
	job := testsupport.NewJob(t, h.store, "job-cancel", "report.pdf")

	resp := h.post(t, "/api/v1/jobs/"+job.ID+"/cancel")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[api.JobStatusView](t, resp)
	assert.Equal(t, "canceled", view.Status)
	assert.False(t, view.Cancel, "pending-cancel flag is only shown for live jobs")

	resp = h.post(t, "/api/v1/jobs/"+job.ID+"/cancel")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "Conflict", body.Error.Code)
}

func TestListFiltersByStatus(t *testing.T) {
	h := newHarness(t)
	testsupport.NewJob(t, h.store, "job-a", "a.pdf")
	testsupport.NewJob(t, h.store, "job-b", "b.pdf")
	h.post(t, "/api/v1/jobs/job-b/cancel")

	resp := h.get(t, "/api/v1/jobs?status=queued")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[api.JobListResponse](t, resp)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "job-a", list.Jobs[0].JobID)

	resp = h.get(t, "/api/v1/jobs?status=queued,canceled")
	list = decode[api.JobListResponse](t, resp)
	assert.Len(t, list.Jobs, 2)

	resp = h.get(t, "/api/v1/jobs?status=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadStreamsArtifactWithFileName(t *testing.T) {
	h := newHarness(t)
	content := testsupport.PDF("download me")

	resp := h.submit(t, "Quarterly Report.pdf", content, map[string]string{
		"channelName": "Finance Weekly",
		"titleFormat": "{title} - AI Summary",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	submitted := decode[api.SubmitResponse](t, resp)
	job, err := h.store.Get(context.Background(), submitted.JobID)
	require.NoError(t, err)

	download := h.get(t, api.DownloadPath(job.InputArtifact))
	require.Equal(t, http.StatusOK, download.StatusCode)
	assert.Equal(t, "application/pdf", download.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Quarterly Report - AI Summary.pdf"`, download.Header.Get("Content-Disposition"))
	data, err := io.ReadAll(download.Body)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	missing := h.get(t, api.DownloadPath("not-an-artifact"))
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestRequestsRequireBearerToken(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.server.URL + "/api/v1/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "Unauthorized", body.Error.Code)

	req, err := http.NewRequest(http.MethodGet, h.server.URL+"/api/v1/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	wrong, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer wrong.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)
}

func TestHealthReflectsLifecycle(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.server.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	stopped := decode[api.HealthResponse](t, resp)
	assert.False(t, stopped.Running)

	require.NoError(t, h.daemon.Start(context.Background()))
	require.NotEmpty(t, h.daemon.Address())

	live, err := http.Get("http://" + h.daemon.Address() + "/api/v1/health")
	require.NoError(t, err)
	defer live.Body.Close()
	require.Equal(t, http.StatusOK, live.StatusCode)
	health := decode[api.HealthResponse](t, live)
	assert.True(t, health.Running)
	assert.True(t, health.Ready)
	assert.Len(t, health.Stages, len(jobs.StageOrder()))
}

func TestDaemonLockIsExclusive(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.daemon.Start(context.Background()))

	store := testsupport.MustOpenStore(t, h.cfg)
	artifacts := testsupport.MustOpenArtifacts(t, h.cfg)
	registry, _ := stagetest.Registry()
	other := workflow.NewManager(h.cfg, store, artifacts, registry, logging.NewNop())
	second, err := daemon.New(h.cfg, store, other, logging.NewNop())
	require.NoError(t, err)

	err = second.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	h.daemon.Stop()
	require.NoError(t, second.Start(context.Background()))
	second.Stop()
}
