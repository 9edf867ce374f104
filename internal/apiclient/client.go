// Package apiclient is the HTTP client the lipsync CLI uses to talk to a
// running daemon.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lipsync/internal/api"
)

// APIError is a non-2xx daemon response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New constructs a client for baseURL. An empty token sends no Authorization header.
func New(baseURL, token string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("daemon url is required (set server.url or --server)")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse daemon url: %w", err)
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

// SubmitRequest describes a document upload.
type SubmitRequest struct {
	Path        string
	ChannelName string
	TitleFormat string
}

// Submit uploads a document and returns the new job id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	file, err := os.Open(req.Path)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := writer.WriteField("channelName", req.ChannelName); err != nil {
				return err
			}
			if err := writer.WriteField("titleFormat", req.TitleFormat); err != nil {
				return err
			}
			part, err := writer.CreateFormFile("file", filepath.Base(req.Path))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, file); err != nil {
				return err
			}
			return writer.Close()
		}()
		pw.CloseWithError(err)
	}()

	var resp api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/lip-sync", pr, writer.FormDataContentType(), &resp); err != nil {
		pr.Close()
		return "", err
	}
	return resp.JobID, nil
}

// Job fetches the status of one job.
func (c *Client) Job(ctx context.Context, jobID string) (api.JobStatusView, error) {
	var view api.JobStatusView
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, "", &view)
	return view, err
}

// List returns jobs, optionally filtered by status.
func (c *Client) List(ctx context.Context, statuses ...string) ([]api.JobStatusView, error) {
	path := "/api/v1/jobs"
	if len(statuses) > 0 {
		path += "?" + url.Values{"status": {strings.Join(statuses, ",")}}.Encode()
	}
	var resp api.JobListResponse
	err := c.do(ctx, http.MethodGet, path, nil, "", &resp)
	return resp.Jobs, err
}

// Cancel requests cancellation of a job.
func (c *Client) Cancel(ctx context.Context, jobID string) (api.JobStatusView, error) {
	var view api.JobStatusView
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, "", &view)
	return view, err
}

// Health returns the daemon health summary. A not-ready daemon answers 503
// with the same body, which is returned without error.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var health api.HealthResponse
	resp, err := c.send(ctx, http.MethodGet, "/api/v1/health", nil, "")
	if err != nil {
		return health, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		if err := checkStatus(resp); err != nil {
			return health, err
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, fmt.Errorf("decode response: %w", err)
	}
	return health, nil
}

// Download streams an artifact to w and returns the server-suggested file name.
func (c *Client) Download(ctx context.Context, artifactID string, w io.Writer) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, api.DownloadPath(url.PathEscape(artifactID)), nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("download artifact: %w", err)
	}
	name := artifactID
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = filepath.Base(params["filename"])
	}
	return name, nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
