package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"lipsync/internal/services"
)

// Queue states reported by the status endpoint.
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

type submitRequest struct {
	VideoURL               string  `json:"video_url"`
	AudioURL               string  `json:"audio_url"`
	FaceDetectionThreshold float64 `json:"face_detection_threshold,omitempty"`
	OutputFormat           string  `json:"output_format,omitempty"`
	SyncMode               string  `json:"sync_mode,omitempty"`
}

type submitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
	Logs          []struct {
		Message string `json:"message"`
	} `json:"logs"`
	Error string `json:"error"`
}

type resultResponse struct {
	Video struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"video"`
}

func (a *Adapter) endpoint(parts ...string) string {
	return a.cfg.BaseURL + "/" + strings.Join(append([]string{strings.Trim(a.cfg.Model, "/")}, parts...), "/")
}

func (a *Adapter) doJSON(ctx context.Context, operation, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return services.Wrap(services.ErrFatal, stageName, operation, "encode request", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return services.Wrap(services.ErrFatal, stageName, operation, "build request", err)
	}
	req.Header.Set("Authorization", "Key "+a.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.httpClient.Do(req)
	if err := services.ClassifyHTTP(stageName, operation, resp, err); err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrFatal, stageName, operation, "malformed response", err)
	}
	return nil
}

func (a *Adapter) submit(ctx context.Context, req submitRequest) (submitResponse, error) {
	var resp submitResponse
	if err := a.doJSON(ctx, "submit", http.MethodPost, a.endpoint(), req, &resp); err != nil {
		return resp, err
	}
	if resp.RequestID == "" {
		return resp, services.Wrap(services.ErrFatal, stageName, "submit", "queue returned no request id", nil)
	}
	if resp.StatusURL == "" {
		resp.StatusURL = a.endpoint("requests", resp.RequestID, "status")
	}
	if resp.ResponseURL == "" {
		resp.ResponseURL = a.endpoint("requests", resp.RequestID)
	}
	return resp, nil
}

func (a *Adapter) status(ctx context.Context, url string) (statusResponse, error) {
	var resp statusResponse
	err := a.doJSON(ctx, "poll", http.MethodGet, url+"?logs=1", nil, &resp)
	return resp, err
}

func (a *Adapter) result(ctx context.Context, url string) (resultResponse, error) {
	var resp resultResponse
	if err := a.doJSON(ctx, "fetch result", http.MethodGet, url, nil, &resp); err != nil {
		return resp, err
	}
	if resp.Video.URL == "" {
		return resp, services.Wrap(services.ErrFatal, stageName, "fetch result", "result has no video url", nil)
	}
	return resp, nil
}

func (a *Adapter) download(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrFatal, stageName, "download", "build request", err)
	}
	resp, err := a.httpClient.Do(req)
	if err := services.ClassifyHTTP(stageName, "download", resp, err); err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return resp, nil
}

func describeStatus(s statusResponse) string {
	if s.Error != "" {
		return s.Error
	}
	if n := len(s.Logs); n > 0 {
		return s.Logs[n-1].Message
	}
	return fmt.Sprintf("status %s", s.Status)
}
