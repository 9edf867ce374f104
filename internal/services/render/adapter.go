package render

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"lipsync/internal/artifact"
	"lipsync/internal/config"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/stage"
)

const (
	stageName = string(jobs.StageLipsync)

	progressSubmitted = 5
	progressRunning   = 15
	progressCeiling   = 90
	progressStored    = 100
)

// Adapter renders lip-synced video through a remote queue.
type Adapter struct {
	cfg          config.Render
	artifacts    *artifact.Store
	logger       *slog.Logger
	httpClient   *http.Client
	pollInterval time.Duration
}

// Option customizes the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithPollInterval overrides the status poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

// New constructs the render adapter.
func New(cfg config.Render, artifacts *artifact.Store, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	if artifacts == nil {
		return nil, errors.New("render: artifact store required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	a := &Adapter{
		cfg:          cfg,
		artifacts:    artifacts,
		logger:       logging.NewComponentLogger(logger, "render"),
		httpClient:   &http.Client{},
		pollInterval: interval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name implements stage.Adapter.
func (a *Adapter) Name() stage.Name { return jobs.StageLipsync }

// Invoke implements stage.Adapter. The presenter template comes from the
// videoSelect output and the narration from the audio output.
func (a *Adapter) Invoke(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "submit", "api key not configured", nil)
	}
	videoURL, err := a.dataURI(ctx, in.Outputs[jobs.StageVideoSelect], "presenter template")
	if err != nil {
		return stage.Output{}, err
	}
	audioURL, err := a.dataURI(ctx, in.Outputs[jobs.StageAudio], "narration audio")
	if err != nil {
		return stage.Output{}, err
	}
	logger := logging.WithContext(ctx, a.logger)

	queued, err := a.submit(ctx, submitRequest{
		VideoURL:               videoURL,
		AudioURL:               audioURL,
		FaceDetectionThreshold: 0.8,
		OutputFormat:           "mp4",
		SyncMode:               "cut_off",
	})
	if err != nil {
		return stage.Output{}, err
	}
	progress.Report(progressSubmitted)
	logger.Info("render submitted",
		logging.String(logging.FieldEventType, "render_submitted"),
		logging.String("request_id", queued.RequestID),
	)

	if err := a.waitForCompletion(ctx, queued, progress); err != nil {
		return stage.Output{}, err
	}

	result, err := a.result(ctx, queued.ResponseURL)
	if err != nil {
		return stage.Output{}, err
	}
	resp, err := a.download(ctx, result.Video.URL)
	if err != nil {
		return stage.Output{}, err
	}
	defer resp.Body.Close()

	contentType := result.Video.ContentType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || !strings.HasPrefix(mediaType, "video/") {
		contentType = "video/mp4"
	}
	info, err := a.artifacts.Put(ctx, resp.Body, artifact.Meta{ContentType: contentType})
	if err != nil {
		if ctx.Err() != nil {
			return stage.Output{}, ctx.Err()
		}
		return stage.Output{}, services.Wrap(services.ErrTransient, stageName, "download", "rendered video download interrupted", err)
	}
	progress.Report(progressStored)
	logger.Info("render stored",
		logging.String(logging.FieldEventType, "render_stored"),
		logging.String("request_id", queued.RequestID),
		logging.String("artifact", info.ID),
		logging.Int64("size_bytes", info.Size),
	)
	return stage.Output{Artifact: info.ID, ExternalID: queued.RequestID}, nil
}

// waitForCompletion polls the queue until the request completes. Progress
// climbs from progressRunning toward progressCeiling while the render runs.
func (a *Adapter) waitForCompletion(ctx context.Context, queued submitResponse, progress stage.ProgressFunc) error {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	current := float64(progressSubmitted)
	lastMessage := ""
	for {
		status, err := a.status(ctx, queued.StatusURL)
		if err != nil {
			return err
		}
		switch status.Status {
		case StatusCompleted:
			if status.Error != "" {
				return services.Wrap(services.ErrFatal, stageName, "render", status.Error, nil)
			}
			return nil
		case StatusInQueue:
		case StatusInProgress:
			if current < progressRunning {
				current = progressRunning
			} else {
				current += (progressCeiling - current) / 10
			}
			progress.Report(current)
		default:
			return services.Wrap(services.ErrFatal, stageName, "poll", "unexpected queue status "+status.Status, nil)
		}
		if msg := describeStatus(status); msg != lastMessage {
			lastMessage = msg
			logging.WithContext(ctx, a.logger).Debug("render status",
				logging.String(logging.FieldEventType, "render_status"),
				logging.String("request_id", queued.RequestID),
				logging.String("status", status.Status),
				logging.Int("queue_position", status.QueuePosition),
				logging.String("message", msg),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Adapter) dataURI(ctx context.Context, id, what string) (string, error) {
	if id == "" {
		return "", services.Wrap(services.ErrFatal, stageName, "load inputs", what+" missing", nil)
	}
	data, info, err := a.artifacts.ReadAll(ctx, id)
	if err != nil {
		return "", services.Wrap(services.ErrFatal, stageName, "load inputs", what+" unreadable", err)
	}
	return "data:" + info.ContentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// HealthCheck implements stage.HealthChecker.
func (a *Adapter) HealthCheck(context.Context) stage.Health {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return stage.Unhealthy(stageName, "api key not configured")
	}
	if a.cfg.BaseURL == "" || strings.TrimSpace(a.cfg.Model) == "" {
		return stage.Unhealthy(stageName, "queue endpoint not configured")
	}
	return stage.Healthy(stageName)
}
