package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"lipsync/internal/services/scriptgen"
	"lipsync/internal/stage"
)

const (
	stageName = string(jobs.StageAudio)
	// maxInputChars is the request limit of OpenAI-compatible speech endpoints.
	maxInputChars = 4096
)

var formatTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"opus": "audio/ogg",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"pcm":  "audio/L16",
}

// Adapter synthesizes narration audio.
type Adapter struct {
	cfg        config.Speech
	artifacts  *artifact.Store
	logger     *slog.Logger
	httpClient *http.Client
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

// New constructs the speech adapter.
func New(cfg config.Speech, artifacts *artifact.Store, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	if artifacts == nil {
		return nil, errors.New("speech: artifact store required")
	}
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if _, ok := formatTypes[cfg.Format]; !ok {
		return nil, fmt.Errorf("speech: unsupported format %q", cfg.Format)
	}
	a := &Adapter{
		cfg:        cfg,
		artifacts:  artifacts,
		logger:     logging.NewComponentLogger(logger, "speech"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name implements stage.Adapter.
func (a *Adapter) Name() stage.Name { return jobs.StageAudio }

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
	Instructions   string `json:"instructions,omitempty"`
}

// Invoke implements stage.Adapter.
func (a *Adapter) Invoke(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "synthesize", "api key not configured", nil)
	}
	data, _, err := a.artifacts.ReadAll(ctx, in.Source)
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "load script", "script artifact missing", err)
	}
	script, err := scriptgen.Decode(data)
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "load script", "script artifact unreadable", err)
	}
	text := script.Soundbite
	if len([]rune(text)) > maxInputChars {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "synthesize",
			fmt.Sprintf("narration exceeds %d characters", maxInputChars), nil)
	}

	body, err := json.Marshal(speechRequest{
		Model:          a.cfg.Model,
		Input:          text,
		Voice:          a.cfg.Voice,
		ResponseFormat: a.cfg.Format,
		Instructions:   toneInstructions(script.Tone),
	})
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "encode request", "", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "build request", "", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := a.httpClient.Do(req)
	if err := services.ClassifyHTTP(stageName, "synthesize", resp, err); err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return stage.Output{}, err
	}
	defer resp.Body.Close()
	progress.Report(50)

	contentType := formatTypes[a.cfg.Format]
	if header := resp.Header.Get("Content-Type"); header != "" {
		if mediaType, _, err := mime.ParseMediaType(header); err == nil && strings.HasPrefix(mediaType, "audio/") {
			contentType = mediaType
		} else if err == nil && mediaType == "application/json" {
			return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "synthesize", "endpoint returned JSON instead of audio", nil)
		}
	}
	info, err := a.artifacts.Put(ctx, resp.Body, artifact.Meta{ContentType: contentType, Extension: "." + a.cfg.Format})
	if err != nil {
		if ctx.Err() != nil {
			return stage.Output{}, ctx.Err()
		}
		return stage.Output{}, services.Wrap(services.ErrTransient, stageName, "store audio", "audio download interrupted", err)
	}
	if info.Size == 0 {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "synthesize", "endpoint returned empty audio", nil)
	}
	logging.WithContext(ctx, a.logger).Info("narration synthesized",
		logging.String(logging.FieldEventType, "speech_synthesized"),
		logging.String("artifact", info.ID),
		logging.Int64("size_bytes", info.Size),
		logging.Duration("elapsed", time.Since(started)),
	)
	return stage.Output{Artifact: info.ID}, nil
}

func toneInstructions(tone string) string {
	tone = strings.TrimSpace(tone)
	if tone == "" {
		return ""
	}
	return "Speak in a " + tone + " style."
}

// HealthCheck implements stage.HealthChecker.
func (a *Adapter) HealthCheck(context.Context) stage.Health {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return stage.Unhealthy(stageName, "api key not configured")
	}
	if strings.TrimSpace(a.cfg.BaseURL) == "" {
		return stage.Unhealthy(stageName, "base url not configured")
	}
	return stage.Healthy(stageName)
}
