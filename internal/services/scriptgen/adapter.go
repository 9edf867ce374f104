package scriptgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"lipsync/internal/artifact"
	"lipsync/internal/config"
	"lipsync/internal/deps"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/stage"
	"lipsync/internal/titlefmt"
)

const stageName = string(jobs.StageScript)

// Adapter generates narration scripts.
type Adapter struct {
	cfg       config.Script
	artifacts *artifact.Store
	logger    *slog.Logger
	model     llms.Model
}

// Option customizes the adapter.
type Option func(*Adapter)

// WithModel replaces the OpenAI model built from configuration.
func WithModel(model llms.Model) Option {
	return func(a *Adapter) {
		if model != nil {
			a.model = model
		}
	}
}

// New constructs the script adapter. A missing API key is not an error: the
// adapter reports itself unhealthy and fails invocations as fatal.
func New(cfg config.Script, artifacts *artifact.Store, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	if artifacts == nil {
		return nil, errors.New("scriptgen: artifact store required")
	}
	a := &Adapter{
		cfg:       cfg,
		artifacts: artifacts,
		logger:    logging.NewComponentLogger(logger, "scriptgen"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.model == nil && strings.TrimSpace(cfg.APIKey) != "" {
		modelOpts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			modelOpts = append(modelOpts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(modelOpts...)
		if err != nil {
			return nil, fmt.Errorf("scriptgen: create openai model: %w", err)
		}
		a.model = model
	}
	return a, nil
}

// Name implements stage.Adapter.
func (a *Adapter) Name() stage.Name { return jobs.StageScript }

// Invoke implements stage.Adapter.
func (a *Adapter) Invoke(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Output, error) {
	if a.model == nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "generate", "no language model configured (set stages.script.api_key)", nil)
	}
	path, err := a.artifacts.Path(ctx, in.Source)
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "load document", "source document missing", err)
	}
	text, err := extractText(ctx, a.cfg.PDFToTextPath, path)
	if err != nil {
		return stage.Output{}, err
	}
	progress.Report(20)

	title := titlefmt.DocumentTitle(in.DocumentName)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt(title, in.Settings.ChannelName, truncateRunes(text, a.cfg.MaxInputChars))),
	}
	resp, err := a.model.GenerateContent(ctx, messages, llms.WithTemperature(0.7))
	if err != nil {
		if ctx.Err() != nil {
			return stage.Output{}, ctx.Err()
		}
		return stage.Output{}, services.Wrap(services.ErrTransient, stageName, "generate", "language model request failed", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return stage.Output{}, services.Wrap(services.ErrTransient, stageName, "generate", "language model returned no choices", nil)
	}
	progress.Report(80)

	script, err := parseCompletion(resp.Choices[0].Content)
	if err != nil {
		// Malformed model output is usually a one-off; another sample tends to parse.
		return stage.Output{}, services.Wrap(services.ErrTransient, stageName, "parse script", "model output was not a valid script", err)
	}
	if script.Title == "" {
		script.Title = title
	}
	encoded, err := json.MarshalIndent(script, "", "  ")
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrFatal, stageName, "encode script", "", err)
	}
	info, err := a.artifacts.PutBytes(ctx, encoded, artifact.Meta{ContentType: ContentType, Extension: ".json"})
	if err != nil {
		return stage.Output{}, services.Wrap(services.ErrTransient, stageName, "store script", "", err)
	}
	logging.WithContext(ctx, a.logger).Info("script generated",
		logging.String(logging.FieldEventType, "script_generated"),
		logging.String("artifact", info.ID),
		logging.Int("chars", len(script.Soundbite)),
		logging.Int("source_chars", len(text)),
	)
	return stage.Output{Artifact: info.ID}, nil
}

// HealthCheck implements stage.HealthChecker.
func (a *Adapter) HealthCheck(context.Context) stage.Health {
	if a.model == nil {
		return stage.Unhealthy(stageName, "api key not configured")
	}
	if status := deps.Check(deps.Requirement{Name: "pdftotext", Command: a.cfg.PDFToTextPath}); !status.Available {
		return stage.Unhealthy(stageName, status.Detail)
	}
	return stage.Healthy(stageName)
}
