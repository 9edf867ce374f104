package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"lipsync/internal/artifact"
	"lipsync/internal/config"
	"lipsync/internal/daemon"
	"lipsync/internal/deps"
	"lipsync/internal/jobs"
	"lipsync/internal/logging"
	"lipsync/internal/notifications"
	"lipsync/internal/retention"
	"lipsync/internal/services/publish"
	"lipsync/internal/services/render"
	"lipsync/internal/services/scriptgen"
	"lipsync/internal/services/speech"
	"lipsync/internal/services/templates"
	"lipsync/internal/stage"
	"lipsync/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the lipsync daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Console:     os.Stderr,
		Color:       logging.IsTerminal(os.Stderr),
		FilePath:    filepath.Join(cfg.Paths.LogDir, logging.LogFileName),
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "lipsyncd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := jobs.Open(cfg.JobDBPath())
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}

	artifacts, err := artifact.Open(cfg.Paths.ArtifactDir, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("open artifact store: %w", err)
	}

	registry, err := BuildRegistry(cfg, artifacts, logger)
	if err != nil {
		store.Close()
		return err
	}

	notifier := notifications.NewService(cfg)
	manager := workflow.NewManagerWithNotifier(cfg, store, artifacts, registry, logger, notifier)

	d, err := daemon.New(cfg, store, manager, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, the lock file, and server.bind"),
		)
		return err
	}
	for _, health := range registry.Health(signalCtx) {
		if !health.Ready {
			logging.WarnWithContext(logger, "stage collaborator not ready", "stage_unhealthy",
				logging.String(logging.FieldStage, health.Name),
				logging.String("detail", health.Detail),
				logging.String(logging.FieldErrorHint, "review the [stages] section of the config"),
				logging.String(logging.FieldImpact, "jobs fail at this stage until fixed"),
			)
		}
	}

	janitor, err := retention.New(cfg, store, logger)
	if err != nil {
		return err
	}
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		janitor.Run(signalCtx)
	}()

	<-signalCtx.Done()
	<-janitorDone
	logger.Info("lipsync daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// BuildRegistry constructs the production stage adapters.
func BuildRegistry(cfg *config.Config, artifacts *artifact.Store, logger *slog.Logger) (*stage.Registry, error) {
	script, err := scriptgen.New(cfg.Stages.Script, artifacts, logger)
	if err != nil {
		return nil, err
	}
	audio, err := speech.New(cfg.Stages.Speech, artifacts, logger)
	if err != nil {
		return nil, err
	}
	video, err := templates.New(cfg.Paths.TemplateDir, cfg.Stages.Templates, artifacts, logger)
	if err != nil {
		return nil, err
	}
	lipsync, err := render.New(cfg.Stages.Render, artifacts, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := publish.New(cfg.Stages.Publish, artifacts, logger)
	if err != nil {
		return nil, err
	}
	return stage.NewRegistry(script, audio, video, lipsync, publisher)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("script_key_present", strings.TrimSpace(cfg.Stages.Script.APIKey) != ""),
		logging.Bool("speech_key_present", strings.TrimSpace(cfg.Stages.Speech.APIKey) != ""),
		logging.Bool("render_key_present", strings.TrimSpace(cfg.Stages.Render.APIKey) != ""),
		logging.Bool("publish_token_present", strings.TrimSpace(cfg.Stages.Publish.Token) != ""),
		logging.String("template_dir", cfg.Paths.TemplateDir),
		logging.Int("workers", cfg.Workflow.Concurrency),
	)
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		if status.Available {
			logger.Info("external binary resolved",
				logging.String(logging.FieldEventType, "dependency_resolved"),
				logging.String("binary", status.Name),
				logging.String("path", status.Path),
			)
			continue
		}
		logging.WarnWithContext(logger, "external binary unavailable", "dependency_missing",
			logging.String("binary", status.Name),
			logging.String("detail", status.Detail),
			logging.String(logging.FieldErrorHint, "install it or set the configured path"),
			logging.String(logging.FieldImpact, status.Description),
		)
	}
}
