package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"lipsync/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeysAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LIPSYNC_API_TOKEN", "secret")
	t.Setenv("LIPSYNC_RENDER_KEY", "render-key")
	t.Setenv("LIPSYNC_PUBLISH_TOKEN", "publish-token")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != filepath.Join(tempHome, ".config", "lipsync", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantArtifacts := filepath.Join(tempHome, ".local", "share", "lipsync", "artifacts")
	if cfg.Paths.ArtifactDir != wantArtifacts {
		t.Fatalf("unexpected artifact dir: got %q want %q", cfg.Paths.ArtifactDir, wantArtifacts)
	}
	if cfg.Server.Bind != "127.0.0.1:7590" {
		t.Fatalf("unexpected bind: %q", cfg.Server.Bind)
	}
	if cfg.Server.APIToken != "secret" {
		t.Fatalf("expected api token from env, got %q", cfg.Server.APIToken)
	}
	if cfg.Stages.Script.APIKey != "sk-test" || cfg.Stages.Speech.APIKey != "sk-test" {
		t.Fatal("expected OPENAI_API_KEY to populate script and speech keys")
	}
	if cfg.Stages.Render.APIKey != "render-key" {
		t.Fatalf("unexpected render key %q", cfg.Stages.Render.APIKey)
	}
	if cfg.Stages.Publish.Token != "publish-token" {
		t.Fatalf("unexpected publish token %q", cfg.Stages.Publish.Token)
	}
	if cfg.Upload.MaxBytes != 100*1024*1024 {
		t.Fatalf("unexpected max upload %d", cfg.Upload.MaxBytes)
	}
	if len(cfg.Upload.AllowedTypes) != 1 || cfg.Upload.AllowedTypes[0] != "application/pdf" {
		t.Fatalf("unexpected allowed types %v", cfg.Upload.AllowedTypes)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("unexpected max attempts %d", cfg.Retry.MaxAttempts)
	}
	if cfg.JobDBPath() != filepath.Join(tempHome, ".local", "share", "lipsync", "jobs.db") {
		t.Fatalf("unexpected job db path %q", cfg.JobDBPath())
	}
}

func TestLoadCustomConfigOverridesValues(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "custom.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"data_dir":     "~/data",
			"artifact_dir": "~/blobs",
		},
		"workflow": map[string]any{
			"concurrency": 5,
		},
		"upload": map[string]any{
			"allowed_types": []string{" Application/PDF ", "text/plain", ""},
		},
		"stages": map[string]any{
			"video_select": map[string]any{
				"extensions": []string{"MP4", ".mov"},
			},
			"publish": map[string]any{
				"privacy_status": "Unlisted",
			},
		},
		"logging": map[string]any{
			"format": "JSON",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "data") {
		t.Fatalf("unexpected data dir %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.ArtifactDir != filepath.Join(tempHome, "blobs") {
		t.Fatalf("unexpected artifact dir %q", cfg.Paths.ArtifactDir)
	}
	if cfg.Workflow.Concurrency != 5 {
		t.Fatalf("unexpected concurrency %d", cfg.Workflow.Concurrency)
	}
	if got := strings.Join(cfg.Upload.AllowedTypes, ","); got != "application/pdf,text/plain" {
		t.Fatalf("unexpected allowed types %q", got)
	}
	if got := strings.Join(cfg.Stages.Templates.Extensions, ","); got != ".mp4,.mov" {
		t.Fatalf("unexpected template extensions %q", got)
	}
	if cfg.Stages.Publish.PrivacyStatus != "unlisted" {
		t.Fatalf("unexpected privacy %q", cfg.Stages.Publish.PrivacyStatus)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("unexpected log format %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero concurrency", func(c *config.Config) { c.Workflow.Concurrency = 0 }, "workflow.concurrency"},
		{"negative retention", func(c *config.Config) { c.Workflow.RetentionDays = -1 }, "workflow.retention_days"},
		{"prune schedule", func(c *config.Config) { c.Workflow.PruneSchedule = "every tuesday" }, "workflow.prune_schedule"},
		{"zero attempts", func(c *config.Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"max below base", func(c *config.Config) { c.Retry.MaxDelaySeconds = 1; c.Retry.BaseDelaySeconds = 5 }, "retry.max_delay_seconds"},
		{"jitter range", func(c *config.Config) { c.Retry.JitterFraction = 1.5 }, "retry.jitter_fraction"},
		{"no upload types", func(c *config.Config) { c.Upload.AllowedTypes = nil }, "upload.allowed_types"},
		{"stage timeout", func(c *config.Config) { c.Stages.Render.TimeoutSeconds = 0 }, "stages.lipsync.timeout_seconds"},
		{"privacy", func(c *config.Config) { c.Stages.Publish.PrivacyStatus = "secret" }, "privacy_status"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"log level", func(c *config.Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestPruneScheduleAcceptsDescriptors(t *testing.T) {
	cfg := config.Default()
	schedule, err := cfg.PruneSchedule()
	if err != nil {
		t.Fatalf("default schedule: %v", err)
	}
	from := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	if next := schedule.Next(from); !next.Equal(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run %v", next)
	}

	cfg.Workflow.PruneSchedule = "30 3 * * *"
	schedule, err = cfg.PruneSchedule()
	if err != nil {
		t.Fatalf("cron expression: %v", err)
	}
	if next := schedule.Next(from); !next.Equal(time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run %v", next)
	}
}

func TestStageTimeoutFallsBackToDefault(t *testing.T) {
	cfg := config.Default()
	if got := cfg.StageTimeout("lipsync"); got != 30*time.Minute {
		t.Fatalf("unexpected lipsync timeout %v", got)
	}
	if got := cfg.StageTimeout("unknown"); got != 5*time.Minute {
		t.Fatalf("unexpected fallback timeout %v", got)
	}
}

func TestCreateSampleWritesLoadableConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(tempHome, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Stages.Publish.CategoryID != "22" {
		t.Fatalf("unexpected category %q", cfg.Stages.Publish.CategoryID)
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ArtifactDir = filepath.Join(base, "data", "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ArtifactDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
