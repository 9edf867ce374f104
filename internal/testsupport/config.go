package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"lipsync/internal/config"
)

// ConfigOption customizes a test configuration after defaults are applied.
type ConfigOption func(t testing.TB, base string, cfg *config.Config)

// NewConfig returns a config rooted in a fresh temp directory. Retry backoff is
// shrunk to milliseconds and the free-space floor is disabled so pipeline
// suites finish quickly on small temp filesystems.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.Paths{
		DataDir:     filepath.Join(base, "data"),
		ArtifactDir: filepath.Join(base, "data", "artifacts"),
		LogDir:      filepath.Join(base, "logs"),
		TemplateDir: filepath.Join(base, "templates"),
	}
	cfg.Server.Bind = "127.0.0.1:0"
	cfg.Upload.MinFreeBytes = 0
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Retry.BaseDelaySeconds = 0.001
	cfg.Retry.MaxDelaySeconds = 0.005
	cfg.Retry.JitterFraction = 0

	for _, opt := range opts {
		opt(t, base, &cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithConcurrency sets the worker pool size.
func WithConcurrency(n int) ConfigOption {
	return func(_ testing.TB, _ string, cfg *config.Config) {
		cfg.Workflow.Concurrency = n
	}
}

// WithMaxUploadBytes sets the document size limit.
func WithMaxUploadBytes(n int64) ConfigOption {
	return func(_ testing.TB, _ string, cfg *config.Config) {
		cfg.Upload.MaxBytes = n
	}
}

// WithFakePDFToText installs a shell script that prints text in place of
// pdftotext and points the script stage at it.
func WithFakePDFToText(text string) ConfigOption {
	return func(t testing.TB, base string, cfg *config.Config) {
		binDir := filepath.Join(base, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			t.Fatalf("mkdir bin dir: %v", err)
		}
		stub := filepath.Join(binDir, "pdftotext")
		script := "#!/bin/sh\ncat <<'EXTRACTED'\n" + text + "\nEXTRACTED\n"
		if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
			t.Fatalf("write pdftotext stub: %v", err)
		}
		cfg.Stages.Script.PDFToTextPath = stub
	}
}

// BaseDir returns the temp directory backing a config built by NewConfig.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
