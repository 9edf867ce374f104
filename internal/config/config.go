package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
	TemplateDir string `toml:"template_dir"`
}

// Server contains HTTP API settings.
type Server struct {
	Bind     string `toml:"bind"`
	APIToken string `toml:"api_token"`
	// URL is used by the CLI to reach a running daemon.
	URL string `toml:"url"`
}

// Upload contains limits applied to submitted documents.
type Upload struct {
	MaxBytes     int64    `toml:"max_bytes"`
	MinFreeBytes int64    `toml:"min_free_bytes"`
	AllowedTypes []string `toml:"allowed_types"`
}

// Workflow contains worker pool and polling configuration.
type Workflow struct {
	Concurrency        int `toml:"concurrency"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	// RetentionDays removes finished jobs older than this many days; 0 keeps them.
	RetentionDays int `toml:"retention_days"`
	// PruneSchedule is a cron expression (or @hourly style descriptor) for the janitor.
	PruneSchedule string `toml:"prune_schedule"`
}

// Retry contains the stage retry policy.
type Retry struct {
	MaxAttempts      int     `toml:"max_attempts"`
	BaseDelaySeconds float64 `toml:"base_delay_seconds"`
	MaxDelaySeconds  float64 `toml:"max_delay_seconds"`
	JitterFraction   float64 `toml:"jitter_fraction"`
}

// Script configures the script generation collaborator.
type Script struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	PDFToTextPath  string `toml:"pdftotext_path"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	MaxInputChars  int    `toml:"max_input_chars"`
}

// Speech configures the text-to-speech collaborator.
type Speech struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Voice          string `toml:"voice"`
	Format         string `toml:"format"`
}

// Templates configures presenter video template selection.
type Templates struct {
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Extensions     []string `toml:"extensions"`
}

// Render configures the lip-sync rendering collaborator.
type Render struct {
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	BaseURL             string `toml:"base_url"`
	APIKey              string `toml:"api_key"`
	Model               string `toml:"model"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
}

// Publish configures the video platform collaborator.
type Publish struct {
	TimeoutSeconds int      `toml:"timeout_seconds"`
	BaseURL        string   `toml:"base_url"`
	Token          string   `toml:"token"`
	PrivacyStatus  string   `toml:"privacy_status"`
	CategoryID     string   `toml:"category_id"`
	Language       string   `toml:"language"`
	Tags           []string `toml:"tags"`
}

// Stages groups collaborator settings per pipeline stage.
type Stages struct {
	Script    Script    `toml:"script"`
	Speech    Speech    `toml:"audio"`
	Templates Templates `toml:"video_select"`
	Render    Render    `toml:"lipsync"`
	Publish   Publish   `toml:"publish"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for lipsync.
//
// Configuration sections by subsystem:
//   - Paths: data, artifact, log, and template directories
//   - Server: HTTP bind address, bearer token, CLI target URL
//   - Upload: document size, free-space, and type limits
//   - Workflow: worker pool size and polling intervals
//   - Retry: stage retry attempts and backoff
//   - Stages: per-stage collaborator endpoints and timeouts
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Server        Server        `toml:"server"`
	Upload        Upload        `toml:"upload"`
	Workflow      Workflow      `toml:"workflow"`
	Retry         Retry         `toml:"retry"`
	Stages        Stages        `toml:"stages"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lipsync/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lipsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ArtifactDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JobDBPath returns the location of the job store database.
func (c *Config) JobDBPath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "lipsyncd.lock")
}

// PruneSchedule parses the janitor schedule. Standard five-field expressions
// and descriptors such as @hourly or @every 30m are accepted.
func (c *Config) PruneSchedule() (cron.Schedule, error) {
	return cron.ParseStandard(c.Workflow.PruneSchedule)
}

// Retention returns how long finished jobs are kept, or 0 to keep them forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Workflow.RetentionDays) * 24 * time.Hour
}

// PollInterval returns the idle worker poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.QueuePollInterval) * time.Second
}

// StageTimeout returns the per-invocation timeout for the named stage.
func (c *Config) StageTimeout(stage string) time.Duration {
	var seconds int
	switch stage {
	case "script":
		seconds = c.Stages.Script.TimeoutSeconds
	case "audio":
		seconds = c.Stages.Speech.TimeoutSeconds
	case "videoSelect":
		seconds = c.Stages.Templates.TimeoutSeconds
	case "lipsync":
		seconds = c.Stages.Render.TimeoutSeconds
	case "publish":
		seconds = c.Stages.Publish.TimeoutSeconds
	}
	if seconds <= 0 {
		seconds = defaultStageTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
