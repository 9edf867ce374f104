package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Concurrency <= 0 {
		return errors.New("workflow.concurrency must be positive")
	}
	if c.Workflow.RetentionDays < 0 {
		return errors.New("workflow.retention_days must not be negative")
	}
	if _, err := c.PruneSchedule(); err != nil {
		return fmt.Errorf("workflow.prune_schedule: %w", err)
	}
	return ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelaySeconds < 0 || c.Retry.MaxDelaySeconds < 0 {
		return errors.New("retry delays must not be negative")
	}
	if c.Retry.MaxDelaySeconds < c.Retry.BaseDelaySeconds {
		return errors.New("retry.max_delay_seconds must be at least retry.base_delay_seconds")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return errors.New("retry.jitter_fraction must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be positive")
	}
	if c.Upload.MinFreeBytes < 0 {
		return errors.New("upload.min_free_bytes must not be negative")
	}
	if len(c.Upload.AllowedTypes) == 0 {
		return errors.New("upload.allowed_types must list at least one content type")
	}
	return nil
}

func (c *Config) validateStages() error {
	if err := ensurePositiveMap(map[string]int{
		"stages.script.timeout_seconds":        c.Stages.Script.TimeoutSeconds,
		"stages.audio.timeout_seconds":         c.Stages.Speech.TimeoutSeconds,
		"stages.video_select.timeout_seconds":  c.Stages.Templates.TimeoutSeconds,
		"stages.lipsync.timeout_seconds":       c.Stages.Render.TimeoutSeconds,
		"stages.lipsync.poll_interval_seconds": c.Stages.Render.PollIntervalSeconds,
		"stages.publish.timeout_seconds":       c.Stages.Publish.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if len(c.Stages.Templates.Extensions) == 0 {
		return errors.New("stages.video_select.extensions must list at least one extension")
	}
	switch c.Stages.Publish.PrivacyStatus {
	case "public", "unlisted", "private":
	default:
		return fmt.Errorf("stages.publish.privacy_status: unsupported value %q", c.Stages.Publish.PrivacyStatus)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
