package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeUpload()
	c.normalizeWorkflow()
	c.normalizeStages()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = defaultArtifactDir
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.TemplateDir, err = expandPath(c.Paths.TemplateDir); err != nil {
		return fmt.Errorf("paths.template_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	c.Server.URL = strings.TrimRight(strings.TrimSpace(c.Server.URL), "/")
	if c.Server.URL == "" {
		c.Server.URL = defaultServerURL
	}
	if c.Server.APIToken == "" {
		if value, ok := os.LookupEnv("LIPSYNC_API_TOKEN"); ok {
			c.Server.APIToken = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeUpload() {
	types := make([]string, 0, len(c.Upload.AllowedTypes))
	for _, value := range c.Upload.AllowedTypes {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" {
			types = append(types, value)
		}
	}
	c.Upload.AllowedTypes = types
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.PruneSchedule = strings.TrimSpace(c.Workflow.PruneSchedule)
	if c.Workflow.PruneSchedule == "" {
		c.Workflow.PruneSchedule = defaultPruneSchedule
	}
}

func (c *Config) normalizeStages() {
	script := &c.Stages.Script
	if script.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			script.APIKey = strings.TrimSpace(value)
		}
	}
	script.BaseURL = strings.TrimSpace(script.BaseURL)
	script.PDFToTextPath = strings.TrimSpace(script.PDFToTextPath)
	if script.PDFToTextPath == "" {
		script.PDFToTextPath = defaultPDFToText
	}

	speech := &c.Stages.Speech
	if speech.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			speech.APIKey = strings.TrimSpace(value)
		}
	}
	speech.BaseURL = strings.TrimSpace(speech.BaseURL)
	if speech.BaseURL == "" {
		speech.BaseURL = defaultSpeechBaseURL
	}

	render := &c.Stages.Render
	if render.APIKey == "" {
		if value, ok := os.LookupEnv("LIPSYNC_RENDER_KEY"); ok {
			render.APIKey = strings.TrimSpace(value)
		}
	}
	render.BaseURL = strings.TrimRight(strings.TrimSpace(render.BaseURL), "/")
	if render.BaseURL == "" {
		render.BaseURL = defaultRenderBaseURL
	}

	publish := &c.Stages.Publish
	if publish.Token == "" {
		if value, ok := os.LookupEnv("LIPSYNC_PUBLISH_TOKEN"); ok {
			publish.Token = strings.TrimSpace(value)
		}
	}
	publish.BaseURL = strings.TrimRight(strings.TrimSpace(publish.BaseURL), "/")
	publish.PrivacyStatus = strings.ToLower(strings.TrimSpace(publish.PrivacyStatus))
	if publish.PrivacyStatus == "" {
		publish.PrivacyStatus = defaultPublishPrivacy
	}

	exts := make([]string, 0, len(c.Stages.Templates.Extensions))
	for _, ext := range c.Stages.Templates.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Stages.Templates.Extensions = exts
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
