package config

const (
	defaultDataDir             = "~/.local/share/lipsync"
	defaultArtifactDir         = "~/.local/share/lipsync/artifacts"
	defaultLogDir              = "~/.local/share/lipsync/logs"
	defaultTemplateDir         = "~/.local/share/lipsync/templates"
	defaultBind                = "127.0.0.1:7590"
	defaultServerURL           = "http://127.0.0.1:7590"
	defaultUploadMaxBytes      = 100 * 1024 * 1024
	defaultUploadMinFreeBytes  = 512 * 1024 * 1024
	defaultConcurrency         = 2
	defaultQueuePollInterval   = 5
	defaultErrorRetryInterval  = 10
	defaultRetentionDays       = 30
	defaultPruneSchedule       = "@hourly"
	defaultMaxAttempts         = 3
	defaultBaseDelaySeconds    = 2
	defaultMaxDelaySeconds     = 30
	defaultJitterFraction      = 0.2
	defaultStageTimeoutSeconds = 300
	defaultPDFToText           = "pdftotext"
	defaultLLMModel            = "gpt-4o-mini"
	defaultScriptMaxInputChars = 24000
	defaultSpeechBaseURL       = "https://api.openai.com/v1/audio/speech"
	defaultSpeechModel         = "tts-1"
	defaultSpeechVoice         = "alloy"
	defaultSpeechFormat        = "mp3"
	defaultRenderBaseURL       = "https://queue.fal.run"
	defaultRenderModel         = "fal-ai/sync-lipsync"
	defaultRenderPollSeconds   = 5
	defaultPublishPrivacy      = "public"
	defaultPublishCategory     = "22"
	defaultPublishLanguage     = "en"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
			TemplateDir: defaultTemplateDir,
		},
		Server: Server{
			Bind: defaultBind,
			URL:  defaultServerURL,
		},
		Upload: Upload{
			MaxBytes:     defaultUploadMaxBytes,
			MinFreeBytes: defaultUploadMinFreeBytes,
			AllowedTypes: []string{"application/pdf"},
		},
		Workflow: Workflow{
			Concurrency:        defaultConcurrency,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			RetentionDays:      defaultRetentionDays,
			PruneSchedule:      defaultPruneSchedule,
		},
		Retry: Retry{
			MaxAttempts:      defaultMaxAttempts,
			BaseDelaySeconds: defaultBaseDelaySeconds,
			MaxDelaySeconds:  defaultMaxDelaySeconds,
			JitterFraction:   defaultJitterFraction,
		},
		Stages: Stages{
			Script: Script{
				TimeoutSeconds: 180,
				PDFToTextPath:  defaultPDFToText,
				Model:          defaultLLMModel,
				MaxInputChars:  defaultScriptMaxInputChars,
			},
			Speech: Speech{
				TimeoutSeconds: 120,
				BaseURL:        defaultSpeechBaseURL,
				Model:          defaultSpeechModel,
				Voice:          defaultSpeechVoice,
				Format:         defaultSpeechFormat,
			},
			Templates: Templates{
				TimeoutSeconds: 60,
				Extensions:     []string{".mp4", ".mov", ".webm"},
			},
			Render: Render{
				TimeoutSeconds:      1800,
				BaseURL:             defaultRenderBaseURL,
				Model:               defaultRenderModel,
				PollIntervalSeconds: defaultRenderPollSeconds,
			},
			Publish: Publish{
				TimeoutSeconds: 900,
				PrivacyStatus:  defaultPublishPrivacy,
				CategoryID:     defaultPublishCategory,
				Language:       defaultPublishLanguage,
				Tags:           []string{"ai", "summary"},
			},
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			JobCompleted:   true,
			JobFailed:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
