package config

const (
	defaultConfigPath          = "~/.config/castline/config.toml"
	defaultDataDir             = "~/.local/share/castline"
	defaultLogDir              = "~/.local/share/castline/logs"
	defaultInboxDir            = "~/castline/inbox"
	defaultPromptDir           = "~/.config/castline/prompts"
	defaultAPIBind             = "127.0.0.1:7489"
	defaultPipelineVersion     = "full"
	defaultSegmentLength       = 1500
	defaultSegmentOverlap      = 0.15
	defaultSnapWindow          = 80
	defaultTopK                = 8
	defaultSourceLanguage      = "en"
	defaultTargetLanguage      = "es"
	defaultLLMProvider         = "openai"
	defaultLLMModel            = "gpt-4o-mini"
	defaultLLMTemperature      = 0.3
	defaultLLMMaxTokens        = 4096
	defaultLLMTimeoutSeconds   = 120
	defaultLLMMaxRetries       = 5
	defaultTranscribeCommand   = "whisper"
	defaultTranscribeModel     = "base"
	defaultTranscribeTimeout   = 3600
	defaultDownloadTimeout     = 600
	defaultDownloadUserAgent   = "castline/dev"
	defaultMediaTimeoutSeconds = 1800
	defaultPricingFormula      = "input_tokens * 0.15 / 1000000 + output_tokens * 0.60 / 1000000"
	defaultJobHistory          = 200
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 60
	defaultNotifyTimeout       = 10
)

func defaultTranscriptionArgs() []string {
	return []string{
		"{input}",
		"--model", "{model}",
		"--language", "{language}",
		"--output_format", "txt",
		"--output_dir", "{output_dir}",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			InboxDir:  defaultInboxDir,
			PromptDir: defaultPromptDir,
			APIBind:   defaultAPIBind,
		},
		Pipeline: Pipeline{
			DefaultVersion: defaultPipelineVersion,
		},
		Retrieval: Retrieval{
			SegmentLength: defaultSegmentLength,
			Overlap:       defaultSegmentOverlap,
			SnapWindow:    defaultSnapWindow,
			TopK:          defaultTopK,
		},
		Localization: Localization{
			SourceLanguage: defaultSourceLanguage,
			TargetLanguage: defaultTargetLanguage,
		},
		LLM: LLM{
			Provider:       defaultLLMProvider,
			Model:          defaultLLMModel,
			Temperature:    defaultLLMTemperature,
			MaxTokens:      defaultLLMMaxTokens,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			MaxRetries:     defaultLLMMaxRetries,
		},
		Transcription: Transcription{
			Command:        defaultTranscribeCommand,
			Args:           defaultTranscriptionArgs(),
			Model:          defaultTranscribeModel,
			TimeoutSeconds: defaultTranscribeTimeout,
		},
		Download: Download{
			TimeoutSeconds: defaultDownloadTimeout,
			UserAgent:      defaultDownloadUserAgent,
		},
		Media: Media{
			Illustrate: Command{TimeoutSeconds: defaultMediaTimeoutSeconds},
			Narrate:    Command{TimeoutSeconds: defaultMediaTimeoutSeconds},
			Render:     Command{TimeoutSeconds: defaultMediaTimeoutSeconds},
			Publish:    Command{TimeoutSeconds: defaultMediaTimeoutSeconds},
		},
		Pricing: Pricing{
			DefaultFormula: defaultPricingFormula,
			Stages: map[string]string{
				"download":   "0",
				"transcribe": "0",
				"index":      "0",
			},
			Models: map[string]string{
				"gpt-4o-mini": defaultPricingFormula,
				"gpt-4o":      "input_tokens * 2.50 / 1000000 + output_tokens * 10.00 / 1000000",
			},
		},
		Workflow: Workflow{
			JobHistory: defaultJobHistory,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			UnitFailed:     true,
			UnitCompleted:  true,
			BatchFinished:  true,
		},
	}
}
