package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	langpkg "castline/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeLocalization()
	c.normalizeLLM()
	c.normalizeTranscription()
	c.normalizeMedia()
	c.normalizePricing()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.InboxDir, err = expandPath(strings.TrimSpace(c.Paths.InboxDir)); err != nil {
		return fmt.Errorf("paths.inbox_dir: %w", err)
	}
	if c.Paths.PromptDir, err = expandPath(strings.TrimSpace(c.Paths.PromptDir)); err != nil {
		return fmt.Errorf("paths.prompt_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("CASTLINE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Workflow.BatchStateDir) == "" {
		c.Workflow.BatchStateDir = filepath.Join(c.Paths.DataDir, "batches")
	}
	if c.Workflow.BatchStateDir, err = expandPath(c.Workflow.BatchStateDir); err != nil {
		return fmt.Errorf("workflow.batch_state_dir: %w", err)
	}
	if file := strings.TrimSpace(c.Pipeline.DefinitionsFile); file != "" {
		if c.Pipeline.DefinitionsFile, err = expandPath(file); err != nil {
			return fmt.Errorf("pipeline.definitions_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizePipeline() {
	c.Pipeline.DefaultVersion = strings.ToLower(strings.TrimSpace(c.Pipeline.DefaultVersion))
	if c.Pipeline.DefaultVersion == "" {
		c.Pipeline.DefaultVersion = defaultPipelineVersion
	}
}

func (c *Config) normalizeLocalization() {
	c.Localization.SourceLanguage = normalizeLanguage(c.Localization.SourceLanguage)
	c.Localization.TargetLanguage = normalizeLanguage(c.Localization.TargetLanguage)
	if region := langpkg.NormalizeRegion(c.Localization.TargetRegion); region != "" {
		c.Localization.TargetRegion = region
	} else {
		c.Localization.TargetRegion = strings.TrimSpace(c.Localization.TargetRegion)
	}
	if c.Localization.SourceLanguage == "" {
		c.Localization.SourceLanguage = defaultSourceLanguage
	}
	if c.Localization.TargetLanguage == "" {
		c.Localization.TargetLanguage = defaultTargetLanguage
	}
}

// normalizeLanguage maps "Spanish", "spa" or "es-MX" to "es". Unknown values
// are kept lowercased so validation can report them.
func normalizeLanguage(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if iso := langpkg.ToISO2(value); iso != "" {
		return iso
	}
	return value
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		for _, key := range llmKeyEnv(c.LLM.Provider) {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.LLM.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = defaultLLMMaxTokens
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
}

func llmKeyEnv(provider string) []string {
	switch provider {
	case "claude":
		return []string{"CASTLINE_LLM_API_KEY", "ANTHROPIC_API_KEY"}
	case "ollama":
		return nil
	default:
		return []string{"CASTLINE_LLM_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY"}
	}
}

func (c *Config) normalizeTranscription() {
	c.Transcription.Command = strings.TrimSpace(c.Transcription.Command)
	if c.Transcription.Command == "" {
		c.Transcription.Command = defaultTranscribeCommand
	}
	if len(c.Transcription.Args) == 0 {
		c.Transcription.Args = defaultTranscriptionArgs()
	}
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultTranscribeModel
	}
	c.Transcription.Language = normalizeLanguage(c.Transcription.Language)
	if c.Transcription.Language == "" {
		c.Transcription.Language = c.Localization.SourceLanguage
	}
	if c.Transcription.TimeoutSeconds <= 0 {
		c.Transcription.TimeoutSeconds = defaultTranscribeTimeout
	}
	if c.Download.TimeoutSeconds <= 0 {
		c.Download.TimeoutSeconds = defaultDownloadTimeout
	}
	c.Download.UserAgent = strings.TrimSpace(c.Download.UserAgent)
	if c.Download.UserAgent == "" {
		c.Download.UserAgent = defaultDownloadUserAgent
	}
}

func (c *Config) normalizeMedia() {
	for _, cmd := range []*Command{&c.Media.Illustrate, &c.Media.Narrate, &c.Media.Render, &c.Media.Publish} {
		cmd.Command = strings.TrimSpace(cmd.Command)
		if cmd.TimeoutSeconds <= 0 {
			cmd.TimeoutSeconds = defaultMediaTimeoutSeconds
		}
	}
}

func (c *Config) normalizePricing() {
	c.Pricing.DefaultFormula = strings.TrimSpace(c.Pricing.DefaultFormula)
	if c.Pricing.DefaultFormula == "" {
		c.Pricing.DefaultFormula = "0"
	}
	c.Pricing.Stages = trimFormulaMap(c.Pricing.Stages, true)
	c.Pricing.Models = trimFormulaMap(c.Pricing.Models, false)
}

func trimFormulaMap(in map[string]string, lowerKeys bool) map[string]string {
	out := make(map[string]string, len(in))
	for key, formula := range in {
		key = strings.TrimSpace(key)
		if lowerKeys {
			key = strings.ToLower(key)
		}
		formula = strings.TrimSpace(formula)
		if key == "" || formula == "" {
			continue
		}
		out[key] = formula
	}
	return out
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
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.Workflow.JobHistory <= 0 {
		c.Workflow.JobHistory = defaultJobHistory
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("CASTLINE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}
