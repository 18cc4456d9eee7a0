package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	InboxDir  string `toml:"inbox_dir"`
	PromptDir string `toml:"prompt_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Pipeline selects the stage sequence applied to new units.
type Pipeline struct {
	DefaultVersion  string `toml:"default_version"`
	DefinitionsFile string `toml:"definitions_file"`
}

// Retrieval controls segmentation and context selection for generation stages.
type Retrieval struct {
	SegmentLength int     `toml:"segment_length"`
	Overlap       float64 `toml:"overlap"`
	SnapWindow    int     `toml:"snap_window"`
	TopK          int     `toml:"top_k"`
}

// Localization describes the source and target audience.
type Localization struct {
	SourceLanguage string `toml:"source_language"`
	TargetLanguage string `toml:"target_language"`
	TargetRegion   string `toml:"target_region"`
}

// LLM contains the language-model connection used by the text stages.
type LLM struct {
	Provider       string  `toml:"provider"`
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Temperature    float64 `toml:"temperature"`
	MaxTokens      int     `toml:"max_tokens"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxRetries     int     `toml:"max_retries"`
}

// Transcription configures the speech-to-text command.
type Transcription struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	Model          string   `toml:"model"`
	Language       string   `toml:"language"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Download configures source retrieval.
type Download struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
}

// Command describes an external program used as a stage collaborator.
type Command struct {
	Command        string   `toml:"command"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Configured reports whether a command has been set.
func (c Command) Configured() bool {
	return strings.TrimSpace(c.Command) != ""
}

// Media holds the collaborators for the publication stages.
type Media struct {
	Illustrate Command `toml:"illustrate"`
	Narrate    Command `toml:"narrate"`
	Render     Command `toml:"render"`
	Publish    Command `toml:"publish"`
}

// Pricing holds cost formulas. Formulas may reference input_tokens,
// output_tokens, input_units and output_units.
type Pricing struct {
	DefaultFormula string            `toml:"default_formula"`
	Stages         map[string]string `toml:"stages"`
	Models         map[string]string `toml:"models"`
}

// Workflow contains job runner and batch settings.
type Workflow struct {
	StopBetweenStages bool   `toml:"stop_between_stages"`
	JobHistory        int    `toml:"job_history"`
	BatchStateDir     string `toml:"batch_state_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	UnitFailed     bool   `toml:"unit_failed"`
	UnitCompleted  bool   `toml:"unit_completed"`
	BatchFinished  bool   `toml:"batch_finished"`
}

// Config encapsulates all configuration values for castline.
//
// Configuration sections by subsystem:
//   - Paths: data, log, inbox and prompt directories plus the API bind address
//   - Pipeline: default pipeline version and optional YAML definitions
//   - Retrieval: segment size, overlap and top-k context selection
//   - Localization: source and target language
//   - LLM: language-model provider for the text stages
//   - Transcription: speech-to-text command
//   - Download: source retrieval settings
//   - Media: image, narration, video and publish collaborators
//   - Pricing: cost estimation formulas
//   - Workflow: job history and batch behaviour
//   - Logging: log format, level, and retention
//   - Notifications: ntfy push notification settings
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Retrieval     Retrieval     `toml:"retrieval"`
	Localization  Localization  `toml:"localization"`
	LLM           LLM           `toml:"llm"`
	Transcription Transcription `toml:"transcription"`
	Download      Download      `toml:"download"`
	Media         Media         `toml:"media"`
	Pricing       Pricing       `toml:"pricing"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the config (or the
// file named by CASTLINE_ENV_FILE) is loaded first without overriding the
// existing environment.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("CASTLINE_CONFIG"))
	}
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

	if err := loadEnvFile(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadEnvFile(configPath string) error {
	envPath := strings.TrimSpace(os.Getenv("CASTLINE_ENV_FILE"))
	if envPath == "" && configPath != "" {
		envPath = filepath.Join(filepath.Dir(configPath), ".env")
	}
	if envPath == "" {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", envPath, err)
	}
	return nil
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

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("castline.toml")
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

// EnsureDirectories creates required directories for engine operation.
// The inbox is created on a best-effort basis so the engine still runs when
// the inbox lives on storage that is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.UnitsDir(), c.UnitLogDir(), c.Workflow.BatchStateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.InboxDir) != "" {
		_ = os.MkdirAll(c.Paths.InboxDir, 0o755)
	}
	return nil
}

// DatabasePath returns the location of the unit record store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "castline.db")
}

// LockPath returns the single-writer lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "castline.lock")
}

// UnitsDir returns the root directory holding per-unit work directories.
func (c *Config) UnitsDir() string {
	return filepath.Join(c.Paths.DataDir, "units")
}

// UnitLogDir returns the directory holding per-unit append-only logs.
func (c *Config) UnitLogDir() string {
	return filepath.Join(c.Paths.LogDir, "units")
}

// PublishedDir returns the directory receiving locally assembled publications.
func (c *Config) PublishedDir() string {
	return filepath.Join(c.Paths.DataDir, "published")
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

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
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

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	redacted := *c
	if redacted.LLM.APIKey != "" {
		redacted.LLM.APIKey = "<redacted>"
	}
	if redacted.Paths.APIToken != "" {
		redacted.Paths.APIToken = "<redacted>"
	}
	data, err := toml.Marshal(redacted)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
