package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"castline/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CASTLINE_CONFIG", "")
	t.Setenv("CASTLINE_ENV_FILE", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(tempHome, ".config", "castline", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if want := filepath.Join(tempHome, ".local", "share", "castline"); cfg.Paths.DataDir != want {
		t.Fatalf("data dir = %q, want %q", cfg.Paths.DataDir, want)
	}
	if cfg.DatabasePath() != filepath.Join(cfg.Paths.DataDir, "castline.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
	if cfg.Workflow.BatchStateDir != filepath.Join(cfg.Paths.DataDir, "batches") {
		t.Fatalf("unexpected batch state dir %q", cfg.Workflow.BatchStateDir)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("expected api key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Transcription.Language != "en" {
		t.Fatalf("expected transcription language to follow source language, got %q", cfg.Transcription.Language)
	}
	if cfg.Retrieval.SegmentLength != 1500 || cfg.Retrieval.Overlap != 0.15 || cfg.Retrieval.TopK != 8 {
		t.Fatalf("unexpected retrieval defaults %+v", cfg.Retrieval)
	}
}

func TestLoadFileOverridesAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("CASTLINE_ENV_FILE", "")
	os.Unsetenv("ANTHROPIC_API_KEY")
	os.Unsetenv("CASTLINE_LLM_API_KEY")
	t.Cleanup(func() { os.Unsetenv("ANTHROPIC_API_KEY") })

	configPath := filepath.Join(dir, "castline.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"

[llm]
provider = "claude"
model = "claude-3-5-haiku-latest"

[retrieval]
segment_length = 1200
overlap = 0.2
top_k = 4

[pricing.stages]
translate = "input_tokens / 1000"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ANTHROPIC_API_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, _, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.LLM.Provider != "claude" || cfg.LLM.APIKey != "from-dotenv" {
		t.Fatalf("unexpected llm config %+v", cfg.LLM)
	}
	if cfg.Paths.LogDir != filepath.Join(dir, ".local", "share", "castline", "logs") {
		t.Fatalf("unexpected log dir %q", cfg.Paths.LogDir)
	}
	if cfg.Retrieval.SegmentLength != 1200 || cfg.Retrieval.TopK != 4 {
		t.Fatalf("unexpected retrieval %+v", cfg.Retrieval)
	}
	if cfg.Pricing.Stages["translate"] != "input_tokens / 1000" {
		t.Fatalf("expected stage formula, got %v", cfg.Pricing.Stages)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"provider", func(c *config.Config) { c.LLM.Provider = "mystery" }, "llm.provider"},
		{"overlap", func(c *config.Config) { c.Retrieval.Overlap = 0.95 }, "retrieval.overlap"},
		{"length", func(c *config.Config) { c.Retrieval.SegmentLength = 50 }, "retrieval.segment_length"},
		{"snap", func(c *config.Config) { c.Retrieval.SnapWindow = 1000 }, "retrieval.snap_window"},
		{"topk", func(c *config.Config) { c.Retrieval.TopK = 0 }, "retrieval.top_k"},
		{"formula syntax", func(c *config.Config) { c.Pricing.DefaultFormula = "input_tokens *" }, "pricing.default_formula"},
		{"formula vars", func(c *config.Config) { c.Pricing.Models["x"] = "seconds * 2" }, "pricing.models.x"},
		{"transcription", func(c *config.Config) { c.Transcription.Args = []string{"--model", "base"} }, "transcription.args"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bind", func(c *config.Config) { c.Paths.APIBind = "localhost" }, "paths.api_bind"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.DataDir = t.TempDir()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestSampleConfigParses(t *testing.T) {
	var cfg config.Config
	if err := toml.Unmarshal([]byte(config.SampleConfig()), &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Retrieval.SegmentLength != 1500 {
		t.Fatalf("unexpected sample segment length %d", cfg.Retrieval.SegmentLength)
	}

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample not written: %v", err)
	}
}

func TestJSONSchemaUsesTomlNames(t *testing.T) {
	data, err := config.JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema missing properties: %s", data)
	}
	for _, key := range []string{"paths", "retrieval", "llm", "pricing"} {
		if _, ok := props[key]; !ok {
			t.Fatalf("schema missing %q", key)
		}
	}
}

func TestEncodeRedactsSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.APIKey = "sk-secret"
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Fatalf("api key leaked: %s", data)
	}
}
