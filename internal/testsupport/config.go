package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"castline/internal/config"
)

// ConfigOption adjusts a config built by NewConfig before its directories
// are created.
type ConfigOption func(t testing.TB, base string, cfg *config.Config)

// NewConfig returns the default config rooted in a fresh temp directory,
// bound to an ephemeral API port, with a placeholder LLM key.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.InboxDir = filepath.Join(base, "inbox")
	cfg.Paths.PromptDir = filepath.Join(base, "prompts")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Workflow.BatchStateDir = filepath.Join(cfg.Paths.DataDir, "batches")
	cfg.LLM.APIKey = "test"

	for _, opt := range opts {
		opt(t, base, &cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithStubbedBinaries puts no-op executables with the given names first on
// PATH for the rest of the test. With no names the transcription command
// is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(t testing.TB, base string, cfg *config.Config) {
		if len(names) == 0 {
			names = []string{cfg.Transcription.Command}
		}
		bin := filepath.Join(base, "bin")
		for _, name := range names {
			writeBytes(t, filepath.Join(bin, name), []byte("#!/bin/sh\nexit 0\n"), 0o755)
		}
		t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir is the temp directory NewConfig rooted cfg in.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
