package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"castline/internal/config"
	"castline/internal/deps"
	"castline/internal/services/llm"
)

// CheckLLMConfig verifies that the language-model settings are complete
// enough to build a client. Ollama runs locally and needs no API key.
func CheckLLMConfig(cfg config.LLM) Result {
	const name = "Language model"

	if strings.TrimSpace(cfg.Model) == "" {
		return Result{Name: name, Detail: "llm.model not set"}
	}
	if cfg.Provider != "ollama" && strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: fmt.Sprintf("API key missing for provider %s", cfg.Provider)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", cfg.Model, cfg.Provider)}
}

// CheckLLM verifies that the model endpoint is reachable and the key is
// valid. It uses a 30-second timeout and a single attempt.
func CheckLLM(ctx context.Context, cfg config.LLM) Result {
	const name = "Language model API"

	if static := CheckLLMConfig(cfg); !static.Passed {
		static.Name = name
		return static
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := llm.New(cfg, llm.WithRetryMaxAttempts(1))
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if err := llm.HealthCheck(checkCtx, client); err != nil {
		return Result{Name: name, Detail: summarizeLLMError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external commands the configured pipeline
// invokes. Media commands that are not configured are optional; the publish
// stage falls back to a local bundle.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Transcription",
			Command:     cfg.Transcription.Command,
			Description: "Required for the transcribe stage",
		},
	}
	media := []struct {
		name    string
		command config.Command
		desc    string
	}{
		{"Illustration", cfg.Media.Illustrate, "Renders images for the illustrate stage"},
		{"Narration", cfg.Media.Narrate, "Synthesizes speech for the narrate stage"},
		{"Video render", cfg.Media.Render, "Assembles video for the render stage"},
		{"Publisher", cfg.Media.Publish, "Uploads finished episodes"},
	}
	for _, m := range media {
		requirements = append(requirements, deps.Requirement{
			Name:        m.name,
			Command:     m.command.Command,
			Description: m.desc,
			Optional:    !m.command.Configured(),
		})
	}
	return deps.CheckBinaries(requirements)
}

// summarizeLLMError produces a human-readable summary for LLM health check failures.
func summarizeLLMError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (LLM API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (LLM API unreachable)"
	}
	return err.Error()
}
