package preflight

import (
	"context"
	"strings"

	"castline/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// RunAll executes the offline checks for cfg: directories, commands and
// language-model settings. No network request is made.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if strings.TrimSpace(cfg.Paths.InboxDir) != "" {
		results = append(results, CheckDirectoryAccess("Inbox directory", cfg.Paths.InboxDir))
	}
	if strings.TrimSpace(cfg.Paths.PromptDir) != "" {
		prompt := CheckDirectoryAccess("Prompt directory", cfg.Paths.PromptDir)
		prompt.Optional = true
		results = append(results, prompt)
	}

	for _, status := range CheckSystemDeps(ctx, cfg) {
		results = append(results, Result{
			Name:     status.Name,
			Passed:   status.Available,
			Optional: status.Optional,
			Detail:   status.Detail,
		})
	}

	results = append(results, CheckLLMConfig(cfg.LLM))
	return results
}

// Failed reports whether any required check did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}
