package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"castline/internal/config"
	"castline/internal/services"
)

// Input is an upstream artifact handed to the command.
type Input struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
	Hash string `json:"hash,omitempty"`
}

// Manifest is written to the command's stdin.
type Manifest struct {
	UnitID         int64             `json:"unit_id"`
	Title          string            `json:"title"`
	Stage          string            `json:"stage"`
	TargetLanguage string            `json:"target_language,omitempty"`
	TargetRegion   string            `json:"target_region,omitempty"`
	Prompt         string            `json:"prompt"`
	Inputs         []Input           `json:"inputs"`
	Output         string            `json:"output"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Usage is the optional accounting a command reports on stdout.
type Usage struct {
	InputUnits  int64    `json:"input_units"`
	OutputUnits int64    `json:"output_units"`
	Cost        *float64 `json:"cost,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// Runner invokes one configured command.
type Runner struct {
	stage string
	cfg   config.Command
}

// New builds a runner for stage.
func New(stage string, cfg config.Command) *Runner {
	return &Runner{stage: stage, cfg: cfg}
}

// Configured reports whether a command is set.
func (r *Runner) Configured() bool {
	return r != nil && r.cfg.Configured()
}

// Command returns the configured binary.
func (r *Runner) Command() string {
	return r.cfg.Command
}

// Available reports whether the command resolves on PATH.
func (r *Runner) Available() error {
	if !r.Configured() {
		return services.Wrap(services.ErrConfiguration, r.stage, "lookup", "no command configured", nil)
	}
	if _, err := exec.LookPath(r.cfg.Command); err != nil {
		return services.Wrap(services.ErrConfiguration, r.stage, "lookup", r.cfg.Command+" not found", err)
	}
	return nil
}

// Run executes the command with manifest on stdin and verifies that the
// output file was written.
func (r *Runner) Run(ctx context.Context, manifest Manifest) (Usage, error) {
	if !r.Configured() {
		return Usage{}, services.Wrap(services.ErrConfiguration, r.stage, "run", "no command configured", nil)
	}
	if manifest.Output == "" {
		return Usage{}, services.Wrap(services.ErrValidation, r.stage, "run", "output path required", nil)
	}
	payload, err := json.Marshal(manifest)
	if err != nil {
		return Usage{}, fmt.Errorf("encode manifest: %w", err)
	}
	if r.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	replacer := strings.NewReplacer(
		"{output}", manifest.Output,
		"{unit_id}", strconv.FormatInt(manifest.UnitID, 10),
	)
	args := make([]string, len(r.cfg.Args))
	for i, arg := range r.cfg.Args {
		args[i] = replacer.Replace(arg)
	}
	cmd := exec.CommandContext(ctx, r.cfg.Command, args...) //nolint:gosec
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Usage{}, services.Wrap(services.ErrTimeout, r.stage, r.cfg.Command,
				fmt.Sprintf("exceeded %ds", r.cfg.TimeoutSeconds), err)
		}
		return Usage{}, services.Wrap(services.ErrExternalTool, r.stage, r.cfg.Command, tail(stderr.String(), 400), err)
	}

	info, err := os.Stat(manifest.Output)
	if err != nil || info.Size() == 0 {
		return Usage{}, services.Wrap(services.ErrExternalTool, r.stage, r.cfg.Command, "no output written to "+manifest.Output, err)
	}
	return parseUsage(stdout.String()), nil
}

// parseUsage reads the last JSON object line of stdout. Anything else is
// ignored.
func parseUsage(stdout string) Usage {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var usage Usage
		if err := json.Unmarshal([]byte(line), &usage); err == nil {
			return usage
		}
	}
	return Usage{}
}

func tail(output string, limit int) string {
	output = strings.TrimSpace(output)
	if len(output) <= limit {
		return output
	}
	return "..." + output[len(output)-limit:]
}
