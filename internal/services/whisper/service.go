package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"castline/internal/config"
	"castline/internal/services"
)

const stageName = "transcribe"

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Service transcribes audio files with an external command.
type Service struct {
	cfg    config.Transcription
	runner Runner
}

// NewService creates a transcription service from config.
func NewService(cfg config.Transcription) *Service {
	return &Service{cfg: cfg, runner: runCommand}
}

// WithRunner swaps the command runner (for testing).
func (s *Service) WithRunner(runner Runner) *Service {
	if runner != nil {
		s.runner = runner
	}
	return s
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	return s.cfg.Model
}

// Command returns the configured binary.
func (s *Service) Command() string {
	return s.cfg.Command
}

// Available reports whether the command resolves on PATH.
func (s *Service) Available() error {
	if strings.TrimSpace(s.cfg.Command) == "" {
		return services.Wrap(services.ErrConfiguration, stageName, "lookup", "transcription.command is empty", nil)
	}
	if _, err := exec.LookPath(s.cfg.Command); err != nil {
		return services.Wrap(services.ErrConfiguration, stageName, "lookup", s.cfg.Command+" not found", err)
	}
	return nil
}

// Result describes a finished transcription.
type Result struct {
	Text     string
	TextPath string
	JSONPath string
}

// TranscribeFile runs the command for source and loads the transcript
// written into outputDir.
func (s *Service) TranscribeFile(ctx context.Context, source, outputDir string) (Result, error) {
	var result Result
	if source == "" {
		return result, services.Wrap(services.ErrValidation, stageName, "transcribe", "source path required", nil)
	}
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return result, fmt.Errorf("transcribe: ensure output dir: %w", err)
	}

	if s.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	args := s.buildArgs(source, outputDir)
	if output, err := s.runner(ctx, s.cfg.Command, args...); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, services.Wrap(services.ErrTimeout, stageName, s.cfg.Command,
				fmt.Sprintf("exceeded %ds", s.cfg.TimeoutSeconds), err)
		}
		return result, services.Wrap(services.ErrExternalTool, stageName, s.cfg.Command, tail(string(output), 400), err)
	}

	baseName := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	result.TextPath = filepath.Join(outputDir, baseName+".txt")
	result.JSONPath = filepath.Join(outputDir, baseName+".json")

	if data, err := os.ReadFile(result.TextPath); err == nil {
		result.Text = strings.TrimSpace(string(data))
	} else if text, jsonErr := loadTranscriptText(result.JSONPath); jsonErr == nil {
		result.Text = text
		result.TextPath = ""
	} else {
		return result, services.Wrap(services.ErrExternalTool, stageName, "load transcript",
			"no transcript written to "+outputDir, err)
	}
	if result.Text == "" {
		return result, services.Wrap(services.ErrExternalTool, stageName, "load transcript", "transcript is empty", nil)
	}
	return result, nil
}

func (s *Service) buildArgs(source, outputDir string) []string {
	replacer := strings.NewReplacer(
		"{input}", source,
		"{output_dir}", outputDir,
		"{model}", s.cfg.Model,
		"{language}", s.cfg.Language,
	)
	args := make([]string, 0, len(s.cfg.Args))
	for i := 0; i < len(s.cfg.Args); i++ {
		arg := s.cfg.Args[i]
		// Drop a flag whose value placeholder resolves to nothing.
		if strings.HasPrefix(arg, "-") && i+1 < len(s.cfg.Args) {
			next := replacer.Replace(s.cfg.Args[i+1])
			if next == "" && strings.Contains(s.cfg.Args[i+1], "{") {
				i++
				continue
			}
		}
		args = append(args, replacer.Replace(arg))
	}
	return args
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	// Torch 2.6 changed torch.load defaults; whisper checkpoints need the legacy behavior.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	return cmd.CombinedOutput()
}

// Segment is one timed span of whisper JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperPayload struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// LoadSegments loads segments from a whisper JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	payload, err := loadPayload(jsonPath)
	if err != nil {
		return nil, err
	}
	return payload.Segments, nil
}

func loadPayload(jsonPath string) (whisperPayload, error) {
	var payload whisperPayload
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("parse whisper json: %w", err)
	}
	return payload, nil
}

func loadTranscriptText(jsonPath string) (string, error) {
	payload, err := loadPayload(jsonPath)
	if err != nil {
		return "", err
	}
	if text := strings.TrimSpace(payload.Text); text != "" {
		return text, nil
	}
	parts := make([]string, 0, len(payload.Segments))
	for _, seg := range payload.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func tail(output string, limit int) string {
	output = strings.TrimSpace(output)
	if len(output) <= limit {
		return output
	}
	return "..." + output[len(output)-limit:]
}
