// Package transcribe implements the transcribe stage. The raw transcript is
// written to <work_dir>/transcript/transcript.txt.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"castline/internal/fileutil"
	"castline/internal/logging"
	"castline/internal/pipeline"
	"castline/internal/services"
	"castline/internal/services/llm"
	"castline/internal/services/whisper"
	"castline/internal/stage"
	"castline/internal/store"
)

const (
	transcriptDir  = "transcript"
	transcriptFile = "transcript.txt"
)

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	TranscribeFile(ctx context.Context, source, outputDir string) (whisper.Result, error)
	Model() string
	Available() error
}

// TokenCounter counts output units.
type TokenCounter interface {
	Count(text string) int64
}

// Handler runs speech-to-text for a unit's audio.
type Handler struct {
	transcriber Transcriber
	counter     TokenCounter
	logger      *slog.Logger
}

// New constructs the transcribe handler.
func New(transcriber Transcriber, counter TokenCounter, logger *slog.Logger) *Handler {
	return &Handler{
		transcriber: transcriber,
		counter:     counter,
		logger:      logging.NewComponentLogger(logger, "transcribe"),
	}
}

func (h *Handler) Name() string { return pipeline.StageTranscribe }

func (h *Handler) SetLogger(logger *slog.Logger) {
	h.logger = logging.NewComponentLogger(logger, "transcribe")
}

// HealthCheck verifies the transcription command is installed.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.transcriber == nil {
		return stage.Unhealthy(h.Name(), "transcriber not configured")
	}
	if err := h.transcriber.Available(); err != nil {
		return stage.Unhealthy(h.Name(), services.Details(err).Message)
	}
	return stage.Healthy(h.Name())
}

// Done reports whether the transcript file exists and is non-empty.
func (h *Handler) Done(_ context.Context, unit *store.Unit) (bool, error) {
	if strings.TrimSpace(unit.TranscriptPath) == "" {
		return false, nil
	}
	info, err := os.Stat(unit.TranscriptPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Size() > 0, nil
}

// Execute transcribes the unit's audio.
func (h *Handler) Execute(ctx context.Context, unit *store.Unit) (stage.Usage, error) {
	if strings.TrimSpace(unit.AudioPath) == "" {
		return stage.Usage{}, services.Wrap(services.ErrValidation, h.Name(), "resolve audio", "unit has no downloaded audio", nil)
	}
	if unit.WorkDir == "" {
		unit.WorkDir = filepath.Dir(filepath.Dir(unit.AudioPath))
	}
	outputDir := filepath.Join(unit.WorkDir, transcriptDir)
	logger := logging.WithContext(ctx, h.logger)
	logger.Info("transcribing audio",
		logging.String(logging.FieldEventType, "transcribe_start"),
		logging.String("audio", unit.AudioPath),
		logging.String("model", h.transcriber.Model()),
	)

	result, err := h.transcriber.TranscribeFile(ctx, unit.AudioPath, outputDir)
	if err != nil {
		return stage.Usage{}, err
	}
	target := filepath.Join(outputDir, transcriptFile)
	if err := fileutil.WriteFileAtomic(target, []byte(result.Text+"\n"), 0o644); err != nil {
		return stage.Usage{}, fmt.Errorf("write transcript: %w", err)
	}
	unit.TranscriptPath = target

	var inputBytes int64
	if info, err := os.Stat(unit.AudioPath); err == nil {
		inputBytes = info.Size()
	}
	usage := stage.Usage{
		InputUnits:  inputBytes,
		OutputUnits: h.count(result.Text),
		Model:       h.transcriber.Model(),
	}
	logger.Info("transcript written",
		logging.String(logging.FieldEventType, "transcribe_complete"),
		logging.String("path", target),
		logging.Int64("output_tokens", usage.OutputUnits),
	)
	return usage, nil
}

func (h *Handler) count(text string) int64 {
	if h.counter == nil {
		return llm.EstimateTokens(text)
	}
	return h.counter.Count(text)
}
