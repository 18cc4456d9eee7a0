// Package index implements the index stage: the corrected transcript is
// split into overlapping segments and stored for retrieval.
//
// The stage is complete when current segments exist and the marker file
// <work_dir>/segments.source names the transcript they were built from, so
// a regenerated transcript causes a rebuild.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"castline/internal/artifacts"
	"castline/internal/logging"
	"castline/internal/pipeline"
	"castline/internal/segments"
	"castline/internal/services"
	"castline/internal/stage"
	"castline/internal/store"
)

// SourceMarkerFile records which transcript the current segments came from.
const SourceMarkerFile = "segments.source"

// Indexer builds segments.
type Indexer interface {
	Build(ctx context.Context, unit *store.Unit, text string) (segments.BuildResult, error)
	Has(ctx context.Context, unitID int64) (bool, error)
}

// ArtifactReader exposes current artifacts.
type ArtifactReader interface {
	Current(ctx context.Context, unitID int64, kind string) (*store.Artifact, error)
}

// Handler builds the segment index for a unit.
type Handler struct {
	index     Indexer
	artifacts ArtifactReader
	logger    *slog.Logger
}

// New constructs the index handler.
func New(index Indexer, reader ArtifactReader, logger *slog.Logger) *Handler {
	return &Handler{index: index, artifacts: reader, logger: logging.NewComponentLogger(logger, "index")}
}

func (h *Handler) Name() string { return pipeline.StageIndex }

func (h *Handler) SetLogger(logger *slog.Logger) {
	h.logger = logging.NewComponentLogger(logger, "index")
}

func (h *Handler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(h.Name())
}

type source struct {
	path string
	key  string
}

// resolve picks the corrected transcript, falling back to the raw one.
func (h *Handler) resolve(ctx context.Context, unit *store.Unit) (source, error) {
	current, err := h.artifacts.Current(ctx, unit.ID, pipeline.KindCorrectedTranscript)
	if err != nil {
		return source{}, err
	}
	if current != nil {
		return source{path: current.Path, key: current.PromptHash}, nil
	}
	if strings.TrimSpace(unit.TranscriptPath) == "" {
		return source{}, services.Wrap(services.ErrValidation, h.Name(), "resolve transcript", "unit has no transcript", nil)
	}
	data, err := os.ReadFile(unit.TranscriptPath)
	if err != nil {
		return source{}, fmt.Errorf("read transcript: %w", err)
	}
	return source{path: unit.TranscriptPath, key: artifacts.HashPrompt("", string(data))}, nil
}

func markerPath(unit *store.Unit) string {
	return filepath.Join(unit.WorkDir, SourceMarkerFile)
}

// Done reports whether current segments were built from the current transcript.
func (h *Handler) Done(ctx context.Context, unit *store.Unit) (bool, error) {
	if unit.WorkDir == "" {
		return false, nil
	}
	has, err := h.index.Has(ctx, unit.ID)
	if err != nil || !has {
		return false, err
	}
	marker, err := os.ReadFile(markerPath(unit))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	src, err := h.resolve(ctx, unit)
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(string(marker)) == src.key, nil
}

// Execute rebuilds the unit's segments.
func (h *Handler) Execute(ctx context.Context, unit *store.Unit) (stage.Usage, error) {
	if unit.WorkDir == "" {
		return stage.Usage{}, services.Wrap(services.ErrValidation, h.Name(), "resolve work dir", "unit has no work directory", nil)
	}
	src, err := h.resolve(ctx, unit)
	if err != nil {
		return stage.Usage{}, err
	}
	text, err := os.ReadFile(src.path)
	if err != nil {
		return stage.Usage{}, fmt.Errorf("read transcript: %w", err)
	}
	result, err := h.index.Build(ctx, unit, string(text))
	if err != nil {
		return stage.Usage{}, services.Wrap(services.ErrValidation, h.Name(), "build segments", "", err)
	}
	if err := os.WriteFile(markerPath(unit), []byte(src.key+"\n"), 0o644); err != nil {
		return stage.Usage{}, fmt.Errorf("write segment marker: %w", err)
	}
	if result.MirrorPath != "" {
		unit.SegmentsPath = result.MirrorPath
	}
	logging.WithContext(ctx, h.logger).Info("transcript indexed",
		logging.String(logging.FieldEventType, "index_complete"),
		logging.String("source", src.path),
		logging.Int64("generation", result.Generation),
		logging.Int("segments", result.Segments),
		logging.Int("tokens", result.Tokens),
	)
	return stage.Usage{InputUnits: int64(result.Runes), OutputUnits: int64(result.Segments)}, nil
}
