package segments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"castline/internal/logging"
	"castline/internal/store"
	"castline/internal/textutil"
)

// MirrorFileName is the per-unit append-only segment mirror.
const MirrorFileName = "segments.jsonl"

// Store is the persistence the index needs.
type Store interface {
	ReplaceSegments(ctx context.Context, unitID int64, segments []store.Segment) (int64, error)
	SearchSegments(ctx context.Context, unitID int64, match string, k int) ([]store.SearchHit, error)
	FirstSegments(ctx context.Context, unitID int64, limit int) ([]store.Segment, error)
	CountSegments(ctx context.Context, unitID int64) (int, error)
}

// Index builds and queries unit segments.
type Index struct {
	store  Store
	opts   Options
	topK   int
	logger *slog.Logger
}

// New constructs an Index. topK is the default retrieval size.
func New(st Store, opts Options, topK int, logger *slog.Logger) (*Index, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("segment options: %w", err)
	}
	if topK <= 0 {
		topK = 8
	}
	return &Index{
		store:  st,
		opts:   opts,
		topK:   topK,
		logger: logging.NewComponentLogger(logger, "segments"),
	}, nil
}

// BuildResult summarizes one indexing pass.
type BuildResult struct {
	Generation int64
	Segments   int
	Runes      int
	Tokens     int
	MirrorPath string
}

type mirrorRecord struct {
	Generation int64  `json:"generation"`
	Ordinal    int    `json:"ordinal"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Tokens     int    `json:"tokens"`
	Text       string `json:"text"`
	CreatedAt  string `json:"created_at"`
}

// Build normalizes text, splits it and replaces the unit's segments in one
// batch. When the unit has a work directory the new generation is appended
// to its mirror file.
func (ix *Index) Build(ctx context.Context, unit *store.Unit, text string) (BuildResult, error) {
	if unit == nil {
		return BuildResult{}, fmt.Errorf("build segments: unit is nil")
	}
	normalized := textutil.NormalizeText(text)
	if normalized == "" {
		return BuildResult{}, fmt.Errorf("build segments: transcript is empty")
	}
	spans, err := Split(normalized, ix.opts)
	if err != nil {
		return BuildResult{}, fmt.Errorf("split transcript: %w", err)
	}

	rows := make([]store.Segment, len(spans))
	tokens := 0
	for i, span := range spans {
		rows[i] = store.Segment{
			UnitID:        unit.ID,
			Ordinal:       span.Ordinal,
			Start:         span.Start,
			End:           span.End,
			TokenEstimate: span.TokenEstimate(),
			Text:          span.Text,
		}
		tokens += rows[i].TokenEstimate
	}
	generation, err := ix.store.ReplaceSegments(ctx, unit.ID, rows)
	if err != nil {
		return BuildResult{}, err
	}

	result := BuildResult{
		Generation: generation,
		Segments:   len(rows),
		Runes:      len([]rune(normalized)),
		Tokens:     tokens,
	}
	if strings.TrimSpace(unit.WorkDir) != "" {
		mirror := filepath.Join(unit.WorkDir, MirrorFileName)
		if err := appendMirror(mirror, generation, rows); err != nil {
			return result, fmt.Errorf("write segment mirror: %w", err)
		}
		result.MirrorPath = mirror
	}

	ix.logger.Info("segments indexed",
		logging.Int64(logging.FieldUnitID, unit.ID),
		logging.Int64("generation", generation),
		logging.Int("segments", result.Segments),
		logging.Int("runes", result.Runes),
		logging.String(logging.FieldEventType, "segments_indexed"),
	)
	return result, nil
}

func appendMirror(path string, generation int64, rows []store.Segment) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	created := time.Now().UTC().Format(time.RFC3339)
	for _, row := range rows {
		if err := enc.Encode(mirrorRecord{
			Generation: generation,
			Ordinal:    row.Ordinal,
			Start:      row.Start,
			End:        row.End,
			Tokens:     row.TokenEstimate,
			Text:       row.Text,
			CreatedAt:  created,
		}); err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}

// Has reports whether the unit has current segments.
func (ix *Index) Has(ctx context.Context, unitID int64) (bool, error) {
	count, err := ix.store.CountSegments(ctx, unitID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
