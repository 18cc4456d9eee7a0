package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"castline/internal/fileutil"
	"castline/internal/logging"
	"castline/internal/pipeline"
	"castline/internal/services"
	"castline/internal/services/command"
	"castline/internal/stage"
	"castline/internal/store"
	"castline/internal/textutil"
)

// BundleManifestName is the index written at the root of a local bundle.
const BundleManifestName = "manifest.json"

// BundleFile is one published file.
type BundleFile struct {
	Kind string `json:"kind"`
	File string `json:"file"`
	Hash string `json:"hash,omitempty"`
}

// BundleManifest describes a locally assembled publication.
type BundleManifest struct {
	UnitID         int64        `json:"unit_id"`
	Title          string       `json:"title"`
	TargetLanguage string       `json:"target_language,omitempty"`
	TargetRegion   string       `json:"target_region,omitempty"`
	Summary        string       `json:"summary,omitempty"`
	Chapters       []string     `json:"chapters,omitempty"`
	Tags           []string     `json:"tags,omitempty"`
	BundleDir      string       `json:"bundle_dir"`
	Files          []BundleFile `json:"files"`
	PublishedAt    time.Time    `json:"published_at"`
}

// BundleDir returns the local publication directory for a unit.
func BundleDir(publishedDir string, unit *store.Unit) string {
	return filepath.Join(publishedDir, strconv.FormatInt(unit.ID, 10)+"-"+textutil.Slug(unit.Title))
}

// publishLocal copies the upstream artifacts into a fresh bundle directory
// and writes the manifest to both the bundle and dest.
func (h *Handler) publishLocal(ctx context.Context, unit *store.Unit, req request, dest string) (stage.Usage, error) {
	if strings.TrimSpace(h.cfg.PublishedDir) == "" {
		return stage.Usage{}, services.Wrap(services.ErrConfiguration, h.name, "publish", "published directory not configured", nil)
	}
	dir := BundleDir(h.cfg.PublishedDir, unit)
	if err := os.RemoveAll(dir); err != nil {
		return stage.Usage{}, fmt.Errorf("clear bundle: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return stage.Usage{}, fmt.Errorf("create bundle: %w", err)
	}

	manifest := BundleManifest{
		UnitID:         unit.ID,
		Title:          req.Title,
		TargetLanguage: req.TargetLanguage,
		TargetRegion:   req.TargetRegion,
		Summary:        req.Summary,
		Chapters:       req.Chapters,
		Tags:           req.Tags,
		BundleDir:      dir,
		PublishedAt:    time.Now().UTC(),
	}
	var bytes int64
	for _, in := range req.Inputs {
		files, size, err := copyInput(dir, in)
		if err != nil {
			return stage.Usage{}, services.Wrap(services.ErrNotFound, h.name, "copy "+in.Kind, "", err)
		}
		manifest.Files = append(manifest.Files, files...)
		bytes += size
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return stage.Usage{}, fmt.Errorf("encode bundle manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dir, BundleManifestName), data, 0o644); err != nil {
		return stage.Usage{}, fmt.Errorf("write bundle manifest: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return stage.Usage{}, fmt.Errorf("write publication receipt: %w", err)
	}

	logging.WithContext(ctx, h.logger).Info("publication bundled",
		logging.String(logging.FieldEventType, "publication_bundled"),
		logging.String("bundle_dir", dir),
		logging.Int("files", len(manifest.Files)),
		logging.Int64("bytes", bytes),
	)
	return stage.Usage{InputUnits: bytes, OutputUnits: int64(len(manifest.Files)), Model: "local-bundle"}, nil
}

// copyInput copies one artifact. Images also carry the asset files written
// next to their index.
func copyInput(dir string, in command.Input) ([]BundleFile, int64, error) {
	name := in.Kind + filepath.Ext(in.Path)
	size, err := copyOne(in.Path, filepath.Join(dir, name))
	if err != nil {
		return nil, 0, err
	}
	files := []BundleFile{{Kind: in.Kind, File: name, Hash: in.Hash}}
	if in.Kind != pipeline.KindImages {
		return files, size, nil
	}

	entries, err := os.ReadDir(filepath.Dir(in.Path))
	if err != nil {
		return nil, 0, err
	}
	assetDir := filepath.Join(dir, pipeline.KindImages)
	for _, entry := range entries {
		src := filepath.Join(filepath.Dir(in.Path), entry.Name())
		if entry.IsDir() || src == in.Path || strings.HasSuffix(entry.Name(), ".partial") {
			continue
		}
		if err := os.MkdirAll(assetDir, 0o755); err != nil {
			return nil, 0, err
		}
		n, err := copyOne(src, filepath.Join(assetDir, entry.Name()))
		if err != nil {
			return nil, 0, err
		}
		size += n
		files = append(files, BundleFile{Kind: pipeline.KindImages, File: filepath.Join(pipeline.KindImages, entry.Name())})
	}
	return files, size, nil
}

func copyOne(src, dst string) (int64, error) {
	return fileutil.CopyFileVerified(src, dst)
}
