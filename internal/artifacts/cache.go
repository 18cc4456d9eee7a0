package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"castline/internal/logging"
	"castline/internal/store"
	"castline/internal/textutil"
)

// PartialSuffix is appended to output paths while a collaborator writes them.
const PartialSuffix = ".partial"

// Store is the persistence the cache needs.
type Store interface {
	GetArtifact(ctx context.Context, unitID int64, kind string) (*store.Artifact, error)
	UpsertArtifact(ctx context.Context, artifact store.Artifact) (*store.Artifact, error)
}

// Cache resolves artifact locations and prompt-hash hits.
type Cache struct {
	store    Store
	unitsDir string
	logger   *slog.Logger
}

// New constructs a Cache rooted at unitsDir.
func New(st Store, unitsDir string, logger *slog.Logger) *Cache {
	return &Cache{
		store:    st,
		unitsDir: unitsDir,
		logger:   logging.NewComponentLogger(logger, "artifacts"),
	}
}

// UnitDir returns the unit's work directory. A stored WorkDir wins so the
// directory stays stable when the title changes.
func (c *Cache) UnitDir(unit *store.Unit) string {
	if unit == nil {
		return c.unitsDir
	}
	if strings.TrimSpace(unit.WorkDir) != "" {
		return unit.WorkDir
	}
	name := unit.Title
	if strings.TrimSpace(name) == "" {
		name = strings.TrimSuffix(filepath.Base(unit.Source), filepath.Ext(unit.Source))
	}
	return filepath.Join(c.unitsDir, strconv.FormatInt(unit.ID, 10)+"-"+textutil.Slug(name))
}

// Path returns <unit dir>/<kind>/<kind><ext>.
func (c *Cache) Path(unit *store.Unit, kind, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(c.UnitDir(unit), kind, kind+ext)
}

// Lookup reports whether the current artifact for (unit, kind) was produced
// by the prompt with the given hash.
func (c *Cache) Lookup(ctx context.Context, unitID int64, kind, hash string) (*store.Artifact, bool, error) {
	current, err := c.store.GetArtifact(ctx, unitID, kind)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, nil
	}
	if !ValidHash(current.PromptHash) {
		logging.WarnWithContext(c.logger, "stored artifact hash malformed; regenerating", "artifact_hash_malformed",
			logging.Int64(logging.FieldUnitID, unitID),
			logging.String("kind", kind),
			logging.String("stored_hash", current.PromptHash),
			logging.String(logging.FieldErrorHint, "the artifact row was written by an older build or edited by hand"),
			logging.String(logging.FieldImpact, "the stage runs again and replaces the artifact"),
		)
		return current, false, nil
	}
	if current.PromptHash != hash {
		return current, false, nil
	}
	if _, err := os.Stat(current.Path); err != nil {
		c.logger.Debug("artifact file missing; treating as miss",
			logging.Int64(logging.FieldUnitID, unitID),
			logging.String("kind", kind),
			logging.String("path", current.Path),
		)
		return current, false, nil
	}
	return current, true, nil
}

// Commit records path as the current artifact for (unit, kind).
func (c *Cache) Commit(ctx context.Context, unitID int64, kind, path, hash string) (*store.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("commit artifact %s: %w", kind, err)
	}
	return c.store.UpsertArtifact(ctx, store.Artifact{
		UnitID:     unitID,
		Kind:       kind,
		Path:       path,
		PromptHash: hash,
		SizeBytes:  info.Size(),
	})
}

// Current returns the current artifact for (unit, kind), or nil.
func (c *Cache) Current(ctx context.Context, unitID int64, kind string) (*store.Artifact, error) {
	return c.store.GetArtifact(ctx, unitID, kind)
}

// ReadCurrent returns the content of the current artifact for (unit, kind).
func (c *Cache) ReadCurrent(ctx context.Context, unitID int64, kind string) (string, *store.Artifact, error) {
	current, err := c.store.GetArtifact(ctx, unitID, kind)
	if err != nil {
		return "", nil, err
	}
	if current == nil {
		return "", nil, fmt.Errorf("no %s artifact for unit %d", kind, unitID)
	}
	data, err := os.ReadFile(current.Path)
	if err != nil {
		return "", current, fmt.Errorf("read %s artifact: %w", kind, err)
	}
	return string(data), current, nil
}

// PartialPath returns the in-progress path for an output file.
func PartialPath(path string) string {
	return path + PartialSuffix
}

// Promote renames a finished partial file into place.
func Promote(partial, final string) error {
	if _, err := os.Stat(partial); err != nil {
		return fmt.Errorf("output not written: %w", err)
	}
	if err := os.Rename(partial, final); err != nil {
		return fmt.Errorf("promote output: %w", err)
	}
	return nil
}
