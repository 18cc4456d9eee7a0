// Package download implements the download stage: it places the unit's
// source audio under <work_dir>/audio, copying local paths and fetching
// http(s) URLs.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"castline/internal/config"
	"castline/internal/fileutil"
	"castline/internal/logging"
	"castline/internal/pipeline"
	"castline/internal/services"
	"castline/internal/stage"
	"castline/internal/store"
	"castline/internal/textutil"
)

const audioDir = "audio"

// WorkDirResolver assigns a unit its work directory.
type WorkDirResolver interface {
	UnitDir(unit *store.Unit) string
}

// Handler copies or downloads source audio.
type Handler struct {
	cfg    config.Download
	dirs   WorkDirResolver
	client *http.Client
	logger *slog.Logger
}

// New constructs the download handler.
func New(cfg config.Download, dirs WorkDirResolver, logger *slog.Logger) *Handler {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &Handler{
		cfg:    cfg,
		dirs:   dirs,
		client: &http.Client{Timeout: timeout},
		logger: logging.NewComponentLogger(logger, "download"),
	}
}

// WithHTTPClient overrides the HTTP client (for testing).
func (h *Handler) WithHTTPClient(client *http.Client) *Handler {
	if client != nil {
		h.client = client
	}
	return h
}

func (h *Handler) Name() string { return pipeline.StageDownload }

func (h *Handler) SetLogger(logger *slog.Logger) {
	h.logger = logging.NewComponentLogger(logger, "download")
}

// HealthCheck reports ready; downloads need no external binary.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(h.Name())
}

// Done reports whether the audio file recorded on the unit exists.
func (h *Handler) Done(_ context.Context, unit *store.Unit) (bool, error) {
	if strings.TrimSpace(unit.AudioPath) == "" {
		return false, nil
	}
	info, err := os.Stat(unit.AudioPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Size() > 0, nil
}

// Execute fetches the source into the unit work directory.
func (h *Handler) Execute(ctx context.Context, unit *store.Unit) (stage.Usage, error) {
	if unit.WorkDir == "" {
		unit.WorkDir = h.dirs.UnitDir(unit)
	}
	source := strings.TrimSpace(unit.Source)
	if source == "" {
		return stage.Usage{}, services.Wrap(services.ErrValidation, h.Name(), "resolve source", "unit has no source", nil)
	}
	dest := filepath.Join(unit.WorkDir, audioDir, audioFileName(source))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return stage.Usage{}, fmt.Errorf("create audio dir: %w", err)
	}

	logger := logging.WithContext(ctx, h.logger)
	logger.Info("fetching source audio",
		logging.String(logging.FieldEventType, "download_start"),
		logging.String("source", source),
		logging.String("destination", dest),
	)

	var err error
	if isRemote(source) {
		err = h.fetch(ctx, logger, source, dest)
	} else {
		err = copyLocal(source, dest)
	}
	if err != nil {
		return stage.Usage{}, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return stage.Usage{}, fmt.Errorf("stat audio: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(dest)
		return stage.Usage{}, services.Wrap(services.ErrExternalTool, h.Name(), "fetch", "source is empty", nil)
	}
	unit.AudioPath = dest
	logger.Info("source audio ready",
		logging.String(logging.FieldEventType, "download_complete"),
		logging.Int64("bytes", info.Size()),
	)
	return stage.Usage{OutputUnits: info.Size()}, nil
}

func (h *Handler) fetch(ctx context.Context, logger *slog.Logger, source, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, h.Name(), "build request", "invalid source URL", err)
	}
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, h.Name(), "fetch", "", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return services.Wrap(services.ErrNotFound, h.Name(), "fetch", resp.Status, nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransient, h.Name(), "fetch", resp.Status, nil)
	case resp.StatusCode >= 300:
		return services.Wrap(services.ErrExternalTool, h.Name(), "fetch", resp.Status, nil)
	}

	partial := dest + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("create %s: %w", partial, err)
	}
	body := &progressReader{
		r:       resp.Body,
		total:   resp.ContentLength,
		sampler: logging.NewProgressSampler(25),
		logger:  logger,
	}
	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		_ = os.Remove(partial)
		return services.Wrap(services.ErrTransient, h.Name(), "fetch", "read body", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("close %s: %w", partial, err)
	}
	return os.Rename(partial, dest)
}

func copyLocal(source, dest string) error {
	expanded, err := config.ExpandPath(source)
	if err != nil {
		return services.Wrap(services.ErrValidation, pipeline.StageDownload, "resolve source", "", err)
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, pipeline.StageDownload, "copy", expanded+" does not exist", nil)
		}
		return fmt.Errorf("stat source: %w", err)
	}
	if filepath.Clean(expanded) == filepath.Clean(dest) {
		return nil
	}
	if err := fileutil.CopyFile(expanded, dest); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	return nil
}

func isRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// audioFileName derives a safe file name from a path or URL, keeping the
// extension.
func audioFileName(source string) string {
	name := filepath.Base(source)
	if isRemote(source) {
		if parsed, err := url.Parse(source); err == nil {
			name = path.Base(parsed.Path)
		}
	}
	name = textutil.SanitizeFileName(name)
	if name == "" || name == "." || name == "/" {
		return "source.audio"
	}
	if filepath.Ext(name) == "" {
		name += ".audio"
	}
	return name
}

// progressReader logs download progress at 25% steps when the length is
// known.
type progressReader struct {
	r       io.Reader
	read    int64
	total   int64
	sampler *logging.ProgressSampler
	logger  *slog.Logger
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		percent := float64(p.read) * 100 / float64(p.total)
		if p.sampler.ShouldLog(percent, "") {
			p.logger.Debug("download progress",
				logging.String(logging.FieldEventType, "download_progress"),
				logging.Float64("percent", percent),
				logging.Int64("bytes", p.read),
			)
		}
	}
	return n, err
}
