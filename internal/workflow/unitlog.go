package workflow

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"castline/internal/logging"
	"castline/internal/store"
	"castline/internal/textutil"
)

// UnitLogs manages the append-only log file kept for each unit.
type UnitLogs struct {
	dir   string
	level string
}

// NewUnitLogs returns a UnitLogs writing under dir. An empty dir disables
// per-unit logs.
func NewUnitLogs(dir, level string) *UnitLogs {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	return &UnitLogs{dir: strings.TrimSpace(dir), level: level}
}

// Ensure assigns unit.LogPath when it is empty and reports whether it did.
func (l *UnitLogs) Ensure(unit *store.Unit) (string, bool, error) {
	if unit == nil {
		return "", false, fmt.Errorf("unit is nil")
	}
	if l == nil || l.dir == "" {
		return "", false, fmt.Errorf("unit log directory not configured")
	}
	if strings.TrimSpace(unit.LogPath) != "" {
		return unit.LogPath, false, nil
	}
	name := unit.Title
	if strings.TrimSpace(name) == "" {
		name = filepath.Base(unit.Source)
	}
	unit.LogPath = filepath.Join(l.dir, fmt.Sprintf("unit-%d-%s.log", unit.ID, textutil.Slug(name)))
	return unit.LogPath, true, nil
}

// Attach opens the unit's log sink and returns base teed into it. The returned
// close function must be called when the operation finishes. When the sink
// cannot be opened base is returned unchanged.
func (l *UnitLogs) Attach(base *slog.Logger, unit *store.Unit) (*slog.Logger, func()) {
	path, _, err := l.Ensure(unit)
	if err != nil {
		return base, func() {}
	}
	sink, err := logging.OpenSink(path, l.level)
	if err != nil {
		logging.WarnWithContext(base, "unit log unavailable", "unit_log_unavailable",
			logging.Error(err),
			logging.String("log_path", path),
			logging.String(logging.FieldErrorHint, "check log_dir permissions"),
			logging.String(logging.FieldImpact, "this operation is only logged to the main log"),
		)
		return base, func() {}
	}
	return logging.TeeLogger(base, sink.Handler()), func() { _ = sink.Close() }
}
