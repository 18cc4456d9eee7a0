package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget names a directory and the file pattern pruned inside it.
// Exclude lists files that are never removed (the current run's log).
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs removes matching files whose modification time is older
// than retentionDays and returns how many were removed. Zero or negative
// retention keeps everything.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, target := range targets {
		for _, path := range expiredFiles(target, cutoff) {
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check permissions of paths.log_dir"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			removed++
		}
	}
	if removed > 0 && logger != nil {
		logger.Info("old logs pruned",
			String(FieldEventType, "log_pruned"),
			Int("files", removed),
			Int("retention_days", retentionDays),
		)
	}
	return removed
}

func expiredFiles(target RetentionTarget, cutoff time.Time) []string {
	dir := strings.TrimSpace(target.Dir)
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	pattern := strings.TrimSpace(target.Pattern)
	if pattern == "" {
		pattern = "*"
	}
	excluded := make(map[string]bool, len(target.Exclude))
	for _, path := range target.Exclude {
		excluded[absPath(path)] = true
	}

	var out []string
	for _, entry := range entries {
		// Type() is the lstat mode, so links such as the current-log link
		// are skipped along with directories.
		if !entry.Type().IsRegular() {
			continue
		}
		if ok, err := filepath.Match(pattern, entry.Name()); err != nil || !ok {
			continue
		}
		path := absPath(filepath.Join(dir, entry.Name()))
		if excluded[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		out = append(out, path)
	}
	return out
}

func absPath(path string) string {
	path = strings.TrimSpace(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
