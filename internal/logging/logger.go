package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"castline/internal/config"
)

// Options selects a logger's level, format and destinations. Outputs holds
// file paths or the names "stdout" and "stderr"; it defaults to stdout.
type Options struct {
	Level   string
	Format  string
	Outputs []string
	// AddSource appends file:line to each record. Debug level implies it.
	AddSource bool
}

// New is Open for callers that never release the log files.
func New(opts Options) (*slog.Logger, error) {
	logger, _, err := Open(opts)
	return logger, err
}

// Open builds a logger and returns a Closer for the files it opened.
func Open(opts Options) (*slog.Logger, io.Closer, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))
	addSource := opts.AddSource || level.Level() <= slog.LevelDebug

	var build func(io.Writer) slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		build = func(w io.Writer) slog.Handler { return newConsoleHandler(w, level, addSource) }
	case "json":
		build = func(w io.Writer) slog.Handler { return newJSONHandler(w, level, addSource) }
	default:
		return nil, nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	w, closer, err := openOutputs(opts.Outputs)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(build(w)), closer, nil
}

// DaemonLogName is the name of the link in the log directory that always
// points at the current daemon run's log file.
const DaemonLogName = "castline.log"

// OpenDaemonLog opens the logger of one daemon run. Output goes to stdout
// and to a new castline-<timestamp>.log in cfg.Paths.LogDir, which
// DaemonLogName is then pointed at. level overrides cfg.Logging.Level when
// set. The returned path is the run's log file.
func OpenDaemonLog(cfg *config.Config, level string) (*slog.Logger, io.Closer, string, error) {
	if cfg == nil {
		return nil, nil, "", fmt.Errorf("daemon log: config is required")
	}
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, nil, "", fmt.Errorf("ensure log directory: %w", err)
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, "castline-"+runID+".log")
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, closer, err := Open(Options{
		Level:   level,
		Format:  cfg.Logging.Format,
		Outputs: []string{"stdout", logPath},
	})
	if err != nil {
		return nil, nil, "", err
	}
	if err := pointCurrentLog(cfg.Paths.LogDir, logPath); err != nil {
		WarnWithContext(logger, "current log link not updated", "log_link_failed",
			Error(err),
			String(FieldErrorHint, "check permissions of paths.log_dir"),
			String(FieldImpact, DaemonLogName+" may show an older run"),
		)
	}
	return logger, closer, logPath, nil
}

// pointCurrentLog replaces the DaemonLogName link with one to target,
// falling back to a hard link where symlinks are unsupported.
func pointCurrentLog(logDir, target string) error {
	current := filepath.Join(logDir, DaemonLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log link: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link current log: %w", err)
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, closer := range c {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

func openOutputs(outputs []string) (io.Writer, io.Closer, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	var (
		writers []io.Writer
		files   closers
	)
	seen := make(map[string]bool, len(outputs))
	for _, out := range outputs {
		out = strings.TrimSpace(out)
		if out == "" || seen[out] {
			continue
		}
		seen[out] = true
		switch out {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				_ = files.Close()
				return nil, nil, fmt.Errorf("ensure log directory: %w", err)
			}
			f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				_ = files.Close()
				return nil, nil, fmt.Errorf("open log file: %w", err)
			}
			writers = append(writers, f)
			files = append(files, f)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stdout, files, nil
	case 1:
		return writers[0], files, nil
	}
	return io.MultiWriter(writers...), files, nil
}
