// Package daemonrun assembles the castline daemon process: logging, log
// retention, the writer lock, the engine and the daemon itself.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"castline/internal/config"
	"castline/internal/daemon"
	"castline/internal/engine"
	"castline/internal/logging"
	"castline/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	// Engine overrides engine collaborators.
	Engine engine.Options
	// Ready, when set, is called once the daemon is serving.
	Ready func(*daemon.Daemon)
}

// Run starts the castline daemon and blocks until SIGINT, SIGTERM or
// cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// Take the lock before anything in the log directory changes.
	lock, err := daemon.AcquireLock(cfg)
	if err != nil {
		return err
	}
	defer lock.Release()

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, closeLog, logPath, err := logging.OpenDaemonLog(cfg, opts.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog.Close()

	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "castline-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: cfg.UnitLogDir(), Pattern: "*.log"},
	)

	pidPath := filepath.Join(cfg.Paths.DataDir, "castline.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logPreflight(signalCtx, logger, cfg)

	eng, err := engine.Open(signalCtx, cfg, logger, opts.Engine)
	if err != nil {
		logger.Error("open engine", logging.Error(err))
		return err
	}
	defer eng.Close()

	d, err := daemon.New(cfg, eng, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	defer d.Stop()
	if opts.Ready != nil {
		opts.Ready(d)
	}

	<-signalCtx.Done()
	logger.Info("castline daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// logPreflight records failed readiness checks once at startup.
func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, result := range preflight.RunAll(ctx, cfg) {
		if result.Passed || result.Optional {
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run `castline preflight` for details"),
			logging.String(logging.FieldImpact, "stages depending on this check will fail"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
