package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"castline/internal/config"
	"castline/internal/engine"
	"castline/internal/inbox"
	"castline/internal/logging"
	"castline/internal/store"
)

// Daemon runs the inbox watcher and the HTTP API around an open engine.
type Daemon struct {
	cfg     *config.Config
	engine  *engine.Engine
	logger  *slog.Logger
	watcher *inbox.Watcher
	api     *apiServer

	watcherOpts []inbox.Option

	running atomic.Bool
	cancel  context.CancelFunc
}

// Option customizes a daemon.
type Option func(*Daemon)

// WithWatcherOptions forwards options to the inbox watcher.
func WithWatcherOptions(opts ...inbox.Option) Option {
	return func(d *Daemon) {
		d.watcherOpts = append(d.watcherOpts, opts...)
	}
}

// New constructs a daemon. The caller must hold the writer lock for cfg.
func New(cfg *config.Config, eng *engine.Engine, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || eng == nil {
		return nil, errors.New("daemon requires config and engine")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:    cfg,
		engine: eng,
		logger: logging.NewComponentLogger(logger, "daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if strings.TrimSpace(cfg.Paths.InboxDir) != "" {
		d.watcher = inbox.New(cfg.Paths.InboxDir, d.register, logger, d.watcherOpts...)
	}
	d.api = newAPIServer(cfg.Paths.APIBind, cfg.Paths.APIToken, eng, logger)
	return d, nil
}

// register adds an inbox file as a unit on the default pipeline.
func (d *Daemon) register(ctx context.Context, path string) error {
	_, err := d.engine.AddUnit(ctx, engine.AddRequest{Source: path})
	if errors.Is(err, store.ErrDuplicateSource) {
		return inbox.ErrDuplicate
	}
	return err
}

// Start launches the inbox watcher and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	runCtx, cancel := context.WithCancel(ctx)

	if d.watcher != nil {
		if err := d.watcher.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("start inbox watcher: %w", err)
		}
	}
	if err := d.api.start(runCtx); err != nil {
		if d.watcher != nil {
			d.watcher.Stop()
		}
		cancel()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("castline daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("inbox_dir", d.cfg.Paths.InboxDir),
		logging.String("api_address", d.api.addr()),
		logging.String("database", d.cfg.DatabasePath()),
	)
	return nil
}

// Stop stops the watcher and the API server. Jobs already queued keep
// running until the engine is closed.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	d.api.stop()
	d.logger.Info("castline daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the bound API address, or "" when the API is disabled.
func (d *Daemon) APIAddress() string {
	return d.api.addr()
}
