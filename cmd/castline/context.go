package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"castline/internal/api"
	"castline/internal/config"
	"castline/internal/daemon"
	"castline/internal/engine"
	"castline/internal/logging"
	"castline/internal/store"
)

type commandContext struct {
	configFlag *string
	verbose    *bool
	engineOpts engine.Options

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, verbose *bool, engineOpts engine.Options) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
		engineOpts: engineOpts,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cliLogger logs to stderr. Without --verbose only warnings and errors are
// shown so command output stays readable.
func (c *commandContext) cliLogger(cfg *config.Config) (*slog.Logger, error) {
	level := "warn"
	if c.verbose != nil && *c.verbose {
		level = cfg.Logging.Level
	}
	return logging.New(logging.Options{
		Level:   level,
		Format:  "console",
		Outputs: []string{"stderr"},
	})
}

// withEngine runs fn against an in-process engine while holding the writer
// lock.
func (c *commandContext) withEngine(cmd *cobra.Command, fn func(context.Context, *engine.Engine) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	lock, err := daemon.AcquireLock(cfg)
	if err != nil {
		if errors.Is(err, daemon.ErrLocked) {
			return fmt.Errorf("%w; stop `castline serve` or use its HTTP API at %s", err, cfg.Paths.APIBind)
		}
		return err
	}
	defer lock.Release()

	logger, err := c.cliLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	ctx := runContext(cmd)
	eng, err := engine.Open(ctx, cfg, logger, c.engineOpts)
	if err != nil {
		return err
	}
	defer eng.Close()
	return fn(ctx, eng)
}

// withReadStore opens the unit store read-only; no lock is taken.
func (c *commandContext) withReadStore(fn func(*store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.OpenReadOnly(cfg)
	if err != nil {
		if errors.Is(err, store.ErrNoDatabase) {
			return errors.New("no units yet: add one with `castline add` or start `castline serve`")
		}
		return err
	}
	defer st.Close()
	return fn(st)
}

func (c *commandContext) apiClient() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func parseUnitID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid unit id %q", value)
	}
	return id, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
