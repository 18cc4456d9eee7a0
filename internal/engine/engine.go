package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"castline/internal/artifacts"
	"castline/internal/config"
	"castline/internal/costs"
	"castline/internal/jobs"
	"castline/internal/logging"
	"castline/internal/notifications"
	"castline/internal/pipeline"
	"castline/internal/segments"
	"castline/internal/services/llm"
	"castline/internal/services/whisper"
	"castline/internal/stage"
	"castline/internal/stageexec"
	"castline/internal/stages/download"
	"castline/internal/stages/generate"
	"castline/internal/stages/index"
	"castline/internal/stages/media"
	"castline/internal/stages/transcribe"
	"castline/internal/store"
	"castline/internal/workflow"
)

// Options overrides collaborators. Zero values select the configured ones.
type Options struct {
	// Registry replaces the registry loaded from the pipeline settings.
	Registry *pipeline.Registry
	// LLM replaces the configured language-model client.
	LLM generate.Completer
	// Transcriber replaces the whisper command.
	Transcriber transcribe.Transcriber
	// Handlers are registered after the built-in handlers and replace them
	// by name.
	Handlers []stage.Handler
	Notifier notifications.Service
}

// Engine is the assembled pipeline engine.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	registry *pipeline.Registry
	executor *stageexec.Executor
	driver   *workflow.Driver
	runner   *jobs.Runner
	batches  *jobs.Controller
	logger   *slog.Logger
}

// Open builds the engine. Stage runs left open by an earlier process are
// closed as interrupted.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	registry := opts.Registry
	if registry == nil {
		var err error
		registry, err = pipeline.LoadRegistry(cfg.Pipeline.DefaultVersion, cfg.Pipeline.DefinitionsFile)
		if err != nil {
			return nil, fmt.Errorf("load pipelines: %w", err)
		}
	}
	pricing, err := costs.NewPricing(cfg.Pricing)
	if err != nil {
		return nil, fmt.Errorf("pricing: %w", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	if closed, err := st.CloseInterruptedRuns(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("close interrupted runs: %w", err)
	} else if closed > 0 {
		logging.WarnWithContext(logger, "closed interrupted stage runs", "runs_interrupted",
			logging.Int64("runs", closed),
			logging.String(logging.FieldErrorHint, "the previous process exited while stages were running"),
			logging.String(logging.FieldImpact, "affected units resume from their checkpoint on the next run"),
		)
	}

	idx, err := segments.New(st, segments.Options{
		Length:     cfg.Retrieval.SegmentLength,
		Overlap:    cfg.Retrieval.Overlap,
		SnapWindow: cfg.Retrieval.SnapWindow,
	}, cfg.Retrieval.TopK, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("segment index: %w", err)
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	cache := artifacts.New(st, cfg.UnitsDir(), logger)
	handlers, err := buildHandlers(cfg, cache, idx, logger, opts)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	executor := stageexec.New(stageexec.Config{
		Store:    st,
		Cache:    cache,
		Pricing:  pricing,
		Notifier: notifier,
		Logger:   logger,
	}, handlers...)
	driver := workflow.NewDriver(st, registry, executor, workflow.NewUnitLogs(cfg.UnitLogDir(), cfg.Logging.Level), logger)
	runner := jobs.NewRunner(logger, cfg.Workflow.JobHistory)
	batches := jobs.NewController(jobs.ControllerConfig{
		Runner:   runner,
		Pipeline: driver,
		Pending:  st,
		StateDir: cfg.Workflow.BatchStateDir,
		Notifier: notifier,
		Logger:   logger,
	})

	return &Engine{
		cfg:      cfg,
		store:    st,
		registry: registry,
		executor: executor,
		driver:   driver,
		runner:   runner,
		batches:  batches,
		logger:   logging.NewComponentLogger(logger, "engine"),
	}, nil
}

func buildHandlers(cfg *config.Config, cache *artifacts.Cache, idx *segments.Index, logger *slog.Logger, opts Options) ([]stage.Handler, error) {
	client := opts.LLM
	if client == nil {
		built, err := llm.New(cfg.LLM)
		if err != nil {
			logging.WarnWithContext(logger, "language model unavailable", "llm_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "set llm.model and llm.api_key"),
				logging.String(logging.FieldImpact, "text generation stages fail until configured"),
			)
		} else {
			client = built
		}
	}
	transcriber := opts.Transcriber
	if transcriber == nil {
		transcriber = whisper.NewService(cfg.Transcription)
	}

	handlers := []stage.Handler{
		download.New(cfg.Download, cache, logger),
		transcribe.New(transcriber, llm.NewTokenCounter(), logger),
		index.New(idx, cache, logger),
	}
	generators, err := generate.NewAll(generate.Config{
		Localization: cfg.Localization,
		PromptDir:    cfg.Paths.PromptDir,
		TopK:         cfg.Retrieval.TopK,
	}, client, cache, idx, logger)
	if err != nil {
		return nil, err
	}
	for _, h := range generators {
		handlers = append(handlers, h)
	}
	mediaHandlers, err := media.NewAll(media.Config{
		Localization: cfg.Localization,
		PublishedDir: cfg.PublishedDir(),
	}, cfg.Media, cache, logger)
	if err != nil {
		return nil, err
	}
	for _, h := range mediaHandlers {
		handlers = append(handlers, h)
	}
	return append(handlers, opts.Handlers...), nil
}

// Close asks every batch to stop at its next unit boundary, stops the job
// runner, waiting for the running job, and closes the store. Batches that
// were still queued are marked as errors.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.batches.StopAll()
	e.runner.Stop()
	e.batches.FailDropped()
	return e.store.Close()
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Registry returns the pipeline registry.
func (e *Engine) Registry() *pipeline.Registry {
	return e.registry
}
