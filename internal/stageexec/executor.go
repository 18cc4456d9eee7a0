package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"castline/internal/artifacts"
	"castline/internal/costs"
	"castline/internal/logging"
	"castline/internal/notifications"
	"castline/internal/pipeline"
	"castline/internal/services"
	"castline/internal/stage"
	"castline/internal/store"
	"castline/internal/textutil"
)

// Store is the persistence the executor needs.
type Store interface {
	UpdateUnit(ctx context.Context, unit *store.Unit) error
	OpenRun(ctx context.Context, unitID int64, stage string, forced bool, jobID string) (*store.StageRun, error)
	CloseRun(ctx context.Context, runID int64, result store.RunResult) error
	RecordSkip(ctx context.Context, unitID int64, stage, jobID string) (*store.StageRun, error)
}

// Config wires the executor's collaborators.
type Config struct {
	Store    Store
	Cache    *artifacts.Cache
	Pricing  *costs.Pricing
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Executor runs stages through their handlers.
type Executor struct {
	store    Store
	cache    *artifacts.Cache
	pricing  *costs.Pricing
	notifier notifications.Service
	logger   *slog.Logger
	handlers map[string]stage.Handler
}

// New constructs an Executor with the given handlers registered.
func New(cfg Config, handlers ...stage.Handler) *Executor {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	e := &Executor{
		store:    cfg.Store,
		cache:    cfg.Cache,
		pricing:  cfg.Pricing,
		notifier: notifier,
		logger:   logging.NewComponentLogger(cfg.Logger, "stageexec"),
		handlers: make(map[string]stage.Handler, len(handlers)),
	}
	for _, h := range handlers {
		e.Register(h)
	}
	return e
}

// Register adds or replaces the handler for h.Name().
func (e *Executor) Register(h stage.Handler) {
	if h == nil {
		return
	}
	e.handlers[h.Name()] = h
}

// Handler returns the handler registered for a stage name.
func (e *Executor) Handler(name string) (stage.Handler, bool) {
	h, ok := e.handlers[name]
	return h, ok
}

// Handlers returns registered handlers sorted by name.
func (e *Executor) Handlers() []stage.Handler {
	out := make([]stage.Handler, 0, len(e.handlers))
	for _, h := range e.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Options describes one stage execution.
type Options struct {
	Logger  *slog.Logger
	Unit    *store.Unit
	Stage   pipeline.Stage
	Version *pipeline.Version
	Force   bool
	JobID   string
}

// Outcome is the result of one stage execution.
type Outcome struct {
	Stage         string          `json:"stage"`
	Status        store.RunStatus `json:"status"`
	RunID         int64           `json:"run_id"`
	InputUnits    int64           `json:"input_units"`
	OutputUnits   int64           `json:"output_units"`
	Model         string          `json:"model,omitempty"`
	Cost          float64         `json:"cost"`
	CostEstimated bool            `json:"cost_estimated"`
	ArtifactPath  string          `json:"artifact_path,omitempty"`
	Duration      time.Duration   `json:"duration"`
}

// CheckPrecondition fails with *PreconditionError when the unit has not yet
// completed the stage's precondition. Force bypasses the check.
func CheckPrecondition(version *pipeline.Version, unit *store.Unit, st pipeline.Stage, force bool) error {
	if force {
		return nil
	}
	checkpoint := unit.Checkpoint
	if checkpoint == "" {
		checkpoint = store.StatusNew
	}
	if !version.AtLeast(checkpoint, st.Precondition) {
		return &PreconditionError{UnitID: unit.ID, Stage: st.Name, Required: st.Precondition, Current: checkpoint}
	}
	return nil
}

// Run executes one stage for one unit. The unit is updated in place and
// persisted. A returned *PreconditionError leaves the unit untouched; a
// returned *StageFailedError means the unit is now failed.
func (e *Executor) Run(ctx context.Context, opts Options) (Outcome, error) {
	unit, st, version := opts.Unit, opts.Stage, opts.Version
	if unit == nil || version == nil {
		return Outcome{}, errors.New("unit and pipeline version are required")
	}
	outcome := Outcome{Stage: st.Name}
	handler, ok := e.handlers[st.Name]
	if !ok {
		return outcome, services.Wrap(services.ErrConfiguration, st.Name, "resolve handler", "no handler registered for stage", nil)
	}
	if err := CheckPrecondition(version, unit, st, opts.Force); err != nil {
		return outcome, err
	}

	ctx = services.WithStage(services.WithUnitID(ctx, unit.ID), st.Name)
	ctx = services.WithJobID(ctx, opts.JobID)
	base := opts.Logger
	if base == nil {
		base = e.logger
	}
	logger := logging.WithContext(ctx, base)
	if aware, ok := handler.(stage.LoggerAware); ok {
		aware.SetLogger(logger)
	}

	if unit.WorkDir == "" && e.cache != nil {
		unit.WorkDir = e.cache.UnitDir(unit)
	}
	if unit.Checkpoint == "" {
		unit.Checkpoint = store.StatusNew
	}

	started := time.Now()
	run := &execution{
		executor: e,
		logger:   logger,
		opts:     opts,
		handler:  handler,
		started:  started,
	}
	outcome, err := run.execute(ctx)
	outcome.Duration = time.Since(started)
	return outcome, err
}

type execution struct {
	executor *Executor
	logger   *slog.Logger
	opts     Options
	handler  stage.Handler
	started  time.Time
	run      *store.StageRun
}

func (x *execution) execute(ctx context.Context) (Outcome, error) {
	switch h := x.handler.(type) {
	case stage.GenerationHandler:
		return x.executeGeneration(ctx, h)
	case stage.FileHandler:
		return x.executeFile(ctx, h)
	default:
		return Outcome{Stage: x.opts.Stage.Name}, services.Wrap(services.ErrConfiguration, x.opts.Stage.Name, "resolve handler",
			fmt.Sprintf("handler %T implements neither file nor generation contract", x.handler), nil)
	}
}

func (x *execution) executeFile(ctx context.Context, h stage.FileHandler) (Outcome, error) {
	if !x.opts.Force {
		done, err := h.Done(ctx, x.opts.Unit)
		if err != nil {
			return x.fail(ctx, stage.Usage{}, err)
		}
		if done {
			return x.skip(ctx, "")
		}
	}
	if err := x.begin(ctx); err != nil {
		return Outcome{Stage: x.opts.Stage.Name}, err
	}
	usage, err := h.Execute(ctx, x.opts.Unit)
	if err != nil {
		return x.fail(ctx, usage, err)
	}
	return x.succeed(ctx, usage, "")
}

func (x *execution) executeGeneration(ctx context.Context, h stage.GenerationHandler) (Outcome, error) {
	st := x.opts.Stage
	unit := x.opts.Unit
	if x.executor.cache == nil {
		return Outcome{Stage: st.Name}, errors.New("artifact cache is required for generation stages")
	}
	prompt, err := h.Prompt(ctx, unit)
	if err != nil {
		return x.fail(ctx, stage.Usage{}, err)
	}
	hash := prompt.Hash()
	if !x.opts.Force {
		current, hit, err := x.executor.cache.Lookup(ctx, unit.ID, st.ArtifactKind, hash)
		if err != nil {
			return Outcome{Stage: st.Name}, fmt.Errorf("artifact lookup: %w", err)
		}
		if hit {
			return x.skip(ctx, current.Path)
		}
	}

	if err := x.begin(ctx); err != nil {
		return Outcome{Stage: st.Name}, err
	}
	dest := x.executor.cache.Path(unit, st.ArtifactKind, prompt.Extension)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return x.fail(ctx, stage.Usage{}, fmt.Errorf("create artifact directory: %w", err))
	}
	partial := artifacts.PartialPath(dest)
	_ = os.Remove(partial)

	usage, err := h.Generate(ctx, unit, prompt, partial)
	if err != nil {
		_ = os.Remove(partial)
		return x.fail(ctx, usage, err)
	}
	if err := artifacts.Promote(partial, dest); err != nil {
		return x.fail(ctx, usage, err)
	}
	if _, err := x.executor.cache.Commit(ctx, unit.ID, st.ArtifactKind, dest, hash); err != nil {
		return x.fail(ctx, usage, err)
	}
	return x.succeed(ctx, usage, dest)
}

// begin marks the unit as working on the stage and opens the StageRun.
func (x *execution) begin(ctx context.Context) error {
	unit := x.opts.Unit
	label := textutil.ProgressLabel(x.opts.Stage.Name)
	unit.ProgressStage = label
	unit.ProgressMessage = label + " started"
	if err := x.executor.store.UpdateUnit(ctx, unit); err != nil {
		return fmt.Errorf("persist stage start: %w", err)
	}
	run, err := x.executor.store.OpenRun(ctx, unit.ID, x.opts.Stage.Name, x.opts.Force, x.opts.JobID)
	if err != nil {
		return err
	}
	x.run = run
	x.logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int64("run_id", run.ID),
		logging.Bool("forced", x.opts.Force),
		logging.String("checkpoint", string(unit.Checkpoint)),
	)
	return nil
}

// advance moves the checkpoint to the stage postcondition when it is
// behind, and clears any failure.
func (x *execution) advance() {
	unit := x.opts.Unit
	unit.Checkpoint = x.opts.Version.Max(unit.Checkpoint, x.opts.Stage.Postcondition)
	unit.Status = unit.Checkpoint
	unit.ErrorMessage = ""
}

func (x *execution) skip(ctx context.Context, artifactPath string) (Outcome, error) {
	st := x.opts.Stage
	unit := x.opts.Unit
	marker, err := x.executor.store.RecordSkip(ctx, unit.ID, st.Name, x.opts.JobID)
	if err != nil {
		return Outcome{Stage: st.Name}, err
	}
	x.advance()
	unit.ProgressStage = textutil.ProgressLabel(st.Name)
	unit.ProgressMessage = "cached output reused"
	if err := x.executor.store.UpdateUnit(ctx, unit); err != nil {
		return Outcome{Stage: st.Name}, fmt.Errorf("persist skip: %w", err)
	}
	x.logger.Info("stage skipped; output already present",
		logging.String(logging.FieldEventType, "stage_skipped"),
		logging.Int64("run_id", marker.ID),
		logging.String("artifact_path", artifactPath),
		logging.String("status", string(unit.Status)),
	)
	return Outcome{
		Stage:        st.Name,
		Status:       store.RunSkipped,
		RunID:        marker.ID,
		ArtifactPath: artifactPath,
	}, nil
}

func (x *execution) price(usage stage.Usage) (float64, bool) {
	cost, estimated, err := x.executor.pricing.Cost(x.opts.Stage.Name, usage)
	if err != nil {
		logging.WarnWithContext(x.logger, "cost estimate failed", "cost_estimate_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the [pricing] formulas"),
			logging.String(logging.FieldImpact, "the run is recorded with zero cost"),
		)
		return 0, true
	}
	return cost, estimated
}

func (x *execution) succeed(ctx context.Context, usage stage.Usage, artifactPath string) (Outcome, error) {
	st := x.opts.Stage
	unit := x.opts.Unit
	cost, estimated := x.price(usage)
	if err := x.executor.store.CloseRun(ctx, x.run.ID, store.RunResult{
		Status:        store.RunSuccess,
		InputUnits:    usage.InputUnits,
		OutputUnits:   usage.OutputUnits,
		Cost:          cost,
		CostEstimated: estimated,
		Model:         usage.Model,
	}); err != nil {
		return Outcome{Stage: st.Name}, err
	}

	x.advance()
	unit.ProgressStage = textutil.ProgressLabel(st.Name)
	unit.ProgressMessage = textutil.ProgressLabel(st.Name) + " complete"
	if err := x.executor.store.UpdateUnit(ctx, unit); err != nil {
		return Outcome{Stage: st.Name}, fmt.Errorf("persist stage result: %w", err)
	}

	x.logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int64("run_id", x.run.ID),
		logging.String("status", string(unit.Status)),
		logging.Int64("input_units", usage.InputUnits),
		logging.Int64("output_units", usage.OutputUnits),
		logging.Float64("cost", cost),
		logging.Bool("cost_estimated", estimated),
		logging.Duration("duration", time.Since(x.started)),
	)
	if st.Postcondition == store.StatusCompleted {
		if err := x.executor.notifier.Publish(ctx, notifications.EventUnitCompleted, notifications.Payload{
			"unit_id": unit.ID,
			"title":   unit.Title,
		}); err != nil {
			x.logger.Debug("completion notification failed", logging.Error(err))
		}
	}

	return Outcome{
		Stage:         st.Name,
		Status:        store.RunSuccess,
		RunID:         x.run.ID,
		InputUnits:    usage.InputUnits,
		OutputUnits:   usage.OutputUnits,
		Model:         usage.Model,
		Cost:          cost,
		CostEstimated: estimated,
		ArtifactPath:  artifactPath,
	}, nil
}

func failureMessage(err error) string {
	message := strings.TrimSpace(services.Details(err).Message)
	if message == "" {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = "stage failed"
	}
	return message
}

// fail closes (or opens and closes) the StageRun as failed and marks the
// unit failed without touching its checkpoint.
func (x *execution) fail(ctx context.Context, usage stage.Usage, stageErr error) (Outcome, error) {
	st := x.opts.Stage
	unit := x.opts.Unit
	message := failureMessage(stageErr)

	if x.run == nil {
		run, err := x.executor.store.OpenRun(ctx, unit.ID, st.Name, x.opts.Force, x.opts.JobID)
		if err != nil {
			x.logger.Error("failed to open stage run for failure", logging.Error(err))
		}
		x.run = run
	}
	cost, estimated := 0.0, false
	if usage.InputUnits > 0 || usage.OutputUnits > 0 || usage.BilledCost != nil {
		cost, estimated = x.price(usage)
	}
	runID := int64(0)
	if x.run != nil {
		runID = x.run.ID
		if err := x.executor.store.CloseRun(ctx, x.run.ID, store.RunResult{
			Status:        store.RunFailed,
			InputUnits:    usage.InputUnits,
			OutputUnits:   usage.OutputUnits,
			Cost:          cost,
			CostEstimated: estimated,
			Model:         usage.Model,
			ErrorMessage:  message,
		}); err != nil {
			x.logger.Error("failed to close stage run", logging.Error(err))
		}
	}

	unit.SetFailed(st.Name, message)
	unit.ProgressStage = textutil.ProgressLabel(st.Name)
	if err := x.executor.store.UpdateUnit(ctx, unit); err != nil {
		x.logger.Error("failed to persist stage failure", logging.Error(err))
	}

	logging.ErrorWithContext(x.logger, "stage failed", "stage_failure",
		logging.Int64("run_id", runID),
		logging.String("error_message", message),
		logging.String("error_kind", services.Kind(stageErr)),
		logging.Int("retry_count", unit.RetryCount),
		logging.String(logging.FieldErrorHint, "run `castline retry` once the cause is fixed"),
		logging.Error(stageErr),
	)
	if err := x.executor.notifier.Publish(ctx, notifications.EventUnitFailed, notifications.Payload{
		"unit_id": unit.ID,
		"title":   unit.Title,
		"stage":   st.Name,
		"error":   message,
	}); err != nil {
		x.logger.Debug("failure notification failed", logging.Error(err))
	}

	return Outcome{
		Stage:       st.Name,
		Status:      store.RunFailed,
		RunID:       runID,
		InputUnits:  usage.InputUnits,
		OutputUnits: usage.OutputUnits,
		Model:       usage.Model,
		Cost:        cost,
	}, &StageFailedError{UnitID: unit.ID, Stage: st.Name, Message: message, Err: stageErr}
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, notifications.Event, notifications.Payload) error {
	return nil
}
