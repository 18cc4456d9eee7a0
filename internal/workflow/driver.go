package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"castline/internal/logging"
	"castline/internal/pipeline"
	"castline/internal/services"
	"castline/internal/stageexec"
	"castline/internal/store"
)

// Store is the unit persistence the driver needs.
type Store interface {
	GetUnit(ctx context.Context, id int64) (*store.Unit, error)
	UpdateUnit(ctx context.Context, unit *store.Unit) error
}

// Executor runs a single stage.
type Executor interface {
	Run(ctx context.Context, opts stageexec.Options) (stageexec.Outcome, error)
}

// Driver sequences stage executions for units.
type Driver struct {
	store    Store
	registry *pipeline.Registry
	executor Executor
	logs     *UnitLogs
	logger   *slog.Logger
}

// NewDriver constructs a Driver. logs may be nil to disable per-unit logs.
func NewDriver(st Store, registry *pipeline.Registry, executor Executor, logs *UnitLogs, logger *slog.Logger) *Driver {
	return &Driver{
		store:    st,
		registry: registry,
		executor: executor,
		logs:     logs,
		logger:   logging.NewComponentLogger(logger, "workflow"),
	}
}

// RunOptions controls a pipeline run.
type RunOptions struct {
	Force bool
	JobID string
	// ShouldStop is consulted between stages; returning true ends the run
	// before the next stage starts.
	ShouldStop func() bool
}

// PipelineResult summarizes a pipeline run.
type PipelineResult struct {
	UnitID      int64               `json:"unit_id"`
	Stages      []stageexec.Outcome `json:"stages"`
	InputUnits  int64               `json:"input_units"`
	OutputUnits int64               `json:"output_units"`
	Cost        float64             `json:"cost"`
	Stopped     bool                `json:"stopped"`
	FinalStatus store.Status        `json:"final_status"`
}

func (r *PipelineResult) add(outcome stageexec.Outcome) {
	r.Stages = append(r.Stages, outcome)
	r.InputUnits += outcome.InputUnits
	r.OutputUnits += outcome.OutputUnits
	r.Cost += outcome.Cost
}

// Version resolves the pipeline version assigned to a unit.
func (d *Driver) Version(unit *store.Unit) (*pipeline.Version, error) {
	return d.registry.Version(unit.PipelineVersion)
}

func (d *Driver) load(ctx context.Context, unitID int64) (*store.Unit, *pipeline.Version, error) {
	unit, err := d.store.GetUnit(ctx, unitID)
	if err != nil {
		return nil, nil, fmt.Errorf("load unit %d: %w", unitID, err)
	}
	if unit == nil {
		return nil, nil, fmt.Errorf("unit %d: %w", unitID, ErrUnitNotFound)
	}
	version, err := d.Version(unit)
	if err != nil {
		return nil, nil, fmt.Errorf("unit %d: %w", unitID, err)
	}
	return unit, version, nil
}

// CheckStage validates a run_stage request without executing it.
func (d *Driver) CheckStage(ctx context.Context, unitID int64, stageName string, force bool) error {
	unit, version, err := d.load(ctx, unitID)
	if err != nil {
		return err
	}
	return checkStage(unit, version, stageName, force)
}

// checkStage applies the run_stage rules: a failed unit needs Retry (or
// force), then the stage's precondition must hold.
func checkStage(unit *store.Unit, version *pipeline.Version, stageName string, force bool) error {
	st, err := version.Stage(stageName)
	if err != nil {
		return err
	}
	if unit.IsFailed() && !force {
		return &InvalidStateError{UnitID: unit.ID, Operation: "run stage " + st.Name, Status: unit.Status, Reason: "use retry"}
	}
	return stageexec.CheckPrecondition(version, unit, st, force)
}

// CheckPipeline validates a run_pipeline request. Failed units must go
// through Retry unless force is set.
func (d *Driver) CheckPipeline(ctx context.Context, unitID int64, force bool) error {
	unit, _, err := d.load(ctx, unitID)
	if err != nil {
		return err
	}
	if unit.IsFailed() && !force {
		return &InvalidStateError{UnitID: unit.ID, Operation: "run pipeline", Status: unit.Status, Reason: "use retry"}
	}
	return nil
}

// CheckRetry validates a retry request.
func (d *Driver) CheckRetry(ctx context.Context, unitID int64) error {
	unit, _, err := d.load(ctx, unitID)
	if err != nil {
		return err
	}
	if !unit.IsFailed() {
		return &InvalidStateError{UnitID: unit.ID, Operation: "retry", Status: unit.Status, Reason: "only failed units can be retried"}
	}
	return nil
}

// CheckReset validates a reset request.
func (d *Driver) CheckReset(ctx context.Context, unitID int64, stageName string) error {
	_, version, err := d.load(ctx, unitID)
	if err != nil {
		return err
	}
	_, err = version.Stage(stageName)
	return err
}

// RunStage executes one stage for a unit.
func (d *Driver) RunStage(ctx context.Context, unitID int64, stageName string, force bool) (stageexec.Outcome, error) {
	unit, version, err := d.load(ctx, unitID)
	if err != nil {
		return stageexec.Outcome{Stage: stageName}, err
	}
	if err := checkStage(unit, version, stageName, force); err != nil {
		return stageexec.Outcome{Stage: stageName}, err
	}
	st, _ := version.Stage(stageName)
	jobID, _ := services.JobIDFromContext(ctx)
	logger, closeLog := d.unitLogger(ctx, unit)
	defer closeLog()
	return d.executor.Run(ctx, stageexec.Options{
		Logger:  logger,
		Unit:    unit,
		Stage:   st,
		Version: version,
		Force:   force,
		JobID:   jobID,
	})
}

// RunPipeline runs every stage after the unit's checkpoint in order and stops
// at the first failure.
func (d *Driver) RunPipeline(ctx context.Context, unitID int64, opts RunOptions) (*PipelineResult, error) {
	if err := d.CheckPipeline(ctx, unitID, opts.Force); err != nil {
		return nil, err
	}
	unit, version, err := d.load(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return d.run(ctx, unit, version, opts)
}

// Retry clears a failed unit's error and resumes it from its checkpoint.
func (d *Driver) Retry(ctx context.Context, unitID int64, opts RunOptions) (*PipelineResult, error) {
	if err := d.CheckRetry(ctx, unitID); err != nil {
		return nil, err
	}
	unit, version, err := d.load(ctx, unitID)
	if err != nil {
		return nil, err
	}
	previous := unit.ErrorMessage
	unit.ClearFailure()
	unit.ProgressMessage = "retry requested"
	if err := d.store.UpdateUnit(ctx, unit); err != nil {
		return nil, fmt.Errorf("clear failure: %w", err)
	}
	logger, closeLog := d.unitLogger(ctx, unit)
	logger.Info("retrying unit from checkpoint",
		logging.String(logging.FieldEventType, "unit_retry"),
		logging.String("checkpoint", string(unit.Checkpoint)),
		logging.String("previous_error", previous),
		logging.Int("retry_count", unit.RetryCount),
	)
	closeLog()
	return d.run(ctx, unit, version, opts)
}

// Reset moves the unit's checkpoint back to the precondition of stageName so
// the stage and everything after it run again. Artifacts are kept; stages
// whose prompts are unchanged are served from the cache.
func (d *Driver) Reset(ctx context.Context, unitID int64, stageName string) (*store.Unit, error) {
	unit, version, err := d.load(ctx, unitID)
	if err != nil {
		return nil, err
	}
	st, err := version.Stage(stageName)
	if err != nil {
		return nil, err
	}
	previous := unit.Status
	unit.Checkpoint = st.Precondition
	unit.Status = st.Precondition
	unit.ErrorMessage = ""
	unit.ProgressStage = ""
	unit.ProgressMessage = "reset to " + st.Name
	if err := d.store.UpdateUnit(ctx, unit); err != nil {
		return nil, fmt.Errorf("reset unit: %w", err)
	}
	logger, closeLog := d.unitLogger(ctx, unit)
	defer closeLog()
	logger.Info("unit reset",
		logging.String(logging.FieldEventType, "unit_reset"),
		logging.String(logging.FieldStage, st.Name),
		logging.String("previous_status", string(previous)),
		logging.String("status", string(unit.Status)),
	)
	return unit, nil
}

func (d *Driver) run(ctx context.Context, unit *store.Unit, version *pipeline.Version, opts RunOptions) (*PipelineResult, error) {
	result := &PipelineResult{UnitID: unit.ID}
	if opts.JobID == "" {
		opts.JobID, _ = services.JobIDFromContext(ctx)
	}
	logger, closeLog := d.unitLogger(ctx, unit)
	defer closeLog()

	stages := version.Remaining(unit.Checkpoint)
	started := time.Now()
	logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.String("pipeline_version", version.Name),
		logging.String("checkpoint", string(unit.Checkpoint)),
		logging.Int("remaining_stages", len(stages)),
		logging.Bool("forced", opts.Force),
	)

	for i, st := range stages {
		if i > 0 && opts.ShouldStop != nil && opts.ShouldStop() {
			result.Stopped = true
			logger.Info("pipeline stopped between stages",
				logging.String(logging.FieldEventType, "pipeline_stopped"),
				logging.String("next_stage", st.Name),
			)
			break
		}
		outcome, err := d.executor.Run(ctx, stageexec.Options{
			Logger:  logger,
			Unit:    unit,
			Stage:   st,
			Version: version,
			Force:   opts.Force,
			JobID:   opts.JobID,
		})
		if outcome.Status != "" {
			result.add(outcome)
		}
		if err != nil {
			result.FinalStatus = unit.Status
			var failed *stageexec.StageFailedError
			if !errors.As(err, &failed) {
				logger.Error("pipeline aborted",
					logging.String(logging.FieldEventType, "pipeline_aborted"),
					logging.String(logging.FieldStage, st.Name),
					logging.Error(err),
				)
			}
			return result, err
		}
	}

	result.FinalStatus = unit.Status
	logger.Info("pipeline finished",
		logging.String(logging.FieldEventType, "pipeline_finish"),
		logging.String("status", string(unit.Status)),
		logging.Int("stages_run", len(result.Stages)),
		logging.Float64("cost", result.Cost),
		logging.Bool("stopped", result.Stopped),
		logging.Duration("duration", time.Since(started)),
	)
	return result, nil
}

// unitLogger returns a context-tagged logger teed into the unit's log file
// and persists a newly assigned log path.
func (d *Driver) unitLogger(ctx context.Context, unit *store.Unit) (*slog.Logger, func()) {
	ctx = services.WithUnitID(ctx, unit.ID)
	base := logging.WithContext(ctx, d.logger)
	if d.logs == nil {
		return base, func() {}
	}
	hadPath := unit.LogPath != ""
	logger, closeLog := d.logs.Attach(base, unit)
	if !hadPath && unit.LogPath != "" {
		if err := d.store.UpdateUnit(ctx, unit); err != nil {
			logger.Debug("persist unit log path failed", logging.Error(err))
		}
	}
	return logger, closeLog
}
