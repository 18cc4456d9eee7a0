package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"castline/internal/fileutil"
	"castline/internal/logging"
	"castline/internal/notifications"
	"castline/internal/services"
	"castline/internal/store"
	"castline/internal/workflow"
)

var (
	// ErrBatchNotFound is returned for unknown batch ids.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrEmptyBatch is returned when a batch would contain no units.
	ErrEmptyBatch = errors.New("batch has no units to run")
)

// BatchState is the lifecycle state of a batch.
type BatchState string

const (
	BatchRunning BatchState = "running"
	BatchStopped BatchState = "stopped"
	BatchSuccess BatchState = "success"
	BatchError   BatchState = "error"
)

// Terminal reports whether the batch has finished.
func (s BatchState) Terminal() bool {
	return s == BatchStopped || s == BatchSuccess || s == BatchError
}

// BatchOptions tunes batch behaviour.
type BatchOptions struct {
	StopOnFirstError  bool `json:"stop_on_first_error"`
	StopBetweenStages bool `json:"stop_between_stages"`
}

// Unit outcomes recorded per batch entry.
const (
	UnitSucceeded   = "success"
	UnitFailed      = "failed"
	UnitInterrupted = "stopped"
)

// UnitResult is the outcome of one unit within a batch.
type UnitResult struct {
	UnitID      int64        `json:"unit_id"`
	Outcome     string       `json:"outcome"`
	FinalStatus store.Status `json:"final_status,omitempty"`
	Stages      int          `json:"stages"`
	Cost        float64      `json:"cost"`
	Error       string       `json:"error,omitempty"`
}

// Batch is a snapshot of a batch run. Completed, Failed, Interrupted and
// Remaining always add up to the number of units.
type Batch struct {
	ID            string       `json:"id"`
	JobID         string       `json:"job_id"`
	State         BatchState   `json:"state"`
	Options       BatchOptions `json:"options"`
	UnitIDs       []int64      `json:"unit_ids"`
	CurrentUnit   int64        `json:"current_unit,omitempty"`
	Completed     int          `json:"completed"`
	Failed        int          `json:"failed"`
	Interrupted   int          `json:"interrupted"`
	Remaining     int          `json:"remaining"`
	TotalCost     float64      `json:"total_cost"`
	StopRequested bool         `json:"stop_requested"`
	Error         string       `json:"error,omitempty"`
	Results       []UnitResult `json:"results"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
}

func (b *Batch) clone() Batch {
	out := *b
	out.UnitIDs = append([]int64(nil), b.UnitIDs...)
	out.Results = append([]UnitResult(nil), b.Results...)
	if b.FinishedAt != nil {
		finished := *b.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

// Pipeline runs the remaining stages of a unit.
type Pipeline interface {
	RunPipeline(ctx context.Context, unitID int64, opts workflow.RunOptions) (*workflow.PipelineResult, error)
}

// PendingSource lists units awaiting work, oldest first.
type PendingSource interface {
	PendingUnits(ctx context.Context) ([]*store.Unit, error)
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Runner   *Runner
	Pipeline Pipeline
	Pending  PendingSource
	StateDir string
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Controller starts, tracks and stops batches.
type Controller struct {
	runner   *Runner
	pipeline Pipeline
	pending  PendingSource
	stateDir string
	notifier notifications.Service
	logger   *slog.Logger

	mu      sync.Mutex
	batches map[string]*Batch

	persistMu sync.Mutex
}

// NewController constructs a Controller and loads snapshots of earlier
// batches from the state directory. Batches that were running when the
// previous process exited are marked as errors.
func NewController(cfg ControllerConfig) *Controller {
	c := &Controller{
		runner:   cfg.Runner,
		pipeline: cfg.Pipeline,
		pending:  cfg.Pending,
		stateDir: strings.TrimSpace(cfg.StateDir),
		notifier: cfg.Notifier,
		logger:   logging.NewComponentLogger(cfg.Logger, "batch"),
		batches:  make(map[string]*Batch),
	}
	c.loadSnapshots()
	return c
}

// Start queues a batch over unitIDs. An empty list selects every pending
// unit, oldest first.
func (c *Controller) Start(ctx context.Context, unitIDs []int64, opts BatchOptions) (Batch, error) {
	ids := append([]int64(nil), unitIDs...)
	if len(ids) == 0 && c.pending != nil {
		units, err := c.pending.PendingUnits(ctx)
		if err != nil {
			return Batch{}, fmt.Errorf("list pending units: %w", err)
		}
		for _, u := range units {
			ids = append(ids, u.ID)
		}
	}
	if len(ids) == 0 {
		return Batch{}, ErrEmptyBatch
	}

	batch := &Batch{
		ID:        uuid.NewString(),
		State:     BatchRunning,
		Options:   opts,
		UnitIDs:   ids,
		Remaining: len(ids),
		StartedAt: time.Now().UTC(),
	}
	c.mu.Lock()
	c.batches[batch.ID] = batch
	c.mu.Unlock()

	label := fmt.Sprintf("batch of %d units", len(ids))
	jobID, err := c.runner.Submit("batch", label, 0, func(ctx context.Context, progress Progress) (any, error) {
		return c.run(ctx, batch, progress)
	})
	if err != nil {
		c.mu.Lock()
		delete(c.batches, batch.ID)
		c.mu.Unlock()
		return Batch{}, err
	}

	c.mu.Lock()
	batch.JobID = jobID
	snapshot := batch.clone()
	c.mu.Unlock()
	c.persist(snapshot)

	c.logger.Info("batch queued",
		logging.String(logging.FieldEventType, "batch_queued"),
		logging.String(logging.FieldBatchID, batch.ID),
		logging.String(logging.FieldJobID, jobID),
		logging.Int("units", len(ids)),
		logging.Bool("stop_on_first_error", opts.StopOnFirstError),
		logging.Bool("stop_between_stages", opts.StopBetweenStages),
	)
	return snapshot, nil
}

// Stop sets the batch's stop flag. The unit in progress finishes; no further
// unit starts.
func (c *Controller) Stop(id string) (Batch, error) {
	c.mu.Lock()
	batch, ok := c.batches[id]
	if !ok {
		c.mu.Unlock()
		return Batch{}, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	changed := false
	if !batch.State.Terminal() && !batch.StopRequested {
		batch.StopRequested = true
		changed = true
	}
	snapshot := batch.clone()
	c.mu.Unlock()

	if changed {
		c.persist(snapshot)
		c.logger.Info("batch stop requested",
			logging.String(logging.FieldEventType, "batch_stop_requested"),
			logging.String(logging.FieldBatchID, id),
		)
	}
	return snapshot, nil
}

// StopAll sets the stop flag of every unfinished batch and returns how many
// were flagged. A shutdown calls it so the runner is not held up by the rest
// of a batch.
func (c *Controller) StopAll() int {
	c.mu.Lock()
	var flagged []Batch
	for _, batch := range c.batches {
		if batch.State.Terminal() || batch.StopRequested {
			continue
		}
		batch.StopRequested = true
		flagged = append(flagged, batch.clone())
	}
	c.mu.Unlock()

	for _, snapshot := range flagged {
		c.persist(snapshot)
	}
	if len(flagged) > 0 {
		c.logger.Info("stop requested for all batches",
			logging.String(logging.FieldEventType, "batch_stop_all"),
			logging.Int("batches", len(flagged)),
		)
	}
	return len(flagged)
}

// FailDropped marks batches that are still running as errors. It is meant
// for after the runner has stopped: a batch whose job was dropped from the
// queue never ran, so nothing else finishes it.
func (c *Controller) FailDropped() int {
	c.mu.Lock()
	var dropped []Batch
	for _, batch := range c.batches {
		if batch.State.Terminal() {
			continue
		}
		now := time.Now().UTC()
		batch.State = BatchError
		batch.Error = ErrRunnerStopped.Error()
		batch.CurrentUnit = 0
		batch.FinishedAt = &now
		dropped = append(dropped, batch.clone())
	}
	c.mu.Unlock()

	for _, snapshot := range dropped {
		c.persist(snapshot)
		logging.WarnWithContext(c.logger, "batch dropped before it started", "batch_dropped",
			logging.String(logging.FieldBatchID, snapshot.ID),
			logging.Int("units", len(snapshot.UnitIDs)),
			logging.String(logging.FieldErrorHint, "start the batch again after the restart"),
			logging.String(logging.FieldImpact, "none of its units ran"),
		)
	}
	return len(dropped)
}

// Get returns a snapshot of one batch.
func (c *Controller) Get(id string) (Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch, ok := c.batches[id]
	if !ok {
		return Batch{}, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return batch.clone(), nil
}

// List returns all known batches, newest first.
func (c *Controller) List() []Batch {
	c.mu.Lock()
	out := make([]Batch, 0, len(c.batches))
	for _, b := range c.batches {
		out = append(out, b.clone())
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (c *Controller) stopRequested(batch *Batch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return batch.StopRequested
}

// update applies fn under the lock and persists the resulting snapshot.
func (c *Controller) update(batch *Batch, fn func(b *Batch)) Batch {
	c.mu.Lock()
	fn(batch)
	snapshot := batch.clone()
	c.mu.Unlock()
	c.persist(snapshot)
	return snapshot
}

func (c *Controller) run(ctx context.Context, batch *Batch, progress Progress) (result any, err error) {
	ctx = services.WithBatchID(ctx, batch.ID)
	logger := logging.WithContext(ctx, c.logger)
	started := time.Now()
	c.publishStarted(ctx, batch.ID, len(batch.UnitIDs))
	logger.Info("batch started",
		logging.String(logging.FieldEventType, "batch_start"),
		logging.Int("units", len(batch.UnitIDs)),
	)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("batch panicked: %v", rec)
		}
		final := c.update(batch, func(b *Batch) {
			if err != nil {
				b.State = BatchError
				b.Error = err.Error()
			} else if b.State == BatchRunning {
				b.State = BatchSuccess
			}
			b.CurrentUnit = 0
			now := time.Now().UTC()
			b.FinishedAt = &now
		})
		result = final
		logger.Info("batch finished",
			logging.String(logging.FieldEventType, "batch_finish"),
			logging.String("state", string(final.State)),
			logging.Int("completed", final.Completed),
			logging.Int("failed", final.Failed),
			logging.Int("interrupted", final.Interrupted),
			logging.Int("remaining", final.Remaining),
			logging.Float64("cost", final.TotalCost),
			logging.Duration("duration", time.Since(started)),
		)
		payload := notifications.Payload{
			"batch_id":  final.ID,
			"state":     string(final.State),
			"completed": final.Completed,
			"failed":    final.Failed,
			"remaining": final.Remaining,
			"cost":      final.TotalCost,
			"duration":  time.Since(started),
		}
		if c.notifier != nil {
			if nerr := c.notifier.Publish(ctx, notifications.EventBatchFinished, payload); nerr != nil {
				logger.Debug("batch notification failed", logging.Error(nerr))
			}
		}
	}()

	for i, unitID := range batch.UnitIDs {
		if c.stopRequested(batch) {
			c.update(batch, func(b *Batch) { b.State = BatchStopped })
			logger.Info("batch stopped before next unit",
				logging.String(logging.FieldEventType, "batch_stopped"),
				logging.Int64("next_unit", unitID),
			)
			return nil, nil
		}

		c.update(batch, func(b *Batch) { b.CurrentUnit = unitID })
		progress(fmt.Sprintf("unit %d (%d of %d)", unitID, i+1, len(batch.UnitIDs)))

		opts := workflow.RunOptions{}
		if batch.Options.StopBetweenStages {
			opts.ShouldStop = func() bool { return c.stopRequested(batch) }
		}
		res, runErr := c.pipeline.RunPipeline(ctx, unitID, opts)
		entry := UnitResult{UnitID: unitID, Outcome: UnitSucceeded}
		if res != nil {
			entry.FinalStatus = res.FinalStatus
			entry.Stages = len(res.Stages)
			entry.Cost = res.Cost
		}
		switch {
		case runErr != nil:
			entry.Outcome = UnitFailed
			entry.Error = runErr.Error()
		case res != nil && res.Stopped:
			entry.Outcome = UnitInterrupted
		}

		c.update(batch, func(b *Batch) {
			b.Results = append(b.Results, entry)
			b.TotalCost += entry.Cost
			b.Remaining = len(b.UnitIDs) - (i + 1)
			switch entry.Outcome {
			case UnitSucceeded:
				b.Completed++
			case UnitFailed:
				b.Failed++
			case UnitInterrupted:
				b.Interrupted++
				b.State = BatchStopped
			}
		})

		if runErr != nil {
			logger.Warn("batch unit failed",
				logging.String(logging.FieldEventType, "batch_unit_failed"),
				logging.Int64(logging.FieldUnitID, unitID),
				logging.String(logging.FieldErrorHint, "retry the unit once the cause is fixed"),
				logging.String(logging.FieldImpact, "the batch continues with the next unit"),
				logging.Error(runErr),
			)
			if batch.Options.StopOnFirstError {
				c.update(batch, func(b *Batch) {
					b.State = BatchError
					b.Error = fmt.Sprintf("unit %d failed: %v", unitID, runErr)
				})
				return nil, nil
			}
			continue
		}
		if entry.Outcome == UnitInterrupted {
			logger.Info("batch stopped between stages",
				logging.String(logging.FieldEventType, "batch_stopped"),
				logging.Int64(logging.FieldUnitID, unitID),
			)
			return nil, nil
		}
	}
	return nil, nil
}

func (c *Controller) publishStarted(ctx context.Context, id string, units int) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Publish(ctx, notifications.EventBatchStarted, notifications.Payload{
		"batch_id": id,
		"units":    units,
	}); err != nil {
		c.logger.Debug("batch notification failed", logging.Error(err))
	}
}

func (c *Controller) snapshotPath(id string) string {
	return filepath.Join(c.stateDir, id+".json")
}

// persist writes a snapshot atomically. Failures are logged and ignored.
func (c *Controller) persist(b Batch) {
	if c.stateDir == "" {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	data, err := json.MarshalIndent(b, "", "  ")
	if err == nil {
		err = os.MkdirAll(c.stateDir, 0o755)
	}
	if err == nil {
		err = fileutil.WriteFileAtomic(c.snapshotPath(b.ID), data, 0o644)
	}
	if err != nil {
		logging.WarnWithContext(c.logger, "batch snapshot not written", "batch_snapshot_failed",
			logging.String(logging.FieldBatchID, b.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check workflow.batch_state_dir permissions"),
			logging.String(logging.FieldImpact, "batch progress is only available while the process runs"),
		)
	}
}

func (c *Controller) loadSnapshots() {
	if c.stateDir == "" {
		return
	}
	entries, err := os.ReadDir(c.stateDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("batch snapshots unreadable", logging.Error(err))
		}
		return
	}
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.stateDir, de.Name()))
		if err != nil {
			continue
		}
		var b Batch
		if err := json.Unmarshal(data, &b); err != nil || b.ID == "" {
			c.logger.Debug("skipping malformed batch snapshot", logging.String("file", de.Name()))
			continue
		}
		if !b.State.Terminal() {
			b.State = BatchError
			b.Error = "interrupted by process exit"
			b.CurrentUnit = 0
			c.persist(b)
		}
		batch := b
		c.batches[b.ID] = &batch
	}
}
