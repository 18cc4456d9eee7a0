package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"castline/internal/costs"
	"castline/internal/jobs"
	"castline/internal/logging"
	"castline/internal/stage"
	"castline/internal/store"
	"castline/internal/workflow"
)

// AddRequest describes a new unit.
type AddRequest struct {
	Source string `json:"source"`
	Title  string `json:"title,omitempty"`
	Topic  string `json:"topic,omitempty"`
	// Version selects the pipeline; empty uses the default.
	Version string `json:"version,omitempty"`
}

// AddUnit registers a unit. A source that is already registered returns the
// existing unit together with store.ErrDuplicateSource.
func (e *Engine) AddUnit(ctx context.Context, req AddRequest) (*store.Unit, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return nil, errors.New("source is required")
	}
	version, err := e.registry.Version(req.Version)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = titleFromSource(source)
	}

	var unit *store.Unit
	_, err = e.runner.Do(ctx, "add", "add "+title, 0, func(ctx context.Context, _ jobs.Progress) (any, error) {
		created, err := e.store.NewUnit(ctx, source, title, req.Topic, version.Name)
		unit = created
		if err != nil {
			return nil, err
		}
		return created.ID, nil
	})
	if err != nil {
		return unit, err
	}
	logging.WithContext(ctx, e.logger).Info("unit added",
		logging.String(logging.FieldEventType, "unit_added"),
		logging.Int64(logging.FieldUnitID, unit.ID),
		logging.String("source", source),
		logging.String("pipeline_version", version.Name),
	)
	return unit, nil
}

func titleFromSource(source string) string {
	base := source
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = filepath.Base(strings.TrimRight(base, "/"))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" || name == "." {
		return source
	}
	return name
}

// Units lists units, optionally filtered by status.
func (e *Engine) Units(ctx context.Context, statuses ...store.Status) ([]*store.Unit, error) {
	return e.store.ListUnits(ctx, statuses...)
}

// Unit returns one unit or workflow.ErrUnitNotFound.
func (e *Engine) Unit(ctx context.Context, id int64) (*store.Unit, error) {
	unit, err := e.store.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, fmt.Errorf("unit %d: %w", id, workflow.ErrUnitNotFound)
	}
	return unit, nil
}

// Stats counts units per status.
func (e *Engine) Stats(ctx context.Context) (map[store.Status]int, error) {
	return e.store.Stats(ctx)
}

// Runs returns the stage run history of a unit.
func (e *Engine) Runs(ctx context.Context, unitID int64) ([]*store.StageRun, error) {
	if _, err := e.Unit(ctx, unitID); err != nil {
		return nil, err
	}
	return e.store.ListRuns(ctx, unitID)
}

// Artifacts returns the current artifacts of a unit.
func (e *Engine) Artifacts(ctx context.Context, unitID int64) ([]*store.Artifact, error) {
	if _, err := e.Unit(ctx, unitID); err != nil {
		return nil, err
	}
	return e.store.ListArtifacts(ctx, unitID)
}

// Segments returns the current segment generation of a unit.
func (e *Engine) Segments(ctx context.Context, unitID int64) ([]store.Segment, error) {
	if _, err := e.Unit(ctx, unitID); err != nil {
		return nil, err
	}
	return e.store.ListSegments(ctx, unitID)
}

// RunStage validates and enqueues one stage. It returns the job id.
func (e *Engine) RunStage(ctx context.Context, unitID int64, stageName string, force bool) (string, error) {
	if err := e.driver.CheckStage(ctx, unitID, stageName, force); err != nil {
		return "", err
	}
	label := fmt.Sprintf("unit %d: %s", unitID, stageName)
	return e.runner.Submit("stage", label, unitID, func(ctx context.Context, progress jobs.Progress) (any, error) {
		progress(stageName)
		return e.driver.RunStage(ctx, unitID, stageName, force)
	})
}

// RunPipeline validates and enqueues the remaining stages of a unit.
func (e *Engine) RunPipeline(ctx context.Context, unitID int64, force bool) (string, error) {
	if err := e.driver.CheckPipeline(ctx, unitID, force); err != nil {
		return "", err
	}
	label := fmt.Sprintf("unit %d: pipeline", unitID)
	return e.runner.Submit("pipeline", label, unitID, func(ctx context.Context, _ jobs.Progress) (any, error) {
		return e.driver.RunPipeline(ctx, unitID, workflow.RunOptions{Force: force})
	})
}

// Retry validates that the unit failed and enqueues its resumption.
func (e *Engine) Retry(ctx context.Context, unitID int64) (string, error) {
	if err := e.driver.CheckRetry(ctx, unitID); err != nil {
		return "", err
	}
	label := fmt.Sprintf("unit %d: retry", unitID)
	return e.runner.Submit("retry", label, unitID, func(ctx context.Context, _ jobs.Progress) (any, error) {
		return e.driver.Retry(ctx, unitID, workflow.RunOptions{})
	})
}

// Reset moves a unit back to the precondition of stageName and waits for
// the write.
func (e *Engine) Reset(ctx context.Context, unitID int64, stageName string) (*store.Unit, error) {
	if err := e.driver.CheckReset(ctx, unitID, stageName); err != nil {
		return nil, err
	}
	var unit *store.Unit
	label := fmt.Sprintf("unit %d: reset to %s", unitID, stageName)
	_, err := e.runner.Do(ctx, "reset", label, unitID, func(ctx context.Context, _ jobs.Progress) (any, error) {
		reset, err := e.driver.Reset(ctx, unitID, stageName)
		unit = reset
		return reset, err
	})
	return unit, err
}

// Job returns one job snapshot.
func (e *Engine) Job(id string) (jobs.Job, error) {
	return e.runner.Get(id)
}

// Jobs returns the remembered jobs in submission order.
func (e *Engine) Jobs() []jobs.Job {
	return e.runner.List()
}

// Wait blocks until a job finishes or ctx ends.
func (e *Engine) Wait(ctx context.Context, id string) (jobs.Job, error) {
	return e.runner.Wait(ctx, id)
}

// StartBatch queues a batch. An empty id list runs every pending unit. The
// configured stop_between_stages applies when opts does not set it.
func (e *Engine) StartBatch(ctx context.Context, unitIDs []int64, opts jobs.BatchOptions) (jobs.Batch, error) {
	for _, id := range unitIDs {
		if _, err := e.Unit(ctx, id); err != nil {
			return jobs.Batch{}, err
		}
	}
	if e.cfg.Workflow.StopBetweenStages {
		opts.StopBetweenStages = true
	}
	return e.batches.Start(ctx, unitIDs, opts)
}

// StopBatch sets a batch's stop flag.
func (e *Engine) StopBatch(id string) (jobs.Batch, error) {
	return e.batches.Stop(id)
}

// Batch returns one batch snapshot.
func (e *Engine) Batch(id string) (jobs.Batch, error) {
	return e.batches.Get(id)
}

// Batches returns known batches, newest first.
func (e *Engine) Batches() []jobs.Batch {
	return e.batches.List()
}

// Cost aggregates the stage run ledger for one unit, or all units when
// unitID is nil.
func (e *Engine) Cost(ctx context.Context, unitID *int64) (costs.Summary, error) {
	if unitID != nil {
		if _, err := e.Unit(ctx, *unitID); err != nil {
			return costs.Summary{}, err
		}
	}
	return costs.Summarize(ctx, e.store, unitID)
}

// Health reports every registered stage handler, ordered by the default
// pipeline.
func (e *Engine) Health(ctx context.Context) []stage.Health {
	order := map[string]int{}
	if version, err := e.registry.Version(""); err == nil {
		for i, st := range version.Stages {
			order[st.Name] = i
		}
	}
	handlers := e.executor.Handlers()
	out := make([]stage.Health, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h.HealthCheck(ctx))
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, iok := order[out[i].Name]
		oj, jok := order[out[j].Name]
		if iok != jok {
			return iok
		}
		return oi < oj
	})
	return out
}

// QueueDepth returns the number of queued jobs.
func (e *Engine) QueueDepth() int {
	return e.runner.Pending()
}
