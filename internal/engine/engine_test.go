package engine_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"castline/internal/engine"
	"castline/internal/jobs"
	"castline/internal/logging"
	"castline/internal/services/llm"
	"castline/internal/stage"
	"castline/internal/stageexec"
	"castline/internal/store"
	"castline/internal/testsupport"
	"castline/internal/workflow"
)

type nopLLM struct{}

func (nopLLM) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{}, errors.New("not used")
}
func (nopLLM) Model() string { return "nop" }

type harness struct {
	engine     *engine.Engine
	download   *testsupport.FakeFileStage
	transcribe *testsupport.FakeFileStage
	publish    *testsupport.FakeGenerationStage
}

func newHarness(t *testing.T) harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	h := harness{
		download:   testsupport.NewFakeFileStage("download"),
		transcribe: testsupport.NewFakeFileStage("transcribe"),
		publish:    testsupport.NewFakeGenerationStage("publish"),
	}
	e, err := engine.Open(context.Background(), cfg, logging.NewNop(), engine.Options{
		Registry: testsupport.ShortRegistry(t),
		LLM:      nopLLM{},
		Handlers: []stage.Handler{h.download, h.transcribe, h.publish},
	})
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	h.engine = e
	return h
}

func (h harness) add(t *testing.T, source string) *store.Unit {
	t.Helper()
	unit, err := h.engine.AddUnit(context.Background(), engine.AddRequest{Source: source, Version: testsupport.ShortVersion})
	if err != nil {
		t.Fatalf("AddUnit: %v", err)
	}
	return unit
}

func wait(t *testing.T, e *engine.Engine, id string) jobs.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, _ := e.Wait(ctx, id)
	if !job.State.Terminal() {
		t.Fatalf("job %s did not finish: %s", id, job.State)
	}
	return job
}

func TestAddUnitDerivesTitleAndRejectsDuplicates(t *testing.T) {
	h := newHarness(t)
	unit := h.add(t, "/podcasts/garden_hour-ep12.mp3")
	if unit.Title != "garden hour ep12" {
		t.Fatalf("unexpected title %q", unit.Title)
	}
	if unit.PipelineVersion != testsupport.ShortVersion || unit.Status != store.StatusNew {
		t.Fatalf("unexpected unit %#v", unit)
	}

	again, err := h.engine.AddUnit(context.Background(), engine.AddRequest{Source: "/podcasts/garden_hour-ep12.mp3"})
	if !errors.Is(err, store.ErrDuplicateSource) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if again == nil || again.ID != unit.ID {
		t.Fatal("duplicate add should return the existing unit")
	}

	if _, err := h.engine.AddUnit(context.Background(), engine.AddRequest{Source: "x.mp3", Version: "nope"}); err == nil {
		t.Fatal("expected unknown version error")
	}
}

func TestRunPipelineJobCompletesUnit(t *testing.T) {
	h := newHarness(t)
	unit := h.add(t, "one.mp3")

	id, err := h.engine.RunPipeline(context.Background(), unit.ID, false)
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	job := wait(t, h.engine, id)
	if job.State != jobs.StateSuccess {
		t.Fatalf("job failed: %s", job.Error)
	}
	result, ok := job.Result.(*workflow.PipelineResult)
	if !ok || len(result.Stages) != 3 || result.FinalStatus != store.StatusCompleted {
		t.Fatalf("unexpected result %#v", job.Result)
	}

	got, err := h.engine.Unit(context.Background(), unit.ID)
	if err != nil {
		t.Fatalf("Unit: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Fatalf("status %s", got.Status)
	}

	summary, err := h.engine.Cost(context.Background(), &unit.ID)
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	runs, err := h.engine.Runs(context.Background(), unit.ID)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	var total float64
	for _, run := range runs {
		total += run.Cost
	}
	if math.Abs(summary.Cost-total) > 1e-9 {
		t.Fatalf("summary cost %v does not match ledger %v", summary.Cost, total)
	}
}

func TestRunStagePreconditionIsSynchronous(t *testing.T) {
	h := newHarness(t)
	unit := h.add(t, "two.mp3")

	_, err := h.engine.RunStage(context.Background(), unit.ID, "publish", false)
	var pre *stageexec.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	for _, job := range h.engine.Jobs() {
		if job.Kind == "stage" {
			t.Fatal("rejected stage must not be queued")
		}
	}
}

func TestRetryRequiresFailure(t *testing.T) {
	h := newHarness(t)
	unit := h.add(t, "three.mp3")
	_, err := h.engine.Retry(context.Background(), unit.ID)
	var invalid *workflow.InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	h.transcribe.FailWith(errors.New("whisper crashed"))
	id, err := h.engine.RunPipeline(context.Background(), unit.ID, false)
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	if job := wait(t, h.engine, id); job.State != jobs.StateError {
		t.Fatalf("expected job error, got %s", job.State)
	}

	h.transcribe.FailWith(nil)
	id, err = h.engine.Retry(context.Background(), unit.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if job := wait(t, h.engine, id); job.State != jobs.StateSuccess {
		t.Fatalf("retry failed: %s", job.Error)
	}
	if h.download.Calls() != 1 || h.transcribe.Calls() != 2 {
		t.Fatalf("unexpected calls download=%d transcribe=%d", h.download.Calls(), h.transcribe.Calls())
	}
}

func TestResetAndUnknownUnit(t *testing.T) {
	h := newHarness(t)
	unit := h.add(t, "four.mp3")
	id, _ := h.engine.RunPipeline(context.Background(), unit.ID, false)
	wait(t, h.engine, id)

	reset, err := h.engine.Reset(context.Background(), unit.ID, "transcribe")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reset.Status != store.StatusDownloaded || reset.Checkpoint != store.StatusDownloaded {
		t.Fatalf("unexpected reset unit %#v", reset)
	}

	if _, err := h.engine.Unit(context.Background(), 999); !errors.Is(err, workflow.ErrUnitNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.engine.RunPipeline(context.Background(), 999, false); !errors.Is(err, workflow.ErrUnitNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBatchRunsPendingUnits(t *testing.T) {
	h := newHarness(t)
	h.add(t, "a.mp3")
	h.add(t, "b.mp3")

	batch, err := h.engine.StartBatch(context.Background(), nil, jobs.BatchOptions{})
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	wait(t, h.engine, batch.JobID)
	final, err := h.engine.Batch(batch.ID)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if final.State != jobs.BatchSuccess || final.Completed != 2 || final.Remaining != 0 {
		t.Fatalf("unexpected batch %#v", final)
	}

	if _, err := h.engine.StartBatch(context.Background(), nil, jobs.BatchOptions{}); !errors.Is(err, jobs.ErrEmptyBatch) {
		t.Fatalf("expected empty batch, got %v", err)
	}
}

func TestHealthFollowsPipelineOrder(t *testing.T) {
	h := newHarness(t)
	health := h.engine.Health(context.Background())
	if len(health) == 0 || health[0].Name != "download" {
		t.Fatalf("unexpected health order %#v", health)
	}
}
