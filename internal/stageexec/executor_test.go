package stageexec_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"castline/internal/artifacts"
	"castline/internal/config"
	"castline/internal/costs"
	"castline/internal/logging"
	"castline/internal/pipeline"
	"castline/internal/stage"
	"castline/internal/stageexec"
	"castline/internal/store"
	"castline/internal/testsupport"
)

type fileHandler struct {
	name  string
	calls int
	err   error
}

func (h *fileHandler) Name() string                             { return h.name }
func (h *fileHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy(h.name) }

func (h *fileHandler) Done(_ context.Context, unit *store.Unit) (bool, error) {
	_, err := os.Stat(filepath.Join(unit.WorkDir, h.name+".out"))
	return err == nil, nil
}

func (h *fileHandler) Execute(_ context.Context, unit *store.Unit) (stage.Usage, error) {
	h.calls++
	if h.err != nil {
		return stage.Usage{}, h.err
	}
	if err := os.MkdirAll(unit.WorkDir, 0o755); err != nil {
		return stage.Usage{}, err
	}
	return stage.Usage{InputUnits: 60}, os.WriteFile(filepath.Join(unit.WorkDir, h.name+".out"), []byte("ok"), 0o644)
}

type genHandler struct {
	name   string
	user   string
	calls  int
	err    error
	billed *float64
}

func (h *genHandler) Name() string                             { return h.name }
func (h *genHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy(h.name) }

func (h *genHandler) Prompt(context.Context, *store.Unit) (stage.Prompt, error) {
	return stage.Prompt{System: "system " + h.name, User: h.user, Extension: ".md"}, nil
}

func (h *genHandler) Generate(_ context.Context, _ *store.Unit, prompt stage.Prompt, dest string) (stage.Usage, error) {
	h.calls++
	if h.err != nil {
		return stage.Usage{InputUnits: 5}, h.err
	}
	return stage.Usage{InputUnits: 1000, OutputUnits: 500, Model: "test-model", BilledCost: h.billed}, os.WriteFile(dest, []byte(prompt.User), 0o644)
}

type fixture struct {
	st      *store.Store
	exec    *stageexec.Executor
	version *pipeline.Version
	cfg     *config.Config
}

func newFixture(t *testing.T, handlers ...stage.Handler) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	pricing, err := costs.NewPricing(config.Pricing{DefaultFormula: "input_tokens * 0.001 + output_tokens * 0.002"})
	if err != nil {
		t.Fatalf("NewPricing: %v", err)
	}
	exec := stageexec.New(stageexec.Config{
		Store:   st,
		Cache:   artifacts.New(st, cfg.UnitsDir(), logging.NewNop()),
		Pricing: pricing,
		Logger:  logging.NewNop(),
	}, handlers...)
	version, err := pipeline.DefaultRegistry().Version(pipeline.VersionFull)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	return fixture{st: st, exec: exec, version: version, cfg: cfg}
}

func (f fixture) run(t *testing.T, unit *store.Unit, stageName string, force bool) (stageexec.Outcome, error) {
	t.Helper()
	st, err := f.version.Stage(stageName)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	return f.exec.Run(context.Background(), stageexec.Options{Unit: unit, Stage: st, Version: f.version, Force: force, JobID: "job"})
}

func TestPreconditionRejectsEarlyStage(t *testing.T) {
	translate := &genHandler{name: "translate", user: "u"}
	f := newFixture(t, translate)
	unit := testsupport.MustAddUnit(t, f.st, "a", "A", "")

	_, err := f.run(t, unit, "translate", false)
	var pre *stageexec.PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if pre.Required != store.StatusIndexed || pre.Current != store.StatusNew {
		t.Fatalf("unexpected precondition detail %#v", pre)
	}
	if translate.calls != 0 {
		t.Fatal("handler must not run when precondition fails")
	}
	runs, _ := f.st.ListRuns(context.Background(), unit.ID)
	if len(runs) != 0 {
		t.Fatalf("no StageRun expected, got %d", len(runs))
	}

	if _, err := f.run(t, unit, "translate", true); err != nil {
		t.Fatalf("forced run should bypass precondition: %v", err)
	}
	if translate.calls != 1 {
		t.Fatalf("expected forced call, got %d", translate.calls)
	}
}

func TestGenerationRunsOnceThenSkips(t *testing.T) {
	correct := &genHandler{name: "correct", user: "transcript v1"}
	f := newFixture(t, correct)
	ctx := context.Background()
	unit := testsupport.MustAddUnit(t, f.st, "a", "A", "")
	unit.Checkpoint, unit.Status = store.StatusTranscribed, store.StatusTranscribed

	first, err := f.run(t, unit, "correct", false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Status != store.RunSuccess || unit.Status != store.StatusCorrected {
		t.Fatalf("unexpected first outcome %#v status=%s", first, unit.Status)
	}
	if first.Cost < 1.999 || first.Cost > 2.001 || !first.CostEstimated {
		t.Fatalf("expected estimated cost 2.0, got %v (estimated=%v)", first.Cost, first.CostEstimated)
	}
	data, err := os.ReadFile(first.ArtifactPath)
	if err != nil || string(data) != "transcript v1" {
		t.Fatalf("artifact not written: %q %v", data, err)
	}
	if _, err := os.Stat(artifacts.PartialPath(first.ArtifactPath)); !os.IsNotExist(err) {
		t.Fatal("partial file should have been promoted")
	}

	second, err := f.run(t, unit, "correct", false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Status != store.RunSkipped || second.Cost != 0 {
		t.Fatalf("expected zero-cost skip, got %#v", second)
	}
	if correct.calls != 1 {
		t.Fatalf("collaborator must be called once, got %d", correct.calls)
	}

	runs, err := f.st.ListRuns(ctx, unit.ID)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	success := 0
	for _, r := range runs {
		if r.Status == store.RunSuccess {
			success++
		}
	}
	if success != 1 || len(runs) != 2 {
		t.Fatalf("expected one success and one skip marker, got %d runs", len(runs))
	}

	correct.user = "transcript v2"
	if _, err := f.run(t, unit, "correct", false); err != nil {
		t.Fatalf("changed prompt run: %v", err)
	}
	if correct.calls != 2 {
		t.Fatalf("changed prompt must regenerate, calls=%d", correct.calls)
	}
	artifactsList, _ := f.st.ListArtifacts(ctx, unit.ID)
	if len(artifactsList) != 1 {
		t.Fatalf("expected one current artifact, got %d", len(artifactsList))
	}
}

func TestForceAlwaysInvokes(t *testing.T) {
	correct := &genHandler{name: "correct", user: "same"}
	f := newFixture(t, correct)
	unit := testsupport.MustAddUnit(t, f.st, "a", "A", "")
	unit.Checkpoint, unit.Status = store.StatusTranscribed, store.StatusTranscribed

	for i := 0; i < 2; i++ {
		if _, err := f.run(t, unit, "correct", true); err != nil {
			t.Fatalf("forced run %d: %v", i, err)
		}
	}
	if correct.calls != 2 {
		t.Fatalf("expected two forced invocations, got %d", correct.calls)
	}
}

func TestFileStageSkipsWhenOutputExists(t *testing.T) {
	download := &fileHandler{name: "download"}
	f := newFixture(t, download)
	unit := testsupport.MustAddUnit(t, f.st, "a", "A", "")

	if _, err := f.run(t, unit, "download", false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	out, err := f.run(t, unit, "download", false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if out.Status != store.RunSkipped || download.calls != 1 {
		t.Fatalf("expected skip, got %#v calls=%d", out, download.calls)
	}
	if unit.WorkDir == "" {
		t.Fatal("executor should assign a work directory")
	}
}

func TestFailureKeepsCheckpointAndRecordsError(t *testing.T) {
	translate := &genHandler{name: "translate", user: "u", err: errors.New("rate limited")}
	f := newFixture(t, translate)
	ctx := context.Background()
	unit := testsupport.MustAddUnit(t, f.st, "a", "A", "")
	unit.Checkpoint, unit.Status = store.StatusIndexed, store.StatusIndexed

	_, err := f.run(t, unit, "translate", false)
	var failed *stageexec.StageFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected StageFailedError, got %v", err)
	}
	if err.Error() != "translate: rate limited" {
		t.Fatalf("unexpected error text %q", err.Error())
	}

	reloaded, _ := f.st.GetUnit(ctx, unit.ID)
	if reloaded.Status != store.StatusFailed || reloaded.Checkpoint != store.StatusIndexed {
		t.Fatalf("unexpected state %s/%s", reloaded.Status, reloaded.Checkpoint)
	}
	if reloaded.ErrorMessage != "translate: rate limited" || reloaded.RetryCount != 1 {
		t.Fatalf("unexpected failure fields %q %d", reloaded.ErrorMessage, reloaded.RetryCount)
	}
	runs, _ := f.st.ListRuns(ctx, unit.ID)
	if len(runs) != 1 || runs[0].Status != store.RunFailed || runs[0].ErrorMessage != "rate limited" {
		t.Fatalf("unexpected runs %#v", runs)
	}
	if _, err := os.Stat(artifacts.PartialPath(filepath.Join(unit.WorkDir, "translation", "translation.md"))); !os.IsNotExist(err) {
		t.Fatal("partial output must be removed after failure")
	}
}

func TestSuccessNeverRegressesCheckpoint(t *testing.T) {
	correct := &genHandler{name: "correct", user: "u"}
	f := newFixture(t, correct)
	unit := testsupport.MustAddUnit(t, f.st, "a", "A", "")
	unit.Checkpoint, unit.Status = store.StatusAdapted, store.StatusAdapted

	if _, err := f.run(t, unit, "correct", true); err != nil {
		t.Fatalf("run: %v", err)
	}
	if unit.Checkpoint != store.StatusAdapted || unit.Status != store.StatusAdapted {
		t.Fatalf("checkpoint regressed to %s/%s", unit.Checkpoint, unit.Status)
	}
}

func TestBilledCostWins(t *testing.T) {
	billed := 0.123
	correct := &genHandler{name: "correct", user: "u", billed: &billed}
	f := newFixture(t, correct)
	unit := testsupport.MustAddUnit(t, f.st, "a", "A", "")
	unit.Checkpoint, unit.Status = store.StatusTranscribed, store.StatusTranscribed

	out, err := f.run(t, unit, "correct", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Cost != billed || out.CostEstimated {
		t.Fatalf("expected billed cost, got %v estimated=%v", out.Cost, out.CostEstimated)
	}
}

func TestMissingHandler(t *testing.T) {
	f := newFixture(t)
	unit := testsupport.MustAddUnit(t, f.st, "a", "A", "")
	if _, err := f.run(t, unit, "download", false); err == nil {
		t.Fatal("expected error for missing handler")
	}
	if unit.Status != store.StatusNew {
		t.Fatalf("unit must be untouched, status=%s", unit.Status)
	}
}
