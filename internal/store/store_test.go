package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"castline/internal/store"
	"castline/internal/testsupport"
)

func TestNewUnitAndLookup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	unit, err := st.NewUnit(ctx, "https://example.com/ep1.mp3", "Episode One", "gardening", "full")
	if err != nil {
		t.Fatalf("NewUnit failed: %v", err)
	}
	if unit.ID == 0 {
		t.Fatal("expected unit ID to be assigned")
	}
	if unit.Status != store.StatusNew || unit.Checkpoint != store.StatusNew {
		t.Fatalf("unexpected initial state %s/%s", unit.Status, unit.Checkpoint)
	}

	found, err := st.FindBySource(ctx, "https://example.com/ep1.mp3")
	if err != nil {
		t.Fatalf("FindBySource failed: %v", err)
	}
	if found == nil || found.ID != unit.ID || found.Title != "Episode One" {
		t.Fatalf("unexpected lookup result %#v", found)
	}

	missing, err := st.GetUnit(ctx, 9999)
	if err != nil {
		t.Fatalf("GetUnit failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing unit, got %#v", missing)
	}
}

func TestNewUnitDuplicateSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.MustAddUnit(t, st, "/tmp/a.mp3", "A", "")
	again, err := st.NewUnit(ctx, "/tmp/a.mp3", "A again", "", "full")
	if !errors.Is(err, store.ErrDuplicateSource) {
		t.Fatalf("expected ErrDuplicateSource, got %v", err)
	}
	if again == nil || again.ID != first.ID {
		t.Fatalf("expected existing unit, got %#v", again)
	}
}

func TestUpdateUnitAndPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.MustAddUnit(t, st, "a", "A", "")
	b := testsupport.MustAddUnit(t, st, "b", "B", "")
	c := testsupport.MustAddUnit(t, st, "c", "C", "")

	a.Checkpoint = store.StatusTranscribed
	a.Status = store.StatusTranscribed
	a.SetFailed("correct", "model unavailable")
	if err := st.UpdateUnit(ctx, a); err != nil {
		t.Fatalf("UpdateUnit failed: %v", err)
	}
	c.Status = store.StatusCompleted
	c.Checkpoint = store.StatusCompleted
	if err := st.UpdateUnit(ctx, c); err != nil {
		t.Fatalf("UpdateUnit failed: %v", err)
	}

	reloaded, err := st.GetUnit(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetUnit failed: %v", err)
	}
	if reloaded.Status != store.StatusFailed || reloaded.Checkpoint != store.StatusTranscribed {
		t.Fatalf("unexpected state %s/%s", reloaded.Status, reloaded.Checkpoint)
	}
	if reloaded.ErrorMessage != "correct: model unavailable" || reloaded.RetryCount != 1 {
		t.Fatalf("unexpected failure fields %q retry=%d", reloaded.ErrorMessage, reloaded.RetryCount)
	}

	pending, err := st.PendingUnits(ctx)
	if err != nil {
		t.Fatalf("PendingUnits failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Fatalf("expected only unit b pending, got %d units", len(pending))
	}

	failed, err := st.ListUnits(ctx, store.StatusFailed)
	if err != nil {
		t.Fatalf("ListUnits failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != a.ID {
		t.Fatalf("expected unit a failed, got %d units", len(failed))
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[store.StatusNew] != 1 || stats[store.StatusFailed] != 1 || stats[store.StatusCompleted] != 1 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}

func TestStageRunLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	unit := testsupport.MustAddUnit(t, st, "a", "A", "")

	run, err := st.OpenRun(ctx, unit.ID, "translate", false, "job-1")
	if err != nil {
		t.Fatalf("OpenRun failed: %v", err)
	}
	if err := st.CloseRun(ctx, run.ID, store.RunResult{
		Status:      store.RunSuccess,
		InputUnits:  1000,
		OutputUnits: 500,
		Cost:        0.25,
		Model:       "gpt-4o-mini",
	}); err != nil {
		t.Fatalf("CloseRun failed: %v", err)
	}
	if err := st.CloseRun(ctx, run.ID, store.RunResult{Status: store.RunFailed}); !errors.Is(err, store.ErrRunNotOpen) {
		t.Fatalf("expected ErrRunNotOpen on second close, got %v", err)
	}
	if _, err := st.RecordSkip(ctx, unit.ID, "translate", "job-2"); err != nil {
		t.Fatalf("RecordSkip failed: %v", err)
	}
	failedRun, err := st.OpenRun(ctx, unit.ID, "adapt", false, "job-2")
	if err != nil {
		t.Fatalf("OpenRun failed: %v", err)
	}
	if err := st.CloseRun(ctx, failedRun.ID, store.RunResult{Status: store.RunFailed, ErrorMessage: "boom", InputUnits: 10, Cost: 0.01}); err != nil {
		t.Fatalf("CloseRun failed: %v", err)
	}

	runs, err := st.ListRuns(ctx, unit.ID)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].Status != store.RunSuccess || runs[0].FinishedAt == nil || runs[0].Model != "gpt-4o-mini" {
		t.Fatalf("unexpected first run %#v", runs[0])
	}
	if runs[1].Status != store.RunSkipped || runs[1].Cost != 0 {
		t.Fatalf("unexpected skip run %#v", runs[1])
	}

	totals, err := st.CostTotals(ctx, &unit.ID)
	if err != nil {
		t.Fatalf("CostTotals failed: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(totals))
	}
	translate := totals[0]
	if translate.Stage != "translate" || translate.Runs != 2 || translate.Skipped != 1 || translate.InputUnits != 1000 {
		t.Fatalf("unexpected translate totals %#v", translate)
	}
	if translate.Cost < 0.2499 || translate.Cost > 0.2501 {
		t.Fatalf("unexpected translate cost %v", translate.Cost)
	}
	if totals[1].Failed != 1 {
		t.Fatalf("expected failed adapt run, got %#v", totals[1])
	}

	all, err := st.CostTotals(ctx, nil)
	if err != nil {
		t.Fatalf("CostTotals(all) failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 stages overall, got %d", len(all))
	}
}

func TestCloseInterruptedRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	unit := testsupport.MustAddUnit(t, st, "a", "A", "")

	run, err := st.OpenRun(ctx, unit.ID, "download", false, "")
	if err != nil {
		t.Fatalf("OpenRun failed: %v", err)
	}
	n, err := st.CloseInterruptedRuns(ctx)
	if err != nil {
		t.Fatalf("CloseInterruptedRuns failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 interrupted run, got %d", n)
	}
	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != store.RunFailed || got.ErrorMessage == "" {
		t.Fatalf("unexpected run after recovery %#v", got)
	}
}

func TestArtifactUpsertKeepsOneRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	unit := testsupport.MustAddUnit(t, st, "a", "A", "")

	if _, err := st.UpsertArtifact(ctx, store.Artifact{UnitID: unit.ID, Kind: "translation", Path: "/x/v1.md", PromptHash: "sha256:aa"}); err != nil {
		t.Fatalf("UpsertArtifact failed: %v", err)
	}
	if _, err := st.UpsertArtifact(ctx, store.Artifact{UnitID: unit.ID, Kind: "translation", Path: "/x/v2.md", PromptHash: "sha256:bb"}); err != nil {
		t.Fatalf("UpsertArtifact failed: %v", err)
	}

	artifacts, err := st.ListArtifacts(ctx, unit.ID)
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected one current artifact, got %d", len(artifacts))
	}
	current, err := st.GetArtifact(ctx, unit.ID, "translation")
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if current.Path != "/x/v2.md" || current.PromptHash != "sha256:bb" {
		t.Fatalf("unexpected current artifact %#v", current)
	}
	none, err := st.GetArtifact(ctx, unit.ID, "adaptation")
	if err != nil || none != nil {
		t.Fatalf("expected no adaptation artifact, got %#v err=%v", none, err)
	}
}

func TestReplaceSegmentsSupersedesAndSearches(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	unit := testsupport.MustAddUnit(t, st, "a", "A", "")
	other := testsupport.MustAddUnit(t, st, "b", "B", "")

	first := []store.Segment{
		{Ordinal: 0, Start: 0, End: 20, TokenEstimate: 5, Text: "tomatoes need sun"},
		{Ordinal: 1, Start: 15, End: 40, TokenEstimate: 6, Text: "compost feeds the soil"},
	}
	gen, err := st.ReplaceSegments(ctx, unit.ID, first)
	if err != nil {
		t.Fatalf("ReplaceSegments failed: %v", err)
	}
	if gen != 1 {
		t.Fatalf("expected generation 1, got %d", gen)
	}
	if _, err := st.ReplaceSegments(ctx, other.ID, []store.Segment{{Ordinal: 0, End: 10, Text: "tomatoes elsewhere"}}); err != nil {
		t.Fatalf("ReplaceSegments(other) failed: %v", err)
	}

	hits, err := st.SearchSegments(ctx, unit.ID, `"tomatoes"`, 5)
	if err != nil {
		t.Fatalf("SearchSegments failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Ordinal != 0 || hits[0].UnitID != unit.ID {
		t.Fatalf("unexpected hits %#v", hits)
	}

	second := []store.Segment{{Ordinal: 0, Start: 0, End: 30, TokenEstimate: 7, Text: "peppers like warmth"}}
	gen, err = st.ReplaceSegments(ctx, unit.ID, second)
	if err != nil {
		t.Fatalf("ReplaceSegments failed: %v", err)
	}
	if gen != 2 {
		t.Fatalf("expected generation 2, got %d", gen)
	}

	hits, err = st.SearchSegments(ctx, unit.ID, `"tomatoes"`, 5)
	if err != nil {
		t.Fatalf("SearchSegments failed: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected superseded segments to be unsearchable, got %d hits", len(hits))
	}

	count, err := st.CountSegments(ctx, unit.ID)
	if err != nil {
		t.Fatalf("CountSegments failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 current segment, got %d", count)
	}
	current, err := st.ListSegments(ctx, unit.ID)
	if err != nil {
		t.Fatalf("ListSegments failed: %v", err)
	}
	if len(current) != 1 || current[0].Generation != 2 || current[0].Text != "peppers like warmth" {
		t.Fatalf("unexpected current segments %#v", current)
	}
}

func TestSchemaVersionPersists(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	testsupport.MustAddUnit(t, st, "a", "A", "")
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	units, err := reopened.ListUnits(context.Background())
	if err != nil {
		t.Fatalf("ListUnits failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("expected unit to survive reopen, got %d", len(units))
	}
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	_ = db.Close()

	if _, err := store.Open(cfg); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	if _, err := store.OpenReadOnly(cfg); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch from read-only open, got %v", err)
	}
}

func TestOpenReadOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := store.OpenReadOnly(cfg); !errors.Is(err, store.ErrNoDatabase) {
		t.Fatalf("expected ErrNoDatabase before the store exists, got %v", err)
	}

	st := testsupport.MustOpenStore(t, cfg)
	unit := testsupport.MustAddUnit(t, st, "ep.mp3", "Episode", "")

	ro, err := store.OpenReadOnly(cfg)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer ro.Close()

	got, err := ro.GetUnit(context.Background(), unit.ID)
	if err != nil || got == nil || got.Title != "Episode" {
		t.Fatalf("read-only lookup: %v %#v", err, got)
	}
	if _, err := ro.NewUnit(context.Background(), "other.mp3", "Other", "", "full"); err == nil {
		t.Fatal("expected writes to fail on a read-only store")
	}
}
