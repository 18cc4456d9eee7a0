package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"castline/internal/api"
	"castline/internal/costs"
	"castline/internal/jobs"
	"castline/internal/store"
)

func TestFromUnitFormatsTimesAndStatus(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	dto := api.FromUnit(&store.Unit{
		ID:              7,
		Title:           "Episode",
		PipelineVersion: "full",
		Status:          store.StatusFailed,
		Checkpoint:      store.StatusIndexed,
		ProgressStage:   "translate",
		CreatedAt:       created,
	})
	if dto.Status != "failed" || dto.Checkpoint != "indexed" || dto.Progress.Stage != "translate" {
		t.Fatalf("unexpected dto %#v", dto)
	}
	if dto.CreatedAt != "2026-03-01T11:00:00.000Z" {
		t.Fatalf("unexpected created_at %q", dto.CreatedAt)
	}
	if dto.UpdatedAt != "" {
		t.Fatal("zero times are omitted")
	}
	if api.FromUnit(nil).ID != 0 {
		t.Fatal("nil unit converts to zero value")
	}
}

func TestFromRunsAndCost(t *testing.T) {
	finished := time.Now()
	runs := api.FromRuns([]*store.StageRun{
		{ID: 1, Stage: "download", Status: store.RunSuccess, StartedAt: finished, FinishedAt: &finished},
		nil,
		{ID: 2, Stage: "translate", Status: store.RunRunning, StartedAt: finished},
	})
	if len(runs) != 2 || runs[0].FinishedAt == "" || runs[1].FinishedAt != "" {
		t.Fatalf("unexpected runs %#v", runs)
	}

	summary := api.FromCostSummary(costs.Summary{
		Runs:    3,
		Cost:    0.25,
		ByStage: []store.StageCost{{Stage: "translate", Runs: 1, Cost: 0.25}},
	})
	raw, err := json.Marshal(summary)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"by_stage":[{"stage":"translate"`) {
		t.Fatalf("unexpected payload %s", raw)
	}
}

func TestClientSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/jobs/abc":
			_ = json.NewEncoder(w).Encode(jobs.Job{ID: "abc", State: jobs.StateSuccess})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"job not found"}`))
		}
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.URL, "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	job, err := client.Job(context.Background(), "abc")
	if err != nil || job.State != jobs.StateSuccess {
		t.Fatalf("Job: %v %#v", err, job)
	}

	_, err = client.Job(context.Background(), "missing")
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound || statusErr.Message != "job not found" {
		t.Fatalf("expected 404 status error, got %v", err)
	}

	anonymous, _ := api.NewClient(srv.URL, "")
	if _, err := anonymous.Jobs(context.Background()); err == nil {
		t.Fatal("expected unauthorized error")
	}
}

func TestClientUnavailable(t *testing.T) {
	if _, err := api.NewClient("", ""); !errors.Is(err, api.ErrAPIUnavailable) {
		t.Fatalf("expected ErrAPIUnavailable, got %v", err)
	}
	client, err := api.NewClient("127.0.0.1:1", "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Health(context.Background())
	if !api.IsAPIUnavailable(err) {
		t.Fatalf("expected unreachable daemon, got %v", err)
	}
}
