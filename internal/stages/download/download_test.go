package download_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"castline/internal/artifacts"
	"castline/internal/logging"
	"castline/internal/services"
	"castline/internal/stages/download"
	"castline/internal/testsupport"
)

func TestCopiesLocalSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	source := filepath.Join(testsupport.BaseDir(cfg), "incoming", "Show 12.mp3")
	testsupport.WriteFile(t, source, 2048)
	unit := testsupport.MustAddUnit(t, st, source, "Show 12", "")

	h := download.New(cfg.Download, artifacts.New(st, cfg.UnitsDir(), logging.NewNop()), logging.NewNop())
	done, err := h.Done(context.Background(), unit)
	if err != nil || done {
		t.Fatalf("fresh unit should not be done: %v %v", done, err)
	}
	usage, err := h.Execute(context.Background(), unit)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if usage.OutputUnits != 2048 {
		t.Fatalf("expected 2048 bytes, got %d", usage.OutputUnits)
	}
	if unit.WorkDir == "" || filepath.Dir(filepath.Dir(unit.AudioPath)) != unit.WorkDir {
		t.Fatalf("audio %q should live under work dir %q", unit.AudioPath, unit.WorkDir)
	}
	if filepath.Base(unit.AudioPath) != "Show 12.mp3" {
		t.Fatalf("unexpected audio name %q", unit.AudioPath)
	}
	if done, _ := h.Done(context.Background(), unit); !done {
		t.Fatal("unit should be done after execute")
	}
}

func TestMissingLocalSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	unit := testsupport.MustAddUnit(t, st, filepath.Join(t.TempDir(), "nope.mp3"), "Nope", "")

	h := download.New(cfg.Download, artifacts.New(st, cfg.UnitsDir(), logging.NewNop()), logging.NewNop())
	_, err := h.Execute(context.Background(), unit)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetchesRemoteSource(t *testing.T) {
	var agent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.UserAgent()
		if r.URL.Path != "/feed/ep1.m4a" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("not really audio"))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	h := download.New(cfg.Download, artifacts.New(st, cfg.UnitsDir(), logging.NewNop()), logging.NewNop()).
		WithHTTPClient(server.Client())

	unit := testsupport.MustAddUnit(t, st, server.URL+"/feed/ep1.m4a?token=abc", "Episode 1", "")
	if _, err := h.Execute(context.Background(), unit); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if filepath.Base(unit.AudioPath) != "ep1.m4a" {
		t.Fatalf("unexpected audio path %q", unit.AudioPath)
	}
	data, err := os.ReadFile(unit.AudioPath)
	if err != nil || string(data) != "not really audio" {
		t.Fatalf("unexpected content %q %v", data, err)
	}
	if agent != cfg.Download.UserAgent {
		t.Fatalf("expected user agent %q, got %q", cfg.Download.UserAgent, agent)
	}

	missing := testsupport.MustAddUnit(t, st, server.URL+"/feed/gone.mp3", "Gone", "")
	if _, err := h.Execute(context.Background(), missing); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	h := download.New(cfg.Download, artifacts.New(st, cfg.UnitsDir(), logging.NewNop()), logging.NewNop())
	unit := testsupport.MustAddUnit(t, st, server.URL+"/a.mp3", "A", "")
	_, err := h.Execute(context.Background(), unit)
	if !errors.Is(err, services.ErrTransient) || !services.IsRetryable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
