package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"castline/internal/daemon"
	"castline/internal/inbox"
	"castline/internal/logging"
	"castline/internal/testsupport"
)

func TestAcquireLockIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	lock, err := daemon.AcquireLock(cfg)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if lock.Path() != cfg.LockPath() {
		t.Fatalf("unexpected lock path %s", lock.Path())
	}

	if _, err := daemon.AcquireLock(cfg); !errors.Is(err, daemon.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := daemon.AcquireLock(cfg)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	_ = again.Release()
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	eng := openEngine(t, cfg)

	d, err := daemon.New(cfg, eng, logging.NewNop(), daemon.WithWatcherOptions(inbox.WithSettle(20*time.Millisecond)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	if !d.Running() {
		t.Fatal("expected daemon to be running")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second start should fail")
	}

	resp, err := http.Get("http://" + d.APIAddress() + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}

	audio := filepath.Join(cfg.Paths.InboxDir, "market_report.mp3")
	if err := os.WriteFile(audio, []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		units, err := eng.Units(context.Background())
		if err != nil {
			t.Fatalf("Units: %v", err)
		}
		if len(units) == 1 {
			if units[0].Source != audio || units[0].Title != "market report" {
				t.Fatalf("unexpected unit %#v", units[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("inbox file was not registered")
		}
		time.Sleep(20 * time.Millisecond)
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon to be stopped")
	}
	d.Stop()
}
