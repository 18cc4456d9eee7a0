package inbox_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"castline/internal/inbox"
	"castline/internal/logging"
	"castline/internal/testsupport"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	known map[string]bool
}

func (r *recorder) register(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known[path] {
		return fmt.Errorf("unit exists: %w", inbox.ErrDuplicate)
	}
	r.paths = append(r.paths, path)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.paths...)
	sort.Strings(out)
	return out
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcherRegistersExistingAndNewAudio(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "episode-1.mp3")
	testsupport.WriteFile(t, existing, 128)
	testsupport.WriteText(t, filepath.Join(dir, "notes.txt"), "ignore me")

	rec := &recorder{known: map[string]bool{}}
	w := inbox.New(dir, rec.register, logging.NewNop(), inbox.WithSettle(50*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	eventually(t, func() bool { return len(rec.snapshot()) == 1 })

	added := filepath.Join(dir, "episode-2.flac")
	testsupport.WriteFile(t, added, 256)
	eventually(t, func() bool { return len(rec.snapshot()) == 2 })

	got := rec.snapshot()
	if got[0] != existing || got[1] != added {
		t.Fatalf("unexpected registrations %v", got)
	}

	// Rewriting a registered file does not register it again.
	testsupport.WriteFile(t, added, 512)
	time.Sleep(200 * time.Millisecond)
	if n := len(rec.snapshot()); n != 2 {
		t.Fatalf("expected 2 registrations, got %d", n)
	}
}

func TestWatcherToleratesDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "known.wav")
	testsupport.WriteFile(t, path, 64)

	rec := &recorder{known: map[string]bool{path: true}}
	w := inbox.New(dir, rec.register, logging.NewNop(), inbox.WithSettle(20*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	w.Stop()
	if len(rec.snapshot()) != 0 {
		t.Fatal("duplicate source must not be recorded")
	}
	// Stop is idempotent.
	w.Stop()
}

func TestIsAudio(t *testing.T) {
	tests := map[string]bool{
		"a.MP3":  true,
		"b.opus": true,
		"c.m4a":  true,
		"d.txt":  false,
		"e":      false,
	}
	for name, want := range tests {
		if got := inbox.IsAudio(name); got != want {
			t.Errorf("IsAudio(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestStartRequiresDirectory(t *testing.T) {
	w := inbox.New("", func(context.Context, string) error { return nil }, logging.NewNop())
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
