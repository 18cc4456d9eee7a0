package transcribe_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"castline/internal/logging"
	"castline/internal/services"
	"castline/internal/services/whisper"
	"castline/internal/stages/transcribe"
	"castline/internal/store"
)

type fakeTranscriber struct {
	text      string
	err       error
	available error
	calls     int
}

func (f *fakeTranscriber) TranscribeFile(_ context.Context, source, outputDir string) (whisper.Result, error) {
	f.calls++
	if f.err != nil {
		return whisper.Result{}, f.err
	}
	return whisper.Result{Text: f.text}, os.MkdirAll(outputDir, 0o755)
}

func (f *fakeTranscriber) Model() string { return "tiny" }

func (f *fakeTranscriber) Available() error { return f.available }

func newUnit(t *testing.T) *store.Unit {
	t.Helper()
	work := t.TempDir()
	audio := filepath.Join(work, "audio", "ep.mp3")
	if err := os.MkdirAll(filepath.Dir(audio), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(audio, make([]byte, 400), 0o644); err != nil {
		t.Fatal(err)
	}
	return &store.Unit{ID: 1, WorkDir: work, AudioPath: audio}
}

func TestExecuteWritesTranscript(t *testing.T) {
	unit := newUnit(t)
	fake := &fakeTranscriber{text: "Welcome to the show."}
	h := transcribe.New(fake, nil, logging.NewNop())

	usage, err := h.Execute(context.Background(), unit)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if unit.TranscriptPath != filepath.Join(unit.WorkDir, "transcript", "transcript.txt") {
		t.Fatalf("unexpected transcript path %q", unit.TranscriptPath)
	}
	data, err := os.ReadFile(unit.TranscriptPath)
	if err != nil || string(data) != "Welcome to the show.\n" {
		t.Fatalf("unexpected transcript %q %v", data, err)
	}
	if usage.InputUnits != 400 || usage.OutputUnits != 5 || usage.Model != "tiny" {
		t.Fatalf("unexpected usage %#v", usage)
	}
	if done, _ := h.Done(context.Background(), unit); !done {
		t.Fatal("transcript should count as done")
	}
}

func TestExecuteRequiresAudio(t *testing.T) {
	h := transcribe.New(&fakeTranscriber{}, nil, logging.NewNop())
	_, err := h.Execute(context.Background(), &store.Unit{ID: 2})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecutePropagatesCollaboratorError(t *testing.T) {
	unit := newUnit(t)
	boom := services.Wrap(services.ErrTimeout, "transcribe", "whisper", "exceeded 10s", nil)
	h := transcribe.New(&fakeTranscriber{err: boom}, nil, logging.NewNop())
	if _, err := h.Execute(context.Background(), unit); !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if unit.TranscriptPath != "" {
		t.Fatal("failed transcription must not set a transcript path")
	}
}

func TestHealthCheck(t *testing.T) {
	h := transcribe.New(&fakeTranscriber{available: errors.New("whisper not found")}, nil, logging.NewNop())
	if health := h.HealthCheck(context.Background()); health.Ready {
		t.Fatal("missing binary should be unhealthy")
	}
	if health := transcribe.New(&fakeTranscriber{}, nil, logging.NewNop()).HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy, got %#v", health)
	}
}
