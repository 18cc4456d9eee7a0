package testsupport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"castline/internal/stage"
	"castline/internal/store"
)

// FakeFileStage is a file-evidence stage handler that writes a marker file
// into the unit work directory and counts executions.
type FakeFileStage struct {
	StageName string

	mu    sync.Mutex
	calls int
	err   error
	hook  func()
}

// NewFakeFileStage returns a FakeFileStage named name.
func NewFakeFileStage(name string) *FakeFileStage {
	return &FakeFileStage{StageName: name}
}

func (f *FakeFileStage) Name() string { return f.StageName }

func (f *FakeFileStage) HealthCheck(context.Context) stage.Health { return stage.Healthy(f.StageName) }

// Calls returns how many times Execute ran.
func (f *FakeFileStage) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FailWith makes subsequent executions fail with err; nil clears it.
func (f *FakeFileStage) FailWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// OnExecute registers a callback invoked at the start of every execution.
func (f *FakeFileStage) OnExecute(hook func()) {
	f.mu.Lock()
	f.hook = hook
	f.mu.Unlock()
}

func (f *FakeFileStage) marker(unit *store.Unit) string {
	return filepath.Join(unit.WorkDir, f.StageName+".done")
}

func (f *FakeFileStage) Done(_ context.Context, unit *store.Unit) (bool, error) {
	_, err := os.Stat(f.marker(unit))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (f *FakeFileStage) Execute(_ context.Context, unit *store.Unit) (stage.Usage, error) {
	f.mu.Lock()
	f.calls++
	err, hook := f.err, f.hook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return stage.Usage{}, err
	}
	if err := os.MkdirAll(unit.WorkDir, 0o755); err != nil {
		return stage.Usage{}, err
	}
	return stage.Usage{InputUnits: 10}, os.WriteFile(f.marker(unit), []byte(f.StageName), 0o644)
}

// FakeGenerationStage is a generation stage handler whose prompt is derived
// from the unit title and a mutable suffix.
type FakeGenerationStage struct {
	StageName string

	mu     sync.Mutex
	calls  int
	err    error
	suffix string
	usage  stage.Usage
}

// NewFakeGenerationStage returns a FakeGenerationStage named name that reports
// 100 input and 50 output units per call.
func NewFakeGenerationStage(name string) *FakeGenerationStage {
	return &FakeGenerationStage{StageName: name, usage: stage.Usage{InputUnits: 100, OutputUnits: 50, Model: "fake"}}
}

func (f *FakeGenerationStage) Name() string { return f.StageName }

func (f *FakeGenerationStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(f.StageName)
}

// Calls returns how many times Generate ran.
func (f *FakeGenerationStage) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FailWith makes subsequent generations fail with err; nil clears it.
func (f *FakeGenerationStage) FailWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// SetPromptSuffix changes the user prompt, invalidating cached output.
func (f *FakeGenerationStage) SetPromptSuffix(suffix string) {
	f.mu.Lock()
	f.suffix = suffix
	f.mu.Unlock()
}

func (f *FakeGenerationStage) Prompt(_ context.Context, unit *store.Unit) (stage.Prompt, error) {
	f.mu.Lock()
	suffix := f.suffix
	f.mu.Unlock()
	return stage.Prompt{
		System:    "fake " + f.StageName,
		User:      unit.Title + suffix,
		Extension: ".txt",
	}, nil
}

func (f *FakeGenerationStage) Generate(_ context.Context, _ *store.Unit, prompt stage.Prompt, dest string) (stage.Usage, error) {
	f.mu.Lock()
	f.calls++
	err, usage := f.err, f.usage
	f.mu.Unlock()
	if err != nil {
		return stage.Usage{}, err
	}
	return usage, os.WriteFile(dest, []byte(prompt.User), 0o644)
}
