package stage

import (
	"context"
	"log/slog"

	"castline/internal/store"
)

// Handler is implemented by every stage.
type Handler interface {
	Name() string
	HealthCheck(context.Context) Health
}

// FileHandler is a stage whose completion is proven by files on disk
// (download, transcribe, index).
type FileHandler interface {
	Handler
	// Done reports whether the stage's output already exists for the unit.
	Done(context.Context, *store.Unit) (bool, error)
	// Execute produces the output. It may update path fields on the unit;
	// the executor persists them.
	Execute(context.Context, *store.Unit) (Usage, error)
}

// GenerationHandler is a stage whose completion is proven by an artifact
// produced from a hashed prompt.
type GenerationHandler interface {
	Handler
	// Prompt assembles the full effective input for the unit. Everything the
	// output depends on must be part of the prompt text so its hash changes
	// when an upstream input changes.
	Prompt(context.Context, *store.Unit) (Prompt, error)
	// Generate invokes the collaborator and writes the output to dest.
	Generate(ctx context.Context, unit *store.Unit, prompt Prompt, dest string) (Usage, error)
}

// LoggerAware handlers accept a unit-scoped logger before each run.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Health is one stage's readiness as shown by preflight and the API.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy carries the reason the stage cannot run right now.
func Unhealthy(name, reason string) Health { return Health{Name: name, Detail: reason} }
