package testsupport

import (
	"testing"

	"castline/internal/pipeline"
)

// ShortVersion is a three-stage pipeline (download, transcribe, publish)
// registered by ShortRegistry.
const ShortVersion = "short"

// ShortRegistry returns the built-in registry plus the ShortVersion pipeline.
func ShortRegistry(t testing.TB) *pipeline.Registry {
	t.Helper()

	reg := pipeline.DefaultRegistry()
	definitions := []byte("versions:\n  - name: short\n    stages: [download, transcribe, publish]\n")
	if err := reg.LoadDefinitions(definitions); err != nil {
		t.Fatalf("load short pipeline: %v", err)
	}
	return reg
}
