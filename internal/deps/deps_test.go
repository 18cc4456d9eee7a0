package deps_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"castline/internal/deps"
)

func TestCheckBinariesResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "castline-tool")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	got := deps.CheckBinaries([]deps.Requirement{
		{Name: "By name", Command: " castline-tool "},
		{Name: "Absent", Command: "castline-absent-tool"},
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(got))
	}
	if !got[0].Available || got[0].Path != tool || got[0].Command != "castline-tool" {
		t.Fatalf("unexpected status for present tool: %#v", got[0])
	}
	if got[1].Available || got[1].Path != "" {
		t.Fatalf("absent tool reported available: %#v", got[1])
	}
	if !strings.Contains(got[1].Detail, "not found") {
		t.Fatalf("unexpected detail %q", got[1].Detail)
	}
}

func TestResolveUnconfigured(t *testing.T) {
	st := deps.Resolve(deps.Requirement{Name: "Render", Optional: true})
	if st.Available || st.Detail != "command not configured" || !st.Optional {
		t.Fatalf("unexpected status %#v", st)
	}
}
