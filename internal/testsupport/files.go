package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates path with size bytes of filler (at least one byte).
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if size < 1 {
		size = 1
	}
	writeBytes(t, path, bytes.Repeat([]byte("castline "), int(size/9)+1)[:size], 0o644)
}

// WriteText writes content to path, creating parent directories.
func WriteText(t testing.TB, path, content string) {
	t.Helper()
	writeBytes(t, path, []byte(content), 0o644)
}

func writeBytes(t testing.TB, path string, data []byte, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
