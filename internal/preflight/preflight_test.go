package preflight_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"castline/internal/config"
	"castline/internal/preflight"
	"castline/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := preflight.CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := preflight.CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckLLMConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.LLM
		pass bool
	}{
		{"complete", config.LLM{Provider: "openai", APIKey: "k", Model: "m"}, true},
		{"missing key", config.LLM{Provider: "claude", Model: "m"}, false},
		{"ollama without key", config.LLM{Provider: "ollama", Model: "llama3"}, true},
		{"missing model", config.LLM{Provider: "openai", APIKey: "k"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := preflight.CheckLLMConfig(tc.cfg); got.Passed != tc.pass {
				t.Fatalf("expected passed=%v, got %#v", tc.pass, got)
			}
		})
	}
}

func TestCheckLLMReachesEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "m",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": `{"ok":true}`},
			}},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	result := preflight.CheckLLM(context.Background(), config.LLM{Provider: "openai", APIKey: "k", Model: "m", BaseURL: srv.URL})
	if !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
}

func TestCheckLLMRejectedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	result := preflight.CheckLLM(context.Background(), config.LLM{Provider: "openai", APIKey: "k", Model: "m", BaseURL: srv.URL})
	if result.Passed {
		t.Fatal("expected failure for rejected key")
	}
}

func TestRunAllMarksUnconfiguredMediaOptional(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	results := preflight.RunAll(context.Background(), cfg)

	byName := map[string]preflight.Result{}
	for _, r := range results {
		byName[r.Name] = r
	}
	if r := byName["Transcription"]; !r.Passed {
		t.Fatalf("stubbed transcription command should pass: %#v", r)
	}
	if r := byName["Narration"]; r.Passed || !r.Optional {
		t.Fatalf("unconfigured narration should be an optional failure: %#v", r)
	}
	if r := byName["Data directory"]; !r.Passed {
		t.Fatalf("data dir should pass: %#v", r)
	}
	if preflight.Failed(results) {
		t.Fatalf("no required check should fail: %#v", results)
	}
}

func TestFailedIgnoresOptional(t *testing.T) {
	results := []preflight.Result{
		{Name: "a", Passed: true},
		{Name: "b", Optional: true},
	}
	if preflight.Failed(results) {
		t.Fatal("optional failures must not fail preflight")
	}
	results = append(results, preflight.Result{Name: "c"})
	if !preflight.Failed(results) {
		t.Fatal("required failure should fail preflight")
	}
}
