package services_test

import (
	"errors"
	"strings"
	"testing"

	"castline/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "transcribe", "whisper", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcribe", "whisper", "failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestDetailsMessage(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "translate", "prompt", "upstream artifact missing", nil)
	details := services.Details(err)
	if details.Kind != "validation" {
		t.Fatalf("expected validation kind, got %q", details.Kind)
	}
	if details.Message != "prompt: upstream artifact missing" {
		t.Fatalf("unexpected message %q", details.Message)
	}

	plain := services.Details(errors.New("disk full"))
	if plain.Kind != "transient" || plain.Message != "disk full" {
		t.Fatalf("unexpected plain details %+v", plain)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", services.Wrap(services.ErrValidation, "s", "op", "bad", nil), false},
		{"configuration", services.Wrap(services.ErrConfiguration, "s", "op", "bad", nil), false},
		{"timeout", services.Wrap(services.ErrTimeout, "s", "op", "slow", nil), true},
		{"transient", services.Wrap(services.ErrTransient, "s", "op", "429", nil), true},
		{"plain", errors.New("io"), true},
	}
	for _, tc := range cases {
		if got := services.IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
