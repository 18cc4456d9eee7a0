package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandlerLayout(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, level, false)).
		With(String(FieldComponent, "engine"), Int64(FieldUnitID, 4)).
		WithGroup("run")
	logger.Warn("stage failed", String("stage", "translate"), Error(errors.New("rate limited")))

	line := strings.TrimSpace(buf.String())
	for _, want := range []string{
		" WARN engine: stage failed",
		" unit_id=4",
		" run.stage=translate",
		` run.error="rate limited"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should be the prefix, not an attribute: %q", line)
	}
}

func TestConsoleHandlerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, level, false))
	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info should be dropped at warn level, got %q", buf.String())
	}
}
