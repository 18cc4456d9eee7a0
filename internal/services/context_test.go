package services_test

import (
	"context"
	"testing"

	"castline/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithUnitID(ctx, 42)
	ctx = services.WithStage(ctx, "translate")
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithBatchID(ctx, "batch-1")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.UnitIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected unit id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "translate" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if id, ok := services.BatchIDFromContext(ctx); !ok || id != "batch-1" {
		t.Fatalf("unexpected batch id: %v %v", id, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
