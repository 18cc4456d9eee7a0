package stage_test

import (
	"testing"

	"castline/internal/stage"
)

func TestUsageAdd(t *testing.T) {
	a := stage.Usage{InputUnits: 10, OutputUnits: 5, Model: "m1", BilledCost: stage.Billed(0.5)}
	b := stage.Usage{InputUnits: 1, OutputUnits: 2, BilledCost: stage.Billed(0.25)}
	sum := a.Add(b)
	if sum.InputUnits != 11 || sum.OutputUnits != 7 || sum.Model != "m1" {
		t.Fatalf("unexpected sum %#v", sum)
	}
	if sum.BilledCost == nil || *sum.BilledCost != 0.75 {
		t.Fatalf("unexpected billed cost %v", sum.BilledCost)
	}
	if a.Add(stage.Usage{InputUnits: 1}).BilledCost != nil {
		t.Fatal("billed cost must drop when one side has none")
	}
}

func TestPromptHashChangesWithInput(t *testing.T) {
	p := stage.Prompt{System: "s", User: "u"}
	q := stage.Prompt{System: "s", User: "u2"}
	if p.Hash() == q.Hash() {
		t.Fatal("different prompts must hash differently")
	}
	if p.Hash() != (stage.Prompt{System: "s", User: "u", Extension: ".json"}).Hash() {
		t.Fatal("extension is not part of the prompt text")
	}
}
