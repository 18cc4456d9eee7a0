package api

import (
	"time"

	"castline/internal/costs"
	"castline/internal/store"
)

// FromUnit converts a store unit to its API representation.
func FromUnit(unit *store.Unit) Unit {
	if unit == nil {
		return Unit{}
	}
	return Unit{
		ID:              unit.ID,
		Source:          unit.Source,
		Title:           unit.Title,
		Topic:           unit.Topic,
		Language:        unit.Language,
		PipelineVersion: unit.PipelineVersion,
		Status:          string(unit.Status),
		Checkpoint:      string(unit.Checkpoint),
		ErrorMessage:    unit.ErrorMessage,
		RetryCount:      unit.RetryCount,
		Progress: UnitProgress{
			Stage:   unit.ProgressStage,
			Message: unit.ProgressMessage,
		},
		AudioPath:      unit.AudioPath,
		TranscriptPath: unit.TranscriptPath,
		SegmentsPath:   unit.SegmentsPath,
		WorkDir:        unit.WorkDir,
		LogPath:        unit.LogPath,
		CreatedAt:      formatTime(unit.CreatedAt),
		UpdatedAt:      formatTime(unit.UpdatedAt),
	}
}

// FromUnits converts a slice of units, preserving order.
func FromUnits(units []*store.Unit) []Unit {
	out := make([]Unit, 0, len(units))
	for _, unit := range units {
		out = append(out, FromUnit(unit))
	}
	return out
}

// FromRuns converts stage run rows.
func FromRuns(runs []*store.StageRun) []Run {
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		if run == nil {
			continue
		}
		dto := Run{
			ID:            run.ID,
			Stage:         run.Stage,
			Status:        string(run.Status),
			Forced:        run.Forced,
			StartedAt:     formatTime(run.StartedAt),
			InputUnits:    run.InputUnits,
			OutputUnits:   run.OutputUnits,
			Cost:          run.Cost,
			CostEstimated: run.CostEstimated,
			Model:         run.Model,
			ErrorMessage:  run.ErrorMessage,
			JobID:         run.JobID,
		}
		if run.FinishedAt != nil {
			dto.FinishedAt = formatTime(*run.FinishedAt)
		}
		out = append(out, dto)
	}
	return out
}

// FromArtifacts converts artifact rows.
func FromArtifacts(artifacts []*store.Artifact) []Artifact {
	out := make([]Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if a == nil {
			continue
		}
		out = append(out, Artifact{
			Kind:       a.Kind,
			Path:       a.Path,
			PromptHash: a.PromptHash,
			SizeBytes:  a.SizeBytes,
			CreatedAt:  formatTime(a.CreatedAt),
		})
	}
	return out
}

// FromCostSummary converts a cost summary.
func FromCostSummary(summary costs.Summary) CostSummary {
	dto := CostSummary{
		UnitID:      summary.UnitID,
		Runs:        summary.Runs,
		Skipped:     summary.Skipped,
		Failed:      summary.Failed,
		InputUnits:  summary.InputUnits,
		OutputUnits: summary.OutputUnits,
		Cost:        summary.Cost,
		ByStage:     make([]StageCost, 0, len(summary.ByStage)),
	}
	for _, sc := range summary.ByStage {
		dto.ByStage = append(dto.ByStage, StageCost{
			Stage:       sc.Stage,
			Runs:        sc.Runs,
			Skipped:     sc.Skipped,
			Failed:      sc.Failed,
			InputUnits:  sc.InputUnits,
			OutputUnits: sc.OutputUnits,
			Cost:        sc.Cost,
		})
	}
	return dto
}

// StatusCounts converts store stats to string keys.
func StatusCounts(stats map[store.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, n := range stats {
		out[string(status)] = n
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
