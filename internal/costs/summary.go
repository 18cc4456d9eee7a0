package costs

import (
	"context"

	"castline/internal/store"
)

// TotalsSource aggregates StageRun rows.
type TotalsSource interface {
	CostTotals(ctx context.Context, unitID *int64) ([]store.StageCost, error)
}

// Summary is aggregated usage and cost from the StageRun ledger.
type Summary struct {
	UnitID      *int64            `json:"unit_id,omitempty"`
	Runs        int               `json:"runs"`
	Skipped     int               `json:"skipped"`
	Failed      int               `json:"failed"`
	InputUnits  int64             `json:"input_units"`
	OutputUnits int64             `json:"output_units"`
	Cost        float64           `json:"cost"`
	ByStage     []store.StageCost `json:"by_stage"`
}

// Summarize builds a Summary for one unit, or for every unit when unitID is nil.
func Summarize(ctx context.Context, src TotalsSource, unitID *int64) (Summary, error) {
	totals, err := src.CostTotals(ctx, unitID)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{UnitID: unitID, ByStage: totals}
	for _, t := range totals {
		summary.Runs += t.Runs
		summary.Skipped += t.Skipped
		summary.Failed += t.Failed
		summary.InputUnits += t.InputUnits
		summary.OutputUnits += t.OutputUnits
		summary.Cost += t.Cost
	}
	if summary.ByStage == nil {
		summary.ByStage = []store.StageCost{}
	}
	return summary, nil
}
