package costs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/config"
	"castline/internal/costs"
	"castline/internal/stage"
	"castline/internal/store"
	"castline/internal/testsupport"
)

func TestEstimatePrecedence(t *testing.T) {
	p, err := costs.NewPricing(config.Pricing{
		DefaultFormula: "input_tokens * 0.001",
		Stages:         map[string]string{"download": "0", "narrate": "output_units * 0.01"},
		Models:         map[string]string{"big-model": "input_tokens * 0.002 + output_tokens * 0.004"},
	})
	require.NoError(t, err)

	got, err := p.Estimate("translate", "", 1000, 500)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-9)

	got, err = p.Estimate("translate", "big-model", 1000, 500)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got, 1e-9)

	got, err = p.Estimate("download", "", 1000, 0)
	require.NoError(t, err)
	assert.Zero(t, got)

	got, err = p.Estimate("narrate", "", 0, 300)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got, 1e-9)
}

func TestCostPrefersBilled(t *testing.T) {
	p, err := costs.NewPricing(config.Pricing{DefaultFormula: "input_tokens * 1"})
	require.NoError(t, err)

	cost, estimated, err := p.Cost("translate", stage.Usage{InputUnits: 10, BilledCost: stage.Billed(0.42)})
	require.NoError(t, err)
	assert.False(t, estimated)
	assert.InDelta(t, 0.42, cost, 1e-9)

	cost, estimated, err = p.Cost("translate", stage.Usage{InputUnits: 10})
	require.NoError(t, err)
	assert.True(t, estimated)
	assert.InDelta(t, 10.0, cost, 1e-9)
}

func TestNewPricingRejectsBadFormula(t *testing.T) {
	_, err := costs.NewPricing(config.Pricing{DefaultFormula: "input_tokens * ("})
	assert.Error(t, err)
}

func TestEstimateRejectsNonNumeric(t *testing.T) {
	p, err := costs.NewPricing(config.Pricing{DefaultFormula: "input_tokens > 3"})
	require.NoError(t, err)
	_, err = p.Estimate("translate", "", 10, 0)
	assert.Error(t, err)
}

func TestSummarizeMatchesLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	unit := testsupport.MustAddUnit(t, st, "a", "A", "")
	other := testsupport.MustAddUnit(t, st, "b", "B", "")

	record := func(unitID int64, stageName string, cost float64) {
		run, err := st.OpenRun(ctx, unitID, stageName, false, "")
		require.NoError(t, err)
		require.NoError(t, st.CloseRun(ctx, run.ID, store.RunResult{Status: store.RunSuccess, InputUnits: 100, OutputUnits: 50, Cost: cost}))
	}
	record(unit.ID, "translate", 0.10)
	record(unit.ID, "adapt", 0.20)
	record(other.ID, "translate", 1.00)
	_, err := st.RecordSkip(ctx, unit.ID, "translate", "")
	require.NoError(t, err)

	summary, err := costs.Summarize(ctx, st, &unit.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Runs)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, int64(200), summary.InputUnits)
	assert.InDelta(t, 0.30, summary.Cost, 1e-9)
	assert.Len(t, summary.ByStage, 2)

	all, err := costs.Summarize(ctx, st, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.30, all.Cost, 1e-9)
}
