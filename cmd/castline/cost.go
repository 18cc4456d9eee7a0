package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"castline/internal/api"
	"castline/internal/costs"
	"castline/internal/store"
)

func newCostCommand(ctx *commandContext) *cobra.Command {
	var unitFlag int64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Summarize the stage run ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			var unitID *int64
			if unitFlag > 0 {
				unitID = &unitFlag
			}
			return ctx.withReadStore(func(st *store.Store) error {
				runCtx := runContext(cmd)
				if unitID != nil {
					unit, err := st.GetUnit(runCtx, *unitID)
					if err != nil {
						return err
					}
					if unit == nil {
						return fmt.Errorf("unit %d not found", *unitID)
					}
				}
				summary, err := costs.Summarize(runCtx, st, unitID)
				if err != nil {
					return err
				}
				view := api.FromCostSummary(summary)
				if asJSON {
					return writeJSON(cmd, view)
				}
				printCost(cmd, view)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&unitFlag, "unit", 0, "Only this unit")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printCost(cmd *cobra.Command, summary api.CostSummary) {
	out := cmd.OutOrStdout()
	if summary.Runs == 0 && summary.Skipped == 0 && summary.Failed == 0 {
		fmt.Fprintln(out, "No stage runs recorded")
		return
	}
	rows := make([][]string, 0, len(summary.ByStage))
	for _, st := range summary.ByStage {
		rows = append(rows, []string{
			st.Stage,
			strconv.Itoa(st.Runs),
			strconv.Itoa(st.Skipped),
			strconv.Itoa(st.Failed),
			strconv.FormatInt(st.InputUnits, 10),
			strconv.FormatInt(st.OutputUnits, 10),
			fmt.Sprintf("%.4f", st.Cost),
		})
	}
	footer := []string{
		"total",
		strconv.Itoa(summary.Runs),
		strconv.Itoa(summary.Skipped),
		strconv.Itoa(summary.Failed),
		strconv.FormatInt(summary.InputUnits, 10),
		strconv.FormatInt(summary.OutputUnits, 10),
		fmt.Sprintf("%.4f", summary.Cost),
	}
	fmt.Fprintln(out, renderTableWithFooter(
		[]string{"Stage", "Runs", "Skipped", "Failed", "In", "Out", "Cost"},
		rows,
		footer,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
}
