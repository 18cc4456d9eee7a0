package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"castline/internal/api"
	"castline/internal/store"
)

func newUnitsCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "units",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]store.Status, 0, len(statusFlags))
			for _, value := range statusFlags {
				status, ok := store.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				statuses = append(statuses, status)
			}
			return ctx.withReadStore(func(st *store.Store) error {
				runCtx := runContext(cmd)
				units, err := st.ListUnits(runCtx, statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					stats, err := st.Stats(runCtx)
					if err != nil {
						return err
					}
					return writeJSON(cmd, api.UnitListResponse{
						Units:  api.FromUnits(units),
						Counts: api.StatusCounts(stats),
					})
				}
				out := cmd.OutOrStdout()
				if len(units) == 0 {
					fmt.Fprintln(out, "No units")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(units))
				for _, unit := range api.FromUnits(units) {
					rows = append(rows, []string{
						strconv.FormatInt(unit.ID, 10),
						truncate(unit.Title, 40),
						colorText(unitStatusKind(unit.Status), unit.Status, colorize),
						unit.Checkpoint,
						unit.PipelineVersion,
						strconv.Itoa(unit.RetryCount),
						unit.UpdatedAt,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Title", "Status", "Checkpoint", "Version", "Retries", "Updated"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statusFlags, "status", nil, "Only list units in these statuses")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func truncate(value string, limit int) string {
	runes := []rune(strings.TrimSpace(value))
	if limit <= 0 || len(runes) <= limit {
		return string(runes)
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
