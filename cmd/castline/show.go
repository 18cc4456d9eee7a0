package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"castline/internal/api"
	"castline/internal/store"
)

type showOutput struct {
	api.UnitResponse
	Runs []api.Run `json:"runs"`
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <unit-id>",
		Short: "Show a unit with its runs and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUnitID(args[0])
			if err != nil {
				return err
			}
			return ctx.withReadStore(func(st *store.Store) error {
				runCtx := runContext(cmd)
				unit, err := st.GetUnit(runCtx, id)
				if err != nil {
					return err
				}
				if unit == nil {
					return fmt.Errorf("unit %d not found", id)
				}
				runs, err := st.ListRuns(runCtx, id)
				if err != nil {
					return err
				}
				artifacts, err := st.ListArtifacts(runCtx, id)
				if err != nil {
					return err
				}
				segments, err := st.CountSegments(runCtx, id)
				if err != nil {
					return err
				}
				view := showOutput{
					UnitResponse: api.UnitResponse{
						Unit:      api.FromUnit(unit),
						Artifacts: api.FromArtifacts(artifacts),
						Segments:  segments,
					},
					Runs: api.FromRuns(runs),
				}
				if asJSON {
					return writeJSON(cmd, view)
				}
				printUnitDetail(cmd, view)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printUnitDetail(cmd *cobra.Command, view showOutput) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	unit := view.Unit

	for _, line := range renderSectionHeader(fmt.Sprintf("Unit %d", unit.ID), colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Title", statusInfo, unit.Title, colorize))
	fmt.Fprintln(out, renderStatusLine("Source", statusInfo, unit.Source, colorize))
	if unit.Topic != "" {
		fmt.Fprintln(out, renderStatusLine("Topic", statusInfo, unit.Topic, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Status", unitStatusKind(unit.Status), unit.Status, colorize))
	fmt.Fprintln(out, renderStatusLine("Checkpoint", statusInfo, unit.Checkpoint, colorize))
	fmt.Fprintln(out, renderStatusLine("Pipeline", statusInfo, unit.PipelineVersion, colorize))
	if unit.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError,
			fmt.Sprintf("%s (retries: %d)", unit.ErrorMessage, unit.RetryCount), colorize))
	}
	if unit.Progress.Message != "" {
		fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, unit.Progress.Message, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Segments", statusInfo, strconv.Itoa(view.Segments), colorize))
	if unit.LogPath != "" {
		fmt.Fprintln(out, renderStatusLine("Log", statusInfo, unit.LogPath, colorize))
	}

	if len(view.Runs) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(view.Runs))
		for _, run := range view.Runs {
			cost := fmt.Sprintf("%.4f", run.Cost)
			if run.CostEstimated {
				cost += "*"
			}
			rows = append(rows, []string{
				strconv.FormatInt(run.ID, 10),
				run.Stage,
				run.Status,
				strconv.FormatInt(run.InputUnits, 10),
				strconv.FormatInt(run.OutputUnits, 10),
				cost,
				run.StartedAt,
				truncate(run.ErrorMessage, 40),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Run", "Stage", "Status", "In", "Out", "Cost", "Started", "Error"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
		))
	}

	if len(view.Artifacts) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(view.Artifacts))
		for _, artifact := range view.Artifacts {
			hash := artifact.PromptHash
			if len(hash) > 12 {
				hash = hash[:12]
			}
			rows = append(rows, []string{artifact.Kind, artifact.Path, hash, strconv.FormatInt(artifact.SizeBytes, 10)})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Artifact", "Path", "Prompt", "Bytes"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
		))
	}
}
