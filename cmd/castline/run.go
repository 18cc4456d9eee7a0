package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"castline/internal/engine"
	"castline/internal/jobs"
	"castline/internal/stageexec"
	"castline/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var stageName string
	var force bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <unit-id>",
		Short: "Run one stage or the rest of a unit's pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUnitID(args[0])
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				var jobID string
				if name := strings.TrimSpace(stageName); name != "" {
					jobID, err = eng.RunStage(runCtx, id, name, force)
				} else {
					jobID, err = eng.RunPipeline(runCtx, id, force)
				}
				if err != nil {
					return err
				}
				return reportJob(runCtx, cmd, eng, jobID, asJSON)
			})
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "Run only this stage")
	cmd.Flags().BoolVar(&force, "force", false, "Skip precondition checks and bypass caches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the finished job as JSON")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "retry <unit-id>",
		Short: "Resume a failed unit from its failed stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUnitID(args[0])
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				jobID, err := eng.Retry(runCtx, id)
				if err != nil {
					return err
				}
				return reportJob(runCtx, cmd, eng, jobID, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the finished job as JSON")
	return cmd
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <unit-id> <stage>",
		Short: "Move a unit back so that <stage> runs next",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUnitID(args[0])
			if err != nil {
				return err
			}
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				unit, err := eng.Reset(runCtx, id, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unit %d reset to %s; %s runs next\n", unit.ID, unit.Checkpoint, args[1])
				return nil
			})
		},
	}
}

// reportJob waits for a job and prints its outcome. A failed job is returned
// as an error after its partial result is shown.
func reportJob(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, jobID string, asJSON bool) error {
	job, err := eng.Wait(ctx, jobID)
	if asJSON {
		if encErr := writeJSON(cmd, job); encErr != nil {
			return encErr
		}
		return err
	}
	printJobResult(cmd, job)
	return err
}

func printJobResult(cmd *cobra.Command, job jobs.Job) {
	out := cmd.OutOrStdout()
	var outcomes []stageexec.Outcome
	switch result := job.Result.(type) {
	case stageexec.Outcome:
		if result.Status != "" {
			outcomes = []stageexec.Outcome{result}
		}
	case *workflow.PipelineResult:
		if result != nil {
			outcomes = result.Stages
			if result.Stopped {
				defer fmt.Fprintln(out, "Stopped between stages")
			}
			defer fmt.Fprintf(out, "Final status: %s  total cost: %.4f\n", result.FinalStatus, result.Cost)
		}
	}
	if len(outcomes) > 0 {
		fmt.Fprintln(out, renderOutcomes(outcomes))
	}
	if job.State == jobs.StateSuccess && len(outcomes) == 0 {
		fmt.Fprintf(out, "Job %s finished\n", job.ID)
	}
}

func renderOutcomes(outcomes []stageexec.Outcome) string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		cost := fmt.Sprintf("%.4f", o.Cost)
		if o.CostEstimated {
			cost += "*"
		}
		rows = append(rows, []string{
			o.Stage,
			string(o.Status),
			strconv.FormatInt(o.InputUnits, 10),
			strconv.FormatInt(o.OutputUnits, 10),
			cost,
			o.Duration.Round(time.Millisecond).String(),
		})
	}
	return renderTable(
		[]string{"Stage", "Status", "In", "Out", "Cost", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}
