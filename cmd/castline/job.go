package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"castline/internal/api"
	"castline/internal/jobs"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "job [job-id]",
		Short: "Show jobs of the running daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return daemonRequired(err)
			}
			runCtx := runContext(cmd)
			var list []jobs.Job
			if len(args) == 1 {
				job, err := client.Job(runCtx, args[0])
				if err != nil {
					return daemonRequired(err)
				}
				list = []jobs.Job{job}
			} else {
				list, err = client.Jobs(runCtx)
				if err != nil {
					return daemonRequired(err)
				}
			}
			if asJSON {
				if len(args) == 1 {
					return writeJSON(cmd, list[0])
				}
				return writeJSON(cmd, api.JobListResponse{Jobs: list})
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, job := range list {
				unit := ""
				if job.UnitID > 0 {
					unit = fmt.Sprint(job.UnitID)
				}
				rows = append(rows, []string{job.ID, job.Kind, unit, string(job.State), job.Progress, truncate(job.Error, 50)})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Job", "Kind", "Unit", "State", "Progress", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func daemonRequired(err error) error {
	if api.IsAPIUnavailable(err) {
		return fmt.Errorf("jobs live in the daemon; start `castline serve` first: %w", err)
	}
	return err
}
