package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"castline/internal/engine"
	"castline/internal/jobs"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var opts jobs.BatchOptions
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "batch [unit-id...]",
		Short: "Run the pipeline over several units, oldest first",
		Long: "Runs every listed unit, or every pending unit when none are listed.\n" +
			"The first interrupt requests a stop after the current stage; a second one aborts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseUnitID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				batch, err := eng.StartBatch(runCtx, ids, opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !asJSON {
					fmt.Fprintf(out, "Batch %s started for %d unit(s)\n", batch.ID, len(batch.UnitIDs))
				}

				waitCtx, cancel := context.WithCancel(runCtx)
				defer cancel()
				go stopOnInterrupt(waitCtx, cancel, func() {
					if _, err := eng.StopBatch(batch.ID); err == nil {
						fmt.Fprintln(cmd.ErrOrStderr(), "Stop requested; finishing the current stage (interrupt again to abort)")
					}
				})

				_, waitErr := eng.Wait(waitCtx, batch.JobID)
				final, err := eng.Batch(batch.ID)
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(cmd, final); err != nil {
						return err
					}
				} else {
					printBatch(cmd, final)
				}
				if waitCtx.Err() != nil {
					return context.Canceled
				}
				if waitErr != nil {
					return waitErr
				}
				if final.State == jobs.BatchError {
					return fmt.Errorf("batch %s failed: %d of %d unit(s) failed", final.ID, final.Failed, len(final.UnitIDs))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&opts.StopOnFirstError, "stop-on-error", false, "Stop the batch at the first failed unit")
	cmd.Flags().BoolVar(&opts.StopBetweenStages, "stop-between-stages", false, "Run one stage per unit and stop")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the finished batch as JSON")
	return cmd
}

// stopOnInterrupt calls stop on the first SIGINT or SIGTERM and abort on
// the second.
func stopOnInterrupt(ctx context.Context, abort context.CancelFunc, stop func()) {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	stopped := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			if stopped {
				abort()
				return
			}
			stopped = true
			stop()
		}
	}
}

func printBatch(cmd *cobra.Command, batch jobs.Batch) {
	out := cmd.OutOrStdout()
	if len(batch.Results) > 0 {
		rows := make([][]string, 0, len(batch.Results))
		for _, result := range batch.Results {
			rows = append(rows, []string{
				strconv.FormatInt(result.UnitID, 10),
				result.Outcome,
				string(result.FinalStatus),
				strconv.Itoa(result.Stages),
				fmt.Sprintf("%.4f", result.Cost),
				truncate(result.Error, 50),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Unit", "Outcome", "Status", "Stages", "Cost", "Error"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
	}
	fmt.Fprintf(out, "Batch %s %s: %d completed, %d failed, %d interrupted, %d remaining, cost %.4f\n",
		batch.ID, batch.State, batch.Completed, batch.Failed, batch.Interrupted, batch.Remaining, batch.TotalCost)
}
