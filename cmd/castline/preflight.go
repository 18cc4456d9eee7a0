package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"castline/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var live bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, external commands and language model settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx := runContext(cmd)
			results := preflight.RunAll(runCtx, cfg)
			if live {
				results = append(results, preflight.CheckLLM(runCtx, cfg.LLM))
			}

			if asJSON {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Preflight", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, result := range results {
					kind := statusOK
					switch {
					case !result.Passed && result.Optional:
						kind = statusWarn
					case !result.Passed:
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
				}
			}
			if preflight.Failed(results) {
				return errors.New("preflight failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "Also send a test request to the language model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
