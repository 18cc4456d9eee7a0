package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"castline/internal/engine"
	"castline/internal/store"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var title, topic, version string

	cmd := &cobra.Command{
		Use:   "add <source>...",
		Short: "Register audio sources as new units",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if title != "" && len(args) > 1 {
				return errors.New("--title applies to a single source")
			}
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				out := cmd.OutOrStdout()
				for _, source := range args {
					unit, err := eng.AddUnit(runCtx, engine.AddRequest{
						Source:  source,
						Title:   title,
						Topic:   topic,
						Version: version,
					})
					switch {
					case errors.Is(err, store.ErrDuplicateSource) && unit != nil:
						fmt.Fprintf(out, "Already registered as unit %d (%s)\n", unit.ID, unit.Status)
					case err != nil:
						return fmt.Errorf("add %s: %w", source, err)
					default:
						fmt.Fprintf(out, "Added unit %d: %s\n", unit.ID, unit.Title)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Episode title (defaults to the source file name)")
	cmd.Flags().StringVar(&topic, "topic", "", "Topic hint for generation prompts")
	cmd.Flags().StringVar(&version, "version", "", "Pipeline version (defaults to the configured one)")
	return cmd
}
