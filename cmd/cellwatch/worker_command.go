package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cellwatch/internal/config"
	"cellwatch/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "worker",
		Short:       "Execute one task read from stdin (internal)",
		Hidden:      true,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				// The response channel must still carry a document, so fall
				// back to defaults and say why on the side channel.
				fmt.Fprintf(cmd.ErrOrStderr(), "worker: config unavailable, using defaults: %v\n", err)
				def := config.Default()
				cfg = &def
			}
			code := worker.Run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
}
