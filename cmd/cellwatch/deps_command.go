package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cellwatch/internal/console"
	"cellwatch/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Report which engines, codecs, and worker binary are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := deps.Report(cfg)
			missing := deps.Missing(statuses)

			if jsonOutput {
				if err := writeJSON(cmd, statuses); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(statuses))
				for _, s := range statuses {
					rows = append(rows, []string{
						string(s.Category),
						s.Name,
						yesNo(s.Available),
						yesNo(!s.Optional),
						s.Detail,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), console.RenderTable(
					[]string{"Kind", "Name", "Available", "Required", "Detail"}, rows, nil,
				))
			}
			if len(missing) > 0 {
				return &exitError{code: 1, err: fmt.Errorf("%d required dependency(ies) unavailable", len(missing))}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
