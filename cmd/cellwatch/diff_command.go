package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"cellwatch/internal/console"
	"cellwatch/internal/dispatch"
	"cellwatch/internal/task"
)

func newDiffCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var exitCode bool

	cmd := &cobra.Command{
		Use:   "diff <old-baseline> <new-baseline>",
		Short: "Compare two stored baselines",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := ctx.newPool()
			if err != nil {
				return err
			}
			loaded := make([]*task.LoadBaselineResult, 0, 2)
			for _, path := range args {
				result, err := dispatch.Call[task.LoadBaselineResult](cmd.Context(), pool, task.LoadBaseline{BaselinePath: path}, false)
				if err != nil {
					return fmt.Errorf("load %s: %w", path, err)
				}
				if !result.Exists {
					return fmt.Errorf("baseline %s does not exist", path)
				}
				loaded = append(loaded, result)
			}

			compared, err := dispatch.Call[task.CompareBaselineResult](cmd.Context(), pool, task.CompareBaseline{
				OldBaseline: loaded[0].Data,
				NewData:     loaded[1].Data,
			}, false)
			if err != nil {
				return fmt.Errorf("compare: %w", err)
			}

			if jsonOutput {
				if err := writeJSON(cmd, compared); err != nil {
					return err
				}
			} else {
				printer := console.New(cmd.OutOrStdout(), 0)
				title := fmt.Sprintf("%s -> %s", filepath.Base(args[0]), filepath.Base(args[1]))
				printer.Report(console.DiffReport(title, compared, printer.Colorize()))
			}
			if exitCode && compared.HasChanges {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "Exit with status 1 when the baselines differ")
	return cmd
}
