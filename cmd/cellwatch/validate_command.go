package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cellwatch/internal/console"
	"cellwatch/internal/dispatch"
	"cellwatch/internal/task"
	"cellwatch/internal/validate"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate <baseline>",
		Short: "Check a stored baseline for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := ctx.newPool()
			if err != nil {
				return err
			}
			raw, err := dispatch.Call[task.DecompressJSONResult](cmd.Context(), pool, task.DecompressJSON{FilePath: args[0]}, false)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			report, err := dispatch.Call[task.ValidateBaselineResult](cmd.Context(), pool, task.ValidateBaseline{BaselineData: raw.Data}, false)
			if err != nil {
				return fmt.Errorf("validate %s: %w", args[0], err)
			}

			if jsonOutput {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				printer := console.New(cmd.OutOrStdout(), 0)
				printer.Report(validationLines(args[0], raw.Format, report, printer.Colorize()))
			}
			if !report.IsValid {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func validationLines(path, format string, report *validate.Report, colorize bool) []string {
	lines := console.SectionHeader(path, colorize)
	if report.IsValid {
		lines = append(lines, console.StatusLine("Structure", console.StatusOK, "valid", colorize))
	} else {
		lines = append(lines, console.StatusLine("Structure", console.StatusError, "invalid", colorize))
	}
	lines = append(lines,
		console.StatusLine("Format", console.StatusInfo, format, colorize),
		console.StatusLine("Sheets", console.StatusInfo, strconv.Itoa(report.Statistics.SheetCount), colorize),
		console.StatusLine("Cells", console.StatusInfo, strconv.Itoa(report.Statistics.TotalCells), colorize),
		console.StatusLine("Formula cells", console.StatusInfo, strconv.Itoa(report.Statistics.FormulaCells), colorize),
		console.StatusLine("Value cells", console.StatusInfo, strconv.Itoa(report.Statistics.ValueCells), colorize),
	)
	for _, msg := range report.Errors {
		lines = append(lines, console.StatusLine("Error", console.StatusError, msg, colorize))
	}
	for _, msg := range report.Warnings {
		lines = append(lines, console.StatusLine("Warning", console.StatusWarn, msg, colorize))
	}
	return lines
}
