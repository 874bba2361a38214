package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cellwatch/internal/console"
	"cellwatch/internal/dispatch"
	"cellwatch/internal/task"
)

func newBaselineCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Inspect stored baselines",
	}
	cmd.AddCommand(newBaselineShowCommand(ctx))
	cmd.AddCommand(newBaselineDecompressCommand(ctx))
	return cmd
}

func newBaselineShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <baseline>",
		Short: "Summarize a baseline's sheets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := ctx.newPool()
			if err != nil {
				return err
			}
			loaded, err := dispatch.Call[task.LoadBaselineResult](cmd.Context(), pool, task.LoadBaseline{BaselinePath: args[0]}, false)
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}
			if !loaded.Exists {
				return fmt.Errorf("baseline %s does not exist", args[0])
			}
			if jsonOutput {
				return writeJSON(cmd, loaded)
			}

			printer := console.New(cmd.OutOrStdout(), 0)
			printer.Report(baselineLines(args[0], loaded, printer.Colorize()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func baselineLines(path string, loaded *task.LoadBaselineResult, colorize bool) []string {
	data := loaded.Data
	lines := console.SectionHeader(path, colorize)
	lines = append(lines, console.StatusLine("Format", console.StatusInfo, loaded.Format, colorize))
	if data.SourcePath != "" {
		lines = append(lines, console.StatusLine("Workbook", console.StatusInfo, data.SourcePath, colorize))
	}
	if data.ServedBy != "" {
		lines = append(lines, console.StatusLine("Engine", console.StatusInfo, data.ServedBy, colorize))
	}
	if !data.Timestamp.IsZero() {
		lines = append(lines, console.StatusLine("Captured", console.StatusInfo, data.Timestamp.Local().Format(time.DateTime), colorize))
	}

	rows := make([][]string, 0, len(data.Cells))
	for _, name := range data.SheetNames() {
		formulas, values := 0, 0
		for _, cell := range data.Cells[name] {
			if cell.Formula != "" {
				formulas++
			}
			if cell.EffectiveValue() != nil {
				values++
			}
		}
		rows = append(rows, []string{name, strconv.Itoa(len(data.Cells[name])), strconv.Itoa(formulas), strconv.Itoa(values)})
	}
	lines = append(lines, console.RenderTable(
		[]string{"Sheet", "Cells", "Formulas", "Values"},
		rows,
		[]console.Align{console.AlignLeft, console.AlignRight, console.AlignRight, console.AlignRight},
	))
	return lines
}

func newBaselineDecompressCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "decompress <baseline>",
		Short: "Write a baseline's JSON document, whatever its compression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := ctx.newPool()
			if err != nil {
				return err
			}
			raw, err := dispatch.Call[task.DecompressJSONResult](cmd.Context(), pool, task.DecompressJSON{FilePath: args[0]}, false)
			if err != nil {
				return fmt.Errorf("decompress %s: %w", args[0], err)
			}
			doc := append([]byte(raw.Data), '\n')
			if outputPath == "" {
				_, err := cmd.OutOrStdout().Write(doc)
				return err
			}
			if err := os.WriteFile(outputPath, doc, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outputPath, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s JSON to %s\n", raw.Format, outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write JSON to this file instead of stdout")
	return cmd
}
