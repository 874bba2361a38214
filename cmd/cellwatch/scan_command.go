package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"cellwatch/internal/console"
	"cellwatch/internal/diff"
	"cellwatch/internal/history"
	"cellwatch/internal/scan"
)

type scanView struct {
	ID           string       `json:"id"`
	FilePath     string       `json:"file_path"`
	BaselinePath string       `json:"baseline_path"`
	Status       string       `json:"status"`
	ServedBy     string       `json:"served_by,omitempty"`
	Diff         *diff.Result `json:"diff,omitempty"`
	Warnings     []string     `json:"warnings,omitempty"`
	Error        string       `json:"error,omitempty"`
	ErrorType    string       `json:"error_type,omitempty"`
}

func newScanView(out scan.Outcome) scanView {
	view := scanView{
		ID:           out.ID,
		FilePath:     out.FilePath,
		BaselinePath: out.BaselinePath,
		Status:       out.Status,
		ServedBy:     out.ServedBy,
		Diff:         out.Diff,
		Warnings:     out.Warnings,
	}
	if out.Err != nil {
		view.Error = out.Err.Error()
		view.ErrorType = out.ErrorType()
	}
	return view
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "scan <workbook>...",
		Short: "Snapshot workbooks and report changes since their last baseline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			pool, err := ctx.newPool()
			if err != nil {
				return err
			}

			printer := console.New(cmd.OutOrStdout(), 0)
			opts := []scan.Option{scan.WithConcurrency(pool.Size())}
			if !noHistory {
				ledger, err := history.Open(cmd.Context(), cfg.Paths.HistoryDB)
				if err != nil {
					return fmt.Errorf("open history: %w", err)
				}
				defer ledger.Close()
				opts = append(opts, scan.WithHistory(ledger))
			}
			if !jsonOutput {
				opts = append(opts, scan.WithReporter(func(out scan.Outcome) {
					printer.Printf("%s", outcomeLine(out, printer.Colorize()))
				}))
			}

			outcomes := scan.New(cfg, pool, logger, opts...).ScanFiles(cmd.Context(), args)

			failed := 0
			for _, out := range outcomes {
				if out.Err != nil {
					failed++
				}
			}

			if jsonOutput {
				views := make([]scanView, 0, len(outcomes))
				for _, out := range outcomes {
					views = append(views, newScanView(out))
				}
				if err := writeJSON(cmd, views); err != nil {
					return err
				}
			} else {
				for _, out := range outcomes {
					if out.Status == history.StatusChanged {
						printer.Report(console.DiffReport(filepath.Base(out.FilePath), out.Diff, printer.Colorize()))
					}
				}
			}

			if failed > 0 {
				return &exitError{code: 1, err: fmt.Errorf("%d of %d workbook(s) failed", failed, len(outcomes))}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record scans in the history ledger")
	return cmd
}

func outcomeLine(out scan.Outcome, colorize bool) string {
	label := filepath.Base(out.FilePath)
	switch out.Status {
	case history.StatusFailed:
		return console.StatusLine(label, console.StatusError, out.ErrorType()+": "+out.Err.Error(), colorize)
	case history.StatusChanged:
		return console.StatusLine(label, console.StatusWarn, strconv.Itoa(out.Diff.TotalChanges)+" change(s)", colorize)
	case history.StatusBaselined:
		return console.StatusLine(label, console.StatusInfo, "baseline created via "+out.ServedBy, colorize)
	default:
		return console.StatusLine(label, console.StatusOK, "unchanged", colorize)
	}
}
