package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cellwatch/internal/console"
	"cellwatch/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the scan history ledger",
	}
	cmd.AddCommand(newHistoryListCommand(ctx))
	return cmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var fileFilter string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			ledger, err := history.Open(cmd.Context(), cfg.Paths.HistoryDB)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer ledger.Close()

			opts := history.ListOptions{Limit: limit}
			if fileFilter != "" {
				abs, err := filepath.Abs(fileFilter)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", fileFilter, err)
				}
				opts.FilePath = abs
			}
			scans, err := ledger.List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if jsonOutput {
				if scans == nil {
					scans = []history.Scan{}
				}
				return writeJSON(cmd, scans)
			}
			if len(scans) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scans recorded")
				return nil
			}

			rows := make([][]string, 0, len(scans))
			for _, s := range scans {
				detail := s.ServedBy
				if s.ErrorType != "" {
					detail = s.ErrorType
				}
				rows = append(rows, []string{
					s.StartedAt.Local().Format(time.DateTime),
					filepath.Base(s.FilePath),
					s.Status,
					strconv.Itoa(s.TotalChanges),
					detail,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.RenderTable(
				[]string{"Started", "Workbook", "Status", "Changes", "Engine/Error"},
				rows,
				[]console.Align{console.AlignLeft, console.AlignLeft, console.AlignLeft, console.AlignRight, console.AlignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&fileFilter, "file", "f", "", "Only show scans of this workbook")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of scans to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
