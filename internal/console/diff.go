package console

import (
	"fmt"
	"strconv"

	"cellwatch/internal/diff"
	"cellwatch/internal/snapshot"
)

// maxChangeRows caps the per-sheet change table.
const maxChangeRows = 50

// DiffReport renders a comparison as report lines: a sheet summary followed
// by one change table per modified sheet.
func DiffReport(title string, result *diff.Result, colorize bool) []string {
	lines := SectionHeader(title, colorize)
	if result == nil || !result.HasChanges {
		return append(lines, StatusLine("Changes", StatusOK, "none", colorize))
	}

	lines = append(lines, StatusLine("Changes", StatusWarn, strconv.Itoa(result.TotalChanges)+" cell(s)", colorize))
	for _, name := range result.SheetsAdded {
		lines = append(lines, StatusLine("Sheet added", StatusInfo, name, colorize))
	}
	for _, name := range result.SheetsRemoved {
		lines = append(lines, StatusLine("Sheet removed", StatusWarn, name, colorize))
	}

	for _, name := range result.SheetsModified {
		sheet := result.Sheets[name]
		rows := make([][]string, 0, min(len(sheet.Changes), maxChangeRows))
		for i, change := range sheet.Changes {
			if i == maxChangeRows {
				break
			}
			rows = append(rows, []string{
				change.Address,
				change.Change,
				formatCell(change.OldFormula, change.OldValue),
				formatCell(change.NewFormula, change.NewValue),
			})
		}
		lines = append(lines, "", fmt.Sprintf("%s (%d change(s))", name, sheet.ChangeCount))
		lines = append(lines, RenderTable([]string{"Cell", "Change", "Before", "After"}, rows, nil))
		if extra := len(sheet.Changes) - maxChangeRows; extra > 0 {
			lines = append(lines, fmt.Sprintf("... %d more", extra))
		}
	}
	return lines
}

func formatCell(formula string, value *snapshot.Value) string {
	switch {
	case formula != "" && value != nil:
		return formula + " -> " + value.String()
	case formula != "":
		return formula
	case value != nil:
		return value.String()
	default:
		return ""
	}
}
