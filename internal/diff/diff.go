// Package diff computes cell-level change reports between two snapshots.
package diff

import (
	"cellwatch/internal/snapshot"
)

// Change kinds carried by a ChangeRecord.
const (
	Added    = "added"
	Removed  = "removed"
	Modified = "modified"
)

// ChangeRecord describes one changed cell.
type ChangeRecord struct {
	Address        string          `json:"address"`
	Change         string          `json:"change"`
	OldFormula     string          `json:"old_formula,omitempty"`
	NewFormula     string          `json:"new_formula,omitempty"`
	OldValue       *snapshot.Value `json:"old_value,omitempty"`
	NewValue       *snapshot.Value `json:"new_value,omitempty"`
	FormulaChanged bool            `json:"formula_changed"`
	ValueChanged   bool            `json:"value_changed"`
}

// SheetDiff is the cell-level comparison of one sheet present in both
// snapshots.
type SheetDiff struct {
	CellsAdded    []string       `json:"cells_added"`
	CellsRemoved  []string       `json:"cells_removed"`
	CellsModified []string       `json:"cells_modified"`
	Changes       []ChangeRecord `json:"changes"`
	ChangeCount   int            `json:"change_count"`
}

// Result is the comparison of two snapshots.
type Result struct {
	SheetsAdded    []string             `json:"sheets_added"`
	SheetsRemoved  []string             `json:"sheets_removed"`
	SheetsModified []string             `json:"sheets_modified"`
	TotalChanges   int                  `json:"total_changes"`
	HasChanges     bool                 `json:"has_changes"`
	Sheets         map[string]SheetDiff `json:"sheet_diffs"`
}

// Compare reports what changed from prev to next. Nil snapshots compare as
// empty.
func Compare(prev, next *snapshot.Baseline) *Result {
	oldCells, newCells := cellsOf(prev), cellsOf(next)
	result := &Result{
		SheetsAdded:    []string{},
		SheetsRemoved:  []string{},
		SheetsModified: []string{},
		Sheets:         map[string]SheetDiff{},
	}

	for _, name := range unionKeys(oldCells, newCells) {
		before, inOld := oldCells[name]
		after, inNew := newCells[name]
		switch {
		case !inOld:
			result.SheetsAdded = append(result.SheetsAdded, name)
		case !inNew:
			result.SheetsRemoved = append(result.SheetsRemoved, name)
		default:
			sheet := CompareSheet(before, after)
			if sheet.ChangeCount > 0 {
				result.SheetsModified = append(result.SheetsModified, name)
				result.Sheets[name] = sheet
				result.TotalChanges += sheet.ChangeCount
			}
		}
	}
	snapshot.SortNames(result.SheetsAdded)
	snapshot.SortNames(result.SheetsRemoved)
	snapshot.SortNames(result.SheetsModified)

	result.HasChanges = len(result.SheetsAdded) > 0 || len(result.SheetsRemoved) > 0 || len(result.SheetsModified) > 0
	return result
}

// CompareSheet diffs two versions of one sheet.
func CompareSheet(prev, next snapshot.Sheet) SheetDiff {
	out := SheetDiff{
		CellsAdded:    []string{},
		CellsRemoved:  []string{},
		CellsModified: []string{},
		Changes:       []ChangeRecord{},
	}
	addrs := unionKeys(prev, next)
	snapshot.SortAddresses(addrs)

	for _, addr := range addrs {
		before, inOld := prev[addr]
		after, inNew := next[addr]
		switch {
		case !inOld:
			out.CellsAdded = append(out.CellsAdded, addr)
			out.Changes = append(out.Changes, ChangeRecord{
				Address:        addr,
				Change:         Added,
				NewFormula:     after.Formula,
				NewValue:       after.EffectiveValue(),
				FormulaChanged: after.Formula != "",
				ValueChanged:   after.EffectiveValue() != nil,
			})
		case !inNew:
			out.CellsRemoved = append(out.CellsRemoved, addr)
			out.Changes = append(out.Changes, ChangeRecord{
				Address:        addr,
				Change:         Removed,
				OldFormula:     before.Formula,
				OldValue:       before.EffectiveValue(),
				FormulaChanged: before.Formula != "",
				ValueChanged:   before.EffectiveValue() != nil,
			})
		default:
			formulaChanged := before.Formula != after.Formula
			valueChanged := !snapshot.Equal(before.EffectiveValue(), after.EffectiveValue())
			if !formulaChanged && !valueChanged {
				continue
			}
			out.CellsModified = append(out.CellsModified, addr)
			out.Changes = append(out.Changes, ChangeRecord{
				Address:        addr,
				Change:         Modified,
				OldFormula:     before.Formula,
				NewFormula:     after.Formula,
				OldValue:       before.EffectiveValue(),
				NewValue:       after.EffectiveValue(),
				FormulaChanged: formulaChanged,
				ValueChanged:   valueChanged,
			})
		}
	}
	out.ChangeCount = len(out.CellsAdded) + len(out.CellsRemoved) + len(out.CellsModified)
	return out
}

func cellsOf(b *snapshot.Baseline) map[string]snapshot.Sheet {
	if b == nil || b.Cells == nil {
		return map[string]snapshot.Sheet{}
	}
	return b.Cells
}

func unionKeys[V any](a, b map[string]V) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}
