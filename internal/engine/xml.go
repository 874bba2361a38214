package engine

import (
	"context"
	"time"

	"cellwatch/internal/logging"
	"cellwatch/internal/snapshot"
	"cellwatch/internal/xlsxml"
)

// XMLEngine reads workbooks straight from their archive parts in a single
// streaming pass.
type XMLEngine struct {
	timeout time.Duration
}

// NewXML returns the archive/XML engine.
func NewXML(timeout time.Duration) *XMLEngine {
	return &XMLEngine{timeout: timeout}
}

func (e *XMLEngine) Name() string           { return NameXML }
func (e *XMLEngine) Available() error       { return nil }
func (e *XMLEngine) Timeout() time.Duration { return e.timeout }

func (e *XMLEngine) ExtractValues(ctx context.Context, path string, sheets []string, opts Options) (map[string]snapshot.Sheet, error) {
	opts.IncludeFormulas, opts.IncludeValues = false, true
	return e.scan(ctx, path, sheets, opts)
}

func (e *XMLEngine) ExtractFormulas(ctx context.Context, path string, opts Options) (map[string]snapshot.Sheet, error) {
	opts.IncludeFormulas, opts.IncludeValues = true, false
	return e.scan(ctx, path, nil, opts)
}

func (e *XMLEngine) FullScan(ctx context.Context, path string, opts Options) (map[string]snapshot.Sheet, error) {
	return e.scan(ctx, path, nil, opts)
}

func (e *XMLEngine) scan(ctx context.Context, path string, targets []string, opts Options) (map[string]snapshot.Sheet, error) {
	logger := opts.logger()
	reader, err := xlsxml.Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var table []string
	if opts.IncludeValues {
		table, err = reader.SharedStrings()
		if err != nil {
			if !opts.Safe {
				return nil, err
			}
			logging.WarnWithContext(logger, "shared strings unreadable", "shared_strings_skipped",
				logging.Error(err),
				logging.String(logging.FieldImpact, "text cells resolve to empty strings"),
			)
		}
	}

	sheets, err := reader.Sheets()
	if err != nil {
		return nil, err
	}

	out := map[string]snapshot.Sheet{}
	for _, sheet := range sheets {
		if !wantSheet(targets, sheet.Name) {
			continue
		}
		if err := contextFailure(ctx, NameXML, "scan "+sheet.Name); err != nil {
			return nil, err
		}
		cells := snapshot.Sheet{}
		err := reader.WalkCells(sheet, func(raw xlsxml.RawCell) error {
			if raw.Ref == "" {
				return nil
			}
			var cell snapshot.Cell
			var value *snapshot.Value
			if opts.IncludeValues {
				value = xlsxml.ResolveValue(raw, table)
			}
			if formula := xlsxml.FormulaText(raw); opts.IncludeFormulas && formula != "" {
				cell.Formula = formula
				cell.Cached = value
			} else {
				cell.Value = value
			}
			if !cell.Empty() {
				cells[raw.Ref] = cell
			}
			return nil
		})
		if err != nil {
			if !opts.Safe {
				return nil, err
			}
			logging.WarnWithContext(logger, "sheet skipped", "sheet_skipped",
				logging.String(logging.FieldEngine, NameXML),
				logging.String("sheet", sheet.Name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "sheet omitted from snapshot"),
			)
			continue
		}
		if len(cells) > 0 {
			out[sheet.Name] = cells
		}
	}
	return out, nil
}
