package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"cellwatch/internal/failure"
	"cellwatch/internal/logging"
	"cellwatch/internal/snapshot"
)

// ExcelizeEngine reads workbooks through the excelize library. Formulas and
// values are read in two separate passes over two separate opens.
type ExcelizeEngine struct {
	timeout time.Duration
}

// NewExcelize returns the library-backed engine.
func NewExcelize(timeout time.Duration) *ExcelizeEngine {
	return &ExcelizeEngine{timeout: timeout}
}

func (e *ExcelizeEngine) Name() string           { return NameExcelize }
func (e *ExcelizeEngine) Available() error       { return nil }
func (e *ExcelizeEngine) Timeout() time.Duration { return e.timeout }

func (e *ExcelizeEngine) open(path string) (*excelize.File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, failure.Wrap(failure.ErrIO, NameExcelize, "open", path, err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "open", path, err)
	}
	return f, nil
}

// FullScan runs the formula pass and the value pass and merges them.
func (e *ExcelizeEngine) FullScan(ctx context.Context, path string, opts Options) (map[string]snapshot.Sheet, error) {
	var formulas, values map[string]snapshot.Sheet
	var err error
	if opts.IncludeFormulas {
		if formulas, err = e.ExtractFormulas(ctx, path, opts); err != nil {
			return nil, err
		}
	}
	if opts.IncludeValues {
		if values, err = e.ExtractValues(ctx, path, nil, opts); err != nil {
			return nil, err
		}
	}
	return Merge(formulas, values), nil
}

// ExtractFormulas streams row addresses and asks the worksheet model for
// the formula of each one. Cells covered by a merged range other than its
// top-left cell are skipped, since the library redirects them to the
// top-left cell.
func (e *ExcelizeEngine) ExtractFormulas(ctx context.Context, path string, opts Options) (map[string]snapshot.Sheet, error) {
	f, err := e.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return e.eachSheet(ctx, f, nil, opts, false, func(sheet string) (chunkFunc, error) {
		// The row iterator must exist before the worksheet model is loaded.
		merged, err := f.GetMergeCells(sheet, true)
		if err != nil {
			return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "merged cells", sheet, err)
		}
		covered, err := mergeFollowers(merged)
		if err != nil {
			return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "merged cells", sheet, err)
		}
		return func(rows []sheetRow) (snapshot.Sheet, error) {
			out := snapshot.Sheet{}
			for _, row := range rows {
				for i := range row.raw {
					if covered[cellKey{col: i + 1, row: row.num}] {
						continue
					}
					addr, err := excelize.CoordinatesToCellName(i+1, row.num)
					if err != nil {
						return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "address", sheet, err)
					}
					formula, err := f.GetCellFormula(sheet, addr)
					if err != nil {
						if err := skipCell(opts, sheet, addr, failure.Wrap(failure.ErrFormat, NameExcelize, "read formula", sheet+"!"+addr, err)); err != nil {
							return nil, err
						}
						continue
					}
					if formula == "" {
						continue
					}
					if !strings.HasPrefix(formula, "=") {
						formula = "=" + formula
					}
					out[addr] = snapshot.Cell{Formula: formula}
				}
			}
			return out, nil
		}, nil
	})
}

// ExtractValues streams each sheet twice in lockstep, once with raw stored
// text and once rendered through number formats, and types every cell from
// the pair. No worksheet model is loaded.
func (e *ExcelizeEngine) ExtractValues(ctx context.Context, path string, sheets []string, opts Options) (map[string]snapshot.Sheet, error) {
	f, err := e.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return e.eachSheet(ctx, f, sheets, opts, true, func(sheet string) (chunkFunc, error) {
		return func(rows []sheetRow) (snapshot.Sheet, error) {
			out := snapshot.Sheet{}
			for _, row := range rows {
				for i, raw := range row.raw {
					if raw == "" {
						continue
					}
					addr, err := excelize.CoordinatesToCellName(i+1, row.num)
					if err != nil {
						return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "address", sheet, err)
					}
					var formatted string
					if i < len(row.formatted) {
						formatted = row.formatted[i]
					}
					out[addr] = snapshot.Cell{Value: snapshot.ParseScalar(raw, inferType(raw, formatted))}
				}
			}
			return out, nil
		}, nil
	})
}

// sheetRow is one streamed worksheet row. formatted is only filled when the
// pass asked for it.
type sheetRow struct {
	num       int
	raw       []string
	formatted []string
}

// chunkFunc converts one batch of rows into cells independently of every
// other batch.
type chunkFunc func(rows []sheetRow) (snapshot.Sheet, error)

// prepareFunc is called once per sheet, after its row iterators are open.
type prepareFunc func(sheet string) (chunkFunc, error)

func (e *ExcelizeEngine) eachSheet(ctx context.Context, f *excelize.File, targets []string, opts Options, formatted bool, prepare prepareFunc) (map[string]snapshot.Sheet, error) {
	logger := opts.logger()
	out := map[string]snapshot.Sheet{}
	for _, name := range f.GetSheetList() {
		if !wantSheet(targets, name) {
			continue
		}
		cells, err := e.scanSheet(ctx, f, name, opts, formatted, prepare)
		if err != nil {
			if failure.Kind(err) == failure.KindTimeout || !opts.Safe {
				return nil, err
			}
			logging.WarnWithContext(logger, "sheet skipped", "sheet_skipped",
				logging.String(logging.FieldEngine, NameExcelize),
				logging.String("sheet", name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "sheet omitted from snapshot"),
			)
			continue
		}
		if len(cells) > 0 {
			out[name] = cells
		}
	}
	return out, nil
}

// scanSheet streams rows into a buffer of at most BatchSize rows. Each full
// buffer is converted on its own, merged into the sheet result and released
// before more rows are read.
func (e *ExcelizeEngine) scanSheet(ctx context.Context, f *excelize.File, sheet string, opts Options, withFormatted bool, prepare prepareFunc) (snapshot.Sheet, error) {
	rawRows, err := f.Rows(sheet)
	if err != nil {
		return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "rows", sheet, err)
	}
	defer rawRows.Close()

	var fmtRows *excelize.Rows
	if withFormatted {
		if fmtRows, err = f.Rows(sheet); err != nil {
			return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "rows", sheet, err)
		}
		defer fmtRows.Close()
	}

	convert, err := prepare(sheet)
	if err != nil {
		return nil, err
	}

	batch := opts.BatchSize
	out := snapshot.Sheet{}
	var buf []sheetRow
	batches := 0
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		chunk, err := convert(buf)
		if err != nil {
			return err
		}
		for addr, cell := range chunk {
			out[addr] = cell
		}
		clear(buf)
		buf = buf[:0]
		batches++
		return nil
	}

	rowNum := 0
	for rawRows.Next() {
		rowNum++
		if err := contextFailure(ctx, NameExcelize, "scan "+sheet); err != nil {
			return nil, err
		}
		row := sheetRow{num: rowNum}
		if row.raw, err = rawRows.Columns(excelize.Options{RawCellValue: true}); err != nil {
			return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "read row", fmt.Sprintf("%s row %d", sheet, rowNum), err)
		}
		if fmtRows != nil {
			if !fmtRows.Next() {
				return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "read row", fmt.Sprintf("%s row %d", sheet, rowNum), fmt.Errorf("row iterators diverged"))
			}
			if row.formatted, err = fmtRows.Columns(); err != nil {
				return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "read row", fmt.Sprintf("%s row %d", sheet, rowNum), err)
			}
		}
		if len(row.raw) == 0 {
			continue
		}
		buf = append(buf, row)
		if batch > 0 && len(buf) >= batch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := rawRows.Error(); err != nil {
		return nil, failure.Wrap(failure.ErrFormat, NameExcelize, "rows", sheet, err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	opts.logger().Debug("sheet scanned",
		logging.String(logging.FieldEngine, NameExcelize),
		logging.String("sheet", sheet),
		logging.Int("rows", rowNum),
		logging.Int("batches", batches),
		logging.Int("cells", len(out)),
	)
	return out, nil
}

// skipCell returns nil when a per-cell failure may be dropped.
func skipCell(opts Options, sheet, addr string, err error) error {
	if !opts.Safe || failure.Kind(err) == failure.KindTimeout {
		return err
	}
	opts.logger().Debug("cell skipped", logging.String("sheet", sheet), logging.String("cell", addr), logging.Error(err))
	return nil
}

type cellKey struct{ col, row int }

// mergeFollowers lists every cell inside a merged range except the range's
// top-left cell.
func mergeFollowers(ranges []excelize.MergeCell) (map[cellKey]bool, error) {
	covered := map[cellKey]bool{}
	for _, m := range ranges {
		c1, r1, err := excelize.CellNameToCoordinates(m.GetStartAxis())
		if err != nil {
			return nil, err
		}
		c2, r2, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil {
			return nil, err
		}
		c1, c2 = min(c1, c2), max(c1, c2)
		r1, r2 = min(r1, r2), max(r1, r2)
		for r := r1; r <= r2; r++ {
			for c := c1; c <= c2; c++ {
				if c == c1 && r == r1 {
					continue
				}
				covered[cellKey{col: c, row: r}] = true
			}
		}
	}
	return covered, nil
}

// inferType recovers the stored type code from a cell's raw text and its
// rendered text. Booleans render as TRUE/FALSE; date cells store ISO text
// but render as a serial or a formatted date. Anything else is treated as
// untyped.
func inferType(raw, formatted string) string {
	switch {
	case raw == "1" && formatted == "TRUE", raw == "0" && formatted == "FALSE":
		return "b"
	case raw != formatted && snapshot.ParseScalar(raw, "d").Kind == snapshot.KindTime:
		return "d"
	default:
		return ""
	}
}
