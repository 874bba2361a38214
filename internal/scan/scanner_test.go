package scan_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cellwatch/internal/config"
	"cellwatch/internal/failure"
	"cellwatch/internal/history"
	"cellwatch/internal/scan"
	"cellwatch/internal/task"
	"cellwatch/internal/testsupport"
	"cellwatch/internal/worker"
)

// inProcess runs tasks on an executor in the test process.
type inProcess struct {
	exec *worker.Executor

	mu    sync.Mutex
	kinds []task.Kind
}

func (p *inProcess) Submit(ctx context.Context, t task.Task, safe bool) task.Response {
	p.mu.Lock()
	p.kinds = append(p.kinds, t.Kind())
	p.mu.Unlock()
	req, err := task.NewRequest(t, safe, 1)
	if err != nil {
		return task.Failed(1, err, "")
	}
	return p.exec.Execute(ctx, req)
}

func (p *inProcess) saw(kind task.Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func newScanner(t *testing.T, cfg *config.Config, opts ...scan.Option) (*scan.Scanner, *inProcess) {
	t.Helper()
	sub := &inProcess{exec: worker.NewExecutor(cfg, nil)}
	return scan.New(cfg, sub, nil, opts...), sub
}

func writeBook(t *testing.T, dir string, value any) string {
	t.Helper()
	return testsupport.WriteWorkbook(t, dir, "book.xlsx", testsupport.FixtureSheet{
		Name: "Data",
		Cells: map[string]testsupport.FixtureCell{
			"A1": {Value: value},
			"B1": {Formula: "=A1*2"},
		},
	})
}

func TestFirstScanCreatesBaseline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ledger := testsupport.MustOpenHistory(t, cfg)
	scanner, _ := newScanner(t, cfg, scan.WithHistory(ledger))

	path := writeBook(t, t.TempDir(), 10)
	out := scanner.ScanFile(context.Background(), path)
	if out.Err != nil {
		t.Fatalf("scan failed: %v", out.Err)
	}
	if out.Status != history.StatusBaselined {
		t.Fatalf("status = %q", out.Status)
	}
	if _, err := os.Stat(out.BaselinePath); err != nil {
		t.Fatalf("baseline not written: %v", err)
	}
	if len(out.Diff.SheetsAdded) != 1 || out.Diff.SheetsAdded[0] != "Data" {
		t.Fatalf("first scan should add the sheet: %+v", out.Diff)
	}

	rows, err := ledger.List(context.Background(), history.ListOptions{})
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected one history row, got %d (%v)", len(rows), err)
	}
	if rows[0].ID != out.ID || rows[0].Status != history.StatusBaselined {
		t.Fatalf("unexpected history row %+v", rows[0])
	}
}

func TestRescanDetectsChanges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	scanner, _ := newScanner(t, cfg)
	dir := t.TempDir()

	first := scanner.ScanFile(context.Background(), writeBook(t, dir, 10))
	if first.Err != nil {
		t.Fatalf("first scan: %v", first.Err)
	}
	again := scanner.ScanFile(context.Background(), filepath.Join(dir, "book.xlsx"))
	if again.Err != nil || again.Status != history.StatusUnchanged {
		t.Fatalf("expected unchanged rescan, got %q (%v)", again.Status, again.Err)
	}

	changed := scanner.ScanFile(context.Background(), writeBook(t, dir, 11))
	if changed.Err != nil {
		t.Fatalf("changed scan: %v", changed.Err)
	}
	if changed.Status != history.StatusChanged || changed.Diff.TotalChanges != 1 {
		t.Fatalf("expected one change, got %q %+v", changed.Status, changed.Diff)
	}
	sheet := changed.Diff.Sheets["Data"]
	if len(sheet.CellsModified) != 1 || sheet.CellsModified[0] != "A1" {
		t.Fatalf("unexpected modified cells %v", sheet.CellsModified)
	}

	final := scanner.ScanFile(context.Background(), filepath.Join(dir, "book.xlsx"))
	if final.Status != history.StatusUnchanged {
		t.Fatalf("baseline should have been updated, got %q", final.Status)
	}
}

func TestFailuresAreIsolatedPerFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ledger := testsupport.MustOpenHistory(t, cfg)

	var mu sync.Mutex
	reported := 0
	scanner, _ := newScanner(t, cfg, scan.WithHistory(ledger), scan.WithConcurrency(2), scan.WithReporter(func(scan.Outcome) {
		mu.Lock()
		reported++
		mu.Unlock()
	}))

	good := writeBook(t, t.TempDir(), 1)
	missing := filepath.Join(t.TempDir(), "missing.xlsx")
	outcomes := scanner.ScanFiles(context.Background(), []string{missing, good})

	if len(outcomes) != 2 || reported != 2 {
		t.Fatalf("expected two outcomes and reports, got %d/%d", len(outcomes), reported)
	}
	if !errors.Is(outcomes[0].Err, failure.ErrIO) || outcomes[0].Status != history.StatusFailed {
		t.Fatalf("missing file should fail with io error: %+v", outcomes[0])
	}
	if outcomes[0].ErrorType() != failure.KindIO {
		t.Fatalf("error type = %q", outcomes[0].ErrorType())
	}
	if outcomes[1].Err != nil || outcomes[1].Status != history.StatusBaselined {
		t.Fatalf("good file should still be baselined: %+v", outcomes[1])
	}

	rows, _ := ledger.List(context.Background(), history.ListOptions{FilePath: outcomes[0].FilePath})
	if len(rows) != 1 || rows[0].ErrorType != failure.KindIO {
		t.Fatalf("failure not recorded: %+v", rows)
	}
}

func TestValidationCanBeDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Baseline.Validate = false
	scanner, sub := newScanner(t, cfg)
	out := scanner.ScanFile(context.Background(), writeBook(t, t.TempDir(), "x"))
	if out.Err != nil {
		t.Fatalf("scan: %v", out.Err)
	}
	if sub.saw(task.KindValidateBaseline) {
		t.Fatal("validation task should not run when disabled")
	}
}
