package engine_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"cellwatch/internal/engine"
	"cellwatch/internal/failure"
	"cellwatch/internal/snapshot"
	"cellwatch/internal/testsupport"
)

func fullOpts() engine.Options {
	return engine.Options{IncludeFormulas: true, IncludeValues: true, BatchSize: 2}
}

func TestExcelizeFullScanMergesPasses(t *testing.T) {
	path := testsupport.WriteWorkbook(t, t.TempDir(), "book.xlsx",
		testsupport.FixtureSheet{Name: "Prices", Cells: map[string]testsupport.FixtureCell{
			"A1": {Value: "item"},
			"B1": {Value: 4},
			"B2": {Value: 6},
			"B3": {Formula: "=SUM(B1:B2)"},
			"C5": {Value: true},
		}},
		testsupport.FixtureSheet{Name: "Empty"},
	)

	sheets, err := engine.NewExcelize(0).FullScan(context.Background(), path, fullOpts())
	if err != nil {
		t.Fatalf("FullScan: %v", err)
	}
	if _, ok := sheets["Empty"]; ok {
		t.Fatal("empty sheet should be omitted")
	}
	prices := sheets["Prices"]
	if got := prices["B3"].Formula; got != "=SUM(B1:B2)" {
		t.Fatalf("B3 formula %q", got)
	}
	if !snapshot.Equal(prices["B1"].Value, snapshot.Number(4)) {
		t.Fatalf("B1 value %+v", prices["B1"].Value)
	}
	if !snapshot.Equal(prices["A1"].Value, snapshot.Text("item")) {
		t.Fatalf("A1 value %+v", prices["A1"].Value)
	}
	if !snapshot.Equal(prices["C5"].Value, snapshot.Text("TRUE")) {
		t.Fatalf("C5 value %+v", prices["C5"].Value)
	}
	if len(prices) != 5 {
		t.Fatalf("expected 5 cells, got %d: %v", len(prices), prices)
	}
}

func TestExcelizeExtractValuesFiltersSheets(t *testing.T) {
	path := testsupport.WriteWorkbook(t, t.TempDir(), "book.xlsx",
		testsupport.FixtureSheet{Name: "One", Cells: map[string]testsupport.FixtureCell{"A1": {Value: 1}}},
		testsupport.FixtureSheet{Name: "Two", Cells: map[string]testsupport.FixtureCell{"A1": {Value: 2}}},
	)
	sheets, err := engine.NewExcelize(0).ExtractValues(context.Background(), path, []string{"Two"}, fullOpts())
	if err != nil {
		t.Fatalf("ExtractValues: %v", err)
	}
	if len(sheets) != 1 || !snapshot.Equal(sheets["Two"]["A1"].Value, snapshot.Number(2)) {
		t.Fatalf("unexpected sheets %v", sheets)
	}
}

func scanBoth(t *testing.T, path string, opts engine.Options) (lib, raw map[string]snapshot.Sheet) {
	t.Helper()
	lib, err := engine.NewExcelize(0).FullScan(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("excelize FullScan: %v", err)
	}
	raw, err = engine.NewXML(0).FullScan(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("xml FullScan: %v", err)
	}
	return lib, raw
}

func TestEnginesAgreeOnMergedRange(t *testing.T) {
	path := testsupport.WriteWorkbook(t, t.TempDir(), "merged.xlsx",
		testsupport.FixtureSheet{
			Name: "Sheet1",
			Cells: map[string]testsupport.FixtureCell{
				"A1": {Formula: "=1+1"},
				"D1": {Value: 7},
				"A3": {Value: "below"},
			},
			Merged: []string{"A1:C2"},
		},
	)

	lib, raw := scanBoth(t, path, fullOpts())
	if !reflect.DeepEqual(lib, raw) {
		t.Fatalf("engines disagree:\nexcelize %v\nxml      %v", lib, raw)
	}
	sheet := lib["Sheet1"]
	for _, addr := range []string{"B1", "C1", "A2", "B2", "C2"} {
		if _, ok := sheet[addr]; ok {
			t.Fatalf("merged follower %s reported: %+v", addr, sheet[addr])
		}
	}
	if sheet["A1"].Formula != "=1+1" || !snapshot.Equal(sheet["D1"].Value, snapshot.Number(7)) {
		t.Fatalf("unexpected sheet %v", sheet)
	}
}

func TestEnginesAgreeOnSharedFormulas(t *testing.T) {
	path := testsupport.RawWorkbook{
		Sheets: []testsupport.RawSheet{{Name: "Calc", SheetData: `<row r="1">` +
			`<c r="A1"><f t="shared" ref="A1:A3" si="0">B1+1</f><v>2</v></c><c r="B1"><v>1</v></c></row>` +
			`<row r="2"><c r="A2"><f t="shared" si="0"/><v>3</v></c><c r="B2"><v>2</v></c></row>` +
			`<row r="3"><c r="A3"><f t="shared" si="0"/><v>4</v></c><c r="B3"><v>3</v></c></row>`}},
	}.Write(t, t.TempDir(), "shared.xlsx")

	lib, raw := scanBoth(t, path, fullOpts())
	if !reflect.DeepEqual(lib, raw) {
		t.Fatalf("engines disagree:\nexcelize %v\nxml      %v", lib, raw)
	}
	for addr, want := range map[string]string{"A1": "=B1+1", "A2": "=B2+1", "A3": "=B3+1"} {
		if got := raw["Calc"][addr].Formula; got != want {
			t.Fatalf("%s formula %q, want %q", addr, got, want)
		}
	}
}

func TestExcelizeBatchSizeDoesNotChangeResult(t *testing.T) {
	cells := map[string]testsupport.FixtureCell{}
	for row := 1; row <= 7; row++ {
		cells[fmt.Sprintf("A%d", row)] = testsupport.FixtureCell{Value: row * 10}
		cells[fmt.Sprintf("C%d", row)] = testsupport.FixtureCell{Formula: fmt.Sprintf("=A%d*2", row)}
	}
	cells["B2"] = testsupport.FixtureCell{Value: "text"}
	cells["B5"] = testsupport.FixtureCell{Value: false}
	path := testsupport.WriteWorkbook(t, t.TempDir(), "rows.xlsx",
		testsupport.FixtureSheet{Name: "Rows", Cells: cells})

	var results []map[string]snapshot.Sheet
	for _, batch := range []int{0, 1, 3} {
		opts := fullOpts()
		opts.BatchSize = batch
		sheets, err := engine.NewExcelize(0).FullScan(context.Background(), path, opts)
		if err != nil {
			t.Fatalf("batch %d: FullScan: %v", batch, err)
		}
		results = append(results, sheets)
	}
	for i := 1; i < len(results); i++ {
		if !reflect.DeepEqual(results[0], results[i]) {
			t.Fatalf("batched result differs:\nunbatched %v\nbatched   %v", results[0], results[i])
		}
	}
	rows := results[0]["Rows"]
	if len(rows) != 16 {
		t.Fatalf("expected 16 cells, got %d: %v", len(rows), rows)
	}
	if !snapshot.Equal(rows["B5"].Value, snapshot.Text("FALSE")) || rows["C7"].Formula != "=A7*2" {
		t.Fatalf("unexpected cells B5=%+v C7=%+v", rows["B5"], rows["C7"])
	}
}

func TestXMLEngineKeepsCachedValues(t *testing.T) {
	path := testsupport.RawWorkbook{
		SharedStrings: []string{"label"},
		Sheets: []testsupport.RawSheet{{Name: "Calc", SheetData: `<row r="1">` +
			`<c r="A1" t="s"><v>0</v></c><c r="B1"><v>2</v></c><c r="C1"><f>B1*3</f><v>6</v></c>` +
			`</row>`}},
	}.Write(t, t.TempDir(), "raw.xlsx")

	sheets, err := engine.NewXML(0).FullScan(context.Background(), path, fullOpts())
	if err != nil {
		t.Fatalf("FullScan: %v", err)
	}
	c1 := sheets["Calc"]["C1"]
	if c1.Formula != "=B1*3" || !snapshot.Equal(c1.Cached, snapshot.Number(6)) || c1.Value != nil {
		t.Fatalf("unexpected C1 %+v", c1)
	}
	if !snapshot.Equal(sheets["Calc"]["A1"].Value, snapshot.Text("label")) {
		t.Fatalf("unexpected A1 %+v", sheets["Calc"]["A1"])
	}

	formulas, err := engine.NewXML(0).ExtractFormulas(context.Background(), path, engine.Options{})
	if err != nil {
		t.Fatalf("ExtractFormulas: %v", err)
	}
	if len(formulas["Calc"]) != 1 || formulas["Calc"]["C1"].Formula != "=B1*3" {
		t.Fatalf("expected only the formula cell, got %v", formulas["Calc"])
	}
}

func TestXMLEngineSafeModeSkipsBrokenSheet(t *testing.T) {
	path := testsupport.RawWorkbook{
		Sheets: []testsupport.RawSheet{
			{Name: "Good", SheetData: `<row r="1"><c r="A1"><v>1</v></c></row>`},
			{Name: "Bad"},
		},
		Parts: map[string]string{"xl/worksheets/sheet2.xml": `<worksheet><sheetData><row>`},
	}.Write(t, t.TempDir(), "broken.xlsx")

	opts := fullOpts()
	if _, err := engine.NewXML(0).FullScan(context.Background(), path, opts); !errors.Is(err, failure.ErrFormat) {
		t.Fatalf("strict mode should fail with format error, got %v", err)
	}

	opts.Safe = true
	sheets, err := engine.NewXML(0).FullScan(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("safe mode should not fail: %v", err)
	}
	if _, ok := sheets["Bad"]; ok {
		t.Fatal("broken sheet should be skipped")
	}
	if len(sheets["Good"]) != 1 {
		t.Fatalf("expected Good sheet to survive, got %v", sheets)
	}
}

func TestMergeCachedValueForFormulaCells(t *testing.T) {
	formulas := map[string]snapshot.Sheet{"S": {"A1": {Formula: "=1+1"}}}
	values := map[string]snapshot.Sheet{"S": {"A1": {Value: snapshot.Number(2)}, "A2": {Value: snapshot.Text("x")}}}
	merged := engine.Merge(formulas, values)
	if c := merged["S"]["A1"]; c.Formula != "=1+1" || !snapshot.Equal(c.Cached, snapshot.Number(2)) || c.Value != nil {
		t.Fatalf("unexpected A1 %+v", c)
	}
	if c := merged["S"]["A2"]; c.Formula != "" || !snapshot.Equal(c.Value, snapshot.Text("x")) {
		t.Fatalf("unexpected A2 %+v", c)
	}
}

func TestRegistryUnknownEngineIsLogicError(t *testing.T) {
	registry := engine.DefaultRegistry(time.Second, nil)
	if _, err := registry.Lookup("openpyxl"); !errors.Is(err, failure.ErrLogic) {
		t.Fatalf("expected logic error, got %v", err)
	}
	if _, err := registry.Lookup(" XML "); err != nil {
		t.Fatalf("lookup should normalize names: %v", err)
	}
}

func TestDefaultRegistryDisabledEngine(t *testing.T) {
	registry := engine.DefaultRegistry(time.Second, []string{engine.NameExcelize})
	e, err := registry.Lookup(engine.NameExcelize)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if err := e.Available(); failure.Kind(err) != failure.KindDependencyMissing {
		t.Fatalf("expected dependency_missing, got %v", err)
	}
}
