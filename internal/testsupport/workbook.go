package testsupport

import (
	"archive/zip"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// FixtureCell describes one cell written into a generated workbook.
type FixtureCell struct {
	Formula string
	Value   any
}

// FixtureSheet is an ordered sheet for WriteWorkbook.
type FixtureSheet struct {
	Name  string
	Cells map[string]FixtureCell
	// Merged lists ranges such as "A1:C1".
	Merged []string
}

// WriteWorkbook builds a real .xlsx with excelize and returns its path.
func WriteWorkbook(t testing.TB, dir, name string, sheets ...FixtureSheet) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.Name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			t.Fatalf("new sheet %s: %v", sheet.Name, err)
		}
		for addr, cell := range sheet.Cells {
			if cell.Value != nil {
				if err := f.SetCellValue(sheet.Name, addr, cell.Value); err != nil {
					t.Fatalf("set %s!%s: %v", sheet.Name, addr, err)
				}
			}
			if cell.Formula != "" {
				if err := f.SetCellFormula(sheet.Name, addr, strings.TrimPrefix(cell.Formula, "=")); err != nil {
					t.Fatalf("set formula %s!%s: %v", sheet.Name, addr, err)
				}
			}
		}
		for _, ref := range sheet.Merged {
			start, end, _ := strings.Cut(ref, ":")
			if err := f.MergeCell(sheet.Name, start, end); err != nil {
				t.Fatalf("merge %s!%s: %v", sheet.Name, ref, err)
			}
		}
	}

	path := filepath.Join(dir, name)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

// RawSheet is a worksheet given as the inner XML of <sheetData>.
type RawSheet struct {
	Name      string
	SheetData string
}

// RawWorkbook assembles a minimal workbook archive by hand, for cases
// excelize would normalize away: cached formula values, shared formulas,
// external links, and deliberately broken parts.
type RawWorkbook struct {
	Sheets        []RawSheet
	SharedStrings []string
	// Parts adds or replaces archive members verbatim.
	Parts map[string]string
	// Omit drops generated members by name.
	Omit []string
}

// Write stores the archive under dir/name and returns its path.
func (w RawWorkbook) Write(t testing.TB, dir, name string) string {
	t.Helper()

	parts := map[string]string{
		"[Content_Types].xml": contentTypes(len(w.Sheets), len(w.SharedStrings) > 0),
		"_rels/.rels": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/></Relationships>`,
	}

	var sheetsXML, relsXML strings.Builder
	for i, sheet := range w.Sheets {
		n := i + 1
		fmt.Fprintf(&sheetsXML, `<sheet name="%s" sheetId="%d" r:id="rId%d"/>`, html.EscapeString(sheet.Name), n, n)
		fmt.Fprintf(&relsXML, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet%d.xml"/>`, n, n)
		parts[fmt.Sprintf("xl/worksheets/sheet%d.xml", n)] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>` + sheet.SheetData + `</sheetData></worksheet>`
	}
	if len(w.SharedStrings) > 0 {
		n := len(w.Sheets) + 1
		fmt.Fprintf(&relsXML, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/sharedStrings" Target="sharedStrings.xml"/>`, n)
		var sst strings.Builder
		for _, s := range w.SharedStrings {
			fmt.Fprintf(&sst, "<si><t>%s</t></si>", html.EscapeString(s))
		}
		parts["xl/sharedStrings.xml"] = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="%d" uniqueCount="%d">%s</sst>`, len(w.SharedStrings), len(w.SharedStrings), sst.String())
	}
	parts["xl/workbook.xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><sheets>` + sheetsXML.String() + `</sheets></workbook>`
	parts["xl/_rels/workbook.xml.rels"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` + relsXML.String() + `</Relationships>`

	for k, v := range w.Parts {
		parts[k] = v
	}
	for _, k := range w.Omit {
		delete(parts, k)
	}

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()

	zw := zip.NewWriter(file)
	for partName, body := range parts {
		entry, err := zw.Create(partName)
		if err != nil {
			t.Fatalf("zip entry %s: %v", partName, err)
		}
		if _, err := entry.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", partName, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return path
}

func contentTypes(sheets int, sharedStrings bool) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>`)
	for i := 1; i <= sheets; i++ {
		fmt.Fprintf(&b, `<Override PartName="/xl/worksheets/sheet%d.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/>`, i)
	}
	if sharedStrings {
		b.WriteString(`<Override PartName="/xl/sharedStrings.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sharedStrings+xml"/>`)
	}
	b.WriteString(`</Types>`)
	return b.String()
}
