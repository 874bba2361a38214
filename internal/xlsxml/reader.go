// Package xlsxml reads spreadsheet workbooks directly from their zip+XML
// parts: shared strings, the sheet list, per-cell records, external link
// targets, and core document properties.
package xlsxml

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"

	"cellwatch/internal/failure"
)

const (
	partWorkbook      = "xl/workbook.xml"
	partWorkbookRels  = "xl/_rels/workbook.xml.rels"
	partSharedStrings = "xl/sharedStrings.xml"
	partCore          = "docProps/core.xml"
)

// Reader gives access to the parts of one workbook archive.
type Reader struct {
	path    string
	archive *zip.ReadCloser
	parts   map[string]*zip.File
}

// Open opens the workbook archive at filePath.
func Open(filePath string) (*Reader, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, failure.Wrap(failure.ErrIO, "xlsxml", "open", filePath, err)
	}
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, failure.Wrap(failure.ErrFormat, "xlsxml", "open", filePath, err)
	}
	parts := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		parts[strings.TrimPrefix(f.Name, "/")] = f
	}
	return &Reader{path: filePath, archive: archive, parts: parts}, nil
}

// Close releases the archive.
func (r *Reader) Close() error {
	if r == nil || r.archive == nil {
		return nil
	}
	return r.archive.Close()
}

// Path returns the workbook path the reader was opened with.
func (r *Reader) Path() string { return r.path }

func (r *Reader) has(name string) bool {
	_, ok := r.parts[name]
	return ok
}

// decode streams the tokens of one archive member to fn.
func (r *Reader) decode(name string, fn func(*xml.Decoder, xml.Token) error) error {
	file, ok := r.parts[name]
	if !ok {
		return failure.Wrap(failure.ErrFormat, "xlsxml", "read part", "missing archive member "+name, fs.ErrNotExist)
	}
	rc, err := file.Open()
	if err != nil {
		return failure.Wrap(failure.ErrFormat, "xlsxml", "read part", name, err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	decoder.Strict = true
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return failure.Wrap(failure.ErrFormat, "xlsxml", "parse part", name, err)
		}
		if err := fn(decoder, tok); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
}

var errStop = errors.New("stop")

// SharedStrings returns the shared-string table. A workbook without the
// part has an empty table.
func (r *Reader) SharedStrings() ([]string, error) {
	if !r.has(partSharedStrings) {
		return nil, nil
	}
	var (
		table   []string
		current strings.Builder
		inItem  bool
		inText  bool
		depth   int // nesting inside phonetic runs, which are not part of the text
	)
	err := r.decode(partSharedStrings, func(_ *xml.Decoder, tok xml.Token) error {
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inItem = true
				current.Reset()
			case "rPh":
				depth++
			case "t":
				inText = inItem && depth == 0
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				table = append(table, current.String())
				inItem = false
			case "rPh":
				depth--
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

// SharedString resolves a shared-string index; an out-of-range or
// malformed index yields "".
func SharedString(table []string, index string) string {
	n, err := strconv.Atoi(strings.TrimSpace(index))
	if err != nil || n < 0 || n >= len(table) {
		return ""
	}
	return table[n]
}

// SheetRef names a worksheet and the archive member holding its cells.
type SheetRef struct {
	Name string
	Part string
}

// Sheets returns the workbook's sheets in workbook order. Each sheet maps to
// xl/worksheets/sheet<N>.xml by position; the workbook relationships are
// consulted only when the positional part does not exist.
func (r *Reader) Sheets() ([]SheetRef, error) {
	type entry struct{ name, relID string }
	var entries []entry
	err := r.decode(partWorkbook, func(_ *xml.Decoder, tok xml.Token) error {
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "sheet" {
			return nil
		}
		var e entry
		for _, attr := range start.Attr {
			switch {
			case attr.Name.Local == "name":
				e.name = attr.Value
			case attr.Name.Local == "id" && attr.Name.Space != "":
				e.relID = attr.Value
			}
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var rels map[string]string
	sheets := make([]SheetRef, 0, len(entries))
	for i, e := range entries {
		part := fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1)
		if !r.has(part) && e.relID != "" {
			if rels == nil {
				rels, _ = r.relationships(partWorkbookRels, "xl")
			}
			if target, ok := rels[e.relID]; ok {
				part = target
			}
		}
		sheets = append(sheets, SheetRef{Name: e.name, Part: part})
	}
	return sheets, nil
}

// relationships maps relationship IDs to targets resolved against baseDir.
func (r *Reader) relationships(relsPart, baseDir string) (map[string]string, error) {
	out := map[string]string{}
	if !r.has(relsPart) {
		return out, nil
	}
	err := r.decode(relsPart, func(_ *xml.Decoder, tok xml.Token) error {
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Relationship" {
			return nil
		}
		var id, target, mode string
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "Id":
				id = attr.Value
			case "Target":
				target = attr.Value
			case "TargetMode":
				mode = attr.Value
			}
		}
		if id == "" || target == "" {
			return nil
		}
		if mode != "External" && baseDir != "" {
			if strings.HasPrefix(target, "/") {
				target = strings.TrimPrefix(target, "/")
			} else {
				target = path.Clean(path.Join(baseDir, target))
			}
		}
		out[id] = target
		return nil
	})
	return out, err
}
