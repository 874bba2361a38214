package xlsxml

import (
	"encoding/xml"
	"strings"

	"cellwatch/internal/snapshot"
)

// RawCell is one <c> element as stored in a worksheet part.
type RawCell struct {
	Ref      string
	Type     string
	Value    string
	HasValue bool
	Formula  string
}

// WalkCells streams every cell of sheet to fn in document order. Shared
// formula followers receive the master's formula translated to their own
// position.
func (r *Reader) WalkCells(sheet SheetRef, fn func(RawCell) error) error {
	var (
		cell     RawCell
		inCell   bool
		field    string // "v", "f", or "t" inside an inline string
		text     strings.Builder
		sharedID string
		master   bool
		shared   = map[string]sharedMaster{}
	)
	return r.decode(sheet.Part, func(_ *xml.Decoder, tok xml.Token) error {
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "c":
				cell = RawCell{}
				inCell = true
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "r":
						cell.Ref = attr.Value
					case "t":
						cell.Type = attr.Value
					}
				}
			case "v", "t":
				if inCell {
					field = t.Name.Local
					text.Reset()
				}
			case "f":
				if inCell {
					field = "f"
					text.Reset()
					sharedID, master = "", false
					var isShared bool
					for _, attr := range t.Attr {
						switch attr.Name.Local {
						case "t":
							isShared = attr.Value == "shared"
						case "si":
							sharedID = attr.Value
						case "ref":
							master = attr.Value != ""
						}
					}
					if !isShared {
						sharedID = ""
					}
				}
			}
		case xml.CharData:
			if field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v":
				if inCell && field == "v" {
					cell.Value = text.String()
					cell.HasValue = true
				}
				field = ""
			case "t":
				if inCell && field == "t" {
					cell.Value += text.String()
					cell.HasValue = true
				}
				field = ""
			case "f":
				if inCell && field == "f" {
					formula := strings.TrimSpace(text.String())
					if sharedID != "" {
						if master && formula != "" {
							col, row, _ := snapshot.SplitRef(cell.Ref)
							shared[sharedID] = sharedMaster{text: formula, col: col, row: row}
						}
						if m, ok := shared[sharedID]; ok {
							formula = m.translate(cell.Ref)
						}
					}
					cell.Formula = formula
				}
				field = ""
			case "c":
				inCell = false
				return fn(cell)
			}
		}
		return nil
	})
}

// ResolveValue converts a raw cell into a typed scalar, looking shared
// strings up in table. Cells without a value node yield nil.
func ResolveValue(cell RawCell, table []string) *snapshot.Value {
	if !cell.HasValue {
		return nil
	}
	raw := cell.Value
	if cell.Type == "s" {
		raw = SharedString(table, raw)
	}
	return snapshot.ParseScalar(raw, cell.Type)
}

// FormulaText returns the formula in "=expr" form, or "" when the cell has
// none.
func FormulaText(cell RawCell) string {
	if cell.Formula == "" {
		return ""
	}
	if strings.HasPrefix(cell.Formula, "=") {
		return cell.Formula
	}
	return "=" + cell.Formula
}
