package xlsxml

import (
	"strconv"
	"strings"

	"github.com/xuri/efp"

	"cellwatch/internal/snapshot"
)

// sharedMaster is the cell that carries the text of a shared formula group.
type sharedMaster struct {
	text     string
	col, row int
}

// translate renders the master formula as seen from the cell at ref.
// Relative parts of every range operand move by the offset between the two
// cells; $-anchored parts stay put. Sheet-qualified operands are left as
// written, matching the library-backed engine.
func (m sharedMaster) translate(ref string) string {
	col, row, ok := snapshot.SplitRef(ref)
	if !ok {
		col, row = m.col, m.row
	}
	return shiftFormula(m.text, col-m.col, row-m.row)
}

func shiftFormula(text string, dCol, dRow int) string {
	ps := efp.ExcelParser()
	tokens := ps.Parse(text)
	for i := range tokens {
		if tokens[i].TType == efp.TokenTypeOperand && tokens[i].TSubType == efp.TokenSubTypeRange {
			tokens[i].TValue = shiftRange(tokens[i].TValue, dCol, dRow)
		}
	}
	return ps.Render()
}

// shiftRange moves each ":"-separated part of a range: a cell (A1, $A1,
// A$1), a whole column (A) or a whole row (1).
func shiftRange(value string, dCol, dRow int) string {
	parts := strings.Split(value, ":")
	for i, part := range parts {
		plain := strings.ReplaceAll(part, "$", "")
		if col, row, ok := snapshot.SplitRef(plain); ok && strings.ToUpper(plain) == plain {
			absCol := strings.HasPrefix(part, "$")
			absRow := strings.LastIndex(part, "$") > 0
			if !absCol {
				col += dCol
			}
			if !absRow {
				row += dRow
			}
			if col < 1 || row < 1 {
				continue
			}
			var b strings.Builder
			if absCol {
				b.WriteByte('$')
			}
			b.WriteString(columnName(col))
			if absRow {
				b.WriteByte('$')
			}
			b.WriteString(strconv.Itoa(row))
			parts[i] = b.String()
			continue
		}
		if strings.HasPrefix(part, "$") {
			continue
		}
		if col, ok := columnNumber(plain); ok && col+dCol >= 1 {
			parts[i] = columnName(col + dCol)
			continue
		}
		if row, err := strconv.Atoi(plain); err == nil && row+dRow >= 1 {
			parts[i] = strconv.Itoa(row + dRow)
		}
	}
	return strings.Join(parts, ":")
}

func columnNumber(name string) (int, bool) {
	if name == "" || len(name) > 3 {
		return 0, false
	}
	col := 0
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch < 'A' || ch > 'Z' {
			return 0, false
		}
		col = col*26 + int(ch-'A'+1)
	}
	return col, true
}

func columnName(col int) string {
	var buf [8]byte
	i := len(buf)
	for col > 0 {
		col--
		i--
		buf[i] = byte('A' + col%26)
		col /= 26
	}
	return string(buf[i:])
}
