// Package snapshot defines the baseline data model shared by extraction,
// persistence, comparison, and validation.
package snapshot

import (
	"encoding/json"
	"time"
)

// SchemaVersion is written into every baseline produced by this module.
const SchemaVersion = 1

// Cell is one recorded cell. A formula is stored with its leading "=".
// Cached holds the computed value of a formula cell when the workbook
// carried one.
type Cell struct {
	Formula string `json:"formula,omitempty"`
	Value   *Value `json:"value,omitempty"`
	Cached  *Value `json:"cached,omitempty"`
}

// Empty reports whether the cell carries neither a formula nor a value.
func (c Cell) Empty() bool {
	return c.Formula == "" && c.Value == nil && c.Cached == nil
}

// EffectiveValue prefers the cached value over the raw value.
func (c Cell) EffectiveValue() *Value {
	if c.Cached != nil {
		return c.Cached
	}
	return c.Value
}

// Sheet maps a cell address such as "B7" to its record.
type Sheet map[string]Cell

// Baseline is a point-in-time record of every sheet of a workbook.
type Baseline struct {
	Cells         map[string]Sheet `json:"cells"`
	Timestamp     time.Time        `json:"timestamp"`
	SchemaVersion int              `json:"schema_version,omitempty"`
	SourcePath    string           `json:"source_path,omitempty"`
	ServedBy      string           `json:"served_by,omitempty"`
}

// New returns a baseline stamped with the current time.
func New(cells map[string]Sheet) *Baseline {
	if cells == nil {
		cells = map[string]Sheet{}
	}
	return &Baseline{Cells: cells, Timestamp: time.Now().UTC(), SchemaVersion: SchemaVersion}
}

// Empty returns a baseline with no sheets and a zero timestamp, the shape
// returned when nothing has been recorded yet.
func Empty() *Baseline {
	return &Baseline{Cells: map[string]Sheet{}}
}

// IsEmpty reports whether the baseline carries no cells at all.
func (b *Baseline) IsEmpty() bool {
	if b == nil {
		return true
	}
	for _, sheet := range b.Cells {
		if len(sheet) > 0 {
			return false
		}
	}
	return true
}

// Prune drops empty cells and empty sheets in place.
func (b *Baseline) Prune() {
	if b == nil {
		return
	}
	for name, sheet := range b.Cells {
		for addr, cell := range sheet {
			if cell.Empty() {
				delete(sheet, addr)
			}
		}
		if len(sheet) == 0 {
			delete(b.Cells, name)
		}
	}
}

// Clone returns a deep copy so callers can derive a new snapshot without
// touching a stored one.
func (b *Baseline) Clone() *Baseline {
	if b == nil {
		return nil
	}
	out := *b
	out.Cells = make(map[string]Sheet, len(b.Cells))
	for name, sheet := range b.Cells {
		copied := make(Sheet, len(sheet))
		for addr, cell := range sheet {
			copied[addr] = cell.clone()
		}
		out.Cells[name] = copied
	}
	return &out
}

func (c Cell) clone() Cell {
	out := Cell{Formula: c.Formula}
	if c.Value != nil {
		v := *c.Value
		out.Value = &v
	}
	if c.Cached != nil {
		v := *c.Cached
		out.Cached = &v
	}
	return out
}

// SheetNames returns the sheet names in display order.
func (b *Baseline) SheetNames() []string {
	if b == nil {
		return nil
	}
	names := make([]string, 0, len(b.Cells))
	for name := range b.Cells {
		names = append(names, name)
	}
	SortNames(names)
	return names
}

// Marshal encodes the baseline as JSON.
func Marshal(b *Baseline) ([]byte, error) {
	if b == nil {
		b = Empty()
	}
	if b.Cells == nil {
		b.Cells = map[string]Sheet{}
	}
	return json.Marshal(b)
}

// Unmarshal decodes a JSON baseline.
func Unmarshal(data []byte) (*Baseline, error) {
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b.Cells == nil {
		b.Cells = map[string]Sheet{}
	}
	return &b, nil
}
