// Package validate checks the structure of a baseline document and gathers
// statistics about it.
package validate

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"cellwatch/internal/snapshot"
)

// Statistics summarizes a baseline.
type Statistics struct {
	SheetCount   int `json:"sheet_count"`
	TotalCells   int `json:"total_cells"`
	FormulaCells int `json:"formula_cells"`
	ValueCells   int `json:"value_cells"`
}

// Report is the outcome of a validation.
type Report struct {
	IsValid    bool       `json:"is_valid"`
	Errors     []string   `json:"errors"`
	Warnings   []string   `json:"warnings"`
	Statistics Statistics `json:"statistics"`
}

var optionalFields = []string{"timestamp", "schema_version"}

// Snapshot validates an in-memory baseline.
func Snapshot(b *snapshot.Baseline) Report {
	data, err := snapshot.Marshal(b)
	if err != nil {
		return Report{Errors: []string{fmt.Sprintf("encode baseline: %v", err)}, Warnings: []string{}}
	}
	return Raw(data)
}

// Raw validates an encoded JSON document.
func Raw(data []byte) Report {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Report{Errors: []string{fmt.Sprintf("baseline is not valid JSON: %v", err)}, Warnings: []string{}}
	}
	return Document(doc)
}

// Document validates a decoded JSON value. Structural problems with the
// cells mapping or a sheet are errors; problems with individual cells and
// missing optional fields are warnings.
func Document(doc any) Report {
	r := Report{Errors: []string{}, Warnings: []string{}}
	root, ok := doc.(map[string]any)
	if !ok {
		r.Errors = append(r.Errors, "baseline must be an object")
		return r
	}

	for _, field := range optionalFields {
		if _, present := root[field]; !present {
			r.Warnings = append(r.Warnings, fmt.Sprintf("missing optional field %q", field))
		}
	}
	if ts, ok := root["timestamp"].(string); ok {
		if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
			r.Warnings = append(r.Warnings, fmt.Sprintf("timestamp %q is not RFC 3339", ts))
		}
	}

	rawCells, present := root["cells"]
	if !present {
		r.Errors = append(r.Errors, `missing "cells" field`)
		return r
	}
	sheets, ok := rawCells.(map[string]any)
	if !ok {
		r.Errors = append(r.Errors, fmt.Sprintf(`"cells" must be an object, got %s`, kindOf(rawCells)))
		return r
	}

	names := make([]string, 0, len(sheets))
	for name := range sheets {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		sheet, ok := sheets[name].(map[string]any)
		if !ok {
			r.Errors = append(r.Errors, fmt.Sprintf("sheet %q must be an object, got %s", name, kindOf(sheets[name])))
			continue
		}
		r.Statistics.SheetCount++
		if len(sheet) == 0 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("sheet %q has no cells", name))
		}
		r.checkSheet(name, sheet)
	}

	r.IsValid = len(r.Errors) == 0
	return r
}

func (r *Report) checkSheet(name string, sheet map[string]any) {
	addrs := make([]string, 0, len(sheet))
	for addr := range sheet {
		addrs = append(addrs, addr)
	}
	snapshot.SortAddresses(addrs)

	for _, addr := range addrs {
		r.Statistics.TotalCells++
		if _, _, ok := snapshot.SplitRef(addr); !ok {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s!%s: address is not an A1 reference", name, addr))
		}
		cell, ok := sheet[addr].(map[string]any)
		if !ok {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s!%s: cell record must be an object, got %s", name, addr, kindOf(sheet[addr])))
			continue
		}

		hasFormula := false
		if f, present := cell["formula"]; present && f != nil {
			s, isString := f.(string)
			switch {
			case !isString:
				r.Warnings = append(r.Warnings, fmt.Sprintf("%s!%s: formula must be a string, got %s", name, addr, kindOf(f)))
			case s != "":
				hasFormula = true
				r.Statistics.FormulaCells++
			}
		}

		hasValue := false
		for _, key := range []string{"value", "cached"} {
			v, present := cell[key]
			if !present || v == nil {
				continue
			}
			if !scalar(v) {
				r.Warnings = append(r.Warnings, fmt.Sprintf("%s!%s: %s has unsupported type %s", name, addr, key, kindOf(v)))
				continue
			}
			hasValue = true
		}
		if hasValue {
			r.Statistics.ValueCells++
		}
		if !hasFormula && !hasValue {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s!%s: cell has neither formula nor value", name, addr))
		}
	}
}

func scalar(v any) bool {
	switch t := v.(type) {
	case string, float64, bool:
		return true
	case map[string]any:
		_, ok := t["t"].(string)
		return ok && len(t) == 1
	default:
		return false
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
