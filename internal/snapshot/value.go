package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ValueKind discriminates the scalar stored in a Value.
type ValueKind uint8

const (
	KindNumber ValueKind = iota + 1
	KindText
	KindBool
	KindTime
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Value is a cell scalar. Numbers, text, and booleans encode as native JSON;
// timestamps encode as {"t": "<RFC3339>"} so they survive a round trip.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
	Bool bool
	Time time.Time
}

func Number(f float64) *Value      { return &Value{Kind: KindNumber, Num: f} }
func Text(s string) *Value         { return &Value{Kind: KindText, Str: s} }
func Boolean(b bool) *Value        { return &Value{Kind: KindBool, Bool: b} }
func Timestamp(t time.Time) *Value { return &Value{Kind: KindTime, Time: t.UTC()} }

// Equal compares two optional values; two nils are equal.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNumber:
		return a.Num == b.Num
	case KindText:
		return a.Str == b.Str
	case KindBool:
		return a.Bool == b.Bool
	case KindTime:
		return a.Time.Equal(b.Time)
	default:
		return true
	}
}

// String renders the value for display.
func (v *Value) String() string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindText:
		return v.Str
	case KindBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case KindTime:
		return v.Time.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

type timeEnvelope struct {
	T string `json:"t"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindText:
		return json.Marshal(v.Str)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindTime:
		return json.Marshal(timeEnvelope{T: v.Time.UTC().Format(time.RFC3339Nano)})
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %d", v.Kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("unmarshal value: empty input")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = Value{Kind: KindText, Str: s}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = Value{Kind: KindBool, Bool: b}
	case '{':
		var env timeEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, env.T)
		if err != nil {
			return fmt.Errorf("unmarshal value: %w", err)
		}
		*v = Value{Kind: KindTime, Time: ts.UTC()}
	default:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return fmt.Errorf("unmarshal value: %w", err)
		}
		*v = Value{Kind: KindNumber, Num: f}
	}
	return nil
}

// ParseScalar converts a raw cell string and its workbook type code into a
// Value. Shared-string resolution must already have happened for "s" cells.
func ParseScalar(raw, typeCode string) *Value {
	switch typeCode {
	case "s", "str", "inlineStr", "e":
		return Text(raw)
	case "b":
		return Text(NormalizeBool(raw))
	case "d":
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return Timestamp(ts)
			}
		}
		return Text(raw)
	default:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Text(raw)
		}
		return Number(f)
	}
}

// NormalizeBool maps workbook boolean encodings to TRUE or FALSE.
func NormalizeBool(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "1", "TRUE":
		return "TRUE"
	default:
		return "FALSE"
	}
}
