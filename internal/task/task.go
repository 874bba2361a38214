// Package task defines the request/response documents exchanged with a
// worker process and the closed set of task variants a worker executes.
package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"cellwatch/internal/failure"
	"cellwatch/internal/snapshot"
)

// Kind is the wire tag of a task variant.
type Kind string

const (
	KindExtractRefs      Kind = "extract_refs"
	KindReadMeta         Kind = "read_meta"
	KindReadValues       Kind = "read_values"
	KindFullScan         Kind = "full_excel_scan"
	KindLoadBaseline     Kind = "load_baseline"
	KindSaveBaseline     Kind = "save_baseline"
	KindCompareBaseline  Kind = "compare_baseline"
	KindValidateBaseline Kind = "validate_baseline"
	KindDecompressJSON   Kind = "decompress_json"
)

// Task is implemented only by the variants in this package.
type Task interface {
	Kind() Kind
	validate() error
}

type ExtractRefs struct {
	FilePath string `json:"file_path"`
}

type ReadMeta struct {
	FilePath string `json:"file_path"`
}

type ReadValues struct {
	FilePath string `json:"file_path"`
	// Engine selects the extraction engine; empty uses the configured order.
	Engine string   `json:"engine,omitempty"`
	Sheets []string `json:"sheets,omitempty"`
}

type FullScan struct {
	FilePath        string `json:"file_path"`
	IncludeFormulas bool   `json:"include_formulas"`
	IncludeValues   bool   `json:"include_values"`
	BatchSize       int    `json:"batch_size,omitempty"`
}

type LoadBaseline struct {
	BaselinePath string `json:"baseline_path"`
}

type SaveBaseline struct {
	BaselinePath      string             `json:"baseline_path"`
	BaselineData      *snapshot.Baseline `json:"baseline_data"`
	CompressionFormat string             `json:"compression_format,omitempty"`
}

type CompareBaseline struct {
	OldBaseline *snapshot.Baseline `json:"old_baseline"`
	NewData     *snapshot.Baseline `json:"new_data"`
}

// ValidateBaseline carries the document undecoded so structural problems
// reach the validator instead of failing the request.
type ValidateBaseline struct {
	BaselineData json.RawMessage `json:"baseline_data"`
}

type DecompressJSON struct {
	FilePath string `json:"file_path"`
}

func (ExtractRefs) Kind() Kind      { return KindExtractRefs }
func (ReadMeta) Kind() Kind         { return KindReadMeta }
func (ReadValues) Kind() Kind       { return KindReadValues }
func (FullScan) Kind() Kind         { return KindFullScan }
func (LoadBaseline) Kind() Kind     { return KindLoadBaseline }
func (SaveBaseline) Kind() Kind     { return KindSaveBaseline }
func (CompareBaseline) Kind() Kind  { return KindCompareBaseline }
func (ValidateBaseline) Kind() Kind { return KindValidateBaseline }
func (DecompressJSON) Kind() Kind   { return KindDecompressJSON }

func (t ExtractRefs) validate() error    { return requirePath(t.Kind(), "file_path", t.FilePath) }
func (t ReadMeta) validate() error       { return requirePath(t.Kind(), "file_path", t.FilePath) }
func (t ReadValues) validate() error     { return requirePath(t.Kind(), "file_path", t.FilePath) }
func (t LoadBaseline) validate() error   { return requirePath(t.Kind(), "baseline_path", t.BaselinePath) }
func (t DecompressJSON) validate() error { return requirePath(t.Kind(), "file_path", t.FilePath) }

func (t FullScan) validate() error {
	if err := requirePath(t.Kind(), "file_path", t.FilePath); err != nil {
		return err
	}
	if !t.IncludeFormulas && !t.IncludeValues {
		return failure.Wrap(failure.ErrLogic, "task", string(t.Kind()), "include_formulas and include_values are both false", nil)
	}
	if t.BatchSize < 0 {
		return failure.Wrap(failure.ErrLogic, "task", string(t.Kind()), "batch_size must not be negative", nil)
	}
	return nil
}

func (t SaveBaseline) validate() error {
	if err := requirePath(t.Kind(), "baseline_path", t.BaselinePath); err != nil {
		return err
	}
	if t.BaselineData == nil {
		return failure.Wrap(failure.ErrLogic, "task", string(t.Kind()), "baseline_data is required", nil)
	}
	return nil
}

func (t CompareBaseline) validate() error { return nil }

func (t ValidateBaseline) validate() error {
	if len(bytes.TrimSpace(t.BaselineData)) == 0 {
		return failure.Wrap(failure.ErrLogic, "task", string(t.Kind()), "baseline_data is required", nil)
	}
	return nil
}

func requirePath(kind Kind, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return failure.Wrap(failure.ErrLogic, "task", string(kind), field+" is required", nil)
	}
	return nil
}

// Request is the single document a worker reads.
type Request struct {
	TaskType Kind            `json:"task_type"`
	TaskData json.RawMessage `json:"task_data"`
	SafeMode bool            `json:"safe_mode"`
	WorkerID int             `json:"worker_id"`
}

// NewRequest encodes t into a request document.
func NewRequest(t Task, safe bool, workerID int) (Request, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return Request{}, failure.Wrap(failure.ErrInternal, "task", "encode", string(t.Kind()), err)
	}
	return Request{TaskType: t.Kind(), TaskData: data, SafeMode: safe, WorkerID: workerID}, nil
}

// ParseRequest decodes a request document.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&req); err != nil {
		return Request{}, failure.Wrap(failure.ErrProtocol, "task", "parse request", "", err)
	}
	if decoder.More() {
		return Request{}, failure.Wrap(failure.ErrProtocol, "task", "parse request", "trailing data after request document", nil)
	}
	return req, nil
}

// PeekWorkerID pulls worker_id out of a document that may not be a valid
// request. It returns 0 when no integer worker_id can be found.
func PeekWorkerID(data []byte) int {
	var probe struct {
		WorkerID json.RawMessage `json:"worker_id"`
	}
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&probe); err != nil {
		return 0
	}
	var id int
	if err := json.Unmarshal(probe.WorkerID, &id); err != nil {
		return 0
	}
	return id
}

// Decode returns the typed task carried by the request. Unknown kinds are
// unsupported-task errors whatever the safe-mode setting.
func (r Request) Decode() (Task, error) {
	var t Task
	switch r.TaskType {
	case KindExtractRefs:
		t = decodeInto[ExtractRefs](r.TaskData)
	case KindReadMeta:
		t = decodeInto[ReadMeta](r.TaskData)
	case KindReadValues:
		t = decodeInto[ReadValues](r.TaskData)
	case KindFullScan:
		t = decodeFullScan(r.TaskData)
	case KindLoadBaseline:
		t = decodeInto[LoadBaseline](r.TaskData)
	case KindSaveBaseline:
		t = decodeInto[SaveBaseline](r.TaskData)
	case KindCompareBaseline:
		t = decodeInto[CompareBaseline](r.TaskData)
	case KindValidateBaseline:
		t = decodeInto[ValidateBaseline](r.TaskData)
	case KindDecompressJSON:
		t = decodeInto[DecompressJSON](r.TaskData)
	default:
		return nil, failure.Wrap(failure.ErrUnsupportedTask, "task", "decode", fmt.Sprintf("unsupported task type %q", r.TaskType), nil)
	}
	if bad, ok := t.(badTask); ok {
		return nil, failure.Wrap(failure.ErrFormat, "task", string(r.TaskType), "invalid task_data", bad.err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// badTask carries a decode failure through the dispatch switch.
type badTask struct{ err error }

func (badTask) Kind() Kind        { return "" }
func (b badTask) validate() error { return b.err }

func decodeInto[T Task](data json.RawMessage) Task {
	var t T
	if len(bytes.TrimSpace(data)) == 0 {
		return t
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return badTask{err: err}
	}
	return t
}

// decodeFullScan defaults both include flags to true when absent.
func decodeFullScan(data json.RawMessage) Task {
	t := FullScan{IncludeFormulas: true, IncludeValues: true}
	if len(bytes.TrimSpace(data)) == 0 {
		return t
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return badTask{err: err}
	}
	return t
}
