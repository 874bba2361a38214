package task

import (
	"bytes"
	"encoding/json"
	"fmt"

	"cellwatch/internal/diff"
	"cellwatch/internal/engine"
	"cellwatch/internal/failure"
	"cellwatch/internal/snapshot"
	"cellwatch/internal/validate"
)

// Response is the single document a worker writes. On success the result
// payload's fields sit at the top level beside "success" and "worker_id".
type Response struct {
	Success   bool
	WorkerID  int
	Error     string
	ErrorType string
	Traceback string

	payload any
	fields  map[string]json.RawMessage
}

// Succeeded builds a success response around a result payload. The payload
// must encode as a JSON object.
func Succeeded(workerID int, payload any) Response {
	return Response{Success: true, WorkerID: workerID, payload: payload}
}

// Failed builds a failure response classifying err.
func Failed(workerID int, err error, traceback string) Response {
	kind := failure.Kind(err)
	if kind == "" {
		kind = failure.KindInternal
	}
	message := "unknown failure"
	if err != nil {
		message = err.Error()
	}
	return Response{WorkerID: workerID, Error: message, ErrorType: kind, Traceback: traceback}
}

var reserved = []string{"success", "worker_id", "error", "error_type", "traceback"}

func (r Response) MarshalJSON() ([]byte, error) {
	doc := map[string]any{}
	if r.Success {
		if r.payload != nil {
			raw, err := json.Marshal(r.payload)
			if err != nil {
				return nil, err
			}
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, fmt.Errorf("task result must encode as an object: %w", err)
			}
			for k, v := range fields {
				doc[k] = v
			}
		}
		for k, v := range r.fields {
			doc[k] = v
		}
	} else {
		doc["error"] = r.Error
		doc["error_type"] = r.ErrorType
		if r.Traceback != "" {
			doc["traceback"] = r.Traceback
		}
	}
	doc["success"] = r.Success
	doc["worker_id"] = r.WorkerID
	return json.Marshal(doc)
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	rawSuccess, ok := fields["success"]
	if !ok {
		return fmt.Errorf("response has no success field")
	}
	*r = Response{}
	if err := json.Unmarshal(rawSuccess, &r.Success); err != nil {
		return fmt.Errorf("response success: %w", err)
	}
	optional := []struct {
		key    string
		target any
	}{
		{"worker_id", &r.WorkerID},
		{"error", &r.Error},
		{"error_type", &r.ErrorType},
		{"traceback", &r.Traceback},
	}
	for _, o := range optional {
		if raw, ok := fields[o.key]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, o.target); err != nil {
				return fmt.Errorf("response %s: %w", o.key, err)
			}
		}
	}
	for _, k := range reserved {
		delete(fields, k)
	}
	r.fields = fields
	return nil
}

// Decode copies the result fields of a success response into v.
func (r Response) Decode(v any) error {
	if !r.Success {
		return r.Err()
	}
	if r.payload != nil {
		raw, err := json.Marshal(r.payload)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	}
	raw, err := json.Marshal(r.fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Err converts a failure response into an error; success yields nil.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	return &RemoteError{Kind: r.ErrorType, Message: r.Error, Traceback: r.Traceback, WorkerID: r.WorkerID}
}

// RemoteError is a failure reported by a worker. It matches the failure
// marker for its kind under errors.Is.
type RemoteError struct {
	Kind      string
	Message   string
	Traceback string
	WorkerID  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker %d: %s", e.WorkerID, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return failure.MarkerForKind(e.Kind)
}

// Result payloads, one per task kind.

type ExtractRefsResult struct {
	Refs map[string]string `json:"refs"`
}

type ReadMetaResult struct {
	LastAuthor string `json:"last_author"`
	Created    string `json:"created,omitempty"`
	Modified   string `json:"modified,omitempty"`
}

type ReadValuesResult struct {
	Values   map[string]snapshot.Sheet `json:"values"`
	ServedBy string                    `json:"served_by"`
	Attempts []engine.Attempt          `json:"attempts,omitempty"`
}

type FullScanResult struct {
	Data     *snapshot.Baseline `json:"data"`
	ServedBy string             `json:"served_by"`
	Attempts []engine.Attempt   `json:"attempts,omitempty"`
}

type LoadBaselineResult struct {
	Data   *snapshot.Baseline `json:"data"`
	Format string             `json:"format"`
	Exists bool               `json:"exists"`
}

type SaveBaselineResult struct {
	BaselinePath string `json:"baseline_path"`
	Format       string `json:"format"`
}

// CompareBaselineResult flattens the comparison into the response.
type CompareBaselineResult = diff.Result

// ValidateBaselineResult flattens the validation report into the response.
type ValidateBaselineResult = validate.Report

type DecompressJSONResult struct {
	Data   json.RawMessage `json:"data"`
	Format string          `json:"format"`
}
