package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"cellwatch/internal/failure"
	"cellwatch/internal/task"
	"cellwatch/internal/testsupport"
)

func TestExecutePanicBecomesInternalFailure(t *testing.T) {
	x := NewExecutor(testsupport.NewConfig(t), nil)
	x.store = nil

	data, _ := json.Marshal(map[string]any{
		"baseline_path": filepath.Join(t.TempDir(), "b.baseline"),
		"baseline_data": map[string]any{"cells": map[string]any{}},
	})
	resp := x.Execute(context.Background(), task.Request{TaskType: task.KindSaveBaseline, TaskData: data, WorkerID: 5})

	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.ErrorType != failure.KindInternal {
		t.Fatalf("error_type = %q", resp.ErrorType)
	}
	if !strings.Contains(resp.Traceback, "goroutine") {
		t.Fatalf("expected stack traceback, got %q", resp.Traceback)
	}
	if resp.WorkerID != 5 {
		t.Fatalf("worker id = %d", resp.WorkerID)
	}
}

func TestUnencodableResponseBecomesInternalFailure(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := writeResponse(&stdout, &stderr, 4, task.Succeeded(4, map[string]float64{"v": math.NaN()}))
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}

	var resp task.Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		t.Fatalf("stdout is not a response document: %v (%q)", err, stdout.String())
	}
	if resp.Success || resp.ErrorType != failure.KindInternal || resp.WorkerID != 4 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(stderr.String(), "encode response") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}
