package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cellwatch/internal/deps"
	"cellwatch/internal/history"
	"cellwatch/internal/task"
	"cellwatch/internal/testsupport"
)

const helperEnv = "CELLWATCH_TEST_WORKER"

// TestMain lets the test binary serve as the worker executable: pools spawn
// os.Executable(), which re-enters here with the worker arguments.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
	}
	if err := os.Setenv(helperEnv, "1"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type cliEnv struct {
	configPath string
	dir        string
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var configPath string
	testsupport.NewConfig(t, testsupport.WithConfigFile(&configPath))
	return &cliEnv{configPath: configPath, dir: t.TempDir()}
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", e.configPath}, args...)
	code := run(context.Background(), full, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func (e *cliEnv) book(t *testing.T, value any) string {
	t.Helper()
	return testsupport.WriteWorkbook(t, e.dir, "budget.xlsx", testsupport.FixtureSheet{
		Name: "Plan",
		Cells: map[string]testsupport.FixtureCell{
			"A1": {Value: "Total"},
			"B1": {Value: value},
			"C1": {Formula: "=B1*12"},
		},
	})
}

func (e *cliEnv) scanJSON(t *testing.T, args ...string) []scanView {
	t.Helper()
	stdout, stderr, code := e.run(t, "", append([]string{"scan", "--json"}, args...)...)
	if code != 0 {
		t.Fatalf("scan exit %d: %s", code, stderr)
	}
	var views []scanView
	if err := json.Unmarshal([]byte(stdout), &views); err != nil {
		t.Fatalf("decode scan output: %v\n%s", err, stdout)
	}
	return views
}

func TestScanLifecycle(t *testing.T) {
	env := setupCLI(t)
	path := env.book(t, 100)

	first := env.scanJSON(t, path)
	if len(first) != 1 || first[0].Status != history.StatusBaselined || first[0].ServedBy != "excelize" {
		t.Fatalf("unexpected first scan %+v", first)
	}
	if _, err := os.Stat(first[0].BaselinePath); err != nil {
		t.Fatalf("baseline missing: %v", err)
	}

	second := env.scanJSON(t, path)
	if second[0].Status != history.StatusUnchanged {
		t.Fatalf("expected unchanged, got %+v", second[0])
	}

	env.book(t, 250)
	stdout, stderr, code := env.run(t, "", "scan", path)
	if code != 0 {
		t.Fatalf("scan exit %d: %s", code, stderr)
	}
	for _, want := range []string{"budget.xlsx", "1 change(s)", "B1"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("scan output missing %q:\n%s", want, stdout)
		}
	}

	out, _, code := env.run(t, "", "history", "list", "--json")
	if code != 0 {
		t.Fatalf("history exit %d", code)
	}
	var scans []history.Scan
	if err := json.Unmarshal([]byte(out), &scans); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(scans) != 3 || scans[0].Status != history.StatusChanged {
		t.Fatalf("unexpected history %+v", scans)
	}
}

func TestScanFailureSetsExitCode(t *testing.T) {
	env := setupCLI(t)
	good := env.book(t, 1)
	missing := filepath.Join(env.dir, "missing.xlsx")

	stdout, stderr, code := env.run(t, "", "scan", "--json", missing, good)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "1 of 2 workbook(s) failed") {
		t.Fatalf("unexpected stderr %q", stderr)
	}
	var views []scanView
	if err := json.Unmarshal([]byte(stdout), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if views[0].ErrorType != "io_error" || views[1].Status != history.StatusBaselined {
		t.Fatalf("unexpected outcomes %+v", views)
	}
}

func TestBaselineInspection(t *testing.T) {
	env := setupCLI(t)
	views := env.scanJSON(t, env.book(t, 7))
	baselinePath := views[0].BaselinePath

	stdout, _, code := env.run(t, "", "baseline", "show", baselinePath)
	if code != 0 || !strings.Contains(stdout, "Plan") || !strings.Contains(stdout, "zstd") {
		t.Fatalf("unexpected show output (%d):\n%s", code, stdout)
	}

	stdout, _, code = env.run(t, "", "baseline", "decompress", baselinePath)
	if code != 0 {
		t.Fatalf("decompress exit %d", code)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		t.Fatalf("decompressed output is not JSON: %v", err)
	}
	if _, ok := doc["cells"]; !ok {
		t.Fatalf("missing cells key: %v", doc)
	}

	stdout, _, code = env.run(t, "", "validate", "--json", baselinePath)
	if code != 0 {
		t.Fatalf("validate exit %d: %s", code, stdout)
	}
	var report task.ValidateBaselineResult
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.IsValid || report.Statistics.FormulaCells != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestValidateRejectsBrokenBaseline(t *testing.T) {
	env := setupCLI(t)
	broken := filepath.Join(env.dir, "broken.baseline")
	testsupport.WriteFile(t, broken, []byte(`{"cells":[1,2]}`))

	_, _, code := env.run(t, "", "validate", broken)
	if code != 1 {
		t.Fatalf("expected exit 1 for invalid baseline, got %d", code)
	}
}

func TestDiffBetweenBaselines(t *testing.T) {
	env := setupCLI(t)
	path := env.book(t, 1)
	before := env.scanJSON(t, path)[0].BaselinePath
	saved := filepath.Join(env.dir, "before.baseline")
	testsupport.WriteFile(t, saved, testsupport.ReadFile(t, before))

	env.book(t, 2)
	env.scanJSON(t, path)

	stdout, _, code := env.run(t, "", "diff", "--json", "--exit-code", saved, before)
	if code != 1 {
		t.Fatalf("expected exit 1 for differing baselines, got %d", code)
	}
	var result task.CompareBaselineResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("decode diff: %v", err)
	}
	if result.TotalChanges != 1 || len(result.SheetsModified) != 1 {
		t.Fatalf("unexpected diff %+v", result)
	}

	_, _, code = env.run(t, "", "diff", saved, saved)
	if code != 0 {
		t.Fatalf("identical baselines should exit 0, got %d", code)
	}
}

func TestWorkerCommandSpeaksProtocol(t *testing.T) {
	env := setupCLI(t)
	stdout, _, code := env.run(t, `{"task_type":"bogus","task_data":{},"safe_mode":false,"worker_id":9}`, "worker")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	var resp task.Response
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("decode response: %v\n%s", err, stdout)
	}
	if resp.Success || resp.ErrorType != "unsupported_task" || resp.WorkerID != 9 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestDepsReport(t *testing.T) {
	env := setupCLI(t)
	stdout, _, code := env.run(t, "", "deps", "--json")
	if code != 0 {
		t.Fatalf("deps exit %d:\n%s", code, stdout)
	}
	var statuses []deps.Status
	if err := json.Unmarshal([]byte(stdout), &statuses); err != nil {
		t.Fatalf("decode deps: %v", err)
	}
	if len(statuses) == 0 || statuses[0].Category != deps.CategoryWorker || !statuses[0].Available {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "cellwatch.toml")

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"config", "init", "--path", target}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("init exit %d: %s", code, stderr.String())
	}
	if code := run(context.Background(), []string{"config", "init", "--path", target}, nil, &stdout, &stderr); code == 0 {
		t.Fatal("second init without --overwrite should fail")
	}

	stdout.Reset()
	if code := run(context.Background(), []string{"--config", target, "config", "validate"}, nil, &stdout, &stderr); code != 0 {
		t.Fatalf("validate exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Configuration valid") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}
