package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cellwatch/internal/config"
	"cellwatch/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("scan started")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "cellwatch.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "scan started") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsSourceForInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without source")

	if strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected no source information in info logs, got %q", buf.String())
	}
}

func TestConsoleLoggerIncludesSourceForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with source")

	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("expected source in debug logs, got %q", buf.String())
	}
}

func TestConsoleLoggerFormatsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.NewComponentLogger(logger, "dispatch").Info("worker exited", logging.Int("exit_code", 1), logging.String("reason", "bad input"))

	line := buf.String()
	if !strings.Contains(line, " INFO dispatch: worker exited") {
		t.Fatalf("unexpected console line %q", line)
	}
	if !strings.Contains(line, "exit_code=1") || !strings.Contains(line, `reason="bad input"`) {
		t.Fatalf("expected formatted attributes, got %q", line)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("codec unavailable", logging.String("format", "lz4"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record["level"] != "warn" || record["msg"] != "codec unavailable" {
		t.Fatalf("unexpected record %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml", Writer: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestWorkerLoggerTagsWorkerID(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.Logging.Format = "json"

	logger, err := logging.NewWorker(&cfg, &buf, 7)
	if err != nil {
		t.Fatalf("NewWorker returned error: %v", err)
	}
	logger.Info("task received")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if id, ok := record[logging.FieldWorkerID].(float64); !ok || id != 7 {
		t.Fatalf("expected worker_id 7, got %v", record[logging.FieldWorkerID])
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithWorkerID(context.Background(), 3)
	ctx = logging.WithTaskType(ctx, "full_excel_scan")
	ctx = logging.WithFilePath(ctx, "/tmp/book.xlsx")
	ctx = logging.WithCorrelationID(ctx, "abc")

	logging.WithContext(ctx, base).Info("dispatching")

	line := buf.String()
	for _, want := range []string{"worker_id=3", "task_type=full_excel_scan", "file_path=/tmp/book.xlsx", "correlation_id=abc"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "engine fell back", "engine_fallback", logging.String(logging.FieldImpact, "slower extraction"))

	line := buf.String()
	if !strings.Contains(line, "event_type=engine_fallback") {
		t.Fatalf("expected event_type, got %q", line)
	}
	if !strings.Contains(line, `impact="slower extraction"`) {
		t.Fatalf("expected caller impact preserved, got %q", line)
	}
	if !strings.Contains(line, "error_hint=") {
		t.Fatalf("expected default error_hint, got %q", line)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("noop logger should never be enabled")
	}
	logging.WarnWithContext(nil, "ignored", "ignored")
}
