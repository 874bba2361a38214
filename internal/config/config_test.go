package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"cellwatch/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CELLWATCH_WORKER_BINARY", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantBaselines := filepath.Join(tempHome, ".local", "share", "cellwatch", "baselines")
	if cfg.Paths.BaselineDir != wantBaselines {
		t.Fatalf("unexpected baseline dir: got %q want %q", cfg.Paths.BaselineDir, wantBaselines)
	}
	if cfg.Paths.HistoryDB != filepath.Join(tempHome, ".local", "share", "cellwatch", "history.db") {
		t.Fatalf("unexpected history db: %q", cfg.Paths.HistoryDB)
	}
	if got := strings.Join(cfg.Extraction.Engines, ","); got != "excelize,xml" {
		t.Fatalf("unexpected engine order: %q", got)
	}
	if !cfg.Extraction.FallbackEnabled {
		t.Fatal("expected fallback enabled by default")
	}
	if cfg.Baseline.CompressionFormat != "zstd" {
		t.Fatalf("unexpected compression format: %q", cfg.Baseline.CompressionFormat)
	}
	if cfg.TaskTimeout() != 300*time.Second {
		t.Fatalf("unexpected task timeout: %s", cfg.TaskTimeout())
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
}

func TestLoadCustomConfigNormalizesValues(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg := config.Default()
	cfg.Paths.BaselineDir = "~/custom/baselines"
	cfg.Extraction.Engines = []string{" XML ", "excelize", "xml"}
	cfg.Baseline.CompressionFormat = " GZIP "
	cfg.Logging.Format = "yaml"

	path := filepath.Join(t.TempDir(), "cellwatch.toml")
	writeConfig(t, path, cfg)

	loaded, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit config to be used, got %q exists=%v", resolved, exists)
	}
	if loaded.Paths.BaselineDir != filepath.Join(tempHome, "custom", "baselines") {
		t.Fatalf("unexpected baseline dir: %q", loaded.Paths.BaselineDir)
	}
	if got := strings.Join(loaded.Extraction.Engines, ","); got != "xml,excelize" {
		t.Fatalf("expected deduplicated lower-case engines, got %q", got)
	}
	if loaded.Baseline.CompressionFormat != "gzip" {
		t.Fatalf("unexpected compression format: %q", loaded.Baseline.CompressionFormat)
	}
	if loaded.Logging.Format != "console" {
		t.Fatalf("expected unknown log format to fall back to console, got %q", loaded.Logging.Format)
	}
}

func TestValidateRejectsUnknownNames(t *testing.T) {
	cases := map[string]func(*config.Config){
		"engine":   func(c *config.Config) { c.Extraction.Engines = []string{"openpyxl"} },
		"disabled": func(c *config.Config) { c.Extraction.DisabledEngines = []string{"nope"} },
		"codec":    func(c *config.Config) { c.Baseline.CompressionFormat = "brotli" },
		"pool":     func(c *config.Config) { c.Worker.PoolSize = 0 },
		"batch":    func(c *config.Config) { c.Extraction.BatchSize = -1 },
		"retries":  func(c *config.Config) { c.Extraction.Retries = -2 },
		"modes": func(c *config.Config) {
			c.Extraction.IncludeFormulas = false
			c.Extraction.IncludeValues = false
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestWorkerBinaryFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CELLWATCH_WORKER_BINARY", "/opt/cellwatch/bin/cellwatch")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	binary, args, err := cfg.WorkerCommand()
	if err != nil {
		t.Fatalf("WorkerCommand: %v", err)
	}
	if binary != "/opt/cellwatch/bin/cellwatch" {
		t.Fatalf("unexpected worker binary %q", binary)
	}
	if len(args) != 1 || args[0] != "worker" {
		t.Fatalf("unexpected worker args %v", args)
	}
}

func TestLoadRejectsNegativeBatchSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellwatch.toml")
	if err := os.WriteFile(path, []byte("[extraction]\nbatch_size = -5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "batch_size") {
		t.Fatalf("expected batch_size rejection, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellwatch.toml")
	if err := os.WriteFile(path, []byte("[extraction]\nengine_order = [\"xml\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Worker.PoolSize != config.Default().Worker.PoolSize {
		t.Fatalf("unexpected pool size %d", cfg.Worker.PoolSize)
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.BaselineDir = filepath.Join(root, "b")
	cfg.Paths.LogDir = filepath.Join(root, "l")
	cfg.Paths.HistoryDB = filepath.Join(root, "h", "history.db")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{"b", "l", "h"} {
		if info, err := os.Stat(filepath.Join(root, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s to be a directory: %v", dir, err)
		}
	}
}

func writeConfig(t *testing.T, path string, cfg config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
