package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and database locations.
type Paths struct {
	BaselineDir string `toml:"baseline_dir"`
	LogDir      string `toml:"log_dir"`
	HistoryDB   string `toml:"history_db"`
}

// Worker controls how disposable worker processes are spawned.
type Worker struct {
	// Binary is the executable re-invoked with the hidden "worker" command.
	// Empty means the running executable.
	Binary             string `toml:"binary"`
	PoolSize           int    `toml:"pool_size"`
	TaskTimeoutSeconds int    `toml:"task_timeout_seconds"`
}

// Extraction contains engine ordering and fallback policy.
type Extraction struct {
	Engines              []string `toml:"engines"`
	FallbackEnabled      bool     `toml:"fallback_enabled"`
	Retries              int      `toml:"retries"`
	EngineTimeoutSeconds int      `toml:"engine_timeout_seconds"`
	BatchSize            int      `toml:"batch_size"`
	IncludeFormulas      bool     `toml:"include_formulas"`
	IncludeValues        bool     `toml:"include_values"`
	// DisabledEngines marks engines as unavailable, as if their dependency
	// were missing at runtime.
	DisabledEngines []string `toml:"disabled_engines"`
}

// Baseline contains persistence settings for snapshots.
type Baseline struct {
	CompressionFormat string   `toml:"compression_format"`
	DisabledCodecs    []string `toml:"disabled_codecs"`
	Validate          bool     `toml:"validate"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cellwatch.
//
// Configuration sections by subsystem:
//   - Paths: baseline directory, log directory, scan history database
//   - Worker: worker binary, pool size, per-task timeout
//   - Extraction: engine order, fallback policy, batching
//   - Baseline: compression codec and codec availability
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Worker     Worker     `toml:"worker"`
	Extraction Extraction `toml:"extraction"`
	Baseline   Baseline   `toml:"baseline"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cellwatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cellwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the orchestrator writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.BaselineDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if db := strings.TrimSpace(c.Paths.HistoryDB); db != "" {
		if err := os.MkdirAll(filepath.Dir(db), 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
	}
	return nil
}

// TaskTimeout returns the per-task worker deadline.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Worker.TaskTimeoutSeconds) * time.Second
}

// EngineTimeout returns the budget for a single engine attempt.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Extraction.EngineTimeoutSeconds) * time.Second
}

// WorkerCommand returns the executable and leading arguments used to start a
// worker process.
func (c *Config) WorkerCommand() (string, []string, error) {
	binary := strings.TrimSpace(c.Worker.Binary)
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return "", nil, fmt.Errorf("resolve worker binary: %w", err)
		}
		binary = self
	}
	return binary, []string{"worker"}, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
