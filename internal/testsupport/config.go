package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"cellwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.BaselineDir = filepath.Join(base, "baselines")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.HistoryDB = filepath.Join(base, "history.db")
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkerBinary points worker spawning at a specific executable.
func WithWorkerBinary(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.Binary = path
	}
}

// WithEngines overrides the engine order and disabled set.
func WithEngines(order []string, disabled ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Extraction.Engines = order
		b.cfg.Extraction.DisabledEngines = disabled
	}
}

// WithCompression selects the baseline codec.
func WithCompression(format string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Baseline.CompressionFormat = format
	}
}

// WithTaskTimeout sets the per-task worker deadline in seconds.
func WithTaskTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.TaskTimeoutSeconds = seconds
	}
}

// WithConfigFile writes the assembled configuration to a TOML file inside the
// temp dir so commands can load it via --config.
func WithConfigFile(path *string) ConfigOption {
	return func(b *configBuilder) {
		target := filepath.Join(b.baseDir, "cellwatch.toml")
		data, err := marshalConfig(b.cfg)
		if err != nil {
			b.t.Fatalf("marshal config: %v", err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			b.t.Fatalf("write config: %v", err)
		}
		*path = target
	}
}
