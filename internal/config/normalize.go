package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	c.normalizeExtraction()
	c.normalizeBaseline()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.BaselineDir) == "" {
		c.Paths.BaselineDir = defaultBaselineDir
	}
	if c.Paths.BaselineDir, err = expandPath(c.Paths.BaselineDir); err != nil {
		return fmt.Errorf("paths.baseline_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	// An explicitly empty history_db disables the ledger.
	if c.Paths.HistoryDB, err = expandPath(strings.TrimSpace(c.Paths.HistoryDB)); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() error {
	c.Worker.Binary = strings.TrimSpace(c.Worker.Binary)
	if c.Worker.Binary == "" {
		if value, ok := os.LookupEnv("CELLWATCH_WORKER_BINARY"); ok {
			c.Worker.Binary = strings.TrimSpace(value)
		}
	}
	if c.Worker.Binary != "" && strings.ContainsRune(c.Worker.Binary, os.PathSeparator) {
		expanded, err := expandPath(c.Worker.Binary)
		if err != nil {
			return fmt.Errorf("worker.binary: %w", err)
		}
		c.Worker.Binary = expanded
	}
	if c.Worker.PoolSize <= 0 {
		c.Worker.PoolSize = defaultPoolSize
	}
	return nil
}

func (c *Config) normalizeExtraction() {
	c.Extraction.Engines = normalizeNames(c.Extraction.Engines)
	if len(c.Extraction.Engines) == 0 {
		c.Extraction.Engines = []string{EngineExcelize, EngineXML}
	}
	c.Extraction.DisabledEngines = normalizeNames(c.Extraction.DisabledEngines)
}

func (c *Config) normalizeBaseline() {
	c.Baseline.CompressionFormat = strings.ToLower(strings.TrimSpace(c.Baseline.CompressionFormat))
	if c.Baseline.CompressionFormat == "" {
		c.Baseline.CompressionFormat = defaultCompressionFormat
	}
	c.Baseline.DisabledCodecs = normalizeNames(c.Baseline.DisabledCodecs)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeNames(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
