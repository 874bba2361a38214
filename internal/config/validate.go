package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validateBaseline(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorker() error {
	if err := ensurePositiveMap(map[string]int{
		"worker.pool_size":            c.Worker.PoolSize,
		"worker.task_timeout_seconds": c.Worker.TaskTimeoutSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateExtraction() error {
	for _, name := range c.Extraction.Engines {
		if !slices.Contains(KnownEngines, name) {
			return fmt.Errorf("extraction.engines: unknown engine %q (known: %v)", name, KnownEngines)
		}
	}
	for _, name := range c.Extraction.DisabledEngines {
		if !slices.Contains(KnownEngines, name) {
			return fmt.Errorf("extraction.disabled_engines: unknown engine %q", name)
		}
	}
	if c.Extraction.Retries < 0 {
		return errors.New("extraction.retries must not be negative")
	}
	if c.Extraction.BatchSize < 0 {
		return errors.New("extraction.batch_size must not be negative")
	}
	if c.Extraction.EngineTimeoutSeconds < 0 {
		return errors.New("extraction.engine_timeout_seconds must not be negative")
	}
	if !c.Extraction.IncludeFormulas && !c.Extraction.IncludeValues {
		return errors.New("extraction: at least one of include_formulas or include_values must be true")
	}
	return nil
}

func (c *Config) validateBaseline() error {
	if !slices.Contains(KnownCompressionFormats, c.Baseline.CompressionFormat) {
		return fmt.Errorf("baseline.compression_format: unknown format %q (known: %v)", c.Baseline.CompressionFormat, KnownCompressionFormats)
	}
	for _, name := range c.Baseline.DisabledCodecs {
		if !slices.Contains(KnownCompressionFormats, name) {
			return fmt.Errorf("baseline.disabled_codecs: unknown format %q", name)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
