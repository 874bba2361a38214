// Package config loads, normalizes, and validates cellwatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CELLWATCH_WORKER_BINARY. The Config type centralizes every knob the worker
// and the CLI need: where baselines live, how workers are spawned, which
// extraction engines run in which order, and how baselines are compressed.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical engine and codec names, and clear validation
// errors.
package config
