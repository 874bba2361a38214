// Package logging assembles structured slog loggers and formatting helpers used
// by the cellwatch orchestrator and its worker processes.
//
// It owns the configurable console/JSON handlers and exposes context-aware
// helpers so scan and dispatch code can tag log lines with worker IDs, task
// types, file paths, and correlation IDs. Worker loggers write only to the
// diagnostic side channel. A no-op logger is provided for tests and for wiring
// code that cannot fail.
package logging
