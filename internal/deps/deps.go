// Package deps reports which optional capabilities are usable at runtime:
// compression codecs, extraction engines, and the worker executable.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"cellwatch/internal/codec"
	"cellwatch/internal/config"
	"cellwatch/internal/engine"
)

// Category groups related dependencies in reports.
type Category string

const (
	CategoryWorker Category = "worker"
	CategoryEngine Category = "engine"
	CategoryCodec  Category = "codec"
)

// Requirement defines an external binary cellwatch relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Category    Category `json:"category"`
	Name        string   `json:"name"`
	Command     string   `json:"command,omitempty"`
	Description string   `json:"description"`
	Optional    bool     `json:"optional"`
	Available   bool     `json:"available"`
	Detail      string   `json:"detail,omitempty"`
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Category:    CategoryWorker,
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// CheckEngines reports each registered extraction engine. Engines named in
// order are required; the rest are optional.
func CheckEngines(registry *engine.Registry, order []string) []Status {
	required := map[string]bool{}
	for _, name := range order {
		required[name] = true
	}
	names := registry.Names()
	results := make([]Status, 0, len(names))
	for _, name := range names {
		status := Status{
			Category:    CategoryEngine,
			Name:        name,
			Description: engineDescriptions[name],
			Optional:    !required[name],
			Available:   true,
		}
		e, err := registry.Lookup(name)
		if err == nil {
			err = e.Available()
		}
		if err != nil {
			status.Available = false
			status.Detail = err.Error()
		}
		results = append(results, status)
	}
	return results
}

// CheckCodecs reports each baseline compression codec. Only the configured
// write format is required; the others matter only for reading old baselines.
func CheckCodecs(registry *codec.Registry, writeFormat string) []Status {
	results := make([]Status, 0, len(codec.Formats))
	for _, format := range codec.Formats {
		status := Status{
			Category:    CategoryCodec,
			Name:        string(format),
			Description: codecDescriptions[format],
			Optional:    string(format) != writeFormat,
			Available:   true,
		}
		if err := registry.Available(format); err != nil {
			status.Available = false
			status.Detail = err.Error()
		}
		results = append(results, status)
	}
	return results
}

// Report assembles the full dependency report for cfg.
func Report(cfg *config.Config) []Status {
	var results []Status

	binary, _, err := cfg.WorkerCommand()
	if err != nil {
		results = append(results, Status{
			Category:    CategoryWorker,
			Name:        "worker",
			Description: workerDescription,
			Detail:      err.Error(),
		})
	} else {
		results = append(results, CheckBinaries([]Requirement{{
			Name:        "worker",
			Command:     binary,
			Description: workerDescription,
		}})...)
	}

	engines := engine.DefaultRegistry(cfg.EngineTimeout(), cfg.Extraction.DisabledEngines)
	results = append(results, CheckEngines(engines, cfg.Extraction.Engines)...)

	codecs := codec.NewRegistry(cfg.Baseline.DisabledCodecs...)
	results = append(results, CheckCodecs(codecs, cfg.Baseline.CompressionFormat)...)
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}

const workerDescription = "Executable re-invoked to run each task in isolation"

var engineDescriptions = map[string]string{
	engine.NameExcelize: "Workbook extraction via the excelize library",
	engine.NameXML:      "Streaming extraction from the raw archive XML",
}

var codecDescriptions = map[codec.Format]string{
	codec.FormatZstd: "Zstandard baseline compression",
	codec.FormatLZ4:  "LZ4 frame baseline compression",
	codec.FormatGzip: "Gzip baseline compression",
	codec.FormatNone: "Uncompressed JSON baselines",
}
