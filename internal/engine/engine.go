// Package engine holds the interchangeable cell-extraction strategies and the
// fallback controller that orders, retries, and fails over between them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"cellwatch/internal/failure"
	"cellwatch/internal/logging"
	"cellwatch/internal/snapshot"
)

const (
	NameExcelize = "excelize"
	NameXML      = "xml"
)

// Options tune a single extraction.
type Options struct {
	IncludeFormulas bool
	IncludeValues   bool
	// BatchSize bounds how many rows are buffered before being merged into
	// the sheet result. Zero means unbounded.
	BatchSize int
	// Safe turns per-sheet and per-cell failures into skips.
	Safe   bool
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return logging.NewNop()
	}
	return o.Logger
}

// Engine extracts formulas and values from a workbook file.
type Engine interface {
	Name() string
	// Available reports a dependency-missing error when the engine cannot
	// run in this process.
	Available() error
	// Timeout bounds one attempt; zero means no engine-specific budget.
	Timeout() time.Duration
	// ExtractValues returns cell values, limited to sheets when non-empty.
	ExtractValues(ctx context.Context, path string, sheets []string, opts Options) (map[string]snapshot.Sheet, error)
	ExtractFormulas(ctx context.Context, path string, opts Options) (map[string]snapshot.Sheet, error)
	FullScan(ctx context.Context, path string, opts Options) (map[string]snapshot.Sheet, error)
}

// Registry resolves engine names.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry indexes engines by name.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Name()] = e
	}
	return r
}

// DefaultRegistry returns the built-in engines. Names listed in disabled
// report themselves as unavailable.
func DefaultRegistry(timeout time.Duration, disabled []string) *Registry {
	engines := []Engine{NewExcelize(timeout), NewXML(timeout)}
	for i, e := range engines {
		if slices.Contains(disabled, e.Name()) {
			engines[i] = Disabled(e, "disabled by configuration")
		}
	}
	return NewRegistry(engines...)
}

// Lookup returns the named engine. Unknown names are logic errors.
func (r *Registry) Lookup(name string) (Engine, error) {
	e, ok := r.engines[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, failure.Wrap(failure.ErrLogic, "engine", "lookup", fmt.Sprintf("unknown engine %q", name), nil)
	}
	return e, nil
}

// Resolve maps an ordered list of names to engines.
func (r *Registry) Resolve(order []string) ([]Engine, error) {
	if len(order) == 0 {
		return nil, failure.Wrap(failure.ErrLogic, "engine", "resolve", "empty engine order", nil)
	}
	out := make([]Engine, 0, len(order))
	for _, name := range order {
		e, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Names lists registered engine names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type disabledEngine struct {
	Engine
	reason string
}

// Disabled wraps e so that Available always reports a missing dependency.
func Disabled(e Engine, reason string) Engine {
	return disabledEngine{Engine: e, reason: reason}
}

func (d disabledEngine) Available() error {
	return failure.Wrap(failure.ErrDependencyMissing, "engine", d.Name(), d.reason, nil)
}

// Merge combines a formula pass and a value pass by address. A value found
// for a formula cell becomes its cached value.
func Merge(formulas, values map[string]snapshot.Sheet) map[string]snapshot.Sheet {
	out := make(map[string]snapshot.Sheet, max(len(formulas), len(values)))
	for name, sheet := range formulas {
		merged := make(snapshot.Sheet, len(sheet))
		for addr, cell := range sheet {
			if cell.Formula != "" {
				merged[addr] = snapshot.Cell{Formula: cell.Formula}
			}
		}
		out[name] = merged
	}
	for name, sheet := range values {
		merged, ok := out[name]
		if !ok {
			merged = make(snapshot.Sheet, len(sheet))
			out[name] = merged
		}
		for addr, cell := range sheet {
			if cell.Value == nil {
				continue
			}
			existing := merged[addr]
			if existing.Formula != "" {
				existing.Cached = cell.Value
			} else {
				existing.Value = cell.Value
			}
			merged[addr] = existing
		}
	}
	for name, sheet := range out {
		if len(sheet) == 0 {
			delete(out, name)
		}
	}
	return out
}

func wantSheet(targets []string, name string) bool {
	return len(targets) == 0 || slices.Contains(targets, name)
}

func contextFailure(ctx context.Context, engine, op string) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return failure.Wrap(failure.ErrTimeout, engine, op, "attempt budget exhausted", err)
	default:
		return failure.Wrap(failure.ErrInternal, engine, op, "canceled", err)
	}
}
