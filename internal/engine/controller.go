package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"cellwatch/internal/failure"
	"cellwatch/internal/logging"
	"cellwatch/internal/snapshot"
)

// Policy orders engines and decides how failures are handled.
type Policy struct {
	Order           []string
	FallbackEnabled bool
	// Retries is the number of extra tries an engine gets before the
	// controller moves on.
	Retries int
}

// Attempt records one failed try.
type Attempt struct {
	Engine    string `json:"engine"`
	Try       int    `json:"attempt"`
	ErrorType string `json:"error_type"`
	Error     string `json:"error"`
}

// Result is the outcome of a controlled extraction.
type Result struct {
	Sheets   map[string]snapshot.Sheet
	ServedBy string
	Attempts []Attempt
}

// Call runs one extraction against one engine.
type Call func(ctx context.Context, e Engine) (map[string]snapshot.Sheet, error)

// Controller walks the engine order under a Policy.
type Controller struct {
	registry *Registry
	policy   Policy
	logger   *slog.Logger
}

// NewController builds a controller over registry.
func NewController(registry *Registry, policy Policy, logger *slog.Logger) *Controller {
	return &Controller{
		registry: registry,
		policy:   policy,
		logger:   logging.NewComponentLogger(logger, "engine"),
	}
}

// advances reports whether err lets the controller try again or move on.
// Logic and I/O errors stop the walk: another engine cannot fix either.
func advances(err error) bool {
	switch failure.Kind(err) {
	case failure.KindDependencyMissing, failure.KindFormat, failure.KindTimeout, failure.KindInternal:
		return true
	default:
		return false
	}
}

// Run tries engines in order until one succeeds.
func (c *Controller) Run(ctx context.Context, call Call) (*Result, error) {
	engines, err := c.registry.Resolve(c.policy.Order)
	if err != nil {
		return nil, err
	}
	tries := 1 + max(c.policy.Retries, 0)

	var (
		attempts []Attempt
		lastErr  error
	)
	record := func(e Engine, try int, err error) {
		attempts = append(attempts, Attempt{Engine: e.Name(), Try: try, ErrorType: failure.Kind(err), Error: err.Error()})
		lastErr = err
	}

	for i, e := range engines {
		if err := e.Available(); err != nil {
			record(e, 0, err)
		} else {
			for try := 1; try <= tries; try++ {
				if ctx.Err() != nil {
					return nil, failure.Wrap(failure.ErrInternal, "engine", "run", "canceled", ctx.Err())
				}
				sheets, err := c.attempt(ctx, e, call)
				if err == nil {
					if len(attempts) > 0 {
						logging.WarnWithContext(c.logger, "extraction served by fallback engine", "engine_fallback",
							logging.String(logging.FieldEngine, e.Name()),
							logging.Int("failed_attempts", len(attempts)),
							logging.String(logging.FieldImpact, "result produced by a secondary engine"),
						)
					}
					return &Result{Sheets: sheets, ServedBy: e.Name(), Attempts: attempts}, nil
				}
				record(e, try, err)
				c.logger.Debug("engine attempt failed",
					logging.String(logging.FieldEngine, e.Name()),
					logging.Int("attempt", try),
					logging.Error(err),
				)
				if !advances(err) {
					return nil, err
				}
			}
		}
		if !c.policy.FallbackEnabled {
			return nil, lastErr
		}
		if i+1 < len(engines) {
			c.logger.Info("falling back to next engine",
				logging.String("from", e.Name()),
				logging.String("to", engines[i+1].Name()),
				logging.String("reason", failure.Kind(lastErr)),
			)
		}
	}
	return nil, fmt.Errorf("all engines failed (%s): %w", strings.Join(c.policy.Order, ", "), lastErr)
}

type outcome struct {
	sheets map[string]snapshot.Sheet
	err    error
}

// attempt runs call under the engine's own budget. A panicking engine is
// reported as an internal error; an engine that overruns its budget is
// abandoned and reported as a timeout.
func (c *Controller) attempt(ctx context.Context, e Engine, call Call) (map[string]snapshot.Sheet, error) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if budget := e.Timeout(); budget > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, budget)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("engine panicked",
					logging.String(logging.FieldEngine, e.Name()),
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
				)
				done <- outcome{err: failure.Wrap(failure.ErrInternal, e.Name(), "extract", fmt.Sprintf("panic: %v", r), nil)}
			}
		}()
		sheets, err := call(attemptCtx, e)
		done <- outcome{sheets: sheets, err: err}
	}()

	select {
	case out := <-done:
		return out.sheets, out.err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, failure.Wrap(failure.ErrTimeout, e.Name(), "extract",
				fmt.Sprintf("exceeded %s budget", e.Timeout()), attemptCtx.Err())
		}
		return nil, failure.Wrap(failure.ErrInternal, e.Name(), "extract", "canceled", attemptCtx.Err())
	}
}
