// Package scan drives the snapshot pipeline for workbooks: extract a fresh
// snapshot in a worker, compare it with the stored baseline, persist the new
// baseline when something changed, and record the outcome.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cellwatch/internal/baseline"
	"cellwatch/internal/config"
	"cellwatch/internal/diff"
	"cellwatch/internal/dispatch"
	"cellwatch/internal/failure"
	"cellwatch/internal/history"
	"cellwatch/internal/logging"
	"cellwatch/internal/task"
)

// Outcome summarizes the scan of one workbook.
type Outcome struct {
	ID           string       `json:"id"`
	FilePath     string       `json:"file_path"`
	BaselinePath string       `json:"baseline_path"`
	Status       string       `json:"status"`
	ServedBy     string       `json:"served_by,omitempty"`
	Diff         *diff.Result `json:"diff,omitempty"`
	Warnings     []string     `json:"warnings,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Err          error        `json:"-"`
}

// ErrorType reports the failure kind, or "" on success.
func (o Outcome) ErrorType() string {
	return failure.Kind(o.Err)
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithHistory records every outcome in store.
func WithHistory(store *history.Store) Option {
	return func(s *Scanner) { s.history = store }
}

// WithConcurrency bounds how many workbooks are in flight at once.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithReporter receives each outcome as soon as it is known.
func WithReporter(fn func(Outcome)) Option {
	return func(s *Scanner) { s.report = fn }
}

// Scanner runs scans through a task submitter.
type Scanner struct {
	submit      dispatch.Submitter
	cfg         *config.Config
	history     *history.Store
	concurrency int
	report      func(Outcome)
	logger      *slog.Logger
}

// New builds a scanner.
func New(cfg *config.Config, submit dispatch.Submitter, logger *slog.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		submit:      submit,
		cfg:         cfg,
		concurrency: cfg.Worker.PoolSize,
		logger:      logging.NewComponentLogger(logger, "scan"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	return s
}

// ScanFiles scans every path concurrently. A failed workbook never stops the
// others; outcomes are returned in input order.
func (s *Scanner) ScanFiles(ctx context.Context, paths []string) []Outcome {
	outcomes := make([]Outcome, len(paths))
	var group errgroup.Group
	group.SetLimit(s.concurrency)
	for i, path := range paths {
		group.Go(func() error {
			outcomes[i] = s.ScanFile(ctx, path)
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

// ScanFile scans one workbook.
func (s *Scanner) ScanFile(ctx context.Context, path string) Outcome {
	out := Outcome{ID: uuid.NewString(), FilePath: path, StartedAt: time.Now().UTC()}
	if abs, err := filepath.Abs(path); err == nil {
		out.FilePath = abs
	}
	out.BaselinePath = baseline.PathFor(s.cfg.Paths.BaselineDir, out.FilePath)

	ctx = logging.WithFilePath(logging.WithCorrelationID(ctx, out.ID), out.FilePath)
	logger := logging.WithContext(ctx, s.logger)

	if err := s.run(ctx, &out, logger); err != nil {
		out.Status = history.StatusFailed
		out.Err = err
		logger.Error("scan failed", logging.Error(err), logging.String("error_type", failure.Kind(err)))
	} else {
		logger.Info("scan complete",
			logging.String("status", out.Status),
			logging.String("served_by", out.ServedBy),
			logging.Int("total_changes", out.Diff.TotalChanges),
		)
	}
	out.FinishedAt = time.Now().UTC()

	s.record(ctx, out, logger)
	if s.report != nil {
		s.report(out)
	}
	return out
}

func (s *Scanner) run(ctx context.Context, out *Outcome, logger *slog.Logger) error {
	extracted, err := dispatch.Call[task.FullScanResult](ctx, s.submit, task.FullScan{
		FilePath:        out.FilePath,
		IncludeFormulas: s.cfg.Extraction.IncludeFormulas,
		IncludeValues:   s.cfg.Extraction.IncludeValues,
		BatchSize:       s.cfg.Extraction.BatchSize,
	}, false)
	if err != nil {
		return fmt.Errorf("extract snapshot: %w", err)
	}
	if extracted.Data == nil {
		return failure.Wrap(failure.ErrProtocol, "scan", "extract snapshot", "worker returned no data", nil)
	}
	out.ServedBy = extracted.ServedBy

	if s.cfg.Baseline.Validate {
		if err := s.validate(ctx, out, extracted, logger); err != nil {
			return err
		}
	}

	// Safe mode: an unreadable baseline is treated as absent and replaced.
	previous, err := dispatch.Call[task.LoadBaselineResult](ctx, s.submit, task.LoadBaseline{BaselinePath: out.BaselinePath}, true)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	if previous.Exists && previous.Data.IsEmpty() {
		logging.WarnWithContext(logger, "stored baseline has no cells", "baseline_unreadable",
			logging.String("baseline_path", out.BaselinePath),
			logging.String(logging.FieldImpact, "every cell is reported as added"),
		)
	}

	compared, err := dispatch.Call[task.CompareBaselineResult](ctx, s.submit, task.CompareBaseline{
		OldBaseline: previous.Data,
		NewData:     extracted.Data,
	}, false)
	if err != nil {
		return fmt.Errorf("compare baseline: %w", err)
	}
	out.Diff = compared

	switch {
	case !previous.Exists:
		out.Status = history.StatusBaselined
	case compared.HasChanges:
		out.Status = history.StatusChanged
	default:
		out.Status = history.StatusUnchanged
		return nil
	}

	if _, err := dispatch.Call[task.SaveBaselineResult](ctx, s.submit, task.SaveBaseline{
		BaselinePath:      out.BaselinePath,
		BaselineData:      extracted.Data,
		CompressionFormat: s.cfg.Baseline.CompressionFormat,
	}, false); err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}
	return nil
}

func (s *Scanner) validate(ctx context.Context, out *Outcome, extracted *task.FullScanResult, logger *slog.Logger) error {
	doc, err := json.Marshal(extracted.Data)
	if err != nil {
		return failure.Wrap(failure.ErrInternal, "scan", "encode snapshot", "", err)
	}
	report, err := dispatch.Call[task.ValidateBaselineResult](ctx, s.submit, task.ValidateBaseline{BaselineData: doc}, false)
	if err != nil {
		return fmt.Errorf("validate snapshot: %w", err)
	}
	out.Warnings = append(out.Warnings, report.Warnings...)
	for _, warning := range report.Warnings {
		logger.Debug("snapshot warning", logging.String("warning", warning))
	}
	if !report.IsValid {
		return failure.Wrap(failure.ErrFormat, "scan", "validate snapshot", strings.Join(report.Errors, "; "), nil)
	}
	return nil
}

func (s *Scanner) record(ctx context.Context, out Outcome, logger *slog.Logger) {
	if s.history == nil {
		return
	}
	row := history.Scan{
		ID:           out.ID,
		FilePath:     out.FilePath,
		BaselinePath: out.BaselinePath,
		StartedAt:    out.StartedAt,
		FinishedAt:   out.FinishedAt,
		Status:       out.Status,
		ServedBy:     out.ServedBy,
	}
	if out.Diff != nil {
		row.HasChanges = out.Diff.HasChanges
		row.TotalChanges = out.Diff.TotalChanges
		row.SheetsAdded = out.Diff.SheetsAdded
		row.SheetsRemoved = out.Diff.SheetsRemoved
		row.SheetsModified = out.Diff.SheetsModified
	}
	if out.Err != nil {
		row.ErrorType = failure.Kind(out.Err)
		row.ErrorMessage = out.Err.Error()
	}
	// The ledger write outlives a cancelled scan so failures are still recorded.
	if err := s.history.Record(context.WithoutCancel(ctx), row); err != nil {
		logging.WarnWithContext(logger, "history record failed", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "scan outcome missing from history"),
		)
	}
}
