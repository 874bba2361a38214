// Package worker executes exactly one task per process: it reads a request
// document from stdin, writes one response document to stdout, and sends all
// diagnostics to stderr.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"

	"cellwatch/internal/baseline"
	"cellwatch/internal/codec"
	"cellwatch/internal/config"
	"cellwatch/internal/diff"
	"cellwatch/internal/engine"
	"cellwatch/internal/failure"
	"cellwatch/internal/logging"
	"cellwatch/internal/snapshot"
	"cellwatch/internal/task"
	"cellwatch/internal/validate"
	"cellwatch/internal/xlsxml"
)

// Executor runs decoded tasks.
type Executor struct {
	cfg     *config.Config
	engines *engine.Registry
	codecs  *codec.Registry
	store   *baseline.Store
	logger  *slog.Logger
}

// NewExecutor wires engines, codecs, and the baseline store from cfg.
func NewExecutor(cfg *config.Config, logger *slog.Logger) *Executor {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	codecs := codec.NewRegistry(cfg.Baseline.DisabledCodecs...)
	return &Executor{
		cfg:     cfg,
		engines: engine.DefaultRegistry(cfg.EngineTimeout(), cfg.Extraction.DisabledEngines),
		codecs:  codecs,
		store:   baseline.NewStore(codecs, logger),
		logger:  logger,
	}
}

// Execute runs req and always returns a response; panics become internal
// failures carrying the stack as traceback.
func (x *Executor) Execute(ctx context.Context, req task.Request) (resp task.Response) {
	ctx = logging.WithTaskType(logging.WithWorkerID(ctx, req.WorkerID), string(req.TaskType))
	logger := logging.WithContext(ctx, x.logger)

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err := failure.Wrap(failure.ErrInternal, "worker", string(req.TaskType), fmt.Sprintf("panic: %v", r), nil)
			logger.Error("task panicked", logging.Error(err))
			resp = task.Failed(req.WorkerID, err, stack)
		}
	}()

	t, err := req.Decode()
	if err != nil {
		logger.Error("task rejected", logging.Error(err), logging.String("error_type", failure.Kind(err)))
		return task.Failed(req.WorkerID, err, "")
	}

	logger.Info("task started", logging.Bool("safe_mode", req.SafeMode))
	payload, err := x.run(ctx, t, req.SafeMode, logger)
	if err != nil {
		logger.Error("task failed", logging.Error(err), logging.String("error_type", failure.Kind(err)))
		return task.Failed(req.WorkerID, err, "")
	}
	logger.Info("task finished")
	return task.Succeeded(req.WorkerID, payload)
}

func (x *Executor) run(ctx context.Context, t task.Task, safe bool, logger *slog.Logger) (any, error) {
	switch t := t.(type) {
	case task.ExtractRefs:
		return x.extractRefs(t, safe, logger)
	case task.ReadMeta:
		return x.readMeta(t, safe, logger)
	case task.ReadValues:
		return x.readValues(ctx, t, safe, logger)
	case task.FullScan:
		return x.fullScan(ctx, t, safe, logger)
	case task.LoadBaseline:
		return x.loadBaseline(t, safe)
	case task.SaveBaseline:
		return x.saveBaseline(ctx, t)
	case task.CompareBaseline:
		return diff.Compare(t.OldBaseline, t.NewData), nil
	case task.ValidateBaseline:
		report := validate.Raw(t.BaselineData)
		return &report, nil
	case task.DecompressJSON:
		return x.decompressJSON(t, safe)
	default:
		return nil, failure.Wrap(failure.ErrUnsupportedTask, "worker", "dispatch", fmt.Sprintf("no handler for %T", t), nil)
	}
}

// absorb returns fallback instead of err when safe mode may swallow it.
func absorb[T any](safe bool, logger *slog.Logger, fallback T, err error) (T, error) {
	if safe && failure.Recoverable(err) {
		logging.WarnWithContext(logger, "recoverable failure absorbed by safe mode", "safe_mode_absorbed",
			logging.Error(err),
			logging.String("error_type", failure.Kind(err)),
			logging.String(logging.FieldImpact, "result is empty or partial"),
		)
		return fallback, nil
	}
	var zero T
	return zero, err
}

func (x *Executor) extractRefs(t task.ExtractRefs, safe bool, logger *slog.Logger) (*task.ExtractRefsResult, error) {
	empty := &task.ExtractRefsResult{Refs: map[string]string{}}
	reader, err := xlsxml.Open(t.FilePath)
	if err != nil {
		return absorb(safe, logger, empty, err)
	}
	defer reader.Close()

	refs, err := reader.ExternalRefs()
	if err != nil {
		return absorb(safe, logger, empty, err)
	}
	out := &task.ExtractRefsResult{Refs: make(map[string]string, len(refs))}
	for n, target := range refs {
		out.Refs[strconv.Itoa(n)] = target
	}
	return out, nil
}

func (x *Executor) readMeta(t task.ReadMeta, safe bool, logger *slog.Logger) (*task.ReadMetaResult, error) {
	empty := &task.ReadMetaResult{}
	reader, err := xlsxml.Open(t.FilePath)
	if err != nil {
		return absorb(safe, logger, empty, err)
	}
	defer reader.Close()

	props, err := reader.CoreProperties()
	if err != nil {
		return absorb(safe, logger, empty, err)
	}
	return &task.ReadMetaResult{LastAuthor: props.LastAuthor(), Created: props.Created, Modified: props.Modified}, nil
}

func (x *Executor) policy() engine.Policy {
	return engine.Policy{
		Order:           x.cfg.Extraction.Engines,
		FallbackEnabled: x.cfg.Extraction.FallbackEnabled,
		Retries:         x.cfg.Extraction.Retries,
	}
}

func (x *Executor) options(safe bool, batch int, logger *slog.Logger) engine.Options {
	if batch <= 0 {
		batch = x.cfg.Extraction.BatchSize
	}
	return engine.Options{
		IncludeFormulas: x.cfg.Extraction.IncludeFormulas,
		IncludeValues:   x.cfg.Extraction.IncludeValues,
		BatchSize:       batch,
		Safe:            safe,
		Logger:          logger,
	}
}

func (x *Executor) readValues(ctx context.Context, t task.ReadValues, safe bool, logger *slog.Logger) (*task.ReadValuesResult, error) {
	policy := x.policy()
	if t.Engine != "" {
		policy = engine.Policy{Order: []string{t.Engine}, Retries: x.cfg.Extraction.Retries}
	}
	opts := x.options(safe, 0, logger)
	controller := engine.NewController(x.engines, policy, logger)
	result, err := controller.Run(ctx, func(ctx context.Context, e engine.Engine) (map[string]snapshot.Sheet, error) {
		return e.ExtractValues(ctx, t.FilePath, t.Sheets, opts)
	})
	if err != nil {
		return absorb(safe, logger, &task.ReadValuesResult{Values: map[string]snapshot.Sheet{}}, err)
	}
	return &task.ReadValuesResult{Values: result.Sheets, ServedBy: result.ServedBy, Attempts: result.Attempts}, nil
}

func (x *Executor) fullScan(ctx context.Context, t task.FullScan, safe bool, logger *slog.Logger) (*task.FullScanResult, error) {
	opts := x.options(safe, t.BatchSize, logger)
	opts.IncludeFormulas, opts.IncludeValues = t.IncludeFormulas, t.IncludeValues

	controller := engine.NewController(x.engines, x.policy(), logger)
	result, err := controller.Run(ctx, func(ctx context.Context, e engine.Engine) (map[string]snapshot.Sheet, error) {
		return e.FullScan(ctx, t.FilePath, opts)
	})
	if err != nil {
		empty := snapshot.New(nil)
		empty.SourcePath = t.FilePath
		return absorb(safe, logger, &task.FullScanResult{Data: empty}, err)
	}

	data := snapshot.New(result.Sheets)
	data.SourcePath = t.FilePath
	data.ServedBy = result.ServedBy
	data.Prune()
	logger.Info("workbook scanned",
		logging.String(logging.FieldFilePath, t.FilePath),
		logging.String("served_by", result.ServedBy),
		logging.Int("sheets", len(data.Cells)),
	)
	return &task.FullScanResult{Data: data, ServedBy: result.ServedBy, Attempts: result.Attempts}, nil
}

func (x *Executor) loadBaseline(t task.LoadBaseline, safe bool) (*task.LoadBaselineResult, error) {
	_, statErr := os.Stat(t.BaselinePath)
	data, format, err := x.store.Load(t.BaselinePath, safe)
	if err != nil {
		return nil, err
	}
	return &task.LoadBaselineResult{Data: data, Format: string(format), Exists: statErr == nil}, nil
}

// saveBaseline never absorbs failures: reporting success for a baseline that
// was not written would make the next scan compare against stale data.
func (x *Executor) saveBaseline(ctx context.Context, t task.SaveBaseline) (*task.SaveBaselineResult, error) {
	name := t.CompressionFormat
	if name == "" {
		name = x.cfg.Baseline.CompressionFormat
	}
	format, err := codec.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	if err := x.store.Save(ctx, t.BaselinePath, t.BaselineData, format); err != nil {
		return nil, err
	}
	return &task.SaveBaselineResult{BaselinePath: t.BaselinePath, Format: string(format)}, nil
}

func (x *Executor) decompressJSON(t task.DecompressJSON, safe bool) (*task.DecompressJSONResult, error) {
	blob, err := os.ReadFile(t.FilePath)
	if err != nil {
		err = failure.Wrap(failure.ErrIO, "worker", "decompress_json", t.FilePath, err)
		return absorb(safe, x.logger, &task.DecompressJSONResult{Format: string(codec.FormatUnknown)}, err)
	}
	payload, format, err := x.codecs.Decompress(blob, safe)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return &task.DecompressJSONResult{Format: string(format)}, nil
	}
	if !json.Valid(payload) {
		err := failure.Wrap(failure.ErrFormat, "worker", "decompress_json", "payload is not JSON", nil)
		return absorb(safe, x.logger, &task.DecompressJSONResult{Format: string(format)}, err)
	}
	return &task.DecompressJSONResult{Data: payload, Format: string(format)}, nil
}

// Run is the worker process entry point. It returns the process exit code:
// 0 when the response reports success, 1 otherwise.
func Run(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer) int {
	input, err := io.ReadAll(stdin)
	var resp task.Response
	workerID := 0
	switch {
	case err != nil:
		resp = task.Failed(0, failure.Wrap(failure.ErrProtocol, "worker", "read request", "", err), "")
	default:
		req, perr := task.ParseRequest(input)
		if perr != nil {
			workerID = task.PeekWorkerID(input)
			resp = task.Failed(workerID, perr, "")
			break
		}
		workerID = req.WorkerID
		logger, lerr := logging.NewWorker(cfg, stderr, req.WorkerID)
		if lerr != nil {
			fmt.Fprintf(stderr, "worker %d: logger unavailable: %v\n", req.WorkerID, lerr)
			logger = logging.NewNop()
		}
		resp = NewExecutor(cfg, logger).Execute(ctx, req)
	}

	return writeResponse(stdout, stderr, workerID, resp)
}

// writeResponse emits resp as the single result document. A response that
// cannot be encoded is replaced by an internal failure so stdout never stays
// empty.
func writeResponse(stdout, stderr io.Writer, workerID int, resp task.Response) int {
	doc, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintf(stderr, "worker %d: encode response: %v\n", workerID, err)
		resp = task.Failed(workerID, failure.Wrap(failure.ErrInternal, "worker", "encode response", "", err), "")
		if doc, err = json.Marshal(resp); err != nil {
			fmt.Fprintf(stderr, "worker %d: encode failure response: %v\n", workerID, err)
			return 1
		}
	}
	if _, err := stdout.Write(append(doc, '\n')); err != nil {
		fmt.Fprintf(stderr, "worker %d: write response: %v\n", workerID, err)
		return 1
	}
	if resp.Success {
		return 0
	}
	return 1
}
