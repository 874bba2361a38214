// Package dispatch runs tasks in disposable worker processes. Each task gets
// a fresh process, a bounded slot in the pool, and a hard deadline after
// which the whole process group is killed.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"cellwatch/internal/config"
	"cellwatch/internal/failure"
	"cellwatch/internal/logging"
	"cellwatch/internal/task"
)

var commandContext = exec.CommandContext

// Option configures a Pool.
type Option func(*Pool)

// WithBinary overrides the worker executable and its arguments.
func WithBinary(binary string, args ...string) Option {
	return func(p *Pool) {
		if binary != "" {
			p.binary = binary
			p.args = args
		}
	}
}

// WithConfigPath forwards a configuration file to every worker.
func WithConfigPath(path string) Option {
	return func(p *Pool) {
		if path != "" {
			p.configPath = path
		}
	}
}

// WithEnv sets the worker environment. Nil inherits the parent environment.
func WithEnv(env []string) Option {
	return func(p *Pool) {
		p.env = env
	}
}

// WithTimeout overrides the per-task deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Pool) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithSize overrides how many workers may run at once.
func WithSize(size int) Option {
	return func(p *Pool) {
		if size > 0 {
			p.size = size
		}
	}
}

// Pool bounds concurrent worker processes.
type Pool struct {
	binary     string
	args       []string
	configPath string
	env        []string
	timeout    time.Duration
	size       int

	slots  *semaphore.Weighted
	nextID atomic.Int64
	logger *slog.Logger
}

// New builds a pool from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New("dispatch: config is required")
	}
	binary, args, err := cfg.WorkerCommand()
	if err != nil {
		return nil, failure.Wrap(failure.ErrDependencyMissing, "dispatch", "resolve worker", "", err)
	}
	p := &Pool{
		binary:  binary,
		args:    args,
		timeout: cfg.TaskTimeout(),
		size:    cfg.Worker.PoolSize,
		logger:  logging.NewComponentLogger(logger, "dispatch"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.size <= 0 {
		p.size = 1
	}
	p.slots = semaphore.NewWeighted(int64(p.size))
	return p, nil
}

// Size reports the maximum number of concurrent workers.
func (p *Pool) Size() int { return p.size }

// Submit runs t in a new worker process and returns its response. Every
// failure, including timeouts and misbehaving workers, is reported as a
// failed response rather than an error.
func (p *Pool) Submit(ctx context.Context, t task.Task, safe bool) task.Response {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return task.Failed(0, contextFailure(err, "waiting for a worker slot"), "")
	}
	defer p.slots.Release(1)

	id := int(p.nextID.Add(1))
	req, err := task.NewRequest(t, safe, id)
	if err != nil {
		return task.Failed(id, err, "")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return task.Failed(id, failure.Wrap(failure.ErrInternal, "dispatch", "encode request", "", err), "")
	}

	logger := p.logger.With(
		logging.Int(logging.FieldWorkerID, id),
		logging.String(logging.FieldTaskType, string(t.Kind())),
	)
	if cid, ok := logging.CorrelationIDFromContext(ctx); ok {
		logger = logger.With(logging.String(logging.FieldCorrelationID, cid))
	}
	return p.spawn(ctx, id, payload, logger)
}

func (p *Pool) spawn(ctx context.Context, id int, payload []byte, logger *slog.Logger) task.Response {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := append([]string{}, p.args...)
	if p.configPath != "" {
		args = append(args, "--config", p.configPath)
	}
	cmd := commandContext(runCtx, p.binary, args...) //nolint:gosec
	cmd.Env = p.env
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	diag := newLineLogger(logger, stderrTailLines)
	cmd.Stderr = diag
	isolate(cmd)

	started := time.Now()
	logger.Debug("worker starting", logging.String("binary", p.binary))
	if err := cmd.Start(); err != nil {
		marker := failure.ErrInternal
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			marker = failure.ErrDependencyMissing
		}
		return task.Failed(id, failure.Wrap(marker, "dispatch", "start worker", p.binary, err), "")
	}
	waitErr := cmd.Wait()
	diag.Flush()
	elapsed := time.Since(started)

	if runCtx.Err() != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			logging.WarnWithContext(logger, "worker killed after deadline", "worker_timeout",
				logging.Duration("timeout", p.timeout),
				logging.String(logging.FieldErrorHint, "raise worker.task_timeout_seconds or inspect the workbook"),
				logging.String(logging.FieldImpact, "task result discarded"),
			)
			return task.Failed(id, failure.Wrap(failure.ErrTimeout, "dispatch", "run worker",
				fmt.Sprintf("worker exceeded %s", p.timeout), nil), "")
		}
		return task.Failed(id, contextFailure(ctx.Err(), "running worker"), "")
	}

	exitCode := cmd.ProcessState.ExitCode()
	resp, err := parseResponse(stdout.Bytes())
	if err != nil {
		detail := fmt.Sprintf("exit code %d", exitCode)
		if tail := diag.Tail(); tail != "" {
			detail += ": " + tail
		}
		logger.Error("worker produced no usable response",
			logging.Error(err),
			logging.Int("exit_code", exitCode),
			logging.Any("wait_error", waitErr),
		)
		return task.Failed(id, failure.Wrap(failure.ErrProtocol, "dispatch", "read response", detail, err), "")
	}
	if resp.WorkerID != id {
		return task.Failed(id, failure.Wrap(failure.ErrProtocol, "dispatch", "read response",
			fmt.Sprintf("response for worker %d, expected %d", resp.WorkerID, id), nil), "")
	}
	if resp.Success != (exitCode == 0) {
		return task.Failed(id, failure.Wrap(failure.ErrProtocol, "dispatch", "read response",
			fmt.Sprintf("success=%t disagrees with exit code %d", resp.Success, exitCode), nil), "")
	}

	logger.Debug("worker finished",
		logging.Bool("success", resp.Success),
		logging.Duration("elapsed", elapsed),
	)
	return resp
}

// parseResponse requires exactly one JSON document on stdout.
func parseResponse(data []byte) (task.Response, error) {
	var resp task.Response
	if len(bytes.TrimSpace(data)) == 0 {
		return resp, errors.New("empty stdout")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&resp); err != nil {
		return resp, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return resp, errors.New("trailing output after response document")
	}
	return resp, nil
}

func contextFailure(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.Wrap(failure.ErrTimeout, "dispatch", what, "deadline exceeded", err)
	}
	return failure.Wrap(failure.ErrInternal, "dispatch", what, "cancelled", err)
}

// Submitter runs one task and reports its response.
type Submitter interface {
	Submit(ctx context.Context, t task.Task, safe bool) task.Response
}

// Call submits t and decodes a successful response into T. A failed
// response is returned as a *task.RemoteError.
func Call[T any](ctx context.Context, s Submitter, t task.Task, safe bool) (*T, error) {
	resp := s.Submit(ctx, t, safe)
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var out T
	if err := resp.Decode(&out); err != nil {
		return nil, failure.Wrap(failure.ErrProtocol, "dispatch", "decode result", string(t.Kind()), err)
	}
	return &out, nil
}

const stderrTailLines = 5

// lineLogger forwards worker stderr to the orchestrator log one line at a
// time and keeps the last few lines for failure messages.
type lineLogger struct {
	logger  *slog.Logger
	pending []byte
	tail    []string
	keep    int
}

func newLineLogger(logger *slog.Logger, keep int) *lineLogger {
	return &lineLogger{logger: logger, keep: keep}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.pending = append(l.pending, p...)
	for {
		idx := bytes.IndexByte(l.pending, '\n')
		if idx < 0 {
			break
		}
		l.emit(string(l.pending[:idx]))
		l.pending = l.pending[idx+1:]
	}
	return len(p), nil
}

// Flush emits any unterminated final line.
func (l *lineLogger) Flush() {
	if len(l.pending) > 0 {
		l.emit(string(l.pending))
		l.pending = nil
	}
}

func (l *lineLogger) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	l.logger.Debug("worker output", logging.String("line", line))
	l.tail = append(l.tail, line)
	if len(l.tail) > l.keep {
		l.tail = l.tail[len(l.tail)-l.keep:]
	}
}

// Tail returns the retained lines joined with " | ".
func (l *lineLogger) Tail() string {
	return strings.Join(l.tail, " | ")
}
