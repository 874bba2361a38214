package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldWorkerID tags every record emitted by or about a worker process.
	FieldWorkerID = "worker_id"
	// FieldTaskType is the task kind being executed.
	FieldTaskType = "task_type"
	// FieldFilePath is the workbook or baseline a record refers to.
	FieldFilePath = "file_path"
	// FieldEngine is the extraction engine name.
	FieldEngine = "engine"
	// FieldCorrelationID ties together the tasks of a single scan.
	FieldCorrelationID = "correlation_id"
	// FieldEventType is a stable machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step for an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey string

const (
	workerIDKey      contextKey = "worker_id"
	taskTypeKey      contextKey = "task_type"
	filePathKey      contextKey = "file_path"
	correlationIDKey contextKey = "correlation_id"
)

// WithWorkerID annotates context with the worker identifier.
func WithWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerIDKey, id)
}

// WithTaskType annotates context with the task kind.
func WithTaskType(ctx context.Context, kind string) context.Context {
	if kind == "" {
		return ctx
	}
	return context.WithValue(ctx, taskTypeKey, kind)
}

// WithFilePath annotates context with the file under inspection.
func WithFilePath(ctx context.Context, path string) context.Context {
	if path == "" {
		return ctx
	}
	return context.WithValue(ctx, filePathKey, path)
}

// WithCorrelationID annotates context with a scan correlation identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation identifier if present.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(correlationIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// contextFields extracts the standard attributes carried by ctx.
func contextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := ctx.Value(workerIDKey).(int); ok {
		fields = append(fields, slog.Int(FieldWorkerID, id))
	}
	if kind, ok := ctx.Value(taskTypeKey).(string); ok {
		fields = append(fields, slog.String(FieldTaskType, kind))
	}
	if path, ok := ctx.Value(filePathKey).(string); ok {
		fields = append(fields, slog.String(FieldFilePath, path))
	}
	if rid, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := contextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(toArgs(fields)...)
}
