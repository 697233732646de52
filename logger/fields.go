package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across preempt.
// Use these constants instead of raw strings so journal and log output line up.
const (
	// Identity
	FieldJobID     = "job_id"
	FieldArrayTask = "array_task"
	FieldRunID     = "run_id"
	FieldRestart   = "restart_count"

	// Components
	FieldComponent = "component"

	// Signal handling
	FieldSignal = "signal"
	FieldKind   = "kind"
	FieldState  = "state"
	FieldAction = "action"

	// Timing
	FieldDurationMS    = "duration_ms"
	FieldCheckpointAge = "checkpoint_age"

	// Errors
	FieldError     = "error"
	FieldTransient = "transient"

	// Workload
	FieldPID      = "pid"
	FieldExitCode = "exit_code"
	FieldCommand  = "command"
	FieldFile     = "file"
)

type contextKey string

const (
	jobIDKey contextKey = "logger_job_id"
	runIDKey contextKey = "logger_run_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRunID adds a run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	h := preempt.New(j, client, preempt.WithLogger(logger.ComponentLogger("preempt")))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
