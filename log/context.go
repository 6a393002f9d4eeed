package log

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// LogContextKey is the context key holding a *Logger
var LogContextKey = contextKey{}

// MergeFields merges multiple field sets into a single KV; later sets win
func MergeFields(fieldSets ...KV) KV {
	result := make(KV)
	for _, fields := range fieldSets {
		for k, v := range fields {
			result[k] = v
		}
	}
	return result
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithContext returns a copy of ctx carrying the logger
func (l *Logger) WithContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, LogContextKey, l)
}

// NewRequestContext creates a new context with a logger that has a trace ID
// Each user-facing operation gets its own trace
func NewRequestContext(parentCtx context.Context, moduleName string) (context.Context, *Logger) {
	logger := New(moduleName).WithTraceID(NewTraceID())
	return logger.WithContext(parentCtx), logger
}

// FromContext extracts a logger from the given context
// If no logger is found, a new default logger is created
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return New("default")
	}
	logger, ok := ctx.Value(LogContextKey).(*Logger)
	if !ok {
		return New("default")
	}
	return logger
}

// WithField adds a field to the logger in the context and returns the updated context
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return FromContext(ctx).WithField(key, value).WithContext(ctx)
}

// WithFields adds multiple fields to the logger in the context and returns the updated context
func WithFields(ctx context.Context, fields KV) context.Context {
	logger := FromContext(ctx)
	for k, v := range fields {
		logger = logger.WithField(k, v)
	}
	return logger.WithContext(ctx)
}

// Debug logs a debug message with the logger from the context
func Debug(ctx context.Context, msg string, fields ...KV) {
	FromContext(ctx).Debug(msg, fields...)
}

// Info logs an info message with the logger from the context
func Info(ctx context.Context, msg string, fields ...KV) {
	FromContext(ctx).Info(msg, fields...)
}

// Warn logs a warning message with the logger from the context
func Warn(ctx context.Context, msg string, fields ...KV) {
	FromContext(ctx).Warn(msg, fields...)
}

// Error logs an error message with the logger from the context
func Error(ctx context.Context, err error, msg string, fields ...KV) {
	FromContext(ctx).Error(err, msg, fields...)
}
