// Package logging provides the structured logger shared by every package in
// this module. It keeps the field-based, context-propagating API shape used
// throughout the codebase, backed by logrus for the actual formatting and
// level filtering.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/skywa04885/arm-v5/internal/config"
)

// TraceIDField is the canonical structured logging field for trace identifiers,
// attached to every log line emitted through a trace-derived logger.
const TraceIDField = "trace_id"

type contextKey string

var (
	loggerContextKey = contextKey("arm-logger")
	traceContextKey  = contextKey("arm-trace-id")

	globalMu     sync.RWMutex
	globalLogger = newNopLogger()
)

// Field represents a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 returns an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Uint64 returns a uint64 field.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Float64 returns a float64 field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Error returns an error field.
func Error(err error) Field { return Field{Key: "error", Value: err} }

// Logger emits structured logs with optional contextual fields, via logrus.
type Logger struct {
	entry *logrus.Entry
}

// New constructs a logger configured per cfg. It always writes to stderr and,
// when cfg.Path is set and not "-", also appends to that file.
func New(cfg config.LoggingConfig) (*Logger, error) {
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}

	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(level)

	var out io.Writer = os.Stderr
	if path := strings.TrimSpace(cfg.Path); path != "" && path != "-" {
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stderr, file)
	}
	base.SetOutput(out)

	logger := &Logger{entry: logrus.NewEntry(base).WithField("service", "arm-client")}
	ReplaceGlobals(logger)
	return logger, nil
}

// NewTestLogger returns a logger that discards output, suitable for tests.
func NewTestLogger() *Logger {
	return newNopLogger()
}

func newNopLogger() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

// ReplaceGlobals swaps the fallback logger used when no context logger is present.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With augments the logger with additional structured fields.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	data := make(logrus.Fields, len(fields))
	for _, field := range fields {
		data[field.Key] = field.Value
	}
	return &Logger{entry: l.entry.WithFields(data)}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...Field) { l.log(logrus.DebugLevel, message, fields...) }

// Info logs an informational message.
func (l *Logger) Info(message string, fields ...Field) { l.log(logrus.InfoLevel, message, fields...) }

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...Field) { l.log(logrus.WarnLevel, message, fields...) }

// Error logs an error message.
func (l *Logger) Error(message string, fields ...Field) { l.log(logrus.ErrorLevel, message, fields...) }

func (l *Logger) log(level logrus.Level, message string, fields ...Field) {
	if l == nil {
		L().log(level, message, fields...)
		return
	}
	entry := l.entry
	if len(fields) > 0 {
		data := make(logrus.Fields, len(fields))
		for _, field := range fields {
			data[field.Key] = field.Value
		}
		entry = entry.WithFields(data)
	}
	entry.Log(level, message)
}

// ContextWithLogger stores a logger in the provided context.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext retrieves a logger from context or falls back to the global logger.
func LoggerFromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok && logger != nil {
		return logger
	}
	return L()
}

// ContextWithTraceID stores a trace identifier in context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, traceID)
}

// TraceIDFromContext extracts a trace identifier from context.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceContextKey).(string); ok {
		return traceID
	}
	return ""
}

// GenerateTraceID creates a random 16-byte trace identifier represented as hex.
func GenerateTraceID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "unavailable"
	}
	return hex.EncodeToString(buf)
}

// WithTrace enriches the context with a trace ID and returns the derived logger.
func WithTrace(ctx context.Context, base *Logger, traceID string) (context.Context, *Logger, string) {
	tid := strings.TrimSpace(traceID)
	if tid == "" {
		tid = GenerateTraceID()
	}
	if base == nil {
		base = L()
	}
	derived := base.With(String(TraceIDField, tid))
	ctx = ContextWithTraceID(ctx, tid)
	ctx = ContextWithLogger(ctx, derived)
	return ctx, derived, tid
}
