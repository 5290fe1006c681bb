// Package logger provides the zap-based application logger.
package logger

import (
	"context"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level controls the minimum level a Logger emits.
type Level = zapcore.Level

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
)

// Logger writes structured JSON log lines, annotating each record with the
// service name and the trace id of the active span when one exists.
type Logger struct {
	z         *zap.SugaredLogger
	traceIDFn func(ctx context.Context) string
}

// New constructs a Logger writing to w at the given level. traceIDFn may be
// nil when tracing is not configured.
func New(w io.Writer, level Level, service string, traceIDFn func(ctx context.Context) string) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(w), level)
	z := zap.New(core).With(zap.String("service", service)).Sugar()
	return &Logger{z: z, traceIDFn: traceIDFn}
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	l.z.Debugw(msg, l.annotate(ctx, keysAndValues)...)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, keysAndValues ...any) {
	l.z.Infow(msg, l.annotate(ctx, keysAndValues)...)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, keysAndValues ...any) {
	l.z.Warnw(msg, l.annotate(ctx, keysAndValues)...)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, keysAndValues ...any) {
	l.z.Errorw(msg, l.annotate(ctx, keysAndValues)...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

func (l *Logger) annotate(ctx context.Context, keysAndValues []any) []any {
	if l.traceIDFn == nil {
		return keysAndValues
	}
	id := l.traceIDFn(ctx)
	if id == "" {
		return keysAndValues
	}
	return append(keysAndValues, "trace_id", id)
}
