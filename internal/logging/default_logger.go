package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type defaultSLogger struct {
	l *slog.Logger
}

// NewDefaultLogger constructs a slog-backed Logger with JSON output to
// stdout, reading its level from LOG_LEVEL directly. Callers that have
// already loaded a Config should use NewDefaultLoggerWithLevel instead,
// so the level reflects the fully resolved (YAML + env) configuration.
func NewDefaultLogger() Logger {
	return NewDefaultLoggerWithLevel(os.Getenv("LOG_LEVEL"))
}

// NewDefaultLoggerWithLevel constructs a slog-backed Logger with JSON
// output to stdout at the given level (see parseLevel for accepted
// values; anything else falls back to info).
func NewDefaultLoggerWithLevel(level string) Logger {
	lvl := parseLevel(level)
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	l := slog.New(h).With("service", "miniredis")
	return &defaultSLogger{l: l}
}

func (d *defaultSLogger) withTrace(ctx context.Context) *slog.Logger {
	l := d.l
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With("trace_id", sc.TraceID().String())
	}
	if sc.HasSpanID() {
		l = l.With("span_id", sc.SpanID().String())
	}
	return l
}

func (d *defaultSLogger) Info(ctx context.Context, msg string, keysAndValues ...any) {
	d.withTrace(ctx).Info(msg, keysAndValues...)
}

func (d *defaultSLogger) Warn(ctx context.Context, msg string, keysAndValues ...any) {
	d.withTrace(ctx).Warn(msg, keysAndValues...)
}

func (d *defaultSLogger) Error(ctx context.Context, msg string, keysAndValues ...any) {
	d.withTrace(ctx).Error(msg, keysAndValues...)
}

func (d *defaultSLogger) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	d.withTrace(ctx).Debug(msg, keysAndValues...)
}

func (d *defaultSLogger) With(keysAndValues ...any) Logger {
	return &defaultSLogger{l: d.l.With(keysAndValues...)}
}

// parseLevel converts LOG_LEVEL into a slog.Leveler
func parseLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		lvl := slog.LevelDebug
		return &lvl
	case "warn", "warning":
		lvl := slog.LevelWarn
		return &lvl
	case "error":
		lvl := slog.LevelError
		return &lvl
	case "info", "":
		fallthrough
	default:
		lvl := slog.LevelInfo
		return &lvl
	}
}
