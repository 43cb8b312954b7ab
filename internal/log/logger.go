package log

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"

	"github.com/felixgeelhaar/loom/internal/errors"
)

// Logger provides structured logging with slog
type Logger struct {
	slog   *slog.Logger
	level  *slog.LevelVar
	config Config
}

// New creates a new Logger with the given configuration
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	level := new(slog.LevelVar)
	level.Set(config.Level.ToSlogLevel())

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if config.ServiceName != "" {
		logger = logger.With("service", config.ServiceName)
	}
	if config.ServiceVersion != "" {
		logger = logger.With("version", config.ServiceVersion)
	}

	return &Logger{slog: logger, level: level, config: config}
}

// Default creates a logger with default configuration
func Default() *Logger {
	return New(DefaultConfig())
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *Logger {
	return New(Config{Output: io.Discard, Level: LevelError})
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *Logger) *Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// SetLevel changes the minimum level of this logger and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level.ToSlogLevel())
	l.config.Level = level
}

// With returns a new Logger with the given attributes added to all log entries
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), level: l.level, config: l.config}
}

// WithGroup returns a new Logger with a group name that prefixes all attributes
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{slog: l.slog.WithGroup(name), level: l.level, config: l.config}
}

// ForRun scopes the logger to one engine run.
func (l *Logger) ForRun(runID string) *Logger {
	return l.With("run_id", runID)
}

// ForNode scopes the logger to one graph node.
func (l *Logger) ForNode(nodeID string) *Logger {
	return l.With("node_id", nodeID)
}

// ForWave scopes the logger to one scheduling wave.
func (l *Logger) ForWave(index int) *Logger {
	return l.With("wave", index)
}

// ForCandidate scopes the logger to one plan candidate.
func (l *Logger) ForCandidate(candidateID string) *Logger {
	return l.With("candidate_id", candidateID)
}

// WithError adds error details to the logger.
// Coded errors contribute error_code, LoomErrors also their suggestions.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.With(errorAttrs(err, false)...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// DebugContext logs a debug message with context
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slog.DebugContext(ctx, msg, args...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// InfoContext logs an info message with context
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slog.InfoContext(ctx, msg, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// WarnContext logs a warning message with context
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slog.WarnContext(ctx, msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

// ErrorContext logs an error message with context
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slog.ErrorContext(ctx, msg, args...)
}

// LogError logs an error with every detail it carries
func (l *Logger) LogError(err error) {
	l.LogErrorContext(context.Background(), err)
}

// LogErrorContext logs an error with every detail it carries and context
func (l *Logger) LogErrorContext(ctx context.Context, err error) {
	if err == nil {
		return
	}
	l.slog.ErrorContext(ctx, "operation failed", errorAttrs(err, true)...)
}

func errorAttrs(err error, withDocs bool) []any {
	var loomErr *errors.LoomError
	if stderrors.As(err, &loomErr) {
		args := []any{
			"error", loomErr.Message,
			"error_code", string(loomErr.Code),
		}
		if len(loomErr.Suggestions) > 0 {
			args = append(args, "suggestions", loomErr.Suggestions)
		}
		if withDocs && loomErr.DocsURL != "" {
			args = append(args, "docs_url", loomErr.DocsURL)
		}
		if loomErr.Cause != nil {
			args = append(args, "cause", loomErr.Cause.Error())
		}
		return args
	}

	args := []any{"error", err.Error()}
	if code, ok := errors.CodeOf(err); ok {
		args = append(args, "error_code", string(code))
	}
	return args
}

// Enabled returns whether the logger is enabled for the given level
func (l *Logger) Enabled(ctx context.Context, level Level) bool {
	return l.slog.Enabled(ctx, level.ToSlogLevel())
}

// Handler returns the underlying slog.Handler
func (l *Logger) Handler() slog.Handler {
	return l.slog.Handler()
}

// Slog returns the underlying *slog.Logger for libraries that accept one
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}
