package obtree

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with obtree-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithTree adds a tree name field to the logger.
func (l *Logger) WithTree(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("tree", name),
	}
}

// WithCheckpoint adds a checkpoint field to the logger.
func (l *Logger) WithCheckpoint(chkp uint32) *Logger {
	return &Logger{
		Logger: l.Logger.With("checkpoint", chkp),
	}
}

// LogBuild logs a build.
func (l *Logger) LogBuild(ctx context.Context, name string, chkp uint32, tuples uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"tree", name,
			"checkpoint", chkp,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "build completed",
			"tree", name,
			"checkpoint", chkp,
			"tuples", tuples,
		)
	}
}

// LogOpen logs opening a tree.
func (l *Logger) LogOpen(ctx context.Context, name string, chkp uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"tree", name,
			"checkpoint", chkp,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "tree opened",
			"tree", name,
			"checkpoint", chkp,
		)
	}
}

// LogLookup logs a lookup.
func (l *Logger) LogLookup(ctx context.Context, name string, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "lookup failed",
			"tree", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "lookup completed",
			"tree", name,
			"found", found,
		)
	}
}

// LogVerify logs a structural verification.
func (l *Logger) LogVerify(ctx context.Context, name string, pages, tuples int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "verify failed",
			"tree", name,
			"pages", pages,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "verify completed",
			"tree", name,
			"pages", pages,
			"tuples", tuples,
		)
	}
}
