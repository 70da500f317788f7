package snappy

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with ingestion/retrieval specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithJob adds a job id field to the logger.
func (l *Logger) WithJob(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("job_id", id),
	}
}

// WithDocument adds a document id field to the logger.
func (l *Logger) WithDocument(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("document_id", id),
	}
}

// LogEmbed logs a batch embedding call.
func (l *Logger) LogEmbed(ctx context.Context, images int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "embed failed",
			"images", images,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "embed completed",
			"images", images,
		)
	}
}

// LogUpsert logs an upsert of a point batch.
func (l *Logger) LogUpsert(ctx context.Context, points int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert failed",
			"points", points,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "upsert completed",
			"points", points,
		)
	}
}

// LogSearch logs a retrieval query.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogCleanup logs the outcome of a cleanup run.
func (l *Logger) LogCleanup(ctx context.Context, documentIDs []string, ok bool) {
	if ok {
		l.InfoContext(ctx, "cleanup completed",
			"documents", documentIDs,
		)
	} else {
		l.WarnContext(ctx, "cleanup completed with failures",
			"documents", documentIDs,
		)
	}
}
