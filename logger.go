package cardex

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with cardex-specific context.
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

// LogAddCard logs a card registration.
func (l *Logger) LogAddCard(ctx context.Context, cardID string, indexed bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add card failed",
			"card_id", cardID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add card completed",
			"card_id", cardID,
			"indexed", indexed,
		)
	}
}

// LogFindMatches logs a similarity query.
func (l *Logger) LogFindMatches(ctx context.Context, kinds int, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "find matches failed",
			"kinds", kinds,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "find matches completed",
			"kinds", kinds,
			"candidates", found,
		)
	}
}

// LogCheckpoint logs a checkpoint commit.
func (l *Logger) LogCheckpoint(ctx context.Context, generation uint64, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"generation", generation,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint committed",
			"generation", generation,
			"count", count,
		)
	}
}

// LogRecovery logs startup recovery: checkpoint load plus WAL replay.
func (l *Logger) LogRecovery(ctx context.Context, generation uint64, indexed, entriesReplayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"entries_replayed", entriesReplayed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "recovery completed",
			"generation", generation,
			"indexed", indexed,
			"entries_replayed", entriesReplayed,
		)
	}
}

// LogStoreImage logs an image upload to the blobstore.
func (l *Logger) LogStoreImage(ctx context.Context, cardID, key string, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "store image failed",
			"card_id", cardID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "image stored",
			"card_id", cardID,
			"key", key,
			"bytes", size,
		)
	}
}
