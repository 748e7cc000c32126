// Package log wraps log/slog with nil checking so components can log without
// requiring a configured logger.
package log

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

type (
	// Logger is a wrapper around an slog.Logger with additional helpers and nil
	// checking.
	Logger struct{ logger *slog.Logger }

	// Attrs represents an object that exposes extra slog attributes to log.
	Attrs interface {
		Attrs() []slog.Attr
	}
)

// Wrap the slog logger. A nil logger discards everything.
func Wrap(logger *slog.Logger) Logger {
	return Logger{logger}
}

// Enabled reports whether records at level would be emitted.
func (l Logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.logger != nil && l.logger.Enabled(ctx, level)
}

// Log emits a record attributed to its caller.
func (l Logger) Log(
	ctx context.Context,
	level slog.Level,
	msg string,
	attrs ...slog.Attr,
) {
	l.emit(ctx, level, msg, attrs)
}

// Err logs an error with structured logging.
func (l Logger) Err(ctx context.Context, err error) {
	if a, ok := err.(Attrs); ok {
		l.emit(ctx, slog.LevelError, err.Error(), a.Attrs())
	} else {
		l.emit(ctx, slog.LevelError, err.Error(), nil)
	}
}

// emit must be called directly from an exported method so the source skips
// runtime.Callers, emit and that method.
func (l Logger) emit(
	ctx context.Context,
	level slog.Level,
	msg string,
	attrs []slog.Attr,
) {
	if !l.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = l.logger.Handler().Handle(ctx, r)
}
