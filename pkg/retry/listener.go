package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/jzx17/reconnect/internal/log"
)

// Event describes a step of a retry chain
type Event struct {
	// Chain identifies the retry chain
	Chain string
	// Name is the operation name given with WithName
	Name string
	// Attempt is the 1-based attempt number the event refers to
	Attempt int
	// MaxAttempts is the policy budget, or Infinite
	MaxAttempts int
	// Delay is the wait before the next attempt (retry events only)
	Delay time.Duration
	// Err is the raw failure, if any
	Err error
	// Elapsed is the time since the chain started
	Elapsed time.Duration
	// State is the state the chain moved to
	State State
}

// Listener observes retry chains. Implementations must be safe for
// concurrent use and must not block.
type Listener interface {
	OnAttempt(ctx context.Context, e Event)
	OnRetryScheduled(ctx context.Context, e Event)
	OnSuccess(ctx context.Context, e Event)
	OnTerminal(ctx context.Context, e Event)
}

// NopListener ignores every event
type NopListener struct{}

func (NopListener) OnAttempt(context.Context, Event)        {}
func (NopListener) OnRetryScheduled(context.Context, Event) {}
func (NopListener) OnSuccess(context.Context, Event)        {}
func (NopListener) OnTerminal(context.Context, Event)       {}

// multiListener fans events out
type multiListener []Listener

// Listeners combines listeners; nil entries are skipped
func Listeners(ls ...Listener) Listener {
	out := make(multiListener, 0, len(ls))
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (m multiListener) OnAttempt(ctx context.Context, e Event) {
	for _, l := range m {
		l.OnAttempt(ctx, e)
	}
}

func (m multiListener) OnRetryScheduled(ctx context.Context, e Event) {
	for _, l := range m {
		l.OnRetryScheduled(ctx, e)
	}
}

func (m multiListener) OnSuccess(ctx context.Context, e Event) {
	for _, l := range m {
		l.OnSuccess(ctx, e)
	}
}

func (m multiListener) OnTerminal(ctx context.Context, e Event) {
	for _, l := range m {
		l.OnTerminal(ctx, e)
	}
}

// LoggingListener logs chain events with slog
type LoggingListener struct {
	log log.Logger
}

// NewLoggingListener creates a listener logging to logger; nil discards
func NewLoggingListener(logger *slog.Logger) *LoggingListener {
	return &LoggingListener{log: log.Wrap(logger)}
}

func (e Event) attrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("chain", e.Chain),
		slog.String("name", e.Name),
		slog.Int("attempt", e.Attempt),
	}
	if e.MaxAttempts != Infinite {
		attrs = append(attrs, slog.Int("max_attempts", e.MaxAttempts))
	}
	return attrs
}

// OnAttempt logs at debug level
func (l *LoggingListener) OnAttempt(ctx context.Context, e Event) {
	l.log.Log(ctx, slog.LevelDebug, "retry attempt", e.attrs()...)
}

// OnRetryScheduled logs the retried failure
func (l *LoggingListener) OnRetryScheduled(ctx context.Context, e Event) {
	attrs := append(e.attrs(),
		slog.Duration("delay", e.Delay),
		slog.String("error", e.Err.Error()),
	)
	l.log.Log(ctx, slog.LevelInfo, "retry scheduled", attrs...)
}

// OnSuccess logs completion
func (l *LoggingListener) OnSuccess(ctx context.Context, e Event) {
	attrs := append(e.attrs(), slog.Duration("elapsed", e.Elapsed))
	l.log.Log(ctx, slog.LevelInfo, "retry succeeded", attrs...)
}

// OnTerminal logs the final failure
func (l *LoggingListener) OnTerminal(ctx context.Context, e Event) {
	attrs := append(e.attrs(),
		slog.String("state", e.State.String()),
		slog.Duration("elapsed", e.Elapsed),
	)
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	level := slog.LevelError
	if e.State == StateCancelled {
		level = slog.LevelWarn
	}
	l.log.Log(ctx, level, "retry failed", attrs...)
}
