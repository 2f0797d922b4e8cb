// Package flowlog provides the structured logging contract used by
// FlowForge's core packages, backed by zerolog at the process entrypoint.
package flowlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the logging contract the core packages depend on. It is kept
// narrow (no Fatal, no level filtering knobs) so a caller can adapt any
// structured logger to it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// zerologAdapter adapts zerolog.Logger to the Logger interface, mirroring
// pairs of args as key/value the way slog.Logger.Info(msg, "k", v) does.
type zerologAdapter struct {
	logger zerolog.Logger
}

// New creates a Logger backed by zerolog, writing to w at the given level.
func New(w io.Writer, level zerolog.Level) Logger {
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zerologAdapter{logger: zl}
}

// NewDefault creates a Logger writing to a human-readable console at
// stdout, for use from cmd/flowforge.
func NewDefault(level zerolog.Level) Logger {
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	zl := zerolog.New(console).Level(level).With().Timestamp().Logger()
	return &zerologAdapter{logger: zl}
}

func withFields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}

func (l *zerologAdapter) Debug(msg string, args ...any) {
	withFields(l.logger.Debug(), args).Msg(msg)
}

func (l *zerologAdapter) Info(msg string, args ...any) {
	withFields(l.logger.Info(), args).Msg(msg)
}

func (l *zerologAdapter) Warn(msg string, args ...any) {
	withFields(l.logger.Warn(), args).Msg(msg)
}

func (l *zerologAdapter) Error(msg string, args ...any) {
	withFields(l.logger.Error(), args).Msg(msg)
}

func (l *zerologAdapter) With(args ...any) Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, args[i+1])
	}
	return &zerologAdapter{logger: ctx.Logger()}
}

// NewTestLogger returns a Logger that discards output, for use in tests
// that need a Logger but don't assert on it.
func NewTestLogger() Logger {
	return New(io.Discard, zerolog.Disabled)
}
