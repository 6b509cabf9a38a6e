// Package logx provides the single logging capability every core
// component is given: log(level, msg, err?) plus structured fields,
// per spec §1 and §7 ("all failures are logged with process_id, peer
// process_id, epoch, and error cause").
//
// Components take a Logger, not a package-level global, so tests can
// assert on emitted fields and so a coordinator and its embedded
// Temporary Coordinator don't fight over one process-wide logger state.
package logx

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Field is one structured key/value attached to a log line.
type Field struct {
	Key   string
	Value any
}

// F is a short constructor for Field, used at call sites to keep log
// statements on one line.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger is the capability injected into every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	// With returns a child logger with the given fields attached to
	// every subsequent line, e.g. logger.With(F("process_id", id)).
	With(fields ...Field) Logger
}

type zeroLogger struct {
	z zerolog.Logger
}

// New returns a Logger writing structured JSON lines to w, or to
// os.Stderr when w is nil.
func New(w io.Writer, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zeroLogger{z: z}
}

// Nop returns a Logger that discards everything, useful in tests that
// don't care about log output.
func Nop() Logger { return &zeroLogger{z: zerolog.Nop()} }

func apply(ctx zerolog.Context, fields []Field) zerolog.Context {
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return ctx
}

func (l *zeroLogger) Debug(msg string, fields ...Field) {
	ev := l.z.Debug()
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}

func (l *zeroLogger) Info(msg string, fields ...Field) {
	ev := l.z.Info()
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}

func (l *zeroLogger) Warn(msg string, fields ...Field) {
	ev := l.z.Warn()
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}

func (l *zeroLogger) Error(msg string, err error, fields ...Field) {
	ev := l.z.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}

func (l *zeroLogger) With(fields ...Field) Logger {
	ctx := apply(l.z.With(), fields)
	return &zeroLogger{z: ctx.Logger()}
}
