// Package logx provides the component-scoped structured logger used by
// every package in this module. It keeps the call-site shape of a
// hand-rolled Field-based logger (String/Int/Duration/... plus
// Debug/Info/Warn/Error/Fatal/With) while delegating formatting and
// output to zerolog.
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Field is a single structured key/value attached to a log line or
// carried by a derived logger (via With).
type Field struct {
	onEvent func(e *zerolog.Event)
	onCtx   func(c zerolog.Context) zerolog.Context
}

func String(key, value string) Field {
	return Field{
		onEvent: func(e *zerolog.Event) { e.Str(key, value) },
		onCtx:   func(c zerolog.Context) zerolog.Context { return c.Str(key, value) },
	}
}

func Int(key string, value int) Field {
	return Field{
		onEvent: func(e *zerolog.Event) { e.Int(key, value) },
		onCtx:   func(c zerolog.Context) zerolog.Context { return c.Int(key, value) },
	}
}

func Int64(key string, value int64) Field {
	return Field{
		onEvent: func(e *zerolog.Event) { e.Int64(key, value) },
		onCtx:   func(c zerolog.Context) zerolog.Context { return c.Int64(key, value) },
	}
}

func Uint64(key string, value uint64) Field {
	return Field{
		onEvent: func(e *zerolog.Event) { e.Uint64(key, value) },
		onCtx:   func(c zerolog.Context) zerolog.Context { return c.Uint64(key, value) },
	}
}

func Float64(key string, value float64) Field {
	return Field{
		onEvent: func(e *zerolog.Event) { e.Float64(key, value) },
		onCtx:   func(c zerolog.Context) zerolog.Context { return c.Float64(key, value) },
	}
}

func Bool(key string, value bool) Field {
	return Field{
		onEvent: func(e *zerolog.Event) { e.Bool(key, value) },
		onCtx:   func(c zerolog.Context) zerolog.Context { return c.Bool(key, value) },
	}
}

func Err(err error) Field {
	return Field{
		onEvent: func(e *zerolog.Event) { e.AnErr("error", err) },
		onCtx:   func(c zerolog.Context) zerolog.Context { return c.AnErr("error", err) },
	}
}

func Duration(key string, value time.Duration) Field {
	return Field{
		onEvent: func(e *zerolog.Event) { e.Dur(key, value) },
		onCtx:   func(c zerolog.Context) zerolog.Context { return c.Dur(key, value) },
	}
}

func Any(key string, value any) Field {
	return Field{
		onEvent: func(e *zerolog.Event) { e.Interface(key, value) },
		onCtx:   func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) },
	}
}

// Logger is a component-scoped logger. It carries no package-level
// global state; callers construct one at each construction site and
// thread it down explicitly (there is exactly one tree of loggers,
// rooted in cmd/screensaverd, per the module's no-host-singletons
// design).
type Logger struct {
	zl zerolog.Logger
}

// Config controls how a root Logger is built.
type Config struct {
	Level  zerolog.Level
	Output io.Writer
	Pretty bool
}

// New builds a root logger scoped to component, writing to stderr at
// info level.
func New(component string) *Logger {
	return NewWithConfig(component, Config{Level: zerolog.InfoLevel})
}

// NewWithConfig builds a root logger with explicit output/level/format
// control, used once by the host entrypoint at startup.
func NewWithConfig(component string, cfg Config) *Logger {
	var out io.Writer = cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(out).
		Level(cfg.Level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{zl: zl}
}

// With returns a derived logger that always emits the given fields in
// addition to any passed at each call site.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = f.onCtx(ctx)
	}
	return &Logger{zl: ctx.Logger()}
}

// Named returns a child logger with an additional subcomponent tag,
// used when a subsystem wants to namespace further (e.g. per worker
// kind) without constructing a brand new root.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("subcomponent", name).Logger()}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(l.zl.Error(), msg, fields) }

// Fatal logs at fatal level and terminates the process.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.log(l.zl.Fatal(), msg, fields)
	os.Exit(1)
}

func (l *Logger) log(ev *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		f.onEvent(ev)
	}
	ev.Msg(msg)
}
