// Package logging adapts zerolog to middleware.Logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/mcpmux/middleware"
)

// Logger writes structured entries through zerolog.
type Logger struct {
	zl zerolog.Logger
}

var _ middleware.Logger = (*Logger)(nil)

type options struct {
	level   zerolog.Level
	console bool
	fields  map[string]any
}

// Option configures New.
type Option func(*options)

// WithLevel sets the minimum level by name (debug, info, warn, error).
// Unknown names fall back to info.
func WithLevel(name string) Option {
	return func(o *options) {
		lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
		if err != nil || lvl == zerolog.NoLevel {
			lvl = zerolog.InfoLevel
		}
		o.level = lvl
	}
}

// WithFormat selects "console" for human-readable output; anything else is JSON.
func WithFormat(format string) Option {
	return func(o *options) {
		o.console = strings.EqualFold(format, "console")
	}
}

// WithField attaches a field to every entry.
func WithField(key string, value any) Option {
	return func(o *options) {
		o.fields[key] = value
	}
}

// New returns a Logger writing to w, or stderr when w is nil.
func New(w io.Writer, opts ...Option) *Logger {
	o := &options{level: zerolog.InfoLevel, fields: map[string]any{}}
	for _, opt := range opts {
		opt(o)
	}
	if w == nil {
		w = os.Stderr
	}
	if o.console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(w).Level(o.level).With().Timestamp().Fields(o.fields).Logger()
	return &Logger{zl: zl}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying the extra fields.
func (l *Logger) With(fields ...middleware.Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &Logger{zl: ctx.Logger()}
}

// Info logs msg at info level with fields.
func (l *Logger) Info(msg string, fields ...middleware.Field) {
	write(l.zl.Info(), msg, fields)
}

// Error logs msg at error level with fields.
func (l *Logger) Error(msg string, fields ...middleware.Field) {
	write(l.zl.Error(), msg, fields)
}

// Debug logs msg at debug level with fields.
func (l *Logger) Debug(msg string, fields ...middleware.Field) {
	write(l.zl.Debug(), msg, fields)
}

// Warn logs msg at warn level with fields.
func (l *Logger) Warn(msg string, fields ...middleware.Field) {
	write(l.zl.Warn(), msg, fields)
}

func write(e *zerolog.Event, msg string, fields []middleware.Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			e = e.Str(f.Key, v)
		case int:
			e = e.Int(f.Key, v)
		case bool:
			e = e.Bool(f.Key, v)
		case time.Duration:
			e = e.Dur(f.Key, v)
		case error:
			e = e.AnErr(f.Key, v)
		default:
			e = e.Interface(f.Key, v)
		}
	}
	e.Msg(msg)
}
