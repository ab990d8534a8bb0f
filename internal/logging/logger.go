package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging for the worker.
// Output follows the latest Configure call, including for package-level loggers.
type Logger struct {
	prefix string
	fields []interface{}
}

// Options configures the process-wide log output.
type Options struct {
	Level  string    // trace, debug, info, warn, error
	Format string    // json or console
	Output io.Writer // defaults to stdout
}

var base atomic.Pointer[zerolog.Logger]

func init() {
	zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
	base.Store(&zl)
}

// Configure sets the output and level used by loggers created afterwards.
func Configure(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zerolog.SetGlobalLevel(parseLevel(opts.Level))
	zl := zerolog.New(out).With().Timestamp().Logger()
	base.Store(&zl)
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

// With returns a child logger that adds the key-value pairs to every line.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	n := len(keysAndValues) &^ 1
	fields := make([]interface{}, 0, len(l.fields)+n)
	fields = append(fields, l.fields...)
	for i := 0; i < n; i += 2 {
		fields = append(fields, fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	return &Logger{prefix: l.prefix, fields: fields}
}

func (l *Logger) zl() zerolog.Logger {
	ctx := base.Load().With().Str("component", l.prefix)
	if len(l.fields) > 0 {
		ctx = ctx.Fields(l.fields)
	}
	return ctx.Logger()
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	zl := l.zl()
	l.logWithKV(zl.Info(), msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	zl := l.zl()
	l.logWithKV(zl.Warn(), msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	zl := l.zl()
	l.logWithKV(zl.Error(), msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	zl := l.zl()
	l.logWithKV(zl.Debug(), msg, keysAndValues...)
}

func (l *Logger) logWithKV(evt *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 >= len(keysAndValues) {
			break
		}
		key := fmt.Sprint(keysAndValues[i])
		switch v := keysAndValues[i+1].(type) {
		case error:
			evt = evt.AnErr(key, v)
		case time.Duration:
			evt = evt.Dur(key, v)
		default:
			evt = evt.Interface(key, v)
		}
	}
	evt.Msg(msg)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
