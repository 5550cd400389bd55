// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger atomic.Pointer[loggerBox]

type loggerBox struct {
	logger Logger
}

func init() {
	defaultLogger.Store(&loggerBox{logger: noopLogger{}})
}

// SetLogger overrides the process logger used by the bridge.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger.Store(&loggerBox{logger: noopLogger{}})
		return
	}
	defaultLogger.Store(&loggerBox{logger: logger})
}

// Log returns the current process logger instance.
func Log() Logger {
	return defaultLogger.Load().logger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// NewNop returns a logger that discards all records.
func NewNop() Logger { return noopLogger{} }

// StdLogger writes key=value formatted records through a stdlib log.Logger.
type StdLogger struct {
	out   *log.Logger
	debug bool
}

// NewStdLogger wraps the provided stdlib logger. A nil logger uses the
// process-default destination. Debug records are suppressed unless enabled.
func NewStdLogger(out *log.Logger, debug bool) *StdLogger {
	if out == nil {
		out = log.Default()
	}
	return &StdLogger{out: out, debug: debug}
}

func (l *StdLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.emit("DEBUG", msg, fields)
}

func (l *StdLogger) Info(msg string, fields ...Field)  { l.emit("INFO", msg, fields) }
func (l *StdLogger) Warn(msg string, fields ...Field)  { l.emit("WARN", msg, fields) }
func (l *StdLogger) Error(msg string, fields ...Field) { l.emit("ERROR", msg, fields) }

func (l *StdLogger) emit(level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, f := range fields {
		key := strings.TrimSpace(f.Key)
		if key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(formatValue(f.Value))
	}
	l.out.Print(b.String())
}

func formatValue(v any) string {
	switch typed := v.(type) {
	case string:
		if strings.ContainsAny(typed, " \t\"") {
			return fmt.Sprintf("%q", typed)
		}
		return typed
	case error:
		return fmt.Sprintf("%q", typed.Error())
	default:
		return fmt.Sprintf("%v", typed)
	}
}
