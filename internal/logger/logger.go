package logger

import (
	"fmt"
	"strings"
)

// Logger is the logging interface every cdcwal package writes through.
// Fields are key, value pairs.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})

	// Error logs err alongside msg regardless of level.
	Error(msg string, err error, fields ...interface{})
}

// Closeable is implemented by loggers holding files or other resources.
type Closeable interface {
	Close() error
}

// Level orders log severities. Error is always emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel accepts debug, info, warn or error in any case. An empty
// string is info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...interface{})        {}
func (NoOpLogger) Info(string, ...interface{})         {}
func (NoOpLogger) Warn(string, ...interface{})         {}
func (NoOpLogger) Error(string, error, ...interface{}) {}

var _ Logger = NoOpLogger{}

type fieldLogger struct {
	base   Logger
	fields []interface{}
}

// With returns a Logger that prefixes fields to every call on lg. Close is
// forwarded when lg is Closeable.
func With(lg Logger, fields ...interface{}) Logger {
	if lg == nil {
		lg = NoOpLogger{}
	}
	if fl, ok := lg.(*fieldLogger); ok {
		merged := make([]interface{}, 0, len(fl.fields)+len(fields))
		merged = append(merged, fl.fields...)
		return &fieldLogger{base: fl.base, fields: append(merged, fields...)}
	}
	return &fieldLogger{base: lg, fields: fields}
}

func (f *fieldLogger) merge(fields []interface{}) []interface{} {
	out := make([]interface{}, 0, len(f.fields)+len(fields))
	out = append(out, f.fields...)
	return append(out, fields...)
}

func (f *fieldLogger) Debug(msg string, fields ...interface{}) { f.base.Debug(msg, f.merge(fields)...) }
func (f *fieldLogger) Info(msg string, fields ...interface{})  { f.base.Info(msg, f.merge(fields)...) }
func (f *fieldLogger) Warn(msg string, fields ...interface{})  { f.base.Warn(msg, f.merge(fields)...) }

func (f *fieldLogger) Error(msg string, err error, fields ...interface{}) {
	f.base.Error(msg, err, f.merge(fields)...)
}

func (f *fieldLogger) Close() error {
	if c, ok := f.base.(Closeable); ok {
		return c.Close()
	}
	return nil
}
