package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/julianstephens/go-utils/helpers"
	goulog "github.com/julianstephens/go-utils/logger"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ConsoleLogger writes one line per entry. Errors go to err, everything
// else to out.
type ConsoleLogger struct {
	mu       sync.Mutex
	minLevel Level
	out      io.Writer
	err      io.Writer
}

// NewConsoleLogger logs to stdout and stderr at level. An unknown level
// falls back to info.
func NewConsoleLogger(level string) Logger {
	lvl, _ := ParseLevel(level)
	return &ConsoleLogger{
		minLevel: lvl,
		out:      os.Stdout,
		err:      os.Stderr,
	}
}

func (cl *ConsoleLogger) Debug(msg string, fields ...interface{}) {
	cl.log(LevelDebug, msg, fields...)
}

func (cl *ConsoleLogger) Info(msg string, fields ...interface{}) {
	cl.log(LevelInfo, msg, fields...)
}

func (cl *ConsoleLogger) Warn(msg string, fields ...interface{}) {
	cl.log(LevelWarn, msg, fields...)
}

func (cl *ConsoleLogger) Error(msg string, err error, fields ...interface{}) {
	cl.log(LevelError, msg, append([]interface{}{"error", err}, fields...)...)
}

func (cl *ConsoleLogger) log(level Level, msg string, fields ...interface{}) {
	if level < cl.minLevel {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", time.Now().Format(consoleTimeFormat), strings.ToUpper(level.String()), msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 == 1 {
		fmt.Fprintf(&b, " %v=<missing>", fields[len(fields)-1])
	}
	b.WriteByte('\n')

	cl.mu.Lock()
	defer cl.mu.Unlock()
	w := cl.out
	if level == LevelError {
		w = cl.err
	}
	_, _ = io.WriteString(w, b.String())
}

// FileLogger writes JSON entries to a rotating file through go-utils/logger.
type FileLogger struct {
	underlying *goulog.Logger
	minLevel   Level
	filePath   string
}

// FileLoggerOpts configures a FileLogger. A zero MaxAgeDays keeps backups
// for 28 days.
type FileLoggerOpts struct {
	Dir           string
	FileName      string
	MaxFileSizeMB int
	MaxBackups    int
	MaxAgeDays    int
	Level         string
}

// NewFileLogger creates logDir if needed and logs to logFileName inside it,
// rotating at maxFileSizeMB and keeping maxBackups compressed backups.
func NewFileLogger(logDir string, logFileName string, maxFileSizeMB int, maxBackups int) (Logger, error) {
	return NewFileLoggerWithOpts(FileLoggerOpts{
		Dir:           logDir,
		FileName:      logFileName,
		MaxFileSizeMB: maxFileSizeMB,
		MaxBackups:    maxBackups,
	})
}

func NewFileLoggerWithOpts(opts FileLoggerOpts) (Logger, error) {
	if opts.FileName == "" {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, errors.New("empty file name"), opts.Dir)
	}
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, err, opts.Dir)
	}
	if err := helpers.Ensure(opts.Dir, true); err != nil {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, err, opts.Dir)
	}

	maxBackups := opts.MaxBackups
	maxAge := opts.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 28
	}
	logPath := filepath.Join(opts.Dir, opts.FileName)
	underlying := goulog.New()
	if err := underlying.SetFileOutputWithConfig(goulog.FileRotationConfig{
		Filename:   logPath,
		MaxSize:    opts.MaxFileSizeMB,
		MaxBackups: &maxBackups,
		MaxAge:     &maxAge,
		Compress:   true,
	}); err != nil {
		return nil, wrapLoggerErr("create file logger", ErrLogCreate, err, logPath)
	}

	return &FileLogger{
		underlying: underlying,
		minLevel:   lvl,
		filePath:   logPath,
	}, nil
}

// Path returns the active log file.
func (fl *FileLogger) Path() string { return fl.filePath }

func (fl *FileLogger) Debug(msg string, fields ...interface{}) {
	if fl.minLevel > LevelDebug {
		return
	}
	if len(fields) == 0 {
		fl.underlying.Debug(msg)
		return
	}
	fl.underlying.WithFields(fieldsToMap(fields)).Debug(msg)
}

func (fl *FileLogger) Info(msg string, fields ...interface{}) {
	if fl.minLevel > LevelInfo {
		return
	}
	if len(fields) == 0 {
		fl.underlying.Info(msg)
		return
	}
	fl.underlying.WithFields(fieldsToMap(fields)).Info(msg)
}

func (fl *FileLogger) Warn(msg string, fields ...interface{}) {
	if fl.minLevel > LevelWarn {
		return
	}
	if len(fields) == 0 {
		fl.underlying.Warn(msg)
		return
	}
	fl.underlying.WithFields(fieldsToMap(fields)).Warn(msg)
}

func (fl *FileLogger) Error(msg string, err error, fields ...interface{}) {
	fl.underlying.WithFields(fieldsToMap(append([]interface{}{"error", err}, fields...))).Error(msg)
}

// Close is a no-op; the rotating writer is owned by go-utils/logger.
func (fl *FileLogger) Close() error {
	return nil
}

// fieldsToMap pairs up key, value fields. Errors are stored as their message
// so they survive JSON encoding.
func fieldsToMap(fields []interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		v := fields[i+1]
		switch tv := v.(type) {
		case error:
			v = tv.Error()
		case fmt.Stringer:
			v = tv.String()
		}
		result[fmt.Sprintf("%v", fields[i])] = v
	}
	return result
}

// MultiLogger fans every call out to each of its loggers.
type MultiLogger struct {
	loggers []Logger
}

func NewMultiLogger(loggers ...Logger) Logger {
	return &MultiLogger{
		loggers: loggers,
	}
}

func (ml *MultiLogger) Debug(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Debug(msg, fields...)
	}
}

func (ml *MultiLogger) Info(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Info(msg, fields...)
	}
}

func (ml *MultiLogger) Warn(msg string, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Warn(msg, fields...)
	}
}

func (ml *MultiLogger) Error(msg string, err error, fields ...interface{}) {
	for _, lg := range ml.loggers {
		lg.Error(msg, err, fields...)
	}
}

// Close closes every Closeable logger, even after a failure.
func (ml *MultiLogger) Close() error {
	var errs []error
	for _, lg := range ml.loggers {
		if c, ok := lg.(Closeable); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return wrapLoggerErr("close multi logger", ErrLogClose, errors.Join(errs...), "")
}
