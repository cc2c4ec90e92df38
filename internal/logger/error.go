package logger

import (
	"errors"
	"fmt"
)

var (
	ErrLogCreate = errors.New("logger: create error")
	ErrLogClose  = errors.New("logger: close error")
)

type LoggerError struct {
	Op    string
	Err   error
	Cause error
	Path  string
}

func (e *LoggerError) Error() string {
	msg := e.Op + " error"
	if e.Path != "" {
		msg += " on " + e.Path
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v: %v", msg, e.Err, e.Cause)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *LoggerError) Unwrap() error {
	return e.Err
}

// CauseErr returns the underlying failure.
func (e *LoggerError) CauseErr() error { return e.Cause }

func wrapLoggerErr(op string, err, cause error, path string) error {
	return &LoggerError{
		Op:    op,
		Err:   err,
		Cause: cause,
		Path:  path,
	}
}
