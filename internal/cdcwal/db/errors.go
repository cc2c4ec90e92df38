package db

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDir      = errors.New("db: invalid dir")
	ErrManifestMissing = errors.New("db: manifest missing")
	ErrManifestInvalid = errors.New("db: manifest invalid")
	ErrInitFailed      = errors.New("db: init failed")
	ErrClosed          = errors.New("db: closed")
	ErrCloseFailed     = errors.New("db: close failed")
	ErrReplayFailed    = errors.New("db: replay failed")
	ErrWALOpenFailed   = errors.New("db: wal open failed")
	ErrRepairFailed    = errors.New("db: tail repair failed")
	ErrReadOnly        = errors.New("db: log tail needs repair, opened read-only")
	ErrBeginFailed     = errors.New("db: begin failed")
	ErrCommitFailed    = errors.New("db: commit failed")
	ErrCommitRejected  = errors.New("db: commit rejected")
)

// DBError wraps DB-layer failures with stable sentinels for errors.Is,
// while preserving Cause for inspection/logging.
type DBError struct {
	Err error

	// Op describes the operation: "open", "replay", "repair", "begin", "commit", "close".
	Op string

	// Path is the log directory.
	Path string

	Cause error
}

func (e *DBError) Error() string {
	msg := e.Err.Error()
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Op == "" {
		return msg
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *DBError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func (e *DBError) CauseErr() error { return e.Cause }

func wrapDBErr(op string, sentinel error, path string, cause error) error {
	return &DBError{
		Err:   sentinel,
		Op:    op,
		Path:  path,
		Cause: cause,
	}
}
