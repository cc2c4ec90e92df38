package memory

import (
	"errors"
	"fmt"
)

var (
	ErrNegativeAllocation = errors.New("memory: negative allocation")
	ErrOverRelease        = errors.New("memory: released more than allocated")
	ErrScopeClosed        = errors.New("memory: scope closed")
)

type TrackerErrorKind uint8

const (
	KindNegative TrackerErrorKind = iota
	KindOverRelease
	KindClosed
)

func (k TrackerErrorKind) String() string {
	switch k {
	case KindNegative:
		return "negative"
	case KindOverRelease:
		return "over_release"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TrackerError is raised (as a panic value) when accounting is violated.
// These are programming errors: the tracker cannot be trusted afterwards.
type TrackerError struct {
	Kind  TrackerErrorKind
	Bytes int64
	Err   error
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("memory: accounting %s bytes=%d: %v", e.Kind.String(), e.Bytes, e.Err)
}

func (e *TrackerError) Unwrap() error { return e.Err }
