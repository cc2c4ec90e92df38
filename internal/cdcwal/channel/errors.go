package channel

import (
	"errors"
	"fmt"
)

var (
	ErrShortRead   = errors.New("channel: short read")
	ErrWriteFailed = errors.New("channel: write failed")
)

type ChannelErrorKind uint8

const (
	KindShortRead ChannelErrorKind = iota
	KindWrite
)

func (k ChannelErrorKind) String() string {
	switch k {
	case KindShortRead:
		return "short_read"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

type ChannelError struct {
	Kind  ChannelErrorKind
	Field string // "int", "long", etc. for reads
	At    int64  // channel position where the operation started
	Want  int
	Have  int
	Err   error
	Cause error // underlying io error
}

func (e *ChannelError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("channel: %s field=%s at=%d want=%d have=%d: %v",
			e.Kind.String(), e.Field, e.At, e.Want, e.Have, e.Cause)
	}
	return fmt.Sprintf("channel: %s at=%d want=%d have=%d: %v",
		e.Kind.String(), e.At, e.Want, e.Have, e.Cause)
}

func (e *ChannelError) Unwrap() error   { return e.Err }
func (e *ChannelError) CauseErr() error { return e.Cause }

// IsShortRead reports whether err is a short read from a ReadableChannel.
func IsShortRead(err error) bool {
	return errors.Is(err, ErrShortRead)
}
