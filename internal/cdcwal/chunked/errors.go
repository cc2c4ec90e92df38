package chunked

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds = errors.New("chunked: position not covered by data")
	ErrFlipped     = errors.New("chunked: buffer is flipped")
	ErrNotFlipped  = errors.New("chunked: buffer is not flipped")
	ErrClosed      = errors.New("chunked: buffer is closed")
)

type BufferErrorKind uint8

const (
	KindOutOfBounds BufferErrorKind = iota
	KindFlipped
	KindNotFlipped
	KindClosed
)

func (k BufferErrorKind) String() string {
	switch k {
	case KindOutOfBounds:
		return "out_of_bounds"
	case KindFlipped:
		return "flipped"
	case KindNotFlipped:
		return "not_flipped"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// BufferError reports misuse of a Buffer. None of these are retryable: they
// are programming errors in the code driving the buffer.
type BufferError struct {
	Kind  BufferErrorKind
	Op    string // "peek_int", "put_int_at", "serialize", "append", ...
	Pos   int64
	Width int
	Size  int64
	Err   error
}

func (e *BufferError) Error() string {
	if e.Kind == KindOutOfBounds {
		return fmt.Sprintf("chunked: %s %s pos=%d width=%d size=%d",
			e.Op, e.Kind.String(), e.Pos, e.Width, e.Size)
	}
	return fmt.Sprintf("chunked: %s %s: %v", e.Op, e.Kind.String(), e.Err)
}

func (e *BufferError) Unwrap() error { return e.Err }

func (e *BufferError) Is(target error) bool {
	switch target {
	case ErrOutOfBounds:
		return e.Kind == KindOutOfBounds
	case ErrFlipped:
		return e.Kind == KindFlipped
	case ErrNotFlipped:
		return e.Kind == KindNotFlipped
	case ErrClosed:
		return e.Kind == KindClosed
	}
	return false
}
