package testutil

import "fmt"

// Error is a failure injected by a test double.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("injected %s failure: %s", e.Op, e.Message)
}

// NewError creates an injected error with no operation attached.
func NewError(msg string) *Error {
	return &Error{Message: msg}
}

// Injected creates an error for a failing op.
func Injected(op string, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...)}
}
