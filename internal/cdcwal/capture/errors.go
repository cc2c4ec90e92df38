package capture

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyTracked   = errors.New("capture: entity already tracked")
	ErrNotTracked       = errors.New("capture: entity not tracked")
	ErrUnsupportedValue = errors.New("capture: unsupported value type")
	ErrBuilt            = errors.New("capture: collector already built")
	ErrNothingCaptured  = errors.New("capture: nothing captured")
	ErrCorrupt          = errors.New("capture: corrupt enrichment")
	ErrPositionOverflow = errors.New("capture: region position exceeds int32")
)

type CaptureErrorKind uint8

const (
	KindAlreadyTracked CaptureErrorKind = iota
	KindNotTracked
	KindUnsupportedValue
	KindBuilt
	KindNothingCaptured
	KindCorrupt
	KindPositionOverflow
)

func (k CaptureErrorKind) String() string {
	switch k {
	case KindAlreadyTracked:
		return "already_tracked"
	case KindNotTracked:
		return "not_tracked"
	case KindUnsupportedValue:
		return "unsupported_value"
	case KindBuilt:
		return "built"
	case KindNothingCaptured:
		return "nothing_captured"
	case KindCorrupt:
		return "corrupt"
	case KindPositionOverflow:
		return "position_overflow"
	default:
		return "unknown"
	}
}

// CaptureError reports a failure collecting or decoding changes.
type CaptureError struct {
	Kind   CaptureErrorKind
	Entity EntityType
	ID     int64
	Region string // "details", "changes", "values", ...
	Pos    int64
	Err    error
	Cause  error
}

func (e *CaptureError) Error() string {
	switch e.Kind {
	case KindAlreadyTracked, KindNotTracked:
		return fmt.Sprintf("capture: %s %s id=%d", e.Kind.String(), e.Entity.String(), e.ID)
	case KindCorrupt:
		if e.Cause != nil {
			return fmt.Sprintf("capture: %s region=%s pos=%d: %v", e.Kind.String(), e.Region, e.Pos, e.Cause)
		}
		return fmt.Sprintf("capture: %s region=%s pos=%d", e.Kind.String(), e.Region, e.Pos)
	}
	if e.Cause != nil {
		return fmt.Sprintf("capture: %s: %v", e.Kind.String(), e.Cause)
	}
	return fmt.Sprintf("capture: %s", e.Kind.String())
}

func (e *CaptureError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func (e *CaptureError) Is(target error) bool {
	switch target {
	case ErrAlreadyTracked:
		return e.Kind == KindAlreadyTracked
	case ErrNotTracked:
		return e.Kind == KindNotTracked
	case ErrUnsupportedValue:
		return e.Kind == KindUnsupportedValue
	case ErrBuilt:
		return e.Kind == KindBuilt
	case ErrNothingCaptured:
		return e.Kind == KindNothingCaptured
	case ErrCorrupt:
		return e.Kind == KindCorrupt
	case ErrPositionOverflow:
		return e.Kind == KindPositionOverflow
	}
	return false
}

func corrupt(region string, pos int64, cause error) error {
	return &CaptureError{Kind: KindCorrupt, Region: region, Pos: pos, Err: ErrCorrupt, Cause: cause}
}
