package enrichment

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument    = errors.New("enrichment: invalid argument")
	ErrShortRead          = errors.New("enrichment: short read")
	ErrInvalidLength      = errors.New("enrichment: invalid region length")
	ErrUnknownCaptureMode = errors.New("enrichment: unknown capture mode")
	ErrUnknownMode        = errors.New("enrichment: unknown enrichment mode")
	ErrInvalidMetadata    = errors.New("enrichment: invalid metadata")
	ErrRegionTooLarge     = errors.New("enrichment: region too large")
	ErrUnsupportedVersion = errors.New("enrichment: unsupported format version")
	ErrRegionLayout       = errors.New("enrichment: region layout does not match format version")
	ErrVariantMismatch    = errors.New("enrichment: variant mismatch")
	ErrClosed             = errors.New("enrichment: closed")
)

type CodecErrorKind uint8

const (
	KindInvalidArgument CodecErrorKind = iota
	KindShortRead
	KindInvalidLength
	KindUnknownCaptureMode
	KindUnknownMode
	KindInvalidMetadata
	KindRegionTooLarge
	KindUnsupportedVersion
	KindRegionLayout
	KindClosed
)

func (k CodecErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindShortRead:
		return "short_read"
	case KindInvalidLength:
		return "invalid_length"
	case KindUnknownCaptureMode:
		return "unknown_capture_mode"
	case KindUnknownMode:
		return "unknown_mode"
	case KindInvalidMetadata:
		return "invalid_metadata"
	case KindRegionTooLarge:
		return "region_too_large"
	case KindUnsupportedVersion:
		return "unsupported_version"
	case KindRegionLayout:
		return "region_layout"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CodecError describes a failure encoding or decoding an enrichment payload.
// Short reads and invalid lengths mean the payload is corrupt and are never
// retried.
type CodecError struct {
	Kind  CodecErrorKind
	Field string // "server_id", "entities", "user_metadata", ...
	Want  int64
	Have  int64
	Err   error
	Cause error
}

func (e *CodecError) Error() string {
	switch e.Kind {
	case KindShortRead, KindInvalidLength, KindRegionTooLarge:
		return fmt.Sprintf("enrichment: %s field=%s want=%d have=%d: %v",
			e.Kind.String(), e.Field, e.Want, e.Have, e.causeOrErr())
	}
	if e.Field != "" {
		return fmt.Sprintf("enrichment: %s field=%s: %v", e.Kind.String(), e.Field, e.causeOrErr())
	}
	return fmt.Sprintf("enrichment: %s: %v", e.Kind.String(), e.causeOrErr())
}

func (e *CodecError) causeOrErr() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.Err
}

func (e *CodecError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func (e *CodecError) Is(target error) bool {
	switch target {
	case ErrInvalidArgument:
		return e.Kind == KindInvalidArgument
	case ErrShortRead:
		return e.Kind == KindShortRead
	case ErrInvalidLength:
		return e.Kind == KindInvalidLength
	case ErrUnknownCaptureMode:
		return e.Kind == KindUnknownCaptureMode
	case ErrUnknownMode:
		return e.Kind == KindUnknownMode
	case ErrInvalidMetadata:
		return e.Kind == KindInvalidMetadata
	case ErrRegionTooLarge:
		return e.Kind == KindRegionTooLarge
	case ErrUnsupportedVersion:
		return e.Kind == KindUnsupportedVersion
	case ErrRegionLayout:
		return e.Kind == KindRegionLayout
	case ErrClosed:
		return e.Kind == KindClosed
	}
	return false
}

// ExtractError reports that a payload of one variant was asked for as the other.
type ExtractError struct {
	Want Variant
	Have Variant
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("enrichment: wanted %s variant, have %s", e.Want.String(), e.Have.String())
}

func (e *ExtractError) Unwrap() error { return ErrVariantMismatch }

func argumentError(field string) error {
	return &CodecError{Kind: KindInvalidArgument, Field: field, Err: ErrInvalidArgument}
}
