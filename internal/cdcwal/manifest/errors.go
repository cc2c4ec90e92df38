package manifest

import (
	"errors"
	"fmt"
)

type ManifestErrorKind int

const (
	ManifestErrorKindOpen ManifestErrorKind = iota + 1
	ManifestErrorKindNotFound
	ManifestErrorKindInvalid
	ManifestErrorKindUnsupportedVersion
	ManifestErrorKindEncode
	ManifestErrorKindDecode
	ManifestErrorKindWrite
	ManifestErrorKindAlreadyExists
	ManifestErrorKindUnknown
)

func (k ManifestErrorKind) String() string {
	switch k {
	case ManifestErrorKindOpen:
		return "open"
	case ManifestErrorKindNotFound:
		return "not_found"
	case ManifestErrorKindInvalid:
		return "invalid"
	case ManifestErrorKindUnsupportedVersion:
		return "unsupported_version"
	case ManifestErrorKindEncode:
		return "encode"
	case ManifestErrorKindDecode:
		return "decode"
	case ManifestErrorKindWrite:
		return "write"
	case ManifestErrorKindAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

var (
	ErrManifestOpen               = errors.New("manifest: unable to open file")
	ErrManifestNotFound           = errors.New("manifest: file not found")
	ErrManifestInvalid            = errors.New("manifest: invalid field")
	ErrManifestUnsupportedVersion = errors.New("manifest: unsupported version")
	ErrManifestEncode             = errors.New("manifest: unable to encode to JSON")
	ErrManifestDecode             = errors.New("manifest: unable to decode from JSON")
	ErrManifestWrite              = errors.New("manifest: unable to write to file")
	ErrManifestAlreadyExists      = errors.New("manifest: file already exists")
)

type ManifestError struct {
	Kind  ManifestErrorKind
	Field string
	Err   error
}

func (e *ManifestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest error (%s) field=%s: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("manifest error (%s): %v", e.Kind, e.Err)
}

func (e *ManifestError) Unwrap() error {
	switch e.Kind {
	case ManifestErrorKindOpen:
		return ErrManifestOpen
	case ManifestErrorKindNotFound:
		return ErrManifestNotFound
	case ManifestErrorKindInvalid:
		return ErrManifestInvalid
	case ManifestErrorKindUnsupportedVersion:
		return ErrManifestUnsupportedVersion
	case ManifestErrorKindEncode:
		return ErrManifestEncode
	case ManifestErrorKindDecode:
		return ErrManifestDecode
	case ManifestErrorKindWrite:
		return ErrManifestWrite
	case ManifestErrorKindAlreadyExists:
		return ErrManifestAlreadyExists
	default:
		return e.Err
	}
}

// CauseErr returns the underlying failure.
func (e *ManifestError) CauseErr() error { return e.Err }
