package cdcstore

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("cdcstore: txn not found")
	ErrClosed        = errors.New("cdcstore: store closed")
	ErrOpen          = errors.New("cdcstore: unable to open store")
	ErrEncode        = errors.New("cdcstore: unable to encode enrichment")
	ErrDecode        = errors.New("cdcstore: unable to decode entry")
	ErrWrite         = errors.New("cdcstore: write failed")
	ErrRead          = errors.New("cdcstore: read failed")
	ErrNotMonotonic  = errors.New("cdcstore: txn id not above last stored")
	ErrVersionLayout = errors.New("cdcstore: enrichment does not fit format version")
)

type StoreErrorKind uint8

const (
	StoreErrorKindUnknown StoreErrorKind = iota
	StoreErrorKindNotFound
	StoreErrorKindClosed
	StoreErrorKindOpen
	StoreErrorKindEncode
	StoreErrorKindDecode
	StoreErrorKindWrite
	StoreErrorKindRead
	StoreErrorKindNotMonotonic
	StoreErrorKindVersionLayout
)

func (k StoreErrorKind) String() string {
	switch k {
	case StoreErrorKindNotFound:
		return "not_found"
	case StoreErrorKindClosed:
		return "closed"
	case StoreErrorKindOpen:
		return "open"
	case StoreErrorKindEncode:
		return "encode"
	case StoreErrorKindDecode:
		return "decode"
	case StoreErrorKindWrite:
		return "write"
	case StoreErrorKindRead:
		return "read"
	case StoreErrorKindNotMonotonic:
		return "not_monotonic"
	case StoreErrorKindVersionLayout:
		return "version_layout"
	default:
		return "unknown"
	}
}

type StoreError struct {
	Kind  StoreErrorKind
	TxnID uint64
	Err   error
}

func (e *StoreError) Error() string {
	if e.TxnID != 0 {
		return fmt.Sprintf("cdcstore error (%s) txn=%d: %v", e.Kind, e.TxnID, e.Err)
	}
	return fmt.Sprintf("cdcstore error (%s): %v", e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	switch e.Kind {
	case StoreErrorKindNotFound:
		return ErrNotFound
	case StoreErrorKindClosed:
		return ErrClosed
	case StoreErrorKindOpen:
		return ErrOpen
	case StoreErrorKindEncode:
		return ErrEncode
	case StoreErrorKindDecode:
		return ErrDecode
	case StoreErrorKindWrite:
		return ErrWrite
	case StoreErrorKindRead:
		return ErrRead
	case StoreErrorKindNotMonotonic:
		return ErrNotMonotonic
	case StoreErrorKindVersionLayout:
		return ErrVersionLayout
	default:
		return e.Err
	}
}

// CauseErr returns the underlying failure.
func (e *StoreError) CauseErr() error { return e.Err }
