package recovery

import (
	"errors"
	"fmt"

	"github.com/julianstephens/cdcwal/internal/cdcwal/errorutil"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
)

// ReplayDecodeError reports a record that could not be framed or decoded.
// SafeOffset is where the segment can be cut to drop it and everything after.
type ReplayDecodeError struct {
	*errorutil.Coordinates
	SafeOffset  int64
	DeclaredLen uint32
	RecordType  record.RecordType
	Err         error
}

func (e *ReplayDecodeError) Error() string {
	coords := ""
	if e.Coordinates != nil {
		coords = e.FormatCoordinates()
	}
	return fmt.Sprintf("recovery: decode error %s safe_at=%d type=%s declared_len=%d: %v",
		coords, e.SafeOffset, e.RecordType, e.DeclaredLen, e.Err,
	)
}
func (e *ReplayDecodeError) Unwrap() error { return e.Err }

type ReplayLogicErrorKind int

const (
	ReplayLogicUnknown ReplayLogicErrorKind = iota
	ReplayLogicBegin
	ReplayLogicEnrichment
	ReplayLogicCommit
	ReplayLogicApply
)

func (k ReplayLogicErrorKind) String() string {
	switch k {
	case ReplayLogicBegin:
		return "begin"
	case ReplayLogicEnrichment:
		return "enrichment"
	case ReplayLogicCommit:
		return "commit"
	case ReplayLogicApply:
		return "apply"
	default:
		return "unknown"
	}
}

// ReplayLogicError reports well-formed records in an impossible order, or a
// consumer that rejected a committed transaction.
type ReplayLogicError struct {
	*errorutil.Coordinates
	Kind       ReplayLogicErrorKind
	RecordType record.RecordType
	Err        error
}

func (e *ReplayLogicError) Error() string {
	coords := ""
	if e.Coordinates != nil {
		coords = e.FormatCoordinates()
	}
	return fmt.Sprintf("recovery: logic error %s kind=%s: %v", coords, e.Kind, e.Err)
}
func (e *ReplayLogicError) Unwrap() error { return e.Err }

type ReplaySourceErrorKind int

const (
	ReplaySourceUnknown ReplaySourceErrorKind = iota
	ReplaySourceSegmentOrder
	ReplaySourceSegmentOpen
	ReplaySourceSegmentClose
	ReplaySourceSegmentMissing
)

var (
	ErrSegmentOrder   = errors.New("recovery: invalid segment order")
	ErrSegmentOpen    = errors.New("recovery: failed to open segment")
	ErrSegmentClose   = errors.New("recovery: failed to close segment")
	ErrSegmentMissing = errors.New("recovery: starting segment missing")
	ErrApply          = errors.New("recovery: consumer rejected transaction")
)

type ReplaySourceError struct {
	*errorutil.Coordinates
	Kind  ReplaySourceErrorKind
	Cause error
	Err   error
}

func (e *ReplaySourceError) Error() string {
	coords := ""
	if e.Coordinates != nil {
		coords = e.FormatCoordinates()
	}
	return fmt.Sprintf("recovery: source error %s kind=%d: %v (cause: %v)",
		coords, e.Kind, e.Err, e.Cause,
	)
}

func (e *ReplaySourceError) Unwrap() error {
	switch e.Kind {
	case ReplaySourceSegmentOrder:
		return ErrSegmentOrder
	case ReplaySourceSegmentOpen:
		return ErrSegmentOpen
	case ReplaySourceSegmentClose:
		return ErrSegmentClose
	case ReplaySourceSegmentMissing:
		return ErrSegmentMissing
	default:
		return e.Err
	}
}

func (e *ReplaySourceError) CauseErr() error { return e.Cause }
