package txn

import (
	"errors"
	"fmt"
)

var (
	// Returned when next txn ID is 0 or otherwise forbidden.
	ErrInvalidTxnID = errors.New("txn: invalid transaction id")

	// Returned when SetNext attempts to move the allocator backwards.
	ErrTxnIDRegression = errors.New("txn: transaction id regression")

	// Returned when Next would overflow uint64.
	ErrTxnIDOverflow = errors.New("txn: transaction id overflow")
)

type TxnIDError struct {
	Err  error
	Have uint64
	Want uint64
}

func (e *TxnIDError) Error() string { return e.Err.Error() }
func (e *TxnIDError) Unwrap() error { return e.Err }

var (
	ErrCommitBegin             = errors.New("txn: begin failed")
	ErrCommitDone              = errors.New("txn: transaction already finished")
	ErrCommitInvalidEnrichment = errors.New("txn: commit invalid enrichment")
	ErrCommitAllocTxnID        = errors.New("txn: commit txn id allocation failed")
	ErrCommitBuildEnrichment   = errors.New("txn: commit build enrichment failed")
	ErrCommitEncodeEnrichment  = errors.New("txn: commit encode ENRICHMENT failed")

	ErrCommitAppendBegin      = errors.New("txn: commit append BEGIN failed")
	ErrCommitAppendEnrichment = errors.New("txn: commit append ENRICHMENT failed")
	ErrCommitAppendCommit     = errors.New("txn: commit append COMMIT failed")

	ErrCommitFlush = errors.New("txn: commit flush failed")
	ErrCommitFSync = errors.New("txn: commit fsync failed")
)

// CommitStage is where the commit failed.
type CommitStage uint8

const (
	StageUnknown CommitStage = iota
	StageBegin
	StageValidateEnrichment
	StageBuildEnrichment
	StageAllocTxnID

	StageEncodeEnrichment

	StageAppendBegin
	StageAppendEnrichment
	StageAppendCommit

	StageFlush
	StageFSync
)

func (s CommitStage) String() string {
	switch s {
	case StageBegin:
		return "begin"
	case StageValidateEnrichment:
		return "validate_enrichment"
	case StageBuildEnrichment:
		return "build_enrichment"
	case StageAllocTxnID:
		return "alloc_txn_id"
	case StageEncodeEnrichment:
		return "encode_enrichment"
	case StageAppendBegin:
		return "append_begin"
	case StageAppendEnrichment:
		return "append_enrichment"
	case StageAppendCommit:
		return "append_commit"
	case StageFlush:
		return "flush"
	case StageFSync:
		return "fsync"
	default:
		return "unknown"
	}
}

// CommitError wraps commit failures with stable sentinel + rich context.
type CommitError struct {
	Err   error
	Stage CommitStage

	TxnID uint64

	// Size of the serialized enrichment, when one was being written.
	EnrichmentSize int64

	// Underlying cause (codec error, io error, etc.)
	Cause error
}

func (e *CommitError) Error() string {
	base := fmt.Sprintf("txn commit failed (%s)", e.Stage.String())
	if e.TxnID != 0 {
		base = fmt.Sprintf("%s txn_id=%d", base, e.TxnID)
	}
	if e.Cause != nil {
		base = fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *CommitError) Unwrap() error   { return e.Err }
func (e *CommitError) CauseErr() error { return e.Cause }

func wrapCommitErr(stage CommitStage, sentinel error, txnID uint64, cause error) error {
	return &CommitError{
		Err:   sentinel,
		Stage: stage,
		TxnID: txnID,
		Cause: cause,
	}
}
