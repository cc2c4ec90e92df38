package recovery

import (
	"errors"
	"fmt"
)

var (
	ErrOrphanOp            = errors.New("recovery: record outside transaction")
	ErrCommitNoTxn         = errors.New("recovery: commit with no active transaction")
	ErrDoubleBegin         = errors.New("recovery: begin while transaction active")
	ErrTxnMismatch         = errors.New("recovery: txn_id mismatch")
	ErrTxnNotMonotonic     = errors.New("recovery: non-monotonic txn_id")
	ErrDuplicateEnrichment = errors.New("recovery: second enrichment in transaction")
)

type StateErrorKind uint8

const (
	StateUnknown StateErrorKind = iota
	StateOrphanOp
	StateCommitNoTxn
	StateDoubleBegin
	StateTxnMismatch
	StateTxnNotMonotonic
	StateDuplicateEnrichment
)

func (k StateErrorKind) String() string {
	switch k {
	case StateOrphanOp:
		return "orphan_op"
	case StateCommitNoTxn:
		return "commit_no_txn"
	case StateDoubleBegin:
		return "double_begin"
	case StateTxnMismatch:
		return "txn_mismatch"
	case StateTxnNotMonotonic:
		return "txn_not_monotonic"
	case StateDuplicateEnrichment:
		return "duplicate_enrichment"
	default:
		return "unknown"
	}
}

type StateError struct {
	Kind StateErrorKind

	// Semantic context only; replay adds the segment coordinates.
	TxnID uint64

	// Set for mismatch and monotonic violations.
	WantTxnID uint64
	HaveTxnID uint64

	// Op is the record that triggered it: "BEGIN", "ENRICHMENT" or "COMMIT".
	Op string
}

func (e *StateError) Error() string {
	switch e.Kind {
	case StateTxnMismatch:
		return fmt.Sprintf("recovery state error: %s txn mismatch have=%d want=%d", e.Op, e.HaveTxnID, e.WantTxnID)
	case StateTxnNotMonotonic:
		return fmt.Sprintf("recovery state error: txn not monotonic have=%d want>%d", e.HaveTxnID, e.WantTxnID)
	default:
		return fmt.Sprintf("recovery state error: %s %s txn=%d", e.Op, e.Kind, e.TxnID)
	}
}

func (e *StateError) Unwrap() error {
	switch e.Kind {
	case StateOrphanOp:
		return ErrOrphanOp
	case StateCommitNoTxn:
		return ErrCommitNoTxn
	case StateDoubleBegin:
		return ErrDoubleBegin
	case StateTxnMismatch:
		return ErrTxnMismatch
	case StateTxnNotMonotonic:
		return ErrTxnNotMonotonic
	case StateDuplicateEnrichment:
		return ErrDuplicateEnrichment
	default:
		return nil
	}
}
