package recovery

import (
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
)

// replayState pairs BEGIN, ENRICHMENT and COMMIT records. The writer never
// interleaves transactions, so at most one is open at a time.
type replayState struct {
	inTxn    bool
	curTxnId uint64
	pending  *enrichment.Read

	// lastBegin is the highest txn id seen on a BEGIN, seeded with the
	// last committed id known before replay.
	lastBegin    uint64
	maxCommitted uint64
	committed    int

	apply func(txnId uint64, e *enrichment.Read) error
}

func newReplayState(lastCommitted uint64, apply func(uint64, *enrichment.Read) error) *replayState {
	return &replayState{
		lastBegin:    lastCommitted,
		maxCommitted: lastCommitted,
		apply:        apply,
	}
}

func (s *replayState) onBegin(txnId uint64) error {
	if s.inTxn {
		return &StateError{Kind: StateDoubleBegin, Op: "BEGIN", TxnID: txnId, HaveTxnID: txnId, WantTxnID: s.curTxnId}
	}
	if txnId <= s.lastBegin {
		return &StateError{Kind: StateTxnNotMonotonic, Op: "BEGIN", TxnID: txnId, HaveTxnID: txnId, WantTxnID: s.lastBegin}
	}
	s.inTxn = true
	s.curTxnId = txnId
	s.lastBegin = txnId
	return nil
}

// onEnrichment takes ownership of e. It is closed on error.
func (s *replayState) onEnrichment(txnId uint64, e *enrichment.Read) error {
	var err error
	switch {
	case !s.inTxn:
		err = &StateError{Kind: StateOrphanOp, Op: "ENRICHMENT", TxnID: txnId}
	case s.curTxnId != txnId:
		err = &StateError{Kind: StateTxnMismatch, Op: "ENRICHMENT", TxnID: txnId, HaveTxnID: txnId, WantTxnID: s.curTxnId}
	case s.pending != nil:
		err = &StateError{Kind: StateDuplicateEnrichment, Op: "ENRICHMENT", TxnID: txnId}
	}
	if err != nil {
		_ = e.Close()
		return err
	}
	s.pending = e
	return nil
}

// onCommit hands the transaction to apply and closes its enrichment once
// apply returns.
func (s *replayState) onCommit(txnId uint64) error {
	if !s.inTxn {
		return &StateError{Kind: StateCommitNoTxn, Op: "COMMIT", TxnID: txnId}
	}
	if s.curTxnId != txnId {
		return &StateError{Kind: StateTxnMismatch, Op: "COMMIT", TxnID: txnId, HaveTxnID: txnId, WantTxnID: s.curTxnId}
	}

	pending := s.pending
	s.pending = nil
	err := s.apply(txnId, pending)
	if pending != nil {
		_ = pending.Close()
	}
	if err != nil {
		s.reset()
		return err
	}

	if txnId > s.maxCommitted {
		s.maxCommitted = txnId
	}
	s.committed++
	s.reset()
	return nil
}

// openTxn returns the id of a transaction that began but did not commit.
func (s *replayState) openTxn() (uint64, bool) {
	return s.curTxnId, s.inTxn
}

// reset abandons the open transaction, if any.
func (s *replayState) reset() {
	if s.pending != nil {
		_ = s.pending.Close()
		s.pending = nil
	}
	s.inTxn = false
	s.curTxnId = 0
}
