package recovery

import (
	"bytes"
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/chunked"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
)

func readFor(t *testing.T, tracker memory.Tracker) *enrichment.Read {
	t.Helper()
	meta, err := enrichment.NewTxMetadata(enrichment.CaptureModeDiff, "srv", enrichment.User("neo4j"),
		enrichment.EmbeddedConnection, 0)
	tst.RequireNoError(t, err)
	region := func() *chunked.Buffer { return chunked.New(nil).PutInt(7).Flip() }
	w, err := enrichment.NewWrite(meta, chunked.New(nil).Flip(), region(), region(), region())
	tst.RequireNoError(t, err)
	defer func() { _ = w.Close() }()

	var buf bytes.Buffer
	tst.RequireNoError(t, w.Serialize(channel.NewWriter(&buf)))
	r, err := enrichment.Deserialize(enrichment.Version1, channel.NewSliceReader(buf.Bytes()), tracker)
	tst.RequireNoError(t, err)
	return r
}

type applied struct {
	txnId    uint64
	enriched bool
}

func newRecordingState(lastCommitted uint64) (*replayState, *[]applied) {
	var got []applied
	s := newReplayState(lastCommitted, func(txnId uint64, e *enrichment.Read) error {
		got = append(got, applied{txnId: txnId, enriched: e != nil})
		return nil
	})
	return s, &got
}

// TestReplayState_BeginCommit applies a plain transaction
func TestReplayState_BeginCommit(t *testing.T) {
	s, got := newRecordingState(0)

	tst.RequireNoError(t, s.onBegin(1))
	id, open := s.openTxn()
	tst.AssertTrue(t, open, "expected open transaction")
	tst.RequireDeepEqual(t, id, uint64(1))

	tst.RequireNoError(t, s.onCommit(1))
	_, open = s.openTxn()
	tst.AssertFalse(t, open, "expected no open transaction")
	tst.RequireDeepEqual(t, *got, []applied{{txnId: 1}})
	tst.RequireDeepEqual(t, s.maxCommitted, uint64(1))
	tst.RequireDeepEqual(t, s.committed, 1)
}

// TestReplayState_EnrichmentClosedAfterApply hands the enrichment over and releases it
func TestReplayState_EnrichmentClosedAfterApply(t *testing.T) {
	tracker := memory.NewLocalTracker()
	s, got := newRecordingState(0)

	tst.RequireNoError(t, s.onBegin(4))
	tst.RequireNoError(t, s.onEnrichment(4, readFor(t, tracker)))
	tst.AssertGreaterThan(t, tracker.InUse(), int64(0), "expected pending enrichment to hold memory")
	tst.RequireNoError(t, s.onCommit(4))

	tst.RequireDeepEqual(t, *got, []applied{{txnId: 4, enriched: true}})
	tst.RequireDeepEqual(t, tracker.InUse(), int64(0))
}

// TestReplayState_Errors_TableDriven covers every out-of-order record
func TestReplayState_Errors_TableDriven(t *testing.T) {
	testCases := []struct {
		name   string
		run    func(t *testing.T, s *replayState, tracker memory.Tracker) error
		kind   StateErrorKind
		target error
	}{
		{
			name:   "CommitNoTxn",
			run:    func(_ *testing.T, s *replayState, _ memory.Tracker) error { return s.onCommit(1) },
			kind:   StateCommitNoTxn,
			target: ErrCommitNoTxn,
		},
		{
			name: "DoubleBegin",
			run: func(t *testing.T, s *replayState, _ memory.Tracker) error {
				tst.RequireNoError(t, s.onBegin(1))
				return s.onBegin(2)
			},
			kind:   StateDoubleBegin,
			target: ErrDoubleBegin,
		},
		{
			name: "CommitMismatch",
			run: func(t *testing.T, s *replayState, _ memory.Tracker) error {
				tst.RequireNoError(t, s.onBegin(1))
				return s.onCommit(3)
			},
			kind:   StateTxnMismatch,
			target: ErrTxnMismatch,
		},
		{
			name: "OrphanEnrichment",
			run: func(t *testing.T, s *replayState, tracker memory.Tracker) error {
				return s.onEnrichment(1, readFor(t, tracker))
			},
			kind:   StateOrphanOp,
			target: ErrOrphanOp,
		},
		{
			name: "EnrichmentMismatch",
			run: func(t *testing.T, s *replayState, tracker memory.Tracker) error {
				tst.RequireNoError(t, s.onBegin(1))
				return s.onEnrichment(2, readFor(t, tracker))
			},
			kind:   StateTxnMismatch,
			target: ErrTxnMismatch,
		},
		{
			name: "DuplicateEnrichment",
			run: func(t *testing.T, s *replayState, tracker memory.Tracker) error {
				tst.RequireNoError(t, s.onBegin(1))
				tst.RequireNoError(t, s.onEnrichment(1, readFor(t, tracker)))
				return s.onEnrichment(1, readFor(t, tracker))
			},
			kind:   StateDuplicateEnrichment,
			target: ErrDuplicateEnrichment,
		},
		{
			name: "RepeatedTxnID",
			run: func(t *testing.T, s *replayState, _ memory.Tracker) error {
				tst.RequireNoError(t, s.onBegin(1))
				tst.RequireNoError(t, s.onCommit(1))
				return s.onBegin(1)
			},
			kind:   StateTxnNotMonotonic,
			target: ErrTxnNotMonotonic,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tracker := memory.NewLocalTracker()
			s, _ := newRecordingState(0)

			err := tc.run(t, s, tracker)
			assert.IsError(t, err, tc.target)
			var se *StateError
			tst.AssertTrue(t, errors.As(err, &se), "expected StateError")
			tst.RequireDeepEqual(t, se.Kind, tc.kind)

			s.reset()
			tst.RequireDeepEqual(t, tracker.InUse(), int64(0))
		})
	}
}

// TestReplayState_SeededLastCommitted rejects ids at or below the seed
func TestReplayState_SeededLastCommitted(t *testing.T) {
	s, _ := newRecordingState(10)

	err := s.onBegin(10)
	assert.IsError(t, err, ErrTxnNotMonotonic)
	tst.RequireNoError(t, s.onBegin(11))
	tst.RequireNoError(t, s.onCommit(11))
	tst.RequireDeepEqual(t, s.maxCommitted, uint64(11))
}

// TestReplayState_ApplyErrorResets leaves no open transaction
func TestReplayState_ApplyErrorResets(t *testing.T) {
	tracker := memory.NewLocalTracker()
	boom := errors.New("boom")
	s := newReplayState(0, func(uint64, *enrichment.Read) error { return boom })

	tst.RequireNoError(t, s.onBegin(1))
	tst.RequireNoError(t, s.onEnrichment(1, readFor(t, tracker)))
	assert.IsError(t, s.onCommit(1), boom)

	_, open := s.openTxn()
	tst.AssertFalse(t, open, "expected no open transaction")
	tst.RequireDeepEqual(t, s.maxCommitted, uint64(0))
	tst.RequireDeepEqual(t, tracker.InUse(), int64(0))
}

func TestStateError_Strings(t *testing.T) {
	err := &StateError{Kind: StateTxnMismatch, Op: "COMMIT", HaveTxnID: 3, WantTxnID: 1}
	tst.RequireDeepEqual(t, err.Error(), "recovery state error: COMMIT txn mismatch have=3 want=1")
	tst.RequireDeepEqual(t, StateDuplicateEnrichment.String(), "duplicate_enrichment")
}
