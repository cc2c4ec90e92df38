package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/julianstephens/cdcwal/internal/cdcwal/capture"
	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/recovery"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
	"github.com/julianstephens/cdcwal/internal/logger"
)

// Op represents a record to write to the WAL.
type Op struct {
	Kind          OperationKind
	TxnID         uint64
	FormatVersion uint8
	Source        record.EnrichmentSource
	Raw           []byte
}

// OperationKind identifies the type of record.
type OperationKind int

const (
	OpBeginTxn OperationKind = iota
	OpCommitTxn
	OpEnrichment
	OpRawFrame
	OpRotate
)

// Sequence represents a WAL sequence to be replayed during testing.
type Sequence struct {
	ops []Op
}

// NewSequence creates a new empty sequence.
func NewSequence() *Sequence {
	return &Sequence{ops: []Op{}}
}

// Begin adds a BEGIN record for the given transaction ID.
func (s *Sequence) Begin(txnID uint64) *Sequence {
	s.ops = append(s.ops, Op{Kind: OpBeginTxn, TxnID: txnID})
	return s
}

// Commit adds a COMMIT record for the given transaction ID.
func (s *Sequence) Commit(txnID uint64) *Sequence {
	s.ops = append(s.ops, Op{Kind: OpCommitTxn, TxnID: txnID})
	return s
}

// Enrich adds an ENRICHMENT record carrying src encoded at formatVersion.
func (s *Sequence) Enrich(txnID uint64, formatVersion uint8, src record.EnrichmentSource) *Sequence {
	s.ops = append(s.ops, Op{Kind: OpEnrichment, TxnID: txnID, FormatVersion: formatVersion, Source: src})
	return s
}

// Txn adds BEGIN, an optional ENRICHMENT and COMMIT for txnID.
func (s *Sequence) Txn(txnID uint64, formatVersion uint8, src record.EnrichmentSource) *Sequence {
	s.Begin(txnID)
	if src != nil {
		s.Enrich(txnID, formatVersion, src)
	}
	return s.Commit(txnID)
}

// Raw appends bytes verbatim, e.g. a torn or corrupted frame.
func (s *Sequence) Raw(b []byte) *Sequence {
	s.ops = append(s.ops, Op{Kind: OpRawFrame, Raw: b})
	return s
}

// Rotate starts a new segment.
func (s *Sequence) Rotate() *Sequence {
	s.ops = append(s.ops, Op{Kind: OpRotate})
	return s
}

// BuildSegments builds WAL segments numbered consecutively from
// wal.FirstSegmentID.
func (s *Sequence) BuildSegments() (map[uint64][]byte, []uint64, error) {
	n := 1
	for _, op := range s.ops {
		if op.Kind == OpRotate {
			n++
		}
	}
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = wal.FirstSegmentID + uint64(i) //nolint:gosec
	}
	segments, err := s.BuildSegmentsWithIDs(ids)
	return segments, ids, err
}

// BuildSegmentsWithIDs builds WAL segments using segmentIDs in order, one per
// rotation. This allows creating gaps in segment numbering.
func (s *Sequence) BuildSegmentsWithIDs(segmentIDs []uint64) (map[uint64][]byte, error) {
	if len(segmentIDs) == 0 {
		return nil, errors.New("segmentIDs cannot be empty")
	}
	segments := map[uint64][]byte{segmentIDs[0]: {}}
	idx := 0
	for _, op := range s.ops {
		if op.Kind == OpRotate {
			idx++
			if idx >= len(segmentIDs) {
				return nil, fmt.Errorf("not enough segment IDs provided: need at least %d", idx+1)
			}
			segments[segmentIDs[idx]] = []byte{}
			continue
		}
		frame, err := encodeOp(op)
		if err != nil {
			return nil, fmt.Errorf("failed to encode operation: %w", err)
		}
		segments[segmentIDs[idx]] = append(segments[segmentIDs[idx]], frame...)
	}
	return segments, nil
}

// Bytes returns the whole sequence as a single segment, ignoring rotations.
func (s *Sequence) Bytes() ([]byte, error) {
	var out []byte
	for _, op := range s.ops {
		if op.Kind == OpRotate {
			continue
		}
		frame, err := encodeOp(op)
		if err != nil {
			return nil, err
		}
		out = append(out, frame...)
	}
	return out, nil
}

func encodeOp(op Op) ([]byte, error) {
	switch op.Kind {
	case OpBeginTxn:
		return record.EncodeFrame(record.RecordTypeBeginTransaction, record.EncodeBeginTxnPayload(op.TxnID))
	case OpCommitTxn:
		return record.EncodeFrame(record.RecordTypeCommitTransaction, record.EncodeCommitTxnPayload(op.TxnID))
	case OpEnrichment:
		payload, err := record.EncodeEnrichmentPayload(op.TxnID, op.FormatVersion, op.Source)
		if err != nil {
			return nil, err
		}
		return record.EncodeFrame(record.RecordTypeEnrichment, payload)
	case OpRawFrame:
		return bytes.Clone(op.Raw), nil
	default:
		return nil, fmt.Errorf("unknown operation kind: %v", op.Kind)
	}
}

// Applied is a committed transaction as seen by the harness consumer.
type Applied struct {
	TxnID       uint64
	End         wal.Boundary
	Enriched    bool
	RawSize     int64
	Transaction *capture.Transaction
}

// RecoveryHarness orchestrates replay of WAL sequences and assertion checking.
type RecoveryHarness struct {
	sequence *Sequence
	segments map[uint64][]byte
	ids      []uint64
	opts     recovery.ReplayOpts
	applied  []Applied
	result   *recovery.ReplayResult
	err      error
	lg       logger.Logger
}

// NewHarness creates a new recovery harness with the given sequence.
func NewHarness(seq *Sequence) *RecoveryHarness {
	return &RecoveryHarness{
		sequence: seq,
		lg:       logger.NoOpLogger{},
	}
}

// WithLogger sets a custom logger for the harness.
func (h *RecoveryHarness) WithLogger(lg logger.Logger) *RecoveryHarness {
	h.lg = lg
	return h
}

// WithOpts sets the replay options.
func (h *RecoveryHarness) WithOpts(opts recovery.ReplayOpts) *RecoveryHarness {
	h.opts = opts
	return h
}

// BuildSegments builds the WAL segments and stores them.
func (h *RecoveryHarness) BuildSegments() error {
	var err error
	h.segments, h.ids, err = h.sequence.BuildSegments()
	return err
}

// BuildSegmentsWithIDs builds WAL segments with the specified segment IDs.
func (h *RecoveryHarness) BuildSegmentsWithIDs(segmentIDs []uint64) error {
	var err error
	h.segments, err = h.sequence.BuildSegmentsWithIDs(segmentIDs)
	h.ids = slices.Clone(segmentIDs)
	return err
}

// Provider returns a segment provider over the built segments.
func (h *RecoveryHarness) Provider() *SegmentProvider {
	provider := NewSegmentProvider()
	for _, segID := range h.ids {
		provider.AddSegment(segID, h.segments[segID])
	}
	return provider
}

// Replay executes the recovery replay process from start. Every enrichment is
// decoded while the consumer holds it.
func (h *RecoveryHarness) Replay(start wal.Boundary) error {
	if h.segments == nil {
		return errors.New("segments not built yet; call BuildSegments or BuildSegmentsWithIDs first")
	}

	h.applied = nil
	consumer := recovery.ConsumerFunc(func(c recovery.Committed) error {
		a := Applied{TxnID: c.TxnID, End: c.End}
		if c.Enrichment != nil {
			tx, err := capture.Decode(c.Enrichment)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := c.Enrichment.Serialize(channel.NewWriter(&buf)); err != nil {
				return err
			}
			a.Enriched, a.RawSize, a.Transaction = true, int64(buf.Len()), tx
		}
		h.applied = append(h.applied, a)
		return nil
	})
	h.result, h.err = recovery.Replay(h.Provider(), start, consumer, h.opts, h.lg)
	return h.err
}

// AssertReplayError asserts that replay returned an error.
func (h *RecoveryHarness) AssertReplayError(t TestingT) {
	if h.err == nil {
		t.Fatalf("expected replay to return an error, but it succeeded")
	}
}

// AssertReplaySuccess asserts that replay succeeded without an error.
func (h *RecoveryHarness) AssertReplaySuccess(t TestingT) {
	if h.err != nil {
		t.Fatalf("expected replay to succeed, but got error: %v", h.err)
	}
}

// AssertLastCommittedTxnID asserts that the LastCommittedTxnId matches.
func (h *RecoveryHarness) AssertLastCommittedTxnID(t TestingT, expected uint64) {
	if h.result == nil {
		t.Fatalf("no replay result available; call Replay first")
	}
	if h.result.LastCommittedTxnId != expected {
		t.Fatalf("expected LastCommittedTxnId=%d, got %d", expected, h.result.LastCommittedTxnId)
	}
}

// AssertNextTxnID asserts that the NextTxnId matches.
func (h *RecoveryHarness) AssertNextTxnID(t TestingT, expected uint64) {
	if h.result == nil {
		t.Fatalf("no replay result available; call Replay first")
	}
	if h.result.NextTxnId != expected {
		t.Fatalf("expected NextTxnId=%d, got %d", expected, h.result.NextTxnId)
	}
}

// AssertTailStatus asserts that the TailStatus matches.
func (h *RecoveryHarness) AssertTailStatus(t TestingT, expected recovery.TailStatus) {
	if h.result == nil {
		t.Fatalf("no replay result available; call Replay first")
	}
	if h.result.TailStatus != expected {
		t.Fatalf("expected TailStatus=%v, got %v", expected, h.result.TailStatus)
	}
}

// AssertLastValid asserts that the LastValid boundary matches.
func (h *RecoveryHarness) AssertLastValid(t TestingT, expected wal.Boundary) {
	if h.result == nil {
		t.Fatalf("no replay result available; call Replay first")
	}
	if h.result.LastValid != expected {
		t.Fatalf("expected LastValid=%+v, got %+v", expected, h.result.LastValid)
	}
}

// AssertApplied asserts the consumer saw exactly these transaction ids, in order.
func (h *RecoveryHarness) AssertApplied(t TestingT, expected ...uint64) {
	got := make([]uint64, len(h.applied))
	for i, a := range h.applied {
		got[i] = a.TxnID
	}
	if !slices.Equal(got, expected) {
		t.Fatalf("expected applied txns %v, got %v", expected, got)
	}
}

// Applied returns what the consumer saw, in log order.
func (h *RecoveryHarness) Applied() []Applied {
	return h.applied
}

// Result returns the underlying replay result.
func (h *RecoveryHarness) Result() *recovery.ReplayResult {
	return h.result
}

// Err returns the error returned by the last Replay.
func (h *RecoveryHarness) Err() error {
	return h.err
}

// TestingT is a minimal interface for test assertions.
type TestingT interface {
	Fatalf(format string, args ...interface{})
}
