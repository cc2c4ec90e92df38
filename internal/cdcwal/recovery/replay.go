package recovery

import (
	"errors"
	"fmt"
	"io"

	"github.com/julianstephens/go-utils/generic"
	"github.com/julianstephens/go-utils/validator"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
	"github.com/julianstephens/cdcwal/internal/cdcwal/errorutil"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
	"github.com/julianstephens/cdcwal/internal/logger"
)

type TailStatus int

const (
	// TailStatusValid indicates the log ends on a committed transaction.
	TailStatusValid TailStatus = iota
	// TailStatusCorrupt indicates an undecodable or out-of-order record was found.
	TailStatusCorrupt
	// TailStatusMissing indicates the segment containing the starting boundary is missing.
	TailStatusMissing
	// TailStatusTruncated indicates a torn record or an unfinished transaction
	// at the end of the last segment.
	TailStatusTruncated
)

func (ts TailStatus) String() string {
	switch ts {
	case TailStatusValid:
		return "valid"
	case TailStatusCorrupt:
		return "corrupt"
	case TailStatusMissing:
		return "missing"
	case TailStatusTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// Committed is one transaction handed to a Consumer. Enrichment is nil when
// the transaction was written without one, and is closed once Apply returns.
type Committed struct {
	TxnID      uint64
	End        wal.Boundary
	Enrichment *enrichment.Read
}

type Consumer interface {
	Apply(c Committed) error
}

type ConsumerFunc func(c Committed) error

func (f ConsumerFunc) Apply(c Committed) error { return f(c) }

type ReplayOpts struct {
	// LastCommitted is the highest txn id committed before start. Every BEGIN
	// replayed must be above it.
	LastCommitted uint64

	// Tracker is charged for decoded enrichments while they are held.
	Tracker memory.Tracker
}

type ReplayResult struct {
	NextTxnId          uint64
	LastCommittedTxnId uint64

	// LastValid is the boundary just past the last committed transaction.
	// Appending there never leaves a dangling BEGIN behind.
	LastValid wal.Boundary

	// LastRecord is the boundary just past the last intact record.
	LastRecord wal.Boundary

	TailStatus TailStatus
	Committed  int

	// OpenTxnId is the transaction that began but never committed, or 0.
	OpenTxnId uint64
}

// Replay reads the log from start and hands every committed transaction to
// consumer in log order. A nil consumer only validates.
func Replay(
	p wal.SegmentProvider,
	start wal.Boundary,
	consumer Consumer,
	opts ReplayOpts,
	lg logger.Logger,
) (*ReplayResult, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	if opts.Tracker == nil {
		opts.Tracker = memory.EmptyTracker{}
	}

	lastValid, lastRecord := start, start
	state := newReplayState(opts.LastCommitted, func(txnId uint64, e *enrichment.Read) error {
		if consumer == nil {
			return nil
		}
		return consumer.Apply(Committed{TxnID: txnId, End: lastRecord, Enrichment: e})
	})

	finish := func(status TailStatus) *ReplayResult {
		res := &ReplayResult{
			NextTxnId:          max(state.maxCommitted, state.lastBegin) + 1,
			LastCommittedTxnId: state.maxCommitted,
			LastValid:          lastValid,
			LastRecord:         lastRecord,
			TailStatus:         status,
			Committed:          state.committed,
		}
		if id, open := state.openTxn(); open {
			res.OpenTxnId = id
		}
		state.reset()
		return res
	}

	ids := p.SegmentIDs()
	if err := validateSegments(ids); err != nil {
		lg.Error("segment validation failed", err)
		return finish(TailStatusCorrupt), &ReplaySourceError{
			Kind:        ReplaySourceSegmentOrder,
			Coordinates: errorutil.At(start.SegId, start.Offset),
			Cause:       err,
			Err:         ErrSegmentOrder,
		}
	}

	rr, err := wal.NewRecordReader(p, start)
	if err != nil {
		lg.Error("start segment not found", err, "seg", start.SegId)
		return finish(TailStatusMissing), &ReplaySourceError{
			Kind:        ReplaySourceSegmentMissing,
			Coordinates: errorutil.At(start.SegId, start.Offset),
			Cause:       err,
			Err:         ErrSegmentMissing,
		}
	}
	defer func() {
		if closeErr := rr.Close(); closeErr != nil {
			lg.Error("failed to close segment", closeErr)
		}
	}()

	lg.Info("starting WAL replay", "start_seg", start.SegId, "start_offset", start.Offset, "total_segs", len(ids))

	sawTruncation := false
	for {
		rec, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var le *wal.LogError
			if errors.As(err, &le) {
				lg.Warn("failed to read segment", "seg", rec.SegID, "op", le.Op)
				kind := generic.If(errors.Is(err, wal.ErrSegmentClose), ReplaySourceSegmentClose, ReplaySourceSegmentOpen)
				return finish(TailStatusCorrupt), &ReplaySourceError{
					Kind:        kind,
					Coordinates: errorutil.At(rec.SegID, generic.If(rec.SegID == lastRecord.SegId, lastRecord.Offset, 0)),
					Cause:       le.CauseErr(),
					Err:         generic.If(kind == ReplaySourceSegmentClose, ErrSegmentClose, ErrSegmentOpen),
				}
			}

			de := &ReplayDecodeError{SafeOffset: lastRecord.Offset, RecordType: record.RecordTypeUnknown, Err: err}
			at, reason := lastRecord.Offset, "io_error"
			if pe, ok := record.AsParseError(err); ok {
				at, reason = pe.Offset, pe.Kind.String()
				de.SafeOffset, de.DeclaredLen, de.RecordType = pe.SafeTruncateOffset, pe.DeclaredLen, pe.RecordType
			}
			if record.IsTruncation(err) && rr.InLastSegment() {
				lg.Info("torn record at end of log; treating as clean EOF",
					"seg", rec.SegID, "offset", at, "boundary_offset", lastRecord.Offset)
				sawTruncation = true
				break
			}
			lg.Warn("segment read failed", "seg", rec.SegID, "offset", at, "reason", reason)
			de.Coordinates = errorutil.At(rec.SegID, at)
			return finish(TailStatusCorrupt), de
		}

		// End must be current before a COMMIT is applied.
		prevRecord := lastRecord
		lastRecord = rec.End()
		if err := replayOne(rec, state, opts.Tracker); err != nil {
			lastRecord = prevRecord
			lg.Warn("replay stopped", "seg", rec.SegID, "offset", rec.Offset, "type", rec.Record.Type, "reason", err.Error())
			return finish(TailStatusCorrupt), err
		}
		if rec.Record.Type == record.RecordTypeCommitTransaction {
			lastValid = lastRecord
		}
	}

	status := TailStatusValid
	if _, open := state.openTxn(); open || sawTruncation {
		status = TailStatusTruncated
	}
	res := finish(status)
	if res.OpenTxnId != 0 {
		lg.Warn("transaction never committed; discarding", "txn", res.OpenTxnId)
	}

	lg.Info(
		"WAL replay complete",
		"next_txn_id", res.NextTxnId,
		"last_committed_txn_id", res.LastCommittedTxnId,
		"committed", res.Committed,
		"last_valid_seg", res.LastValid.SegId,
		"last_valid_offset", res.LastValid.Offset,
		"tail", res.TailStatus,
	)
	return res, nil
}

func replayOne(rec wal.SegmentRecord, state *replayState, tracker memory.Tracker) error {
	decodeErr := func(err error) error {
		return &ReplayDecodeError{
			Coordinates: errorutil.At(rec.SegID, rec.Offset),
			SafeOffset:  rec.Offset,
			RecordType:  rec.Record.Type,
			DeclaredLen: rec.Record.Len,
			Err:         err,
		}
	}
	logicErr := func(kind ReplayLogicErrorKind, txnId uint64, err error) error {
		var se *StateError
		if kind == ReplayLogicCommit && !errors.As(err, &se) {
			kind = ReplayLogicApply
			err = fmt.Errorf("%w: %w", ErrApply, err)
		}
		return &ReplayLogicError{
			Kind:        kind,
			Coordinates: errorutil.At(rec.SegID, rec.Offset).WithTxn(txnId),
			RecordType:  rec.Record.Type,
			Err:         err,
		}
	}

	switch rec.Record.Type {
	case record.RecordTypeBeginTransaction:
		payload, err := record.DecodeBeginTxnPayload(rec.Record.Payload)
		if err != nil {
			return decodeErr(err)
		}
		if err := state.onBegin(payload.TxnID); err != nil {
			return logicErr(ReplayLogicBegin, payload.TxnID, err)
		}
	case record.RecordTypeEnrichment:
		payload, err := record.DecodeEnrichmentPayload(rec.Record.Payload)
		if err != nil {
			return decodeErr(err)
		}
		e, err := decodeEnrichment(payload, tracker)
		if err != nil {
			return decodeErr(err)
		}
		if err := state.onEnrichment(payload.TxnID, e); err != nil {
			return logicErr(ReplayLogicEnrichment, payload.TxnID, err)
		}
	case record.RecordTypeCommitTransaction:
		payload, err := record.DecodeCommitTxnPayload(rec.Record.Payload)
		if err != nil {
			return decodeErr(err)
		}
		if err := state.onCommit(payload.TxnID); err != nil {
			return logicErr(ReplayLogicCommit, payload.TxnID, err)
		}
	default:
		return decodeErr(record.ErrInvalidType)
	}
	return nil
}

// decodeEnrichment deserializes the body at the version it was written with.
// The body must hold exactly one enrichment.
func decodeEnrichment(p *record.EnrichmentPayload, tracker memory.Tracker) (*enrichment.Read, error) {
	e, err := enrichment.Deserialize(enrichment.Version(p.FormatVersion), channel.NewSliceReader(p.Body), tracker)
	if err != nil {
		return nil, err
	}
	if size := e.TotalSize(); size != int64(len(p.Body)) {
		_ = e.Close()
		return nil, &record.CodecError{
			Kind:  record.CodecCorrupt,
			Field: "body",
			At:    record.EnrichmentHeaderSize + int(size),
			Want:  int(size),
			Have:  len(p.Body),
			Err:   fmt.Errorf("%w: trailing bytes after enrichment", record.ErrCodecCorrupt),
		}
	}
	return e, nil
}

// validateSegments checks that the given segment IDs are non-zero and consecutive.
func validateSegments(ids []uint64) error {
	v := validator.Numbers[uint64]()

	if len(ids) == 0 {
		return nil
	}

	if err := v.ValidateNonZero(ids[0]); err != nil {
		return err
	}

	for i := 1; i < len(ids); i++ {
		if err := v.ValidateNonZero(ids[i]); err != nil {
			return err
		}
		if err := v.ValidateConsecutive(ids[i-1], ids[i]); err != nil {
			return err
		}
	}

	return nil
}
