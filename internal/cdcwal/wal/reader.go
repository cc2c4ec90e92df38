package wal

import (
	"io"
	"slices"

	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
)

// SegmentRecord is a framed record and the segment it was read from.
type SegmentRecord struct {
	SegID uint64
	record.FramedRecord
}

// End returns the boundary just past the record.
func (r SegmentRecord) End() Boundary {
	return Boundary{SegId: r.SegID, Offset: r.Offset + r.Size}
}

// RecordReader reads framed records across consecutive segments, starting at
// a boundary.
type RecordReader struct {
	p     SegmentProvider
	ids   []uint64
	idx   int
	start Boundary

	cur    SegmentReader
	frames *record.FrameReader
}

// NewRecordReader creates a RecordReader over the segments of p, beginning at start.
func NewRecordReader(p SegmentProvider, start Boundary) (*RecordReader, error) {
	ids := p.SegmentIDs()
	idx := slices.Index(ids, start.SegId)
	if idx < 0 {
		return nil, &LogError{Err: ErrSegmentNotFound, SegID: start.SegId, Op: "open_reader"}
	}
	return &RecordReader{p: p, ids: ids, idx: idx, start: start}, nil
}

// Next returns the next record. It returns io.EOF after the last segment.
// Frame errors are returned unchanged; their offsets are relative to Segment().
func (rr *RecordReader) Next() (SegmentRecord, error) {
	for {
		if rr.frames == nil {
			if rr.idx >= len(rr.ids) {
				return SegmentRecord{}, io.EOF
			}
			if err := rr.open(); err != nil {
				return SegmentRecord{SegID: rr.ids[rr.idx]}, err
			}
		}

		segID := rr.ids[rr.idx]
		rec, err := rr.frames.Next()
		if err == io.EOF {
			if err := rr.closeCurrent(); err != nil {
				return SegmentRecord{SegID: segID}, err
			}
			rr.idx++
			continue
		}
		if err != nil {
			return SegmentRecord{SegID: segID}, err
		}
		return SegmentRecord{SegID: segID, FramedRecord: rec}, nil
	}
}

// Segment returns the id of the segment being read, or 0 once exhausted.
func (rr *RecordReader) Segment() uint64 {
	if rr.idx >= len(rr.ids) {
		return 0
	}
	return rr.ids[rr.idx]
}

// InLastSegment reports whether the reader is positioned in the final segment.
func (rr *RecordReader) InLastSegment() bool {
	return rr.idx == len(rr.ids)-1
}

// Close releases the open segment, if any.
func (rr *RecordReader) Close() error {
	return rr.closeCurrent()
}

func (rr *RecordReader) open() error {
	segID := rr.ids[rr.idx]
	sr, err := rr.p.OpenSegment(segID)
	if err != nil {
		return &LogError{Err: ErrSegmentOpen, SegID: segID, Op: "open_segment", Cause: err}
	}

	var offset int64
	if segID == rr.start.SegId {
		offset = rr.start.Offset
	}
	if err := sr.SeekTo(offset); err != nil {
		_ = sr.Close()
		return &LogError{Err: ErrSegmentOpen, SegID: segID, Op: "seek_segment", Cause: err}
	}

	rr.cur = sr
	rr.frames = record.NewFrameReaderAt(sr.Reader(), offset)
	return nil
}

func (rr *RecordReader) closeCurrent() error {
	if rr.cur == nil {
		return nil
	}
	sr := rr.cur
	rr.cur, rr.frames = nil, nil
	if err := sr.Close(); err != nil {
		return &LogError{Err: ErrSegmentClose, SegID: sr.SegID(), Op: "close_segment", Cause: err}
	}
	return nil
}
