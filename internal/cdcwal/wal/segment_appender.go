package wal

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
)

const (
	segmentWriterBufferSize = 64 << 10 // 64KiB
)

// SegmentAppender appends framed records to one segment file through a
// buffered writer. Append does not flush.
type SegmentAppender struct {
	mu sync.Mutex

	file   *os.File
	writer *bufio.Writer
	offset int64
	closed bool
}

var _ LogAppender = (*SegmentAppender)(nil)

// NewSegmentAppender creates a new SegmentAppender positioned at the end of segmentFile.
func NewSegmentAppender(segmentFile *os.File) (*SegmentAppender, error) {
	if segmentFile == nil {
		return nil, ErrNilSegmentFile
	}

	info, err := segmentFile.Stat()
	if err != nil {
		return nil, err
	}

	if _, err := segmentFile.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}

	return &SegmentAppender{
		file:   segmentFile,
		writer: bufio.NewWriterSize(segmentFile, segmentWriterBufferSize),
		offset: info.Size(),
	}, nil
}

// Append frames payload and buffers it. It returns the offset of the record
// header within the segment.
func (a *SegmentAppender) Append(recordType record.RecordType, payload []byte) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, &SegmentAppendError{Err: ErrClosedWriter, Offset: a.offset, RecordType: recordType}
	}

	data, err := record.EncodeFrame(recordType, payload)
	if err != nil {
		return 0, &SegmentAppendError{
			Err:        ErrInvalidRecord,
			Cause:      err,
			Offset:     a.offset,
			RecordType: recordType,
		}
	}

	start := a.offset
	n, err := a.writer.Write(data)
	a.offset += int64(n)
	if err != nil {
		return 0, &SegmentAppendError{
			Err:        ErrAppendFailed,
			Cause:      err,
			Offset:     start,
			RecordType: recordType,
			Have:       n,
			Want:       len(data),
		}
	}
	if n != len(data) {
		return 0, &SegmentAppendError{
			Err:        ErrShortWrite,
			Offset:     start,
			RecordType: recordType,
			Have:       n,
			Want:       len(data),
		}
	}

	return start, nil
}

// CurrentOffset returns the segment size including buffered bytes.
func (a *SegmentAppender) CurrentOffset() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

func (a *SegmentAppender) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return &SegmentAppendError{Err: ErrClosedWriter, Offset: a.offset}
	}
	return a.flushLocked()
}

// FSync flushes buffered records and syncs the segment file.
func (a *SegmentAppender) FSync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return &SegmentAppendError{Err: ErrClosedWriter, Offset: a.offset}
	}
	if err := a.flushLocked(); err != nil {
		return err
	}
	if err := a.file.Sync(); err != nil {
		return &SegmentAppendError{Err: ErrSyncFailed, Cause: err, Offset: a.offset}
	}
	return nil
}

// Truncate flushes and cuts the segment at offset. The next Append writes
// at offset.
func (a *SegmentAppender) Truncate(offset int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return &SegmentAppendError{Err: ErrClosedWriter, Offset: a.offset}
	}
	if offset < 0 || offset > a.offset {
		return &SegmentAppendError{Err: ErrInvalidRecord, Offset: offset, Have: int(a.offset), Want: int(offset)}
	}
	if err := a.flushLocked(); err != nil {
		return err
	}
	if err := a.file.Truncate(offset); err != nil {
		return &SegmentAppendError{Err: ErrAppendFailed, Cause: err, Offset: offset}
	}
	if _, err := a.file.Seek(offset, io.SeekStart); err != nil {
		return &SegmentAppendError{Err: ErrAppendFailed, Cause: err, Offset: offset}
	}
	a.offset = offset
	return nil
}

// Close flushes and closes the segment file. Closing twice is a no-op.
func (a *SegmentAppender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	flushErr := a.flushLocked()
	if err := a.file.Close(); err != nil {
		return &SegmentAppendError{Err: ErrCloseFailed, Cause: err, Offset: a.offset}
	}
	return flushErr
}

func (a *SegmentAppender) flushLocked() error {
	if err := a.writer.Flush(); err != nil {
		return &SegmentAppendError{Err: ErrFlushFailed, Cause: err, Offset: a.offset}
	}
	return nil
}
