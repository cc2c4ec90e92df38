package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/julianstephens/go-utils/helpers"

	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
)

const segmentNameFormat = "segment-%020d.wal"

type LogOpts struct {
	// 0 means "never rotate" (single segment)
	SegmentMaxBytes int64
	// SyncOnRotate fsyncs the outgoing segment before a new one is started.
	SyncOnRotate bool
}

// Log is a directory of numbered segment files. Records are appended to the
// highest segment, which is rotated once it would exceed SegmentMaxBytes.
type Log struct {
	mu sync.Mutex

	dir  string
	opts LogOpts

	// segments is always kept sorted for binary search
	segments    []uint64 // sorted ascending; includes activeSegId
	activeSegId uint64
	active      *SegmentAppender

	closed bool
}

var (
	_ LogAppender     = (*Log)(nil)
	_ SegmentProvider = (*Log)(nil)
)

func logClosed(dir string) error {
	return &LogError{
		Err: ErrWALClosed,
		Dir: dir,
		Op:  "log",
	}
}

func wrapLogErr(op string, sentinel error, dir string, segID uint64, cause error) error {
	return &LogError{
		Err:   sentinel,
		Dir:   dir,
		SegID: segID,
		Op:    op,
		Cause: cause,
	}
}

func listSegments(dir string) ([]uint64, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segs []uint64
	for _, fi := range files {
		if fi.IsDir() {
			continue
		}
		var segId uint64
		n, err := fmt.Sscanf(fi.Name(), segmentNameFormat, &segId)
		if err != nil || n != 1 {
			continue
		}
		segs = append(segs, segId)
	}
	return segs, nil
}

// OpenLog opens or creates the WAL directory, discovers existing segments,
// selects the active segment, and prepares it for append.
func OpenLog(dir string, opts LogOpts) (*Log, error) {
	l := &Log{
		dir:  dir,
		opts: opts,
	}

	if err := helpers.Ensure(dir, true); err != nil {
		return nil, wrapLogErr("ensure_wal_dir", ErrInvalidWALDir, dir, 0, err)
	}

	segs, err := listSegments(dir)
	if err != nil {
		return nil, wrapLogErr("list_segments", ErrSegmentList, dir, 0, err)
	}
	l.segments = segs
	slices.Sort(l.segments)

	var activeSegId uint64
	var activeFile *os.File

	if len(l.segments) == 0 {
		activeFile, activeSegId, err = l.createNextSegment(0)
		if err != nil {
			return nil, wrapLogErr("create_segment", ErrSegmentCreate, dir, 0, err)
		}
		l.segments = append(l.segments, activeSegId)
	} else {
		activeSegId = l.segments[len(l.segments)-1]
		activeFile, err = openSegmentForAppend(l.segmentPath(activeSegId))
		if err != nil {
			return nil, wrapLogErr("open_segment", ErrSegmentOpen, dir, activeSegId, err)
		}
	}

	activeWriter, err := NewSegmentAppender(activeFile)
	if err != nil {
		_ = activeFile.Close()
		return nil, wrapLogErr("create_segment_writer", ErrSegmentOpen, dir, activeSegId, err)
	}

	l.activeSegId = activeSegId
	l.active = activeWriter

	return l, nil
}

// Dir returns the log directory.
func (l *Log) Dir() string { return l.dir }

func (l *Log) SegmentIDs() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.segments)
}

// SegmentPath returns the path of segId, or "" if the segment is unknown.
func (l *Log) SegmentPath(segId uint64) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := slices.BinarySearch(l.segments, segId); !ok {
		return ""
	}
	return l.segmentPath(segId)
}

// End returns the boundary just past the last appended record.
func (l *Log) End() Boundary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Boundary{SegId: l.activeSegId, Offset: l.active.CurrentOffset()}
}

func (l *Log) OpenSegment(segId uint64) (SegmentReader, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := slices.BinarySearch(l.segments, segId); !ok {
		return nil, wrapLogErr("get_segment_path", ErrSegmentNotFound, l.dir, segId, nil)
	}

	file, err := os.Open(l.segmentPath(segId)) //nolint:gosec
	if err != nil {
		return nil, wrapLogErr("open_segment", ErrSegmentOpen, l.dir, segId, err)
	}

	return NewFileSegmentReader(segId, file), nil
}

// Append appends a single framed WAL record to the active segment,
// rotating segments if policy requires.
func (l *Log) Append(rt record.RecordType, payload []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, logClosed(l.dir)
	}

	if err := l.maybeRotateLocked(len(payload)); err != nil {
		return 0, wrapLogErr("rotate_segment", ErrSegmentRotate, l.dir, l.activeSegId, err)
	}

	offset, err := l.active.Append(rt, payload)
	if err != nil {
		return 0, wrapLogErr("append_record", ErrAppendFailed, l.dir, l.activeSegId, err)
	}
	return offset, nil
}

// Flush flushes buffered writes of the active segment.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return logClosed(l.dir)
	}

	if err := l.active.Flush(); err != nil {
		return wrapLogErr("flush_segment", ErrSegmentFlush, l.dir, l.activeSegId, err)
	}
	return nil
}

// FSync flushes then fsyncs the active segment.
func (l *Log) FSync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return logClosed(l.dir)
	}

	if err := l.active.FSync(); err != nil {
		return wrapLogErr("fsync_segment", ErrSegmentSync, l.dir, l.activeSegId, err)
	}
	return nil
}

// TruncateTail drops everything after b. When b lies in an earlier segment,
// every later segment is removed, highest first, and b's segment becomes the
// active one again. A failure part way through closes the log; reopening it
// finds a torn tail that recovery can cut.
func (l *Log) TruncateTail(b Boundary) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return logClosed(l.dir)
	}
	if b.SegId == l.activeSegId {
		if err := l.active.Truncate(b.Offset); err != nil {
			return wrapLogErr("truncate_segment", ErrSegmentTruncate, l.dir, b.SegId, err)
		}
		return nil
	}

	idx, ok := slices.BinarySearch(l.segments, b.SegId)
	if !ok || b.SegId > l.activeSegId {
		return wrapLogErr("truncate_segment", ErrSegmentTruncate, l.dir, b.SegId,
			fmt.Errorf("boundary segment %d is not in the log (active %d)", b.SegId, l.activeSegId))
	}

	file, err := openSegmentForAppend(l.segmentPath(b.SegId))
	if err != nil {
		return wrapLogErr("open_segment", ErrSegmentOpen, l.dir, b.SegId, err)
	}
	target, err := NewSegmentAppender(file)
	if err != nil {
		_ = file.Close()
		return wrapLogErr("create_segment_writer", ErrSegmentOpen, l.dir, b.SegId, err)
	}
	if b.Offset < 0 || b.Offset > target.CurrentOffset() {
		_ = target.Close()
		return wrapLogErr("truncate_segment", ErrSegmentTruncate, l.dir, b.SegId,
			fmt.Errorf("offset %d is past the end of segment %d (%d bytes)", b.Offset, b.SegId, target.CurrentOffset()))
	}

	// From here on the in-memory view no longer matches the directory until
	// the cut completes.
	_ = l.active.Close()
	for k := len(l.segments) - 1; k > idx; k-- {
		segId := l.segments[k]
		if err := os.Remove(l.segmentPath(segId)); err != nil && !os.IsNotExist(err) {
			l.closed = true
			_ = target.Close()
			return wrapLogErr("remove_segment", ErrSegmentTruncate, l.dir, segId, err)
		}
	}
	if err := target.Truncate(b.Offset); err != nil {
		l.closed = true
		_ = target.Close()
		return wrapLogErr("truncate_segment", ErrSegmentTruncate, l.dir, b.SegId, err)
	}

	l.segments = l.segments[:idx+1]
	l.activeSegId = b.SegId
	l.active = target
	return nil
}

// Close closes the active segment writer and marks the log closed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.active.Close(); err != nil {
		return wrapLogErr("close_segment", ErrSegmentClose, l.dir, l.activeSegId, err)
	}
	return nil
}

func (l *Log) segmentPath(segId uint64) string {
	return filepath.Join(l.dir, fmt.Sprintf(segmentNameFormat, segId))
}

func openSegmentForAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600) //nolint:gosec
}

// createNextSegment creates the segment after segId. It fails if the file exists.
func (l *Log) createNextSegment(segId uint64) (*os.File, uint64, error) {
	next := segId + 1
	file, err := os.OpenFile(l.segmentPath(next), os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o600) //nolint:gosec
	if err != nil {
		return nil, 0, err
	}
	return file, next, nil
}

// maybeRotateLocked rotates before an append that would overflow the active segment.
// A record larger than SegmentMaxBytes still goes into an empty segment.
func (l *Log) maybeRotateLocked(payloadLen int) error {
	if l.opts.SegmentMaxBytes <= 0 {
		return nil
	}
	current := l.active.CurrentOffset()
	if current == 0 || current+record.EncodedRecordSize(payloadLen) <= l.opts.SegmentMaxBytes {
		return nil
	}

	// The outgoing segment stays active until its successor exists.
	var err error
	if l.opts.SyncOnRotate {
		err = l.active.FSync()
	} else {
		err = l.active.Flush()
	}
	if err != nil {
		return err
	}
	newFile, newSegId, err := l.createNextSegment(l.activeSegId)
	if err != nil {
		return err
	}
	newWriter, err := NewSegmentAppender(newFile)
	if err != nil {
		_ = newFile.Close()
		_ = os.Remove(newFile.Name())
		return err
	}

	prev := l.active
	l.segments = append(l.segments, newSegId)
	l.activeSegId = newSegId
	l.active = newWriter
	return prev.Close()
}
