package wal

import (
	"bufio"
	"io"
	"os"
)

const segmentReadBufSize = 32 * 1024

// segmentFile reads a closed or active segment from disk. Reads go through a
// buffer that is reset on every seek.
type segmentFile struct {
	id  uint64
	f   *os.File
	buf *bufio.Reader
}

// NewFileSegmentReader wraps an open segment file positioned at offset 0.
func NewFileSegmentReader(segId uint64, file *os.File) SegmentReader {
	return &segmentFile{id: segId, f: file, buf: bufio.NewReaderSize(file, segmentReadBufSize)}
}

func (s *segmentFile) SegID() uint64 { return s.id }

func (s *segmentFile) SeekTo(offset int64) error {
	if _, err := s.f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	s.buf.Reset(s.f)
	return nil
}

func (s *segmentFile) Reader() io.Reader { return s.buf }

func (s *segmentFile) Close() error { return s.f.Close() }
