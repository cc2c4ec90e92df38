package record

import (
	"encoding/binary"
	"io"
)

// FrameReader reads frames sequentially and tracks the byte offset of the
// next one.
type FrameReader struct {
	r      io.Reader
	offset int64
	hdr    [RecordHeaderSize]byte
}

// NewFrameReader reads frames from the start of r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// NewFrameReaderAt creates a FrameReader whose offsets start at base. Use it
// when r is already positioned inside a segment.
func NewFrameReaderAt(r io.Reader, base int64) *FrameReader {
	return &FrameReader{r: r, offset: base}
}

func torn(at int64, declared uint32, want, have int) *ParseError {
	return &ParseError{
		Kind:               KindTruncated,
		Offset:             at,
		SafeTruncateOffset: at,
		DeclaredLen:        declared,
		Want:               want,
		Have:               have,
		Err:                io.ErrUnexpectedEOF,
	}
}

// Next returns the next frame. A clean end of stream returns io.EOF; a
// partial frame returns a ParseError of kind KindTruncated whose safe offset
// is the start of that frame.
func (rr *FrameReader) Next() (FramedRecord, error) {
	at := rr.offset

	n, err := io.ReadFull(rr.r, rr.hdr[:])
	if err != nil {
		rr.offset += int64(n)
		if err == io.EOF {
			return FramedRecord{}, io.EOF
		}
		return FramedRecord{}, torn(at, 0, RecordHeaderSize, n)
	}

	declared := binary.LittleEndian.Uint32(rr.hdr[:])
	if err := ValidateRecordLength(declared); err != nil {
		if pe, ok := AsParseError(err); ok {
			pe.Offset, pe.SafeTruncateOffset = at, at
			return FramedRecord{}, pe
		}
		return FramedRecord{}, err
	}

	body := make([]byte, int(declared)+RecordCRCSize)
	n, err = io.ReadFull(rr.r, body)
	rr.offset += int64(RecordHeaderSize + n)
	if err != nil {
		return FramedRecord{}, torn(at, declared, len(body), n)
	}
	return parseBody(at, declared, body)
}

// SkipTo discards input until the reader is at offset.
func (rr *FrameReader) SkipTo(offset int64) error {
	if offset < rr.offset {
		return &ReaderError{
			Kind:    ReaderInvalidSeek,
			Current: rr.offset,
			Want:    offset,
			Err:     ErrReaderInvalidSeek,
		}
	}

	n, err := io.CopyN(io.Discard, rr.r, offset-rr.offset)
	rr.offset += n
	if err != nil {
		return err
	}
	return nil
}

// Offset returns the current offset in the underlying reader.
func (rr *FrameReader) Offset() int64 {
	return rr.offset
}
