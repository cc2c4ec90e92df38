package channel

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// Reader adapts an io.Reader to ReadableChannel and tracks the read position.
type Reader struct {
	r       io.Reader
	pos     int64
	scratch [8]byte
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// NewSliceReader creates a Reader over an in-memory byte slice.
func NewSliceReader(p []byte) *Reader {
	return NewReader(bytes.NewReader(p))
}

func (cr *Reader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.pos += int64(n)
	return n, err
}

func (cr *Reader) get(width int, field string) ([]byte, error) {
	buf := cr.scratch[:width]
	n, err := io.ReadFull(cr.r, buf)
	at := cr.pos
	cr.pos += int64(n)
	if err != nil {
		return nil, &ChannelError{
			Kind:  KindShortRead,
			Field: field,
			At:    at,
			Want:  width,
			Have:  n,
			Err:   ErrShortRead,
			Cause: err,
		}
	}
	return buf, nil
}

func (cr *Reader) GetByte() (byte, error) {
	b, err := cr.get(ByteSize, "byte")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (cr *Reader) GetShort() (int16, error) {
	b, err := cr.get(ShortSize, "short")
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil //nolint:gosec
}

func (cr *Reader) GetInt() (int32, error) {
	b, err := cr.get(IntSize, "int")
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil //nolint:gosec
}

func (cr *Reader) GetLong() (int64, error) {
	b, err := cr.get(LongSize, "long")
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil //nolint:gosec
}

func (cr *Reader) GetFloat() (float32, error) {
	b, err := cr.get(FloatSize, "float")
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (cr *Reader) GetDouble() (float64, error) {
	b, err := cr.get(DoubleSize, "double")
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// Position returns the number of bytes consumed so far.
func (cr *Reader) Position() int64 {
	return cr.pos
}

var _ ReadableChannel = (*Reader)(nil)
