package channel

import (
	"encoding/binary"
	"io"
	"math"
)

// Writer adapts an io.Writer to WritableChannel. The first failed write is
// kept and returned by every later call.
type Writer struct {
	w       io.Writer
	written int64
	scratch [8]byte
	err     error
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (cw *Writer) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	n, err := cw.w.Write(p)
	cw.written += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		cw.err = &ChannelError{
			Kind:  KindWrite,
			At:    cw.written,
			Want:  len(p),
			Have:  n,
			Err:   ErrWriteFailed,
			Cause: err,
		}
		return n, cw.err
	}
	return n, nil
}

func (cw *Writer) put(width int) error {
	_, err := cw.Write(cw.scratch[:width])
	return err
}

func (cw *Writer) PutByte(v byte) error {
	cw.scratch[0] = v
	return cw.put(ByteSize)
}

func (cw *Writer) PutShort(v int16) error {
	binary.LittleEndian.PutUint16(cw.scratch[:], uint16(v)) //nolint:gosec
	return cw.put(ShortSize)
}

func (cw *Writer) PutInt(v int32) error {
	binary.LittleEndian.PutUint32(cw.scratch[:], uint32(v)) //nolint:gosec
	return cw.put(IntSize)
}

func (cw *Writer) PutLong(v int64) error {
	binary.LittleEndian.PutUint64(cw.scratch[:], uint64(v)) //nolint:gosec
	return cw.put(LongSize)
}

func (cw *Writer) PutFloat(v float32) error {
	binary.LittleEndian.PutUint32(cw.scratch[:], math.Float32bits(v))
	return cw.put(FloatSize)
}

func (cw *Writer) PutDouble(v float64) error {
	binary.LittleEndian.PutUint64(cw.scratch[:], math.Float64bits(v))
	return cw.put(DoubleSize)
}

func (cw *Writer) Put(p []byte) error {
	_, err := cw.Write(p)
	return err
}

// Written returns the number of bytes accepted by the underlying writer.
func (cw *Writer) Written() int64 {
	return cw.written
}

// Err returns the sticky write error, if any.
func (cw *Writer) Err() error {
	return cw.err
}

var _ WritableChannel = (*Writer)(nil)
