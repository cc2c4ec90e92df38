// Package chunked implements an append-only binary buffer backed by a list of
// fixed-capacity chunks. Previously written positions can be peeked and
// overwritten in place, which lets a writer backfill lengths and pointers
// once the data they describe has been appended. After Flip the buffer is
// read-only and can be serialized any number of times.
package chunked

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
)

// DefaultChunkSize is the capacity of each chunk when none is configured.
const DefaultChunkSize = 32 * 1024

type state uint8

const (
	stateAppending state = iota
	stateFlipped
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateAppending:
		return "appending"
	case stateFlipped:
		return "flipped"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Buffer is a growable chunked byte buffer.
//
// Each chunk is a slice whose length is its write cursor and whose capacity is
// the chunk size. Every chunk except the last is full. Buffer is not safe for
// concurrent use.
type Buffer struct {
	tracker   memory.Tracker
	chunkSize int
	chunks    [][]byte
	state     state

	// err is the first append made in a state that forbids it.
	err     error
	scratch [8]byte
}

// New creates an empty Buffer with DefaultChunkSize chunks.
func New(tracker memory.Tracker) *Buffer {
	return NewWithChunkSize(tracker, DefaultChunkSize)
}

// NewWithChunkSize creates an empty Buffer. Non-positive sizes fall back to
// DefaultChunkSize. A nil tracker is treated as memory.EmptyTracker.
func NewWithChunkSize(tracker memory.Tracker, chunkSize int) *Buffer {
	if tracker == nil {
		tracker = memory.EmptyTracker{}
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Buffer{
		tracker:   tracker,
		chunkSize: chunkSize,
		state:     stateAppending,
	}
}

// Appends

// PutByte appends a single byte.
func (b *Buffer) PutByte(v byte) *Buffer {
	b.scratch[0] = v
	b.append(b.scratch[:channel.ByteSize])
	return b
}

// PutShort appends v as two little-endian bytes.
func (b *Buffer) PutShort(v int16) *Buffer {
	binary.LittleEndian.PutUint16(b.scratch[:], uint16(v)) //nolint:gosec
	b.append(b.scratch[:channel.ShortSize])
	return b
}

// PutChar appends a UTF-16 code unit as two little-endian bytes.
func (b *Buffer) PutChar(v uint16) *Buffer {
	binary.LittleEndian.PutUint16(b.scratch[:], v)
	b.append(b.scratch[:channel.ShortSize])
	return b
}

// PutInt appends v as four little-endian bytes.
func (b *Buffer) PutInt(v int32) *Buffer {
	binary.LittleEndian.PutUint32(b.scratch[:], uint32(v)) //nolint:gosec
	b.append(b.scratch[:channel.IntSize])
	return b
}

// PutLong appends v as eight little-endian bytes.
func (b *Buffer) PutLong(v int64) *Buffer {
	binary.LittleEndian.PutUint64(b.scratch[:], uint64(v)) //nolint:gosec
	b.append(b.scratch[:channel.LongSize])
	return b
}

// PutFloat appends the IEEE 754 bits of v.
func (b *Buffer) PutFloat(v float32) *Buffer {
	binary.LittleEndian.PutUint32(b.scratch[:], math.Float32bits(v))
	b.append(b.scratch[:channel.FloatSize])
	return b
}

// PutDouble appends the IEEE 754 bits of v.
func (b *Buffer) PutDouble(v float64) *Buffer {
	binary.LittleEndian.PutUint64(b.scratch[:], math.Float64bits(v))
	b.append(b.scratch[:channel.DoubleSize])
	return b
}

// PutBytes appends p, splitting it across as many chunks as needed.
func (b *Buffer) PutBytes(p []byte) *Buffer {
	b.append(p)
	return b
}

// Write implements io.Writer. It fails once the buffer is flipped or closed.
func (b *Buffer) Write(p []byte) (int, error) {
	if !b.appendable() {
		return 0, b.err
	}
	b.append(p)
	return len(p), nil
}

// WriteFrom appends every unread byte of src and drains it. It returns the
// number of bytes transferred, which is always src.Len() on entry.
func (b *Buffer) WriteFrom(src *bytes.Buffer) int {
	n := src.Len()
	if !b.appendable() {
		return 0
	}
	b.append(src.Next(n))
	return n
}

// ReadFrom implements io.ReaderFrom, reading r until EOF directly into chunk
// space. A new chunk is only allocated once r has produced a byte for it.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	if !b.appendable() {
		return 0, b.err
	}
	var total int64
	for {
		var n int
		var err error
		if last := len(b.chunks) - 1; last >= 0 && len(b.chunks[last]) < cap(b.chunks[last]) {
			c := b.chunks[last]
			n, err = r.Read(c[len(c):cap(c)])
			b.chunks[last] = c[:len(c)+n]
		} else {
			n, err = r.Read(b.scratch[:])
			b.append(b.scratch[:n])
		}
		total += int64(n)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Random access

// PeekByte returns the byte at pos.
func (b *Buffer) PeekByte(pos int64) (byte, error) {
	dst := b.scratch[:channel.ByteSize]
	if err := b.readAt("peek_byte", pos, dst); err != nil {
		return 0, err
	}
	return dst[0], nil
}

// PeekShort returns the int16 at pos.
func (b *Buffer) PeekShort(pos int64) (int16, error) {
	dst := b.scratch[:channel.ShortSize]
	if err := b.readAt("peek_short", pos, dst); err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(dst)), nil //nolint:gosec
}

// PeekChar returns the UTF-16 code unit at pos.
func (b *Buffer) PeekChar(pos int64) (uint16, error) {
	dst := b.scratch[:channel.ShortSize]
	if err := b.readAt("peek_char", pos, dst); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(dst), nil
}

// PeekInt returns the int32 at pos.
func (b *Buffer) PeekInt(pos int64) (int32, error) {
	dst := b.scratch[:channel.IntSize]
	if err := b.readAt("peek_int", pos, dst); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(dst)), nil //nolint:gosec
}

// PeekLong returns the int64 at pos.
func (b *Buffer) PeekLong(pos int64) (int64, error) {
	dst := b.scratch[:channel.LongSize]
	if err := b.readAt("peek_long", pos, dst); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(dst)), nil //nolint:gosec
}

// PeekFloat returns the float32 at pos.
func (b *Buffer) PeekFloat(pos int64) (float32, error) {
	dst := b.scratch[:channel.FloatSize]
	if err := b.readAt("peek_float", pos, dst); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(dst)), nil
}

// PeekDouble returns the float64 at pos.
func (b *Buffer) PeekDouble(pos int64) (float64, error) {
	dst := b.scratch[:channel.DoubleSize]
	if err := b.readAt("peek_double", pos, dst); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(dst)), nil
}

// PutByteAt overwrites the byte at pos.
func (b *Buffer) PutByteAt(pos int64, v byte) error {
	b.scratch[0] = v
	return b.writeAt("put_byte_at", pos, b.scratch[:channel.ByteSize])
}

// PutShortAt overwrites the int16 at pos.
func (b *Buffer) PutShortAt(pos int64, v int16) error {
	binary.LittleEndian.PutUint16(b.scratch[:], uint16(v)) //nolint:gosec
	return b.writeAt("put_short_at", pos, b.scratch[:channel.ShortSize])
}

// PutCharAt overwrites the UTF-16 code unit at pos.
func (b *Buffer) PutCharAt(pos int64, v uint16) error {
	binary.LittleEndian.PutUint16(b.scratch[:], v)
	return b.writeAt("put_char_at", pos, b.scratch[:channel.ShortSize])
}

// PutIntAt overwrites the int32 at pos.
func (b *Buffer) PutIntAt(pos int64, v int32) error {
	binary.LittleEndian.PutUint32(b.scratch[:], uint32(v)) //nolint:gosec
	return b.writeAt("put_int_at", pos, b.scratch[:channel.IntSize])
}

// PutLongAt overwrites the int64 at pos.
func (b *Buffer) PutLongAt(pos int64, v int64) error {
	binary.LittleEndian.PutUint64(b.scratch[:], uint64(v)) //nolint:gosec
	return b.writeAt("put_long_at", pos, b.scratch[:channel.LongSize])
}

// PutFloatAt overwrites the float32 at pos.
func (b *Buffer) PutFloatAt(pos int64, v float32) error {
	binary.LittleEndian.PutUint32(b.scratch[:], math.Float32bits(v))
	return b.writeAt("put_float_at", pos, b.scratch[:channel.FloatSize])
}

// PutDoubleAt overwrites the float64 at pos.
func (b *Buffer) PutDoubleAt(pos int64, v float64) error {
	binary.LittleEndian.PutUint64(b.scratch[:], math.Float64bits(v))
	return b.writeAt("put_double_at", pos, b.scratch[:channel.DoubleSize])
}

// State

// Flip makes the buffer read-only. Calling it more than once is a no-op.
func (b *Buffer) Flip() *Buffer {
	if b.state == stateAppending {
		b.state = stateFlipped
	}
	return b
}

// IsFlipped reports whether Flip has been called.
func (b *Buffer) IsFlipped() bool {
	return b.state == stateFlipped
}

// IsEmpty reports whether no chunk has ever been allocated.
func (b *Buffer) IsEmpty() bool {
	return len(b.chunks) == 0
}

// Size returns the number of bytes written. It does not change after Flip.
func (b *Buffer) Size() int64 {
	var size int64
	for _, c := range b.chunks {
		size += int64(len(c))
	}
	return size
}

// ChunkCount returns the number of allocated chunks.
func (b *Buffer) ChunkCount() int {
	return len(b.chunks)
}

// ChunkSize returns the capacity of each chunk.
func (b *Buffer) ChunkSize() int {
	return b.chunkSize
}

// Err returns the first append rejected because of the buffer state.
func (b *Buffer) Err() error {
	return b.err
}

// Serialize writes every chunk, in order, to ch. The buffer must be flipped.
func (b *Buffer) Serialize(ch channel.WritableChannel) error {
	if err := b.readable("serialize"); err != nil {
		return err
	}
	for _, c := range b.chunks {
		if err := ch.Put(c); err != nil {
			return err
		}
	}
	return nil
}

// WriteTo implements io.WriterTo with the same preconditions as Serialize.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	if err := b.readable("write_to"); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range b.chunks {
		n, err := w.Write(c)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close releases the heap held by every chunk. Calling it again is a no-op.
func (b *Buffer) Close() error {
	if b.state == stateClosed {
		return nil
	}
	if n := len(b.chunks); n > 0 {
		b.tracker.ReleaseHeap(int64(n) * int64(b.chunkSize))
	}
	b.chunks = nil
	b.state = stateClosed
	return nil
}

// internals

func (b *Buffer) appendable() bool {
	switch b.state {
	case stateAppending:
		return true
	case stateFlipped:
		if b.err == nil {
			b.err = &BufferError{Kind: KindFlipped, Op: "append", Size: b.Size(), Err: ErrFlipped}
		}
	default:
		if b.err == nil {
			b.err = &BufferError{Kind: KindClosed, Op: "append", Err: ErrClosed}
		}
	}
	return false
}

func (b *Buffer) readable(op string) error {
	switch b.state {
	case stateFlipped:
		return b.err
	case stateAppending:
		return &BufferError{Kind: KindNotFlipped, Op: op, Size: b.Size(), Err: ErrNotFlipped}
	default:
		return &BufferError{Kind: KindClosed, Op: op, Err: ErrClosed}
	}
}

// tailIndex returns the index of a chunk with free space, allocating one if
// the last chunk is full or none exists yet.
func (b *Buffer) tailIndex() int {
	last := len(b.chunks) - 1
	if last >= 0 && len(b.chunks[last]) < cap(b.chunks[last]) {
		return last
	}
	b.tracker.AllocateHeap(int64(b.chunkSize))
	b.chunks = append(b.chunks, make([]byte, 0, b.chunkSize))
	return last + 1
}

func (b *Buffer) append(p []byte) {
	if !b.appendable() {
		return
	}
	for len(p) > 0 {
		idx := b.tailIndex()
		c := b.chunks[idx]
		n := copy(c[len(c):cap(c)], p)
		b.chunks[idx] = c[:len(c)+n]
		p = p[n:]
	}
}

// locate walks the chunk list until pos falls inside a chunk and returns the
// chunk index and the offset within it. The range [pos, pos+width) must be
// covered by written data.
func (b *Buffer) locate(op string, pos int64, width int) (int, int, error) {
	if b.state == stateClosed {
		return 0, 0, &BufferError{Kind: KindClosed, Op: op, Pos: pos, Width: width, Err: ErrClosed}
	}
	size := b.Size()
	if pos < 0 || pos+int64(width) > size {
		return 0, 0, &BufferError{
			Kind:  KindOutOfBounds,
			Op:    op,
			Pos:   pos,
			Width: width,
			Size:  size,
			Err:   ErrOutOfBounds,
		}
	}
	var start int64
	for i, c := range b.chunks {
		end := start + int64(len(c))
		if pos < end {
			return i, int(pos - start), nil
		}
		start = end
	}
	return 0, 0, &BufferError{Kind: KindOutOfBounds, Op: op, Pos: pos, Width: width, Size: size, Err: ErrOutOfBounds}
}

func (b *Buffer) readAt(op string, pos int64, dst []byte) error {
	idx, off, err := b.locate(op, pos, len(dst))
	if err != nil {
		return err
	}
	for done := 0; done < len(dst); idx, off = idx+1, 0 {
		done += copy(dst[done:], b.chunks[idx][off:])
	}
	return nil
}

func (b *Buffer) writeAt(op string, pos int64, src []byte) error {
	idx, off, err := b.locate(op, pos, len(src))
	if err != nil {
		return err
	}
	for done := 0; done < len(src); idx, off = idx+1, 0 {
		done += copy(b.chunks[idx][off:], src[done:])
	}
	return nil
}
