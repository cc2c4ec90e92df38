package chunked_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/chunked"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
)

func serialize(t *testing.T, b *chunked.Buffer) []byte {
	t.Helper()
	var out bytes.Buffer
	tst.RequireNoError(t, b.Serialize(channel.NewWriter(&out)))
	return out.Bytes()
}

// TestBuffer_ThreeIntsTwoChunks appends 1,2,3 into 8-byte chunks
func TestBuffer_ThreeIntsTwoChunks(t *testing.T) {
	tracker := memory.NewLocalTracker()
	b := chunked.NewWithChunkSize(tracker, 8)

	b.PutInt(1).PutInt(2).PutInt(3)
	tst.RequireDeepEqual(t, b.ChunkCount(), 2)
	tst.RequireDeepEqual(t, tracker.Allocated(), int64(16))

	b.Flip()
	r := channel.NewSliceReader(serialize(t, b))
	for _, want := range []int32{1, 2, 3} {
		got, err := r.GetInt()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, got, want)
	}

	tst.RequireNoError(t, b.Close())
	tst.RequireDeepEqual(t, tracker.InUse(), int64(0))
}

// TestBuffer_RoundTripAcrossBoundaries mixes widths so values straddle chunks
func TestBuffer_RoundTripAcrossBoundaries(t *testing.T) {
	for _, chunkSize := range []int{1, 3, 5, 7, 16, 1024} {
		b := chunked.NewWithChunkSize(nil, chunkSize)
		b.PutByte(0xAB).
			PutShort(-300).
			PutInt(70000).
			PutBytes([]byte("hello, chunks")).
			PutLong(-1 << 40).
			PutFloat(3.25).
			PutDouble(-0.125).
			PutChar('Z')
		b.Flip()

		r := channel.NewSliceReader(serialize(t, b))
		v1, err := r.GetByte()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, v1, byte(0xAB))
		v2, err := r.GetShort()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, v2, int16(-300))
		v3, err := r.GetInt()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, v3, int32(70000))
		raw := make([]byte, len("hello, chunks"))
		_, err = r.Read(raw)
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, string(raw), "hello, chunks")
		v4, err := r.GetLong()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, v4, int64(-1<<40))
		v5, err := r.GetFloat()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, v5, float32(3.25))
		v6, err := r.GetDouble()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, v6, -0.125)
		v7, err := r.GetShort()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, uint16(v7), uint16('Z'))
	}
}

// TestBuffer_FullChunksExceptLast checks the chunk fill invariant
func TestBuffer_FullChunksExceptLast(t *testing.T) {
	b := chunked.NewWithChunkSize(nil, 4)
	b.PutBytes(bytes.Repeat([]byte{7}, 10))

	tst.RequireDeepEqual(t, b.ChunkCount(), 3)
	tst.RequireDeepEqual(t, b.Size(), int64(10))
}

// TestBuffer_PeekAndOverwrite backfills positions written earlier
func TestBuffer_PeekAndOverwrite(t *testing.T) {
	b := chunked.NewWithChunkSize(nil, 6)
	b.PutInt(-1).PutLong(42).PutInt(-1).PutByte(9)

	// position 4 straddles the first chunk boundary
	v, err := b.PeekLong(4)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, v, int64(42))

	tst.RequireNoError(t, b.PutIntAt(12, 1234))
	tst.RequireNoError(t, b.PutIntAt(0, 5678))
	tst.RequireNoError(t, b.PutLongAt(4, 99))

	got, err := b.PeekInt(12)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, got, int32(1234))
	got, err = b.PeekInt(0)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, got, int32(5678))
	l, err := b.PeekLong(4)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, l, int64(99))
	last, err := b.PeekByte(16)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, last, byte(9))
}

// TestBuffer_OverwriteAfterFlip works on flipped chunks too
func TestBuffer_OverwriteAfterFlip(t *testing.T) {
	b := chunked.NewWithChunkSize(nil, 3)
	b.PutShort(1).PutShort(2).PutDouble(1.0).PutFloat(2.0).PutChar('a')
	b.Flip()

	tst.RequireNoError(t, b.PutShortAt(2, 20))
	tst.RequireNoError(t, b.PutDoubleAt(4, 8.5))
	tst.RequireNoError(t, b.PutFloatAt(12, 4.5))
	tst.RequireNoError(t, b.PutCharAt(16, 'b'))
	tst.RequireNoError(t, b.PutByteAt(0, 3))

	s, err := b.PeekShort(2)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, s, int16(20))
	d, err := b.PeekDouble(4)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, d, 8.5)
	f, err := b.PeekFloat(12)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, f, float32(4.5))
	c, err := b.PeekChar(16)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, c, uint16('b'))
	first, err := b.PeekShort(0)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, first, int16(3))
}

// TestBuffer_OutOfBounds rejects positions not covered by data
func TestBuffer_OutOfBounds(t *testing.T) {
	b := chunked.NewWithChunkSize(nil, 8)
	b.PutInt(1)

	_, err := b.PeekInt(1)
	assert.IsError(t, err, chunked.ErrOutOfBounds)
	_, err = b.PeekByte(4)
	assert.IsError(t, err, chunked.ErrOutOfBounds)
	_, err = b.PeekByte(-1)
	assert.IsError(t, err, chunked.ErrOutOfBounds)
	err = b.PutLongAt(0, 1)
	assert.IsError(t, err, chunked.ErrOutOfBounds)

	empty := chunked.New(nil)
	_, err = empty.PeekByte(0)
	assert.IsError(t, err, chunked.ErrOutOfBounds)
}

// TestBuffer_SizeStableAcrossFlip checks size before and after flip
func TestBuffer_SizeStableAcrossFlip(t *testing.T) {
	b := chunked.NewWithChunkSize(nil, 5)
	b.PutLong(1).PutInt(2)
	tst.RequireDeepEqual(t, b.Size(), int64(12))

	b.Flip()
	tst.RequireDeepEqual(t, b.Size(), int64(12))
	b.Flip()
	b.PutInt(3)
	tst.RequireDeepEqual(t, b.Size(), int64(12))
	tst.AssertTrue(t, b.IsFlipped(), "expected flipped")
}

// TestBuffer_AppendAfterFlip records a sticky state error
func TestBuffer_AppendAfterFlip(t *testing.T) {
	b := chunked.NewWithChunkSize(nil, 8)
	b.PutInt(1).Flip()
	b.PutInt(2)

	assert.IsError(t, b.Err(), chunked.ErrFlipped)
	_, err := b.Write([]byte{1})
	assert.IsError(t, err, chunked.ErrFlipped)
	err = b.Serialize(channel.NewWriter(&bytes.Buffer{}))
	assert.IsError(t, err, chunked.ErrFlipped)
}

// TestBuffer_SerializeBeforeFlip fails
func TestBuffer_SerializeBeforeFlip(t *testing.T) {
	b := chunked.New(nil)
	b.PutInt(1)

	err := b.Serialize(channel.NewWriter(&bytes.Buffer{}))
	assert.IsError(t, err, chunked.ErrNotFlipped)
	_, err = b.WriteTo(&bytes.Buffer{})
	assert.IsError(t, err, chunked.ErrNotFlipped)
}

// TestBuffer_SerializeRepeatable serializes the same content twice
func TestBuffer_SerializeRepeatable(t *testing.T) {
	b := chunked.NewWithChunkSize(nil, 3)
	b.PutBytes([]byte("repeatable")).Flip()

	first := serialize(t, b)
	second := serialize(t, b)
	tst.RequireDeepEqual(t, first, second)

	var out bytes.Buffer
	n, err := b.WriteTo(&out)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, n, int64(10))
	tst.RequireDeepEqual(t, out.Bytes(), first)
}

// TestBuffer_IsEmpty tracks lazy chunk allocation
func TestBuffer_IsEmpty(t *testing.T) {
	tracker := memory.NewLocalTracker()
	b := chunked.New(tracker)
	tst.AssertTrue(t, b.IsEmpty(), "expected empty")
	tst.RequireDeepEqual(t, tracker.Allocated(), int64(0))

	b.PutByte(1)
	tst.AssertFalse(t, b.IsEmpty(), "expected non-empty")
	tst.RequireDeepEqual(t, tracker.Allocated(), int64(chunked.DefaultChunkSize))
}

// TestBuffer_CloseReleasesOnce guards against double release
func TestBuffer_CloseReleasesOnce(t *testing.T) {
	tracker := memory.NewLocalTracker()
	b := chunked.NewWithChunkSize(tracker, 4)
	b.PutLong(1).PutInt(2)

	tst.RequireNoError(t, b.Close())
	tst.RequireNoError(t, b.Close())
	tst.RequireDeepEqual(t, tracker.Allocated(), int64(12))
	tst.RequireDeepEqual(t, tracker.Released(), int64(12))

	_, err := b.PeekInt(0)
	assert.IsError(t, err, chunked.ErrClosed)
	b.PutInt(3)
	assert.IsError(t, b.Err(), chunked.ErrClosed)
	tst.RequireDeepEqual(t, tracker.Allocated(), int64(12))
}

// TestBuffer_WriteFrom drains a source buffer
func TestBuffer_WriteFrom(t *testing.T) {
	b := chunked.NewWithChunkSize(nil, 4)
	src := bytes.NewBufferString("0123456789")

	n := b.WriteFrom(src)
	tst.RequireDeepEqual(t, n, 10)
	tst.RequireDeepEqual(t, src.Len(), 0)
	tst.RequireDeepEqual(t, b.Size(), int64(10))

	b.Flip()
	tst.RequireDeepEqual(t, string(serialize(t, b)), "0123456789")
}

// TestBuffer_ReadFrom copies a reader until EOF
func TestBuffer_ReadFrom(t *testing.T) {
	b := chunked.NewWithChunkSize(nil, 4)
	b.PutByte('>')

	n, err := b.ReadFrom(strings.NewReader("abcdefghij"))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, n, int64(10))

	b.Flip()
	tst.RequireDeepEqual(t, string(serialize(t, b)), ">abcdefghij")
}

// TestBuffer_ReadFromAllocatesLazily only charges chunks that receive bytes
func TestBuffer_ReadFromAllocatesLazily(t *testing.T) {
	tracker := memory.NewLocalTracker()
	b := chunked.NewWithChunkSize(tracker, 8)

	n, err := b.ReadFrom(strings.NewReader(""))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, n, int64(0))
	tst.AssertTrue(t, b.IsEmpty(), "an empty source allocates nothing")
	tst.RequireDeepEqual(t, tracker.Allocated(), int64(0))

	n, err = b.ReadFrom(strings.NewReader("01234567"))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, n, int64(8))
	tst.RequireDeepEqual(t, b.ChunkCount(), 1)
	tst.RequireDeepEqual(t, b.Size(), int64(8))
	tst.RequireDeepEqual(t, tracker.Allocated(), int64(8))

	n, err = b.ReadFrom(strings.NewReader("89"))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, n, int64(2))
	tst.RequireDeepEqual(t, b.ChunkCount(), 2)

	b.Flip()
	tst.RequireDeepEqual(t, string(serialize(t, b)), "0123456789")
	tst.RequireNoError(t, b.Close())
	tst.RequireDeepEqual(t, tracker.InUse(), int64(0))
}
