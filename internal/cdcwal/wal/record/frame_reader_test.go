package record_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
)

func frames(t *testing.T) ([]byte, []int64) {
	t.Helper()
	var buf bytes.Buffer
	var offsets []int64
	for _, f := range []struct {
		typ     record.RecordType
		payload []byte
	}{
		{record.RecordTypeBeginTransaction, record.EncodeBeginTxnPayload(1)},
		{record.RecordTypeEnrichment, enrichmentPayload(1, []byte("body"))},
		{record.RecordTypeCommitTransaction, record.EncodeCommitTxnPayload(1)},
	} {
		encoded, err := record.EncodeFrame(f.typ, f.payload)
		tst.RequireNoError(t, err)
		offsets = append(offsets, int64(buf.Len()))
		buf.Write(encoded)
	}
	return buf.Bytes(), offsets
}

// TestFrameReader_Sequence reads every record then a clean EOF
func TestFrameReader_Sequence(t *testing.T) {
	data, offsets := frames(t)
	r := record.NewFrameReader(bytes.NewReader(data))

	want := []record.RecordType{
		record.RecordTypeBeginTransaction,
		record.RecordTypeEnrichment,
		record.RecordTypeCommitTransaction,
	}
	for i, typ := range want {
		rec, err := r.Next()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, rec.Record.Type, typ)
		tst.RequireDeepEqual(t, rec.Offset, offsets[i])
	}
	_, err := r.Next()
	tst.AssertTrue(t, record.IsCleanEOF(err), "expected clean EOF")
	tst.RequireDeepEqual(t, r.Offset(), int64(len(data)))
}

// TestFrameReader_TornTail reports the start of the partial record
func TestFrameReader_TornTail(t *testing.T) {
	data, offsets := frames(t)
	for _, cut := range []int64{offsets[2] + 2, int64(len(data)) - 1} {
		r := record.NewFrameReader(bytes.NewReader(data[:cut]))
		for range 2 {
			_, err := r.Next()
			tst.RequireNoError(t, err)
		}
		_, err := r.Next()
		pe, ok := record.AsParseError(err)
		tst.RequireDeepEqual(t, ok, true)
		tst.RequireDeepEqual(t, pe.Kind, record.KindTruncated)
		tst.RequireDeepEqual(t, pe.SafeTruncateOffset, offsets[2])
		tst.AssertTrue(t, errors.Is(err, io.ErrUnexpectedEOF), "expected wrapped ErrUnexpectedEOF")
	}
}

// TestFrameReader_CorruptMiddle reports the corrupt record's offset
func TestFrameReader_CorruptMiddle(t *testing.T) {
	data, offsets := frames(t)
	data = bytes.Clone(data)
	data[offsets[1]+record.RecordHeaderSize+2] ^= 0x01

	r := record.NewFrameReader(bytes.NewReader(data))
	_, err := r.Next()
	tst.RequireNoError(t, err)
	_, err = r.Next()
	pe, ok := record.AsParseError(err)
	tst.RequireDeepEqual(t, ok, true)
	tst.RequireDeepEqual(t, pe.Kind, record.KindChecksumMismatch)
	tst.RequireDeepEqual(t, pe.Offset, offsets[1])
}

// TestFrameReader_SkipTo jumps over records and rejects backwards seeks
func TestFrameReader_SkipTo(t *testing.T) {
	data, offsets := frames(t)
	r := record.NewFrameReader(bytes.NewReader(data))

	tst.RequireNoError(t, r.SkipTo(offsets[2]))
	rec, err := r.Next()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, rec.Record.Type, record.RecordTypeCommitTransaction)

	err = r.SkipTo(offsets[1])
	tst.AssertTrue(t, errors.Is(err, record.ErrReaderInvalidSeek), "expected invalid seek")
}

// TestFrameReaderAt_BaseOffset reports absolute offsets
func TestFrameReaderAt_BaseOffset(t *testing.T) {
	data, offsets := frames(t)
	r := record.NewFrameReaderAt(bytes.NewReader(data[offsets[1]:]), offsets[1])
	rec, err := r.Next()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, rec.Offset, offsets[1])
}
