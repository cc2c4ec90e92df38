package wal_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal/wal"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
)

// createTempSegmentFile creates an empty segment file in a temp dir
func createTempSegmentFile(t *testing.T) *os.File {
	t.Helper()
	file, err := os.Create(filepath.Join(t.TempDir(), "segment")) //nolint:gosec
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return file
}

func enrichmentPayload(txnID uint64, body []byte) []byte {
	payload := record.EncodeBeginTxnPayload(txnID)
	payload = append(payload, 2)
	return append(payload, body...)
}

var beginSize = record.EncodedRecordSize(record.TxnIdSize)

// TestNewSegmentAppenderNilFile rejects a nil file
func TestNewSegmentAppenderNilFile(t *testing.T) {
	a, err := wal.NewSegmentAppender(nil)
	tst.AssertTrue(t, errors.Is(err, wal.ErrNilSegmentFile), "expected ErrNilSegmentFile")
	tst.AssertTrue(t, a == nil, "expected nil SegmentAppender")
}

// TestAppendOffsetsAreExact returns each record's header offset
func TestAppendOffsetsAreExact(t *testing.T) {
	file := createTempSegmentFile(t)
	a, err := wal.NewSegmentAppender(file)
	tst.RequireNoError(t, err)
	defer a.Close() //nolint:errcheck

	off, err := a.Append(record.RecordTypeBeginTransaction, record.EncodeBeginTxnPayload(1))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, off, int64(0))

	body := []byte("enrichment")
	off, err = a.Append(record.RecordTypeEnrichment, enrichmentPayload(1, body))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, off, beginSize)

	off, err = a.Append(record.RecordTypeCommitTransaction, record.EncodeCommitTxnPayload(1))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, off, beginSize+record.EncodedRecordSize(record.EnrichmentHeaderSize+len(body)))
	tst.RequireDeepEqual(t, a.CurrentOffset(), off+beginSize)
}

// TestAppendDoesNotFlush keeps records buffered until Flush
func TestAppendDoesNotFlush(t *testing.T) {
	file := createTempSegmentFile(t)
	a, err := wal.NewSegmentAppender(file)
	tst.RequireNoError(t, err)
	defer a.Close() //nolint:errcheck

	_, err = a.Append(record.RecordTypeBeginTransaction, record.EncodeBeginTxnPayload(1))
	tst.RequireNoError(t, err)

	info, err := os.Stat(file.Name())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, info.Size(), int64(0))

	tst.RequireNoError(t, a.Flush())
	info, err = os.Stat(file.Name())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, info.Size(), beginSize)

	tst.RequireNoError(t, a.FSync())
}

// TestAppendInvalidRecords rejects bad frames without writing
func TestAppendInvalidRecords(t *testing.T) {
	file := createTempSegmentFile(t)
	a, err := wal.NewSegmentAppender(file)
	tst.RequireNoError(t, err)
	defer a.Close() //nolint:errcheck

	testCases := []struct {
		name    string
		typ     record.RecordType
		payload []byte
	}{
		{"unknown type", record.RecordTypeUnknown, record.EncodeBeginTxnPayload(1)},
		{"short begin", record.RecordTypeBeginTransaction, []byte{1}},
		{"long commit", record.RecordTypeCommitTransaction, make([]byte, 12)},
		{"short enrichment", record.RecordTypeEnrichment, make([]byte, 4)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Append(tc.typ, tc.payload)
			tst.AssertTrue(t, errors.Is(err, wal.ErrInvalidRecord), "expected ErrInvalidRecord")
			var ae *wal.SegmentAppendError
			tst.AssertTrue(t, errors.As(err, &ae), "expected SegmentAppendError")
			tst.AssertTrue(t, ae.CauseErr() != nil, "expected frame validation cause")
		})
	}
	tst.RequireDeepEqual(t, a.CurrentOffset(), int64(0))
}

// TestUseAfterClose fails every operation with ErrClosedWriter
func TestUseAfterClose(t *testing.T) {
	file := createTempSegmentFile(t)
	a, err := wal.NewSegmentAppender(file)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, a.Close())
	tst.RequireNoError(t, a.Close())

	_, err = a.Append(record.RecordTypeBeginTransaction, record.EncodeBeginTxnPayload(1))
	tst.AssertTrue(t, errors.Is(err, wal.ErrClosedWriter), "append after close")
	tst.AssertTrue(t, errors.Is(a.Flush(), wal.ErrClosedWriter), "flush after close")
	tst.AssertTrue(t, errors.Is(a.FSync(), wal.ErrClosedWriter), "fsync after close")
	tst.AssertTrue(t, errors.Is(a.Truncate(0), wal.ErrClosedWriter), "truncate after close")
}

// TestExistingSegmentFileAppendsAtEnd resumes at the file size
func TestExistingSegmentFileAppendsAtEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")
	first, err := os.Create(path) //nolint:gosec
	tst.RequireNoError(t, err)
	a, err := wal.NewSegmentAppender(first)
	tst.RequireNoError(t, err)
	_, err = a.Append(record.RecordTypeBeginTransaction, record.EncodeBeginTxnPayload(1))
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, a.Close())

	second, err := os.OpenFile(path, os.O_RDWR, 0o600) //nolint:gosec
	tst.RequireNoError(t, err)
	b, err := wal.NewSegmentAppender(second)
	tst.RequireNoError(t, err)
	off, err := b.Append(record.RecordTypeCommitTransaction, record.EncodeCommitTxnPayload(1))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, off, beginSize)
	tst.RequireNoError(t, b.Close())

	data, err := os.ReadFile(path) //nolint:gosec
	tst.RequireNoError(t, err)
	r := record.NewFrameReader(bytes.NewReader(data))
	for _, want := range []record.RecordType{record.RecordTypeBeginTransaction, record.RecordTypeCommitTransaction} {
		rec, err := r.Next()
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, rec.Record.Type, want)
	}
}

// TestTruncateDropsTail cuts the file and resumes appending at the cut
func TestTruncateDropsTail(t *testing.T) {
	file := createTempSegmentFile(t)
	a, err := wal.NewSegmentAppender(file)
	tst.RequireNoError(t, err)
	defer a.Close() //nolint:errcheck

	for i := uint64(1); i <= 3; i++ {
		_, err := a.Append(record.RecordTypeBeginTransaction, record.EncodeBeginTxnPayload(i))
		tst.RequireNoError(t, err)
	}
	tst.RequireNoError(t, a.Truncate(beginSize))
	tst.RequireDeepEqual(t, a.CurrentOffset(), beginSize)

	off, err := a.Append(record.RecordTypeCommitTransaction, record.EncodeCommitTxnPayload(1))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, off, beginSize)
	tst.RequireNoError(t, a.Flush())

	info, err := os.Stat(file.Name())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, info.Size(), 2*beginSize)

	tst.AssertTrue(t, errors.Is(a.Truncate(10*beginSize), wal.ErrInvalidRecord), "truncate past end")
}

// TestConcurrentAppends never interleaves frames
func TestConcurrentAppends(t *testing.T) {
	file := createTempSegmentFile(t)
	a, err := wal.NewSegmentAppender(file)
	tst.RequireNoError(t, err)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWorker {
				id := uint64(w*perWorker + i + 1) //nolint:gosec
				if _, err := a.Append(record.RecordTypeEnrichment, enrichmentPayload(id, make([]byte, i))); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()
	tst.RequireNoError(t, a.Close())

	data, err := os.ReadFile(file.Name())
	tst.RequireNoError(t, err)
	r := record.NewFrameReader(bytes.NewReader(data))
	count := 0
	for {
		_, err := r.Next()
		if record.IsCleanEOF(err) {
			break
		}
		tst.RequireNoError(t, err)
		count++
	}
	tst.RequireDeepEqual(t, count, workers*perWorker)
}
