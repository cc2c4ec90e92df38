package record_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
)

func enrichmentPayload(txnID uint64, body []byte) []byte {
	payload := make([]byte, record.EnrichmentHeaderSize+len(body))
	binary.LittleEndian.PutUint64(payload, txnID)
	payload[record.TxnIdSize] = 2
	copy(payload[record.EnrichmentHeaderSize:], body)
	return payload
}

// TestEncodeFrame_TableDriven covers valid and invalid frames
func TestEncodeFrame_TableDriven(t *testing.T) {
	testCases := []struct {
		name       string
		recordType record.RecordType
		payload    []byte
		wantErr    error
	}{
		{"begin", record.RecordTypeBeginTransaction, record.EncodeBeginTxnPayload(7), nil},
		{"commit", record.RecordTypeCommitTransaction, record.EncodeCommitTxnPayload(7), nil},
		{"enrichment", record.RecordTypeEnrichment, enrichmentPayload(7, []byte("regions")), nil},
		{"empty enrichment body", record.RecordTypeEnrichment, enrichmentPayload(7, nil), nil},
		{"short begin", record.RecordTypeBeginTransaction, []byte{1, 2, 3}, record.ErrInvalidLength},
		{"long commit", record.RecordTypeCommitTransaction, make([]byte, 9), record.ErrInvalidLength},
		{"short enrichment", record.RecordTypeEnrichment, make([]byte, 8), record.ErrInvalidLength},
		{"unknown type", record.RecordType(99), make([]byte, 8), record.ErrInvalidType},
		{"oversized", record.RecordTypeEnrichment, make([]byte, record.MaxRecordSize), record.ErrTooLarge},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := record.EncodeFrame(tc.recordType, tc.payload)
			if tc.wantErr != nil {
				tst.AssertTrue(t, errors.Is(err, tc.wantErr), "expected "+tc.wantErr.Error())
				return
			}
			tst.RequireNoError(t, err)
			tst.RequireDeepEqual(t, int64(len(encoded)), record.EncodedRecordSize(len(tc.payload)))

			rec, err := record.DecodeFrame(encoded)
			tst.RequireNoError(t, err)
			tst.RequireDeepEqual(t, rec.Record.Type, tc.recordType)
			tst.AssertTrue(t, bytes.Equal(rec.Record.Payload, tc.payload), "payload mismatch")
			tst.RequireDeepEqual(t, rec.Size, int64(len(encoded)))
		})
	}
}

// TestEncodeFrame_Layout checks the length prefix and checksum placement
func TestEncodeFrame_Layout(t *testing.T) {
	payload := record.EncodeBeginTxnPayload(42)
	encoded, err := record.EncodeFrame(record.RecordTypeBeginTransaction, payload)
	tst.RequireNoError(t, err)

	tst.RequireDeepEqual(t, binary.LittleEndian.Uint32(encoded[:4]), uint32(1+record.TxnIdSize))
	tst.RequireDeepEqual(t, encoded[4], byte(record.RecordTypeBeginTransaction))
	crc := binary.LittleEndian.Uint32(encoded[len(encoded)-record.RecordCRCSize:])
	tst.RequireDeepEqual(t, crc, record.ComputeChecksum(encoded[4:len(encoded)-record.RecordCRCSize]))
}

// TestDecodeFrame_Errors covers truncation, trailing data and bit flips
func TestDecodeFrame_Errors(t *testing.T) {
	encoded, err := record.EncodeFrame(record.RecordTypeCommitTransaction, record.EncodeCommitTxnPayload(3))
	tst.RequireNoError(t, err)

	_, err = record.DecodeFrame(encoded[:3])
	tst.AssertTrue(t, record.IsTruncation(err), "expected truncation for short header")

	_, err = record.DecodeFrame(encoded[:len(encoded)-1])
	tst.AssertTrue(t, record.IsTruncation(err), "expected truncation for short body")

	_, err = record.DecodeFrame(append(bytes.Clone(encoded), 0))
	tst.AssertTrue(t, errors.Is(err, record.ErrCorrupt), "expected corruption for trailing byte")

	flipped := bytes.Clone(encoded)
	flipped[6] ^= 0xff
	_, err = record.DecodeFrame(flipped)
	tst.AssertTrue(t, errors.Is(err, record.ErrChecksumMismatch), "expected checksum mismatch")
	tst.AssertTrue(t, record.IsCorruption(err), "checksum mismatch is corruption")

	badType := bytes.Clone(encoded)
	badType[4] = 0
	_, err = record.DecodeFrame(badType)
	tst.AssertTrue(t, errors.Is(err, record.ErrInvalidType), "expected invalid type")

	zeroLen := make([]byte, 8)
	_, err = record.DecodeFrame(zeroLen)
	tst.AssertTrue(t, errors.Is(err, record.ErrInvalidLength), "expected invalid length")
}

// TestChecksum_Update recomputes after mutation
func TestChecksum_Update(t *testing.T) {
	rec := &record.Record{Type: record.RecordTypeBeginTransaction, Payload: record.EncodeBeginTxnPayload(1)}
	record.UpdateChecksum(rec)
	tst.AssertTrue(t, record.VerifyChecksum(rec), "expected valid checksum")

	rec.Payload[0] = 9
	tst.AssertFalse(t, record.VerifyChecksum(rec), "expected checksum failure after mutation")
	record.UpdateChecksum(rec)
	tst.AssertTrue(t, record.VerifyChecksum(rec), "expected valid checksum after update")
	tst.AssertFalse(t, record.VerifyChecksum(nil), "nil record never verifies")
}
