package record

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
)

// EnrichmentSource is a serializable enrichment of known size.
type EnrichmentSource interface {
	TotalSize() int64
	Serialize(ch channel.WritableChannel) error
}

func need(data []byte, at, want int, field string) error {
	if at < 0 {
		at = 0
	}
	have := len(data) - at
	if have >= want {
		return nil
	}
	return &CodecError{
		Kind:  CodecTruncated,
		Field: field,
		At:    at,
		Want:  want,
		Have:  have,
		Err:   ErrCodecTruncated,
	}
}

func u64le(data []byte, at int, field string) (uint64, error) {
	if err := need(data, at, TxnIdSize, field); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data[at : at+TxnIdSize]), nil
}

func rejectTrailing(data []byte, expectedLen int, field string) error {
	if len(data) == expectedLen {
		return nil
	}
	return &CodecError{
		Kind:  CodecCorrupt,
		Field: field,
		At:    expectedLen,
		Want:  expectedLen,
		Have:  len(data),
		Err:   fmt.Errorf("%w: trailing bytes", ErrCodecCorrupt),
	}
}

func encodeTxnID(txnId uint64) []byte {
	payload := make([]byte, TxnIdSize)
	binary.LittleEndian.PutUint64(payload, txnId)
	return payload
}

func decodeTxnID(data []byte) (*BeginCommitTransactionPayload, error) {
	txnID, err := u64le(data, 0, "txn_id")
	if err != nil {
		return nil, err
	}
	if err := rejectTrailing(data, TxnIdSize, "payload_length"); err != nil {
		return nil, err
	}
	return &BeginCommitTransactionPayload{TxnID: txnID}, nil
}

// Begin / Commit payloads

// EncodeBeginTxnPayload encodes the payload for a BeginTransaction record.
// Format: [txn_id (8)]
func EncodeBeginTxnPayload(txnId uint64) []byte { return encodeTxnID(txnId) }

// DecodeBeginTxnPayload decodes the payload for a BeginTransaction record.
func DecodeBeginTxnPayload(data []byte) (*BeginCommitTransactionPayload, error) {
	return decodeTxnID(data)
}

// EncodeCommitTxnPayload encodes the payload for a CommitTransaction record.
// Format: [txn_id (8)]
func EncodeCommitTxnPayload(txnId uint64) []byte { return encodeTxnID(txnId) }

// DecodeCommitTxnPayload decodes the payload for a CommitTransaction record.
func DecodeCommitTxnPayload(data []byte) (*BeginCommitTransactionPayload, error) {
	return decodeTxnID(data)
}

// Enrichment payloads

// EncodeEnrichmentPayload serializes src behind its transaction header.
// Format: [txn_id (8)][format_version (1)][enrichment]
func EncodeEnrichmentPayload(txnId uint64, formatVersion uint8, src EnrichmentSource) ([]byte, error) {
	if formatVersion == 0 {
		return nil, &CodecError{
			Kind:  CodecInvalid,
			Field: "format_version",
			At:    TxnIdSize,
			Want:  1,
			Err:   ErrCodecInvalid,
		}
	}
	size := src.TotalSize()
	if size > MaxEnrichmentSize {
		return nil, &CodecError{
			Kind:  CodecInvalid,
			Field: "body",
			At:    EnrichmentHeaderSize,
			Want:  MaxEnrichmentSize,
			Have:  int(size),
			Err:   ErrCodecInvalid,
		}
	}

	var buf bytes.Buffer
	buf.Grow(EnrichmentHeaderSize + int(size))
	buf.Write(encodeTxnID(txnId))
	buf.WriteByte(formatVersion)

	if err := src.Serialize(channel.NewWriter(&buf)); err != nil {
		return nil, err
	}
	if have := int64(buf.Len() - EnrichmentHeaderSize); have != size {
		return nil, &CodecError{
			Kind:  CodecCorrupt,
			Field: "body",
			At:    EnrichmentHeaderSize,
			Want:  int(size),
			Have:  int(have),
			Err:   fmt.Errorf("%w: serialized size differs from declared size", ErrCodecCorrupt),
		}
	}
	return buf.Bytes(), nil
}

// DecodeEnrichmentPayload decodes the payload for an Enrichment record.
// The returned Body aliases data.
func DecodeEnrichmentPayload(data []byte) (*EnrichmentPayload, error) {
	txnID, err := u64le(data, 0, "txn_id")
	if err != nil {
		return nil, err
	}
	if err := need(data, TxnIdSize, FormatVersionSize, "format_version"); err != nil {
		return nil, err
	}
	version := data[TxnIdSize]
	if version == 0 {
		return nil, &CodecError{
			Kind:  CodecInvalid,
			Field: "format_version",
			At:    TxnIdSize,
			Want:  1,
			Have:  0,
			Err:   ErrCodecInvalid,
		}
	}
	return &EnrichmentPayload{
		TxnID:         txnID,
		FormatVersion: version,
		Body:          data[EnrichmentHeaderSize:],
	}, nil
}

// TxnIDOf returns the transaction id every payload type starts with.
func TxnIDOf(rec Record) (uint64, error) {
	return u64le(rec.Payload, 0, "txn_id")
}
