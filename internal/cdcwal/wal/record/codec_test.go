package record_test

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
)

type fixedSource struct {
	body     []byte
	declared int64
	err      error
}

func (s fixedSource) TotalSize() int64 { return s.declared }

func (s fixedSource) Serialize(ch channel.WritableChannel) error {
	if s.err != nil {
		return s.err
	}
	return ch.Put(s.body)
}

// TestBeginCommitPayload_RoundTrip decodes the encoded id
func TestBeginCommitPayload_RoundTrip(t *testing.T) {
	b, err := record.DecodeBeginTxnPayload(record.EncodeBeginTxnPayload(99))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, b.TxnID, uint64(99))

	c, err := record.DecodeCommitTxnPayload(record.EncodeCommitTxnPayload(100))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, c.TxnID, uint64(100))

	_, err = record.DecodeBeginTxnPayload([]byte{1, 2})
	assert.IsError(t, err, record.ErrCodecTruncated)
	_, err = record.DecodeCommitTxnPayload(make([]byte, 10))
	assert.IsError(t, err, record.ErrCodecCorrupt)
}

// TestEnrichmentPayload_RoundTrip keeps header and body
func TestEnrichmentPayload_RoundTrip(t *testing.T) {
	body := []byte("serialized-enrichment")
	data, err := record.EncodeEnrichmentPayload(5, 2, fixedSource{body: body, declared: int64(len(body))})
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, len(data), record.EnrichmentHeaderSize+len(body))

	p, err := record.DecodeEnrichmentPayload(data)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, p.TxnID, uint64(5))
	tst.RequireDeepEqual(t, p.FormatVersion, uint8(2))
	tst.RequireDeepEqual(t, p.Body, body)

	id, err := record.TxnIDOf(record.Record{Type: record.RecordTypeEnrichment, Payload: data})
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, id, uint64(5))
}

// TestEnrichmentPayload_Errors covers size mismatch and bad headers
func TestEnrichmentPayload_Errors(t *testing.T) {
	_, err := record.EncodeEnrichmentPayload(1, 1, fixedSource{body: []byte("abc"), declared: 4})
	assert.IsError(t, err, record.ErrCodecCorrupt)

	_, err = record.EncodeEnrichmentPayload(1, 0, fixedSource{})
	assert.IsError(t, err, record.ErrCodecInvalid)

	_, err = record.EncodeEnrichmentPayload(1, 1, fixedSource{declared: record.MaxEnrichmentSize + 1})
	assert.IsError(t, err, record.ErrCodecInvalid)

	boom := errors.New("boom")
	_, err = record.EncodeEnrichmentPayload(1, 1, fixedSource{err: boom})
	assert.IsError(t, err, boom)

	_, err = record.DecodeEnrichmentPayload(make([]byte, record.TxnIdSize))
	assert.IsError(t, err, record.ErrCodecTruncated)

	_, err = record.DecodeEnrichmentPayload(make([]byte, record.EnrichmentHeaderSize))
	assert.IsError(t, err, record.ErrCodecInvalid)
}
