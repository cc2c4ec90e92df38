package record

import (
	"encoding/binary"
	"io"
)

// EncodeFrame encodes a record with the given type and payload as
// [len u32][type u8][payload][crc32c u32].
func EncodeFrame(recordType RecordType, payload []byte) ([]byte, error) {
	if err := ValidateRecordFrame(recordType, payload); err != nil {
		return nil, err
	}
	recordLen := uint32(len(payload)) + RecordTypeHeaderSize //nolint:gosec

	data := make([]byte, RecordHeaderSize+recordLen+RecordCRCSize)

	binary.LittleEndian.PutUint32(data[:RecordHeaderSize], recordLen)

	data[RecordHeaderSize] = byte(recordType)
	copy(data[RecordHeaderSize+RecordTypeHeaderSize:], payload)

	crc := ComputeChecksum(data[RecordHeaderSize : RecordHeaderSize+recordLen])
	binary.LittleEndian.PutUint32(data[RecordHeaderSize+recordLen:], crc)

	return data, nil
}

// DecodeFrame decodes exactly one framed record from data.
func DecodeFrame(data []byte) (FramedRecord, error) {
	if len(data) < RecordHeaderSize+RecordCRCSize {
		return FramedRecord{}, &ParseError{
			Kind: KindTruncated,
			Want: RecordHeaderSize + RecordCRCSize,
			Have: len(data),
			Err:  io.ErrUnexpectedEOF,
		}
	}

	recordLen := binary.LittleEndian.Uint32(data[:RecordHeaderSize])
	if err := ValidateRecordLength(recordLen); err != nil {
		return FramedRecord{}, err
	}

	wantTotal := RecordHeaderSize + int(recordLen) + RecordCRCSize
	if len(data) < wantTotal {
		return FramedRecord{}, &ParseError{
			Kind:        KindTruncated,
			DeclaredLen: recordLen,
			Want:        wantTotal,
			Have:        len(data),
			Err:         io.ErrUnexpectedEOF,
		}
	}
	if len(data) != wantTotal {
		return FramedRecord{}, &ParseError{
			Kind:        KindCorrupt,
			DeclaredLen: recordLen,
			Want:        wantTotal,
			Have:        len(data),
			Err:         ErrInvalidLength,
		}
	}

	return parseBody(0, recordLen, data[RecordHeaderSize:])
}

// parseBody checks the type and checksum of body, which holds
// [type][payload][crc] for a record starting at offset.
func parseBody(offset int64, recordLen uint32, body []byte) (FramedRecord, error) {
	rawType := body[0]
	recordType := RecordType(rawType)
	if !recordType.Valid() {
		return FramedRecord{}, &ParseError{
			Kind:               KindInvalidType,
			Offset:             offset,
			SafeTruncateOffset: offset,
			DeclaredLen:        recordLen,
			RawType:            rawType,
			RecordType:         recordType,
			Err:                ErrInvalidType,
		}
	}

	rec := FramedRecord{
		Offset: offset,
		Size:   int64(RecordHeaderSize) + int64(recordLen) + RecordCRCSize,
		Record: Record{
			Len:     recordLen,
			Type:    recordType,
			Payload: body[RecordTypeHeaderSize:recordLen],
			CRC:     binary.LittleEndian.Uint32(body[recordLen : recordLen+RecordCRCSize]),
		},
	}

	if !VerifyChecksum(&rec.Record) {
		return FramedRecord{}, &ParseError{
			Kind:               KindChecksumMismatch,
			Offset:             offset,
			SafeTruncateOffset: offset,
			DeclaredLen:        recordLen,
			RawType:            rawType,
			RecordType:         recordType,
			Err:                ErrChecksumMismatch,
		}
	}

	return rec, nil
}
