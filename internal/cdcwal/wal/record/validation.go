package record

const (
	RecordHeaderSize     = 4                // Length of the record length field
	RecordTypeHeaderSize = 1                // Length of the record type field
	RecordCRCSize        = 4                // Length of the CRC32 field
	MaxRecordSize        = 16 * 1024 * 1024 // 16 MB
	TxnIdSize            = 8                // Size of Transaction ID field (uint64)
	FormatVersionSize    = 1                // Size of the enrichment format version field

	EnrichmentHeaderSize = TxnIdSize + FormatVersionSize
	// MaxEnrichmentSize is the largest serialized enrichment that fits one record.
	MaxEnrichmentSize = MaxRecordSize - RecordTypeHeaderSize - EnrichmentHeaderSize
)

// ValidateRecordLength checks if the given record length is within valid bounds.
func ValidateRecordLength(length uint32) error {
	if length < 1 {
		return &ParseError{
			Kind:        KindInvalidLength,
			DeclaredLen: length,
			Err:         ErrInvalidLength,
		}
	}

	if length > MaxRecordSize {
		return &ParseError{
			Kind:        KindTooLarge,
			DeclaredLen: length,
			Want:        MaxRecordSize,
			Have:        int(length),
			Err:         ErrTooLarge,
		}
	}
	return nil
}

// ValidateRecordFrame validates the record type and payload size.
func ValidateRecordFrame(recordType RecordType, payload []byte) error {
	if err := ValidateRecordLength(uint32(len(payload)) + RecordTypeHeaderSize); err != nil { //nolint:gosec
		return err
	}
	switch recordType {
	case RecordTypeBeginTransaction, RecordTypeCommitTransaction:
		if len(payload) != TxnIdSize {
			return &ParseError{
				Kind:       KindInvalidLength,
				RecordType: recordType,
				Want:       TxnIdSize,
				Have:       len(payload),
				Err:        ErrInvalidLength,
			}
		}
	case RecordTypeEnrichment:
		if len(payload) < EnrichmentHeaderSize {
			return &ParseError{
				Kind:       KindInvalidLength,
				RecordType: recordType,
				Want:       EnrichmentHeaderSize,
				Have:       len(payload),
				Err:        ErrInvalidLength,
			}
		}
	default:
		return &ParseError{
			Kind:       KindInvalidType,
			RecordType: recordType,
			RawType:    byte(recordType),
			Err:        ErrInvalidType,
		}
	}

	return nil
}

// EncodedRecordSize returns the on-disk size of a record with the given payload length.
func EncodedRecordSize(payloadLen int) int64 {
	return RecordHeaderSize + RecordTypeHeaderSize + int64(payloadLen) + RecordCRCSize
}
