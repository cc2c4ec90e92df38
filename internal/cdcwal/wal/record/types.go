package record

type RecordType uint8

const (
	RecordTypeUnknown RecordType = iota
	RecordTypeBeginTransaction
	RecordTypeCommitTransaction
	RecordTypeEnrichment
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeBeginTransaction:
		return "begin"
	case RecordTypeCommitTransaction:
		return "commit"
	case RecordTypeEnrichment:
		return "enrichment"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a record type that may appear on disk.
func (t RecordType) Valid() bool {
	return t > RecordTypeUnknown && t <= RecordTypeEnrichment
}

type Record struct {
	Type    RecordType `json:"type"`
	Payload []byte     `json:"payload"`
	CRC     uint32     `json:"crc"`
	// The length of the record type + payload (excluding CRC)
	Len uint32 `json:"len"`
}

type FramedRecord struct {
	Record Record `json:"record"`
	Size   int64  `json:"size"`
	Offset int64  `json:"offset"`
}

type BeginCommitTransactionPayload struct {
	TxnID uint64 `json:"txn_id"`
}

// EnrichmentPayload carries the serialized enrichment of one transaction.
// Body aliases the decoded record's payload.
type EnrichmentPayload struct {
	TxnID         uint64 `json:"txn_id"`
	FormatVersion uint8  `json:"format_version"`
	Body          []byte `json:"body"`
}
