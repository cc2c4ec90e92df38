package errorutil

import (
	"fmt"
	"strings"
)

// Coordinates holds positional information (segment ID, offset, transaction ID)
// used in error formatting across the log, replay and store packages.
type Coordinates struct {
	// SegId is the WAL segment ID where the error occurred.
	SegId *uint64

	// Offset is the byte offset within a segment where the error occurred.
	Offset *int64

	// TxnID is the transaction ID associated with the error.
	TxnID *uint64
}

// At builds Coordinates for a segment position.
func At(segId uint64, offset int64) *Coordinates {
	return &Coordinates{SegId: &segId, Offset: &offset}
}

// WithTxn returns a copy of c carrying txnID.
func (c *Coordinates) WithTxn(txnID uint64) *Coordinates {
	out := &Coordinates{TxnID: &txnID}
	if c != nil {
		out.SegId, out.Offset = c.SegId, c.Offset
	}
	return out
}

// FormatCoordinates returns the non-nil coordinates as "seg=X at=Y txn=Z".
// Returns an empty string if all coordinates are nil.
func (c *Coordinates) FormatCoordinates() string {
	if c == nil {
		return ""
	}

	var parts []string
	if c.SegId != nil {
		parts = append(parts, fmt.Sprintf("seg=%d", *c.SegId))
	}
	if c.Offset != nil {
		parts = append(parts, fmt.Sprintf("at=%d", *c.Offset))
	}
	if c.TxnID != nil {
		parts = append(parts, fmt.Sprintf("txn=%d", *c.TxnID))
	}
	return strings.Join(parts, " ")
}

// String implements the Stringer interface for Coordinates.
func (c *Coordinates) String() string {
	return c.FormatCoordinates()
}
