// Package enrichment encodes and decodes the change data capture payload that
// accompanies a committed transaction in the log.
//
// A payload is a TxMetadata header, one int32 size prefix per region, then the
// region bytes in the same order: entities, details, changes, values and, from
// VersionUserMetadata on, user metadata. The write side is built from flipped
// chunked buffers; the read side holds each region in its own heap-tracked
// slice.
package enrichment

import (
	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
)

// Region names one of the size-prefixed byte areas of a payload.
type Region uint8

const (
	RegionEntities Region = iota
	RegionDetails
	RegionChanges
	RegionValues
	RegionUserMetadata

	regionCount = int(RegionUserMetadata) + 1
)

func (r Region) String() string {
	switch r {
	case RegionEntities:
		return "entities"
	case RegionDetails:
		return "details"
	case RegionChanges:
		return "changes"
	case RegionValues:
		return "values"
	case RegionUserMetadata:
		return "user_metadata"
	default:
		return "unknown"
	}
}

// EntityPointerSize is the width of one entry of the entities region.
const EntityPointerSize = channel.IntSize

// Variant tells the two Enrichment implementations apart.
type Variant uint8

const (
	VariantWrite Variant = iota + 1
	VariantRead
)

func (v Variant) String() string {
	switch v {
	case VariantWrite:
		return "write"
	case VariantRead:
		return "read"
	default:
		return "none"
	}
}

// Enrichment is either a *Write being assembled for commit or a *Read decoded
// from the log. No other implementations exist.
type Enrichment interface {
	Variant() Variant
	Metadata() TxMetadata
	Serialize(ch channel.WritableChannel) error
	Close() error

	sealed()
}

// ExtractForReading returns e as a *Read.
func ExtractForReading(e Enrichment) (*Read, error) {
	switch v := e.(type) {
	case *Read:
		return v, nil
	case *Write:
		return nil, &ExtractError{Want: VariantRead, Have: VariantWrite}
	default:
		return nil, &ExtractError{Want: VariantRead}
	}
}

// ExtractForWriting returns e as a *Write.
func ExtractForWriting(e Enrichment) (*Write, error) {
	switch v := e.(type) {
	case *Write:
		return v, nil
	case *Read:
		return nil, &ExtractError{Want: VariantWrite, Have: VariantRead}
	default:
		return nil, &ExtractError{Want: VariantWrite}
	}
}
