package enrichment

import (
	"math"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/chunked"
)

// Write is an enrichment being assembled for commit. It owns its region
// buffers and closes them when it is closed.
type Write struct {
	meta    TxMetadata
	regions []*chunked.Buffer
	closed  bool
}

// NewWrite builds a payload without a user metadata region, as written before
// VersionUserMetadata.
func NewWrite(meta TxMetadata, entities, details, changes, values *chunked.Buffer) (*Write, error) {
	return newWrite(meta, entities, details, changes, values)
}

// NewWriteWithUserMetadata builds a payload that carries a user metadata
// region.
func NewWriteWithUserMetadata(
	meta TxMetadata,
	entities, details, changes, values, userMetadata *chunked.Buffer,
) (*Write, error) {
	return newWrite(meta, entities, details, changes, values, userMetadata)
}

func newWrite(meta TxMetadata, regions ...*chunked.Buffer) (*Write, error) {
	if !meta.captureMode.Valid() {
		return nil, argumentError("metadata")
	}
	for i, r := range regions {
		if r == nil {
			return nil, argumentError(Region(i).String())
		}
	}
	return &Write{meta: meta, regions: regions}, nil
}

func (w *Write) Variant() Variant     { return VariantWrite }
func (w *Write) Metadata() TxMetadata { return w.meta }
func (w *Write) sealed()              {}

// HasUserMetadataRegion reports whether the payload was built with a fifth region.
func (w *Write) HasUserMetadataRegion() bool {
	return len(w.regions) == regionCount
}

// Supports reports whether the payload's region layout matches version v.
func (w *Write) Supports(v Version) bool {
	return v.Valid() && v.RegionCount() == len(w.regions)
}

// Region returns the buffer backing r, or nil if the payload has no such region.
func (w *Write) Region(r Region) *chunked.Buffer {
	if int(r) >= len(w.regions) {
		return nil
	}
	return w.regions[r]
}

// TotalSize returns the exact number of bytes Serialize writes.
func (w *Write) TotalSize() int64 {
	size := w.meta.SerializedSize() + int64(len(w.regions)*channel.IntSize)
	for _, r := range w.regions {
		size += r.Size()
	}
	return size
}

// Serialize writes the header, the region sizes and the region contents to ch.
// Every region must already be flipped.
func (w *Write) Serialize(ch channel.WritableChannel) error {
	if w.closed {
		return &CodecError{Kind: KindClosed, Err: ErrClosed}
	}
	if err := w.meta.Serialize(ch); err != nil {
		return err
	}
	for i, r := range w.regions {
		size := r.Size()
		if size > math.MaxInt32 {
			return &CodecError{
				Kind:  KindRegionTooLarge,
				Field: Region(i).String(),
				Want:  math.MaxInt32,
				Have:  size,
				Err:   ErrRegionTooLarge,
			}
		}
		if err := ch.PutInt(int32(size)); err != nil {
			return err
		}
	}
	for _, r := range w.regions {
		if err := r.Serialize(ch); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every region. Calling it again is a no-op.
func (w *Write) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var first error
	for _, r := range w.regions {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ Enrichment = (*Write)(nil)
