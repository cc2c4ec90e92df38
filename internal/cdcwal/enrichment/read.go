package enrichment

import (
	"bytes"
	"io"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
	"github.com/julianstephens/cdcwal/internal/cdcwal/wal/record"
)

// Read is an enrichment decoded from the log. Each region is held in its own
// heap-tracked slice; accessors hand out independent readers over it.
type Read struct {
	version     Version
	meta        TxMetadata
	regions     [][]byte
	entityCount int
	tracker     memory.Tracker
	allocated   int64
	closed      bool
}

// Deserialize reads one payload encoded at version from ch. Heap for every
// region is charged to tracker and handed back by Close. If Deserialize fails,
// whatever it had already charged is released before it returns.
func Deserialize(version Version, ch channel.ReadableChannel, tracker memory.Tracker) (*Read, error) {
	if !version.Valid() {
		return nil, unsupportedVersion(version)
	}
	if tracker == nil {
		tracker = memory.EmptyTracker{}
	}

	meta, err := DeserializeTxMetadata(ch)
	if err != nil {
		return nil, err
	}

	count := version.RegionCount()
	sizes := make([]int32, count)
	for i := range sizes {
		size, err := ch.GetInt()
		if err != nil {
			return nil, shortRead(Region(i).String(), err)
		}
		if size < 0 {
			return nil, &CodecError{
				Kind:  KindInvalidLength,
				Field: Region(i).String(),
				Have:  int64(size),
				Err:   ErrInvalidLength,
			}
		}
		sizes[i] = size
	}
	var total int64
	for _, size := range sizes {
		total += int64(size)
	}
	if total > record.MaxEnrichmentSize {
		return nil, &CodecError{
			Kind:  KindRegionTooLarge,
			Field: "regions",
			Want:  record.MaxEnrichmentSize,
			Have:  total,
			Err:   ErrRegionTooLarge,
		}
	}
	if sizes[RegionEntities]%EntityPointerSize != 0 {
		return nil, &CodecError{
			Kind:  KindInvalidLength,
			Field: RegionEntities.String(),
			Want:  int64(sizes[RegionEntities]) / EntityPointerSize * EntityPointerSize,
			Have:  int64(sizes[RegionEntities]),
			Err:   ErrInvalidLength,
		}
	}

	r := &Read{
		version: version,
		meta:    meta,
		regions: make([][]byte, count),
		tracker: tracker,
	}
	for i, size := range sizes {
		tracker.AllocateHeap(int64(size))
		r.allocated += int64(size)
		buf := make([]byte, size)
		if n, err := io.ReadFull(ch, buf); err != nil {
			r.release()
			return nil, &CodecError{
				Kind:  KindShortRead,
				Field: Region(i).String(),
				Want:  int64(size),
				Have:  int64(n),
				Err:   ErrShortRead,
				Cause: io.ErrUnexpectedEOF,
			}
		}
		r.regions[i] = buf
	}
	r.entityCount = int(sizes[RegionEntities]) / EntityPointerSize
	return r, nil
}

func (r *Read) Variant() Variant     { return VariantRead }
func (r *Read) Metadata() TxMetadata { return r.meta }
func (r *Read) sealed()              {}

// Version returns the format version the payload was decoded at.
func (r *Read) Version() Version { return r.version }

// NumberOfEntities returns the number of entity pointers in the entities region.
func (r *Read) NumberOfEntities() int { return r.entityCount }

func (r *Read) Entities() *bytes.Reader      { return r.region(RegionEntities) }
func (r *Read) EntityDetails() *bytes.Reader { return r.region(RegionDetails) }
func (r *Read) EntityChanges() *bytes.Reader { return r.region(RegionChanges) }
func (r *Read) Values() *bytes.Reader        { return r.region(RegionValues) }

// UserMetadata returns the user metadata region. It reports false both when
// the region is absent and when it is present but empty; use
// HasUserMetadataRegion to tell those apart.
func (r *Read) UserMetadata() (*bytes.Reader, bool) {
	if r.RegionSize(RegionUserMetadata) == 0 {
		return bytes.NewReader(nil), false
	}
	return r.region(RegionUserMetadata), true
}

// HasUserMetadataRegion reports whether a user metadata size prefix was on the wire.
func (r *Read) HasUserMetadataRegion() bool {
	return r.version.HasUserMetadata()
}

// RegionSize returns the decoded length of region g, or 0 if it is absent.
func (r *Read) RegionSize(g Region) int {
	if int(g) >= len(r.regions) {
		return 0
	}
	return len(r.regions[g])
}

// TotalSize returns the exact number of bytes Serialize writes.
func (r *Read) TotalSize() int64 {
	size := r.meta.SerializedSize() + int64(r.version.RegionCount()*channel.IntSize)
	for _, g := range r.regions {
		size += int64(len(g))
	}
	return size
}

// Serialize re-emits the payload exactly as it was decoded. Whether the user
// metadata prefix is written follows from the version alone.
func (r *Read) Serialize(ch channel.WritableChannel) error {
	if r.closed {
		return &CodecError{Kind: KindClosed, Err: ErrClosed}
	}
	if err := r.meta.Serialize(ch); err != nil {
		return err
	}
	count := r.version.RegionCount()
	for i := 0; i < count; i++ {
		if err := ch.PutInt(int32(r.RegionSize(Region(i)))); err != nil { //nolint:gosec
			return err
		}
	}
	for i := 0; i < count; i++ {
		if err := ch.Put(r.regions[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the heap charged by Deserialize. Calling it again is a no-op.
func (r *Read) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.release()
	return nil
}

func (r *Read) region(g Region) *bytes.Reader {
	if int(g) >= len(r.regions) {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(r.regions[g])
}

func (r *Read) release() {
	if r.allocated > 0 {
		r.tracker.ReleaseHeap(r.allocated)
	}
	r.allocated = 0
	r.regions = nil
}

var _ Enrichment = (*Read)(nil)
