package capture

import (
	"cmp"
	"maps"
	"slices"

	"github.com/julianstephens/cdcwal/internal/cdcwal/chunked"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
	"github.com/julianstephens/cdcwal/internal/cdcwal/memory"
)

// participantSize is the heap charged per tracked participant.
const participantSize = 16

type participant struct {
	orderCode uint16
	id        int64
	position  int32
}

// orderCode sorts participants by delta type, then nodes before
// relationships, except for deletions where relationships come first so a
// consumer can detach before it deletes.
func orderCode(entity EntityType, delta DeltaType) uint16 {
	code := uint16(delta) << 8
	isNode := entity == EntityNode
	if delta == DeltaDeleted {
		isNode = !isNode
	}
	if !isNode {
		code |= 1
	}
	return code
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogicalKeys records the logical keys of touched labels and relationship
// types, and in DIFF mode always captures the properties they name.
func WithLogicalKeys(keys LogicalKeys) Option {
	return func(c *Collector) { c.keys = keys }
}

// WithChunkSize sets the chunk size of every region buffer.
func WithChunkSize(size int) Option {
	return func(c *Collector) { c.chunkSize = size }
}

// Collector records one transaction's changes into enrichment regions.
// It is not safe for concurrent use.
type Collector struct {
	mode      enrichment.CaptureMode
	version   enrichment.Version
	tracker   memory.Tracker
	keys      LogicalKeys
	chunkSize int

	entities     *chunked.Buffer
	details      *chunked.Buffer
	changes      *chunked.Buffer
	values       *chunked.Buffer
	userMetadata *chunked.Buffer
	valuesWriter *ValuesWriter

	participants []participant
	nodes        map[int64]int32
	rels         map[int64]int32

	built  bool
	closed bool
}

// NewCollector creates a Collector for a transaction captured in mode and
// encoded at version. userMetadata is written to the fifth region when
// version has one and dropped otherwise.
func NewCollector(
	mode enrichment.CaptureMode,
	version enrichment.Version,
	tracker memory.Tracker,
	userMetadata map[string]any,
	opts ...Option,
) (*Collector, error) {
	if !mode.Valid() {
		return nil, &enrichment.CodecError{Kind: enrichment.KindInvalidArgument, Field: "capture_mode", Err: enrichment.ErrInvalidArgument}
	}
	if !version.Valid() {
		return nil, &enrichment.CodecError{Kind: enrichment.KindUnsupportedVersion, Field: "format_version", Err: enrichment.ErrUnsupportedVersion}
	}
	for _, v := range userMetadata {
		if err := checkValue(v); err != nil {
			return nil, err
		}
	}
	if tracker == nil {
		tracker = memory.EmptyTracker{}
	}

	c := &Collector{
		mode:      mode,
		version:   version,
		tracker:   tracker,
		chunkSize: chunked.DefaultChunkSize,
		nodes:     make(map[int64]int32),
		rels:      make(map[int64]int32),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entities = chunked.NewWithChunkSize(tracker, c.chunkSize)
	c.details = chunked.NewWithChunkSize(tracker, c.chunkSize)
	c.changes = chunked.NewWithChunkSize(tracker, c.chunkSize)
	c.values = chunked.NewWithChunkSize(tracker, c.chunkSize)
	c.valuesWriter = NewValuesWriter(c.values)

	if version.HasUserMetadata() {
		c.userMetadata = chunked.NewWithChunkSize(tracker, c.chunkSize)
		if len(userMetadata) > 0 {
			c.userMetadata.PutInt(int32(len(userMetadata))) //nolint:gosec
			w := NewValuesWriter(c.userMetadata)
			for _, key := range slices.Sorted(maps.Keys(userMetadata)) {
				if _, err := w.Write(key); err != nil {
					_ = c.Close()
					return nil, err
				}
				if _, err := w.Write(userMetadata[key]); err != nil {
					_ = c.Close()
					return nil, err
				}
			}
		}
	}
	return c, nil
}

// CreateNode records a node created by the transaction with its initial labels
// and properties.
func (c *Collector) CreateNode(id int64, labels []int32, props []Property) error {
	if err := c.usable(); err != nil {
		return err
	}
	if _, err := c.setNodeChangeType(id, DeltaAdded); err != nil {
		return err
	}
	if len(labels) > 0 {
		pos, err := c.addLabels(sortedCopy(labels))
		if err != nil {
			return err
		}
		if _, err := c.captureLabelKeys(id, labels); err != nil {
			return err
		}
		if err := c.setNodeChangeDelta(id, labelsStateOffset, pos); err != nil {
			return err
		}
	}
	pos, err := c.addProperties(props)
	if err != nil {
		return err
	}
	return c.setNodeChangeDelta(id, propertiesStateOffset, pos)
}

// DeleteNode records a deleted node with the state it had before deletion.
func (c *Collector) DeleteNode(id int64, state NodeState) error {
	if err := c.usable(); err != nil {
		return err
	}
	_, err := c.captureNodeState(id, DeltaDeleted, true, false, state)
	return err
}

// ModifyNode records label and property edits to an existing node. state is
// the node before the edits.
func (c *Collector) ModifyNode(id int64, state NodeState, change NodeChange) error {
	if err := c.usable(); err != nil {
		return err
	}
	if _, err := c.captureNodeState(id, DeltaModified, true, false, state); err != nil {
		return err
	}
	if len(change.AddedLabels) > 0 || len(change.RemovedLabels) > 0 {
		pos, err := c.addLabels(sortedCopy(change.AddedLabels))
		if err != nil {
			return err
		}
		if _, err := c.addLabels(sortedCopy(change.RemovedLabels)); err != nil {
			return err
		}
		if err := c.setNodeChangeDelta(id, labelsChangeOffset, pos); err != nil {
			return err
		}
	}
	pos, err := c.addPropertyChanges(change.Properties)
	if err != nil {
		return err
	}
	return c.setNodeChangeDelta(id, propertiesChangeOffset, pos)
}

// CreateRelationship records a relationship created by the transaction.
func (c *Collector) CreateRelationship(id int64, relType int32, start, end Endpoint, props []Property) error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := c.trackRelationship(id, DeltaAdded, relType, start, end); err != nil {
		return err
	}
	if _, err := c.captureRelTypeKeys(id, relType); err != nil {
		return err
	}
	pos, err := c.addProperties(props)
	if err != nil {
		return err
	}
	return c.setRelChangeDelta(id, propertiesStateOffset, pos)
}

// DeleteRelationship records a deleted relationship and every property it had.
func (c *Collector) DeleteRelationship(id int64, relType int32, start, end Endpoint, props []Property) error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := c.trackRelationship(id, DeltaDeleted, relType, start, end); err != nil {
		return err
	}
	if _, err := c.captureRelTypeKeys(id, relType); err != nil {
		return err
	}
	pos, err := c.addProperties(props)
	if err != nil {
		return err
	}
	return c.setRelChangeDelta(id, propertiesStateOffset, pos)
}

// ModifyRelationship records property edits to an existing relationship.
// state is its properties before the edits.
func (c *Collector) ModifyRelationship(
	id int64,
	relType int32,
	start, end Endpoint,
	state []Property,
	change PropertyChanges,
) error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := c.trackRelationship(id, DeltaModified, relType, start, end); err != nil {
		return err
	}
	keyProps, err := c.captureRelTypeKeys(id, relType)
	if err != nil {
		return err
	}
	if c.mode != enrichment.CaptureModeFull {
		state = selectProperties(state, keyProps)
	}
	pos, err := c.addProperties(state)
	if err != nil {
		return err
	}
	if err := c.setRelChangeDelta(id, propertiesStateOffset, pos); err != nil {
		return err
	}
	pos, err = c.addPropertyChanges(change)
	if err != nil {
		return err
	}
	return c.setRelChangeDelta(id, propertiesChangeOffset, pos)
}

// HasChanges reports whether any entity took part in the transaction.
func (c *Collector) HasChanges() bool {
	return len(c.participants) > 0
}

// Build writes the entities region, flips every region and hands them to a new
// enrichment.Write. The Write owns the buffers from then on.
func (c *Collector) Build(meta enrichment.TxMetadata) (*enrichment.Write, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if len(c.participants) == 0 {
		return nil, &CaptureError{Kind: KindNothingCaptured, Err: ErrNothingCaptured}
	}
	if !meta.CaptureMode().Valid() {
		return nil, &enrichment.CodecError{Kind: enrichment.KindInvalidArgument, Field: "metadata", Err: enrichment.ErrInvalidArgument}
	}

	slices.SortFunc(c.participants, func(a, b participant) int {
		if n := cmp.Compare(a.orderCode, b.orderCode); n != 0 {
			return n
		}
		return cmp.Compare(a.id, b.id)
	})
	for _, p := range c.participants {
		c.entities.PutInt(p.position)
	}
	c.releaseParticipants()

	c.entities.Flip()
	c.details.Flip()
	c.changes.Flip()
	c.values.Flip()

	var (
		w   *enrichment.Write
		err error
	)
	if c.userMetadata != nil {
		c.userMetadata.Flip()
		w, err = enrichment.NewWriteWithUserMetadata(meta, c.entities, c.details, c.changes, c.values, c.userMetadata)
	} else {
		w, err = enrichment.NewWrite(meta, c.entities, c.details, c.changes, c.values)
	}
	if err != nil {
		return nil, err
	}
	c.built = true
	return w, nil
}

// Close releases everything the collector still owns. Buffers handed to a
// Write by Build are left to that Write. Calling Close again is a no-op.
func (c *Collector) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.releaseParticipants()
	if c.built {
		return nil
	}
	for _, b := range []*chunked.Buffer{c.entities, c.details, c.changes, c.values, c.userMetadata} {
		if b != nil {
			_ = b.Close()
		}
	}
	return nil
}

func (c *Collector) usable() error {
	if c.built || c.closed {
		return &CaptureError{Kind: KindBuilt, Err: ErrBuilt}
	}
	return nil
}

func (c *Collector) releaseParticipants() {
	if n := len(c.participants); n > 0 {
		c.tracker.ReleaseHeap(int64(n) * participantSize)
	}
	c.participants = nil
}

func (c *Collector) addParticipant(entity EntityType, delta DeltaType, id int64, pos int32) {
	c.tracker.AllocateHeap(participantSize)
	c.participants = append(c.participants, participant{
		orderCode: orderCode(entity, delta),
		id:        id,
		position:  pos,
	})
}

// setNodeChangeType returns true when id gets a new details record. An
// existing record is upgraded when delta has a lower id than the recorded one.
func (c *Collector) setNodeChangeType(id int64, delta DeltaType) (bool, error) {
	if pos, ok := c.nodes[id]; ok {
		cur, err := c.details.PeekByte(int64(pos) + deltaOffset)
		if err != nil {
			return false, err
		}
		if delta < DeltaType(cur) {
			c.addParticipant(EntityNode, delta, id, pos)
			if err := c.details.PutByteAt(int64(pos)+deltaOffset, byte(delta)); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	pos, err := position("details", c.details.Size())
	if err != nil {
		return false, err
	}
	c.nodes[id] = pos
	if delta != DeltaState {
		c.addParticipant(EntityNode, delta, id, pos)
	}
	c.details.
		PutLong(id).
		PutByte(byte(EntityNode)).
		PutByte(byte(delta)).
		PutInt(UnknownPosition).
		PutInt(UnknownPosition).
		PutInt(UnknownPosition).
		PutInt(UnknownPosition).
		PutInt(UnknownPosition)
	return true, c.details.Err()
}

func (c *Collector) setNodeChangeDelta(id int64, offset int64, changePos int32) error {
	pos, ok := c.nodes[id]
	if !ok {
		return &CaptureError{Kind: KindNotTracked, Entity: EntityNode, ID: id, Err: ErrNotTracked}
	}
	return c.details.PutIntAt(int64(pos)+offset, changePos)
}

func (c *Collector) setRelChangeDelta(id int64, offset int64, changePos int32) error {
	pos, ok := c.rels[id]
	if !ok {
		return &CaptureError{Kind: KindNotTracked, Entity: EntityRelationship, ID: id, Err: ErrNotTracked}
	}
	return c.details.PutIntAt(int64(pos)+offset, changePos)
}

// captureNodeState makes sure id has a details record and, the first time an
// existing node is seen, records its labels and the selected properties.
func (c *Collector) captureNodeState(
	id int64,
	delta DeltaType,
	partOfNodeChange bool,
	added bool,
	state NodeState,
) (int32, error) {
	isNew, err := c.setNodeChangeType(id, delta)
	if err != nil {
		return 0, err
	}
	if isNew && !added {
		labels := sortedCopy(state.Labels)
		keyProps, err := c.captureLabelKeys(id, labels)
		if err != nil {
			return 0, err
		}
		pos, err := c.addLabels(labels)
		if err != nil {
			return 0, err
		}
		if err := c.setNodeChangeDelta(id, labelsStateOffset, pos); err != nil {
			return 0, err
		}

		props := state.Properties
		if delta != DeltaDeleted && !(partOfNodeChange && c.mode == enrichment.CaptureModeFull) {
			props = selectProperties(props, keyProps)
		}
		pos, err = c.addProperties(props)
		if err != nil {
			return 0, err
		}
		if err := c.setNodeChangeDelta(id, propertiesStateOffset, pos); err != nil {
			return 0, err
		}
	}
	return c.nodes[id], nil
}

func (c *Collector) trackRelationship(id int64, delta DeltaType, relType int32, start, end Endpoint) error {
	if _, ok := c.rels[id]; ok {
		return &CaptureError{Kind: KindAlreadyTracked, Entity: EntityRelationship, ID: id, Err: ErrAlreadyTracked}
	}
	startPos, err := c.captureNodeState(start.ID, DeltaState, start.Modified, start.Added, start.State)
	if err != nil {
		return err
	}
	endPos, err := c.captureNodeState(end.ID, DeltaState, end.Modified, end.Added, end.State)
	if err != nil {
		return err
	}

	pos, err := position("details", c.details.Size())
	if err != nil {
		return err
	}
	c.addParticipant(EntityRelationship, delta, id, pos)
	c.rels[id] = pos
	c.details.
		PutLong(id).
		PutByte(byte(EntityRelationship)).
		PutByte(byte(delta)).
		PutInt(UnknownPosition).
		PutInt(UnknownPosition).
		PutInt(UnknownPosition).
		PutInt(relType).
		PutInt(startPos).
		PutInt(endPos)
	return c.details.Err()
}

// captureLabelKeys writes the logical keys of every label that has some and
// returns the union of their properties.
func (c *Collector) captureLabelKeys(id int64, labels []int32) (map[int32]struct{}, error) {
	if c.keys == nil || len(labels) == 0 {
		return nil, nil
	}
	keyProps := make(map[int32]struct{})
	start := c.changes.Size()
	groups := int32(0)
	for _, label := range labels {
		sets := c.keys.LogicalKeys(EntityNode, label)
		if len(sets) == 0 {
			continue
		}
		if groups == 0 {
			c.changes.PutInt(0) // group count, backfilled below
		}
		c.changes.PutInt(label).PutInt(int32(len(sets))) //nolint:gosec
		for _, set := range sets {
			c.writeKey(keyProps, set)
		}
		groups++
	}
	if groups == 0 {
		return keyProps, nil
	}
	if err := c.changes.PutIntAt(start, groups); err != nil {
		return nil, err
	}
	pos, err := position("changes", start)
	if err != nil {
		return nil, err
	}
	return keyProps, c.setNodeChangeDelta(id, constraintsOffset, pos)
}

func (c *Collector) captureRelTypeKeys(id int64, relType int32) (map[int32]struct{}, error) {
	if c.keys == nil {
		return nil, nil
	}
	sets := c.keys.LogicalKeys(EntityRelationship, relType)
	if len(sets) == 0 {
		return nil, nil
	}
	keyProps := make(map[int32]struct{})
	pos, err := position("changes", c.changes.Size())
	if err != nil {
		return nil, err
	}
	c.changes.PutInt(relType).PutInt(int32(len(sets))) //nolint:gosec
	for _, set := range sets {
		c.writeKey(keyProps, set)
	}
	return keyProps, c.setRelChangeDelta(id, constraintsOffset, pos)
}

func (c *Collector) writeKey(all map[int32]struct{}, props []int32) {
	c.changes.PutInt(int32(len(props))) //nolint:gosec
	for _, p := range props {
		all[p] = struct{}{}
		c.changes.PutInt(p)
	}
}

func (c *Collector) addLabels(labels []int32) (int32, error) {
	pos, err := position("changes", c.changes.Size())
	if err != nil {
		return 0, err
	}
	c.changes.PutInt(int32(len(labels))) //nolint:gosec
	for _, l := range labels {
		c.changes.PutInt(l)
	}
	return pos, nil
}

// addProperties writes a NoMoreProperties-terminated list of key and value
// position pairs, or returns UnknownPosition when props is empty.
func (c *Collector) addProperties(props []Property) (int32, error) {
	if len(props) == 0 {
		return UnknownPosition, nil
	}
	pos, err := position("changes", c.changes.Size())
	if err != nil {
		return 0, err
	}
	if err := c.writeProperties(props); err != nil {
		return 0, err
	}
	return pos, nil
}

func (c *Collector) writeProperties(props []Property) error {
	for _, p := range props {
		vpos, err := c.valuesWriter.Write(p.Value)
		if err != nil {
			return err
		}
		c.changes.PutInt(p.Key).PutInt(vpos)
	}
	c.changes.PutInt(NoMoreProperties)
	return nil
}

// addPropertyChanges writes a marker byte followed by the added, changed and
// removed lists that are present; the marker is backfilled with one bit per
// list written.
func (c *Collector) addPropertyChanges(changes PropertyChanges) (int32, error) {
	if changes.empty() {
		return UnknownPosition, nil
	}
	start := c.changes.Size()
	pos, err := position("changes", start)
	if err != nil {
		return 0, err
	}
	c.changes.PutByte(0)

	var flag byte
	if len(changes.Added) > 0 {
		if err := c.writeProperties(changes.Added); err != nil {
			return 0, err
		}
		flag |= AddedMarker
	}
	if len(changes.Changed) > 0 {
		for _, u := range changes.Changed {
			before, err := c.valuesWriter.Write(u.Before)
			if err != nil {
				return 0, err
			}
			after, err := c.valuesWriter.Write(u.After)
			if err != nil {
				return 0, err
			}
			c.changes.PutInt(u.Key).PutInt(before).PutInt(after)
		}
		c.changes.PutInt(NoMoreProperties)
		flag |= ModifiedMarker
	}
	if len(changes.Removed) > 0 {
		if err := c.writeProperties(changes.Removed); err != nil {
			return 0, err
		}
		flag |= DeletedMarker
	}
	if err := c.changes.PutByteAt(start, flag); err != nil {
		return 0, err
	}
	return pos, nil
}

func selectProperties(props []Property, keys map[int32]struct{}) []Property {
	if len(keys) == 0 {
		return nil
	}
	var out []Property
	for _, p := range props {
		if _, ok := keys[p.Key]; ok {
			out = append(out, p)
		}
	}
	return out
}

func sortedCopy(v []int32) []int32 {
	out := slices.Clone(v)
	slices.Sort(out)
	return out
}
