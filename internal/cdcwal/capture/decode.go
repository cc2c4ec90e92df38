package capture

import (
	"bytes"
	"fmt"
	"io"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
)

// ValueChange is the before and after value of a changed property.
type ValueChange struct {
	Before any
	After  any
}

// LogicalKey is one property set identifying entities with a label or
// relationship type.
type LogicalKey struct {
	Token      int32
	Properties []int32
}

// Change is one participant of a transaction as recorded in its enrichment.
// Start and End are only set for relationships; the label fields only for
// nodes.
type Change struct {
	ID     int64
	Entity EntityType
	Delta  DeltaType

	Labels        []int32
	AddedLabels   []int32
	RemovedLabels []int32

	State   map[int32]any
	Added   map[int32]any
	Changed map[int32]ValueChange
	Removed map[int32]any
	Keys    []LogicalKey

	RelType int32
	Start   int64
	End     int64
}

// Transaction is a decoded enrichment.
type Transaction struct {
	Metadata     enrichment.TxMetadata
	Changes      []Change
	UserMetadata map[string]any
}

type decoder struct {
	details *bytes.Reader
	changes *bytes.Reader
	values  *bytes.Reader
}

// Decode walks the entity pointers of r and rebuilds every participant's
// change record in entities-region order.
func Decode(r *enrichment.Read) (*Transaction, error) {
	d := decoder{
		details: r.EntityDetails(),
		changes: r.EntityChanges(),
		values:  r.Values(),
	}
	tx := &Transaction{
		Metadata: r.Metadata(),
		Changes:  make([]Change, 0, r.NumberOfEntities()),
	}

	entities := channel.NewReader(r.Entities())
	for i := 0; i < r.NumberOfEntities(); i++ {
		pos, err := entities.GetInt()
		if err != nil {
			return nil, corrupt("entities", int64(i)*enrichment.EntityPointerSize, err)
		}
		change, err := d.entity(pos)
		if err != nil {
			return nil, err
		}
		tx.Changes = append(tx.Changes, change)
	}

	if um, ok := r.UserMetadata(); ok {
		meta, err := decodeUserMetadata(um)
		if err != nil {
			return nil, err
		}
		tx.UserMetadata = meta
	}
	return tx, nil
}

func at(region string, src *bytes.Reader, pos int32) (*channel.Reader, error) {
	if pos < 0 || int64(pos) >= src.Size() {
		return nil, corrupt(region, int64(pos), fmt.Errorf("outside region of %d bytes", src.Size()))
	}
	return channel.NewReader(io.NewSectionReader(src, int64(pos), src.Size()-int64(pos))), nil
}

func (d decoder) entity(pos int32) (Change, error) {
	ch, err := at("details", d.details, pos)
	if err != nil {
		return Change{}, err
	}
	var (
		c                             Change
		entity, delta                 byte
		keys, propsState, propsChange int32
	)
	fail := func(err error) (Change, error) {
		return Change{}, corrupt("details", int64(pos), err)
	}
	if c.ID, err = ch.GetLong(); err != nil {
		return fail(err)
	}
	if entity, err = ch.GetByte(); err != nil {
		return fail(err)
	}
	if delta, err = ch.GetByte(); err != nil {
		return fail(err)
	}
	c.Entity, c.Delta = EntityType(entity), DeltaType(delta)
	if c.Entity > EntityRelationship || c.Delta > DeltaState {
		return fail(fmt.Errorf("entity type %d delta %d", entity, delta))
	}
	for _, dst := range []*int32{&keys, &propsState, &propsChange} {
		if *dst, err = ch.GetInt(); err != nil {
			return fail(err)
		}
	}

	if c.Entity == EntityNode {
		labelsState, err := ch.GetInt()
		if err != nil {
			return fail(err)
		}
		labelsChange, err := ch.GetInt()
		if err != nil {
			return fail(err)
		}
		if labelsState != UnknownPosition {
			if c.Labels, err = d.labels(labelsState, nil); err != nil {
				return Change{}, err
			}
		}
		if labelsChange != UnknownPosition {
			var next *channel.Reader
			if c.AddedLabels, err = d.labels(labelsChange, &next); err != nil {
				return Change{}, err
			}
			if c.RemovedLabels, err = readLabelList(next); err != nil {
				return Change{}, corrupt("changes", int64(labelsChange), err)
			}
		}
	} else {
		var src, tgt int32
		for _, dst := range []*int32{&c.RelType, &src, &tgt} {
			if *dst, err = ch.GetInt(); err != nil {
				return fail(err)
			}
		}
		if c.Start, err = d.nodeID(src); err != nil {
			return Change{}, err
		}
		if c.End, err = d.nodeID(tgt); err != nil {
			return Change{}, err
		}
	}

	if keys != UnknownPosition {
		if c.Keys, err = d.logicalKeys(c.Entity, keys); err != nil {
			return Change{}, err
		}
	}
	if propsState != UnknownPosition {
		cr, err := at("changes", d.changes, propsState)
		if err != nil {
			return Change{}, err
		}
		if c.State, err = d.properties(cr); err != nil {
			return Change{}, corrupt("changes", int64(propsState), err)
		}
	}
	if propsChange != UnknownPosition {
		if err := d.propertyChanges(&c, propsChange); err != nil {
			return Change{}, corrupt("changes", int64(propsChange), err)
		}
	}
	return c, nil
}

func (d decoder) nodeID(pos int32) (int64, error) {
	ch, err := at("details", d.details, pos)
	if err != nil {
		return 0, err
	}
	id, err := ch.GetLong()
	if err != nil {
		return 0, corrupt("details", int64(pos), err)
	}
	return id, nil
}

// labels reads the label list at pos. When next is non-nil it is set to a
// reader positioned after the list.
func (d decoder) labels(pos int32, next **channel.Reader) ([]int32, error) {
	ch, err := at("changes", d.changes, pos)
	if err != nil {
		return nil, err
	}
	labels, err := readLabelList(ch)
	if err != nil {
		return nil, corrupt("changes", int64(pos), err)
	}
	if next != nil {
		*next = ch
	}
	return labels, nil
}

func readLabelList(ch *channel.Reader) ([]int32, error) {
	n, err := ch.GetInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative label count %d", n)
	}
	labels := make([]int32, 0, min(n, 64))
	for i := int32(0); i < n; i++ {
		l, err := ch.GetInt()
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, nil
}

func (d decoder) logicalKeys(entity EntityType, pos int32) ([]LogicalKey, error) {
	ch, err := at("changes", d.changes, pos)
	if err != nil {
		return nil, err
	}
	groups := int32(1)
	if entity == EntityNode {
		if groups, err = ch.GetInt(); err != nil {
			return nil, corrupt("changes", int64(pos), err)
		}
	}
	var out []LogicalKey
	for g := int32(0); g < groups; g++ {
		token, err := ch.GetInt()
		if err != nil {
			return nil, corrupt("changes", int64(pos), err)
		}
		sets, err := ch.GetInt()
		if err != nil {
			return nil, corrupt("changes", int64(pos), err)
		}
		for s := int32(0); s < sets; s++ {
			props, err := readLabelList(ch)
			if err != nil {
				return nil, corrupt("changes", int64(pos), err)
			}
			out = append(out, LogicalKey{Token: token, Properties: props})
		}
	}
	return out, nil
}

// properties reads key and value position pairs up to NoMoreProperties.
func (d decoder) properties(ch *channel.Reader) (map[int32]any, error) {
	props := make(map[int32]any)
	for {
		key, err := ch.GetInt()
		if err != nil {
			return nil, err
		}
		if key == NoMoreProperties {
			return props, nil
		}
		vpos, err := ch.GetInt()
		if err != nil {
			return nil, err
		}
		v, err := d.value(vpos)
		if err != nil {
			return nil, err
		}
		props[key] = v
	}
}

func (d decoder) propertyChanges(c *Change, pos int32) error {
	ch, err := at("changes", d.changes, pos)
	if err != nil {
		return err
	}
	flag, err := ch.GetByte()
	if err != nil {
		return err
	}
	if flag&AddedMarker != 0 {
		if c.Added, err = d.properties(ch); err != nil {
			return err
		}
	}
	if flag&ModifiedMarker != 0 {
		c.Changed = make(map[int32]ValueChange)
		for {
			key, err := ch.GetInt()
			if err != nil {
				return err
			}
			if key == NoMoreProperties {
				break
			}
			var vc ValueChange
			for _, dst := range []*any{&vc.Before, &vc.After} {
				vpos, err := ch.GetInt()
				if err != nil {
					return err
				}
				if *dst, err = d.value(vpos); err != nil {
					return err
				}
			}
			c.Changed[key] = vc
		}
	}
	if flag&DeletedMarker != 0 {
		if c.Removed, err = d.properties(ch); err != nil {
			return err
		}
	}
	return nil
}

func (d decoder) value(pos int32) (any, error) {
	ch, err := at("values", d.values, pos)
	if err != nil {
		return nil, err
	}
	v, err := ReadValue(ch)
	if err != nil {
		return nil, corrupt("values", int64(pos), err)
	}
	return v, nil
}

func decodeUserMetadata(src *bytes.Reader) (map[string]any, error) {
	ch := channel.NewReader(src)
	n, err := ch.GetInt()
	if err != nil {
		return nil, corrupt("user_metadata", 0, err)
	}
	if n < 0 {
		return nil, corrupt("user_metadata", 0, fmt.Errorf("negative entry count %d", n))
	}
	out := make(map[string]any, min(n, 64))
	for i := int32(0); i < n; i++ {
		start := ch.Position()
		k, err := ReadValue(ch)
		if err != nil {
			return nil, corrupt("user_metadata", start, err)
		}
		key, ok := k.(string)
		if !ok {
			return nil, corrupt("user_metadata", start, fmt.Errorf("key of type %T", k))
		}
		v, err := ReadValue(ch)
		if err != nil {
			return nil, corrupt("user_metadata", start, err)
		}
		out[key] = v
	}
	return out, nil
}
