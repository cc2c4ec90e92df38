// Package capture fills the enrichment regions from a transaction's changes and
// decodes them back into per-entity change records.
//
// Every changed or referenced entity gets a fixed-size record in the details
// region. Records point into the changes region for labels, properties and
// logical keys, and property entries point into the values region. The
// entities region lists the details position of every participant in a
// stable order.
package capture

import (
	"fmt"
	"math"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
)

const (
	// NoMoreProperties terminates a property list in the changes region.
	NoMoreProperties int32 = math.MinInt32
	// UnknownPosition marks a pointer with nothing behind it.
	UnknownPosition int32 = -1

	AddedMarker    byte = 0b001
	ModifiedMarker byte = 0b010
	DeletedMarker  byte = 0b100
)

// Offsets of the fields of a details record, relative to its start.
const (
	typeOffset             = channel.LongSize
	deltaOffset            = typeOffset + channel.ByteSize
	constraintsOffset      = deltaOffset + channel.ByteSize
	propertiesStateOffset  = constraintsOffset + channel.IntSize
	propertiesChangeOffset = propertiesStateOffset + channel.IntSize
	labelsStateOffset      = propertiesChangeOffset + channel.IntSize
	labelsChangeOffset     = labelsStateOffset + channel.IntSize

	relTypeOffset   = propertiesChangeOffset + channel.IntSize
	sourcePosOffset = relTypeOffset + channel.IntSize
	targetPosOffset = sourcePosOffset + channel.IntSize

	// NodeRecordSize is the size of a node's details record.
	NodeRecordSize = labelsChangeOffset + channel.IntSize
	// RelationshipRecordSize is the size of a relationship's details record.
	RelationshipRecordSize = targetPosOffset + channel.IntSize
)

// EntityType is the kind of entity a details record describes.
type EntityType uint8

const (
	EntityNode EntityType = iota
	EntityRelationship
)

func (e EntityType) String() string {
	switch e {
	case EntityNode:
		return "node"
	case EntityRelationship:
		return "relationship"
	default:
		return fmt.Sprintf("EntityType(%d)", uint8(e))
	}
}

// DeltaType says how an entity took part in a transaction. Lower ids win when
// the same node is seen twice, so a node first recorded only for its state is
// upgraded once it is changed.
type DeltaType uint8

const (
	DeltaAdded DeltaType = iota
	DeltaModified
	DeltaDeleted
	DeltaState
)

func (d DeltaType) String() string {
	switch d {
	case DeltaAdded:
		return "ADDED"
	case DeltaModified:
		return "MODIFIED"
	case DeltaDeleted:
		return "DELETED"
	case DeltaState:
		return "STATE"
	default:
		return fmt.Sprintf("DeltaType(%d)", uint8(d))
	}
}

// Property is a property key token and its value.
type Property struct {
	Key   int32
	Value any
}

// PropertyUpdate is a property whose value was replaced.
type PropertyUpdate struct {
	Key    int32
	Before any
	After  any
}

// PropertyChanges groups the property edits made to one entity.
// Removed carries the values the properties had before removal.
type PropertyChanges struct {
	Added   []Property
	Changed []PropertyUpdate
	Removed []Property
}

func (p PropertyChanges) empty() bool {
	return len(p.Added) == 0 && len(p.Changed) == 0 && len(p.Removed) == 0
}

// NodeState is a node as it was before the transaction touched it.
type NodeState struct {
	Labels     []int32
	Properties []Property
}

// NodeChange is what a transaction did to an existing node.
type NodeChange struct {
	AddedLabels   []int32
	RemovedLabels []int32
	Properties    PropertyChanges
}

// Endpoint is a relationship's start or end node. Added is set for nodes created
// in the same transaction, whose state is recorded by CreateNode instead.
// Modified is set when the node itself is also changed.
type Endpoint struct {
	ID       int64
	Added    bool
	Modified bool
	State    NodeState
}

// LogicalKeys resolves the property sets that identify entities carrying a
// label or relationship type. A nil LogicalKeys means no keys are defined.
type LogicalKeys interface {
	LogicalKeys(entity EntityType, token int32) [][]int32
}

// LogicalKeysFunc adapts a function to LogicalKeys.
type LogicalKeysFunc func(entity EntityType, token int32) [][]int32

func (f LogicalKeysFunc) LogicalKeys(entity EntityType, token int32) [][]int32 {
	return f(entity, token)
}
