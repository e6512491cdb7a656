// Package models defines the data model shared by every TSKV component:
// identifiers, points, schema columns, and the series-id hash. None of the
// types here own I/O; they are passed by value or pointer between the
// storage engine, replication core, and coordinator.
package models

// SeriesID uniquely identifies a sorted tag-set under a table.
type SeriesID uint32

// ColumnID uniquely identifies a column within a table's schema.
type ColumnID uint32

// FieldID addresses a single (series, column) time series for storage
// purposes: the high 32 bits carry the series, the low 32 the column.
type FieldID uint64

// NewFieldID packs a SeriesID and ColumnID into a FieldID.
func NewFieldID(series SeriesID, column ColumnID) FieldID {
	return FieldID(uint64(series)<<32 | uint64(column))
}

// SeriesID extracts the series component of a FieldID.
func (f FieldID) SeriesID() SeriesID { return SeriesID(f >> 32) }

// ColumnID extracts the column component of a FieldID.
func (f FieldID) ColumnID() ColumnID { return ColumnID(uint32(f)) }

// VnodeID identifies a storage shard (one Raft group member).
type VnodeID uint32

// ReplicaID identifies a replication group (ReplicationSet).
type ReplicaID uint32

// NodeID identifies a physical cluster node.
type NodeID uint64

// Timestamp is an epoch value at whatever precision the tenant's database
// was configured with (ns/us/ms/s); TSKV treats it as an opaque ordering
// key and never converts precision itself.
type Timestamp int64

// TimeRange is an inclusive [Min, Max] timestamp interval.
type TimeRange struct {
	Min Timestamp
	Max Timestamp
}

// Overlaps reports whether r and o share at least one timestamp.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Min <= o.Max && o.Min <= r.Max
}

// Contains reports whether ts falls within r.
func (r TimeRange) Contains(ts Timestamp) bool {
	return ts >= r.Min && ts <= r.Max
}
