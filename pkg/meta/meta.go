// Package meta implements the opaque meta-service directory TSKV's
// coordinator and replication layers consult to resolve tenants,
// databases, tables, vnodes, replica sets, and cluster nodes. A real
// deployment runs this directory as its own small Raft cluster; here
// it is a single-node bbolt-backed store behind the same Directory
// interface, so pkg/coordinator never has to know the difference.
package meta

import (
	"github.com/tskvio/tskv/pkg/models"
)

// ReplicationSet mirrors spec §3's ReplicationSet: the set of vnodes
// that together replicate one data shard, plus who currently leads it.
type ReplicationSet struct {
	ID            models.ReplicaID
	LeaderNodeID  models.NodeID
	LeaderVnodeID models.VnodeID
	Vnodes        []VnodeRef
}

// VnodeRef locates one vnode replica on a specific node.
type VnodeRef struct {
	ID     models.VnodeID
	NodeID models.NodeID
}

// Node is a physical cluster member's registration record.
type Node struct {
	ID      models.NodeID
	Addr    string
	TSMAddr string
}

// Table is a tenant/database-scoped table's schema and shard mapping.
type Table struct {
	Tenant      string
	Database    string
	Name        string
	Columns     []models.TableColumn
	Replication []models.ReplicaID
}

// Directory is the opaque meta-service contract pkg/coordinator and
// pkg/replication depend on. Nothing outside pkg/meta knows whether it
// is backed by a single bbolt file or a real distributed meta cluster.
type Directory interface {
	// ReplicationSet resolves a replica group by id.
	ReplicationSet(id models.ReplicaID) (ReplicationSet, bool, error)

	// TableReplicationSets resolves a table to the replica groups that
	// together hold its data, per spec §4.11's table_scan/tag_scan path.
	TableReplicationSets(tenant, database, table string) ([]ReplicationSet, error)

	// Table returns a table's schema and shard mapping.
	Table(tenant, database, table string) (Table, bool, error)

	// PutTable upserts a table's schema and shard mapping.
	PutTable(t Table) error

	// Node resolves a cluster node's registration.
	Node(id models.NodeID) (Node, bool, error)

	// PutNode upserts a cluster node's registration.
	PutNode(n Node) error

	// PutReplicationSet upserts a replica group's membership/leader hint.
	PutReplicationSet(rs ReplicationSet) error

	// SetLeader records which node/vnode currently leads a replica
	// group, so future write_to_replica calls skip straight to it
	// instead of retrying a known-stale leader hint.
	SetLeader(id models.ReplicaID, nodeID models.NodeID, vnodeID models.VnodeID) error

	Close() error
}
