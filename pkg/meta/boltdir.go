package meta

import (
	"encoding/json"
	"fmt"

	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tskverr"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketReplicationSets = []byte("replication_sets")
	bucketTables          = []byte("tables")
	bucketNodes           = []byte("nodes")
)

// BoltDirectory is a single-node bbolt-backed Directory, the stand-in
// for a real distributed meta cluster (§3's "Managed by the
// meta-service"), using one bucket per entity kind.
type BoltDirectory struct {
	db *bolt.DB
}

// OpenBoltDirectory opens (creating if absent) a bbolt-backed directory
// at path.
func OpenBoltDirectory(path string) (*BoltDirectory, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, tskverr.New(tskverr.Meta, "meta.OpenBoltDirectory", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketReplicationSets, bucketTables, bucketNodes} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, tskverr.New(tskverr.Meta, "meta.OpenBoltDirectory", err)
	}

	return &BoltDirectory{db: db}, nil
}

func replicaKey(id models.ReplicaID) []byte {
	return []byte(fmt.Sprintf("%d", id))
}

func tableKey(tenant, database, table string) []byte {
	return []byte(tenant + "/" + database + "/" + table)
}

func nodeKey(id models.NodeID) []byte {
	return []byte(fmt.Sprintf("%d", id))
}

func (d *BoltDirectory) ReplicationSet(id models.ReplicaID) (ReplicationSet, bool, error) {
	var rs ReplicationSet
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReplicationSets).Get(replicaKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rs)
	})
	if err != nil {
		return ReplicationSet{}, false, tskverr.New(tskverr.Meta, "meta.BoltDirectory.ReplicationSet", err)
	}
	return rs, found, nil
}

func (d *BoltDirectory) PutReplicationSet(rs ReplicationSet) error {
	data, err := json.Marshal(rs)
	if err != nil {
		return tskverr.New(tskverr.Internal, "meta.BoltDirectory.PutReplicationSet", err)
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReplicationSets).Put(replicaKey(rs.ID), data)
	})
	if err != nil {
		return tskverr.New(tskverr.Meta, "meta.BoltDirectory.PutReplicationSet", err)
	}
	return nil
}

func (d *BoltDirectory) SetLeader(id models.ReplicaID, nodeID models.NodeID, vnodeID models.VnodeID) error {
	rs, ok, err := d.ReplicationSet(id)
	if err != nil {
		return err
	}
	if !ok {
		return tskverr.New(tskverr.Meta, "meta.BoltDirectory.SetLeader", fmt.Errorf("replication set %d not found", id))
	}
	rs.LeaderNodeID = nodeID
	rs.LeaderVnodeID = vnodeID
	return d.PutReplicationSet(rs)
}

func (d *BoltDirectory) Table(tenant, database, table string) (Table, bool, error) {
	var t Table
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTables).Get(tableKey(tenant, database, table))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return Table{}, false, tskverr.New(tskverr.Meta, "meta.BoltDirectory.Table", err)
	}
	return t, found, nil
}

func (d *BoltDirectory) PutTable(t Table) error {
	data, err := json.Marshal(t)
	if err != nil {
		return tskverr.New(tskverr.Internal, "meta.BoltDirectory.PutTable", err)
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTables).Put(tableKey(t.Tenant, t.Database, t.Name), data)
	})
	if err != nil {
		return tskverr.New(tskverr.Meta, "meta.BoltDirectory.PutTable", err)
	}
	return nil
}

// TableReplicationSets resolves a table's shard-owning replica groups,
// the meta lookup spec §4.11's table_scan/tag_scan path starts from.
func (d *BoltDirectory) TableReplicationSets(tenant, database, table string) ([]ReplicationSet, error) {
	t, ok, err := d.Table(tenant, database, table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tskverr.New(tskverr.Meta, "meta.BoltDirectory.TableReplicationSets",
			fmt.Errorf("table %s/%s/%s not found", tenant, database, table))
	}
	sets := make([]ReplicationSet, 0, len(t.Replication))
	for _, id := range t.Replication {
		rs, ok, err := d.ReplicationSet(id)
		if err != nil {
			return nil, err
		}
		if ok {
			sets = append(sets, rs)
		}
	}
	return sets, nil
}

func (d *BoltDirectory) Node(id models.NodeID) (Node, bool, error) {
	var n Node
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get(nodeKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &n)
	})
	if err != nil {
		return Node{}, false, tskverr.New(tskverr.Meta, "meta.BoltDirectory.Node", err)
	}
	return n, found, nil
}

func (d *BoltDirectory) PutNode(n Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return tskverr.New(tskverr.Internal, "meta.BoltDirectory.PutNode", err)
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Put(nodeKey(n.ID), data)
	})
	if err != nil {
		return tskverr.New(tskverr.Meta, "meta.BoltDirectory.PutNode", err)
	}
	return nil
}

func (d *BoltDirectory) Close() error {
	return d.db.Close()
}

var _ Directory = (*BoltDirectory)(nil)
