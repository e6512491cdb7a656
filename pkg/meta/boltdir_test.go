package meta

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/models"
)

func newTestDirectory(t *testing.T) *BoltDirectory {
	t.Helper()
	d, err := OpenBoltDirectory(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestPutAndGetReplicationSet(t *testing.T) {
	d := newTestDirectory(t)

	rs := ReplicationSet{
		ID:            1,
		LeaderNodeID:  1,
		LeaderVnodeID: 1,
		Vnodes:        []VnodeRef{{ID: 1, NodeID: 1}, {ID: 2, NodeID: 2}},
	}
	require.NoError(t, d.PutReplicationSet(rs))

	got, ok, err := d.ReplicationSet(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rs, got)

	_, ok, err = d.ReplicationSet(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetLeaderUpdatesExistingReplicationSet(t *testing.T) {
	d := newTestDirectory(t)
	require.NoError(t, d.PutReplicationSet(ReplicationSet{ID: 1, LeaderNodeID: 1, LeaderVnodeID: 1}))

	require.NoError(t, d.SetLeader(1, 2, 5))

	got, ok, err := d.ReplicationSet(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.NodeID(2), got.LeaderNodeID)
	require.Equal(t, models.VnodeID(5), got.LeaderVnodeID)
}

func TestSetLeaderOnMissingReplicationSetErrors(t *testing.T) {
	d := newTestDirectory(t)
	err := d.SetLeader(42, 1, 1)
	require.Error(t, err)
}

func TestTableReplicationSetsResolvesShardOwners(t *testing.T) {
	d := newTestDirectory(t)

	require.NoError(t, d.PutReplicationSet(ReplicationSet{ID: 1}))
	require.NoError(t, d.PutReplicationSet(ReplicationSet{ID: 2}))
	require.NoError(t, d.PutTable(Table{
		Tenant: "t1", Database: "db1", Name: "cpu",
		Replication: []models.ReplicaID{1, 2},
	}))

	sets, err := d.TableReplicationSets("t1", "db1", "cpu")
	require.NoError(t, err)
	require.Len(t, sets, 2)
}

func TestTableReplicationSetsMissingTableErrors(t *testing.T) {
	d := newTestDirectory(t)
	_, err := d.TableReplicationSets("t1", "db1", "missing")
	require.Error(t, err)
}

func TestPutAndGetNode(t *testing.T) {
	d := newTestDirectory(t)
	n := Node{ID: 1, Addr: "127.0.0.1:9100", TSMAddr: "127.0.0.1:9200"}
	require.NoError(t, d.PutNode(n))

	got, ok, err := d.Node(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, n, got)
}
