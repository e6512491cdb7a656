package coordinator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/index"
	"github.com/tskvio/tskv/pkg/meta"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/vnode"
)

func TestTagScanReturnsMatchingSeriesFromLocalReplica(t *testing.T) {
	mgr, g, _ := newLocalGroup(t, 1, 1, 1)
	defer mgr.Shutdown()

	require.NoError(t, g.Apply(vnode.Command{
		Kind: vnode.WritePoints,
		Points: []models.Point{
			point("a", 1.0, 10),
			point("b", 2.0, 20),
		},
	}, time.Second))

	dir, err := meta.OpenBoltDirectory(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer dir.Close()
	require.NoError(t, dir.PutReplicationSet(meta.ReplicationSet{ID: 1}))
	require.NoError(t, dir.PutTable(meta.Table{
		Tenant: "t1", Database: "db1", Name: "cpu",
		Replication: []models.ReplicaID{1},
	}))

	r := NewReader(dir, mgr)
	results, err := r.TagScan("t1", "db1", "cpu", "usage", []index.Domain{
		{Key: "host", Values: []string{"a"}},
	}, models.TimeRange{Min: 0, Max: 100})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Samples, 1)
	require.Equal(t, 1.0, results[0].Samples[0].Value)
}

func TestTableScanReturnsEverySeries(t *testing.T) {
	mgr, g, _ := newLocalGroup(t, 1, 1, 1)
	defer mgr.Shutdown()

	require.NoError(t, g.Apply(vnode.Command{
		Kind: vnode.WritePoints,
		Points: []models.Point{
			point("a", 1.0, 10),
			point("b", 2.0, 20),
		},
	}, time.Second))

	dir, err := meta.OpenBoltDirectory(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer dir.Close()
	require.NoError(t, dir.PutReplicationSet(meta.ReplicationSet{ID: 1}))
	require.NoError(t, dir.PutTable(meta.Table{
		Tenant: "t1", Database: "db1", Name: "cpu",
		Replication: []models.ReplicaID{1},
	}))

	r := NewReader(dir, mgr)
	results, err := r.TableScan("t1", "db1", "cpu", "usage", models.TimeRange{Min: 0, Max: 100})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestTagScanReturnsErrReplicaNotLocal(t *testing.T) {
	mgr := replicationManagerWithNoGroups(t)
	dir, err := meta.OpenBoltDirectory(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer dir.Close()
	require.NoError(t, dir.PutReplicationSet(meta.ReplicationSet{ID: 9}))
	require.NoError(t, dir.PutTable(meta.Table{
		Tenant: "t1", Database: "db1", Name: "cpu",
		Replication: []models.ReplicaID{9},
	}))

	r := NewReader(dir, mgr)
	_, err = r.TableScan("t1", "db1", "cpu", "usage", models.TimeRange{Min: 0, Max: 100})
	require.Error(t, err)
	var notLocal *ErrReplicaNotLocal
	require.ErrorAs(t, err, &notLocal)
}
