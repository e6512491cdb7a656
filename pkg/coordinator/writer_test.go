package coordinator

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/meta"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/replication"
	"github.com/tskvio/tskv/pkg/vnode"
)

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newLocalGroup(t *testing.T, nodeID models.NodeID, replicaID models.ReplicaID, vnodeID models.VnodeID) (*replication.Manager, *replication.Group, *vnode.Store) {
	t.Helper()
	store, err := vnode.Open(vnode.Options{
		Tenant: "t1", Database: "db1", VnodeID: vnodeID, NodeID: nodeID,
		Dir: filepath.Join(t.TempDir(), "vnode"), MaxBufferSize: 1 << 20,
		CompactTrigger: 4, MaxCompactSize: 1 << 30,
	})
	require.NoError(t, err)

	mgr := replication.NewManager(nodeID, t.TempDir(), replication.DefaultGroupConfig())
	g, err := mgr.OpenGroup(replicaID, vnodeID, store, freeTCPAddr(t), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return g.IsLeader() }, 5*time.Second, 50*time.Millisecond)
	return mgr, g, store
}

func replicationManagerWithNoGroups(t *testing.T) *replication.Manager {
	t.Helper()
	return replication.NewManager(1, t.TempDir(), replication.DefaultGroupConfig())
}

func point(val string, fval float64, ts models.Timestamp) models.Point {
	return models.Point{
		Tenant: "t1", Database: "db1", Table: "cpu",
		Tags:   []models.Tag{{Key: []byte("host"), Value: []byte(val)}},
		Fields: []models.Field{{Name: "usage", Type: models.Float, Value: fval}},
		Time:   ts,
	}
}

func TestWriteToReplicaAppliesLocally(t *testing.T) {
	mgr, _, store := newLocalGroup(t, 1, 1, 1)
	defer mgr.Shutdown()

	dir, err := meta.OpenBoltDirectory(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer dir.Close()

	w := NewWriter(1, dir, mgr, nil, 2*time.Second)
	replica := meta.ReplicationSet{ID: 1, LeaderNodeID: 1, Vnodes: []meta.VnodeRef{{ID: 1, NodeID: 1}}}

	err = w.WriteToReplica(context.Background(), replica, vnode.Command{
		Kind:   vnode.WritePoints,
		Points: []models.Point{point("a", 1.0, 10)},
	})
	require.NoError(t, err)
	require.Greater(t, store.LastSeq(), uint64(0))
}

type fakeRemoteWriter struct {
	calls []models.NodeID
	errFn func(nodeID models.NodeID) error
}

func (f *fakeRemoteWriter) ExecRaftWriteCommand(ctx context.Context, nodeID models.NodeID, cmd RaftWriteCommand, timeout time.Duration) error {
	f.calls = append(f.calls, nodeID)
	if f.errFn != nil {
		return f.errFn(nodeID)
	}
	return nil
}

func TestWriteToReplicaFailsOverToNextVnodeOnFailoverNode(t *testing.T) {
	mgr := replication.NewManager(1, t.TempDir(), replication.DefaultGroupConfig())
	dir, err := meta.OpenBoltDirectory(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer dir.Close()

	remote := &fakeRemoteWriter{errFn: func(nodeID models.NodeID) error {
		if nodeID == 2 {
			return &FailoverNodeError{NodeID: 2}
		}
		return nil
	}}

	w := NewWriter(1, dir, mgr, remote, time.Second)
	replica := meta.ReplicationSet{
		ID: 1, LeaderNodeID: 2,
		Vnodes: []meta.VnodeRef{{ID: 2, NodeID: 2}, {ID: 3, NodeID: 3}},
	}

	err = w.WriteToReplica(context.Background(), replica, vnode.Command{Kind: vnode.WritePoints})
	require.NoError(t, err)
	require.Equal(t, []models.NodeID{2, 3}, remote.calls)
}

func TestWriteToReplicaReturnsNonFailoverErrorImmediately(t *testing.T) {
	mgr := replication.NewManager(1, t.TempDir(), replication.DefaultGroupConfig())
	dir, err := meta.OpenBoltDirectory(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer dir.Close()

	remote := &fakeRemoteWriter{}
	calls := 0
	remote.errFn = func(nodeID models.NodeID) error {
		calls++
		if calls == 1 {
			return &FailoverNodeError{NodeID: nodeID}
		}
		return context.DeadlineExceeded
	}

	w := NewWriter(1, dir, mgr, remote, time.Second)
	replica := meta.ReplicationSet{
		ID: 1, LeaderNodeID: 2,
		Vnodes: []meta.VnodeRef{{ID: 2, NodeID: 2}, {ID: 3, NodeID: 3}},
	}

	err = w.WriteToReplica(context.Background(), replica, vnode.Command{Kind: vnode.WritePoints})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
