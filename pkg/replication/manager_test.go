package replication

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/models"
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

func newTestVnodeStore(t *testing.T) *vnode.Store {
	t.Helper()
	s, err := vnode.Open(vnode.Options{
		Tenant:         "t1",
		Database:       "db1",
		VnodeID:        1,
		NodeID:         1,
		Dir:            filepath.Join(t.TempDir(), "vnode-1"),
		MaxBufferSize:  1 << 20,
		CompactTrigger: 4,
		MaxCompactSize: 1 << 30,
	})
	require.NoError(t, err)
	return s
}

func TestOpenGroupBootstrapsSingleNodeAndBecomesLeader(t *testing.T) {
	store := newTestVnodeStore(t)
	mgr := NewManager(models.NodeID(1), t.TempDir(), DefaultGroupConfig())

	g, err := mgr.OpenGroup(models.ReplicaID(1), models.VnodeID(1), store, freeTCPAddr(t), nil)
	require.NoError(t, err)
	defer g.Shutdown()

	require.Eventually(t, func() bool {
		return g.IsLeader()
	}, 5*time.Second, 50*time.Millisecond)

	found, ok := mgr.Group(models.ReplicaID(1))
	require.True(t, ok)
	require.Same(t, g, found)
}

func TestGroupApplyCommitsWritePoints(t *testing.T) {
	store := newTestVnodeStore(t)
	mgr := NewManager(models.NodeID(1), t.TempDir(), DefaultGroupConfig())

	g, err := mgr.OpenGroup(models.ReplicaID(1), models.VnodeID(1), store, freeTCPAddr(t), nil)
	require.NoError(t, err)
	defer g.Shutdown()

	require.Eventually(t, func() bool {
		return g.IsLeader()
	}, 5*time.Second, 50*time.Millisecond)

	cmd := vnode.Command{
		Kind: vnode.WritePoints,
		Points: []models.Point{{
			Tenant:   "t1",
			Database: "db1",
			Table:    "cpu",
			Tags:     []models.Tag{{Key: []byte("host"), Value: []byte("a")}},
			Fields:   []models.Field{{Name: "usage", Type: models.Float, Value: 1.0}},
			Time:     10,
		}},
	}
	require.NoError(t, g.Apply(cmd, 5*time.Second))
	require.Greater(t, store.LastSeq(), uint64(0))
}

func TestEncodeDecodeCommandRoundTrips(t *testing.T) {
	cmd := vnode.Command{
		Kind: vnode.WritePoints,
		Points: []models.Point{{
			Tenant: "t1", Database: "db1", Table: "cpu",
			Tags:   []models.Tag{{Key: []byte("host"), Value: []byte("a")}},
			Fields: []models.Field{{Name: "usage", Type: models.Float, Value: 2.5}},
			Time:   20,
		}},
	}
	data, err := EncodeCommand(cmd)
	require.NoError(t, err)

	decoded, err := DecodeCommand(data)
	require.NoError(t, err)
	require.Equal(t, cmd.Kind, decoded.Kind)
	require.Len(t, decoded.Points, 1)
	require.Equal(t, cmd.Points[0].Table, decoded.Points[0].Table)
}
