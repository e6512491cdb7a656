package api

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tskvio/tskv/pkg/meta"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/replication"
	"github.com/tskvio/tskv/pkg/vnode"
	"github.com/tskvio/tskv/proto"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newTestGroup(t *testing.T) (*replication.Manager, *replication.Group) {
	t.Helper()
	store, err := vnode.Open(vnode.Options{
		Tenant: "t1", Database: "db1", VnodeID: 1, NodeID: 1,
		Dir: filepath.Join(t.TempDir(), "vnode-1"), MaxBufferSize: 1 << 20,
		CompactTrigger: 4, MaxCompactSize: 1 << 30,
	})
	require.NoError(t, err)

	mgr := replication.NewManager(models.NodeID(1), t.TempDir(), replication.DefaultGroupConfig())
	group, err := mgr.OpenGroup(models.ReplicaID(1), models.VnodeID(1), store, freeAddr(t), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return group.IsLeader() }, 5*time.Second, 50*time.Millisecond)
	return mgr, group
}

func startTestServer(t *testing.T, mgr *replication.Manager) (proto.TSKVClient, func()) {
	t.Helper()
	dir, err := meta.OpenBoltDirectory(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)

	srv, err := NewServer(models.NodeID(1), dir, mgr, TLSFiles{})
	require.NoError(t, err)

	addr := freeAddr(t)
	go srv.Serve(addr)

	var conn *grpc.ClientConn
	require.Eventually(t, func() bool {
		conn, err = grpc.NewClient(addr, InsecureDialOptions()...)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	client := proto.NewTSKVClient(conn)
	cleanup := func() {
		conn.Close()
		srv.Stop()
		dir.Close()
	}
	return client, cleanup
}

func TestServerExecRaftWriteCommandAppliesLocally(t *testing.T) {
	mgr, group := newTestGroup(t)
	defer group.Shutdown()
	client, cleanup := startTestServer(t, mgr)
	defer cleanup()

	cmd := vnode.Command{
		Kind: vnode.WritePoints, Tenant: "t1", Database: "db1", Table: "cpu",
		Points: []models.Point{{
			Tenant: "t1", Database: "db1", Table: "cpu",
			Tags:   []models.Tag{{Key: []byte("host"), Value: []byte("a")}},
			Fields: []models.Field{{Name: "usage", Value: float64(1)}},
			Time:   models.Timestamp(1),
		}},
	}
	payload, err := replication.EncodeCommand(cmd)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.ExecRaftWriteCommand(ctx, &proto.RaftWriteCommandRequest{
		ReplicaID: 1, Command: payload,
	})
	require.NoError(t, err)
	require.Equal(t, int32(0), resp.Code)
}

func TestServerExecRaftWriteCommandUnknownReplica(t *testing.T) {
	mgr, group := newTestGroup(t)
	defer group.Shutdown()
	client, cleanup := startTestServer(t, mgr)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.ExecRaftWriteCommand(ctx, &proto.RaftWriteCommandRequest{ReplicaID: 99, Command: []byte("{}")})
	require.Error(t, err)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestServerOpenRaftNodeReportsAlreadyOpen(t *testing.T) {
	mgr, group := newTestGroup(t)
	defer group.Shutdown()
	client, cleanup := startTestServer(t, mgr)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.OpenRaftNode(ctx, &proto.OpenRaftNodeRequest{VnodeID: 1, ReplicaID: 1})
	require.NoError(t, err)
	require.Equal(t, "already open", resp.Message)
}

func TestServerGetVnodeSnapFilesMetaAndDownloadFile(t *testing.T) {
	mgr, group := newTestGroup(t)
	defer group.Shutdown()
	client, cleanup := startTestServer(t, mgr)
	defer cleanup()

	cmd := vnode.Command{
		Kind: vnode.WritePoints, Tenant: "t1", Database: "db1", Table: "cpu",
		Points: []models.Point{{
			Tenant: "t1", Database: "db1", Table: "cpu",
			Tags:   []models.Tag{{Key: []byte("host"), Value: []byte("a")}},
			Fields: []models.Field{{Name: "usage", Value: float64(1)}},
			Time:   models.Timestamp(1),
		}},
	}
	require.NoError(t, group.Apply(cmd, 5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manifest, err := client.GetVnodeSnapFilesMeta(ctx, &proto.GetVnodeSnapFilesMetaRequest{VnodeID: 1, SnapshotID: 1})
	require.NoError(t, err)
	if len(manifest.Infos) == 0 {
		t.Skip("snapshot produced no TSM files yet (write still in memcache)")
	}

	stream, err := client.DownloadFile(ctx, &proto.DownloadFileRequest{Path: manifest.Path, Filename: manifest.Infos[0].Name})
	require.NoError(t, err)

	var gotData bool
	for {
		chunk, err := stream.Recv()
		if err != nil {
			break
		}
		if len(chunk.Data) > 0 {
			gotData = true
		}
	}
	require.True(t, gotData)
}

func TestServerDownloadFileMissingReturnsNotFound(t *testing.T) {
	mgr, group := newTestGroup(t)
	defer group.Shutdown()
	client, cleanup := startTestServer(t, mgr)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.DownloadFile(ctx, &proto.DownloadFileRequest{Path: t.TempDir(), Filename: "nonexistent.tsm"})
	require.NoError(t, err)

	chunk, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, int32(codes.NotFound), chunk.Code)
}
