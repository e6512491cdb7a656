// Package api implements TSKV's node-to-node gRPC surface: the four
// RPCs §6 names (ExecRaftWriteCommand, OpenRaftNode,
// GetVnodeSnapFilesMeta, DownloadFile), secured with certificate-based
// mTLS.
package api

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/tskvio/tskv/pkg/log"
	"github.com/tskvio/tskv/pkg/meta"
	"github.com/tskvio/tskv/pkg/metrics"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/replication"
	"github.com/tskvio/tskv/proto"

	_ "github.com/tskvio/tskv/pkg/rpcwire" // registers the json gRPC codec
)

// remoteApplyTimeout bounds how long a forwarded write blocks on the
// local Raft group before giving up.
const remoteApplyTimeout = 5 * time.Second

// TLSFiles names a certificate/key pair and, optionally, a CA
// certificate to verify peers against. An empty Cert means plaintext.
type TLSFiles struct {
	Cert   string
	Key    string
	CACert string // empty disables client-certificate verification
}

// Server implements proto.TSKVServer: the per-node RPC surface that
// lets the coordinator forward writes to a replica's leader, lets a
// joining node confirm a Raft group is open, and lets a follower pull
// a snapshot from whichever node took it.
type Server struct {
	nodeID models.NodeID
	dir    meta.Directory
	local  *replication.Manager
	grpc   *grpc.Server
}

// NewServer builds a Server bound to this node's replication groups
// and meta directory, secured per tlsFiles.
func NewServer(nodeID models.NodeID, dir meta.Directory, local *replication.Manager, tlsFiles TLSFiles) (*Server, error) {
	var opts []grpc.ServerOption
	if tlsFiles.Cert != "" {
		creds, err := serverCredentials(tlsFiles)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	}
	opts = append(opts, grpc.UnaryInterceptor(LoggingInterceptor()))

	s := &Server{nodeID: nodeID, dir: dir, local: local, grpc: grpc.NewServer(opts...)}
	proto.RegisterTSKVServer(s.grpc, s)
	return s, nil
}

func serverCredentials(files TLSFiles) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(files.Cert, files.Key)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	if files.CACert != "" {
		caPEM, err := os.ReadFile(files.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return credentials.NewTLS(cfg), nil
}

// Serve starts accepting connections on addr; it blocks until Stop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info(fmt.Sprintf("tskv node RPC listening on %s", addr))
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs, then shuts the server down.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// ExecRaftWriteCommand is the coordinator.RemoteWriter side of a write
// routed to this node because it (believes it) hosts the replica's
// Raft leader.
func (s *Server) ExecRaftWriteCommand(ctx context.Context, req *proto.RaftWriteCommandRequest) (*proto.StatusResponse, error) {
	group, ok := s.local.Group(models.ReplicaID(req.ReplicaID))
	if !ok {
		return nil, status.Errorf(codes.FailedPrecondition, "replica %d not hosted on this node", req.ReplicaID)
	}

	cmd, err := replication.DecodeCommand(req.Command)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode command: %v", err)
	}

	if err := group.Apply(cmd, remoteApplyTimeout); err != nil {
		if notLeader, ok := err.(*replication.NotLeaderError); ok {
			return nil, status.Error(codes.FailedPrecondition, notLeader.Error())
		}
		return nil, status.Errorf(codes.Internal, "apply: %v", err)
	}
	return &proto.StatusResponse{Code: int32(codes.OK)}, nil
}

// OpenRaftNode confirms this node already hosts (or refuses to host
// over RPC) the Raft group for one vnode replica. Actually opening a
// fresh group needs the node's local vnode store and bind address,
// neither of which an RPC caller can supply safely — that path runs
// through the node's own `tskv server` command instead (cmd/tskv).
func (s *Server) OpenRaftNode(ctx context.Context, req *proto.OpenRaftNodeRequest) (*proto.StatusResponse, error) {
	if _, ok := s.local.Group(models.ReplicaID(req.ReplicaID)); ok {
		return &proto.StatusResponse{Code: int32(codes.OK), Message: "already open"}, nil
	}
	return nil, status.Errorf(codes.FailedPrecondition,
		"vnode %d for replica %d is not open on this node", req.VnodeID, req.ReplicaID)
}

// GetVnodeSnapFilesMeta returns the file manifest for a snapshot this
// node takes of one of its locally hosted vnodes, the first step of
// spec §4.10's snapshot-install protocol.
func (s *Server) GetVnodeSnapFilesMeta(ctx context.Context, req *proto.GetVnodeSnapFilesMetaRequest) (*proto.GetFilesMetaResponse, error) {
	group := s.local.GroupByVnode(models.VnodeID(req.VnodeID))
	if group == nil {
		return nil, status.Errorf(codes.NotFound, "vnode %d not hosted on this node", req.VnodeID)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SnapshotInstallDuration)

	snap, err := group.Store.CreateSnapshot(req.SnapshotID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "create snapshot: %v", err)
	}

	infos := make([]proto.FileInfo, len(snap.Files))
	for i, f := range snap.Files {
		infos[i] = proto.FileInfo{Name: filepath.Base(f.Path), MD5: f.MD5, Size: f.Size}
	}
	dir := ""
	if len(snap.Files) > 0 {
		dir = filepath.Dir(snap.Files[0].Path)
	}
	return &proto.GetFilesMetaResponse{Path: dir, Infos: infos}, nil
}

// DownloadFile streams one snapshot file's bytes to the caller in
// fixed-size chunks, the second step of §4.10's install protocol. The
// final chunk carries the server-computed MD5 in Message so the
// caller can compare it against the manifest entry it already fetched
// via GetVnodeSnapFilesMeta and fail the transfer locally on mismatch
// ("md5 not match").
func (s *Server) DownloadFile(req *proto.DownloadFileRequest, stream proto.TSKV_DownloadFileServer) error {
	path := filepath.Join(req.Path, req.Filename)
	f, err := os.Open(path)
	if err != nil {
		return stream.Send(&proto.FileChunk{Code: int32(codes.NotFound), Message: err.Error()})
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, 256*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			chunk := append([]byte(nil), buf[:n]...)
			if err := stream.Send(&proto.FileChunk{Data: chunk}); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return stream.Send(&proto.FileChunk{Code: int32(codes.Internal), Message: rerr.Error()})
		}
	}
	return stream.Send(&proto.FileChunk{Code: int32(codes.OK), Message: hex.EncodeToString(h.Sum(nil))})
}

// InsecureDialOptions returns gRPC dial options for a plaintext
// connection, used when no TLSFiles are configured (development or
// trusted-network deployments per §9).
func InsecureDialOptions() []grpc.DialOption {
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}
