// Package coordinator routes client writes to the right replica
// leader and retries across followers on failover, per spec §4.11.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tskvio/tskv/pkg/log"
	"github.com/tskvio/tskv/pkg/meta"
	"github.com/tskvio/tskv/pkg/metrics"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/replication"
	"github.com/tskvio/tskv/pkg/vnode"
)

// RaftWriteCommand is the envelope §4's data-flow diagram names:
// RaftWriteCommand{tenant, db, replica_id, command}.
type RaftWriteCommand struct {
	Tenant    string
	Database  string
	ReplicaID models.ReplicaID
	Command   vnode.Command
}

// RemoteWriter sends a write to another node's vnode over the wire
// (pkg/api's ExecRaftWriteCommand RPC, §6). Its implementation lives
// in pkg/client so pkg/coordinator never imports the gRPC stack
// directly; this interface is the whole contract write_to_remote
// needs.
type RemoteWriter interface {
	ExecRaftWriteCommand(ctx context.Context, nodeID models.NodeID, cmd RaftWriteCommand, timeout time.Duration) error
}

// Writer implements spec §4.11's write_to_replica / write_to_remote /
// process_leader_change trio, grounded on
// original_source/coordinator/src/raft/writer.rs's RaftWriter.
type Writer struct {
	nodeID       models.NodeID
	dir          meta.Directory
	local        *replication.Manager
	remote       RemoteWriter
	writeTimeout time.Duration
}

// NewWriter builds a Writer. writeTimeout should come from
// config.Config.WriteTimeout() (default 3s per spec §4.11).
func NewWriter(nodeID models.NodeID, dir meta.Directory, local *replication.Manager, remote RemoteWriter, writeTimeout time.Duration) *Writer {
	return &Writer{nodeID: nodeID, dir: dir, local: local, remote: remote, writeTimeout: writeTimeout}
}

// WriteToReplica is write_to_replica: if this node leads the replica
// group and hosts the Raft group locally, apply directly; otherwise
// forward to the leader over the wire, failing over to the replica's
// other vnodes when the leader is unreachable.
func (w *Writer) WriteToReplica(ctx context.Context, replica meta.ReplicationSet, cmd vnode.Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CoordinatorWriteDuration)

	req := RaftWriteCommand{ReplicaID: replica.ID, Command: cmd}

	if replica.LeaderNodeID == w.nodeID {
		if group, ok := w.local.Group(replica.ID); ok {
			result := w.writeToLocalOrForward(ctx, replica, group, req)
			metrics.CoordinatorWritesTotal.WithLabelValues(outcomeLabel(result)).Inc()
			return result
		}
	}

	result := w.writeToRemote(ctx, replica.LeaderNodeID, req)
	if isFailoverNode(result) {
		metrics.CoordinatorFailoversTotal.Inc()
		for _, vn := range replica.Vnodes {
			if vn.NodeID == replica.LeaderNodeID {
				continue
			}
			result = w.writeToRemote(ctx, vn.NodeID, req)
			log.WithReplica(uint32(replica.ID)).Debug(
				fmt.Sprintf("failover write to node %d: %v", vn.NodeID, result))
			if result == nil {
				break
			}
			if isFailoverNode(result) {
				continue
			}
			break
		}
	}
	metrics.CoordinatorWritesTotal.WithLabelValues(outcomeLabel(result)).Inc()
	return result
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}

func (w *Writer) writeToLocalOrForward(ctx context.Context, replica meta.ReplicationSet, group *replication.Group, req RaftWriteCommand) error {
	err := group.Apply(req.Command, w.writeTimeout)
	var notLeader *replication.NotLeaderError
	if !errors.As(err, &notLeader) || !notLeader.Known {
		return err
	}

	fwd := &ForwardToLeaderError{LeaderVnodeID: notLeader.LeaderVnodeID}
	for _, vn := range replica.Vnodes {
		if vn.ID == models.VnodeID(notLeader.LeaderVnodeID) {
			fwd.LeaderNodeID = uint64(vn.NodeID)
			break
		}
	}
	return w.processLeaderChange(ctx, replica, fwd, req)
}

// processLeaderChange asks the meta directory to record the new
// leader hint, then retries the write against it once (§4.11: "ask
// meta to switch leader ...; retry once against its node").
func (w *Writer) processLeaderChange(ctx context.Context, replica meta.ReplicationSet, fwd *ForwardToLeaderError, req RaftWriteCommand) error {
	metrics.CoordinatorForwardsTotal.Inc()
	leaderNodeID := models.NodeID(fwd.LeaderNodeID)
	if err := w.dir.SetLeader(replica.ID, leaderNodeID, models.VnodeID(fwd.LeaderVnodeID)); err != nil {
		log.Error(fmt.Sprintf("failed to record new leader for replica %d: %v", replica.ID, err))
	}
	log.WithReplica(uint32(replica.ID)).Info(
		fmt.Sprintf("leader changed to vnode %d on node %d", fwd.LeaderVnodeID, fwd.LeaderNodeID))
	return w.writeToRemote(ctx, leaderNodeID, req)
}

func (w *Writer) writeToRemote(ctx context.Context, nodeID models.NodeID, req RaftWriteCommand) error {
	begin := time.Now()
	err := w.remote.ExecRaftWriteCommand(ctx, nodeID, req, w.writeTimeout)
	elapsed := time.Since(begin)
	if elapsed > 200*time.Millisecond {
		log.Debug(fmt.Sprintf("write to node %d took %s, exceeding slow-write threshold", nodeID, elapsed))
	}
	return err
}
