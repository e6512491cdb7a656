package replication

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/tskvio/tskv/pkg/metrics"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tskverr"
	"github.com/tskvio/tskv/pkg/vnode"
)

// GroupConfig carries the Raft tuning knobs named in §4.10: heartbeat
// and election timeouts, and the snapshot policy.
type GroupConfig struct {
	HeartbeatMS                int
	ElectionTimeoutMinMS       int
	ElectionTimeoutMaxMS       int
	SnapshotLogsSinceLast      uint64
	SendAppendEntriesTimeoutMS int
	InstallSnapshotTimeoutMS   int
}

// DefaultGroupConfig returns conservative LAN-deployment defaults.
func DefaultGroupConfig() GroupConfig {
	return GroupConfig{
		HeartbeatMS:                500,
		ElectionTimeoutMinMS:       500,
		ElectionTimeoutMaxMS:       1000,
		SnapshotLogsSinceLast:      8192,
		SendAppendEntriesTimeoutMS: 10000,
		InstallSnapshotTimeoutMS:   120000,
	}
}

// Group is one replica group's Raft instance, bound to the local vnode
// replica it replicates.
type Group struct {
	ReplicaID models.ReplicaID
	VnodeID   models.VnodeID
	Raft      *raft.Raft
	Store     *vnode.Store

	transport *raft.NetworkTransport
}

// IsLeader reports whether this node currently leads ReplicaID.
func (g *Group) IsLeader() bool {
	return g.Raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's transport address, if known.
func (g *Group) LeaderAddr() raft.ServerAddress {
	addr, _ := g.Raft.LeaderWithID()
	return addr
}

// Apply submits cmd to the group's Raft log and blocks until it is
// locally applied (i.e. committed at this node). When Raft reports that
// this node is not (or is no longer) leader, Apply returns a
// *NotLeaderError carrying the current leader hint, which the
// coordinator turns into ForwardToLeader (§4.10 step 2).
func (g *Group) Apply(cmd vnode.Command, timeout time.Duration) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	payload, err := EncodeCommand(cmd)
	if err != nil {
		return tskverr.New(tskverr.Internal, "replication.Group.Apply", err)
	}
	future := g.Raft.Apply(payload, timeout)
	if err := future.Error(); err != nil {
		if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost {
			return notLeaderErrorFor(g.Raft)
		}
		return tskverr.New(tskverr.Replication, "replication.Group.Apply", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return tskverr.New(tskverr.Replication, "replication.Group.Apply", err)
		}
	}
	return nil
}

// Shutdown gracefully stops the group's Raft instance.
func (g *Group) Shutdown() error {
	if err := g.Raft.Shutdown().Error(); err != nil {
		return tskverr.New(tskverr.Replication, "replication.Group.Shutdown", err)
	}
	return g.transport.Close()
}

// Manager owns every replica group this node participates in. Each
// group gets its own raft.Raft, raft-boltdb log/stable store, and
// file snapshot store under raft-state/<replica_id>/, one Raft
// instance per vnode replica group rather than one cluster-wide
// instance.
type Manager struct {
	nodeID models.NodeID
	dir    string
	cfg    GroupConfig

	mu     sync.RWMutex
	groups map[models.ReplicaID]*Group
}

// NewManager creates a Manager rooted at dir (raft-state lives under
// dir/raft-state/<replica_id>/).
func NewManager(nodeID models.NodeID, dir string, cfg GroupConfig) *Manager {
	return &Manager{nodeID: nodeID, dir: dir, cfg: cfg, groups: make(map[models.ReplicaID]*Group)}
}

// OpenGroup creates or reopens the Raft instance for replicaID, bound
// to the given local vnode store, bootstrapping a single-node cluster
// if peers is empty (this node is the first member) or bootstrapping
// with peers as the initial configuration otherwise; a group that
// already has Raft state is reopened as is. The Raft ServerID is the vnode id
// rather than the node id: a ReplicationSet's voters are vnodes, and
// spec §4.10's ForwardToLeader carries leader_vnode_id, so resolving
// "who is leader" has to answer in vnode terms, not node terms.
func (m *Manager) OpenGroup(replicaID models.ReplicaID, vnodeID models.VnodeID, store *vnode.Store, bindAddr string, peers []raft.Server) (*Group, error) {
	groupDir := filepath.Join(m.dir, "raft-state", fmt.Sprintf("%d", replicaID))
	if err := os.MkdirAll(groupDir, 0o755); err != nil {
		return nil, tskverr.New(tskverr.IO, "replication.Manager.OpenGroup", err)
	}

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(fmt.Sprintf("%d", vnodeID))
	config.HeartbeatTimeout = time.Duration(m.cfg.HeartbeatMS) * time.Millisecond
	config.ElectionTimeout = time.Duration(m.cfg.ElectionTimeoutMaxMS) * time.Millisecond
	config.SnapshotThreshold = m.cfg.SnapshotLogsSinceLast

	addr, err := net.ResolveTCPAddr("tcp", bindAddr)
	if err != nil {
		return nil, tskverr.New(tskverr.IO, "replication.Manager.OpenGroup", err)
	}
	transport, err := raft.NewTCPTransport(bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, tskverr.New(tskverr.IO, "replication.Manager.OpenGroup", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(groupDir, 2, os.Stderr)
	if err != nil {
		return nil, tskverr.New(tskverr.IO, "replication.Manager.OpenGroup", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(groupDir, "raft-log.db"))
	if err != nil {
		return nil, tskverr.New(tskverr.IO, "replication.Manager.OpenGroup", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(groupDir, "raft-stable.db"))
	if err != nil {
		return nil, tskverr.New(tskverr.IO, "replication.Manager.OpenGroup", err)
	}

	f := &fsm{store: store}
	r, err := raft.NewRaft(config, f, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, tskverr.New(tskverr.Replication, "replication.Manager.OpenGroup", err)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		return nil, tskverr.New(tskverr.Replication, "replication.Manager.OpenGroup", err)
	}
	if !hasState && len(peers) == 0 {
		bootstrapCfg := raft.Configuration{Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}}}
		if err := r.BootstrapCluster(bootstrapCfg).Error(); err != nil {
			return nil, tskverr.New(tskverr.Replication, "replication.Manager.OpenGroup", err)
		}
	} else if !hasState && len(peers) > 0 {
		bootstrapCfg := raft.Configuration{Servers: peers}
		if err := r.BootstrapCluster(bootstrapCfg).Error(); err != nil {
			return nil, tskverr.New(tskverr.Replication, "replication.Manager.OpenGroup", err)
		}
	}

	g := &Group{ReplicaID: replicaID, VnodeID: vnodeID, Raft: r, Store: store, transport: transport}

	m.mu.Lock()
	m.groups[replicaID] = g
	m.mu.Unlock()

	return g, nil
}

// Group returns the group for replicaID, if this node hosts it.
func (m *Manager) Group(replicaID models.ReplicaID) (*Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[replicaID]
	return g, ok
}

// GroupByVnode returns the group hosting vnodeID, if any. Used by the
// RPC surface (pkg/api), which learns a vnode ID from a snapshot
// request rather than the replica ID that keys Manager's own map.
func (m *Manager) GroupByVnode(vnodeID models.VnodeID) *Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.groups {
		if g.VnodeID == vnodeID {
			return g
		}
	}
	return nil
}

// ReportLeaderMetrics refreshes the RaftIsLeader/RaftAppliedIndex gauges
// for every hosted group; callers run this on a ticker.
func (m *Manager) ReportLeaderMetrics() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, g := range m.groups {
		label := fmt.Sprintf("%d", id)
		isLeader := 0.0
		if g.IsLeader() {
			isLeader = 1.0
		}
		metrics.RaftIsLeader.WithLabelValues(label).Set(isLeader)
		metrics.RaftAppliedIndex.WithLabelValues(label).Set(float64(g.Raft.AppliedIndex()))
	}
}

// Shutdown stops every hosted group.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if err := g.Shutdown(); err != nil {
			return err
		}
	}
	return nil
}
