package replication

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/raft"
)

// NotLeaderError is returned by Group.Apply when this node's vnode is
// not the replica group's current Raft leader. It carries whatever
// leader hint raft.Raft knows about so the coordinator can translate
// it into spec §4.10's ForwardToLeader{leader_node_id, leader_vnode_id}
// (LeaderVnodeID here since raft.ServerID for a group is the vnode id;
// the coordinator resolves the owning node id via the meta directory).
type NotLeaderError struct {
	LeaderVnodeID uint32
	LeaderAddr    raft.ServerAddress
	Known         bool
}

func (e *NotLeaderError) Error() string {
	if !e.Known {
		return "replication: not leader, no leader known"
	}
	return fmt.Sprintf("replication: not leader, current leader is vnode %d at %s", e.LeaderVnodeID, e.LeaderAddr)
}

func notLeaderErrorFor(r *raft.Raft) *NotLeaderError {
	addr, id := r.LeaderWithID()
	if id == "" {
		return &NotLeaderError{Known: false}
	}
	vnodeID, err := strconv.ParseUint(string(id), 10, 32)
	if err != nil {
		return &NotLeaderError{Known: false}
	}
	return &NotLeaderError{LeaderVnodeID: uint32(vnodeID), LeaderAddr: addr, Known: true}
}
