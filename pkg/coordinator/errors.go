package coordinator

import (
	"errors"
	"fmt"
)

// ForwardToLeaderError signals that a write landed on a non-leader
// vnode and must be retried against the named leader, per spec §4.10
// step 2/§4.11's "On ForwardToLeader ... ask meta to switch leader".
type ForwardToLeaderError struct {
	LeaderNodeID  uint64
	LeaderVnodeID uint32
}

func (e *ForwardToLeaderError) Error() string {
	return fmt.Sprintf("forward to leader: node=%d vnode=%d", e.LeaderNodeID, e.LeaderVnodeID)
}

// FailoverNodeError signals a transport-level failure reaching a
// specific node (connection refused, RPC timeout, ...), distinct from
// an application-level rejection. write_to_replica treats it as
// retryable against the replica's other vnodes.
type FailoverNodeError struct {
	NodeID uint64
	Cause  error
}

func (e *FailoverNodeError) Error() string {
	return fmt.Sprintf("failover node %d: %v", e.NodeID, e.Cause)
}

func (e *FailoverNodeError) Unwrap() error { return e.Cause }

func isFailoverNode(err error) bool {
	var fn *FailoverNodeError
	return errors.As(err, &fn)
}
