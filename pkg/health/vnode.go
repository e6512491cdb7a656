package health

import (
	"context"
	"fmt"
	"time"
)

// VnodeStatus is the subset of a vnode's internal state a health checker
// needs without depending on pkg/vnode (which would create an import
// cycle: pkg/vnode depends on pkg/health, not the reverse).
type VnodeStatus struct {
	WALWritable      bool
	HasRaftLeader    bool
	QuarantinedFiles int
}

// VnodeChecker reports a vnode healthy when its WAL accepts writes, its
// replica group has a known leader, and no TSM file has been quarantined
// for storage corruption (§7).
type VnodeChecker struct {
	VnodeID uint32
	Status  func() VnodeStatus
}

// NewVnodeChecker creates a health checker polling statusFn for a vnode.
func NewVnodeChecker(vnodeID uint32, statusFn func() VnodeStatus) *VnodeChecker {
	return &VnodeChecker{VnodeID: vnodeID, Status: statusFn}
}

// Check implements Checker.
func (v *VnodeChecker) Check(ctx context.Context) Result {
	start := time.Now()
	st := v.Status()

	switch {
	case !st.WALWritable:
		return Result{Healthy: false, Message: "WAL is not writable", CheckedAt: start, Duration: time.Since(start)}
	case !st.HasRaftLeader:
		return Result{Healthy: false, Message: "replica group has no leader", CheckedAt: start, Duration: time.Since(start)}
	case st.QuarantinedFiles > 0:
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%d quarantined TSM file(s)", st.QuarantinedFiles),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	default:
		return Result{Healthy: true, Message: "ok", CheckedAt: start, Duration: time.Since(start)}
	}
}

// Type implements Checker.
func (v *VnodeChecker) Type() CheckType { return CheckTypeExec }
