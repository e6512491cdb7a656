package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Storage engine metrics
	MemcacheSizeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tskv_memcache_size_bytes",
			Help: "Current memcache size in bytes by vnode",
		},
		[]string{"vnode_id"},
	)

	TSMFilesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tskv_tsm_files_total",
			Help: "Total number of TSM files by vnode and level",
		},
		[]string{"vnode_id", "level"},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tskv_flush_duration_seconds",
			Help:    "Time taken to flush a sealed memcache to a level-0 TSM file",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tskv_flushed_rows_total",
			Help: "Total number of (timestamp, value) samples written by flush",
		},
	)

	CompactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tskv_compaction_duration_seconds",
			Help:    "Time taken to compact a set of TSM files into the next level",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"out_level"},
	)

	CompactionInputFiles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tskv_compaction_input_files_total",
			Help: "Total number of TSM files consumed by compaction",
		},
	)

	WALFsyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tskv_wal_fsync_duration_seconds",
			Help:    "Time taken to fsync a WAL record",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Replication metrics
	RaftIsLeader = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tskv_raft_is_leader",
			Help: "Whether this node is the Raft leader for a replica group (1 = leader, 0 = follower)",
		},
		[]string{"replica_id"},
	)

	RaftAppliedIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tskv_raft_applied_index",
			Help: "Last applied Raft log index by replica group",
		},
		[]string{"replica_id"},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tskv_raft_apply_duration_seconds",
			Help:    "Time taken for a vnode to apply one committed Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tskv_raft_commit_duration_seconds",
			Help:    "Time taken for raft.Apply to reach majority commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotInstallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tskv_snapshot_install_duration_seconds",
			Help:    "Time taken to stream and install a vnode snapshot on a follower",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300},
		},
	)

	// Coordinator metrics
	CoordinatorWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tskv_coordinator_writes_total",
			Help: "Total number of coordinator write_to_replica calls by outcome",
		},
		[]string{"outcome"},
	)

	CoordinatorWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tskv_coordinator_write_duration_seconds",
			Help:    "Time taken for a coordinator write to a replica to complete",
			Buckets: prometheus.DefBuckets,
		},
	)

	CoordinatorForwardsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tskv_coordinator_forwards_total",
			Help: "Total number of ForwardToLeader redirects handled by the coordinator",
		},
	)

	CoordinatorFailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tskv_coordinator_failovers_total",
			Help: "Total number of times the coordinator fanned out to a follower after a leader failure",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MemcacheSizeBytes,
		TSMFilesTotal,
		FlushDuration,
		FlushedRowsTotal,
		CompactionDuration,
		CompactionInputFiles,
		WALFsyncDuration,
		RaftIsLeader,
		RaftAppliedIndex,
		RaftApplyDuration,
		RaftCommitDuration,
		SnapshotInstallDuration,
		CoordinatorWritesTotal,
		CoordinatorWriteDuration,
		CoordinatorForwardsTotal,
		CoordinatorFailoversTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
