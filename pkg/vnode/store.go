package vnode

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/tskvio/tskv/pkg/compaction"
	"github.com/tskvio/tskv/pkg/health"
	"github.com/tskvio/tskv/pkg/index"
	"github.com/tskvio/tskv/pkg/log"
	"github.com/tskvio/tskv/pkg/memcache"
	"github.com/tskvio/tskv/pkg/metrics"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tombstone"
	"github.com/tskvio/tskv/pkg/tskverr"
	"github.com/tskvio/tskv/pkg/version"
)

// Options configures a Store at open time.
type Options struct {
	Tenant         string
	Database       string
	VnodeID        models.VnodeID
	NodeID         models.NodeID
	Dir            string // directory holding this vnode's WAL, TSM files, and summary
	MaxBufferSize  int64
	CompactTrigger int
	MaxCompactSize int64
}

// Store binds one vnode's memcache, index, version, WAL, and tombstones
// together, and is the object the replication core's apply-storage
// trait drives (§4.9). Writes are serialized through applyMu, matching
// "executes within a single critical section per vnode".
type Store struct {
	opts Options

	applyMu sync.Mutex
	state   atomic.Int32

	mem      *memcache.Memcache
	idx      *index.Index
	versions *version.Manager
	summary  *version.Summary
	wal      *WAL

	lastSeq    atomic.Uint64
	nextFileID atomic.Uint64

	quarantined atomic.Int32

	// tableSeries/tableFields track which series and field ids belong to
	// each table this vnode has seen a write for, since neither the index
	// nor the memcache scope themselves by table. Populated as
	// applyPointsPayload resolves each point's series/fields; consulted
	// by DropTable and DeleteFromTable.
	tableSeries map[string]map[models.SeriesID]struct{}
	tableFields map[string]map[models.FieldID]struct{}
}

// Open opens or creates a vnode store rooted at opts.Dir, replaying its
// WAL and summary journal.
func Open(opts Options) (*Store, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, tskverr.New(tskverr.IO, "vnode.Open", err)
	}

	s := &Store{
		opts:        opts,
		mem:         memcache.New(),
		idx:         index.New(),
		versions:    version.NewManager(),
		tableSeries: make(map[string]map[models.SeriesID]struct{}),
		tableFields: make(map[string]map[models.FieldID]struct{}),
	}
	s.state.Store(int32(Opening))

	sum, err := version.OpenSummary(filepath.Join(opts.Dir, "summary.log"), s.versions)
	if err != nil {
		return nil, err
	}
	s.summary = sum

	v := s.versions.Current()
	for _, level := range v.Levels {
		for _, f := range level {
			if f.FileID >= s.nextFileID.Load() {
				s.nextFileID.Store(f.FileID + 1)
			}
		}
	}
	s.lastSeq.Store(v.LastSeq)

	wal, err := OpenWAL(filepath.Join(opts.Dir, "wal.log"))
	if err != nil {
		return nil, err
	}
	s.wal = wal

	if err := Replay(filepath.Join(opts.Dir, "wal.log"), func(e Entry) error {
		if e.RaftIndex <= v.LastSeq {
			return nil // already reflected in a flushed TSM file
		}
		return s.applyPointsPayload(e.Payload, e.RaftIndex)
	}); err != nil {
		return nil, err
	}

	s.state.Store(int32(Ready))
	return s, nil
}

// State returns the vnode's current lifecycle state.
func (s *Store) State() State {
	return State(s.state.Load())
}

// Apply executes cmd within the vnode's single critical section,
// writing through to the WAL before returning, and bumps last_seq to
// raftIndex (§4.9).
func (s *Store) Apply(raftIndex uint64, cmd Command) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	switch cmd.Kind {
	case WritePoints:
		payload, err := encodePoints(cmd.Points)
		if err != nil {
			return tskverr.New(tskverr.Schema, "vnode.Store.Apply", err)
		}
		if err := s.wal.Append(raftIndex, 0, payload); err != nil {
			return err
		}
		if err := s.applyPointsPayload(payload, raftIndex); err != nil {
			return err
		}
	case DeleteFromTable:
		if err := s.wal.Append(raftIndex, 0, []byte{byte(cmd.Kind)}); err != nil {
			return err
		}
		if err := s.deleteFromTableLocked(cmd.Table, cmd.TimeRange); err != nil {
			return err
		}
	case DropTable:
		if err := s.wal.Append(raftIndex, 0, []byte{byte(cmd.Kind)}); err != nil {
			return err
		}
		s.dropTableLocked(cmd.Table)
	case DropDatabase:
		if err := s.wal.Append(raftIndex, 0, []byte{byte(cmd.Kind)}); err != nil {
			return err
		}
		s.dropDatabaseLocked()
	case UpdateTags, DropColumn, AddColumn:
		// Schema/administrative commands are durably logged the same way
		// as WritePoints; their effect on the in-force schema is resolved
		// by the caller (the schema package tracks change history), not
		// by the vnode store itself.
		if err := s.wal.Append(raftIndex, 0, []byte{byte(cmd.Kind)}); err != nil {
			return err
		}
	}

	s.lastSeq.Store(raftIndex)
	if s.mem.SizeBytes() >= s.opts.MaxBufferSize && s.opts.MaxBufferSize > 0 {
		if err := s.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyPointsPayload(payload []byte, raftIndex uint64) error {
	points, err := decodePoints(payload)
	if err != nil {
		return tskverr.New(tskverr.StorageCorruption, "vnode.Store.applyPointsPayload", err)
	}
	for _, p := range points {
		models.SortTags(p.Tags)
		seriesID, err := s.idx.GetOrCreateSeries(p.Tags)
		if err != nil {
			return err
		}
		s.trackSeries(p.Table, seriesID)
		for _, f := range p.Fields {
			col, ok := floatValue(f.Value)
			if !ok {
				// encodePoints rejects non-float values before a command
				// ever reaches the WAL, so decoded WAL payloads should
				// never carry one; treat it as corruption rather than
				// silently dropping the field.
				return tskverr.New(tskverr.StorageCorruption, "vnode.Store.applyPointsPayload",
					fmt.Errorf("field %q: value type %T has no float64 representation", f.Name, f.Value))
			}
			fieldID := models.NewFieldID(seriesID, models.ColumnIDFor(f.Name))
			s.trackField(p.Table, fieldID)
			s.mem.Put(seriesID, fieldID, p.Time, col, raftIndex)
		}
	}
	return nil
}

// trackSeries/trackField record that table has written through seriesID
// or fieldID, since neither idx nor mem scope themselves by table.
// Callers must hold applyMu.
func (s *Store) trackSeries(table string, seriesID models.SeriesID) {
	set, ok := s.tableSeries[table]
	if !ok {
		set = make(map[models.SeriesID]struct{})
		s.tableSeries[table] = set
	}
	set[seriesID] = struct{}{}
}

func (s *Store) trackField(table string, fieldID models.FieldID) {
	set, ok := s.tableFields[table]
	if !ok {
		set = make(map[models.FieldID]struct{})
		s.tableFields[table] = set
	}
	set[fieldID] = struct{}{}
}

// deleteFromTableLocked applies a DeleteFromTable command: every sample
// in tr for every (series, field) this vnode has seen written for table
// is purged from the active memcache, and a matching tombstone entry is
// recorded against every on-disk TSM file so the deletion also covers
// already-flushed data (§4.4). Callers must hold applyMu.
func (s *Store) deleteFromTableLocked(table string, tr models.TimeRange) error {
	fields := s.tableFields[table]
	series := s.tableSeries[table]
	if len(fields) == 0 || len(series) == 0 {
		return nil
	}

	for seriesID := range series {
		for fieldID := range fields {
			if fieldID.SeriesID() != seriesID {
				continue
			}
			s.mem.Delete(seriesID, fieldID, tr)
		}
	}

	v := s.versions.Current()
	for _, level := range v.Levels {
		for _, f := range level {
			if err := s.addTombstones(f.Path, fields, tr); err != nil {
				return err
			}
		}
	}
	return nil
}

// addTombstones records tr against every field in fields within the
// tombstone log for the TSM file at path.
func (s *Store) addTombstones(path string, fields map[models.FieldID]struct{}, tr models.TimeRange) error {
	set, err := tombstone.Load(tombstone.PathFor(path))
	if err != nil {
		return tskverr.New(tskverr.IO, "vnode.Store.addTombstones", err)
	}
	defer set.Close()

	for fieldID := range fields {
		if err := set.Add(fieldID, tr); err != nil {
			return tskverr.New(tskverr.IO, "vnode.Store.addTombstones", err)
		}
	}
	return set.Flush()
}

// dropTableLocked removes every series this vnode has seen written for
// table from the index, and forgets its series/field tracking. Already
// flushed samples for dropped series are left in their TSM files, and
// compaction carries them over, since it does not consult the index.
// Callers must hold applyMu.
func (s *Store) dropTableLocked(table string) {
	series := s.tableSeries[table]
	if len(series) == 0 {
		return
	}
	ids := make([]models.SeriesID, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	s.idx.DropSeries(ids)
	delete(s.tableSeries, table)
	delete(s.tableFields, table)
}

// dropDatabaseLocked removes every series currently known to this vnode
// from the index and resets its table tracking, since a vnode is
// scoped to a single (tenant, database) per Options. Callers must hold
// applyMu.
func (s *Store) dropDatabaseLocked() {
	s.idx.DropSeries(s.idx.SeriesIDsByPredicate(nil))
	s.tableSeries = make(map[string]map[models.SeriesID]struct{})
	s.tableFields = make(map[string]map[models.FieldID]struct{})
}

func floatValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// flushLocked seals the active memcache and writes it out as a new
// level-0 TSM file, per §4.7. Callers must hold applyMu.
func (s *Store) flushLocked() error {
	s.state.Store(int32(Flushing))
	defer s.state.Store(int32(Ready))

	sealed := s.mem.Seal()
	s.mem = memcache.New()

	fileID := s.nextFileID.Add(1) - 1
	job := compaction.NewFlushJob(s.opts.Dir, fileID, func(models.FieldID) models.FloatingType { return models.Float })
	edit, err := job.Run(sealed)
	if err != nil {
		return err
	}
	_, err = s.summary.Append(s.versions, edit)
	if err != nil {
		return err
	}
	metrics.TSMFilesTotal.WithLabelValues(fmt.Sprintf("%d", s.opts.VnodeID), "0").Inc()
	log.WithVnode(uint32(s.opts.VnodeID)).Info().Msg("flush complete")
	return nil
}

// Flush forces a flush of the active memcache regardless of size,
// matching the "explicit admin flush" trigger in §4.7.
func (s *Store) Flush() error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if s.mem.SizeBytes() == 0 {
		return nil
	}
	return s.flushLocked()
}

// Compact runs the picker against the current version and merges any
// eligible level, per §4.8.
func (s *Store) Compact() error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.state.Store(int32(Compacting))
	defer s.state.Store(int32(Ready))

	v := s.versions.Current()
	reqs := compaction.Pick(v, s.opts.CompactTrigger, s.opts.MaxCompactSize, func(f version.FileMeta) int64 {
		info, err := os.Stat(f.Path)
		if err != nil {
			return 0
		}
		return info.Size()
	})

	for _, req := range reqs {
		fileID := s.nextFileID.Add(1) - 1
		job := &compaction.CompactJob{Dir: s.opts.Dir, FileID: fileID, Request: req}
		edit, err := job.Run()
		if err != nil {
			return err
		}
		if _, err := s.summary.Append(s.versions, edit); err != nil {
			return err
		}
		for _, f := range req.Files {
			if _, err := s.summary.Append(s.versions, version.Edit{Kind: version.RemoveFile, File: f}); err != nil {
				return err
			}
			_ = os.Remove(f.Path)
		}
	}
	return nil
}

// Snapshot is the manifest produced by CreateSnapshot (§4.9's
// VnodeSnapshot).
type Snapshot struct {
	Tenant       string
	Database     string
	VnodeID      models.VnodeID
	SnapshotID   uint64
	NodeID       models.NodeID
	Files        []SnapshotFile
	VersionEdits []version.Edit
}

// SnapshotFile is one TSM file in a snapshot manifest, with its content
// MD5 so a follower can verify the transfer.
type SnapshotFile struct {
	Path string
	MD5  string
	Size int64
}

// CreateSnapshot flushes the active memcache, enumerates the resulting
// version's TSM files, computes their MD5s, and returns a manifest.
func (s *Store) CreateSnapshot(snapshotID uint64) (Snapshot, error) {
	if err := s.Flush(); err != nil {
		return Snapshot{}, err
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.state.Store(int32(Snapshotting))
	defer s.state.Store(int32(Ready))

	v := s.versions.Current()
	var files []SnapshotFile
	for _, level := range v.Levels {
		for _, f := range level {
			sum, size, err := md5File(f.Path)
			if err != nil {
				return Snapshot{}, err
			}
			files = append(files, SnapshotFile{Path: f.Path, MD5: sum, Size: size})
		}
	}

	return Snapshot{
		Tenant:     s.opts.Tenant,
		Database:   s.opts.Database,
		VnodeID:    s.opts.VnodeID,
		SnapshotID: snapshotID,
		NodeID:     s.opts.NodeID,
		Files:      files,
	}, nil
}

func md5File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, tskverr.New(tskverr.IO, "vnode.md5File", err)
	}
	defer f.Close()

	h := md5.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, tskverr.New(tskverr.IO, "vnode.md5File", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// ApplySnapshot replaces the local version with snapshot's, assuming
// the caller has already placed snapshot.Files at their final paths.
// It moves and renames no files or directories itself.
func (s *Store) ApplySnapshot(snapshot Snapshot) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	v := &version.Version{}
	for _, f := range snapshot.Files {
		v = version.Apply(v, version.Edit{Kind: version.AddFile, File: version.FileMeta{Path: f.Path}})
	}
	s.versions.Restore(v)
	return nil
}

// Destroy removes every file and in-memory structure for this vnode.
// This is the one terminal, irreversible transition in the state
// machine (§4.9).
func (s *Store) Destroy() error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.state.Store(int32(Destroying))

	if err := s.wal.Close(); err != nil {
		return err
	}
	if err := s.summary.Close(); err != nil {
		return err
	}
	return os.RemoveAll(s.opts.Dir)
}

// Status reports the subset of vnode state pkg/health's VnodeChecker
// needs.
func (s *Store) Status(hasRaftLeader bool) health.VnodeStatus {
	return health.VnodeStatus{
		WALWritable:      s.State() != Destroying,
		HasRaftLeader:    hasRaftLeader,
		QuarantinedFiles: int(s.quarantined.Load()),
	}
}

// LastSeq returns the Raft index of the last applied command.
func (s *Store) LastSeq() uint64 { return s.lastSeq.Load() }

// Index exposes the vnode's secondary index for the read path.
func (s *Store) Index() *index.Index { return s.idx }

// Memcache exposes the active memcache for the read path.
func (s *Store) Memcache() *memcache.Memcache { return s.mem }

// Version returns the vnode's current file-set snapshot.
func (s *Store) Version() *version.Version { return s.versions.Current() }
