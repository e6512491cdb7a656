package coordinator

import (
	"fmt"

	"github.com/tskvio/tskv/pkg/index"
	"github.com/tskvio/tskv/pkg/meta"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/replication"
)

// SeriesSamples is one series' selected-column samples, the unit
// table_scan/tag_scan hand back per series before any higher-level
// projection or aggregation (both out of scope: SPEC_FULL.md's
// Non-goals exclude SQL/Arrow query execution beyond this resolution
// step).
type SeriesSamples struct {
	SeriesID models.SeriesID
	Tags     []models.Tag
	Column   string
	Samples  []ScanSample
}

// ScanSample is one decoded (timestamp, value) point.
type ScanSample struct {
	Timestamp models.Timestamp
	Value     float64
}

// Reader implements spec §4.11's read path: resolve a table to its
// ReplicationSets, then read from whichever replica this node hosts
// locally. Cross-node query streaming is not implemented here: the
// RPC surface SPEC_FULL.md wires in is limited to the four calls in
// spec §6 (write, node-open, snapshot-meta, file-download), and a
// query-streaming RPC is not one of them — reading a replica this
// node does not host returns ErrReplicaNotLocal rather than silently
// returning nothing.
type Reader struct {
	dir   meta.Directory
	local *replication.Manager
}

// NewReader builds a Reader over the meta directory and this node's
// locally hosted replica groups.
func NewReader(dir meta.Directory, local *replication.Manager) *Reader {
	return &Reader{dir: dir, local: local}
}

// ErrReplicaNotLocal is returned when none of a table's replica
// groups are hosted on this node.
type ErrReplicaNotLocal struct {
	Tenant, Database, Table string
}

func (e *ErrReplicaNotLocal) Error() string {
	return fmt.Sprintf("coordinator: no local replica for %s/%s/%s", e.Tenant, e.Database, e.Table)
}

// TagScan resolves domains (tag-key/value predicates, ANDed across
// keys and ORed within a key's values per §4.5) against the first
// locally hosted replica of tenant/database/table, then returns each
// matching series' samples for column within tr.
func (r *Reader) TagScan(tenant, database, table, column string, domains []index.Domain, tr models.TimeRange) ([]SeriesSamples, error) {
	sets, err := r.dir.TableReplicationSets(tenant, database, table)
	if err != nil {
		return nil, err
	}

	for _, rs := range sets {
		group, ok := r.local.Group(rs.ID)
		if !ok {
			continue
		}
		return r.scanGroup(group, column, domains, tr)
	}
	return nil, &ErrReplicaNotLocal{Tenant: tenant, Database: database, Table: table}
}

// TableScan is TagScan with no tag predicate: every series in the
// table's locally hosted replica.
func (r *Reader) TableScan(tenant, database, table, column string, tr models.TimeRange) ([]SeriesSamples, error) {
	return r.TagScan(tenant, database, table, column, nil, tr)
}

func (r *Reader) scanGroup(group *replication.Group, column string, domains []index.Domain, tr models.TimeRange) ([]SeriesSamples, error) {
	idx := group.Store.Index()
	seriesIDs := idx.SeriesIDsByPredicate(domains)

	fieldID := models.ColumnIDFor(column)
	results := make([]SeriesSamples, 0, len(seriesIDs))
	for _, seriesID := range seriesIDs {
		samples, err := group.Store.Scan(seriesID, models.NewFieldID(seriesID, fieldID), tr)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			continue
		}
		out := make([]ScanSample, len(samples))
		for i, s := range samples {
			out[i] = ScanSample{Timestamp: s.Timestamp, Value: s.Value.(float64)}
		}
		tags, _ := idx.SeriesKey(seriesID)
		results = append(results, SeriesSamples{
			SeriesID: seriesID,
			Tags:     tags,
			Column:   column,
			Samples:  out,
		})
	}
	return results, nil
}
