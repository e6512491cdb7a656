package vnode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tskverr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{
		Tenant:         "t1",
		Database:       "db1",
		VnodeID:        1,
		NodeID:         1,
		Dir:            filepath.Join(t.TempDir(), "vnode-1"),
		MaxBufferSize:  1 << 20,
		CompactTrigger: 4,
		MaxCompactSize: 1 << 30,
	})
	require.NoError(t, err)
	return s
}

func point(tag, val string, fval float64, ts models.Timestamp) models.Point {
	return models.Point{
		Tenant:   "t1",
		Database: "db1",
		Table:    "cpu",
		Tags:     []models.Tag{{Key: []byte("host"), Value: []byte(val)}},
		Fields:   []models.Field{{Name: "usage", Type: models.Float, Value: fval}},
		Time:     ts,
	}
}

func TestApplyWritePointsUpdatesLastSeq(t *testing.T) {
	s := newTestStore(t)
	require.Equal(t, Ready, s.State())

	err := s.Apply(5, Command{Kind: WritePoints, Points: []models.Point{point("host", "a", 1.0, 10)}})
	require.NoError(t, err)
	require.Equal(t, uint64(5), s.LastSeq())
}

func TestFlushProducesTSMFileAndClearsMemcache(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Apply(1, Command{Kind: WritePoints, Points: []models.Point{point("host", "a", 1.0, 10)}}))

	require.NoError(t, s.Flush())
	v := s.Version()
	require.NotEmpty(t, v.Levels)
	require.Len(t, v.Levels[0], 1)
}

func TestCreateSnapshotFlushesAndEnumeratesFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Apply(1, Command{Kind: WritePoints, Points: []models.Point{point("host", "a", 1.0, 10)}}))

	snap, err := s.CreateSnapshot(1)
	require.NoError(t, err)
	require.Len(t, snap.Files, 1)
	require.NotEmpty(t, snap.Files[0].MD5)
}

func TestDestroyRemovesVnodeDirectory(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Destroy())
	require.Equal(t, Destroying, s.State())
	_, err := os.Stat(s.opts.Dir)
	require.True(t, os.IsNotExist(err))
}

func seriesAndField(t *testing.T, s *Store, val string) (models.SeriesID, models.FieldID) {
	t.Helper()
	tags := []models.Tag{{Key: []byte("host"), Value: []byte(val)}}
	models.SortTags(tags)
	seriesID, err := s.Index().GetOrCreateSeries(tags)
	require.NoError(t, err)
	return seriesID, models.NewFieldID(seriesID, models.ColumnIDFor("usage"))
}

func TestApplyDeleteFromTableRemovesRange(t *testing.T) {
	s := newTestStore(t)
	for ts := models.Timestamp(1); ts <= 10; ts++ {
		require.NoError(t, s.Apply(uint64(ts), Command{
			Kind:   WritePoints,
			Table:  "cpu",
			Points: []models.Point{point("host", "a", float64(ts), ts)},
		}))
	}

	require.NoError(t, s.Apply(11, Command{
		Kind:      DeleteFromTable,
		Table:     "cpu",
		TimeRange: models.TimeRange{Min: 3, Max: 7},
	}))

	seriesID, fieldID := seriesAndField(t, s, "a")
	samples, err := s.Scan(seriesID, fieldID, models.TimeRange{Min: 1, Max: 10})
	require.NoError(t, err)

	var gotTS []models.Timestamp
	for _, smp := range samples {
		gotTS = append(gotTS, smp.Timestamp)
	}
	require.ElementsMatch(t, []models.Timestamp{1, 2, 8, 9, 10}, gotTS)
}

func TestApplyDeleteFromTableCoversFlushedFile(t *testing.T) {
	s := newTestStore(t)
	for ts := models.Timestamp(1); ts <= 10; ts++ {
		require.NoError(t, s.Apply(uint64(ts), Command{
			Kind:   WritePoints,
			Table:  "cpu",
			Points: []models.Point{point("host", "a", float64(ts), ts)},
		}))
	}
	require.NoError(t, s.Flush())

	require.NoError(t, s.Apply(11, Command{
		Kind:      DeleteFromTable,
		Table:     "cpu",
		TimeRange: models.TimeRange{Min: 3, Max: 7},
	}))

	seriesID, fieldID := seriesAndField(t, s, "a")
	samples, err := s.Scan(seriesID, fieldID, models.TimeRange{Min: 1, Max: 10})
	require.NoError(t, err)

	var gotTS []models.Timestamp
	for _, smp := range samples {
		gotTS = append(gotTS, smp.Timestamp)
	}
	require.ElementsMatch(t, []models.Timestamp{1, 2, 8, 9, 10}, gotTS)
}

func TestApplyDropTableRemovesSeriesFromIndex(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Apply(1, Command{
		Kind:   WritePoints,
		Table:  "cpu",
		Points: []models.Point{point("host", "a", 1.0, 10)},
	}))
	seriesID, _ := seriesAndField(t, s, "a")
	require.Contains(t, s.Index().SeriesIDsByPredicate(nil), seriesID)

	require.NoError(t, s.Apply(2, Command{Kind: DropTable, Table: "cpu"}))
	require.NotContains(t, s.Index().SeriesIDsByPredicate(nil), seriesID)
}

func TestApplyDropDatabaseRemovesEverySeries(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Apply(1, Command{
		Kind:   WritePoints,
		Table:  "cpu",
		Points: []models.Point{point("host", "a", 1.0, 10)},
	}))
	require.NoError(t, s.Apply(2, Command{
		Kind:   WritePoints,
		Table:  "mem",
		Points: []models.Point{point("host", "b", 1.0, 10)},
	}))

	require.NoError(t, s.Apply(3, Command{Kind: DropDatabase}))
	require.Empty(t, s.Index().SeriesIDsByPredicate(nil))
}

func TestApplyWritePointsRejectsNonFloatField(t *testing.T) {
	s := newTestStore(t)
	p := point("host", "a", 1.0, 10)
	p.Fields = []models.Field{{Name: "flag", Value: true}}

	err := s.Apply(1, Command{Kind: WritePoints, Table: "cpu", Points: []models.Point{p}})
	require.Error(t, err)
	require.Equal(t, tskverr.Schema, tskverr.Of(err))
}
