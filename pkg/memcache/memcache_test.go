package memcache

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/models"
)

func TestPutPreservesAscendingOrder(t *testing.T) {
	m := New()
	m.Put(1, 100, 30, 3.0, 1)
	m.Put(1, 100, 10, 1.0, 1)
	m.Put(1, 100, 20, 2.0, 1)

	got := m.Scan(1, 100, models.TimeRange{Min: 0, Max: 100})
	require.Len(t, got, 3)
	require.Equal(t, models.Timestamp(10), got[0].Timestamp)
	require.Equal(t, models.Timestamp(20), got[1].Timestamp)
	require.Equal(t, models.Timestamp(30), got[2].Timestamp)
}

func TestPutLastWriteWinsByHigherSeqNo(t *testing.T) {
	m := New()
	m.Put(1, 100, 10, "first", 5)
	m.Put(1, 100, 10, "second", 6)
	m.Put(1, 100, 10, "stale", 2)

	got := m.Scan(1, 100, models.TimeRange{Min: 0, Max: 100})
	require.Len(t, got, 1)
	require.Equal(t, "second", got[0].Value)
}

func TestSealStopsAcceptingWrites(t *testing.T) {
	m := New()
	m.Put(1, 100, 10, 1.0, 1)
	im := m.Seal()

	m.Put(1, 100, 20, 2.0, 2)
	require.Len(t, im.Scan(1, 100, models.TimeRange{Min: 0, Max: 100}), 1)
}

func TestScanRangeIsInclusiveBothEnds(t *testing.T) {
	m := New()
	for ts := models.Timestamp(0); ts < 10; ts++ {
		m.Put(1, 1, ts, ts, 1)
	}
	got := m.Scan(1, 1, models.TimeRange{Min: 3, Max: 6})
	require.Len(t, got, 4)
	require.Equal(t, models.Timestamp(3), got[0].Timestamp)
	require.Equal(t, models.Timestamp(6), got[3].Timestamp)
}

func TestFieldIDsSortedAscending(t *testing.T) {
	m := New()
	m.Put(7, models.NewFieldID(7, 3), 1, 1.0, 1)
	m.Put(7, models.NewFieldID(7, 1), 1, 1.0, 1)
	m.Put(7, models.NewFieldID(7, 2), 1, 1.0, 1)

	ids := m.FieldIDs(7)
	require.Len(t, ids, 3)
	require.True(t, ids[0] < ids[1])
	require.True(t, ids[1] < ids[2])
}
