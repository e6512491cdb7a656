package tombstone

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/models"
)

func TestAddAndFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.tsm")
	s, err := Load(PathFor(path))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(1, models.TimeRange{Min: 10, Max: 20}))

	ts := []int64{5, 15, 25}
	vals := []float64{1, 2, 3}
	outTS, outVals, err := s.Filter(1, ts, vals)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 25}, outTS)
	require.Equal(t, []float64{1, 3}, outVals)
}

func TestOverlaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000002.tsm")
	s, err := Load(PathFor(path))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(1, models.TimeRange{Min: 10, Max: 20}))
	require.NoError(t, s.Add(1, models.TimeRange{Min: 100, Max: 200}))

	got := s.Overlaps(1, models.TimeRange{Min: 15, Max: 150})
	require.Len(t, got, 2)
}

func TestReplayRecoversAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000003.tsm")
	tpath := PathFor(path)

	s1, err := Load(tpath)
	require.NoError(t, err)
	require.NoError(t, s1.Add(7, models.TimeRange{Min: 1, Max: 2}))
	require.NoError(t, s1.Close())

	s2, err := Load(tpath)
	require.NoError(t, err)
	defer s2.Close()

	got := s2.Overlaps(7, models.TimeRange{Min: 0, Max: 5})
	require.Len(t, got, 1)
}
