package vnode

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/models"
)

func TestScanMergesMemcacheAndFlushedTSM(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Apply(1, Command{Kind: WritePoints, Points: []models.Point{
		point("host", "a", 1.0, 10),
		point("host", "a", 2.0, 20),
	}}))
	require.NoError(t, s.Flush())

	require.NoError(t, s.Apply(2, Command{Kind: WritePoints, Points: []models.Point{
		point("host", "a", 3.0, 30),
	}}))

	seriesID, err := s.idx.GetOrCreateSeries([]models.Tag{{Key: []byte("host"), Value: []byte("a")}})
	require.NoError(t, err)
	fieldID := models.NewFieldID(seriesID, models.ColumnIDFor("usage"))

	samples, err := s.Scan(seriesID, fieldID, models.TimeRange{Min: 0, Max: 100})
	require.NoError(t, err)
	require.Len(t, samples, 3)
	require.Equal(t, models.Timestamp(10), samples[0].Timestamp)
	require.Equal(t, models.Timestamp(20), samples[1].Timestamp)
	require.Equal(t, models.Timestamp(30), samples[2].Timestamp)
}

func TestScanRespectsTimeRangeBounds(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Apply(1, Command{Kind: WritePoints, Points: []models.Point{
		point("host", "a", 1.0, 10),
		point("host", "a", 2.0, 50),
	}}))
	require.NoError(t, s.Flush())

	seriesID, err := s.idx.GetOrCreateSeries([]models.Tag{{Key: []byte("host"), Value: []byte("a")}})
	require.NoError(t, err)
	fieldID := models.NewFieldID(seriesID, models.ColumnIDFor("usage"))

	samples, err := s.Scan(seriesID, fieldID, models.TimeRange{Min: 0, Max: 20})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Equal(t, models.Timestamp(10), samples[0].Timestamp)
}
