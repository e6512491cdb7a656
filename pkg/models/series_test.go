package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagValidate(t *testing.T) {
	require.NoError(t, Tag{Key: []byte("host"), Value: []byte("a")}.Validate())
	require.Error(t, Tag{Key: nil, Value: []byte("a")}.Validate())
	require.Error(t, Tag{Key: []byte("host"), Value: nil}.Validate())

	big := make([]byte, TagKeyMaxLen+1)
	require.Error(t, Tag{Key: big, Value: []byte("a")}.Validate())
}

func TestSortTagsOrdersByKey(t *testing.T) {
	tags := []Tag{
		{Key: []byte("zone"), Value: []byte("b")},
		{Key: []byte("host"), Value: []byte("a")},
	}
	SortTags(tags)
	require.Equal(t, "host", string(tags[0].Key))
	require.Equal(t, "zone", string(tags[1].Key))
}

func TestComputeSeriesIDDeterministic(t *testing.T) {
	tags := []Tag{{Key: []byte("host"), Value: []byte("a")}}
	id1 := ComputeSeriesID(tags)
	id2 := ComputeSeriesID(tags)
	require.Equal(t, id1, id2)

	other := []Tag{{Key: []byte("host"), Value: []byte("b")}}
	require.NotEqual(t, id1, ComputeSeriesID(other))
}

func TestFieldIDPacksSeriesAndColumn(t *testing.T) {
	f := NewFieldID(SeriesID(7), ColumnID(3))
	require.Equal(t, SeriesID(7), f.SeriesID())
	require.Equal(t, ColumnID(3), f.ColumnID())
}

func TestColumnIDForDeterministicAndDistinct(t *testing.T) {
	require.Equal(t, ColumnIDFor("usage"), ColumnIDFor("usage"))
	require.NotEqual(t, ColumnIDFor("usage"), ColumnIDFor("idle"))
}

func TestTimeRangeOverlaps(t *testing.T) {
	r := TimeRange{Min: 10, Max: 20}
	require.True(t, r.Overlaps(TimeRange{Min: 20, Max: 30}))
	require.False(t, r.Overlaps(TimeRange{Min: 21, Max: 30}))
	require.True(t, r.Contains(15))
	require.False(t, r.Contains(25))
}
