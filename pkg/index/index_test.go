package index

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/models"
)

func tags(pairs ...string) []models.Tag {
	var out []models.Tag
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, models.Tag{Key: []byte(pairs[i]), Value: []byte(pairs[i+1])})
	}
	models.SortTags(out)
	return out
}

func TestGetOrCreateSeriesIsIdempotent(t *testing.T) {
	idx := New()
	id1, err := idx.GetOrCreateSeries(tags("host", "a", "region", "us"))
	require.NoError(t, err)
	id2, err := idx.GetOrCreateSeries(tags("region", "us", "host", "a"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestSeriesIDsByPredicateAndsAcrossKeys(t *testing.T) {
	idx := New()
	a, _ := idx.GetOrCreateSeries(tags("host", "a", "region", "us"))
	_, _ = idx.GetOrCreateSeries(tags("host", "b", "region", "us"))
	_, _ = idx.GetOrCreateSeries(tags("host", "a", "region", "eu"))

	got := idx.SeriesIDsByPredicate([]Domain{
		{Key: "host", Values: []string{"a"}},
		{Key: "region", Values: []string{"us"}},
	})
	require.Equal(t, []models.SeriesID{a}, got)
}

func TestSeriesIDsByPredicateOrsWithinKey(t *testing.T) {
	idx := New()
	a, _ := idx.GetOrCreateSeries(tags("host", "a"))
	b, _ := idx.GetOrCreateSeries(tags("host", "b"))
	_, _ = idx.GetOrCreateSeries(tags("host", "c"))

	got := idx.SeriesIDsByPredicate([]Domain{{Key: "host", Values: []string{"a", "b"}}})
	require.ElementsMatch(t, []models.SeriesID{a, b}, got)
}

func TestEmptyPredicateReturnsAllSeries(t *testing.T) {
	idx := New()
	a, _ := idx.GetOrCreateSeries(tags("host", "a"))
	b, _ := idx.GetOrCreateSeries(tags("host", "b"))

	got := idx.SeriesIDsByPredicate(nil)
	require.ElementsMatch(t, []models.SeriesID{a, b}, got)
}

func TestDropSeriesRemovesFromBitmapsAndForwardIndex(t *testing.T) {
	idx := New()
	a, _ := idx.GetOrCreateSeries(tags("host", "a"))
	idx.DropSeries([]models.SeriesID{a})

	_, ok := idx.SeriesKey(a)
	require.False(t, ok)

	got := idx.SeriesIDsByPredicate([]Domain{{Key: "host", Values: []string{"a"}}})
	require.Empty(t, got)
}
