// Package index implements TSIndex, the per-vnode secondary index over
// tag sets (§4.5): a forward map from tag-set bytes to series_id, and a
// roaring-bitmap inverted index from (tag_key, tag_value) to the set of
// series_ids carrying that pair. Predicates are evaluated by
// intersecting/unioning bitmaps rather than scanning series.
package index

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tskverr"
)

type tagPair struct {
	key   string
	value string
}

// Index is one vnode's tag-set-to-series_id secondary index.
type Index struct {
	mu sync.RWMutex

	// seriesKeys maps a series_id to its sorted tag set, the forward
	// direction needed by series_key and drop_series.
	seriesKeys map[models.SeriesID][]models.Tag
	// tagSetToSeries de-duplicates get_or_create_series on an identical
	// sorted tag set.
	tagSetToSeries map[string]models.SeriesID
	// bitmaps is the inverted index: one roaring bitmap of series_ids per
	// (tag_key, tag_value) pair.
	bitmaps map[tagPair]*roaring.Bitmap
	// allSeries tracks every live series_id so an unconstrained predicate
	// (no domain at all) can return "all series of the table".
	allSeries *roaring.Bitmap
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		seriesKeys:     make(map[models.SeriesID][]models.Tag),
		tagSetToSeries: make(map[string]models.SeriesID),
		bitmaps:        make(map[tagPair]*roaring.Bitmap),
		allSeries:      roaring.New(),
	}
}

// GetOrCreateSeries returns the series_id for sortedTags, computing and
// persisting a new mapping (tag-set bytes → series_id, plus one bitmap
// entry per tag) the first time this exact sorted tag set is seen.
func (idx *Index) GetOrCreateSeries(sortedTags []models.Tag) (models.SeriesID, error) {
	if err := models.ValidateTags(sortedTags); err != nil {
		return 0, tskverr.New(tskverr.InvalidInput, "index.GetOrCreateSeries", err)
	}

	key := tagSetKey(sortedTags)

	idx.mu.RLock()
	if id, ok := idx.tagSetToSeries[key]; ok {
		idx.mu.RUnlock()
		return id, nil
	}
	idx.mu.RUnlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	// Re-check under the write lock: another writer may have raced us.
	if id, ok := idx.tagSetToSeries[key]; ok {
		return id, nil
	}

	id := models.ComputeSeriesID(sortedTags)
	idx.tagSetToSeries[key] = id
	idx.seriesKeys[id] = append([]models.Tag(nil), sortedTags...)
	idx.allSeries.Add(uint32(id))

	for _, tag := range sortedTags {
		pair := tagPair{key: string(tag.Key), value: string(tag.Value)}
		bm, ok := idx.bitmaps[pair]
		if !ok {
			bm = roaring.New()
			idx.bitmaps[pair] = bm
		}
		bm.Add(uint32(id))
	}
	return id, nil
}

// Domain constrains one tag key to a set of acceptable values; a
// ColumnDomain list is ANDed across keys and ORed within a key's values,
// matching §4.5's predicate evaluation.
type Domain struct {
	Key    string
	Values []string
}

// SeriesIDsByPredicate evaluates domains and returns the matching
// series_ids. An empty domain list matches every series of the table
// (the index doesn't scope by table, so callers pre-filter the domain
// list to the table they care about, e.g. by including the table's
// implicit tag).
func (idx *Index) SeriesIDsByPredicate(domains []Domain) []models.SeriesID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(domains) == 0 {
		return bitmapToSeriesIDs(idx.allSeries)
	}

	result := idx.allSeries.Clone()
	for _, d := range domains {
		if len(d.Values) == 0 {
			// An unconstrained key contributes no restriction.
			continue
		}
		union := roaring.New()
		for _, v := range d.Values {
			if bm, ok := idx.bitmaps[tagPair{key: d.Key, value: v}]; ok {
				union.Or(bm)
			}
		}
		result.And(union)
	}
	return bitmapToSeriesIDs(result)
}

// SeriesKey returns the sorted tag set for seriesID, if it is known.
func (idx *Index) SeriesKey(seriesID models.SeriesID) ([]models.Tag, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	tags, ok := idx.seriesKeys[seriesID]
	return tags, ok
}

// DropSeries removes every trace of seriesIDs from the forward and
// inverted indexes.
func (idx *Index) DropSeries(seriesIDs []models.SeriesID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, id := range seriesIDs {
		tags, ok := idx.seriesKeys[id]
		if !ok {
			continue
		}
		delete(idx.seriesKeys, id)
		delete(idx.tagSetToSeries, tagSetKey(tags))
		idx.allSeries.Remove(uint32(id))
		for _, tag := range tags {
			pair := tagPair{key: string(tag.Key), value: string(tag.Value)}
			if bm, ok := idx.bitmaps[pair]; ok {
				bm.Remove(uint32(id))
				if bm.IsEmpty() {
					delete(idx.bitmaps, pair)
				}
			}
		}
	}
}

func tagSetKey(tags []models.Tag) string {
	var b []byte
	for _, t := range tags {
		b = append(b, t.Key...)
		b = append(b, 0)
		b = append(b, t.Value...)
		b = append(b, 0)
	}
	return string(b)
}

func bitmapToSeriesIDs(bm *roaring.Bitmap) []models.SeriesID {
	vals := bm.ToArray()
	ids := make([]models.SeriesID, len(vals))
	for i, v := range vals {
		ids[i] = models.SeriesID(v)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
