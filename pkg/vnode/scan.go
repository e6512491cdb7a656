package vnode

import (
	"sort"

	"github.com/tskvio/tskv/pkg/memcache"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tsm"
	"github.com/tskvio/tskv/pkg/version"
)

// Scan returns the merged, tombstone-filtered samples for one
// (series, field) pair across the active memcache and every on-disk
// TSM file that could hold tr, satisfying the read path's requirement
// to read over "(memcache ∪ immutable memcaches ∪ TSM files ∪
// tombstones) per vnode". There is no separate immutable-memcache set
// here: flush seals and persists the active memcache synchronously
// under applyMu (§4.7), so at any observable instant a vnode has at
// most one memcache plus its durable TSM files.
func (s *Store) Scan(seriesID models.SeriesID, fieldID models.FieldID, tr models.TimeRange) ([]memcache.Sample, error) {
	merged := make(map[models.Timestamp]memcache.Sample)
	for _, smp := range s.mem.Scan(seriesID, fieldID, tr) {
		merged[smp.Timestamp] = smp
	}

	v := s.versions.Current()
	for _, level := range v.Levels {
		files := make([]version.FileMeta, len(level))
		copy(files, level)
		sort.Slice(files, func(i, j int) bool { return files[i].FileID > files[j].FileID })

		for _, fm := range files {
			fileRange := models.TimeRange{Min: models.Timestamp(fm.MinTS), Max: models.Timestamp(fm.MaxTS)}
			if !fileRange.Overlaps(tr) {
				continue
			}
			if err := s.scanFile(fm, fieldID, tr, merged); err != nil {
				return nil, err
			}
		}
	}

	out := make([]memcache.Sample, 0, len(merged))
	for _, smp := range merged {
		out = append(out, smp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (s *Store) scanFile(fm version.FileMeta, fieldID models.FieldID, tr models.TimeRange, merged map[models.Timestamp]memcache.Sample) error {
	r, err := tsm.Open(fm.Path)
	if err != nil {
		return err
	}
	defer r.Close()

	im, ok := r.IndexMeta(fieldID)
	if !ok {
		return nil
	}

	for _, bm := range im.Blocks {
		blockRange := models.TimeRange{Min: models.Timestamp(bm.MinTS), Max: models.Timestamp(bm.MaxTS)}
		if !blockRange.Overlaps(tr) {
			continue
		}
		timestamps, values, err := r.ReadBlock(bm)
		if err != nil {
			return err
		}
		for i, ts := range timestamps {
			t := models.Timestamp(ts)
			if !tr.Contains(t) {
				continue
			}
			if _, exists := merged[t]; exists {
				continue // a newer file (higher FileID) or the memcache already holds this point
			}
			merged[t] = memcache.Sample{Timestamp: t, Value: values[i]}
		}
	}
	return nil
}
