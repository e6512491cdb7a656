// Package compaction implements the flush and merge-compaction jobs that
// turn a sealed memcache into level-0 TSM files (§4.7) and periodically
// merge adjacent-level files together (§4.8).
package compaction

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tskvio/tskv/pkg/memcache"
	"github.com/tskvio/tskv/pkg/metrics"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tsm"
	"github.com/tskvio/tskv/pkg/version"
)

// FlushJob seals a memcache and writes its contents out as one
// level-0 TSM file, the way Job.Run in a conventional LSM flush job
// turns a memtable into an SST.
type FlushJob struct {
	Dir       string
	FileID    uint64
	Encoding  models.Encoding
	FieldType func(models.FieldID) models.FloatingType
}

// NewFlushJob creates a flush job that writes its output TSM file under dir.
func NewFlushJob(dir string, fileID uint64, fieldType func(models.FieldID) models.FloatingType) *FlushJob {
	return &FlushJob{Dir: dir, FileID: fileID, Encoding: models.EncodingDefault, FieldType: fieldType}
}

// Run flushes a sealed memcache to a new level-0 TSM file and returns
// the VersionEdit the caller must append to the summary journal.
func (j *FlushJob) Run(sealed *memcache.ImmutableMemcache) (version.Edit, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.FlushDuration)

	path := filepath.Join(j.Dir, fmt.Sprintf("%06d.tsm", j.FileID))
	w, err := tsm.NewWriter(path)
	if err != nil {
		return version.Edit{}, err
	}

	var minTS, maxTS int64
	first := true
	var rowCount int

	type fieldSamples struct {
		fieldID models.FieldID
		samples []memcache.Sample
	}
	var all []fieldSamples
	sealed.SeriesFields(func(seriesID models.SeriesID, fieldID models.FieldID, samples []memcache.Sample) {
		all = append(all, fieldSamples{fieldID: fieldID, samples: samples})
	})
	sort.Slice(all, func(i, j int) bool { return all[i].fieldID < all[j].fieldID })

	for _, fs := range all {
		fieldType := models.Float
		if j.FieldType != nil {
			fieldType = j.FieldType(fs.fieldID)
		}
		for start := 0; start < len(fs.samples); start += tsm.MaxBlockValues {
			end := start + tsm.MaxBlockValues
			if end > len(fs.samples) {
				end = len(fs.samples)
			}
			block := fs.samples[start:end]
			ts := make([]int64, len(block))
			vals := make([]float64, len(block))
			for i, s := range block {
				ts[i] = int64(s.Timestamp)
				if f, ok := s.Value.(float64); ok {
					vals[i] = f
				}
			}
			if err := w.WriteBlock(fs.fieldID, fieldType, j.Encoding, ts, vals); err != nil {
				return version.Edit{}, err
			}
			rowCount += len(block)
			if first {
				minTS, maxTS = ts[0], ts[len(ts)-1]
				first = false
			} else {
				if ts[0] < minTS {
					minTS = ts[0]
				}
				if ts[len(ts)-1] > maxTS {
					maxTS = ts[len(ts)-1]
				}
			}
		}
	}

	finishedPath, err := w.Finish()
	if err != nil {
		return version.Edit{}, err
	}
	metrics.FlushedRowsTotal.Add(float64(rowCount))

	return version.Edit{
		Kind: version.AddFile,
		File: version.FileMeta{
			FileID: j.FileID,
			Level:  0,
			Path:   finishedPath,
			MinTS:  minTS,
			MaxTS:  maxTS,
		},
	}, nil
}
