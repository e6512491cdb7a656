package compaction

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tskvio/tskv/pkg/metrics"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tsm"
	"github.com/tskvio/tskv/pkg/version"
)

// CompactJob merges a Request's input files into one new TSM file at
// the next level, deduplicating samples by (field_id, ts) with the
// highest file_id winning (§4.8's tie-break rule).
type CompactJob struct {
	Dir      string
	FileID   uint64
	Request  Request
	Encoding models.Encoding
}

// sample is one merged (timestamp, value) point and the file_id it
// was read from.
type sample struct {
	ts      int64
	value   float64
	fileID  uint64
}

// Run opens every input file, merges them field by field, and writes a
// single output TSM file. A failed run must not leave the output file
// referenced by any VersionEdit — the caller only applies the returned
// edit after Run succeeds.
func (j *CompactJob) Run() (version.Edit, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CompactionDuration, fmt.Sprintf("%d", j.Request.OutLevel))
	metrics.CompactionInputFiles.Add(float64(len(j.Request.Files)))

	readers := make([]*tsm.Reader, 0, len(j.Request.Files))
	for _, f := range j.Request.Files {
		r, err := tsm.Open(f.Path)
		if err != nil {
			closeAll(readers)
			return version.Edit{}, err
		}
		readers = append(readers, r)
	}
	defer closeAll(readers)

	// Input files are processed in ascending file_id order so that, when
	// merging samples sharing a timestamp, the later (higher file_id)
	// file's value naturally overwrites the earlier one.
	order := make([]int, len(readers))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return j.Request.Files[order[a]].FileID < j.Request.Files[order[b]].FileID })

	fieldIDs := collectFieldIDs(readers)

	outPath := filepath.Join(j.Dir, fmt.Sprintf("%06d.tsm", j.FileID))
	w, err := tsm.NewWriter(outPath)
	if err != nil {
		return version.Edit{}, err
	}

	var minTS, maxTS int64
	first := true

	for _, fieldID := range fieldIDs {
		merged := make(map[int64]sample)
		var fieldType models.FloatingType

		for _, idx := range order {
			r := readers[idx]
			im, ok := r.IndexMeta(fieldID)
			if !ok {
				continue
			}
			fieldType = im.FieldType
			fileID := j.Request.Files[idx].FileID
			for _, bm := range im.Blocks {
				ts, vals, err := r.ReadBlock(bm)
				if err != nil {
					return version.Edit{}, err
				}
				for i, t := range ts {
					merged[t] = sample{ts: t, value: vals[i], fileID: fileID}
				}
			}
		}

		if len(merged) == 0 {
			continue
		}
		sortedTS := make([]int64, 0, len(merged))
		for t := range merged {
			sortedTS = append(sortedTS, t)
		}
		sort.Slice(sortedTS, func(a, b int) bool { return sortedTS[a] < sortedTS[b] })

		for start := 0; start < len(sortedTS); start += tsm.MaxBlockValues {
			end := start + tsm.MaxBlockValues
			if end > len(sortedTS) {
				end = len(sortedTS)
			}
			chunkTS := sortedTS[start:end]
			chunkVals := make([]float64, len(chunkTS))
			for i, t := range chunkTS {
				chunkVals[i] = merged[t].value
			}
			if err := w.WriteBlock(fieldID, fieldType, j.Encoding, chunkTS, chunkVals); err != nil {
				return version.Edit{}, err
			}
			if first {
				minTS, maxTS = chunkTS[0], chunkTS[len(chunkTS)-1]
				first = false
			} else {
				if chunkTS[0] < minTS {
					minTS = chunkTS[0]
				}
				if chunkTS[len(chunkTS)-1] > maxTS {
					maxTS = chunkTS[len(chunkTS)-1]
				}
			}
		}
	}

	outputPath, err := w.Finish()
	if err != nil {
		return version.Edit{}, err
	}

	return version.Edit{
		Kind: version.AddFile,
		File: version.FileMeta{
			FileID: j.FileID,
			Level:  j.Request.OutLevel,
			Path:   outputPath,
			MinTS:  minTS,
			MaxTS:  maxTS,
		},
	}, nil
}

func collectFieldIDs(readers []*tsm.Reader) []models.FieldID {
	seen := make(map[models.FieldID]struct{})
	for _, r := range readers {
		for _, id := range r.FieldIDs() {
			seen[id] = struct{}{}
		}
	}
	ids := make([]models.FieldID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func closeAll(readers []*tsm.Reader) {
	for _, r := range readers {
		r.Close()
	}
}
