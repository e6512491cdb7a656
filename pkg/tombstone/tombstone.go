// Package tombstone implements the per-TSM-file deletion-interval cache
// described in §4.4: a map of field_id to a list of time ranges, durably
// appended to a tombstone log next to the TSM file and merged into every
// read of that file.
package tombstone

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/record"
)

const fileSuffix = ".tombstone"

const frameTypeAdd uint8 = 1

// PathFor returns the tombstone log path for a TSM file.
func PathFor(tsmPath string) string {
	return strings.TrimSuffix(tsmPath, filepath.Ext(tsmPath)) + fileSuffix
}

// Set holds every deletion interval recorded against one TSM file.
type Set struct {
	mu      sync.RWMutex
	path    string
	writer  *record.Writer
	ranges  map[models.FieldID][]models.TimeRange
}

// Load opens (or creates) the tombstone log at path and replays every
// recorded deletion interval into memory.
func Load(path string) (*Set, error) {
	s := &Set{path: path, ranges: make(map[models.FieldID][]models.TimeRange)}

	if _, err := os.Stat(path); err == nil {
		if err := s.replay(); err != nil {
			return nil, err
		}
	}

	w, err := record.OpenWriter(path)
	if err != nil {
		return nil, err
	}
	s.writer = w
	return s, nil
}

func (s *Set) replay() error {
	r, err := record.OpenReader(s.path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		frame, err := r.Next()
		if err == record.ErrEOF {
			break
		}
		if err != nil {
			return err
		}
		if frame.Type != frameTypeAdd || len(frame.Payload) < 24 {
			continue
		}
		fieldID := models.FieldID(binary.BigEndian.Uint64(frame.Payload[0:8]))
		min := models.Timestamp(binary.BigEndian.Uint64(frame.Payload[8:16]))
		max := models.Timestamp(binary.BigEndian.Uint64(frame.Payload[16:24]))
		s.ranges[fieldID] = append(s.ranges[fieldID], models.TimeRange{Min: min, Max: max})
	}
	return nil
}

// Add records a deletion interval for fieldID, durably, before it takes
// effect on subsequent reads.
func (s *Set) Add(fieldID models.FieldID, tr models.TimeRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload [24]byte
	binary.BigEndian.PutUint64(payload[0:8], uint64(fieldID))
	binary.BigEndian.PutUint64(payload[8:16], uint64(tr.Min))
	binary.BigEndian.PutUint64(payload[16:24], uint64(tr.Max))
	if _, err := s.writer.Append(frameTypeAdd, payload[:]); err != nil {
		return err
	}
	if err := s.writer.Sync(); err != nil {
		return err
	}

	s.ranges[fieldID] = append(s.ranges[fieldID], tr)
	return nil
}

// Overlaps returns every recorded range for fieldID that overlaps tr.
func (s *Set) Overlaps(fieldID models.FieldID, tr models.TimeRange) []models.TimeRange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TimeRange
	for _, r := range s.ranges[fieldID] {
		if r.Overlaps(tr) {
			out = append(out, r)
		}
	}
	return out
}

// Filter drops every (timestamp, value) pair covered by a recorded
// deletion range for fieldID, preserving order.
func (s *Set) Filter(fieldID models.FieldID, timestamps []int64, values []float64) ([]int64, []float64, error) {
	s.mu.RLock()
	ranges := s.ranges[fieldID]
	s.mu.RUnlock()
	if len(ranges) == 0 {
		return timestamps, values, nil
	}

	outTS := make([]int64, 0, len(timestamps))
	outVals := make([]float64, 0, len(values))
	for i, ts := range timestamps {
		deleted := false
		for _, r := range ranges {
			if r.Contains(models.Timestamp(ts)) {
				deleted = true
				break
			}
		}
		if !deleted {
			outTS = append(outTS, ts)
			outVals = append(outVals, values[i])
		}
	}
	return outTS, outVals, nil
}

// Flush fsyncs the tombstone log so every Add recorded so far survives a
// crash.
func (s *Set) Flush() error {
	return s.writer.Sync()
}

// Close releases the underlying log file.
func (s *Set) Close() error {
	return s.writer.Close()
}

// FieldIDs returns every field_id with at least one recorded range,
// sorted ascending. Compaction does not carry tombstones forward: its
// inputs are read through tsm.Reader.ReadBlock, which already drops
// the deleted samples.
func (s *Set) FieldIDs() []models.FieldID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]models.FieldID, 0, len(s.ranges))
	for id := range s.ranges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
