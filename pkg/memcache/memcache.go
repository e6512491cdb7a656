// Package memcache implements the per-vnode in-memory write buffer
// described in §4.2: entries keyed by (series_id, field_id), ordered
// ascending by timestamp, with last-write-wins-by-seq_no conflict
// resolution. A Memcache starts writable and is sealed exactly once
// before being handed to the flush path as an ImmutableMemcache.
package memcache

import (
	"sort"
	"sync"

	"github.com/tskvio/tskv/pkg/models"
)

// Sample is one (timestamp, value) observation accepted at seq_no, the
// Raft applied index at which it was committed.
type Sample struct {
	Timestamp models.Timestamp
	Value     any
	SeqNo     uint64
}

type seriesField struct {
	seriesID models.SeriesID
	fieldID  models.FieldID
}

// Memcache is the writable buffer for one vnode, or one of its sealed,
// read-only predecessors once Seal has been called.
type Memcache struct {
	mu        sync.RWMutex
	sealed    bool
	sizeBytes int64
	data      map[seriesField][]Sample
}

// New returns an empty, writable Memcache.
func New() *Memcache {
	return &Memcache{data: make(map[seriesField][]Sample)}
}

// approxSampleSize is a rough per-sample accounting figure (timestamp +
// seq_no + a typical 8-byte value) used only to trigger flushes; it does
// not need to be exact.
const approxSampleSize = 24

// Put inserts one sample, preserving ascending-timestamp order within
// its (series_id, field_id) bucket. A sample sharing an existing
// timestamp overwrites the prior entry only if its seq_no is higher or
// equal (last-write-wins), matching the undocumented-but-assumed tie-break
// noted in §9's open questions.
func (m *Memcache) Put(seriesID models.SeriesID, fieldID models.FieldID, ts models.Timestamp, value any, seqNo uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return
	}

	key := seriesField{seriesID, fieldID}
	samples := m.data[key]

	idx := sort.Search(len(samples), func(i int) bool { return samples[i].Timestamp >= ts })
	switch {
	case idx < len(samples) && samples[idx].Timestamp == ts:
		if seqNo >= samples[idx].SeqNo {
			samples[idx] = Sample{Timestamp: ts, Value: value, SeqNo: seqNo}
		}
	default:
		samples = append(samples, Sample{})
		copy(samples[idx+1:], samples[idx:])
		samples[idx] = Sample{Timestamp: ts, Value: value, SeqNo: seqNo}
		m.sizeBytes += approxSampleSize
	}
	m.data[key] = samples
}

// Delete removes every sample in timeRange for (series_id, field_id),
// used by DeleteFromTable to make its effect visible to not-yet-flushed
// data (a file-level tombstone alone would miss it).
func (m *Memcache) Delete(seriesID models.SeriesID, fieldID models.FieldID, timeRange models.TimeRange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return
	}

	key := seriesField{seriesID, fieldID}
	samples := m.data[key]
	if len(samples) == 0 {
		return
	}
	lo := sort.Search(len(samples), func(i int) bool { return samples[i].Timestamp >= timeRange.Min })
	hi := sort.Search(len(samples), func(i int) bool { return samples[i].Timestamp > timeRange.Max })
	if lo >= hi {
		return
	}
	removed := hi - lo
	samples = append(samples[:lo], samples[hi:]...)
	m.data[key] = samples
	m.sizeBytes -= int64(removed) * approxSampleSize
}

// SizeBytes returns the buffer's approximate memory footprint, compared
// against cache.max_buffer_size to decide when to flush.
func (m *Memcache) SizeBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes
}

// Seal marks the memcache non-writable and returns an ImmutableMemcache
// view over the same data. Further Put calls are silently dropped; the
// caller is expected to install a fresh Memcache for new writes.
func (m *Memcache) Seal() *ImmutableMemcache {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
	return &ImmutableMemcache{data: m.data, sizeBytes: m.sizeBytes}
}

// Scan returns the samples for (series_id, field_id) within timeRange,
// inclusive of both ends, in ascending timestamp order.
func (m *Memcache) Scan(seriesID models.SeriesID, fieldID models.FieldID, timeRange models.TimeRange) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return scanRange(m.data[seriesField{seriesID, fieldID}], timeRange)
}

// FieldIDs returns every field_id with data for seriesID, sorted
// ascending. The flush path does not use it; it reads a sealed
// ImmutableMemcache through SeriesFields instead.
func (m *Memcache) FieldIDs(seriesID models.SeriesID) []models.FieldID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[models.FieldID]struct{})
	for key := range m.data {
		if key.seriesID == seriesID {
			seen[key.fieldID] = struct{}{}
		}
	}
	ids := make([]models.FieldID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ImmutableMemcache is a sealed, read-only snapshot handed to the flush
// path. It shares its backing maps/slices with the Memcache it was
// sealed from, which is safe because a sealed Memcache never mutates
// them again.
type ImmutableMemcache struct {
	data      map[seriesField][]Sample
	sizeBytes int64
}

// SizeBytes returns the size of the buffer as of sealing.
func (im *ImmutableMemcache) SizeBytes() int64 { return im.sizeBytes }

// Scan returns the samples for (series_id, field_id) within timeRange.
func (im *ImmutableMemcache) Scan(seriesID models.SeriesID, fieldID models.FieldID, timeRange models.TimeRange) []Sample {
	return scanRange(im.data[seriesField{seriesID, fieldID}], timeRange)
}

// SeriesFields iterates every (series_id, field_id) pair present, used
// by the flush path to emit one set of TSM blocks per field.
func (im *ImmutableMemcache) SeriesFields(fn func(seriesID models.SeriesID, fieldID models.FieldID, samples []Sample)) {
	for key, samples := range im.data {
		fn(key.seriesID, key.fieldID, samples)
	}
}

func scanRange(samples []Sample, tr models.TimeRange) []Sample {
	lo := sort.Search(len(samples), func(i int) bool { return samples[i].Timestamp >= tr.Min })
	hi := sort.Search(len(samples), func(i int) bool { return samples[i].Timestamp > tr.Max })
	if lo >= hi {
		return nil
	}
	out := make([]Sample, hi-lo)
	copy(out, samples[lo:hi])
	return out
}
