package models

import (
	"bytes"
	"sort"

	"github.com/tskvio/tskv/pkg/tskverr"
)

const (
	// TagKeyMaxLen is the maximum length, in bytes, of a tag key.
	TagKeyMaxLen = 512
	// TagValueMaxLen is the maximum length, in bytes, of a tag value.
	TagValueMaxLen = 4096
)

// Tag is a single key/value pair identifying a series.
type Tag struct {
	Key   []byte
	Value []byte
}

// Validate enforces the tag key/value length and non-emptiness invariants
// from the series data model.
func (t Tag) Validate() error {
	if len(t.Key) == 0 {
		return tskverr.New(tskverr.InvalidInput, "models.Tag.Validate", errEmptyTagKey)
	}
	if len(t.Value) == 0 {
		return tskverr.New(tskverr.InvalidInput, "models.Tag.Validate", errEmptyTagValue)
	}
	if len(t.Key) > TagKeyMaxLen {
		return tskverr.New(tskverr.InvalidInput, "models.Tag.Validate", errTagKeyTooLong)
	}
	if len(t.Value) > TagValueMaxLen {
		return tskverr.New(tskverr.InvalidInput, "models.Tag.Validate", errTagValueTooLong)
	}
	return nil
}

// SortTags sorts tags ascending by key, the canonical order series_id is
// computed over.
func SortTags(tags []Tag) {
	sort.Slice(tags, func(i, j int) bool {
		return bytes.Compare(tags[i].Key, tags[j].Key) < 0
	})
}

// ValidateTags validates every tag in tags.
func ValidateTags(tags []Tag) error {
	for _, t := range tags {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// bkdrHasher implements the BKDR string-hash (seed 131) used by the
// original engine to derive series ids from sorted tag bytes.
type bkdrHasher struct {
	seed   uint32
	number uint32
}

func newBKDRHasher() *bkdrHasher {
	return &bkdrHasher{seed: 131}
}

func (h *bkdrHasher) hashWith(b []byte) {
	for _, c := range b {
		h.number = h.number*h.seed + uint32(c)
	}
}

// ComputeSeriesID computes the series id for a sorted tag set: each tag's
// key then value bytes are hashed in turn with a BKDR hash, matching
// generate_series_id in the original engine.
func ComputeSeriesID(sortedTags []Tag) SeriesID {
	h := newBKDRHasher()
	for _, t := range sortedTags {
		h.hashWith(t.Key)
		h.hashWith(t.Value)
	}
	return SeriesID(h.number)
}

// ColumnIDFor derives a ColumnID from a column name via FNV-1a, the
// way a vnode store resolves a field name to the ColumnID half of a
// FieldID both when applying writes and when scanning for reads.
func ColumnIDFor(name string) ColumnID {
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return ColumnID(h)
}

var (
	errEmptyTagKey     = errString("tag key cannot be empty")
	errEmptyTagValue   = errString("tag value cannot be empty")
	errTagKeyTooLong   = errString("tag key exceeds TagKeyMaxLen")
	errTagValueTooLong = errString("tag value exceeds TagValueMaxLen")
)

type errString string

func (e errString) Error() string { return string(e) }
