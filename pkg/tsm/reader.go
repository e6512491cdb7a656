package tsm

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sort"

	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tombstone"
	"github.com/tskvio/tskv/pkg/tsm/codec"
	"github.com/tskvio/tskv/pkg/tskverr"
)

// Reader opens an immutable TSM file for random-access block reads. It
// holds the parsed index and bloom filter in memory but reads block
// bytes from disk lazily, on demand.
type Reader struct {
	file        *os.File
	path        string
	bloom       bloomFilter
	indexOffset uint64
	index       map[models.FieldID]IndexMeta
	fieldIDs    []models.FieldID

	tombstones *tombstone.Set
}

// Open parses a TSM file's footer and index section. It does not read
// any data blocks.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, tskverr.New(tskverr.IO, "tsm.Open", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, tskverr.New(tskverr.IO, "tsm.Open", err)
	}
	if info.Size() < int64(HeaderSize+FooterSize) {
		f.Close()
		return nil, tskverr.New(tskverr.StorageCorruption, "tsm.Open", errTruncatedFile)
	}

	header := make([]byte, HeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		f.Close()
		return nil, tskverr.New(tskverr.IO, "tsm.Open", err)
	}
	if !validHeader(header) {
		f.Close()
		return nil, tskverr.New(tskverr.StorageCorruption, "tsm.Open", errBadHeader)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, info.Size()-int64(FooterSize)); err != nil {
		f.Close()
		return nil, tskverr.New(tskverr.IO, "tsm.Open", err)
	}

	r := &Reader{file: f, path: path, index: make(map[models.FieldID]IndexMeta)}
	copy(r.bloom.bits[:], footer[:BloomFilterSize])
	r.indexOffset = binary.BigEndian.Uint64(footer[BloomFilterSize:])

	indexSectionSize := info.Size() - int64(FooterSize) - int64(r.indexOffset)
	if indexSectionSize < 0 {
		f.Close()
		return nil, tskverr.New(tskverr.StorageCorruption, "tsm.Open", errBadIndexOffset)
	}
	indexBuf := make([]byte, indexSectionSize)
	if _, err := f.ReadAt(indexBuf, int64(r.indexOffset)); err != nil && err != io.EOF {
		f.Close()
		return nil, tskverr.New(tskverr.IO, "tsm.Open", err)
	}

	if err := r.parseIndex(indexBuf); err != nil {
		f.Close()
		return nil, err
	}

	ts, err := tombstone.Load(tombstone.PathFor(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	r.tombstones = ts

	return r, nil
}

func (r *Reader) parseIndex(buf []byte) error {
	off := 0
	for off < len(buf) {
		if off+IndexMetaSize > len(buf) {
			return tskverr.New(tskverr.StorageCorruption, "tsm.parseIndex", errTruncatedIndex)
		}
		fieldID := models.FieldID(binary.BigEndian.Uint64(buf[off : off+8]))
		fieldType := models.FloatingType(buf[off+8])
		blockCount := binary.BigEndian.Uint16(buf[off+9 : off+11])
		off += IndexMetaSize

		blocks := make([]BlockMeta, 0, blockCount)
		for i := uint16(0); i < blockCount; i++ {
			if off+BlockMetaSize > len(buf) {
				return tskverr.New(tskverr.StorageCorruption, "tsm.parseIndex", errTruncatedIndex)
			}
			blocks = append(blocks, decodeBlockMeta(fieldID, buf[off:off+BlockMetaSize]))
			off += BlockMetaSize
		}

		r.index[fieldID] = IndexMeta{FieldID: fieldID, FieldType: fieldType, BlockCount: blockCount, Blocks: blocks}
		r.fieldIDs = append(r.fieldIDs, fieldID)
	}
	sort.Slice(r.fieldIDs, func(i, j int) bool { return r.fieldIDs[i] < r.fieldIDs[j] })
	return nil
}

// Contains reports whether fieldID might be present in the file. A false
// result is definitive; a true result requires checking the index.
func (r *Reader) Contains(fieldID models.FieldID) bool {
	return r.bloom.mayContain(fieldID)
}

// FieldIDs returns every field_id present, sorted ascending.
func (r *Reader) FieldIDs() []models.FieldID {
	return r.fieldIDs
}

// IndexMeta returns the parsed index entry for fieldID, if any.
func (r *Reader) IndexMeta(fieldID models.FieldID) (IndexMeta, bool) {
	im, ok := r.index[fieldID]
	return im, ok
}

// ReadBlock decodes the samples for one block, applying any overlapping
// tombstone ranges so deleted samples never surface to callers.
func (r *Reader) ReadBlock(bm BlockMeta) (timestamps []int64, values []float64, err error) {
	payload := make([]byte, bm.Size)
	if _, err := r.file.ReadAt(payload, int64(bm.Offset)); err != nil {
		return nil, nil, tskverr.New(tskverr.IO, "tsm.Reader.ReadBlock", err)
	}
	ts, vals, err := codec.Decode(payload)
	if err != nil {
		return nil, nil, tskverr.New(tskverr.StorageCorruption, "tsm.Reader.ReadBlock", err)
	}
	if r.tombstones == nil {
		return ts, vals, nil
	}
	return r.tombstones.Filter(bm.FieldID, ts, vals)
}

// TimeRange returns the inclusive time range from the first block's
// min timestamp to the last block's max timestamp.
func (im IndexMeta) TimeRange() models.TimeRange {
	if len(im.Blocks) == 0 {
		return models.TimeRange{}
	}
	return models.TimeRange{Min: im.Blocks[0].MinTS, Max: im.Blocks[len(im.Blocks)-1].MaxTS}
}

// Close releases the underlying file descriptor.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Path returns the file path this reader was opened from.
func (r *Reader) Path() string { return r.path }

var (
	errTruncatedFile  = errors.New("tsm: file smaller than header+footer")
	errBadHeader      = errors.New("tsm: bad magic or version in header")
	errBadIndexOffset = errors.New("tsm: index offset beyond file bounds")
	errTruncatedIndex = errors.New("tsm: index section truncated")
)
