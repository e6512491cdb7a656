// Package tsm implements the on-disk TSM file: an immutable, time-sorted
// columnar block file produced by flush and compaction (§4.3). Layout:
//
//	header (5 bytes)
//	data blocks (one per (field_id, block) pair, in write order)
//	index section: per field_id, an IndexMeta followed by its BlockMetas
//	footer (72 bytes): a 512-bit bloom filter over field_ids, then the
//	  big-endian uint64 byte offset where the index section begins
//
// The exact byte widths below are load-bearing: a reader computes block
// offsets by walking the index section using these constants, not by
// parsing field-by-field with reflection.
package tsm

import (
	"encoding/binary"

	"github.com/tskvio/tskv/pkg/models"
)

const (
	magicByte  byte = 0xD7
	formatVers byte = 1

	// HeaderSize is the fixed-width file header: magic(1) + version(1) +
	// reserved(3).
	HeaderSize = 5

	// IndexMetaSize is field_id(8) + field_type(1) + block_count(2).
	IndexMetaSize = 11

	// BlockMetaSize is min_ts(8) + max_ts(8) + offset(8) + size(8) +
	// val_off(8) + count(4).
	BlockMetaSize = 44

	// BloomFilterSize is the byte width of the footer's bloom filter.
	BloomFilterSize = 64
	bloomFilterBits = BloomFilterSize * 8

	// FooterSize is the bloom filter plus an 8-byte big-endian index offset.
	FooterSize = BloomFilterSize + 8

	// MaxBlockValues bounds how many samples a single block may hold;
	// flush and compaction split longer runs at this boundary.
	MaxBlockValues = 1000
)

// BlockMeta describes one encoded block's placement and time range
// within a TSM file.
type BlockMeta struct {
	FieldID models.FieldID
	MinTS   models.Timestamp
	MaxTS   models.Timestamp
	Offset  uint64
	Size    uint64
	ValOff  uint64
	Count   uint32
}

func (b BlockMeta) encode(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], uint64(b.MinTS))
	binary.BigEndian.PutUint64(buf[8:16], uint64(b.MaxTS))
	binary.BigEndian.PutUint64(buf[16:24], b.Offset)
	binary.BigEndian.PutUint64(buf[24:32], b.Size)
	binary.BigEndian.PutUint64(buf[32:40], b.ValOff)
	binary.BigEndian.PutUint32(buf[40:44], b.Count)
}

func decodeBlockMeta(fieldID models.FieldID, buf []byte) BlockMeta {
	return BlockMeta{
		FieldID: fieldID,
		MinTS:   models.Timestamp(binary.BigEndian.Uint64(buf[0:8])),
		MaxTS:   models.Timestamp(binary.BigEndian.Uint64(buf[8:16])),
		Offset:  binary.BigEndian.Uint64(buf[16:24]),
		Size:    binary.BigEndian.Uint64(buf[24:32]),
		ValOff:  binary.BigEndian.Uint64(buf[32:40]),
		Count:   binary.BigEndian.Uint32(buf[40:44]),
	}
}

// IndexMeta summarizes one field_id's run of blocks in the index.
type IndexMeta struct {
	FieldID    models.FieldID
	FieldType  models.FloatingType
	BlockCount uint16
	Blocks     []BlockMeta
}

func encodeHeader() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = magicByte
	buf[1] = formatVers
	return buf
}

func validHeader(buf []byte) bool {
	return len(buf) >= HeaderSize && buf[0] == magicByte && buf[1] == formatVers
}

// bloomFilter is a fixed-size Bloom filter over FieldID keys, sized to
// fit exactly in the footer's reserved 64 bytes. Its bloomHashCount bit
// positions come from a 64-bit mix of the field_id stepped through a
// linear congruential generator.
type bloomFilter struct {
	bits [BloomFilterSize]byte
}

const bloomHashCount = 4

func (bf *bloomFilter) add(fieldID models.FieldID) {
	for _, pos := range bloomPositions(fieldID) {
		bf.bits[pos/8] |= 1 << (pos % 8)
	}
}

func (bf *bloomFilter) mayContain(fieldID models.FieldID) bool {
	for _, pos := range bloomPositions(fieldID) {
		if bf.bits[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
	}
	return true
}

func bloomPositions(fieldID models.FieldID) [bloomHashCount]uint64 {
	h := uint64(fieldID)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33

	var positions [bloomHashCount]uint64
	for i := 0; i < bloomHashCount; i++ {
		h = h*6364136223846793005 + 1442695040888963407
		positions[i] = h % bloomFilterBits
	}
	return positions
}
