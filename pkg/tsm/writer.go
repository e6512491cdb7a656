package tsm

import (
	"encoding/binary"
	"errors"
	"os"
	"sort"

	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tsm/codec"
	"github.com/tskvio/tskv/pkg/tskverr"
)

// Writer builds one TSM file. Blocks may be written in any field order;
// data blocks land in write order, and Finish sorts the index section
// by field_id and each field's blocks by min timestamp (§4.3).
type Writer struct {
	file   *os.File
	path   string
	offset uint64
	bloom  bloomFilter

	fieldOrder []models.FieldID
	fields     map[models.FieldID]*fieldBuild
}

type fieldBuild struct {
	fieldType models.FloatingType
	blocks    []BlockMeta
}

// NewWriter creates path and prepares it to receive blocks.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, tskverr.New(tskverr.IO, "tsm.NewWriter", err)
	}
	header := encodeHeader()
	if _, err := f.Write(header); err != nil {
		return nil, tskverr.New(tskverr.IO, "tsm.NewWriter", err)
	}
	return &Writer{
		file:   f,
		path:   path,
		offset: uint64(HeaderSize),
		fields: make(map[models.FieldID]*fieldBuild),
	}, nil
}

// WriteBlock encodes one run of samples (already sorted ascending by
// timestamp and capped at MaxBlockValues by the caller) and appends it
// as a new block for fieldID.
func (w *Writer) WriteBlock(fieldID models.FieldID, fieldType models.FloatingType, enc models.Encoding, timestamps []int64, values []float64) error {
	if len(timestamps) > MaxBlockValues {
		return tskverr.New(tskverr.InvalidInput, "tsm.Writer.WriteBlock", errTooManyValues)
	}
	payload, err := codec.Encode(enc, timestamps, values)
	if err != nil {
		return tskverr.New(tskverr.Internal, "tsm.Writer.WriteBlock", err)
	}

	n, err := w.file.Write(payload)
	if err != nil {
		return tskverr.New(tskverr.IO, "tsm.Writer.WriteBlock", err)
	}

	fb, ok := w.fields[fieldID]
	if !ok {
		fb = &fieldBuild{fieldType: fieldType}
		w.fields[fieldID] = fb
		w.fieldOrder = append(w.fieldOrder, fieldID)
	}
	fb.blocks = append(fb.blocks, BlockMeta{
		FieldID: fieldID,
		MinTS:   models.Timestamp(timestamps[0]),
		MaxTS:   models.Timestamp(timestamps[len(timestamps)-1]),
		Offset:  w.offset,
		Size:    uint64(n),
		ValOff:  w.offset + 1, // payload[0] is the codec id
		Count:   uint32(len(timestamps)),
	})
	w.bloom.add(fieldID)
	w.offset += uint64(n)
	return nil
}

var errTooManyValues = errors.New("tsm: block exceeds MaxBlockValues")

// Finish writes the index section and footer, then closes the file and
// returns its path. After Finish the file is immutable.
func (w *Writer) Finish() (string, error) {
	sort.Slice(w.fieldOrder, func(i, j int) bool { return w.fieldOrder[i] < w.fieldOrder[j] })

	indexOffset := w.offset
	for _, fieldID := range w.fieldOrder {
		fb := w.fields[fieldID]
		sort.Slice(fb.blocks, func(i, j int) bool { return fb.blocks[i].MinTS < fb.blocks[j].MinTS })

		meta := make([]byte, IndexMetaSize)
		binary.BigEndian.PutUint64(meta[0:8], uint64(fieldID))
		meta[8] = byte(fb.fieldType)
		binary.BigEndian.PutUint16(meta[9:11], uint16(len(fb.blocks)))
		if _, err := w.file.Write(meta); err != nil {
			return "", tskverr.New(tskverr.IO, "tsm.Writer.Finish", err)
		}
		w.offset += uint64(len(meta))

		for _, bm := range fb.blocks {
			buf := make([]byte, BlockMetaSize)
			bm.encode(buf)
			if _, err := w.file.Write(buf); err != nil {
				return "", tskverr.New(tskverr.IO, "tsm.Writer.Finish", err)
			}
			w.offset += uint64(len(buf))
		}
	}

	footer := make([]byte, FooterSize)
	copy(footer[:BloomFilterSize], w.bloom.bits[:])
	binary.BigEndian.PutUint64(footer[BloomFilterSize:], indexOffset)
	if _, err := w.file.Write(footer); err != nil {
		return "", tskverr.New(tskverr.IO, "tsm.Writer.Finish", err)
	}

	if err := w.file.Sync(); err != nil {
		return "", tskverr.New(tskverr.IO, "tsm.Writer.Finish", err)
	}
	if err := w.file.Close(); err != nil {
		return "", tskverr.New(tskverr.IO, "tsm.Writer.Finish", err)
	}
	return w.path, nil
}
