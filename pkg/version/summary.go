package version

import (
	"encoding/binary"
	"errors"

	"github.com/tskvio/tskv/pkg/record"
	"github.com/tskvio/tskv/pkg/tskverr"
)

// Summary is the durable journal of VersionEdits for one vnode, built
// atop the shared record-file framing. On startup the journal is
// replayed in order to rebuild the vnode's latest Version (§4.6). The
// journal only grows: it is never compacted, so replay reads every edit
// ever appended.
type Summary struct {
	path   string
	writer *record.Writer
}

// OpenSummary opens (creating if absent) the summary journal at path
// and replays it into mgr.
func OpenSummary(path string, mgr *Manager) (*Summary, error) {
	s := &Summary{path: path}
	if err := s.replay(mgr); err != nil {
		return nil, err
	}
	w, err := record.OpenWriter(path)
	if err != nil {
		return nil, err
	}
	s.writer = w
	return s, nil
}

func (s *Summary) replay(mgr *Manager) error {
	r, err := record.OpenReader(s.path)
	if err != nil {
		// First run: no journal exists yet, nothing to replay.
		return nil
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
		edit, err := decodeEdit(frame.Payload)
		if err != nil {
			return tskverr.New(tskverr.StorageCorruption, "version.Summary.replay", err)
		}
		mgr.Apply(edit)
	}
	return nil
}

// Append durably records edit, then applies it to mgr, keeping the
// in-memory Version and the on-disk journal in lockstep.
func (s *Summary) Append(mgr *Manager, edit Edit) (*Version, error) {
	payload := encodeEdit(edit)
	if _, err := s.writer.Append(1, payload); err != nil {
		return nil, err
	}
	if err := s.writer.Sync(); err != nil {
		return nil, err
	}
	return mgr.Apply(edit), nil
}

// Close closes the underlying journal file.
func (s *Summary) Close() error {
	return s.writer.Close()
}

// encodeEdit packs an Edit into a fixed-width payload: kind(1) +
// file_id(8) + level(4) + path_len(2) + path + min_ts(8) + max_ts(8) +
// ts_family_id(8) + last_seq(8) + max_level_ts(8).
func encodeEdit(e Edit) []byte {
	pathBytes := []byte(e.File.Path)
	buf := make([]byte, 1+8+4+2+len(pathBytes)+8+8+8+8+8)
	off := 0
	buf[off] = byte(e.Kind)
	off++
	binary.BigEndian.PutUint64(buf[off:], e.File.FileID)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(e.File.Level))
	off += 4
	binary.BigEndian.PutUint16(buf[off:], uint16(len(pathBytes)))
	off += 2
	copy(buf[off:], pathBytes)
	off += len(pathBytes)
	binary.BigEndian.PutUint64(buf[off:], uint64(e.File.MinTS))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(e.File.MaxTS))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], e.TSFamilyID)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], e.LastSeq)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(e.MaxLevelTS))
	return buf
}

func decodeEdit(buf []byte) (Edit, error) {
	if len(buf) < 1+8+4+2 {
		return Edit{}, errShortEdit
	}
	off := 0
	kind := EditKind(buf[off])
	off++
	fileID := binary.BigEndian.Uint64(buf[off:])
	off += 8
	level := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	pathLen := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+pathLen+8+8+8+8+8 {
		return Edit{}, errShortEdit
	}
	path := string(buf[off : off+pathLen])
	off += pathLen
	minTS := int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	maxTS := int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	tsFamilyID := binary.BigEndian.Uint64(buf[off:])
	off += 8
	lastSeq := binary.BigEndian.Uint64(buf[off:])
	off += 8
	maxLevelTS := int64(binary.BigEndian.Uint64(buf[off:]))

	return Edit{
		Kind:       kind,
		File:       FileMeta{FileID: fileID, Level: level, Path: path, MinTS: minTS, MaxTS: maxTS},
		TSFamilyID: tsFamilyID,
		LastSeq:    lastSeq,
		MaxLevelTS: maxLevelTS,
	}, nil
}

var errShortEdit = errors.New("version: truncated edit payload")
