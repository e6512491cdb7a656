package vnode

import (
	"encoding/binary"

	"github.com/tskvio/tskv/pkg/record"
	"github.com/tskvio/tskv/pkg/tskverr"
)

// WAL is the per-vnode write-ahead log: every applied command is
// written here before Apply returns success, so a crash can replay it.
// Entries carry the Raft index/term they were committed at (§4.9's
// "WAL record" glossary entry).
type WAL struct {
	writer *record.Writer
}

// OpenWAL opens (or creates) the WAL file at path.
func OpenWAL(path string) (*WAL, error) {
	w, err := record.OpenWriter(path)
	if err != nil {
		return nil, err
	}
	return &WAL{writer: w}, nil
}

// Entry is one replayed WAL record.
type Entry struct {
	RaftIndex uint64
	RaftTerm  uint64
	Payload   []byte
}

// Append durably writes one command's encoded bytes alongside the Raft
// index/term it was committed at, fsyncing before returning so Apply's
// "write-through to WAL before returning success" contract holds.
func (w *WAL) Append(raftIndex, raftTerm uint64, payload []byte) error {
	frame := make([]byte, 16+len(payload))
	binary.BigEndian.PutUint64(frame[0:8], raftIndex)
	binary.BigEndian.PutUint64(frame[8:16], raftTerm)
	copy(frame[16:], payload)

	if _, err := w.writer.Append(1, frame); err != nil {
		return tskverr.New(tskverr.IO, "vnode.WAL.Append", err)
	}
	return w.writer.Sync()
}

// Replay reads every entry from the WAL in order.
func Replay(path string, fn func(Entry) error) error {
	r, err := record.OpenReader(path)
	if err != nil {
		return tskverr.New(tskverr.IO, "vnode.Replay", err)
	}
	defer r.Close()

	for {
		frame, err := r.Next()
		if err == record.ErrEOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(frame.Payload) < 16 {
			continue
		}
		entry := Entry{
			RaftIndex: binary.BigEndian.Uint64(frame.Payload[0:8]),
			RaftTerm:  binary.BigEndian.Uint64(frame.Payload[8:16]),
			Payload:   frame.Payload[16:],
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}

// Close closes the underlying log file.
func (w *WAL) Close() error {
	return w.writer.Close()
}
