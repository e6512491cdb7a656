// Package record implements the append-only framed record file shared by
// the write-ahead log, the summary journal, and the tombstone log (§4.1).
// Every frame is {version: u8, type: u8, length: u32, payload, checksum:
// u32}, written with a Writer and replayed with a Reader that stops
// cleanly at a torn trailing frame instead of returning a hard error.
package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/tskvio/tskv/pkg/tskverr"
)

const (
	headerSize   = 1 + 1 + 4 // version + type + length
	checksumSize = 4

	// CurrentVersion is written into every frame's version byte.
	CurrentVersion uint8 = 1
)

// ErrEOF is returned by Reader.Next when the file has been fully
// consumed, including when a torn trailing frame was encountered.
var ErrEOF = io.EOF

// Writer appends frames to a record file. Append, Sync and Close take
// the Writer's own mutex, so one Writer may be shared between goroutines.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// OpenWriter opens path for appending, creating it if it does not exist.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, tskverr.New(tskverr.IO, "record.OpenWriter", err)
	}
	return &Writer{file: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one frame of the given type carrying payload, returning
// the byte offset the frame was written at.
func (w *Writer) Append(frameType uint8, payload []byte) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	offset, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, tskverr.New(tskverr.IO, "record.Writer.Append", err)
	}
	// Account for whatever is still buffered but not yet flushed.
	offset += int64(w.w.Buffered())

	var header [headerSize]byte
	header[0] = CurrentVersion
	header[1] = frameType
	binary.BigEndian.PutUint32(header[2:6], uint32(len(payload)))

	sum := crc32.ChecksumIEEE(payload)
	var sumBuf [checksumSize]byte
	binary.BigEndian.PutUint32(sumBuf[:], sum)

	if _, err := w.w.Write(header[:]); err != nil {
		return 0, tskverr.New(tskverr.IO, "record.Writer.Append", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return 0, tskverr.New(tskverr.IO, "record.Writer.Append", err)
	}
	if _, err := w.w.Write(sumBuf[:]); err != nil {
		return 0, tskverr.New(tskverr.IO, "record.Writer.Append", err)
	}
	return offset, nil
}

// Sync flushes buffered frames and fsyncs the underlying file.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return tskverr.New(tskverr.IO, "record.Writer.Sync", err)
	}
	if err := w.file.Sync(); err != nil {
		return tskverr.New(tskverr.IO, "record.Writer.Sync", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return tskverr.New(tskverr.IO, "record.Writer.Close", err)
	}
	return w.file.Close()
}

// Frame is one decoded record-file entry.
type Frame struct {
	Type    uint8
	Payload []byte
	Offset  int64
}

// Reader replays frames from a record file in order.
type Reader struct {
	r      *bufio.Reader
	file   *os.File
	offset int64
}

// OpenReader opens path for sequential replay from the beginning.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, tskverr.New(tskverr.IO, "record.OpenReader", err)
	}
	return &Reader{r: bufio.NewReader(f), file: f}, nil
}

// Next returns the next frame, or ErrEOF once the file is exhausted. A
// torn trailing frame — a header with no matching payload/checksum bytes
// written after it, the classic result of a crash mid-append — is
// treated as a clean EOF rather than a StorageCorruption error, so
// replay simply stops at the last complete record.
func (r *Reader) Next() (Frame, error) {
	start := r.offset
	var header [headerSize]byte
	n, err := io.ReadFull(r.r, header[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.offset += int64(n)
			return Frame{}, ErrEOF
		}
		return Frame{}, tskverr.New(tskverr.IO, "record.Reader.Next", err)
	}
	r.offset += int64(n)

	frameType := header[1]
	length := binary.BigEndian.Uint32(header[2:6])

	payload := make([]byte, length)
	n, err = io.ReadFull(r.r, payload)
	r.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrEOF
		}
		return Frame{}, tskverr.New(tskverr.IO, "record.Reader.Next", err)
	}

	var sumBuf [checksumSize]byte
	n, err = io.ReadFull(r.r, sumBuf[:])
	r.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrEOF
		}
		return Frame{}, tskverr.New(tskverr.IO, "record.Reader.Next", err)
	}

	want := binary.BigEndian.Uint32(sumBuf[:])
	got := crc32.ChecksumIEEE(payload)
	if want != got {
		return Frame{}, tskverr.New(tskverr.StorageCorruption, "record.Reader.Next", errChecksumMismatch)
	}

	return Frame{Type: frameType, Payload: payload, Offset: start}, nil
}

var errChecksumMismatch = errors.New("record: checksum mismatch")

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
