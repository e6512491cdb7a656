package record

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.rec")
	w, err := OpenWriter(path)
	require.NoError(t, err)

	off1, err := w.Append(1, []byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, int64(0), off1)

	off2, err := w.Append(2, []byte("beta"))
	require.NoError(t, err)
	require.True(t, off2 > off1)

	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	f1, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, uint8(1), f1.Type)
	require.Equal(t, "alpha", string(f1.Payload))

	f2, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, uint8(2), f2.Type)
	require.Equal(t, "beta", string(f2.Payload))

	_, err = r.Next()
	require.ErrorIs(t, err, ErrEOF)
}

func TestTornTrailingFrameTreatedAsEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.rec")
	w, err := OpenWriter(path)
	require.NoError(t, err)
	_, err = w.Append(1, []byte("whole"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Simulate a crash mid-append: a header with no payload following it.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{CurrentVersion, 3, 0, 0, 0, 10})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "whole", string(first.Payload))

	_, err = r.Next()
	require.ErrorIs(t, err, ErrEOF)
}

func TestChecksumMismatchIsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.rec")
	w, err := OpenWriter(path)
	require.NoError(t, err)
	_, err = w.Append(1, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the payload region so the checksum no longer matches.
	data[headerSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.Error(t, err)
}
