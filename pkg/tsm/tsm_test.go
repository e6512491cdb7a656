package tsm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/models"
)

func TestWriteAndReadBackBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000001.tsm")
	w, err := NewWriter(path)
	require.NoError(t, err)

	fieldID := models.NewFieldID(1, 1)
	ts := []int64{10, 20, 30}
	vals := []float64{1.5, 2.5, 3.5}
	require.NoError(t, w.WriteBlock(fieldID, models.Float, models.EncodingDefault, ts, vals))

	_, err = w.Finish()
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Contains(fieldID))
	require.False(t, r.Contains(models.NewFieldID(99, 99)))

	im, ok := r.IndexMeta(fieldID)
	require.True(t, ok)
	require.Equal(t, uint16(1), im.BlockCount)

	gotTS, gotVals, err := r.ReadBlock(im.Blocks[0])
	require.NoError(t, err)
	require.Equal(t, ts, gotTS)
	require.Equal(t, vals, gotVals)
}

func TestMultipleFieldsSortedInIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000002.tsm")
	w, err := NewWriter(path)
	require.NoError(t, err)

	f3 := models.NewFieldID(1, 3)
	f1 := models.NewFieldID(1, 1)
	require.NoError(t, w.WriteBlock(f3, models.Float, models.EncodingDefault, []int64{1}, []float64{1}))
	require.NoError(t, w.WriteBlock(f1, models.Float, models.EncodingDefault, []int64{1}, []float64{1}))
	_, err = w.Finish()
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	ids := r.FieldIDs()
	require.Len(t, ids, 2)
	require.True(t, ids[0] < ids[1])
}

func TestReadBlockAppliesTombstone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000003.tsm")
	w, err := NewWriter(path)
	require.NoError(t, err)

	fieldID := models.NewFieldID(1, 1)
	ts := []int64{10, 20, 30}
	vals := []float64{1, 2, 3}
	require.NoError(t, w.WriteBlock(fieldID, models.Float, models.EncodingDefault, ts, vals))
	_, err = w.Finish()
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.tombstones.Add(fieldID, models.TimeRange{Min: 20, Max: 20}))

	im, _ := r.IndexMeta(fieldID)
	gotTS, gotVals, err := r.ReadBlock(im.Blocks[0])
	require.NoError(t, err)
	require.Equal(t, []int64{10, 30}, gotTS)
	require.Equal(t, []float64{1, 3}, gotVals)
}
