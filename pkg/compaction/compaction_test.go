package compaction

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tskvio/tskv/pkg/memcache"
	"github.com/tskvio/tskv/pkg/models"
	"github.com/tskvio/tskv/pkg/tsm"
	"github.com/tskvio/tskv/pkg/version"
)

func TestFlushJobWritesL0File(t *testing.T) {
	dir := t.TempDir()
	mc := memcache.New()
	fieldID := models.NewFieldID(1, 1)
	mc.Put(1, fieldID, 10, 1.0, 1)
	mc.Put(1, fieldID, 20, 2.0, 2)
	sealed := mc.Seal()

	job := NewFlushJob(dir, 1, func(models.FieldID) models.FloatingType { return models.Float })
	edit, err := job.Run(sealed)
	require.NoError(t, err)
	require.Equal(t, version.AddFile, edit.Kind)
	require.Equal(t, 0, edit.File.Level)

	r, err := tsm.Open(edit.File.Path)
	require.NoError(t, err)
	defer r.Close()
	require.True(t, r.Contains(fieldID))
}

func TestCompactJobMergesAndDedupsByHighestFileID(t *testing.T) {
	dir := t.TempDir()
	fieldID := models.NewFieldID(1, 1)

	w1, err := tsm.NewWriter(filepath.Join(dir, "000001.tsm"))
	require.NoError(t, err)
	require.NoError(t, w1.WriteBlock(fieldID, models.Float, models.EncodingDefault, []int64{10, 20}, []float64{1, 2}))
	path1, err := w1.Finish()
	require.NoError(t, err)

	w2, err := tsm.NewWriter(filepath.Join(dir, "000002.tsm"))
	require.NoError(t, err)
	// file 2 overwrites ts=20 and adds ts=30; as the higher file_id it should win.
	require.NoError(t, w2.WriteBlock(fieldID, models.Float, models.EncodingDefault, []int64{20, 30}, []float64{99, 3}))
	path2, err := w2.Finish()
	require.NoError(t, err)

	job := &CompactJob{
		Dir: dir,
		FileID: 3,
		Request: Request{
			Files: []version.FileMeta{
				{FileID: 1, Level: 0, Path: path1},
				{FileID: 2, Level: 0, Path: path2},
			},
			OutLevel: 1,
		},
	}
	edit, err := job.Run()
	require.NoError(t, err)
	require.Equal(t, 1, edit.File.Level)

	r, err := tsm.Open(edit.File.Path)
	require.NoError(t, err)
	defer r.Close()

	im, ok := r.IndexMeta(fieldID)
	require.True(t, ok)
	ts, vals, err := r.ReadBlock(im.Blocks[0])
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20, 30}, ts)
	require.Equal(t, []float64{1, 99, 3}, vals)
}

func TestPickSelectsLevelsAtOrAboveTrigger(t *testing.T) {
	v := &version.Version{
		Levels: [][]version.FileMeta{
			{{FileID: 1}, {FileID: 2}, {FileID: 3}, {FileID: 4}},
		},
	}
	reqs := Pick(v, 4, 1<<30, func(version.FileMeta) int64 { return 1024 })
	require.Len(t, reqs, 1)
	require.Equal(t, 1, reqs[0].OutLevel)
	require.Len(t, reqs[0].Files, 4)
}
