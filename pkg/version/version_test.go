package version

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyAddFileGrowsLevel(t *testing.T) {
	mgr := NewManager()
	mgr.Apply(Edit{Kind: AddFile, File: FileMeta{FileID: 1, Level: 0, Path: "000001.tsm", MinTS: 10, MaxTS: 20}})

	v := mgr.Current()
	require.Len(t, v.Levels, 1)
	require.Len(t, v.Levels[0], 1)
	require.Equal(t, uint64(1), v.Levels[0][0].FileID)
}

func TestApplyRemoveFile(t *testing.T) {
	mgr := NewManager()
	mgr.Apply(Edit{Kind: AddFile, File: FileMeta{FileID: 1, Level: 0, Path: "a.tsm"}})
	mgr.Apply(Edit{Kind: AddFile, File: FileMeta{FileID: 2, Level: 0, Path: "b.tsm"}})
	mgr.Apply(Edit{Kind: RemoveFile, File: FileMeta{FileID: 1, Level: 0}})

	v := mgr.Current()
	require.Len(t, v.Levels[0], 1)
	require.Equal(t, uint64(2), v.Levels[0][0].FileID)
}

func TestSetLastSeqIsMonotonic(t *testing.T) {
	mgr := NewManager()
	mgr.Apply(Edit{Kind: SetLastSeq, LastSeq: 10})
	mgr.Apply(Edit{Kind: SetLastSeq, LastSeq: 5})
	require.Equal(t, uint64(10), mgr.Current().LastSeq)
}

func TestSummaryReplayRebuildsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.log")

	mgr1 := NewManager()
	sum1, err := OpenSummary(path, mgr1)
	require.NoError(t, err)
	_, err = sum1.Append(mgr1, Edit{Kind: AddFile, File: FileMeta{FileID: 1, Level: 0, Path: "000001.tsm", MinTS: 1, MaxTS: 9}})
	require.NoError(t, err)
	_, err = sum1.Append(mgr1, Edit{Kind: SetLastSeq, LastSeq: 42})
	require.NoError(t, err)
	require.NoError(t, sum1.Close())

	mgr2 := NewManager()
	sum2, err := OpenSummary(path, mgr2)
	require.NoError(t, err)
	defer sum2.Close()

	v := mgr2.Current()
	require.Equal(t, uint64(42), v.LastSeq)
	require.Len(t, v.Levels[0], 1)
	require.Equal(t, "000001.tsm", v.Levels[0][0].Path)
}
