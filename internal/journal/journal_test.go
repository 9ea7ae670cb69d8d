package journal

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "")
	require.NoError(t, err)

	require.NoError(t, j.Append(Entry{Type: EntryTerminated, Kind: "Ec2Instance", ID: "i-1", Age: "11m0s"}))
	require.NoError(t, j.Append(Entry{Type: EntryFailed, Kind: "SqsQueue", Name: "q", Code: "AccessDenied", Error: "denied"}))
	path := j.Path()
	require.NoError(t, j.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, EntryTerminated, first.Type)
	assert.Equal(t, "i-1", first.ID)
	assert.False(t, first.Timestamp.IsZero())

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, "AccessDenied", second.Code)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConcurrentAppend(t *testing.T) {
	j, err := Open(t.TempDir(), "test")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, j.Append(Entry{Type: EntryPurged, Kind: "Database"}))
		}()
	}
	wg.Wait()
	path := j.Path()
	require.NoError(t, j.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	seen := map[int64]bool{}
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen[e.Sequence] = true
	}
	assert.Len(t, seen, 20)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	files, err := Files(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{j.Path()}, files)
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "sweeper-20200101-120000-1.journal")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o644))
	oldTime := time.Now().AddDate(0, 0, -60)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))

	j, err := Open(dir, "")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	other := filepath.Join(dir, "unrelated.txt")
	require.NoError(t, os.WriteFile(other, nil, 0o644))
	require.NoError(t, os.Chtimes(other, oldTime, oldTime))

	stats, err := Cleanup(dir, DefaultRetention())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Equal(t, int64(3), stats.BytesFreed)

	assert.NoFileExists(t, old)
	assert.FileExists(t, j.Path())
	assert.FileExists(t, other)
}

func TestCleanup_Disabled(t *testing.T) {
	stats, err := Cleanup(t.TempDir(), RetentionConfig{})
	require.NoError(t, err)
	assert.Zero(t, stats.FilesRemoved)
}
