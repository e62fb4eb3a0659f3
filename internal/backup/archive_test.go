package backup

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchiver(t *testing.T, dir string, now time.Time) *Archiver {
	t.Helper()

	a := NewArchiver(dir, 0, nil)
	a.nowFunc = func() time.Time { return now }

	return a
}

func zipEntries(t *testing.T, path string) map[string]string {
	t.Helper()

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string]string)

	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()

		out[f.Name] = string(data)
	}

	return out
}

func TestArchiver_AddAccumulatesDailyEntries(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	a := newTestArchiver(t, dir, now)

	first := writeSnapshot(t, dir, "kams_state_20260710_080000.json", time.Hour, now)
	second := writeSnapshot(t, dir, "kams_state_20260710_090000.json", 0, now)

	archive, err := a.Add(first)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backup_"+now.UTC().Format("20060102")+".zip"), archive)

	_, err = a.Add(second)
	require.NoError(t, err)

	// Re-adding replaces rather than duplicates.
	_, err = a.Add(second)
	require.NoError(t, err)

	entries := zipEntries(t, archive)

	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}

	sort.Strings(names)
	assert.Equal(t, []string{"kams_state_20260710_080000.json", "kams_state_20260710_090000.json"}, names)
	assert.JSONEq(t, `{"name":"kams_state_20260710_080000.json"}`, entries["kams_state_20260710_080000.json"])
}

func TestArchiver_PrunesOlderThanRetention(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	a := newTestArchiver(t, dir, now)

	day := 24 * time.Hour
	oldZip := writeSnapshot(t, dir, "backup_20260601.zip", 11*day, now)
	recentZip := writeSnapshot(t, dir, "backup_20260705.zip", 5*day, now)
	oldSnap := writeSnapshot(t, dir, "kams_state_20260601_000000.json", 12*day, now)
	recentSnap := writeSnapshot(t, dir, "kams_state_20260709_000000.json", day, now)
	other := writeSnapshot(t, dir, "notes.txt", 30*day, now)

	assert.Equal(t, 2, a.Prune())

	assert.NoFileExists(t, oldZip)
	assert.NoFileExists(t, oldSnap)
	assert.FileExists(t, recentZip)
	assert.FileExists(t, recentSnap)
	assert.FileExists(t, other)
}

func TestArchiver_ReplacesUnreadableArchive(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	a := newTestArchiver(t, dir, now)

	writeSnapshot(t, dir, "backup_"+now.UTC().Format("20060102")+".zip", 0, now)
	snap := writeSnapshot(t, dir, "kams_state_20260710_100000.json", 0, now)

	archive, err := a.Add(snap)
	require.NoError(t, err)
	assert.Len(t, zipEntries(t, archive), 1)
}

func TestArchiver_MissingSnapshot(t *testing.T) {
	a := newTestArchiver(t, t.TempDir(), time.Now())

	_, err := a.Add(filepath.Join(t.TempDir(), "gone.json"))
	assert.Error(t, err)
}

func TestArchiver_ExistingArchiveIsReadIntoMemory(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	a := newTestArchiver(t, dir, now)

	snap := writeSnapshot(t, dir, "kams_state_20260710_080000.json", 0, now)

	archive, err := a.Add(snap)
	require.NoError(t, err)

	zr, err := openExisting(archive)
	require.NoError(t, err)
	require.Len(t, zr.File, 1)

	// Overwriting in place would corrupt reads through a live file handle.
	require.NoError(t, os.WriteFile(archive, []byte("not a zip"), 0o600))

	rc, err := zr.File[0].Open()
	require.NoError(t, err)

	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"kams_state_20260710_080000.json"}`, string(data))
}

func TestArchiver_MissingArchiveOpensAsNil(t *testing.T) {
	zr, err := openExisting(filepath.Join(t.TempDir(), "backup_20260710.zip"))
	require.NoError(t, err)
	assert.Nil(t, zr)
}
