package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireDaemonLock_RecordsPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "daemon.pid")

	lock, err := acquireDaemonLock(path)
	require.NoError(t, err)

	defer lock.Release()

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(pidFilePermissions), info.Mode().Perm())
}

func TestAcquireDaemonLock_SecondHolderNamesFirstPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.pid")

	lock, err := acquireDaemonLock(path)
	require.NoError(t, err)

	defer lock.Release()

	again, err := acquireDaemonLock(path)
	require.Error(t, err)
	assert.Nil(t, again)
	assert.ErrorIs(t, err, errDaemonRunning)
	assert.Contains(t, err.Error(), "pid "+strconv.Itoa(os.Getpid()))
}

func TestAcquireDaemonLock_ReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.pid")

	lock, err := acquireDaemonLock(path)
	require.NoError(t, err)
	lock.Release()

	assert.NoFileExists(t, path)

	lock, err = acquireDaemonLock(path)
	require.NoError(t, err)
	lock.Release()
}

func TestAcquireDaemonLock_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := acquireDaemonLock("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.pid")
	require.NoError(t, os.WriteFile(valid, []byte(" 4242\n"), 0o600))

	pid, err := readPIDFile(valid)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	garbage := filepath.Join(dir, "garbage.pid")
	require.NoError(t, os.WriteFile(garbage, []byte("not-a-pid"), 0o600))

	_, err = readPIDFile(garbage)
	assert.ErrorContains(t, err, "invalid PID")

	_, err = readPIDFile(filepath.Join(dir, "missing.pid"))
	assert.ErrorContains(t, err, "reading PID file")
}
