package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	pidFilePermissions = 0o600
	pidDirPermissions  = 0o700
)

// errDaemonRunning is returned when another process holds the daemon lock.
var errDaemonRunning = errors.New("another daemon is already running")

// daemonLock is the held PID file. Only one scheduler may drive backups for
// a data directory at a time.
type daemonLock struct {
	path string
	f    *os.File
}

// acquireDaemonLock creates path, takes a non-blocking exclusive lock on it
// and records the current PID. The lock lives until Release.
func acquireDaemonLock(path string) (*daemonLock, error) {
	if path == "" {
		return nil, fmt.Errorf("daemon lock: path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("daemon lock: creating directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("daemon lock: opening %s: %w", path, err)
	}

	if err := lockFile(f); err != nil {
		f.Close()

		if pid, readErr := readPIDFile(path); readErr == nil {
			return nil, fmt.Errorf("%w (pid %d)", errDaemonRunning, pid)
		}

		return nil, fmt.Errorf("%w (could not lock %s)", errDaemonRunning, path)
	}

	if err := writePID(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("daemon lock: %w", err)
	}

	return &daemonLock{path: path, f: f}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	return f.Sync()
}

// Release removes the PID file and drops the lock.
func (l *daemonLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// readPIDFile returns the PID recorded at path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
