package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ledgerhost/ledgerhost/internal/atomicfile"
	"github.com/ledgerhost/ledgerhost/internal/fault"
)

// Snapshot file naming.
const (
	SnapshotPrefix = "kams_state_"
	SnapshotExt    = ".json"
	stampLayout    = "20060102_150405"
	snapshotPerms  = 0o600
)

// settleDelay is how long the waiter lets a freshly created snapshot sit
// without further writes before treating it as complete.
const settleDelay = 250 * time.Millisecond

// ErrNoSnapshot means the backups directory holds no snapshot file.
var ErrNoSnapshot = errors.New("backup: no snapshot found")

// Snapshot is one state snapshot file on disk.
type Snapshot struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// SnapshotRequester asks the host application to write its current state
// into the backups directory. The request is fire-and-forget: the file may
// appear some time after RequestSnapshot returns.
type SnapshotRequester interface {
	RequestSnapshot(ctx context.Context, requestID string) error
}

// SnapshotName returns the file name for a snapshot taken at t.
func SnapshotName(t time.Time) string {
	return SnapshotPrefix + t.UTC().Format(stampLayout) + SnapshotExt
}

// IsSnapshotName reports whether a base name is a snapshot file. Temp files
// from in-progress atomic writes start with a dot and never match.
func IsSnapshotName(name string) bool {
	return strings.HasPrefix(name, SnapshotPrefix) && strings.HasSuffix(name, SnapshotExt)
}

// ListSnapshots returns every snapshot in dir. A missing dir yields none.
func ListSnapshots(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("backup: reading %s: %w", dir, err)
	}

	var out []Snapshot

	for _, e := range entries {
		if e.IsDir() || !IsSnapshotName(e.Name()) {
			continue
		}

		info, infoErr := e.Info()
		if infoErr != nil {
			continue
		}

		out = append(out, Snapshot{
			Path:    filepath.Join(dir, e.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}

	return out, nil
}

// LatestSnapshot returns the most recently modified snapshot in dir, or
// ErrNoSnapshot.
func LatestSnapshot(dir string) (Snapshot, error) {
	snaps, err := ListSnapshots(dir)
	if err != nil {
		return Snapshot{}, err
	}

	if len(snaps) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}

	latest := snaps[0]
	for _, s := range snaps[1:] {
		if s.ModTime.After(latest.ModTime) {
			latest = s
		}
	}

	return latest, nil
}

// FileSnapshotProvider satisfies SnapshotRequester by copying a state file
// maintained by the host into the backups directory. It is used when the
// host exposes its state as a file rather than answering requests.
type FileSnapshotProvider struct {
	source string
	dir    string
	logger *slog.Logger

	nowFunc func() time.Time
}

// NewFileSnapshotProvider copies source into dir on every request.
func NewFileSnapshotProvider(source, dir string, logger *slog.Logger) *FileSnapshotProvider {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileSnapshotProvider{source: source, dir: dir, logger: logger, nowFunc: time.Now}
}

// RequestSnapshot writes a new snapshot synchronously.
func (p *FileSnapshotProvider) RequestSnapshot(_ context.Context, requestID string) error {
	if p.source == "" {
		return fault.Newf(fault.StorageFailure, "backup.snapshot", "no snapshot source configured")
	}

	src, err := os.Open(p.source)
	if err != nil {
		return fault.New(fault.StorageFailure, "backup.snapshot", err)
	}
	defer src.Close()

	dest := filepath.Join(p.dir, SnapshotName(p.nowFunc()))

	if err := atomicfile.WriteFrom(dest, snapshotPerms, func(w io.Writer) error {
		_, copyErr := io.Copy(w, src)
		return copyErr
	}); err != nil {
		return fault.New(fault.StorageFailure, "backup.snapshot", err)
	}

	p.logger.Info("snapshot written",
		slog.String("request_id", requestID),
		slog.String("path", dest),
	)

	return nil
}

// waitForSnapshot blocks until a snapshot file is created or written in dir
// and has settled, or until grace elapses, whichever comes first. When the
// directory cannot be watched it simply sleeps for grace. Returns early with
// ctx's error on cancellation.
func waitForSnapshot(ctx context.Context, dir string, grace time.Duration, logger *slog.Logger) error {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		err = watcher.Add(dir)
	}

	if err != nil {
		logger.Debug("snapshot watch unavailable, sleeping for grace period",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		}
	}

	// settle is armed by the first matching event and re-armed by each
	// subsequent write, so a file written in several chunks is complete.
	var settle <-chan time.Time

	events, errs := watcher.Events, watcher.Errors

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadline.C:
			return nil

		case <-settle:
			return nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}

			if !IsSnapshotName(filepath.Base(ev.Name)) {
				continue
			}

			logger.Debug("snapshot activity", slog.String("path", ev.Name))
			settle = time.After(settleDelay)

		case watchErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}

			logger.Warn("snapshot watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
