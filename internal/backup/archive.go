package backup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/ledgerhost/ledgerhost/internal/atomicfile"
	"github.com/ledgerhost/ledgerhost/internal/retention"
)

// Archive naming and retention.
const (
	ArchivePrefix               = "backup_"
	ArchiveExt                  = ".zip"
	archiveDayLayout            = "20060102"
	DefaultArchiveRetentionDays = 10
	archivePerms                = 0o600
)

// Archiver keeps one zip per day holding every snapshot taken that day, and
// prunes old archives and snapshots.
type Archiver struct {
	dir           string
	retentionDays int
	logger        *slog.Logger

	nowFunc func() time.Time
}

// NewArchiver returns an Archiver rooted at dir. retentionDays <= 0 selects
// DefaultArchiveRetentionDays.
func NewArchiver(dir string, retentionDays int, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}

	if retentionDays <= 0 {
		retentionDays = DefaultArchiveRetentionDays
	}

	return &Archiver{dir: dir, retentionDays: retentionDays, logger: logger, nowFunc: time.Now}
}

// ArchivePath returns the archive for the day containing t.
func (a *Archiver) ArchivePath(t time.Time) string {
	return filepath.Join(a.dir, ArchivePrefix+t.UTC().Format(archiveDayLayout)+ArchiveExt)
}

// Add stores snapshotPath in today's archive, replacing an entry of the same
// name, then prunes. The archive is rewritten atomically so a crash leaves
// either the previous archive or the new one. Returns the archive path.
func (a *Archiver) Add(snapshotPath string) (string, error) {
	archivePath := a.ArchivePath(a.nowFunc())
	entryName := filepath.Base(snapshotPath)

	src, err := os.Open(snapshotPath)
	if err != nil {
		return "", fmt.Errorf("backup: opening snapshot: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("backup: stat snapshot: %w", err)
	}

	existing, err := openExisting(archivePath)
	if err != nil {
		a.logger.Warn("existing archive unreadable, starting a new one",
			slog.String("path", archivePath),
			slog.String("error", err.Error()),
		)
	}

	err = atomicfile.WriteFrom(archivePath, archivePerms, func(w io.Writer) error {
		zw := zip.NewWriter(w)

		if existing != nil {
			for _, f := range existing.File {
				if f.Name == entryName {
					continue
				}

				if copyErr := copyEntry(zw, f); copyErr != nil {
					return copyErr
				}
			}
		}

		hdr := &zip.FileHeader{Name: entryName, Method: zip.Deflate, Modified: info.ModTime()}

		ew, createErr := zw.CreateHeader(hdr)
		if createErr != nil {
			return createErr
		}

		if _, copyErr := io.Copy(ew, src); copyErr != nil {
			return copyErr
		}

		return zw.Close()
	})
	if err != nil {
		return "", fmt.Errorf("backup: writing archive %s: %w", archivePath, err)
	}

	a.logger.Info("snapshot archived",
		slog.String("archive", archivePath),
		slog.String("entry", entryName),
	)

	a.Prune()

	return archivePath, nil
}

// openExisting reads the archive into memory so no handle stays open on path
// while it is replaced; Windows refuses to rename over an open file.
func openExisting(path string) (*zip.Reader, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}

func copyEntry(zw *zip.Writer, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("reading entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: f.Modified})
	if err != nil {
		return err
	}

	_, err = io.Copy(w, rc)

	return err
}

// Prune deletes archives and snapshots older than the retention window.
// Failures are logged per file. Returns the number of files removed.
func (a *Archiver) Prune() int {
	policy := retention.ByAge(a.retentionDays, 0)
	now := a.nowFunc()
	removed := 0

	for _, pattern := range []string{ArchivePrefix + "*" + ArchiveExt, SnapshotPrefix + "*" + SnapshotExt} {
		removed += a.prunePattern(pattern, policy, now)
	}

	if removed > 0 {
		a.logger.Info("pruned old backups", slog.Int("count", removed), slog.Int("retention_days", a.retentionDays))
	}

	return removed
}

type localFile struct {
	path    string
	modTime time.Time
}

func (a *Archiver) prunePattern(pattern string, policy retention.Policy, now time.Time) int {
	matches, err := filepath.Glob(filepath.Join(a.dir, pattern))
	if err != nil {
		return 0
	}

	var files []localFile

	for _, m := range matches {
		info, statErr := os.Stat(m)
		if statErr != nil || info.IsDir() {
			continue
		}

		files = append(files, localFile{path: m, modTime: info.ModTime()})
	}

	_, prune := retention.Select(files, func(f localFile) time.Time { return f.modTime }, policy, now)

	removed := 0

	for _, f := range prune {
		if rmErr := os.Remove(f.path); rmErr != nil {
			a.logger.Debug("old backup not removed", slog.String("path", f.path), slog.String("error", rmErr.Error()))
			continue
		}

		removed++
	}

	return removed
}
