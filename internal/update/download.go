package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledgerhost/ledgerhost/internal/atomicfile"
	"github.com/ledgerhost/ledgerhost/internal/fault"
	"github.com/ledgerhost/ledgerhost/internal/retention"
)

// installerPerms lets the downloaded installer be executed by its owner.
const installerPerms = 0o700

const stampLayout = "20060102_150405"

// errChecksum aborts the atomic write so the mismatching file never appears.
var errChecksum = errors.New("checksum mismatch")

// DownloadOptions tunes DownloadToTemp.
type DownloadOptions struct {
	// Checksum is the expected SHA-256 hex digest; empty skips verification.
	Checksum string
	// OnProgress receives integer percentages. Called on every chunk when the
	// size is known and always with 100 on completion.
	OnProgress func(percent int)
	// RetentionDays and KeepLatest drive the cleanup that runs first.
	RetentionDays int
	KeepLatest    int
}

// DownloadToTemp streams rawURL into the temp directory under the installer
// prefix and returns the local path. With a checksum, a mismatching download
// is discarded and a fault.ChecksumMismatch returned.
func (c *Channel) DownloadToTemp(ctx context.Context, rawURL string, opts DownloadOptions) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return "", fault.Newf(fault.NetworkFailure, "update.download", "invalid download URL")
	}

	c.CleanupOldTempInstallers(opts.RetentionDays, opts.KeepLatest)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", fault.New(fault.NetworkFailure, "update.download", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fault.New(fault.NetworkFailure, "update.download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fault.Newf(fault.NetworkFailure, "update.download", "HTTP %d", resp.StatusCode)
	}

	dest := filepath.Join(c.cfg.TempDir,
		c.cfg.Prefix+c.nowFunc().UTC().Format(stampLayout)+"_"+installerName(u))

	progress := &progressWriter{total: resp.ContentLength, report: opts.OnProgress}

	var digest string

	err = atomicfile.WriteFrom(dest, installerPerms, func(w io.Writer) error {
		hasher := sha256.New()

		if _, copyErr := io.Copy(io.MultiWriter(w, hasher, progress), resp.Body); copyErr != nil {
			return copyErr
		}

		progress.done()

		digest = hex.EncodeToString(hasher.Sum(nil))
		if opts.Checksum != "" && !strings.EqualFold(digest, strings.TrimSpace(opts.Checksum)) {
			return errChecksum
		}

		return nil
	})

	switch {
	case errors.Is(err, errChecksum):
		c.logger.Warn("installer checksum mismatch, discarded",
			slog.String("expected", opts.Checksum),
			slog.String("actual", digest),
		)

		return "", fault.Newf(fault.ChecksumMismatch, "update.download", "expected %s, got %s", opts.Checksum, digest)

	case err != nil:
		return "", fault.New(fault.NetworkFailure, "update.download", err)
	}

	c.logger.Info("installer downloaded",
		slog.String("path", dest),
		slog.Int64("bytes", progress.written),
		slog.Bool("verified", opts.Checksum != ""),
	)

	return dest, nil
}

// installerName is the last path segment of the download URL.
func installerName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "installer"
	}

	return filepath.Base(name)
}

// progressWriter converts byte counts into percentages.
type progressWriter struct {
	total   int64
	written int64
	report  func(int)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))

	if p.report != nil && p.total > 0 {
		p.report(int(min(p.written*100/p.total, 100)))
	}

	return len(b), nil
}

func (p *progressWriter) done() {
	if p.report != nil {
		p.report(100)
	}
}

// CleanupOldTempInstallers removes previously downloaded installers. The
// keepLatest newest always survive; the rest go once retentionDays old, or
// all of them when retentionDays <= 0. Per-file failures are ignored.
// Returns the number of files removed.
func (c *Channel) CleanupOldTempInstallers(retentionDays, keepLatest int) int {
	matches, err := filepath.Glob(filepath.Join(c.cfg.TempDir, c.cfg.Prefix+"*"))
	if err != nil || len(matches) == 0 {
		return 0
	}

	type installer struct {
		path    string
		modTime time.Time
	}

	var found []installer

	for _, m := range matches {
		info, statErr := os.Stat(m)
		if statErr != nil || info.IsDir() {
			continue
		}

		found = append(found, installer{path: m, modTime: info.ModTime()})
	}

	_, prune := retention.Select(found, func(i installer) time.Time { return i.modTime },
		retention.ByAge(retentionDays, keepLatest), c.nowFunc())

	removed := 0

	for _, p := range prune {
		if rmErr := os.Remove(p.path); rmErr != nil {
			c.logger.Debug("stale installer not removed", slog.String("path", p.path), slog.String("error", rmErr.Error()))
			continue
		}

		removed++
	}

	if removed > 0 {
		c.logger.Info("removed stale installers", slog.Int("count", removed))
	}

	return removed
}

// LaunchInstaller starts the installer with an elevation request and
// schedules its deletion after a grace period. If the running installer
// holds a lock the deletion fails silently; a later cleanup pass removes it.
func (c *Channel) LaunchInstaller(installerPath string) error {
	if installerPath == "" {
		return fault.Newf(fault.StorageFailure, "update.launch", "no installer path")
	}

	if _, err := os.Stat(installerPath); err != nil {
		return fault.New(fault.StorageFailure, "update.launch", err)
	}

	if err := c.launch(installerPath); err != nil {
		return fault.New(fault.StorageFailure, "update.launch", fmt.Errorf("starting installer: %w", err))
	}

	c.logger.Info("installer launched", slog.String("path", installerPath))

	time.AfterFunc(c.cfg.InstallerGrace, func() {
		if err := os.Remove(installerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("installer still in use, left for cleanup", slog.String("path", installerPath))
		}
	})

	return nil
}
