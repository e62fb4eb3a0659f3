package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ledgerhost/ledgerhost/internal/fault"
	"github.com/ledgerhost/ledgerhost/internal/update"
)

// UpdateInfo describes the outcome of an update check.
type UpdateInfo struct {
	Current   string
	Latest    string
	Available bool
	// Supported is false when the running build is below the manifest's
	// minimum supported version.
	Supported bool
	// Source is the manifest URL or local path the information came from.
	Source   string
	Manifest *update.Manifest
}

// CheckForUpdate fetches the newest manifest, falling back to the locally
// shipped ones, and compares it against the running version.
func (s *Service) CheckForUpdate(ctx context.Context) (UpdateInfo, Result) {
	const op = "update.check"

	info := UpdateInfo{Current: s.deps.Updates.CurrentVersion(), Supported: true}

	m, source := s.deps.Updates.LatestManifest(ctx)
	if m == nil {
		return info, s.fail(ctx, op, fault.Newf(fault.NetworkFailure, op, "no manifest available"))
	}

	info.Manifest = m
	info.Source = source
	info.Latest = m.LatestVersion
	info.Available = s.deps.Updates.IsNewer(m.LatestVersion)
	info.Supported = s.deps.Updates.Supported(m)

	msg := "up to date"
	if info.Available {
		msg = "version " + m.LatestVersion + " is available"
	}

	return info, s.succeed(ctx, op, msg)
}

// DownloadUpdate downloads and verifies the installer named by m. Stale
// installers are cleaned up first using the host settings. When the
// download fails the download page is opened in the browser instead.
func (s *Service) DownloadUpdate(ctx context.Context, m *update.Manifest, onProgress func(int)) (string, Result) {
	const op = "update.download"

	if m == nil || m.DownloadURL == "" {
		return "", s.fail(ctx, op, fault.Newf(fault.NetworkFailure, op, "manifest has no download URL"))
	}

	settings, _ := s.deps.Settings.Load()

	path, err := s.deps.Updates.DownloadToTemp(ctx, m.DownloadURL, update.DownloadOptions{
		Checksum:      m.Checksum,
		OnProgress:    onProgress,
		RetentionDays: settings.UpdateCleanupDays,
		KeepLatest:    settings.UpdateKeepLatest,
	})
	if err != nil {
		res := s.fail(ctx, op, err)
		if s.openDownloadPage(m.DownloadURL) {
			res.Message += "; the download page was opened in your browser"
		}

		return "", res
	}

	return path, s.succeed(ctx, op, "downloaded version "+m.LatestVersion)
}

func (s *Service) openDownloadPage(rawURL string) bool {
	if s.deps.OpenURL == nil {
		return false
	}

	if err := s.deps.OpenURL(rawURL); err != nil {
		s.logger.Warn("could not open download page", slog.String("error", err.Error()))
		return false
	}

	return true
}

// InstallUpdate launches a downloaded installer.
func (s *Service) InstallUpdate(ctx context.Context, installerPath string) Result {
	const op = "update.install"

	if err := s.deps.Updates.LaunchInstaller(installerPath); err != nil {
		return s.fail(ctx, op, err)
	}

	return s.succeed(ctx, op, "installer started")
}

// CleanupInstallers removes stale downloaded installers according to the
// host settings and returns how many were removed.
func (s *Service) CleanupInstallers(ctx context.Context) (int, Result) {
	settings, _ := s.deps.Settings.Load()

	n := s.deps.Updates.CleanupOldTempInstallers(settings.UpdateCleanupDays, settings.UpdateKeepLatest)
	if n == 0 {
		return 0, Result{OK: true, Message: "no stale installers"}
	}

	return n, s.succeed(ctx, "update.cleanup", fmt.Sprintf("removed %d stale installer(s)", n))
}
