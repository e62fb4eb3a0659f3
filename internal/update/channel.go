// Package update implements the manifest-driven update channel: fetch the
// latest-version manifest, compare it with the running build, download and
// checksum-verify the installer, prune stale downloads, and launch the
// installer with elevation.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Defaults for Config fields left zero.
const (
	DefaultManifestTimeout = 10 * time.Second
	DefaultDownloadTimeout = 10 * time.Minute
	DefaultInstallerGrace  = 2 * time.Second
	DefaultPrefix          = "ISPLedger_updater_"
	DefaultRetentionDays   = 7
	DefaultKeepLatest      = 1
)

// maxManifestBytes caps the manifest body read.
const maxManifestBytes = 1 << 20

// Manifest describes the latest published release. Field names match the
// published JSON; decoding is case-insensitive.
type Manifest struct {
	LatestVersion       string `json:"LatestVersion"`
	MinSupportedVersion string `json:"MinSupportedVersion"`
	DownloadURL         string `json:"DownloadUrl"`
	Checksum            string `json:"Checksum"`
	ReleaseNotes        string `json:"ReleaseNotes"`
}

// Config configures a Channel.
type Config struct {
	ManifestURL string
	// LocalManifests are tried in order when the remote manifest is
	// unavailable.
	LocalManifests  []string
	CurrentVersion  string
	ManifestTimeout time.Duration
	DownloadTimeout time.Duration
	// TempDir holds downloaded installers. Empty selects os.TempDir().
	TempDir        string
	Prefix         string
	InstallerGrace time.Duration
}

// Channel is the update client for one installed application.
type Channel struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	// Seams for tests.
	nowFunc func() time.Time
	launch  func(path string) error
}

// NewChannel returns a Channel. httpClient may be nil.
func NewChannel(cfg Config, httpClient *http.Client, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if cfg.ManifestTimeout <= 0 {
		cfg.ManifestTimeout = DefaultManifestTimeout
	}

	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	if cfg.InstallerGrace <= 0 {
		cfg.InstallerGrace = DefaultInstallerGrace
	}

	return &Channel{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		nowFunc:    time.Now,
		launch:     startElevated,
	}
}

// DefaultLocalManifests lists the shipped fallback manifests relative to the
// application's install directory.
func DefaultLocalManifests(baseDir string) []string {
	return []string{
		filepath.Join(baseDir, "latest.json"),
		filepath.Join(baseDir, "wwwroot", "latest.json"),
		filepath.Join(baseDir, "..", "wwwroot", "latest.json"),
	}
}

// CurrentVersion returns the version of the running build.
func (c *Channel) CurrentVersion() string {
	return c.cfg.CurrentVersion
}

// LatestManifest fetches the remote manifest, falling back to the local
// copies. It returns nil when no source yields a manifest; callers treat that
// as "nothing to do". source names where the manifest came from.
func (c *Channel) LatestManifest(ctx context.Context) (m *Manifest, source string) {
	if c.cfg.ManifestURL != "" {
		remote, err := c.fetchManifest(ctx)
		if err == nil {
			return remote, c.cfg.ManifestURL
		}

		c.logger.Warn("remote manifest unavailable, trying local copies",
			slog.String("url", c.cfg.ManifestURL),
			slog.String("error", err.Error()),
		)
	}

	for _, path := range c.cfg.LocalManifests {
		local, err := readManifestFile(path)
		if err != nil {
			c.logger.Debug("local manifest unusable", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}

		return local, path
	}

	c.logger.Info("no update manifest available")

	return nil, ""
}

func (c *Channel) fetchManifest(ctx context.Context) (*Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ManifestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ManifestURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("update: creating manifest request: %w", err)
	}

	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("update: fetching manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("update: fetching manifest: HTTP %d", resp.StatusCode)
	}

	return decodeManifest(io.LimitReader(resp.Body, maxManifestBytes))
}

func readManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return decodeManifest(io.LimitReader(f, maxManifestBytes))
}

func decodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("update: decoding manifest: %w", err)
	}

	if m.LatestVersion == "" {
		return nil, fmt.Errorf("update: manifest has no LatestVersion")
	}

	return &m, nil
}

// IsNewer reports whether latest is strictly greater than the running
// version. An unparseable version on either side is never newer.
func (c *Channel) IsNewer(latest string) bool {
	return IsNewer(latest, c.cfg.CurrentVersion)
}

// IsNewer reports whether latest > current as semantic versions.
func IsNewer(latest, current string) bool {
	lv, err := semver.NewVersion(latest)
	if err != nil {
		return false
	}

	cv, err := semver.NewVersion(current)
	if err != nil {
		return false
	}

	return lv.GreaterThan(cv)
}

// Supported reports whether the running build is at or above the
// manifest's minimum supported version. A manifest without a minimum, or an
// unparseable one, supports every build.
func (c *Channel) Supported(m *Manifest) bool {
	if m == nil || m.MinSupportedVersion == "" {
		return true
	}

	return !IsNewer(m.MinSupportedVersion, c.cfg.CurrentVersion)
}
