// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for ledgerhost. Values follow a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

import (
	"path/filepath"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
// Durations are kept as strings in the file format ("10s", "30m") and parsed
// through the accessor methods after validation.
type Config struct {
	// DataDir holds tokens, backups, host settings, the journal and the PID
	// file. Empty selects the platform default.
	DataDir string `toml:"data_dir"`

	OAuth      OAuthConfig      `toml:"oauth"`
	Federation FederationConfig `toml:"federation"`
	Drive      DriveConfig      `toml:"drive"`
	Update     UpdateConfig     `toml:"update"`
	Backup     BackupConfig     `toml:"backup"`
	Logging    LoggingConfig    `toml:"logging"`
	Network    NetworkConfig    `toml:"network"`
}

// OAuthConfig describes the identity provider and this installation's
// OAuth client registration.
type OAuthConfig struct {
	ClientID             string   `toml:"client_id"`
	ClientSecret         string   `toml:"client_secret"`
	AuthEndpoint         string   `toml:"auth_endpoint"`
	TokenEndpoint        string   `toml:"token_endpoint"`
	JWKSEndpoint         string   `toml:"jwks_endpoint"`
	Scopes               []string `toml:"scopes"`
	Issuers              []string `toml:"issuers"`
	AuthorizationTimeout string   `toml:"authorization_timeout"`
}

// FederationConfig controls the optional backend sign-in performed after a
// successful authorization.
type FederationConfig struct {
	Enabled    bool   `toml:"enabled"`
	Endpoint   string `toml:"endpoint"`
	APIKey     string `toml:"api_key"`
	ProviderID string `toml:"provider_id"`
	RequestURI string `toml:"request_uri"`
}

// DriveConfig controls the cloud backup target.
type DriveConfig struct {
	APIURL         string `toml:"api_url"`
	UploadURL      string `toml:"upload_url"`
	Space          string `toml:"space"`
	Keep           int    `toml:"keep"`
	FilePrefix     string `toml:"file_prefix"`
	DownloadPrefix string `toml:"download_prefix"`
}

// UpdateConfig controls the manifest-driven update channel.
type UpdateConfig struct {
	ManifestURL     string   `toml:"manifest_url"`
	LocalManifests  []string `toml:"local_manifests"`
	CurrentVersion  string   `toml:"current_version"`
	ManifestTimeout string   `toml:"manifest_timeout"`
	DownloadTimeout string   `toml:"download_timeout"`
	InstallerPrefix string   `toml:"installer_prefix"`
	TempDir         string   `toml:"temp_dir"`
}

// BackupConfig controls the scheduled backup driver.
type BackupConfig struct {
	// SnapshotSource is a state file the host keeps current. When set, the
	// scheduler copies it into the backups directory on every run.
	SnapshotSource       string `toml:"snapshot_source"`
	GracePeriod          string `toml:"grace_period"`
	TickInterval         string `toml:"tick_interval"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// LoggingConfig controls log output behavior: level, format, and file.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DataDir    *string // --data-dir flag
}

// Data directory layout.
const (
	tokenFileName    = "tokens.bin"
	credentialsDir   = "credentials"
	backupsDirName   = "backups"
	settingsFileName = "host_settings.json"
	journalFileName  = "journal.db"
	pidFileName      = "daemon.pid"
)

// TokenPath is the encrypted token file.
func (c *Config) TokenPath() string {
	return filepath.Join(c.DataDir, credentialsDir, tokenFileName)
}

// BackupsDir holds snapshots, daily archives, and downloaded backups.
func (c *Config) BackupsDir() string {
	return filepath.Join(c.DataDir, backupsDirName)
}

// SettingsPath is the host backup settings document.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, settingsFileName)
}

// JournalPath is the diagnostic event database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, journalFileName)
}

// PIDPath is the daemon lock file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, pidFileName)
}

// AuthorizationTimeout returns the parsed authorization wait.
func (c *Config) AuthorizationTimeout() time.Duration {
	return durationOr(c.OAuth.AuthorizationTimeout, defaultAuthorizationTimeout)
}

// ManifestTimeout returns the parsed manifest fetch timeout.
func (c *Config) ManifestTimeout() time.Duration {
	return durationOr(c.Update.ManifestTimeout, defaultManifestTimeout)
}

// DownloadTimeout returns the parsed installer download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return durationOr(c.Update.DownloadTimeout, defaultDownloadTimeout)
}

// GracePeriod returns the parsed snapshot wait.
func (c *Config) GracePeriod() time.Duration {
	return durationOr(c.Backup.GracePeriod, defaultGracePeriod)
}

// TickInterval returns the parsed scheduler interval.
func (c *Config) TickInterval() time.Duration {
	return durationOr(c.Backup.TickInterval, defaultTickInterval)
}

// ConnectTimeout returns the parsed dial timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return durationOr(c.Network.ConnectTimeout, defaultConnectTimeout)
}

// DataTimeout returns the parsed response header timeout.
func (c *Config) DataTimeout() time.Duration {
	return durationOr(c.Network.DataTimeout, defaultDataTimeout)
}

// durationOr parses s, falling back to def when s is empty or invalid.
// Validate has already rejected invalid values for loaded configs.
func durationOr(s, def string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	d, _ := time.ParseDuration(def)

	return d
}
