package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Validation range constants.
const (
	minAuthorizationTimeout = 30 * time.Second
	minManifestTimeout      = 1 * time.Second
	minDownloadTimeout      = 10 * time.Second
	minGracePeriod          = 0
	minTickInterval         = 1 * time.Minute
	minConnectTimeout       = 1 * time.Second
	minDataTimeout          = 5 * time.Second
	minDriveKeep            = 1
	maxDriveKeep            = 100
	minArchiveRetention     = 1
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateOAuth(&cfg.OAuth)...)
	errs = append(errs, validateFederation(&cfg.Federation)...)
	errs = append(errs, validateDrive(&cfg.Drive)...)
	errs = append(errs, validateUpdate(&cfg.Update)...)
	errs = append(errs, validateBackup(&cfg.Backup)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after the
// override chain has been applied.
func ValidateResolved(cfg *Config) error {
	var errs []error

	if cfg.DataDir == "" {
		errs = append(errs, errors.New("data_dir: could not determine a data directory; set LEDGERHOST_DATA_DIR"))
	} else if !filepath.IsAbs(cfg.DataDir) {
		errs = append(errs, fmt.Errorf("data_dir: must be absolute after expansion, got %q", cfg.DataDir))
	}

	if cfg.Federation.Enabled && cfg.Federation.APIKey == "" {
		errs = append(errs, errors.New("federation.api_key: required when federation is enabled"))
	}

	return errors.Join(errs...)
}

func validateOAuth(o *OAuthConfig) []error {
	var errs []error

	errs = append(errs, validateURL("oauth.auth_endpoint", o.AuthEndpoint)...)
	errs = append(errs, validateURL("oauth.token_endpoint", o.TokenEndpoint)...)
	errs = append(errs, validateURL("oauth.jwks_endpoint", o.JWKSEndpoint)...)

	if len(o.Scopes) == 0 {
		errs = append(errs, errors.New("oauth.scopes: must not be empty"))
	}

	if len(o.Issuers) == 0 {
		errs = append(errs, errors.New("oauth.issuers: must not be empty"))
	}

	errs = append(errs, validateDurationMin("oauth.authorization_timeout", o.AuthorizationTimeout, minAuthorizationTimeout)...)

	return errs
}

func validateFederation(f *FederationConfig) []error {
	var errs []error

	errs = append(errs, validateURL("federation.endpoint", f.Endpoint)...)

	if f.ProviderID == "" {
		errs = append(errs, errors.New("federation.provider_id: must not be empty"))
	}

	return errs
}

func validateDrive(d *DriveConfig) []error {
	var errs []error

	errs = append(errs, validateURL("drive.api_url", d.APIURL)...)
	errs = append(errs, validateURL("drive.upload_url", d.UploadURL)...)

	if d.Space == "" {
		errs = append(errs, errors.New("drive.space: must not be empty"))
	}

	if d.Keep < minDriveKeep || d.Keep > maxDriveKeep {
		errs = append(errs, fmt.Errorf("drive.keep: must be between %d and %d, got %d",
			minDriveKeep, maxDriveKeep, d.Keep))
	}

	errs = append(errs, validateFilePrefix("drive.file_prefix", d.FilePrefix)...)
	errs = append(errs, validateFilePrefix("drive.download_prefix", d.DownloadPrefix)...)

	return errs
}

// validateFilePrefix rejects prefixes that would break tag matching or
// escape the target directory.
func validateFilePrefix(field, prefix string) []error {
	if prefix == "" {
		return []error{fmt.Errorf("%s: must not be empty", field)}
	}

	if strings.ContainsAny(prefix, `/\`) {
		return []error{fmt.Errorf("%s: must not contain path separators, got %q", field, prefix)}
	}

	return nil
}

func validateUpdate(u *UpdateConfig) []error {
	var errs []error

	if u.ManifestURL != "" {
		errs = append(errs, validateURL("update.manifest_url", u.ManifestURL)...)
	}

	if u.CurrentVersion != "" {
		if _, err := semver.NewVersion(u.CurrentVersion); err != nil {
			errs = append(errs, fmt.Errorf("update.current_version: %q is not a version: %w", u.CurrentVersion, err))
		}
	}

	errs = append(errs, validateDurationMin("update.manifest_timeout", u.ManifestTimeout, minManifestTimeout)...)
	errs = append(errs, validateDurationMin("update.download_timeout", u.DownloadTimeout, minDownloadTimeout)...)
	errs = append(errs, validateFilePrefix("update.installer_prefix", u.InstallerPrefix)...)

	return errs
}

func validateBackup(b *BackupConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("backup.grace_period", b.GracePeriod, minGracePeriod)...)
	errs = append(errs, validateDurationMin("backup.tick_interval", b.TickInterval, minTickInterval)...)

	if b.ArchiveRetentionDays < minArchiveRetention {
		errs = append(errs, fmt.Errorf("backup.archive_retention_days: must be >= %d, got %d",
			minArchiveRetention, b.ArchiveRetentionDays))
	}

	return errs
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}
