package config

import (
	"fmt"
	"io"
	"strings"
)

// redacted replaces secret values in rendered output.
const redacted = "(set)"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied. Secrets are never
// printed, only whether they are set.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")
	ew.printf("data_dir = %q\n\n", cfg.DataDir)

	renderOAuthSection(ew, &cfg.OAuth)
	renderFederationSection(ew, &cfg.Federation)
	renderDriveSection(ew, &cfg.Drive)
	renderUpdateSection(ew, &cfg.Update)
	renderBackupSection(ew, &cfg.Backup)
	renderLoggingSection(ew, &cfg.Logging)
	renderNetworkSection(ew, &cfg.Network)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func secret(value string) string {
	if value == "" {
		return ""
	}

	return redacted
}

func renderOAuthSection(ew *errWriter, o *OAuthConfig) {
	ew.printf("[oauth]\n")
	ew.printf("  client_id             = %q\n", o.ClientID)
	ew.printf("  client_secret         = %q\n", secret(o.ClientSecret))
	ew.printf("  auth_endpoint         = %q\n", o.AuthEndpoint)
	ew.printf("  token_endpoint        = %q\n", o.TokenEndpoint)
	ew.printf("  jwks_endpoint         = %q\n", o.JWKSEndpoint)
	ew.printf("  scopes                = [%s]\n", joinQuoted(o.Scopes))
	ew.printf("  issuers               = [%s]\n", joinQuoted(o.Issuers))
	ew.printf("  authorization_timeout = %q\n", o.AuthorizationTimeout)
	ew.printf("\n")
}

func renderFederationSection(ew *errWriter, f *FederationConfig) {
	ew.printf("[federation]\n")
	ew.printf("  enabled     = %t\n", f.Enabled)
	ew.printf("  endpoint    = %q\n", f.Endpoint)
	ew.printf("  api_key     = %q\n", secret(f.APIKey))
	ew.printf("  provider_id = %q\n", f.ProviderID)
	ew.printf("  request_uri = %q\n", f.RequestURI)
	ew.printf("\n")
}

func renderDriveSection(ew *errWriter, d *DriveConfig) {
	ew.printf("[drive]\n")
	ew.printf("  api_url         = %q\n", d.APIURL)
	ew.printf("  upload_url      = %q\n", d.UploadURL)
	ew.printf("  space           = %q\n", d.Space)
	ew.printf("  keep            = %d\n", d.Keep)
	ew.printf("  file_prefix     = %q\n", d.FilePrefix)
	ew.printf("  download_prefix = %q\n", d.DownloadPrefix)
	ew.printf("\n")
}

func renderUpdateSection(ew *errWriter, u *UpdateConfig) {
	ew.printf("[update]\n")

	if u.ManifestURL != "" {
		ew.printf("  manifest_url     = %q\n", u.ManifestURL)
	}

	if len(u.LocalManifests) > 0 {
		ew.printf("  local_manifests  = [%s]\n", joinQuoted(u.LocalManifests))
	}

	if u.CurrentVersion != "" {
		ew.printf("  current_version  = %q\n", u.CurrentVersion)
	}

	ew.printf("  manifest_timeout = %q\n", u.ManifestTimeout)
	ew.printf("  download_timeout = %q\n", u.DownloadTimeout)
	ew.printf("  installer_prefix = %q\n", u.InstallerPrefix)

	if u.TempDir != "" {
		ew.printf("  temp_dir         = %q\n", u.TempDir)
	}

	ew.printf("\n")
}

func renderBackupSection(ew *errWriter, b *BackupConfig) {
	ew.printf("[backup]\n")

	if b.SnapshotSource != "" {
		ew.printf("  snapshot_source        = %q\n", b.SnapshotSource)
	}

	ew.printf("  grace_period           = %q\n", b.GracePeriod)
	ew.printf("  tick_interval          = %q\n", b.TickInterval)
	ew.printf("  archive_retention_days = %d\n", b.ArchiveRetentionDays)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file   = %q\n", l.LogFile)
	}

	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
