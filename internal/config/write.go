package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ledgerhost/ledgerhost/internal/atomicfile"
)

// configFilePermissions keeps client secrets and API keys private.
const configFilePermissions = 0o600

// ErrConfigExists is returned by WriteDefault when the target file is
// already present.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate is the config file written by "config init". Every option
// is present as a commented-out default so users can discover settings
// without reading docs. The file is written once and never regenerated.
const configTemplate = `# ledgerhost configuration
# Uncomment and modify to override defaults.

# Directory for tokens, backups, host settings and the journal.
# data_dir = ""

[oauth]
# OAuth client registration for this installation. The secret may also be
# supplied through LEDGERHOST_CLIENT_SECRET.
# client_id = ""
# client_secret = ""
# auth_endpoint = %[1]q
# token_endpoint = %[2]q
# jwks_endpoint = %[3]q
# authorization_timeout = %[4]q

[federation]
# Backend sign-in after authorization. The key may also be supplied through
# LEDGERHOST_API_KEY.
# enabled = false
# api_key = ""
# endpoint = %[5]q

[drive]
# Number of backups kept per schedule tag.
# keep = %[6]d
# file_prefix = %[7]q

[update]
# manifest_url = ""
# current_version = ""
# manifest_timeout = %[8]q
# download_timeout = %[9]q

[backup]
# State file copied into the backups directory on every scheduled run.
# snapshot_source = ""
# grace_period = %[10]q
# tick_interval = %[11]q
# archive_retention_days = %[12]d

[logging]
# log_level: debug, info, warn, error
# log_level = %[13]q
# log_format: auto, text, json
# log_format = %[14]q
# log_file = ""

[network]
# connect_timeout = %[15]q
# data_timeout = %[16]q
`

// renderTemplate fills the template with the current defaults.
func renderTemplate() string {
	d := DefaultConfig()

	return fmt.Sprintf(configTemplate,
		d.OAuth.AuthEndpoint,
		d.OAuth.TokenEndpoint,
		d.OAuth.JWKSEndpoint,
		d.OAuth.AuthorizationTimeout,
		d.Federation.Endpoint,
		d.Drive.Keep,
		d.Drive.FilePrefix,
		d.Update.ManifestTimeout,
		d.Update.DownloadTimeout,
		d.Backup.GracePeriod,
		d.Backup.TickInterval,
		d.Backup.ArchiveRetentionDays,
		d.Logging.LogLevel,
		d.Logging.LogFormat,
		d.Network.ConnectTimeout,
		d.Network.DataTimeout,
	)
}

// WriteDefault creates a commented default config file at path. An existing
// file is never overwritten. Parent directories are created as needed.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	slog.Info("creating config file", "path", path)

	if err := atomicfile.Write(path, []byte(renderTemplate()), configFilePermissions); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
