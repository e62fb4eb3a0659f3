package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_AllFieldsPopulated(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Empty(t, cfg.DataDir)

	// OAuth defaults
	assert.Empty(t, cfg.OAuth.ClientID)
	assert.Equal(t, "https://accounts.google.com/o/oauth2/v2/auth", cfg.OAuth.AuthEndpoint)
	assert.Equal(t, "https://oauth2.googleapis.com/token", cfg.OAuth.TokenEndpoint)
	assert.Equal(t, "https://www.googleapis.com/oauth2/v3/certs", cfg.OAuth.JWKSEndpoint)
	assert.Contains(t, cfg.OAuth.Scopes, "openid")
	assert.Equal(t, []string{"https://accounts.google.com", "accounts.google.com"}, cfg.OAuth.Issuers)

	// Federation defaults
	assert.False(t, cfg.Federation.Enabled)
	assert.Equal(t, "google.com", cfg.Federation.ProviderID)
	assert.Equal(t, "http://localhost", cfg.Federation.RequestURI)

	// Drive defaults
	assert.Equal(t, "appDataFolder", cfg.Drive.Space)
	assert.Equal(t, 3, cfg.Drive.Keep)
	assert.Equal(t, "kams_backup", cfg.Drive.FilePrefix)
	assert.Equal(t, "kams_drive", cfg.Drive.DownloadPrefix)

	// Update defaults
	assert.Empty(t, cfg.Update.ManifestURL)
	assert.Equal(t, "ISPLedger_updater_", cfg.Update.InstallerPrefix)

	// Backup defaults
	assert.Equal(t, 10, cfg.Backup.ArchiveRetentionDays)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
	assert.Empty(t, cfg.Logging.LogFile)
}

func TestDefaultConfig_DoesNotAliasPackageDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OAuth.Scopes[0] = "mutated"

	assert.NotEqual(t, "mutated", DefaultConfig().OAuth.Scopes[0])
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5*time.Minute, cfg.AuthorizationTimeout())
	assert.Equal(t, 10*time.Second, cfg.ManifestTimeout())
	assert.Equal(t, 10*time.Minute, cfg.DownloadTimeout())
	assert.Equal(t, 5*time.Second, cfg.GracePeriod())
	assert.Equal(t, 30*time.Minute, cfg.TickInterval())
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 60*time.Second, cfg.DataTimeout())

	cfg.Backup.TickInterval = "garbage"
	assert.Equal(t, 30*time.Minute, cfg.TickInterval(), "invalid value falls back to default")

	cfg.Backup.TickInterval = "2h"
	assert.Equal(t, 2*time.Hour, cfg.TickInterval())
}
