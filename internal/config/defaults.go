package config

import (
	"github.com/ledgerhost/ledgerhost/internal/auth"
	"github.com/ledgerhost/ledgerhost/internal/backup"
	"github.com/ledgerhost/ledgerhost/internal/drive"
	"github.com/ledgerhost/ledgerhost/internal/federation"
	"github.com/ledgerhost/ledgerhost/internal/idtoken"
	"github.com/ledgerhost/ledgerhost/internal/update"
)

// Default values for configuration options. These represent "layer 0" of
// the override chain. Endpoint defaults come from the packages that use
// them so there is a single source of truth.
const (
	defaultAuthorizationTimeout = "5m"
	defaultManifestTimeout      = "10s"
	defaultDownloadTimeout      = "10m"
	defaultGracePeriod          = "5s"
	defaultTickInterval         = "30m"
	defaultLogLevel             = "info"
	defaultLogFormat            = "auto"
	defaultConnectTimeout       = "10s"
	defaultDataTimeout          = "60s"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields retain defaults.
func DefaultConfig() *Config {
	return &Config{
		OAuth:      defaultOAuthConfig(),
		Federation: defaultFederationConfig(),
		Drive:      defaultDriveConfig(),
		Update:     defaultUpdateConfig(),
		Backup:     defaultBackupConfig(),
		Logging:    defaultLoggingConfig(),
		Network:    defaultNetworkConfig(),
	}
}

func defaultOAuthConfig() OAuthConfig {
	return OAuthConfig{
		AuthEndpoint:         auth.DefaultAuthURL,
		TokenEndpoint:        auth.DefaultTokenURL,
		JWKSEndpoint:         idtoken.DefaultJWKSURL,
		Scopes:               append([]string(nil), auth.DefaultScopes...),
		Issuers:              append([]string(nil), idtoken.DefaultIssuers...),
		AuthorizationTimeout: defaultAuthorizationTimeout,
	}
}

func defaultFederationConfig() FederationConfig {
	return FederationConfig{
		Endpoint:   federation.DefaultEndpoint,
		ProviderID: federation.DefaultProviderID,
		RequestURI: federation.DefaultRequestURI,
	}
}

func defaultDriveConfig() DriveConfig {
	return DriveConfig{
		APIURL:         drive.DefaultAPIURL,
		UploadURL:      drive.DefaultUploadURL,
		Space:          drive.DefaultSpace,
		Keep:           drive.DefaultKeep,
		FilePrefix:     drive.DefaultFilePrefix,
		DownloadPrefix: drive.DefaultDownloadPrefix,
	}
}

func defaultUpdateConfig() UpdateConfig {
	return UpdateConfig{
		ManifestTimeout: defaultManifestTimeout,
		DownloadTimeout: defaultDownloadTimeout,
		InstallerPrefix: update.DefaultPrefix,
	}
}

func defaultBackupConfig() BackupConfig {
	return BackupConfig{
		GracePeriod:          defaultGracePeriod,
		TickInterval:         defaultTickInterval,
		ArchiveRetentionDays: backup.DefaultArchiveRetentionDays,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
		UserAgent:      drive.DefaultUserAgent,
	}
}
