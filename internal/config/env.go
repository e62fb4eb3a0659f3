package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "LEDGERHOST_CONFIG"
	EnvDataDir      = "LEDGERHOST_DATA_DIR"
	EnvClientSecret = "LEDGERHOST_CLIENT_SECRET" //nolint:gosec // G101: variable name, not a credential
	EnvAPIKey       = "LEDGERHOST_API_KEY"
)

// EnvOverrides holds values derived from environment variables. Secrets are
// accepted here so they can stay out of the config file.
type EnvOverrides struct {
	ConfigPath   string // LEDGERHOST_CONFIG: override config file path
	DataDir      string // LEDGERHOST_DATA_DIR: data directory override
	ClientSecret string // LEDGERHOST_CLIENT_SECRET: OAuth client secret
	APIKey       string // LEDGERHOST_API_KEY: federation API key
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		DataDir:      os.Getenv(EnvDataDir),
		ClientSecret: os.Getenv(EnvClientSecret),
		APIKey:       os.Getenv(EnvAPIKey),
	}
}
