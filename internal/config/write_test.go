package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDefault_CreatesCommentedTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, WriteDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "# ledgerhost configuration")
	assert.Contains(t, content, `# log_level = "info"`)
	assert.Contains(t, content, `# tick_interval = "30m"`)
	assert.Contains(t, content, "# keep = 3")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())
}

func TestWriteDefault_RoundTripYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestWriteDefault_RefusesToOverwrite(t *testing.T) {
	path := writeTestConfig(t, "data_dir = \"/keep/me\"\n")

	err := WriteDefault(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigExists)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "data_dir = \"/keep/me\"\n", string(data))
}
