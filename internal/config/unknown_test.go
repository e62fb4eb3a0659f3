package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	path := writeTestConfig(t, `
unknown_setting = "value"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, "[oauth]\nclient_idd = \"abc\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.Contains(t, err.Error(), `"client_id"`)
}

func TestLoad_UnknownKey_SectionKeyAtTopLevel(t *testing.T) {
	path := writeTestConfig(t, `manifest_url = "https://example.com/latest.json"`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[update]")
}

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, "[updat]\nmanifest_url = \"x\"\nchannel = \"beta\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean [update]?")
	assert.Equal(t, 1, countOccurrences(err.Error(), "[updat]"), "unknown section reported once")
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[backup]
completely_unrelated_key = true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func countOccurrences(s, sub string) int {
	n := 0

	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}

	return n
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"client_idd", "client_id", 1},
		{"grace_priod", "grace_period", 1},
		{"completely_different", "xyz", 19},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch_Found(t *testing.T) {
	known := []string{"log_file", "log_format", "log_level"}
	assert.Equal(t, "log_file", closestMatch("log_fil", known))
	assert.Equal(t, "log_level", closestMatch("loglevel", known))
}

func TestClosestMatch_NotFound(t *testing.T) {
	known := []string{"log_file", "log_level"}
	assert.Equal(t, "", closestMatch("completely_unrelated", known))
}
