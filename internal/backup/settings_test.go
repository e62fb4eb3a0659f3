package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerhost/ledgerhost/internal/fault"
)

func TestSettingsStore_LoadMissingReturnsDefaults(t *testing.T) {
	store := NewSettingsStore(filepath.Join(t.TempDir(), "host_settings.json"), nil)

	s, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, 1, s.ScheduleDays)
	assert.False(t, s.AutoUploadToDrive)
	assert.True(t, s.LastRunUtc.IsZero())
	assert.Equal(t, 7, s.UpdateCleanupDays)
	assert.Equal(t, 1, s.UpdateKeepLatest)
}

func TestSettingsStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "host_settings.json")
	store := NewSettingsStore(path, nil)

	want := Settings{
		ScheduleDays:      3,
		AutoUploadToDrive: true,
		LastRunUtc:        time.Date(2026, 7, 1, 8, 30, 0, 0, time.UTC),
		UpdateCleanupDays: 14,
		UpdateKeepLatest:  2,
	}

	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(settingsPerms), info.Mode().Perm())
}

func TestSettingsStore_AcceptsZonelessTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_settings.json")
	doc := `{"ScheduleDays":7,"AutoUploadToDrive":true,"LastRunUtc":"0001-01-01T00:00:00",` +
		`"UpdateCleanupDays":7,"UpdateKeepLatest":1}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := NewSettingsStore(path, nil).Load()
	require.NoError(t, err)
	assert.True(t, s.LastRunUtc.IsZero())
	assert.Equal(t, 7, s.ScheduleDays)

	doc = `{"LastRunUtc":"2026-03-04T05:06:07.1234567"}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err = NewSettingsStore(path, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 5, 6, 7, 123456700, time.UTC), s.LastRunUtc)
	assert.Equal(t, DefaultScheduleDays, s.ScheduleDays, "missing fields keep defaults")
	assert.Equal(t, DefaultUpdateCleanupDays, s.UpdateCleanupDays)
}

func TestSettingsStore_NormalisesScheduleDays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ScheduleDays":5}`), 0o600))

	s, err := NewSettingsStore(path, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, 1, s.ScheduleDays)
}

func TestSettingsStore_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewSettingsStore(path, nil)

	s, err := store.Load()
	assert.True(t, fault.Is(err, fault.StorageFailure))
	assert.Equal(t, DefaultSettings(), s)

	updated, err := store.Update(func(s *Settings) { s.AutoUploadToDrive = true })
	require.NoError(t, err)
	assert.True(t, updated.AutoUploadToDrive)

	reloaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, reloaded.AutoUploadToDrive)
}

func TestSettings_Tag(t *testing.T) {
	assert.Equal(t, "D1", Settings{ScheduleDays: 1}.Tag())
	assert.Equal(t, "D3", Settings{ScheduleDays: 3}.Tag())
	assert.Equal(t, "D7", Settings{ScheduleDays: 7}.Tag())
}

func TestSettings_Due(t *testing.T) {
	now := time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		days    int
		lastRun time.Time
		want    bool
	}{
		{"never run", 1, time.Time{}, true},
		{"one day schedule after 25h", 1, now.Add(-25 * time.Hour), true},
		{"one day schedule after 23h", 1, now.Add(-23 * time.Hour), false},
		{"exactly three days", 3, now.Add(-72 * time.Hour), true},
		{"weekly after six days", 7, now.Add(-6 * 24 * time.Hour), false},
		{"zero days treated as one", 0, now.Add(-24 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{ScheduleDays: tt.days, LastRunUtc: tt.lastRun}
			assert.Equal(t, tt.want, s.Due(now))
		})
	}
}
