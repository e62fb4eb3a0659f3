// Package backup drives periodic state snapshots: it owns the host backup
// settings document, decides when a snapshot is due, waits for the host to
// materialise it, rotates the local zip archives, and hands the snapshot to
// the cloud uploader when auto-upload is on.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ledgerhost/ledgerhost/internal/atomicfile"
	"github.com/ledgerhost/ledgerhost/internal/fault"
)

// settingsPerms: the document is not secret but belongs to one user.
const settingsPerms = 0o600

// Settings defaults.
const (
	DefaultScheduleDays      = 1
	DefaultUpdateCleanupDays = 7
	DefaultUpdateKeepLatest  = 1
)

// Settings is the persisted host backup configuration. Field names match
// the JSON document shared with the desktop shell.
type Settings struct {
	ScheduleDays      int       `json:"ScheduleDays"`
	AutoUploadToDrive bool      `json:"AutoUploadToDrive"`
	LastRunUtc        time.Time `json:"LastRunUtc"`
	UpdateCleanupDays int       `json:"UpdateCleanupDays"`
	UpdateKeepLatest  int       `json:"UpdateKeepLatest"`
}

// DefaultSettings returns the settings used when no document exists.
func DefaultSettings() Settings {
	return Settings{
		ScheduleDays:      DefaultScheduleDays,
		UpdateCleanupDays: DefaultUpdateCleanupDays,
		UpdateKeepLatest:  DefaultUpdateKeepLatest,
	}
}

// ValidScheduleDays reports whether days is one of the supported schedules.
func ValidScheduleDays(days int) bool {
	return days == 1 || days == 3 || days == 7
}

// Tag is the retention label for the schedule: D1, D3 or D7.
func (s Settings) Tag() string {
	switch s.ScheduleDays {
	case 1:
		return "D1"
	case 3:
		return "D3"
	default:
		return "D7"
	}
}

// Interval is the minimum time between two scheduled runs.
func (s Settings) Interval() time.Duration {
	return time.Duration(max(1, s.ScheduleDays)) * 24 * time.Hour
}

// Due reports whether a scheduled run should happen at now.
func (s Settings) Due(now time.Time) bool {
	return s.LastRunUtc.IsZero() || now.Sub(s.LastRunUtc) >= s.Interval()
}

func (s *Settings) normalize() {
	if !ValidScheduleDays(s.ScheduleDays) {
		s.ScheduleDays = DefaultScheduleDays
	}

	if s.UpdateKeepLatest < 0 {
		s.UpdateKeepLatest = DefaultUpdateKeepLatest
	}

	s.LastRunUtc = s.LastRunUtc.UTC()
}

// settingsDoc mirrors Settings with LastRunUtc kept as text so that
// timestamps written without a zone designator still load.
type settingsDoc struct {
	ScheduleDays      *int   `json:"ScheduleDays"`
	AutoUploadToDrive bool   `json:"AutoUploadToDrive"`
	LastRunUtc        string `json:"LastRunUtc"`
	UpdateCleanupDays *int   `json:"UpdateCleanupDays"`
	UpdateKeepLatest  *int   `json:"UpdateKeepLatest"`
}

var lastRunLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

func parseLastRun(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}

	for _, layout := range lastRunLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("backup: unrecognised LastRunUtc %q", raw)
}

// decodeSettings applies the document over the defaults. Fields missing
// from the document keep their default values.
func decodeSettings(data []byte) (Settings, error) {
	var doc settingsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Settings{}, fmt.Errorf("backup: decoding settings: %w", err)
	}

	s := DefaultSettings()
	s.AutoUploadToDrive = doc.AutoUploadToDrive

	if doc.ScheduleDays != nil {
		s.ScheduleDays = *doc.ScheduleDays
	}

	if doc.UpdateCleanupDays != nil {
		s.UpdateCleanupDays = *doc.UpdateCleanupDays
	}

	if doc.UpdateKeepLatest != nil {
		s.UpdateKeepLatest = *doc.UpdateKeepLatest
	}

	last, err := parseLastRun(doc.LastRunUtc)
	if err != nil {
		return Settings{}, err
	}

	s.LastRunUtc = last
	s.normalize()

	return s, nil
}

// SettingsStore reads and rewrites the settings document. Every change is
// written atomically; Update serialises read-modify-write cycles within the
// process.
type SettingsStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewSettingsStore returns a store for the document at path.
func NewSettingsStore(path string, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &SettingsStore{path: path, logger: logger}
}

// Path returns the document location.
func (s *SettingsStore) Path() string {
	return s.path
}

// Load returns the stored settings, or the defaults when the document does
// not exist. A corrupt document is reported as a StorageFailure.
func (s *SettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

func (s *SettingsStore) load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultSettings(), nil
	}

	if err != nil {
		return DefaultSettings(), fault.New(fault.StorageFailure, "backup.settings.load", err)
	}

	settings, err := decodeSettings(data)
	if err != nil {
		return DefaultSettings(), fault.New(fault.StorageFailure, "backup.settings.load", err)
	}

	return settings, nil
}

// Save normalises and writes settings.
func (s *SettingsStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(settings)
}

func (s *SettingsStore) save(settings Settings) error {
	settings.normalize()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fault.New(fault.StorageFailure, "backup.settings.save", err)
	}

	if err := atomicfile.Write(s.path, data, settingsPerms); err != nil {
		return fault.New(fault.StorageFailure, "backup.settings.save", err)
	}

	s.logger.Debug("host settings saved", slog.String("path", s.path))

	return nil
}

// Update loads the settings, applies fn, and saves the result. A corrupt
// document is replaced by defaults before fn runs so the user can always
// recover by changing a setting.
func (s *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.load()
	if err != nil {
		s.logger.Warn("host settings unreadable, starting from defaults",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
	}

	fn(&settings)

	if err := s.save(settings); err != nil {
		return settings, err
	}

	settings.normalize()

	return settings, nil
}
