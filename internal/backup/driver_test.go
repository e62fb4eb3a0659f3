package backup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerhost/ledgerhost/internal/fault"
)

type fakeUploader struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeUploader) UploadTagged(_ context.Context, localPath, tag string, keep int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, filepath.Base(localPath)+"|"+tag+"|"+strconv.Itoa(keep))

	if f.err != nil {
		return "", f.err
	}

	return "remote-1", nil
}

// requesterFunc adapts a function to SnapshotRequester.
type requesterFunc func(ctx context.Context, id string) error

func (f requesterFunc) RequestSnapshot(ctx context.Context, id string) error { return f(ctx, id) }

type driverFixture struct {
	dir      string
	now      time.Time
	settings *SettingsStore
	uploader *fakeUploader
	driver   *Driver
}

func newDriverFixture(t *testing.T, requester SnapshotRequester) *driverFixture {
	t.Helper()

	dir := t.TempDir()
	now := time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)

	settings := NewSettingsStore(filepath.Join(t.TempDir(), "host_settings.json"), nil)
	archiver := NewArchiver(dir, 0, nil)
	archiver.nowFunc = func() time.Time { return now }

	up := &fakeUploader{}

	d := NewDriver(DriverConfig{Dir: dir}, settings, requester, archiver, up, nil)
	d.nowFunc = func() time.Time { return now }
	d.waitFunc = func(context.Context, string, time.Duration, *slog.Logger) error { return nil }

	return &driverFixture{dir: dir, now: now, settings: settings, uploader: up, driver: d}
}

func TestDriver_RunsWhenNeverRunAndRecordsLastRun(t *testing.T) {
	var fx *driverFixture

	fx = newDriverFixture(t, requesterFunc(func(_ context.Context, id string) error {
		assert.NotEmpty(t, id)
		writeSnapshot(t, fx.dir, "kams_state_20260710_120000.json", 0, fx.now)

		return nil
	}))

	_, err := fx.settings.Update(func(s *Settings) {
		s.ScheduleDays = 3
		s.AutoUploadToDrive = true
	})
	require.NoError(t, err)

	res, err := fx.driver.RunOnce(context.Background(), false)
	require.NoError(t, err)

	assert.Empty(t, res.Skipped)
	assert.Equal(t, "D3", res.Tag)
	assert.True(t, res.Uploaded)
	assert.Equal(t, "remote-1", res.RemoteID)
	assert.FileExists(t, res.Archive)
	assert.Equal(t, []string{"kams_state_20260710_120000.json|D3|3"}, fx.uploader.calls)

	s, err := fx.settings.Load()
	require.NoError(t, err)
	assert.Equal(t, fx.now, s.LastRunUtc)
}

func TestDriver_NotDue(t *testing.T) {
	fx := newDriverFixture(t, requesterFunc(func(context.Context, string) error {
		t.Fatal("no snapshot should be requested")
		return nil
	}))

	_, err := fx.settings.Update(func(s *Settings) { s.LastRunUtc = fx.now.Add(-time.Hour) })
	require.NoError(t, err)

	res, err := fx.driver.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, SkipNotDue, res.Skipped)
}

func TestDriver_ForceIgnoresSchedule(t *testing.T) {
	fx := newDriverFixture(t, nil)
	writeSnapshot(t, fx.dir, "kams_state_20260710_110000.json", time.Minute, fx.now)

	_, err := fx.settings.Update(func(s *Settings) { s.LastRunUtc = fx.now.Add(-time.Hour) })
	require.NoError(t, err)

	res, err := fx.driver.RunOnce(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, res.Skipped)
	assert.False(t, res.Uploaded, "auto-upload is off by default")
	assert.Empty(t, fx.uploader.calls)
}

func TestDriver_NoSnapshotLeavesLastRunUntouched(t *testing.T) {
	fx := newDriverFixture(t, requesterFunc(func(context.Context, string) error {
		return errors.New("host not ready")
	}))

	res, err := fx.driver.RunOnce(context.Background(), false)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.StorageFailure))
	assert.Equal(t, SkipNoSnapshot, res.Skipped)

	s, err := fx.settings.Load()
	require.NoError(t, err)
	assert.True(t, s.LastRunUtc.IsZero(), "a failed cycle must be retried next tick")
}

func TestDriver_FailedRequestIgnoresLeftoverSnapshot(t *testing.T) {
	var fx *driverFixture

	fx = newDriverFixture(t, requesterFunc(func(context.Context, string) error {
		return errors.New("host not ready")
	}))

	writeSnapshot(t, fx.dir, "kams_state_20260707_120000.json", 72*time.Hour, fx.now)

	lastRun := fx.now.Add(-72 * time.Hour)
	_, err := fx.settings.Update(func(s *Settings) {
		s.LastRunUtc = lastRun
		s.AutoUploadToDrive = true
	})
	require.NoError(t, err)

	res, err := fx.driver.RunOnce(context.Background(), false)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.StorageFailure))
	assert.Equal(t, SkipNoSnapshot, res.Skipped)
	assert.False(t, res.Uploaded)
	assert.Empty(t, fx.uploader.calls)
	assert.NoFileExists(t, fx.driver.archiver.ArchivePath(fx.now))

	s, err := fx.settings.Load()
	require.NoError(t, err)
	assert.True(t, s.LastRunUtc.Equal(lastRun), "the cycle must be retried next tick")
}

func TestDriver_AnsweredRequestWithoutNewFileIsNotARun(t *testing.T) {
	fx := newDriverFixture(t, requesterFunc(func(context.Context, string) error { return nil }))
	writeSnapshot(t, fx.dir, "kams_state_20260709_120000.json", 24*time.Hour, fx.now)

	_, err := fx.settings.Update(func(s *Settings) { s.AutoUploadToDrive = true })
	require.NoError(t, err)

	res, err := fx.driver.RunOnce(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, SkipNoSnapshot, res.Skipped)
	assert.Contains(t, err.Error(), "kams_state_20260709_120000.json")
	assert.Empty(t, fx.uploader.calls)

	s, err := fx.settings.Load()
	require.NoError(t, err)
	assert.True(t, s.LastRunUtc.IsZero())
}

func TestDriver_WithoutRequesterSkipsSnapshotAlreadyBackedUp(t *testing.T) {
	fx := newDriverFixture(t, nil)
	writeSnapshot(t, fx.dir, "kams_state_20260709_120000.json", 24*time.Hour, fx.now)

	_, err := fx.settings.Update(func(s *Settings) { s.LastRunUtc = fx.now.Add(-2 * time.Hour) })
	require.NoError(t, err)

	res, err := fx.driver.RunOnce(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, SkipNoSnapshot, res.Skipped)
}

func TestDriver_UploadFailureStillCountsAsRun(t *testing.T) {
	fx := newDriverFixture(t, nil)
	fx.uploader.err = fault.Newf(fault.NetworkFailure, "drive.upload", "offline")
	writeSnapshot(t, fx.dir, "kams_state_20260710_110000.json", 0, fx.now)

	_, err := fx.settings.Update(func(s *Settings) { s.AutoUploadToDrive = true })
	require.NoError(t, err)

	res, err := fx.driver.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, res.Uploaded)
	assert.True(t, fault.Is(res.UploadErr, fault.NetworkFailure))

	s, err := fx.settings.Load()
	require.NoError(t, err)
	assert.Equal(t, fx.now, s.LastRunUtc)
}

func TestDriver_OverlappingCyclesAreSkipped(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})

	fx := newDriverFixture(t, nil)
	writeSnapshot(t, fx.dir, "kams_state_20260710_110000.json", 0, fx.now)

	fx.driver.waitFunc = func(context.Context, string, time.Duration, *slog.Logger) error {
		close(entered)
		<-release

		return nil
	}

	done := make(chan error, 1)

	go func() {
		_, err := fx.driver.RunOnce(context.Background(), true)
		done <- err
	}()

	<-entered

	res, err := fx.driver.RunOnce(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, SkipBusy, res.Skipped)

	close(release)
	require.NoError(t, <-done)
}

func TestDriver_RunChecksImmediatelyAndStopsOnCancel(t *testing.T) {
	fx := newDriverFixture(t, nil)
	writeSnapshot(t, fx.dir, "kams_state_20260710_110000.json", 0, fx.now)

	var cycles atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())

	fx.driver.OnResult(func(res RunResult, err error) {
		assert.NoError(t, err)
		assert.Empty(t, res.Skipped)
		cycles.Add(1)
		cancel()
	})

	require.NoError(t, fx.driver.Run(ctx))
	assert.Equal(t, int32(1), cycles.Load())
}

func TestDriver_CreatesBackupsDir(t *testing.T) {
	fx := newDriverFixture(t, nil)
	fx.driver.cfg.Dir = filepath.Join(fx.dir, "sub")

	_, err := fx.driver.RunOnce(context.Background(), true)
	require.Error(t, err)

	info, statErr := os.Stat(fx.driver.cfg.Dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}
