package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerhost/ledgerhost/internal/fault"
)

// Driver defaults.
const (
	DefaultTickInterval = 30 * time.Minute
	DefaultGracePeriod  = 5 * time.Second
	DefaultUploadKeep   = 3

	// mtimeSlack tolerates filesystems that store modification times at
	// two-second resolution.
	mtimeSlack = 2 * time.Second
)

// Uploader sends a snapshot to cloud storage under a retention tag.
type Uploader interface {
	UploadTagged(ctx context.Context, localPath, tag string, keep int) (string, error)
}

// DriverConfig configures a Driver. Zero fields take defaults.
type DriverConfig struct {
	// Dir is the backups directory snapshots appear in.
	Dir          string
	TickInterval time.Duration
	GracePeriod  time.Duration
	UploadKeep   int
}

// Skip reasons reported in RunResult.
const (
	SkipBusy       = "busy"
	SkipNotDue     = "not_due"
	SkipNoSnapshot = "no_snapshot"
)

// RunResult describes one scheduled cycle.
type RunResult struct {
	RequestID string
	// Skipped is empty when the cycle ran to completion.
	Skipped  string
	Snapshot Snapshot
	Archive  string
	Tag      string
	Uploaded bool
	RemoteID string
	// ArchiveErr and UploadErr are non-fatal: the cycle still counts as run.
	ArchiveErr error
	UploadErr  error
}

// Driver runs the scheduled backup cycle on a fixed interval.
type Driver struct {
	cfg       DriverConfig
	settings  *SettingsStore
	requester SnapshotRequester
	archiver  *Archiver
	uploader  Uploader
	logger    *slog.Logger

	running  atomic.Bool
	onResult func(RunResult, error)

	// Seams for tests.
	nowFunc  func() time.Time
	waitFunc func(ctx context.Context, dir string, grace time.Duration, logger *slog.Logger) error
}

// NewDriver returns a Driver. requester, archiver and uploader may be nil;
// a nil uploader disables auto-upload regardless of the settings.
func NewDriver(
	cfg DriverConfig, settings *SettingsStore, requester SnapshotRequester,
	archiver *Archiver, uploader Uploader, logger *slog.Logger,
) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}

	if cfg.UploadKeep <= 0 {
		cfg.UploadKeep = DefaultUploadKeep
	}

	return &Driver{
		cfg:       cfg,
		settings:  settings,
		requester: requester,
		archiver:  archiver,
		uploader:  uploader,
		logger:    logger,
		nowFunc:   time.Now,
		waitFunc:  waitForSnapshot,
	}
}

// OnResult registers a callback invoked after every scheduled cycle,
// including skipped ones. Must be called before Run.
func (d *Driver) OnResult(fn func(RunResult, error)) {
	d.onResult = fn
}

// Run checks once immediately, then on every tick until ctx is cancelled.
// It always returns nil; cycle failures are reported through OnResult and
// retried on the next tick.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("backup scheduler started",
		slog.Duration("interval", d.cfg.TickInterval),
		slog.String("dir", d.cfg.Dir),
	)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	d.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("backup scheduler stopped")
			return nil
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Driver) tick(ctx context.Context) {
	res, err := d.RunOnce(ctx, false)

	switch {
	case err != nil:
		d.logger.Warn("scheduled backup failed, retrying next tick", slog.String("error", err.Error()))
	case res.Skipped != "":
		d.logger.Debug("scheduled backup skipped", slog.String("reason", res.Skipped))
	}

	if d.onResult != nil {
		d.onResult(res, err)
	}
}

// RunOnce performs one cycle. Without force it does nothing unless the
// schedule is due. A cycle already in progress makes this call return
// immediately with Skipped set to SkipBusy. LastRunUtc is advanced only
// when a snapshot written for this cycle was found; an older file left in the
// directory does not count.
func (d *Driver) RunOnce(ctx context.Context, force bool) (RunResult, error) {
	if !d.running.CompareAndSwap(false, true) {
		return RunResult{Skipped: SkipBusy}, nil
	}
	defer d.running.Store(false)

	settings, err := d.settings.Load()
	if err != nil {
		d.logger.Warn("host settings unreadable, using defaults", slog.String("error", err.Error()))
	}

	now := d.nowFunc().UTC()
	if !force && !settings.Due(now) {
		return RunResult{Skipped: SkipNotDue}, nil
	}

	res := RunResult{RequestID: uuid.NewString(), Tag: settings.Tag()}

	if err := os.MkdirAll(d.cfg.Dir, 0o700); err != nil {
		return res, fault.New(fault.StorageFailure, "backup.run", err)
	}

	// Only a snapshot written after this point belongs to this cycle. Without
	// a requester the host writes on its own, so anything newer than the last
	// run is new.
	cutoff := settings.LastRunUtc

	if d.requester != nil {
		cutoff = now

		if reqErr := d.requester.RequestSnapshot(ctx, res.RequestID); reqErr != nil {
			d.logger.Warn("snapshot request failed",
				slog.String("request_id", res.RequestID),
				slog.String("error", reqErr.Error()),
			)

			res.Skipped = SkipNoSnapshot

			return res, fault.New(fault.StorageFailure, "backup.run", fmt.Errorf("requesting snapshot: %w", reqErr))
		}
	}

	if waitErr := d.waitFunc(ctx, d.cfg.Dir, d.cfg.GracePeriod, d.logger); waitErr != nil {
		return res, waitErr
	}

	snap, err := LatestSnapshot(d.cfg.Dir)
	if errors.Is(err, ErrNoSnapshot) {
		res.Skipped = SkipNoSnapshot
		return res, fault.New(fault.StorageFailure, "backup.run", err)
	}

	if err != nil {
		return res, fault.New(fault.StorageFailure, "backup.run", err)
	}

	if !cutoff.IsZero() && snap.ModTime.Before(cutoff.Add(-mtimeSlack)) {
		res.Skipped = SkipNoSnapshot

		return res, fault.Newf(fault.StorageFailure, "backup.run",
			"no snapshot written since %s (newest is %s)",
			cutoff.Format(time.RFC3339), filepath.Base(snap.Path))
	}

	res.Snapshot = snap

	if d.archiver != nil {
		res.Archive, res.ArchiveErr = d.archiver.Add(snap.Path)
		if res.ArchiveErr != nil {
			d.logger.Warn("archiving snapshot failed", slog.String("error", res.ArchiveErr.Error()))
		}
	}

	if settings.AutoUploadToDrive && d.uploader != nil {
		res.RemoteID, res.UploadErr = d.uploader.UploadTagged(ctx, snap.Path, res.Tag, d.cfg.UploadKeep)
		res.Uploaded = res.UploadErr == nil

		if res.UploadErr != nil {
			d.logger.Warn("scheduled upload failed",
				slog.String("tag", res.Tag),
				slog.String("error", res.UploadErr.Error()),
			)
		}
	}

	if _, err := d.settings.Update(func(s *Settings) { s.LastRunUtc = now }); err != nil {
		return res, err
	}

	d.logger.Info("scheduled backup complete",
		slog.String("request_id", res.RequestID),
		slog.String("snapshot", snap.Path),
		slog.Bool("uploaded", res.Uploaded),
	)

	return res, nil
}
