package host

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/ledgerhost/ledgerhost/internal/backup"
	"github.com/ledgerhost/ledgerhost/internal/drive"
	"github.com/ledgerhost/ledgerhost/internal/fault"
	"github.com/ledgerhost/ledgerhost/internal/journal"
)

// ListBackups returns the remote backups in the application space.
func (s *Service) ListBackups(ctx context.Context) ([]drive.File, Result) {
	files, err := s.deps.Drive.List(ctx)
	if err != nil {
		return nil, s.fail(ctx, "drive.list", err)
	}

	return files, Result{OK: true}
}

// UploadBackup uploads localPath, or the newest local snapshot when
// localPath is empty. With tagged set, the upload carries the current
// schedule tag and older tagged copies beyond the retention count are
// removed.
func (s *Service) UploadBackup(ctx context.Context, localPath string, tagged bool) (string, Result) {
	const op = "drive.upload"

	if localPath == "" {
		snap, err := backup.LatestSnapshot(s.deps.BackupsDir)
		if err != nil {
			return "", s.fail(ctx, op, fault.New(fault.StorageFailure, op, err))
		}

		localPath = snap.Path
	}

	var (
		id  string
		err error
	)

	if tagged {
		settings, _ := s.deps.Settings.Load()
		id, err = s.deps.Drive.UploadTagged(ctx, localPath, settings.Tag(), s.deps.UploadKeep)
	} else {
		id, err = s.deps.Drive.Upload(ctx, localPath)
	}

	if err != nil {
		return "", s.fail(ctx, op, err)
	}

	return id, s.succeed(ctx, op, "uploaded "+filepath.Base(localPath))
}

// DownloadBackup fetches a remote backup into the backups directory and
// returns the local path.
func (s *Service) DownloadBackup(ctx context.Context, fileID string) (string, Result) {
	const op = "drive.download"

	path, err := s.deps.Drive.Download(ctx, fileID, s.deps.BackupsDir)
	if err != nil {
		return "", s.fail(ctx, op, err)
	}

	return path, s.succeed(ctx, op, "downloaded to "+filepath.Base(path))
}

// DeleteBackup removes one remote backup.
func (s *Service) DeleteBackup(ctx context.Context, fileID string) Result {
	const op = "drive.delete"

	if err := s.deps.Drive.Delete(ctx, fileID); err != nil {
		return s.fail(ctx, op, err)
	}

	return s.succeed(ctx, op, "deleted "+fileID)
}

// LatestLocalSnapshot returns the newest snapshot in the backups directory,
// which a host can offer to restore on startup.
func (s *Service) LatestLocalSnapshot(ctx context.Context) (backup.Snapshot, Result) {
	snap, err := backup.LatestSnapshot(s.deps.BackupsDir)
	if errors.Is(err, backup.ErrNoSnapshot) {
		return backup.Snapshot{}, Result{Kind: fault.StorageFailure, Message: "no local snapshot found"}
	}

	if err != nil {
		return backup.Snapshot{}, s.fail(ctx, "backup.latest", fault.New(fault.StorageFailure, "backup.latest", err))
	}

	return snap, Result{OK: true}
}

// BackupNow runs one backup cycle immediately, ignoring the schedule.
func (s *Service) BackupNow(ctx context.Context) (backup.RunResult, Result) {
	res, err := s.deps.Scheduler.RunOnce(ctx, true)
	return res, s.runResult(ctx, res, err)
}

// RunScheduler runs the backup scheduler until ctx is cancelled, recording
// every cycle in the journal.
func (s *Service) RunScheduler(ctx context.Context) error {
	s.deps.Scheduler.OnResult(func(res backup.RunResult, err error) {
		s.runResult(ctx, res, err)
	})

	return s.deps.Scheduler.Run(ctx)
}

// runResult converts one cycle into a Result. Skips caused by the schedule
// or an overlapping cycle are not failures and are not recorded.
func (s *Service) runResult(ctx context.Context, res backup.RunResult, err error) Result {
	const op = "backup.run"

	if err != nil {
		return s.fail(ctx, op, err)
	}

	switch res.Skipped {
	case backup.SkipNotDue:
		return Result{OK: true, Message: "backup not due yet"}
	case backup.SkipBusy:
		return Result{OK: true, Message: "a backup is already running"}
	}

	if res.ArchiveErr != nil {
		s.fail(ctx, "backup.archive", res.ArchiveErr)
	}

	if res.UploadErr != nil {
		s.fail(ctx, "drive.upload", res.UploadErr)
	}

	msg := "backup completed: " + filepath.Base(res.Snapshot.Path)
	if res.Uploaded {
		msg += " (uploaded as " + res.Tag + ")"
	}

	s.logger.Debug("backup cycle finished",
		slog.String("request_id", res.RequestID),
		slog.Bool("uploaded", res.Uploaded),
	)

	s.record(ctx, journal.Event{Op: op, OK: true, Message: msg})

	return Result{OK: true, Message: msg}
}

// BackupIfDue runs one backup cycle only when the schedule says one is due.
func (s *Service) BackupIfDue(ctx context.Context) (backup.RunResult, Result) {
	res, err := s.deps.Scheduler.RunOnce(ctx, false)
	return res, s.runResult(ctx, res, err)
}
