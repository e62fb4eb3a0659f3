package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

// historyRetention bounds how long diagnostic events are kept.
const historyRetention = 90 * 24 * time.Hour

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the backup scheduler in the foreground",
		Long: `Runs the scheduled backup driver until interrupted. A backup is taken
when the configured schedule is due, checked every tick interval. Only one
daemon may run per data directory.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	s, logger, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	lock, err := acquireDaemonLock(s.Config.PIDPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	if n, _ := s.Service.CleanupInstallers(ctx); n > 0 {
		logger.Info("startup installer cleanup", slog.Int("removed", n))
	}

	if n, _ := s.Service.PruneHistory(ctx, historyRetention); n > 0 {
		logger.Info("startup journal prune", slog.Int64("removed", n))
	}

	if snap, res := s.Service.LatestLocalSnapshot(ctx); res.OK {
		logger.Info("latest local snapshot",
			slog.String("path", snap.Path),
			slog.Time("modified", snap.ModTime),
		)
	}

	logger.Info("daemon started", slog.String("data_dir", s.Config.DataDir), slog.String("version", version))

	if err := s.Service.RunScheduler(ctx); err != nil {
		return err
	}

	logger.Info("daemon stopped")

	return nil
}
