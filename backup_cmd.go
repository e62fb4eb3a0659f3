package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ledgerhost/ledgerhost/internal/backup"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, upload and restore state backups",
	}

	cmd.AddCommand(newBackupNowCmd())
	cmd.AddCommand(newBackupRunCmd())
	cmd.AddCommand(newBackupUploadCmd())
	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupLatestCmd())
	cmd.AddCommand(newBackupDownloadCmd())
	cmd.AddCommand(newBackupDeleteCmd())

	return cmd
}

func newBackupNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Run one backup cycle immediately, ignoring the schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBackupCycle(cmd, true)
		},
	}
}

func newBackupRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one backup cycle if the schedule says one is due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBackupCycle(cmd, false)
		},
	}
}

// backupRunOutput is the JSON schema for `backup now|run --json`.
type backupRunOutput struct {
	Skipped  string `json:"skipped,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
	Archive  string `json:"archive,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Uploaded bool   `json:"uploaded"`
	RemoteID string `json:"remote_id,omitempty"`
}

func runBackupCycle(cmd *cobra.Command, force bool) error {
	s, _, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	run := s.Service.BackupIfDue
	if force {
		run = s.Service.BackupNow
	}

	rr, res := run(cmd.Context())
	if !res.OK {
		return resultErr(res)
	}

	if flagJSON {
		return printJSON(os.Stdout, backupRunOutput{
			Skipped:  rr.Skipped,
			Snapshot: rr.Snapshot.Path,
			Archive:  rr.Archive,
			Tag:      rr.Tag,
			Uploaded: rr.Uploaded,
			RemoteID: rr.RemoteID,
		})
	}

	return resultErr(res)
}

func newBackupUploadCmd() *cobra.Command {
	var tagged bool

	cmd := &cobra.Command{
		Use:   "upload [path]",
		Short: "Upload a backup file (default: the newest local snapshot)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			var path string
			if len(args) == 1 {
				path = args[0]
			}

			id, res := s.Service.UploadBackup(cmd.Context(), path, tagged)
			if res.OK && flagJSON {
				return printJSON(os.Stdout, map[string]string{"id": id})
			}

			return resultErr(res)
		},
	}

	cmd.Flags().BoolVar(&tagged, "tagged", false, "tag with the backup schedule and apply retention")

	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups stored in Drive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			files, res := s.Service.ListBackups(cmd.Context())
			if !res.OK {
				return resultErr(res)
			}

			if flagJSON {
				return printJSON(os.Stdout, files)
			}

			if len(files) == 0 {
				statusf("No backups in Drive.\n")
				return nil
			}

			rows := make([][]string, 0, len(files))
			for _, f := range files {
				rows = append(rows, []string{f.Name, f.ID, formatTime(f.ModifiedTime)})
			}

			printTable(os.Stdout, []string{"NAME", "ID", "MODIFIED"}, rows)

			return nil
		},
	}
}

func newBackupLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Show the newest local snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			snap, res := s.Service.LatestLocalSnapshot(cmd.Context())
			if !res.OK {
				return resultErr(res)
			}

			if flagJSON {
				return printJSON(os.Stdout, snap)
			}

			printSnapshot(snap)

			return nil
		},
	}
}

func printSnapshot(snap backup.Snapshot) {
	fmt.Printf("%s  %s  %s\n", filepath.Base(snap.Path), formatSize(snap.Size), formatAge(snap.ModTime))
}

func newBackupDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <file-id>",
		Short: "Download a backup from Drive into the backups directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			path, res := s.Service.DownloadBackup(cmd.Context(), args[0])
			if !res.OK {
				return resultErr(res)
			}

			fmt.Println(path)

			return nil
		},
	}
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete a backup from Drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			return resultErr(s.Service.DeleteBackup(cmd.Context(), args[0]))
		},
	}
}
