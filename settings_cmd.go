package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerhost/ledgerhost/internal/backup"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the backup schedule and update cleanup",
	}

	cmd.AddCommand(newSettingsShowCmd())
	cmd.AddCommand(newSettingsSetCmd())

	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the host backup settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			settings, res := s.Service.Settings(cmd.Context())
			if !res.OK {
				statusf("warning: %s; showing defaults\n", res.Message)
			}

			if flagJSON {
				return printJSON(os.Stdout, settings)
			}

			printSettings(settings)

			return nil
		},
	}
}

func printSettings(st backup.Settings) {
	fmt.Printf("Schedule:             every %d day(s) (tag %s)\n", st.ScheduleDays, st.Tag())
	fmt.Printf("Auto-upload to Drive: %t\n", st.AutoUploadToDrive)
	fmt.Printf("Last run:             %s\n", formatAge(st.LastRunUtc))
	fmt.Printf("Installer cleanup:    after %d day(s), keep %d\n", st.UpdateCleanupDays, st.UpdateKeepLatest)
}

func newSettingsSetCmd() *cobra.Command {
	var (
		scheduleDays int
		autoUpload   bool
		cleanupDays  int
		keepLatest   int
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change host backup settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if !anyChanged(cmd, "schedule-days", "auto-upload", "cleanup-days", "keep-latest") {
				return fmt.Errorf("nothing to change; see 'ledgerhost settings set --help'")
			}

			if flags.Changed("keep-latest") && keepLatest < 0 {
				return fmt.Errorf("--keep-latest must be >= 0")
			}

			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			settings, res := s.Service.UpdateSettings(cmd.Context(), func(st *backup.Settings) {
				if flags.Changed("schedule-days") {
					st.ScheduleDays = scheduleDays
				}

				if flags.Changed("auto-upload") {
					st.AutoUploadToDrive = autoUpload
				}

				if flags.Changed("cleanup-days") {
					st.UpdateCleanupDays = cleanupDays
				}

				if flags.Changed("keep-latest") {
					st.UpdateKeepLatest = keepLatest
				}
			})
			if !res.OK {
				return resultErr(res)
			}

			if flagJSON {
				return printJSON(os.Stdout, settings)
			}

			printSettings(settings)

			return nil
		},
	}

	cmd.Flags().IntVar(&scheduleDays, "schedule-days", backup.DefaultScheduleDays, "backup every 1, 3 or 7 days")
	cmd.Flags().BoolVar(&autoUpload, "auto-upload", false, "upload scheduled backups to Drive")
	cmd.Flags().IntVar(&cleanupDays, "cleanup-days", backup.DefaultUpdateCleanupDays, "delete downloaded installers after this many days")
	cmd.Flags().IntVar(&keepLatest, "keep-latest", backup.DefaultUpdateKeepLatest, "downloaded installers always kept")

	return cmd
}

func anyChanged(cmd *cobra.Command, names ...string) bool {
	for _, name := range names {
		if cmd.Flags().Changed(name) {
			return true
		}
	}

	return false
}
