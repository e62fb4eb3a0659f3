package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerhost/ledgerhost/internal/host"
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for, download and install application updates",
	}

	cmd.AddCommand(newUpdateCheckCmd())
	cmd.AddCommand(newUpdateDownloadCmd())
	cmd.AddCommand(newUpdateInstallCmd())
	cmd.AddCommand(newUpdateCleanupCmd())

	return cmd
}

// updateCheckOutput is the JSON schema for `update check --json`.
type updateCheckOutput struct {
	Current      string `json:"current"`
	Latest       string `json:"latest"`
	Available    bool   `json:"available"`
	Supported    bool   `json:"supported"`
	Source       string `json:"source"`
	ReleaseNotes string `json:"release_notes,omitempty"`
}

func newUpdateCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the running version with the newest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			info, res := s.Service.CheckForUpdate(cmd.Context())
			if !res.OK {
				return resultErr(res)
			}

			if flagJSON {
				return printJSON(os.Stdout, updateCheckOutput{
					Current:      info.Current,
					Latest:       info.Latest,
					Available:    info.Available,
					Supported:    info.Supported,
					Source:       info.Source,
					ReleaseNotes: info.Manifest.ReleaseNotes,
				})
			}

			printUpdateInfo(info)

			return nil
		},
	}
}

func printUpdateInfo(info host.UpdateInfo) {
	current := info.Current
	if current == "" {
		current = "unknown"
	}

	fmt.Printf("Installed: %s\n", current)
	fmt.Printf("Latest:    %s\n", info.Latest)

	switch {
	case !info.Supported:
		fmt.Println("This version is no longer supported; please update.")
	case info.Available:
		fmt.Println("An update is available. Run 'ledgerhost update download'.")
	default:
		fmt.Println("You are up to date.")
	}

	if info.Available && info.Manifest.ReleaseNotes != "" {
		fmt.Printf("\n%s\n", info.Manifest.ReleaseNotes)
	}
}

func newUpdateDownloadCmd() *cobra.Command {
	var install bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and verify the newest installer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			info, res := s.Service.CheckForUpdate(cmd.Context())
			if !res.OK {
				return resultErr(res)
			}

			if !info.Available {
				statusf("You are up to date (%s).\n", info.Current)
				return nil
			}

			last := -1
			path, res := s.Service.DownloadUpdate(cmd.Context(), info.Manifest, func(pct int) {
				if pct != last {
					last = pct
					statusf("\rDownloading %s: %3d%%", info.Latest, pct)
				}
			})
			statusf("\n")

			if !res.OK {
				return resultErr(res)
			}

			fmt.Println(path)

			if install {
				return resultErr(s.Service.InstallUpdate(cmd.Context(), path))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&install, "install", false, "launch the installer after a verified download")

	return cmd
}

func newUpdateInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <installer-path>",
		Short: "Launch a downloaded installer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			return resultErr(s.Service.InstallUpdate(cmd.Context(), args[0]))
		},
	}
}

func newUpdateCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale downloaded installers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			_, res := s.Service.CleanupInstallers(cmd.Context())

			return resultErr(res)
		},
	}
}
