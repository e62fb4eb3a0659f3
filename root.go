package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerhost/ledgerhost/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// skipConfigCommands lists commands that must work before a valid config
// exists. Uses CommandPath() for explicit matching.
var skipConfigCommands = map[string]bool{
	"ledgerhost config init": true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ledgerhost",
		Short:   "Account, backup and update companion for the ledger desktop app",
		Long:    "Signs in with Google, keeps scheduled state backups in Drive, and installs application updates.",
		Version: version,
		// Silence Cobra's default error/usage printing; main prints errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			closeLogFile()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (tokens, backups, settings)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newSettingsCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDaemonCmd())

	return cmd
}

// cliOverrides collects the flags that take part in config resolution.
func cliOverrides(cmd *cobra.Command) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	// Only pass --data-dir to the resolver if the user explicitly set it.
	if cmd.Flags().Changed("data-dir") {
		dir := flagDataDir
		cli.DataDir = &dir
	}

	return cli
}

// loadConfig resolves the effective configuration from the four-layer override
// chain and stores the result in resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	resolved, err := config.Resolve(config.ReadEnvOverrides(), cliOverrides(cmd))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// A release build reports its own version unless the config pins one.
	if resolved.Update.CurrentVersion == "" && version != "dev" {
		resolved.Update.CurrentVersion = version
	}

	resolvedCfg = resolved

	return nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
