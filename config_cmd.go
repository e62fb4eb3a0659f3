package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerhost/ledgerhost/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if flagJSON {
		redacted := *resolvedCfg
		if redacted.OAuth.ClientSecret != "" {
			redacted.OAuth.ClientSecret = "(set)"
		}

		if redacted.Federation.APIKey != "" {
			redacted.Federation.APIKey = "(set)"
		}

		return printJSON(os.Stdout, redacted)
	}

	return config.RenderEffective(resolvedCfg, os.Stdout)
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		RunE:  runConfigInit,
	}
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := config.ResolveConfigPath(config.ReadEnvOverrides(), cliOverrides(cmd))
	if path == "" {
		return fmt.Errorf("cannot determine config path; pass --config")
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}

	statusf("Wrote %s\n", path)

	return nil
}
