// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/circkit/circpkg/internal/config"
)

// newConfigCommand creates the `circpkg config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Show circpkg configuration",
		Long: `Show circpkg configuration.

Configuration is read from $XDG_CONFIG_HOME/circpkg/config.cue and can be
overridden with CIRCPKG_* environment variables (CIRCPKG_CACHE_DIR, CIRCPKG_WORKERS, ...).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := app.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintln(app.stdout, SubtitleStyle.Render("// source: "+path))
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.configPath != "" {
				fmt.Fprintln(app.stdout, app.configPath)
				return nil
			}
			fmt.Fprintln(app.stdout, filepath.Join(config.ConfigDir(), config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	return cfgCmd
}
