// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/circkit/circpkg/internal/issue"
	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/manifest"
)

func newManifestCommand(app *App) *cobra.Command {
	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect circuit.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var rewrite bool
	check := &cobra.Command{
		Use:   "check [dir]",
		Short: "Validate circuit.toml and its dependency declarations",
		Long: `Parse circuit.toml, upgrade older manifest shapes in memory, and check that
every dependency declares a usable source. Nothing is fetched.

With --rewrite, the manifest is written back in the current shape.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := packageDir(args)
			path := filepath.Join(dir, manifest.FileName)

			d, err := manifest.ParseFile(app.FS, path)
			if err != nil {
				return issue.ForResolution(err, "check manifest", path, "")
			}
			norm := depspec.Normalizer{BaseDir: dir, FS: app.FS}
			specs, err := norm.NormalizeAll(d)
			if err != nil {
				return issue.ForResolution(err, "check manifest", path, "")
			}

			for _, dg := range d.Diagnostics {
				fmt.Fprintln(app.stderr, WarningStyle.Render(dg.String()))
			}
			fmt.Fprintf(app.stdout, "%s %s %s\n", SuccessStyle.Render("ok"), NameStyle.Render(d.ID()), SubtitleStyle.Render(path))
			for _, s := range specs {
				fmt.Fprintf(app.stdout, "  %s\n", s)
			}

			if rewrite && len(d.Diagnostics) > 0 {
				data, err := manifest.Serialize(d)
				if err != nil {
					return err
				}
				if err := afero.WriteFile(app.FS, path, data, 0o644); err != nil {
					return issue.WrapWithContext(err, "rewrite manifest", path)
				}
				fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("rewrote"), path)
			}
			return nil
		},
	}
	check.Flags().BoolVar(&rewrite, "rewrite", false, "write the manifest back in the current shape")
	manifestCmd.AddCommand(check)
	return manifestCmd
}
