// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/circkit/circpkg/internal/issue"
	"github.com/circkit/circpkg/pkg/lockfile"
)

func newPathsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "paths [dir]",
		Short: "Print the source directory of every locked package in build order",
		Long: `Read ` + lockfile.FileName + ` in dir and print one "name path" line per package,
dependencies first and the root last. Network packages must already be in the cache
with the locked fingerprint. Nothing is fetched or resolved.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lockPath := filepath.Join(packageDir(args), lockfile.FileName)
			if !lockfile.Exists(app.FS, lockPath) {
				return issue.NewErrorContext().
					WithOperation("list package paths").
					WithResource(lockPath).
					WithSuggestion("Run 'circpkg lock' to create the lock file").
					BuildError()
			}
			lf, err := lockfile.Load(app.FS, lockPath)
			if err != nil {
				return issue.ForResolution(err, "load lock file", lockPath, "")
			}
			env, err := app.environment(cmd.Context())
			if err != nil {
				return err
			}
			paths, err := lf.LocalPaths(env.store)
			if err != nil {
				return issue.NewErrorContext().
					WithOperation("list package paths").
					WithResource(lockPath).
					WithSuggestion("Run 'circpkg resolve --locked' to fetch the locked packages").
					Wrap(err).
					BuildError()
			}
			for _, p := range paths {
				fmt.Fprintf(app.stdout, "%s %s\n", NameStyle.Render(p.Name), p.Path)
			}
			return nil
		},
	}
}
