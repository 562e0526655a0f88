// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/circkit/circpkg/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "circpkg",
		Short: "Resolve circuit package dependencies",
		Long: TitleStyle.Render("circpkg") + SubtitleStyle.Render(" - circuit package manifests and dependency resolution") + `

circpkg reads circuit.toml, fetches network dependencies into a local cache,
selects one version per package and reports the build order.

` + SubtitleStyle.Render("Examples:") + `
  circpkg resolve                 Resolve the package in the current directory
  circpkg resolve -o json ./adder Print the resolution as JSON
  circpkg lock                    Write circuit.lock.cue
  circpkg manifest check          Validate circuit.toml
  circpkg cache list              List cached packages`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/circpkg/config.cue)")

	root.AddCommand(newResolveCommand(app))
	root.AddCommand(newLockCommand(app))
	root.AddCommand(newPathsCommand(app))
	root.AddCommand(newManifestCommand(app))
	root.AddCommand(newCacheCommand(app))
	root.AddCommand(newConfigCommand(app))
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, app *App, args []string) int {
	root := NewRootCommand(app)
	root.SetArgs(args)

	err := fang.Execute(
		ctx,
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			fmt.Fprintln(w, formatErrorForDisplay(err, app.verbose))
		}),
	)
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// Main is the process entry point.
func Main() {
	os.Exit(Execute(context.Background(), NewApp(Dependencies{}), os.Args[1:]))
}

// formatErrorForDisplay formats an error for user display. ActionableErrors carry their
// suggestions; in verbose mode the matching issue guidance is appended.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		return ErrorStyle.Render("Error: ") + err.Error()
	}
	msg := ErrorStyle.Render("Error: ") + ae.Format(verboseMode)
	if !verboseMode {
		return msg
	}
	if ae.Issue != 0 {
		if guide, rerr := issue.Get(ae.Issue).Render("auto"); rerr == nil {
			msg += "\n" + guide
		}
	}
	return msg
}
