// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/circkit/circpkg/internal/issue"
	"github.com/circkit/circpkg/internal/watch"
	"github.com/circkit/circpkg/pkg/lockfile"
	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/report"
	"github.com/circkit/circpkg/pkg/resolver"
)

type resolveOptions struct {
	output      string
	refresh     bool
	locked      bool
	workers     int
	metricsFile string
	watch       bool
}

func newResolveCommand(app *App) *cobra.Command {
	var opts resolveOptions
	cmd := &cobra.Command{
		Use:   "resolve [dir]",
		Short: "Resolve dependencies and print the build order",
		Long: `Resolve the dependency tree of the package in dir (default: current directory).

Network dependencies are fetched into the cache on first use. The report lists one
version per package, dependencies first and the root last.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(opts.output)
			if err != nil {
				return err
			}
			if opts.watch {
				return watchResolution(cmd.Context(), app, packageDir(args), opts, format)
			}
			res, err := runResolution(cmd.Context(), app, packageDir(args), opts)
			if err != nil {
				return err
			}
			return writeReport(app, res.Report, format)
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "report format: text, json, yaml or markdown")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "re-fetch every network dependency")
	cmd.Flags().BoolVar(&opts.locked, "locked", false, "fail unless the resolution matches circuit.lock.cue")
	cmd.Flags().IntVarP(&opts.workers, "workers", "j", 0, "concurrent fetches (default from config)")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "re-resolve when a manifest or local source changes")
	return cmd
}

func newLockCommand(app *App) *cobra.Command {
	var opts resolveOptions
	cmd := &cobra.Command{
		Use:   "lock [dir]",
		Short: "Resolve dependencies and write " + lockfile.FileName,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := packageDir(args)
			res, err := runResolution(cmd.Context(), app, dir, opts)
			if err != nil {
				return err
			}
			path := filepath.Join(dir, lockfile.FileName)
			lf := lockfile.FromResolved(res.Resolved, time.Now())
			if err := lf.Save(app.FS, path); err != nil {
				return issue.WrapWithContext(err, "write lock file", path)
			}
			fmt.Fprintf(app.stdout, "%s %s (%d packages)\n", SuccessStyle.Render("locked"), path, len(lf.Packages))
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "re-fetch every network dependency")
	cmd.Flags().IntVarP(&opts.workers, "workers", "j", 0, "concurrent fetches (default from config)")
	return cmd
}

// runResolution drives one resolver session for the package in dir.
func runResolution(ctx context.Context, app *App, dir string, opts resolveOptions) (*resolver.Result, error) {
	env, err := app.environment(ctx)
	if err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(dir, manifest.FileName)

	b := env.builder(opts.workers, opts.refresh)
	b.FS = app.FS

	var lf *lockfile.LockFile
	if opts.locked {
		lockPath := filepath.Join(dir, lockfile.FileName)
		if lf, err = lockfile.Load(app.FS, lockPath); err != nil {
			return nil, issue.ForResolution(err, "load lock file", lockPath, "")
		}
		b.Pins = lf
	}

	sess := resolver.NewSession(b)
	sess.FS = app.FS
	sess.Logger = env.logger
	sess.Metrics = env.metrics

	res, err := sess.Run(ctx, manifestPath)
	if opts.metricsFile != "" {
		if werr := env.metrics.WriteFile(opts.metricsFile); werr != nil {
			env.logger.Warn("cannot write metrics", "path", opts.metricsFile, "err", werr)
		}
	}
	if err != nil {
		return nil, issue.ForResolution(err, "resolve dependencies", manifestPath, sess.ID.String())
	}
	if lf != nil {
		if err := lf.Check(res.Resolved); err != nil {
			return nil, issue.ForResolution(err, "verify lock file", filepath.Join(dir, lockfile.FileName), res.Report.ResolutionID)
		}
	}
	return res, nil
}

// watchResolution resolves once, then again whenever a manifest or circuit
// source under the package or one of its local dependencies changes. Failed
// resolutions are reported and watching continues.
func watchResolution(ctx context.Context, app *App, dir string, opts resolveOptions, format report.Format) error {
	resolveOnce := func(ctx context.Context) []string {
		res, err := runResolution(ctx, app, dir, opts)
		if err != nil {
			fmt.Fprintln(app.stderr, formatErrorForDisplay(err, app.verbose))
			return nil
		}
		if err := writeReport(app, res.Report, format); err != nil {
			fmt.Fprintln(app.stderr, ErrorStyle.Render(err.Error()))
		}
		return localRoots(res.Report)
	}
	roots := append([]string{dir}, resolveOnce(ctx)...)

	w, err := watch.New(watch.Config{
		Roots:  roots,
		Logger: log.New(app.stderr),
		OnChange: func(ctx context.Context, changed []string) error {
			fmt.Fprintf(app.stderr, "%s %d file(s) changed\n", SubtitleStyle.Render("watch"), len(changed))
			resolveOnce(ctx)
			return nil
		},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(app.stderr, "%s %s\n", SubtitleStyle.Render("watching"), strings.Join(w.Roots(), ", "))
	return w.Run(ctx)
}

// localRoots lists the directories of the packages read in place.
func localRoots(r *report.Report) []string {
	var out []string
	for _, p := range r.Packages {
		if strings.HasPrefix(p.Source, "local:") {
			out = append(out, p.LocalPath)
		}
	}
	return out
}

func writeReport(app *App, r *report.Report, format report.Format) error {
	if format != report.FormatMarkdown {
		return r.Write(app.stdout, format, reportStyles())
	}
	out, err := glamour.Render(r.Markdown(), "auto")
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(app.stdout, out)
	return err
}

func packageDir(args []string) string {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "."
	}
	return args[0]
}
