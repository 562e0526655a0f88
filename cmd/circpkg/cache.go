// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/circkit/circpkg/internal/issue"
	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/store"
)

func newCacheCommand(app *App) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the package cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.environment(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := env.store.Entries()
			if err != nil {
				return issue.WrapWithContext(err, "list cache", env.cfg.CacheDir)
			}
			if len(entries) == 0 {
				fmt.Fprintln(app.stdout, SubtitleStyle.Render("cache is empty: "+env.cfg.CacheDir))
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(app.stdout, "%s  %s  %s\n",
					NameStyle.Render(e.Key.String()), e.Fingerprint.Short(), SubtitleStyle.Render(e.VerifiedAt.Format(time.RFC3339)))
			}
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Recompute fingerprints and drop entries that no longer match",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.environment(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := env.store.Entries()
			if err != nil {
				return issue.WrapWithContext(err, "verify cache", env.cfg.CacheDir)
			}
			stale := 0
			for _, e := range entries {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				_, err := env.store.Verify(e.Key)
				switch {
				case err == nil:
					fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("ok   "), e.Key)
				case errors.Is(err, store.ErrStale):
					stale++
					fmt.Fprintf(app.stdout, "%s %s (invalidated)\n", WarningStyle.Render("stale"), e.Key)
				default:
					return issue.WrapWithContext(err, "verify cache entry", e.Key.String())
				}
			}
			if stale > 0 {
				return &ExitError{Code: 1, Err: fmt.Errorf("%d stale cache entries invalidated", stale)}
			}
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "invalidate <key>",
		Short: "Remove one cache entry",
		Long: `Remove the cache entry for key, written as name@source, e.g.
  hash@network:github.com/circkit/hash#v1.0.0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := depspec.ParseKey(args[0])
			if err != nil {
				return issue.NewErrorContext().
					WithOperation("invalidate cache entry").
					WithResource(args[0]).
					WithSuggestion("Copy the key from 'circpkg cache list'").
					Wrap(err).
					BuildError()
			}
			env, err := app.environment(cmd.Context())
			if err != nil {
				return err
			}
			if _, ok := env.store.Lookup(key); !ok {
				return issue.WrapWithContext(store.ErrNotFound, "invalidate cache entry", key.String())
			}
			if err := env.store.Invalidate(key); err != nil {
				return issue.WrapWithContext(err, "invalidate cache entry", key.String())
			}
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("invalidated"), key)
			return nil
		},
	})

	return cacheCmd
}
