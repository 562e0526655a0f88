// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/circkit/circpkg/internal/config"
	"github.com/circkit/circpkg/internal/metrics"
	"github.com/circkit/circpkg/pkg/graph"
	"github.com/circkit/circpkg/pkg/retriever"
	"github.com/circkit/circpkg/pkg/store"
)

type (
	// App wires CLI services and shared dependencies. Every command handler receives
	// the App and builds its environment through it.
	App struct {
		Config config.Provider
		FS     afero.Fs
		stdout io.Writer
		stderr io.Writer

		configPath string
		verbose    bool
	}

	// Dependencies defines the injection points for building an App. Nil fields are
	// replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		FS     afero.Fs
		Stdout io.Writer
		Stderr io.Writer
	}

	// environment is what a command needs once configuration is known.
	environment struct {
		cfg       *config.Config
		logger    *log.Logger
		store     *store.DiskStore
		retriever retriever.Retriever
		metrics   *metrics.Metrics
	}
)

// NewApp builds an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{Config: deps.Config, FS: deps.FS, stdout: deps.Stdout, stderr: deps.Stderr}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.FS == nil {
		app.FS = afero.NewOsFs()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// loadConfig applies the global --config flag.
func (a *App) loadConfig(ctx context.Context) (*config.Config, string, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
}

// environment loads configuration and constructs the shared services.
func (a *App) environment(ctx context.Context) (*environment, error) {
	cfg, _, err := a.loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(a.stderr, log.Options{Prefix: config.AppName, ReportTimestamp: a.verbose})
	logger.SetLevel(cfg.Level())
	if a.verbose {
		logger.SetLevel(log.DebugLevel)
	}

	st, err := store.New(a.FS, cfg.CacheDir, store.WithExcludes(cfg.Excludes), store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", cfg.CacheDir, err)
	}

	return &environment{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		retriever: newRetriever(cfg, logger),
		metrics:   metrics.New(),
	}, nil
}

// builder returns a graph builder configured from the environment.
func (e *environment) builder(workers int, refresh bool) *graph.Builder {
	if workers <= 0 {
		workers = e.cfg.Workers
	}
	return &graph.Builder{
		Store:        e.store,
		Retriever:    e.retriever,
		Workers:      workers,
		FetchTimeout: e.cfg.FetchTimeout,
		Refresh:      refresh,
		Logger:       e.logger,
		Metrics:      e.metrics,
	}
}

// newRetriever routes "alias:" registry ids to the configured registries and everything
// else to the default registry, or to plain HTTPS Git when none is set.
func newRetriever(cfg *config.Config, logger *log.Logger) *retriever.Router {
	router := &retriever.Router{Routes: make(map[string]retriever.Retriever, len(cfg.Registries))}
	for alias, reg := range cfg.Registries {
		router.Routes[alias] = registryRetriever(alias, reg, logger)
	}
	if cfg.DefaultRegistry != "" {
		router.Default = router.Routes[cfg.DefaultRegistry]
	}
	if router.Default == nil {
		router.Default = retriever.NewGit(logger)
	}
	return router
}

func registryRetriever(alias string, reg config.Registry, logger *log.Logger) retriever.Retriever {
	base := strings.TrimSuffix(reg.BaseURL, "/")
	switch reg.Kind {
	case config.RegistryHTTP:
		return &retriever.HTTP{BaseURL: base, Alias: alias, Logger: logger}
	default:
		return &retriever.Git{
			URLFor: func(registry string) string {
				return base + "/" + strings.TrimPrefix(registry, alias+":")
			},
			Shallow: true,
			Logger:  logger,
		}
	}
}
