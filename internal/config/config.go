// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/circkit/circpkg/internal/issue"
	"github.com/circkit/circpkg/pkg/cueutil"
	"github.com/circkit/circpkg/pkg/fingerprint"
)

const (
	// AppName is the application name.
	AppName = "circpkg"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CIRCPKG"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the circpkg configuration directory under the XDG config home.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		CacheDir:     filepath.Join(xdg.CacheHome, AppName),
		Workers:      DefaultWorkers,
		FetchTimeout: DefaultFetchTimeout,
		Excludes:     slices.Clone(fingerprint.DefaultExcludes),
		LogLevel:     DefaultLogLevel,
		Registries:   map[string]Registry{},
	}
}

// loadWithOptions performs option-driven config loading. It returns the config and the
// path of the file it was read from, empty when only defaults and environment applied.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("cache_dir", defaults.CacheDir)
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("fetch_timeout", defaults.FetchTimeout)
	v.SetDefault("excludes", defaults.Excludes)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("default_registry", defaults.DefaultRegistry)
	v.SetDefault("registries", map[string]any{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""
	switch {
	case opts.ConfigFilePath != "":
		// An explicit --config file must exist.
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'circpkg config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	default:
		dir := opts.ConfigDirPath
		if dir == "" {
			dir = ConfigDir()
		}
		if p := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt); fileExists(p) {
			resolvedPath = p
		}
		// No config file means defaults plus environment.
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Registries == nil {
		cfg.Registries = map[string]Registry{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check CIRCPKG_* environment variables for invalid values").
			WithSuggestion("Ensure default_registry names an entry of registries").
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// Note: This uses manual CUE parsing instead of cueutil.ParseAndDecode because the
// result is merged into Viper as a map, keeping defaults and env overrides intact.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}
	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg as a config file accepted by Load.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// circpkg configuration\n\n")
	fmt.Fprintf(&sb, "cache_dir:     %q\n", cfg.CacheDir)
	fmt.Fprintf(&sb, "workers:       %d\n", cfg.Workers)
	fmt.Fprintf(&sb, "fetch_timeout: %q\n", cfg.FetchTimeout.String())
	fmt.Fprintf(&sb, "log_level:     %q\n", cfg.LogLevel)

	if len(cfg.Excludes) > 0 {
		sb.WriteString("\nexcludes: [\n")
		for _, e := range cfg.Excludes {
			fmt.Fprintf(&sb, "\t%q,\n", e)
		}
		sb.WriteString("]\n")
	}

	if cfg.DefaultRegistry != "" {
		fmt.Fprintf(&sb, "\ndefault_registry: %q\n", cfg.DefaultRegistry)
	}

	if len(cfg.Registries) > 0 {
		aliases := make([]string, 0, len(cfg.Registries))
		for alias := range cfg.Registries {
			aliases = append(aliases, alias)
		}
		slices.Sort(aliases)
		sb.WriteString("\nregistries: {\n")
		for _, alias := range aliases {
			r := cfg.Registries[alias]
			fmt.Fprintf(&sb, "\t%q: {kind: %q, base_url: %q}\n", alias, r.Kind, r.BaseURL)
		}
		sb.WriteString("}\n")
	}

	return sb.String()
}
