// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// RegistryGit clones registry ids as Git repositories under BaseURL.
	RegistryGit RegistryKind = "git"
	// RegistryHTTP downloads tar.gz archives from BaseURL.
	RegistryHTTP RegistryKind = "http"

	// DefaultWorkers bounds concurrent dependency expansion.
	DefaultWorkers = 4
	// DefaultFetchTimeout bounds a single retriever call.
	DefaultFetchTimeout = 60 * time.Second
	// DefaultLogLevel is used when neither the config nor --verbose set one.
	DefaultLogLevel = "warn"
)

var (
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidRegistryKind is returned for registry kinds other than git and http.
	ErrInvalidRegistryKind = errors.New("invalid registry kind")
)

type (
	// RegistryKind selects the retriever used for a registry alias.
	RegistryKind string

	// Registry maps a registry alias to a retriever.
	Registry struct {
		Kind    RegistryKind `json:"kind" mapstructure:"kind"`
		BaseURL string       `json:"base_url" mapstructure:"base_url"`
	}

	// Config is the resolved circpkg configuration.
	Config struct {
		// CacheDir is the root of the package cache.
		CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
		// Workers bounds concurrent dependency expansion.
		Workers int `json:"workers" mapstructure:"workers"`
		// FetchTimeout bounds each retriever call.
		FetchTimeout time.Duration `json:"fetch_timeout" mapstructure:"fetch_timeout"`
		// Excludes are doublestar patterns left out of fingerprints.
		Excludes []string `json:"excludes" mapstructure:"excludes"`
		LogLevel string   `json:"log_level" mapstructure:"log_level"`
		// DefaultRegistry names the alias used for registry ids without an "alias:"
		// prefix. Empty means plain HTTPS Git.
		DefaultRegistry string `json:"default_registry" mapstructure:"default_registry"`
		// Registries maps aliases used as "alias:rest" in network dependencies.
		Registries map[string]Registry `json:"registries" mapstructure:"registries"`
	}

	// InvalidConfigError collects the problems found by Validate.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

func (k RegistryKind) String() string { return string(k) }

// Validate returns ErrInvalidRegistryKind for unknown kinds.
func (k RegistryKind) Validate() error {
	switch k {
	case RegistryGit, RegistryHTTP:
		return nil
	default:
		return fmt.Errorf("%w %q (want git or http)", ErrInvalidRegistryKind, string(k))
	}
}

func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig for errors.Is compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks the constraints CUE cannot see once environment overrides apply.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.CacheDir) == "" {
		errs = append(errs, errors.New("cache_dir: must not be empty"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers: %d is not positive", c.Workers))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch_timeout: %s is not positive", c.FetchTimeout))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	for alias, r := range c.Registries {
		if err := r.Kind.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("registries.%s: %w", alias, err))
		}
	}
	if c.DefaultRegistry != "" {
		if _, ok := c.Registries[c.DefaultRegistry]; !ok {
			errs = append(errs, fmt.Errorf("default_registry: unknown registry %q", c.DefaultRegistry))
		}
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Level returns the configured log level, falling back to warn.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.WarnLevel
	}
	return lvl
}
