// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/circkit/circpkg/pkg/diag"
)

const (
	// FileName is the manifest file name at the root of every package.
	FileName = "circuit.toml"

	// CurrentSchema is the manifest shape produced by Serialize and expected after refactoring.
	CurrentSchema = 2
)

var (
	//go:embed manifest_schema.cue
	manifestSchema []byte

	// ErrInvalidPackageName is the sentinel wrapped by InvalidPackageNameError.
	ErrInvalidPackageName = errors.New("invalid package name")

	packageNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

type (
	// PackageName identifies a package within its registry namespace.
	// Only ASCII letters, digits, hyphens and underscores are allowed.
	PackageName string

	// InvalidPackageNameError is returned when a PackageName has a disallowed form.
	InvalidPackageNameError struct {
		Value PackageName
	}

	// Dependency is a dependency entry as declared in a manifest, before normalization.
	Dependency struct {
		// Name is the table key under [dependencies].
		Name PackageName `json:"-" toml:"-"`
		// Version is the version requirement ("1.2.3", "^1.0", ">=1.0.0, <2.0.0", "*").
		Version string `json:"version,omitempty" toml:"version,omitempty"`
		// Path selects a local source, relative to the declaring manifest.
		Path string `json:"path,omitempty" toml:"path,omitempty"`
		// Network selects a network source by registry identifier.
		Network string `json:"network,omitempty" toml:"network,omitempty"`
		// Revision pins a network source to a tag, branch or commit (optional).
		Revision string `json:"revision,omitempty" toml:"revision,omitempty"`
		// Refresh forces the cached copy to be invalidated and fetched again.
		Refresh bool `json:"refresh,omitempty" toml:"refresh,omitempty"`
	}

	// Descriptor is a parsed and validated package manifest.
	Descriptor struct {
		Name    PackageName
		Version string
		License string
		Authors []string
		// Dependencies are sorted by name.
		Dependencies []Dependency

		// FilePath is where the manifest was read from (not serialized).
		FilePath string
		// Diagnostics are non-fatal findings from parsing (not serialized).
		Diagnostics []diag.Diagnostic
	}
)

func (e *InvalidPackageNameError) Error() string {
	return fmt.Sprintf("invalid package name %q (allowed: letters, digits, '-' and '_')", e.Value)
}

// Unwrap returns ErrInvalidPackageName for errors.Is compatibility.
func (e *InvalidPackageNameError) Unwrap() error { return ErrInvalidPackageName }

// Validate returns nil if the name is non-empty and uses only the allowed charset.
func (n PackageName) Validate() error {
	if !packageNamePattern.MatchString(string(n)) {
		return &InvalidPackageNameError{Value: n}
	}
	return nil
}

// String returns the string representation of the PackageName.
func (n PackageName) String() string { return string(n) }

// IsLocal reports whether the dependency declares a local path source.
func (d Dependency) IsLocal() bool { return d.Path != "" }

// String renders the dependency the way error messages refer to it.
func (d Dependency) String() string {
	req := d.Version
	if strings.TrimSpace(req) == "" {
		req = "*"
	}
	switch {
	case d.Path != "":
		return fmt.Sprintf("%s %s (path %s)", d.Name, req, d.Path)
	case d.Revision != "":
		return fmt.Sprintf("%s %s (network %s#%s)", d.Name, req, d.Network, d.Revision)
	default:
		return fmt.Sprintf("%s %s (network %s)", d.Name, req, d.Network)
	}
}

// ID returns "name@version".
func (d *Descriptor) ID() string {
	return fmt.Sprintf("%s@%s", d.Name, d.Version)
}

// Dependency returns the declared dependency with the given name.
func (d *Descriptor) Dependency(name PackageName) (Dependency, bool) {
	i := slices.IndexFunc(d.Dependencies, func(dep Dependency) bool { return dep.Name == name })
	if i < 0 {
		return Dependency{}, false
	}
	return d.Dependencies[i], true
}

func sortDependencies(deps []Dependency) {
	slices.SortFunc(deps, func(a, b Dependency) int {
		return strings.Compare(string(a.Name), string(b.Name))
	})
}
