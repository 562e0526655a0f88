// SPDX-License-Identifier: MPL-2.0

package depspec

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/spf13/afero"

	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/semver"
)

// Normalizer resolves declared dependencies of one manifest.
type Normalizer struct {
	// BaseDir is the directory of the declaring manifest; relative paths resolve against it.
	BaseDir string
	// FS is used to check that local sources contain a manifest. Nil means the OS filesystem.
	FS afero.Fs
	// EvalSymlinks resolves symbolic links. Nil means filepath.EvalSymlinks.
	EvalSymlinks func(string) (string, error)
}

// Normalize validates dep and returns its normalized specifier.
func (n Normalizer) Normalize(dep manifest.Dependency) (Spec, error) {
	fail := func(reason string, err error) (Spec, error) {
		return Spec{}, &Error{Dependency: dep.Name, Requirement: dep.Version, Reason: reason, Err: err}
	}

	if err := dep.Name.Validate(); err != nil {
		return fail("invalid name", err)
	}

	req, err := semver.ParseRequirement(dep.Version)
	if err != nil {
		return fail("invalid requirement", err)
	}

	hasPath := strings.TrimSpace(dep.Path) != ""
	hasNetwork := strings.TrimSpace(dep.Network) != ""
	switch {
	case hasPath && hasNetwork:
		return fail("both path and network sources are set", nil)
	case !hasPath && !hasNetwork:
		return fail("no source: set exactly one of path or network", nil)
	}

	spec := Spec{Name: dep.Name, Requirement: req, Refresh: dep.Refresh}

	if hasPath {
		if strings.TrimSpace(dep.Revision) != "" {
			return fail("revision is only valid for network sources", nil)
		}
		dir, err := n.localDir(dep.Path)
		if err != nil {
			return fail("cannot resolve local path "+dep.Path, err)
		}
		exists, err := afero.Exists(n.fs(), filepath.Join(dir, manifest.FileName))
		if err != nil {
			return fail("cannot stat local manifest", err)
		}
		if !exists {
			return fail("local path "+dir+" does not contain "+manifest.FileName, nil)
		}
		spec.Source = Source{Kind: SourceLocal, Path: dir}
		return spec, nil
	}

	registry := CanonicalRegistry(dep.Network)
	if registry == "" {
		return fail("empty registry identifier", nil)
	}
	if strings.ContainsAny(registry, "#@") {
		return fail("registry identifier "+registry+" contains '#' or '@'; set the revision field instead", nil)
	}
	revision := strings.TrimSpace(dep.Revision)
	if strings.Contains(revision, "#") {
		return fail("revision "+revision+" contains '#'", nil)
	}
	spec.Source = Source{Kind: SourceNetwork, Registry: registry, Revision: revision}
	return spec, nil
}

// NormalizeAll normalizes every dependency of d, in declaration (name) order.
func (n Normalizer) NormalizeAll(d *manifest.Descriptor) ([]Spec, error) {
	specs := make([]Spec, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		s, err := n.Normalize(dep)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// CanonicalRegistry reduces a registry identifier to its canonical form: lowercase, no
// whitespace, no URL scheme, no trailing "/" or ".git".
//
//	" HTTPS://GitHub.com/CircKit/Hash.git/ " -> "github.com/circkit/hash"
func CanonicalRegistry(id string) string {
	id = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, id)
	if i := strings.Index(id, "://"); i >= 0 {
		id = id[i+3:]
	}
	for {
		trimmed := strings.TrimSuffix(strings.TrimSuffix(id, "/"), ".git")
		if trimmed == id {
			return id
		}
		id = trimmed
	}
}

func (n Normalizer) localDir(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(n.BaseDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	eval := n.EvalSymlinks
	if eval == nil {
		eval = filepath.EvalSymlinks
	}
	return eval(abs)
}

func (n Normalizer) fs() afero.Fs {
	if n.FS == nil {
		return afero.NewOsFs()
	}
	return n.FS
}
