// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/circkit/circpkg/pkg/cueutil"
	"github.com/circkit/circpkg/pkg/diag"
	"github.com/circkit/circpkg/pkg/semver"
)

var (
	knownTopLevel = map[string]struct{}{
		"schema": {}, "name": {}, "version": {}, "license": {}, "authors": {}, "dependencies": {},
	}
	knownDependency = map[string]struct{}{
		"version": {}, "path": {}, "network": {}, "revision": {}, "refresh": {},
	}
)

// document is the CUE-validated current-shape manifest.
type document struct {
	Schema       int                   `json:"schema"`
	Name         string                `json:"name"`
	Version      string                `json:"version"`
	License      string                `json:"license"`
	Authors      []string              `json:"authors"`
	Dependencies map[string]Dependency `json:"dependencies"`
}

// ParseFile reads and parses the manifest at path on fsys.
func ParseFile(fsys afero.Fs, path string) (*Descriptor, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Path: path, Reason: "manifest not found", Err: err}
		}
		return nil, &Error{Path: path, Reason: "cannot read manifest", Err: err}
	}
	return Parse(data, path)
}

// Parse parses manifest bytes. path is only used for messages and Descriptor.FilePath.
func Parse(data []byte, path string) (*Descriptor, error) {
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, displayPath(path)); err != nil {
		return nil, &Error{Path: path, Reason: "manifest too large", Err: err}
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, &Error{Path: path, Reason: fmt.Sprintf("malformed TOML at line %d, column %d: %s", row, col, derr.Error())}
		}
		return nil, &Error{Path: path, Reason: "malformed TOML", Err: err}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	doc, diags, err := Refactor(raw, path)
	if err != nil {
		return nil, err
	}

	for _, field := range []string{"name", "version"} {
		if _, ok := doc[field]; !ok {
			return nil, missing(path, field)
		}
	}

	diags = append(diags, stripUnknown(doc, path)...)

	res, err := cueutil.ValidateAndDecode[document](manifestSchema, doc, "#Manifest", cueutil.WithFilename(displayPath(path)))
	if err != nil {
		return nil, fromValidation(path, err)
	}
	d := res.Value

	name := PackageName(d.Name)
	if err := name.Validate(); err != nil {
		return nil, &Error{Path: path, Field: "name", Reason: "invalid name", Err: err}
	}
	if _, err := semver.ParseVersion(d.Version); err != nil {
		return nil, &Error{Path: path, Field: "version", Reason: "invalid version", Err: err}
	}

	desc := &Descriptor{
		Name:        name,
		Version:     d.Version,
		License:     d.License,
		FilePath:    path,
		Diagnostics: diags,
	}
	if len(d.Authors) > 0 {
		desc.Authors = slices.Clone(d.Authors)
	}
	for depName, dep := range d.Dependencies {
		dep.Name = PackageName(depName)
		if err := dep.Name.Validate(); err != nil {
			return nil, &Error{Path: path, Field: "dependencies." + depName, Reason: "invalid dependency name", Err: err}
		}
		if _, err := semver.ParseRequirement(dep.Version); err != nil {
			return nil, &Error{Path: path, Field: "dependencies." + depName + ".version", Reason: "invalid requirement", Err: err}
		}
		desc.Dependencies = append(desc.Dependencies, dep)
	}
	sortDependencies(desc.Dependencies)
	diag.Sort(desc.Diagnostics)

	return desc, nil
}

// stripUnknown removes fields the current schema does not define and reports each one.
// Unknown fields are tolerated so that newer manifests stay readable by older tools.
func stripUnknown(doc map[string]any, path string) []diag.Diagnostic {
	pkg := nameOf(doc)
	var diags []diag.Diagnostic

	for _, k := range sortedKeys(doc) {
		if _, ok := knownTopLevel[k]; !ok {
			delete(doc, k)
			diags = append(diags, diag.Warningf(diag.CodeUnknownField, pkg, "%s: unknown field %q ignored", displayPath(path), k))
		}
	}

	deps, ok := doc["dependencies"].(map[string]any)
	if !ok {
		return diags
	}
	for _, depName := range sortedKeys(deps) {
		entry, ok := deps[depName].(map[string]any)
		if !ok {
			continue
		}
		for _, k := range sortedKeys(entry) {
			if _, ok := knownDependency[k]; !ok {
				delete(entry, k)
				diags = append(diags, diag.Warningf(diag.CodeUnknownField, pkg,
					"%s: unknown field %q in dependency %q ignored", displayPath(path), k, depName))
			}
		}
	}
	return diags
}

// fromValidation maps the first CUE validation failure onto a manifest Error.
func fromValidation(path string, err error) error {
	var verr *cueutil.ValidationError
	if errors.As(err, &verr) {
		return &Error{Path: path, Field: verr.CUEPath, Reason: verr.Message, Err: err}
	}
	return &Error{Path: path, Reason: "schema validation failed", Err: err}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
