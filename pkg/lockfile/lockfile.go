// SPDX-License-Identifier: MPL-2.0

// Package lockfile records a resolution so that later builds can reproduce it.
//
// The lock file is CUE. Packages are listed in build order, dependencies first and the
// root last, which is also the order tools that deploy a package tree consume them in.
package lockfile

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/circkit/circpkg/pkg/cueutil"
	"github.com/circkit/circpkg/pkg/depspec"
	"github.com/circkit/circpkg/pkg/fingerprint"
	"github.com/circkit/circpkg/pkg/resolver"
	"github.com/circkit/circpkg/pkg/store"
)

const (
	// FileName is the lock file name, next to circuit.toml.
	FileName = "circuit.lock.cue"
	// Version is the lock file format version written by this package.
	Version = 1

	header = "// Code generated by circpkg. DO NOT EDIT.\n\n"
)

var (
	//go:embed lockfile_schema.cue
	lockSchema []byte

	// ErrLockFile is the sentinel wrapped by every lock file load failure.
	ErrLockFile = errors.New("invalid lock file")
	// ErrDrift is the sentinel wrapped by DriftError.
	ErrDrift = errors.New("resolution differs from lock file")
)

type (
	// Package is one locked package.
	Package struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Source      string `json:"source"`
		Fingerprint string `json:"fingerprint,omitempty"`
	}

	// LockFile is a recorded resolution.
	LockFile struct {
		Version   int       `json:"version"`
		Generated time.Time `json:"generated"`
		Root      string    `json:"root"`
		// Packages are in build order.
		Packages []Package `json:"packages"`
	}

	// NamedPath is a package name and the directory holding its sources.
	NamedPath struct {
		Name string
		Path string
	}

	// DriftError reports packages whose resolution no longer matches the lock file.
	DriftError struct {
		Changes []string
	}

	// document mirrors the CUE schema; generated stays a string so the schema can
	// require it.
	document struct {
		Version   int       `json:"version"`
		Generated string    `json:"generated"`
		Root      string    `json:"root"`
		Packages  []Package `json:"packages"`
	}
)

func (e *DriftError) Error() string {
	return "resolution differs from lock file: " + strings.Join(e.Changes, "; ")
}

// Unwrap returns ErrDrift for errors.Is compatibility.
func (e *DriftError) Unwrap() error { return ErrDrift }

// FromResolved records rg, generated at now.
func FromResolved(rg *resolver.ResolvedGraph, now time.Time) *LockFile {
	lf := &LockFile{Version: Version, Generated: now.UTC().Truncate(time.Second), Root: string(rg.Root)}
	for _, p := range rg.InOrder() {
		lf.Packages = append(lf.Packages, Package{
			Name:        string(p.Name),
			Version:     p.Version.String(),
			Source:      p.Key.Source,
			Fingerprint: string(p.Fingerprint),
		})
	}
	return lf
}

// Load reads and validates the lock file at path.
func Load(fsys afero.Fs, path string) (*LockFile, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLockFile, err)
	}
	res, err := cueutil.ParseAndDecode[document](lockSchema, data, "#LockFile", cueutil.WithFilename(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLockFile, err)
	}
	doc := res.Value
	generated, err := time.Parse(time.RFC3339, doc.Generated)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: generated: %w", ErrLockFile, path, err)
	}
	lf := &LockFile{Version: doc.Version, Generated: generated, Root: doc.Root, Packages: doc.Packages}
	for _, p := range lf.Packages {
		if _, err := depspec.ParseKey(p.Name + "@" + p.Source); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLockFile, path, err)
		}
		if p.Fingerprint == "" && strings.HasPrefix(p.Source, string(depspec.SourceNetwork)+":") {
			return nil, fmt.Errorf("%w: %s: network package %s has no fingerprint", ErrLockFile, path, p.Name)
		}
	}
	return lf, nil
}

// Marshal renders the lock file as formatted CUE.
func (lf *LockFile) Marshal() ([]byte, error) {
	doc := document{
		Version:   lf.Version,
		Generated: lf.Generated.UTC().Format(time.RFC3339),
		Root:      lf.Root,
		Packages:  lf.Packages,
	}
	v := cuecontext.New().Encode(doc)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("encode lock file: %w", err)
	}
	node := v.Syntax()
	if st, ok := node.(*ast.StructLit); ok {
		node = &ast.File{Decls: st.Elts}
	}
	out, err := format.Node(node, format.Simplify())
	if err != nil {
		return nil, fmt.Errorf("format lock file: %w", err)
	}
	return append([]byte(header), out...), nil
}

// Save writes the lock file to path, replacing any previous one atomically.
func (lf *LockFile) Save(fsys afero.Fs, path string) error {
	data, err := lf.Marshal()
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString())
	if err := afero.WriteFile(fsys, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// Pinned returns the locked fingerprint of key. Local packages are never pinned.
func (lf *LockFile) Pinned(key depspec.CanonicalKey) (fingerprint.Digest, bool) {
	for _, p := range lf.Packages {
		if p.Name == string(key.Name) && p.Source == key.Source && p.Fingerprint != "" {
			return fingerprint.Digest(p.Fingerprint), true
		}
	}
	return "", false
}

// Check compares a fresh resolution with the lock file.
func (lf *LockFile) Check(rg *resolver.ResolvedGraph) error {
	locked := make(map[string]Package, len(lf.Packages))
	for _, p := range lf.Packages {
		locked[p.Name] = p
	}

	var changes []string
	for _, p := range rg.InOrder() {
		name := string(p.Name)
		l, ok := locked[name]
		switch {
		case !ok:
			changes = append(changes, name+" added")
		case l.Version != p.Version.String():
			changes = append(changes, fmt.Sprintf("%s %s -> %s", name, l.Version, p.Version))
		case l.Source != p.Key.Source:
			changes = append(changes, fmt.Sprintf("%s source %s -> %s", name, l.Source, p.Key.Source))
		}
		delete(locked, name)
	}
	for _, p := range lf.Packages {
		if _, gone := locked[p.Name]; gone {
			changes = append(changes, p.Name+" removed")
		}
	}
	if len(changes) > 0 {
		return &DriftError{Changes: changes}
	}
	return nil
}

// LocalPaths returns every locked package with the directory holding its sources, in
// build order. Network packages are looked up in st.
func (lf *LockFile) LocalPaths(st store.Store) ([]NamedPath, error) {
	out := make([]NamedPath, 0, len(lf.Packages))
	for _, p := range lf.Packages {
		key, err := depspec.ParseKey(p.Name + "@" + p.Source)
		if err != nil {
			return nil, err
		}
		if key.IsLocal() {
			out = append(out, NamedPath{Name: p.Name, Path: strings.TrimPrefix(p.Source, string(depspec.SourceLocal)+":")})
			continue
		}
		e, ok := st.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
		}
		if e.Fingerprint != fingerprint.Digest(p.Fingerprint) {
			return nil, &store.FingerprintConflict{Key: key, Existing: e.Fingerprint, Fetched: fingerprint.Digest(p.Fingerprint)}
		}
		out = append(out, NamedPath{Name: p.Name, Path: e.Path})
	}
	return out, nil
}

// Exists reports whether a lock file is present at path.
func Exists(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}
