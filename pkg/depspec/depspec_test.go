// SPDX-License-Identifier: MPL-2.0

package depspec

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/circkit/circpkg/pkg/manifest"
)

func identity(p string) (string, error) { return p, nil }

func memNormalizer(t *testing.T, pkgDirs ...string) Normalizer {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, dir := range pkgDirs {
		if err := afero.WriteFile(fs, filepath.Join(dir, manifest.FileName), []byte("name = \"x\"\nversion = \"1.0.0\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return Normalizer{BaseDir: "/work/app", FS: fs, EvalSymlinks: identity}
}

func TestNormalize_Local(t *testing.T) {
	t.Parallel()

	n := memNormalizer(t, "/work/math")

	for _, p := range []string{"../math", "../math/", "./../app/../math", "/work/math"} {
		spec, err := n.Normalize(manifest.Dependency{Name: "math", Version: "^1.0", Path: p})
		if err != nil {
			t.Fatalf("Normalize(%q) error = %v", p, err)
		}
		want := CanonicalKey{Name: "math", Source: "local:/work/math"}
		if got := spec.Key(); got != want {
			t.Errorf("Normalize(%q).Key() = %v, want %v", p, got, want)
		}
		if !spec.IsLocal() || !spec.Key().IsLocal() {
			t.Errorf("Normalize(%q) not local", p)
		}
	}
}

func TestNormalize_LocalSymlinkSharesKey(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	realDir := filepath.Join(root, "math")
	if err := os.MkdirAll(realDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(realDir, manifest.FileName), []byte("name = \"math\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "math-link")
	if err := os.Symlink(realDir, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	n := Normalizer{BaseDir: root}
	a, err := n.Normalize(manifest.Dependency{Name: "math", Path: "math"})
	if err != nil {
		t.Fatalf("Normalize(realDir) error = %v", err)
	}
	b, err := n.Normalize(manifest.Dependency{Name: "math", Path: "math-link"})
	if err != nil {
		t.Fatalf("Normalize(link) error = %v", err)
	}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %v vs %v", a.Key(), b.Key())
	}
}

func TestNormalize_Network(t *testing.T) {
	t.Parallel()

	n := memNormalizer(t)
	tests := []struct {
		network  string
		revision string
		want     string
	}{
		{"github.com/circkit/hash", "", "network:github.com/circkit/hash"},
		{" HTTPS://GitHub.com/CircKit/Hash.git/ ", "", "network:github.com/circkit/hash"},
		{"github.com/circkit/ hash", " v1.0.0 ", "network:github.com/circkit/hash#v1.0.0"},
		{"mirror:Hash", "", "network:mirror:hash"},
	}
	for _, tt := range tests {
		spec, err := n.Normalize(manifest.Dependency{Name: "hash", Network: tt.network, Revision: tt.revision})
		if err != nil {
			t.Fatalf("Normalize(%q) error = %v", tt.network, err)
		}
		if spec.Key().Source != tt.want {
			t.Errorf("Normalize(%q).Key().Source = %q, want %q", tt.network, spec.Key().Source, tt.want)
		}
	}
}

func TestNormalize_RequirementNotInKey(t *testing.T) {
	t.Parallel()

	n := memNormalizer(t)
	a, err := n.Normalize(manifest.Dependency{Name: "hash", Version: "^1.0", Network: "example.org/hash"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := n.Normalize(manifest.Dependency{Name: "hash", Version: "=1.2.0", Network: "example.org/hash"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Key() != b.Key() {
		t.Errorf("requirement changed the key: %v vs %v", a.Key(), b.Key())
	}
}

func TestNormalize_Errors(t *testing.T) {
	t.Parallel()

	n := memNormalizer(t)
	tests := []struct {
		name   string
		dep    manifest.Dependency
		wantIn string
	}{
		{"both sources", manifest.Dependency{Name: "a", Path: "../a", Network: "x.org/a"}, "both"},
		{"no source", manifest.Dependency{Name: "a"}, "no source"},
		{"empty registry", manifest.Dependency{Name: "a", Network: "https:// /"}, "empty registry"},
		{"bad requirement", manifest.Dependency{Name: "a", Version: "banana", Network: "x.org/a"}, "invalid requirement"},
		{"missing local manifest", manifest.Dependency{Name: "a", Path: "../nowhere"}, "does not contain"},
		{"revision on local", manifest.Dependency{Name: "a", Path: "../a", Revision: "v1"}, "revision"},
		{"bad name", manifest.Dependency{Name: "a b", Network: "x.org/a"}, "invalid name"},
		{"revision smuggled in registry", manifest.Dependency{Name: "a", Network: "example.org/x#evil"}, "contains '#' or '@'"},
		{"user in registry", manifest.Dependency{Name: "a", Network: "git@example.org/x"}, "contains '#' or '@'"},
		{"hash in revision", manifest.Dependency{Name: "a", Network: "example.org/x", Revision: "v1#v2"}, "revision v1#v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := n.Normalize(tt.dep)
			if !errors.Is(err, ErrSpec) {
				t.Fatalf("Normalize() error = %v, want ErrSpec", err)
			}
			var serr *Error
			if !errors.As(err, &serr) || serr.Dependency != tt.dep.Name {
				t.Errorf("error does not name dependency %q: %v", tt.dep.Name, err)
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error %q does not contain %q", err, tt.wantIn)
			}
		})
	}
}

func TestCanonicalKey_DirAndParse(t *testing.T) {
	t.Parallel()

	k := CanonicalKey{Name: "hash", Source: "network:github.com/circkit/hash#v1"}
	dir := k.Dir()
	if !strings.HasPrefix(dir, "hash-") || len(dir) != len("hash-")+keyDirHashLen {
		t.Errorf("Dir() = %q", dir)
	}
	other := CanonicalKey{Name: "hash", Source: "network:github.com/circkit/hash#v2"}
	if other.Dir() == dir {
		t.Error("distinct sources share a cache directory")
	}

	parsed, err := ParseKey(k.String())
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	if parsed != k {
		t.Errorf("ParseKey(String()) = %v, want %v", parsed, k)
	}
	reg, rev, ok := k.Registry()
	if !ok || reg != "github.com/circkit/hash" || rev != "v1" {
		t.Errorf("Registry() = %q, %q, %v", reg, rev, ok)
	}

	for _, bad := range []string{"hash", "hash@", "hash@ftp:x", "a b@local:/x"} {
		if _, err := ParseKey(bad); err == nil {
			t.Errorf("ParseKey(%q) expected error", bad)
		}
	}
}
